package cache

import (
	"container/list"
	"fmt"
	"strings"
)

// Policy decides which key to drop when the cache is over capacity.
//
// The cache calls the policy while holding its own lock, so implementations
// need no synchronisation of their own.
type Policy interface {
	// OnGet is called for every hit.
	OnGet(key string)
	// OnPut is called for every insert or replace.
	OnPut(key string)
	// Remove is called when a key is removed explicitly.
	Remove(key string)
	// Evict picks a victim and forgets it. It returns false when empty.
	Evict() (string, bool)
	// Keys lists tracked keys, next victim last.
	Keys() []string
}

// PolicyType identifies an eviction strategy.
type PolicyType string

const (
	// LRU evicts the key that has gone longest without a get or put.
	LRU PolicyType = "lru"
	// FIFO evicts the oldest inserted key regardless of access.
	FIFO PolicyType = "fifo"
)

// ParsePolicyType validates a configured policy name.
func ParsePolicyType(s string) (PolicyType, error) {
	switch PolicyType(strings.ToLower(strings.TrimSpace(s))) {
	case "", LRU:
		return LRU, nil
	case FIFO:
		return FIFO, nil
	default:
		return "", fmt.Errorf("unknown eviction policy %q", s)
	}
}

// NewPolicy creates the policy for t. Unknown types fall back to LRU.
func NewPolicy(t PolicyType) Policy {
	switch t {
	case FIFO:
		return newOrderPolicy(false)
	default:
		return newOrderPolicy(true)
	}
}

// orderPolicy keeps keys in a list with the most recent at the front. With
// touchOnAccess it is LRU; without it, FIFO.
type orderPolicy struct {
	touchOnAccess bool
	order         *list.List
	nodes         map[string]*list.Element
}

func newOrderPolicy(touchOnAccess bool) *orderPolicy {
	return &orderPolicy{
		touchOnAccess: touchOnAccess,
		order:         list.New(),
		nodes:         make(map[string]*list.Element),
	}
}

func (p *orderPolicy) OnGet(key string) {
	if !p.touchOnAccess {
		return
	}
	if el, ok := p.nodes[key]; ok {
		p.order.MoveToFront(el)
	}
}

func (p *orderPolicy) OnPut(key string) {
	if el, ok := p.nodes[key]; ok {
		if p.touchOnAccess {
			p.order.MoveToFront(el)
		}
		return
	}
	p.nodes[key] = p.order.PushFront(key)
}

func (p *orderPolicy) Remove(key string) {
	if el, ok := p.nodes[key]; ok {
		p.order.Remove(el)
		delete(p.nodes, key)
	}
}

func (p *orderPolicy) Evict() (string, bool) {
	el := p.order.Back()
	if el == nil {
		return "", false
	}
	key := el.Value.(string)
	p.order.Remove(el)
	delete(p.nodes, key)
	return key, true
}

func (p *orderPolicy) Keys() []string {
	keys := make([]string, 0, p.order.Len())
	for el := p.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(string))
	}
	return keys
}
