package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/conneroisu/coffeefilter/internal/logging"
)

// Remover drops cached artifacts by source key.
type Remover interface {
	Remove(key string) bool
}

// ChangeListener is told about every source key whose file changed.
type ChangeListener func(key string, eventType EventType)

// Invalidator turns change events for files under root into cache removals.
// Keys are the slash separated path below root with a leading slash, the
// same form the source store uses.
type Invalidator struct {
	root      string
	cache     Remover
	logger    logging.Logger
	mutex     sync.RWMutex
	listeners []ChangeListener
}

// NewInvalidator creates an Invalidator for the store rooted at root.
func NewInvalidator(root string, cache Remover, logger logging.Logger) (*Invalidator, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving watch root: %w", err)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Invalidator{
		root:   abs,
		cache:  cache,
		logger: logger.WithComponent("invalidator"),
	}, nil
}

// OnChange registers a listener.
func (i *Invalidator) OnChange(listener ChangeListener) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.listeners = append(i.listeners, listener)
}

// Key maps a filesystem path to its source key. Paths outside root do not
// map.
func (i *Invalidator) Key(path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(i.root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return "/" + filepath.ToSlash(rel), true
}

// Handle is a ChangeHandler. Every changed source loses its cache entry,
// whatever the kind of change, and listeners are notified.
func (i *Invalidator) Handle(events []ChangeEvent) error {
	ctx := context.Background()

	i.mutex.RLock()
	listeners := i.listeners
	i.mutex.RUnlock()

	for _, event := range events {
		key, ok := i.Key(event.Path)
		if !ok {
			i.logger.Debug(ctx, "Ignoring change outside root", "path", event.Path)
			continue
		}

		removed := i.cache.Remove(key)
		i.logger.Info(ctx, "Source changed", "source", key, "event", event.Type.String(), "evicted", removed)

		for _, listener := range listeners {
			listener(key, event.Type)
		}
	}
	return nil
}
