package compiler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robertkrimen/otto"
)

// DefaultScriptNamespace is the global the compiler bundle defines.
const DefaultScriptNamespace = "CoffeeScript"

var errInterrupted = errors.New("compile interrupted")

// ScriptCompiler runs a JavaScript compiler bundle such as coffee-script.js
// inside an embedded otto VM. The VM is not safe for concurrent use; callers
// go through a Gateway.
type ScriptCompiler struct {
	vm        *otto.Otto
	namespace *otto.Object
	options   otto.Value
}

// ScriptOptions configures a ScriptCompiler.
type ScriptOptions struct {
	// Namespace is the global object exposing compile(source, options).
	Namespace string
	// Bare suppresses the top-level function safety wrapper.
	Bare bool
}

// NewScriptCompiler evaluates the compiler bundle and looks up its compile
// entry point.
func NewScriptCompiler(bundle []byte, opts ScriptOptions) (*ScriptCompiler, error) {
	if opts.Namespace == "" {
		opts.Namespace = DefaultScriptNamespace
	}

	vm := otto.New()
	vm.Interrupt = make(chan func(), 1)

	if _, err := vm.Run(string(bundle)); err != nil {
		return nil, fmt.Errorf("loading compiler bundle: %w", err)
	}

	ns, err := vm.Get(opts.Namespace)
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", opts.Namespace, err)
	}
	if !ns.IsObject() {
		return nil, fmt.Errorf("compiler bundle does not define %s", opts.Namespace)
	}

	compile, err := ns.Object().Get("compile")
	if err != nil || !compile.IsFunction() {
		return nil, fmt.Errorf("%s.compile is not a function", opts.Namespace)
	}

	options, err := vm.Object(fmt.Sprintf("({bare: %t})", opts.Bare))
	if err != nil {
		return nil, fmt.Errorf("building compile options: %w", err)
	}

	return &ScriptCompiler{
		vm:        vm,
		namespace: ns.Object(),
		options:   options.Value(),
	}, nil
}

// Compile calls <namespace>.compile(source, options). Cancelling ctx
// interrupts the VM.
func (c *ScriptCompiler) Compile(ctx context.Context, source string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			select {
			case c.vm.Interrupt <- func() { panic(errInterrupted) }:
			default:
			}
		case <-done:
		}
	}()

	compiled, err := c.call(source)

	close(done)
	wg.Wait()
	// Drop an interrupt that arrived after the call returned.
	select {
	case <-c.vm.Interrupt:
	default:
	}

	if errors.Is(err, errInterrupted) {
		return "", fmt.Errorf("%w: %w", errInterrupted, ctx.Err())
	}
	return compiled, err
}

func (c *ScriptCompiler) call(source string) (compiled string, err error) {
	defer func() {
		if caught := recover(); caught != nil {
			if caught == errInterrupted {
				err = errInterrupted
				return
			}
			panic(caught)
		}
	}()

	value, err := c.namespace.Call("compile", source, c.options)
	if err != nil {
		return "", err
	}
	return value.ToString()
}
