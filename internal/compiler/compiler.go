// Package compiler serialises access to the external source compiler.
//
// Compilers are treated as opaque and non-reentrant: a Gateway lets exactly
// one compilation run at a time across the whole process, whatever key is
// being compiled. Requests served from the cache never touch the gateway.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	ferrors "github.com/conneroisu/coffeefilter/internal/errors"
	"github.com/conneroisu/coffeefilter/internal/logging"
)

// Compiler turns source text into compiled text. Implementations need not
// be safe for concurrent use.
type Compiler interface {
	Compile(ctx context.Context, source string) (string, error)
}

// CompilerFunc adapts a function to the Compiler interface.
type CompilerFunc func(ctx context.Context, source string) (string, error)

// Compile calls f.
func (f CompilerFunc) Compile(ctx context.Context, source string) (string, error) {
	return f(ctx, source)
}

// Gateway guards a Compiler with a process-wide mutual exclusion and turns
// its failures into *errors.CompileError.
type Gateway struct {
	compiler Compiler
	slot     chan struct{}
	logger   logging.Logger

	compiles int64
	failures int64
	waiting  int64
}

// GatewayStats reports gateway counters.
type GatewayStats struct {
	Compiles int64 `json:"compiles" yaml:"compiles"`
	Failures int64 `json:"failures" yaml:"failures"`
	Waiting  int64 `json:"waiting" yaml:"waiting"`
}

// NewGateway wraps c. A nil logger discards output.
func NewGateway(c Compiler, logger logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Gateway{
		compiler: c,
		slot:     make(chan struct{}, 1),
		logger:   logger.WithComponent("compiler"),
	}
}

// Compile compiles source on behalf of key. Waiting for the compiler honours
// ctx; a compilation that has started runs until the compiler returns.
// Compiler rejections are returned as *errors.CompileError and are never
// retried.
func (g *Gateway) Compile(ctx context.Context, key, source string) (string, error) {
	atomic.AddInt64(&g.waiting, 1)
	select {
	case g.slot <- struct{}{}:
		atomic.AddInt64(&g.waiting, -1)
	case <-ctx.Done():
		atomic.AddInt64(&g.waiting, -1)
		return "", fmt.Errorf("waiting for compiler: %w", ctx.Err())
	}
	defer func() { <-g.slot }()

	atomic.AddInt64(&g.compiles, 1)
	op := logging.StartOperation(g.logger, "compile", "source", key, "bytes", len(source))

	compiled, err := g.compiler.Compile(ctx, source)
	if err != nil {
		atomic.AddInt64(&g.failures, 1)
		op.EndWithError(ctx, err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", ferrors.NewCompileError(key, err)
	}

	op.End(ctx)
	return compiled, nil
}

// Stats returns a snapshot of the gateway counters.
func (g *Gateway) Stats() GatewayStats {
	return GatewayStats{
		Compiles: atomic.LoadInt64(&g.compiles),
		Failures: atomic.LoadInt64(&g.failures),
		Waiting:  atomic.LoadInt64(&g.waiting),
	}
}
