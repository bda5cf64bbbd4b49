// Package filter implements the compile-cache-serve request path.
//
// A Filter wraps a downstream handler. Requests for jsPrefix/<name>.js are
// answered with the compiled form of sourcePrefix/<name>.coffee; everything
// else, including scripts with no matching source, goes to the downstream
// handler unchanged.
//
// Per request:
//
//	resolve -> locate source -> cache lookup -> [miss or stale] compile -> serve
//
// A source that no longer exists has its cache entry removed before the
// request is passed through, so a deleted file never serves a ghost
// artifact. Compile failures answer 500 and are never cached.
package filter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/conneroisu/coffeefilter/internal/cache"
	"github.com/conneroisu/coffeefilter/internal/compiler"
	ferrors "github.com/conneroisu/coffeefilter/internal/errors"
	"github.com/conneroisu/coffeefilter/internal/logging"
	"github.com/conneroisu/coffeefilter/internal/resolver"
	"github.com/conneroisu/coffeefilter/internal/source"
	"github.com/conneroisu/coffeefilter/internal/types"
)

// ContentType is sent with every compiled script.
const ContentType = "text/javascript"

// Options holds the collaborators of a Filter.
type Options struct {
	Resolver *resolver.Resolver
	Store    source.Store
	Cache    *cache.ArtifactCache
	Gateway  *compiler.Gateway
	Logger   logging.Logger

	// SingleFlight shares one compilation between concurrent requests for
	// the same key.
	SingleFlight bool
	// CompileTimeout bounds a single compilation. Zero means no bound.
	CompileTimeout time.Duration
	// StartedAt stands in for the modification time of sources that have
	// none. Defaults to the construction time.
	StartedAt time.Time
}

// Filter serves compiled scripts in front of a downstream handler.
type Filter struct {
	resolver       *resolver.Resolver
	store          source.Store
	cache          *cache.ArtifactCache
	gateway        *compiler.Gateway
	logger         logging.Logger
	errors         *ferrors.ErrorHandler
	group          *singleflight.Group
	compileTimeout time.Duration
	startedAt      time.Time
}

// New validates opts and builds a Filter.
func New(opts Options) (*Filter, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("filter: source store is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("filter: artifact cache is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("filter: compiler gateway is required")
	}
	if opts.Resolver == nil {
		opts.Resolver = resolver.New("", "")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.StartedAt.IsZero() {
		opts.StartedAt = time.Now()
	}

	logger := opts.Logger.WithComponent("filter")
	f := &Filter{
		resolver:       opts.Resolver,
		store:          opts.Store,
		cache:          opts.Cache,
		gateway:        opts.Gateway,
		logger:         logger,
		errors:         ferrors.NewErrorHandler(logger),
		compileTimeout: opts.CompileTimeout,
		startedAt:      opts.StartedAt.Truncate(time.Second),
	}
	if opts.SingleFlight {
		f.group = &singleflight.Group{}
	}
	return f, nil
}

// Wrap returns a handler that serves compiled scripts and delegates
// everything else to next. A nil next answers 404.
func (f *Filter) Wrap(next http.Handler) http.Handler {
	if next == nil {
		next = http.NotFoundHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.serve(w, r, next)
	})
}

// StartedAt is the stand-in modification time for unversioned sources.
func (f *Filter) StartedAt() time.Time {
	return f.startedAt
}

func (f *Filter) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		next.ServeHTTP(w, r)
		return
	}

	key, ok := f.resolver.Resolve(r.URL.Path)
	if !ok {
		next.ServeHTTP(w, r)
		return
	}

	ctx := r.Context()

	if !f.store.Exists(key) {
		f.forget(ctx, key)
		next.ServeHTTP(w, r)
		return
	}

	artifact, err := f.artifact(ctx, key)
	if err != nil {
		// Nobody is left to answer.
		if errors.Is(err, context.Canceled) {
			f.logger.Debug(ctx, "Client went away while waiting for compile", "source", key)
			return
		}

		f.errors.Handle(ctx, err)
		switch {
		case ferrors.IsNotFound(err):
			f.forget(ctx, key)
			next.ServeHTTP(w, r)
		case ferrors.IsCompileError(err):
			http.Error(w, err.Error(), http.StatusInternalServerError)
		case errors.Is(err, context.DeadlineExceeded):
			http.Error(w, "Compilation timed out on file: "+key, http.StatusInternalServerError)
		default:
			http.Error(w, "Error reading source file: "+key, http.StatusInternalServerError)
		}
		return
	}

	f.write(w, r, artifact)
}

// artifact returns a fresh artifact for key, compiling when the cache has
// none or the cached one is older than the source.
func (f *Filter) artifact(ctx context.Context, key string) (*types.Artifact, error) {
	lastModified := f.store.LastModified(key)

	if cached, ok := f.cache.Get(key); ok {
		if !cached.IsStale(lastModified) {
			f.logger.Debug(ctx, "Serving cached artifact", "source", key)
			return cached, nil
		}
		f.logger.Debug(ctx, "Cached artifact is stale", "source", key,
			"cached", cached.SourceLastModified, "current", lastModified)
	}

	if f.group == nil {
		return f.compile(ctx, key, lastModified)
	}

	// The shared compile must not die with whichever request started it.
	// Each waiter stops waiting when its own request ends.
	shared := context.WithoutCancel(ctx)
	ch := f.group.DoChan(key, func() (interface{}, error) {
		return f.compile(shared, key, lastModified)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*types.Artifact), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Filter) compile(ctx context.Context, key string, lastModified time.Time) (*types.Artifact, error) {
	data, err := f.store.Read(key)
	if err != nil {
		return nil, err
	}

	if f.compileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.compileTimeout)
		defer cancel()
	}

	compiled, err := f.gateway.Compile(ctx, key, string(data))
	if err != nil {
		return nil, err
	}

	artifact := types.NewArtifact(key, compiled, lastModified)
	f.cache.Put(key, artifact)
	f.logger.Info(ctx, "Compiled source", "source", key, "bytes", artifact.Size())
	return artifact, nil
}

// forget drops the cache entry of a source that no longer exists.
func (f *Filter) forget(ctx context.Context, key string) {
	if f.cache.Remove(key) {
		f.logger.Info(ctx, "Removed artifact for missing source", "source", key)
	}
}

// lastModified is the artifact's source time at HTTP-date resolution, or
// the start time for sources without one.
func (f *Filter) lastModified(artifact *types.Artifact) time.Time {
	if artifact.SourceLastModified.IsZero() {
		return f.startedAt
	}
	return artifact.SourceLastModified.Truncate(time.Second)
}

func (f *Filter) write(w http.ResponseWriter, r *http.Request, artifact *types.Artifact) {
	lastModified := f.lastModified(artifact)

	if ims := r.Header.Get("If-Modified-Since"); ims != "" {
		if since, err := http.ParseTime(ims); err == nil && !lastModified.After(since) {
			w.Header().Del("Content-Type")
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	h := w.Header()
	h.Set("Last-Modified", lastModified.UTC().Format(http.TimeFormat))
	h.Set("Content-Type", ContentType)
	h.Set("Content-Length", strconv.Itoa(artifact.Size()))
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, artifact.CompiledText); err != nil {
		f.logger.Debug(r.Context(), "Client went away while writing", "source", artifact.SourceKey, "error", err)
	}
}
