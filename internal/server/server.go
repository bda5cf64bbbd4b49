// Package server assembles the filter, its collaborators and the static
// resource server into an HTTP server.
//
// Routes:
//
//	/_coffee/health   JSON health
//	/_coffee/cache    JSON cache stats and entries (DELETE clears)
//	/_coffee/status   HTML status page
//	/_coffee/reload   websocket source change notifications
//	/                 compiled scripts, then static files under the root
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/conneroisu/coffeefilter/internal/cache"
	"github.com/conneroisu/coffeefilter/internal/compiler"
	"github.com/conneroisu/coffeefilter/internal/config"
	"github.com/conneroisu/coffeefilter/internal/filter"
	"github.com/conneroisu/coffeefilter/internal/logging"
	"github.com/conneroisu/coffeefilter/internal/resolver"
	"github.com/conneroisu/coffeefilter/internal/source"
	"github.com/conneroisu/coffeefilter/internal/watcher"
)

// RoutePrefix is reserved for the server's own endpoints.
const RoutePrefix = "/_coffee/"

// privatePrefix is never served as a static file.
const privatePrefix = "/WEB-INF/"

// Options overrides collaborators that are otherwise built from config.
type Options struct {
	// Fs is the resource root. Defaults to config.Server.Root on disk.
	Fs afero.Fs
	// Compiler defaults to the backend described by config.Compiler.
	Compiler compiler.Compiler
	Logger   logging.Logger
}

// Server serves compiled scripts and static resources.
type Server struct {
	config    *config.Config
	fs        afero.Fs
	onDisk    bool
	resolver  *resolver.Resolver
	cache     *cache.ArtifactCache
	gateway   *compiler.Gateway
	filter    *filter.Filter
	hub       *reloadHub
	logger    logging.Logger
	startedAt time.Time

	serverMutex  sync.Mutex
	stopped      bool
	httpServer   *http.Server
	watcher      *watcher.FileWatcher
	shutdownOnce sync.Once
}

// New wires a server from cfg.
func New(cfg *config.Config, opts Options) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	fsys := opts.Fs
	onDisk := false
	if fsys == nil {
		fsys = afero.NewBasePathFs(afero.NewOsFs(), cfg.Server.Root)
		onDisk = true
	}

	comp := opts.Compiler
	if comp == nil {
		var err error
		comp, err = compiler.New(afero.NewOsFs(), compiler.Options{
			Kind:      compiler.Kind(cfg.Compiler.Kind),
			Command:   cfg.Compiler.Command,
			Args:      cfg.Compiler.Args,
			Script:    cfg.Compiler.Script,
			Namespace: cfg.Compiler.Namespace,
			Bare:      cfg.Compiler.Bare,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create compiler: %w", err)
		}
	}

	policyType, err := cache.ParsePolicyType(cfg.Cache.Policy)
	if err != nil {
		return nil, err
	}
	policy := cache.NewPolicy(policyType)

	s := &Server{
		config:    cfg,
		fs:        fsys,
		onDisk:    onDisk,
		resolver:  resolver.New(cfg.Filter.JSPrefix, cfg.Filter.SourcePrefix),
		gateway:   compiler.NewGateway(comp, logger),
		logger:    logger.WithComponent("server"),
		startedAt: time.Now(),
	}
	s.hub = newReloadHub(logger)

	s.cache, err = cache.New(cfg.Cache.Capacity,
		cache.WithPolicy(policy),
		cache.WithEvictionCallback(func(key string) {
			s.logger.Debug(context.Background(), "Evicted artifact", "source", key)
		}),
	)
	if err != nil {
		return nil, err
	}

	s.filter, err = filter.New(filter.Options{
		Resolver:       s.resolver,
		Store:          source.NewFileStore(fsys),
		Cache:          s.cache,
		Gateway:        s.gateway,
		Logger:         logger,
		SingleFlight:   cfg.Cache.SingleFlight,
		CompileTimeout: cfg.Compiler.Timeout,
		StartedAt:      s.startedAt,
	})
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Cache exposes the artifact cache.
func (s *Server) Cache() *cache.ArtifactCache { return s.cache }

// Gateway exposes the compiler gateway.
func (s *Server) Gateway() *compiler.Gateway { return s.gateway }

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(RoutePrefix+"health", s.handleHealth)
	mux.HandleFunc(RoutePrefix+"cache", s.handleCache)
	mux.HandleFunc(RoutePrefix+"status", s.handleStatus)
	mux.HandleFunc(RoutePrefix+"reload", s.handleReload)
	mux.Handle("/", s.filter.Wrap(s.staticHandler()))

	return s.addMiddleware(mux)
}

// staticHandler serves files under the root, hiding the private tree.
func (s *Server) staticHandler() http.Handler {
	files := http.FileServer(afero.NewHttpFs(s.fs))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPrivate(r.URL.Path) {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}

func isPrivate(p string) bool {
	cleaned := strings.ToUpper(path.Clean("/" + p))
	return strings.HasPrefix(cleaned+"/", privatePrefix)
}

// Start runs the server until ctx is cancelled or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.run(ctx)

	if s.config.Watch.Enabled {
		if err := s.startWatcher(ctx); err != nil {
			s.logger.Warn(ctx, err, "Source watcher disabled")
		}
	}

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.serverMutex.Lock()
	if s.stopped {
		s.serverMutex.Unlock()
		return nil
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "Serving", "addr", addr, "root", s.config.Server.Root,
		"js_prefix", s.resolver.JSPrefix(), "source_prefix", s.resolver.SourcePrefix())

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// startWatcher watches the source directory and drops cache entries for
// changed sources. Only on-disk roots can be watched.
func (s *Server) startWatcher(ctx context.Context) error {
	if !s.onDisk {
		return fmt.Errorf("resource root is not on disk")
	}

	dir := filepath.Join(s.config.Server.Root, filepath.FromSlash(s.resolver.SourcePrefix()))

	invalidator, err := watcher.NewInvalidator(s.config.Server.Root, s.cache, s.logger)
	if err != nil {
		return err
	}
	invalidator.OnChange(func(key string, eventType watcher.EventType) {
		s.hub.broadcast(reloadMessage{Type: "source_changed", Key: key, Event: eventType.String()})
	})

	fw, err := watcher.NewFileWatcher(s.config.Watch.Debounce, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	fw.AddFilter(watcher.CoffeeFilter)
	fw.AddFilter(watcher.NoHiddenFilter)
	fw.AddHandler(invalidator.Handle)

	if err := fw.AddRecursive(dir); err != nil {
		fw.Stop()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	if err := fw.Start(ctx); err != nil {
		fw.Stop()
		return err
	}

	s.serverMutex.Lock()
	s.watcher = fw
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "Watching sources", "dir", dir)
	return nil
}

// Shutdown stops the watcher, disconnects reload clients and drains the
// HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")

		s.serverMutex.Lock()
		s.stopped = true
		fw := s.watcher
		server := s.httpServer
		s.serverMutex.Unlock()

		if fw != nil {
			if err := fw.Stop(); err != nil {
				s.logger.Warn(ctx, err, "Stopping watcher")
			}
		}

		s.hub.closeAll()

		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
	})

	return shutdownErr
}
