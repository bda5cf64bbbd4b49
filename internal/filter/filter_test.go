package filter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/coffeefilter/internal/cache"
	"github.com/conneroisu/coffeefilter/internal/compiler"
	ferrors "github.com/conneroisu/coffeefilter/internal/errors"
	"github.com/conneroisu/coffeefilter/internal/resolver"
	"github.com/conneroisu/coffeefilter/internal/source"
)

const appKey = "/WEB-INF/coffee/app.coffee"

type fixture struct {
	fs       afero.Fs
	cache    *cache.ArtifactCache
	filter   *Filter
	handler  http.Handler
	compiles atomic.Int64
	passed   atomic.Int64
}

// fakeCompile wraps the source so the output shows what was compiled.
// Sources containing "syntax error" are rejected.
func fakeCompile(_ context.Context, src string) (string, error) {
	if strings.Contains(src, "syntax error") {
		return "", assert.AnError
	}
	return "compiled(" + src + ")", nil
}

func newFixture(t *testing.T, store source.Store, c compiler.Compiler, mutate ...func(*Options)) *fixture {
	t.Helper()

	f := &fixture{}
	artifacts, err := cache.New(10)
	require.NoError(t, err)
	f.cache = artifacts

	counting := compiler.CompilerFunc(func(ctx context.Context, src string) (string, error) {
		f.compiles.Add(1)
		return c.Compile(ctx, src)
	})

	opts := Options{
		Resolver: resolver.New("/js", "/WEB-INF/coffee"),
		Store:    store,
		Cache:    artifacts,
		Gateway:  compiler.NewGateway(counting, nil),
	}
	for _, m := range mutate {
		m(&opts)
	}

	f.filter, err = New(opts)
	require.NoError(t, err)

	f.handler = f.filter.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.passed.Add(1)
		w.Header().Set("X-Downstream", "yes")
		http.NotFound(w, r)
	}))
	return f
}

func newMemFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/WEB-INF/coffee", 0o755))
	f := newFixture(t, source.NewFileStore(fs), compiler.CompilerFunc(fakeCompile), mutate...)
	f.fs = fs
	return f
}

func (f *fixture) write(t *testing.T, key, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, afero.WriteFile(f.fs, key, []byte(content), 0o644))
	require.NoError(t, f.fs.Chtimes(key, mtime, mtime))
}

func (f *fixture) do(method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(target string) *httptest.ResponseRecorder {
	return f.do(http.MethodGet, target, nil)
}

func TestNewRequiresCollaborators(t *testing.T) {
	artifacts, err := cache.New(1)
	require.NoError(t, err)
	store := source.NewFileStore(afero.NewMemMapFs())
	gateway := compiler.NewGateway(compiler.CompilerFunc(fakeCompile), nil)

	_, err = New(Options{Cache: artifacts, Gateway: gateway})
	assert.Error(t, err)
	_, err = New(Options{Store: store, Gateway: gateway})
	assert.Error(t, err)
	_, err = New(Options{Store: store, Cache: artifacts})
	assert.Error(t, err)

	f, err := New(Options{Store: store, Cache: artifacts, Gateway: gateway})
	require.NoError(t, err)
	assert.False(t, f.StartedAt().IsZero())
}

func TestServeCompiledScript(t *testing.T) {
	f := newMemFixture(t)
	mtime := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	f.write(t, appKey, "x = 1", mtime)

	rec := f.get("/js/app.js")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "compiled(x = 1)", rec.Body.String())
	assert.Equal(t, ContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, mtime.Format(http.TimeFormat), rec.Header().Get("Last-Modified"))
	assert.Equal(t, "15", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Header().Get("X-Downstream"))

	cached, ok := f.cache.Peek(appKey)
	require.True(t, ok)
	assert.True(t, mtime.Equal(cached.SourceLastModified))
}

func TestNestedScriptPath(t *testing.T) {
	f := newMemFixture(t)
	f.write(t, "/WEB-INF/coffee/widgets/menu.coffee", "open = yes", time.Now())

	rec := f.get("/js/widgets/menu.js")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "compiled(open = yes)", rec.Body.String())
}

func TestCacheHitIsIdempotent(t *testing.T) {
	f := newMemFixture(t)
	f.write(t, appKey, "x = 1", time.Now().Add(-time.Hour))

	first := f.get("/js/app.js")
	second := f.get("/js/app.js")

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, first.Header().Get("Last-Modified"), second.Header().Get("Last-Modified"))
	assert.EqualValues(t, 1, f.compiles.Load())

	stats := f.cache.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
}

func TestStaleArtifactIsRecompiled(t *testing.T) {
	f := newMemFixture(t)
	before := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f.write(t, appKey, "x = 1", before)

	require.Equal(t, "compiled(x = 1)", f.get("/js/app.js").Body.String())

	after := before.Add(time.Minute)
	f.write(t, appKey, "x = 2", after)

	rec := f.get("/js/app.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "compiled(x = 2)", rec.Body.String())
	assert.Equal(t, after.Format(http.TimeFormat), rec.Header().Get("Last-Modified"))
	assert.EqualValues(t, 2, f.compiles.Load())

	// Unchanged again, so served from cache.
	f.get("/js/app.js")
	assert.EqualValues(t, 2, f.compiles.Load())
}

func TestPassThrough(t *testing.T) {
	f := newMemFixture(t)
	f.write(t, appKey, "x = 1", time.Now())

	tests := []struct {
		name   string
		method string
		target string
	}{
		{name: "outside prefix", method: http.MethodGet, target: "/css/site.css"},
		{name: "not a script", method: http.MethodGet, target: "/js/app.css"},
		{name: "prefix without separator", method: http.MethodGet, target: "/jsapp.js"},
		{name: "empty name", method: http.MethodGet, target: "/js/.js"},
		{name: "no source", method: http.MethodGet, target: "/js/vendor.js"},
		{name: "post", method: http.MethodPost, target: "/js/app.js"},
		{name: "delete", method: http.MethodDelete, target: "/js/app.js"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.passed.Load()
			rec := f.do(tt.method, tt.target, nil)

			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, "yes", rec.Header().Get("X-Downstream"))
			assert.Equal(t, before+1, f.passed.Load())
		})
	}

	assert.Zero(t, f.compiles.Load())
	assert.Zero(t, f.cache.Len())
}

func TestDeletedSourceDropsArtifact(t *testing.T) {
	f := newMemFixture(t)
	original := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f.write(t, appKey, "x = 1", original)

	require.Equal(t, http.StatusOK, f.get("/js/app.js").Code)
	require.Equal(t, 1, f.cache.Len())

	require.NoError(t, f.fs.Remove(appKey))

	rec := f.get("/js/app.js")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "yes", rec.Header().Get("X-Downstream"))
	_, ok := f.cache.Peek(appKey)
	assert.False(t, ok)
	assert.EqualValues(t, 1, f.cache.Stats().Removals)

	// Re-created with an older timestamp: still a miss, never the old output.
	f.write(t, appKey, "x = 2", original.Add(-time.Hour))

	rec = f.get("/js/app.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "compiled(x = 2)", rec.Body.String())
	assert.EqualValues(t, 2, f.compiles.Load())
}

func TestConditionalGet(t *testing.T) {
	f := newMemFixture(t)
	// Sub-second precision is dropped by the HTTP date format.
	mtime := time.Date(2024, 5, 1, 10, 30, 0, 500_000_000, time.UTC)
	f.write(t, appKey, "x = 1", mtime)

	first := f.get("/js/app.js")
	require.Equal(t, http.StatusOK, first.Code)
	lastModified := first.Header().Get("Last-Modified")
	require.NotEmpty(t, lastModified)

	tests := []struct {
		name  string
		since string
		want  int
	}{
		{name: "same time", since: lastModified, want: http.StatusNotModified},
		{name: "later", since: mtime.Add(time.Hour).Format(http.TimeFormat), want: http.StatusNotModified},
		{name: "earlier", since: mtime.Add(-time.Hour).Format(http.TimeFormat), want: http.StatusOK},
		{name: "unparseable", since: "yesterday", want: http.StatusOK},
		{name: "rfc850", since: mtime.Format(time.RFC850), want: http.StatusNotModified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodGet, "/js/app.js", http.Header{"If-Modified-Since": {tt.since}})

			require.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusNotModified {
				assert.Empty(t, rec.Body.String())
				assert.Empty(t, rec.Header().Get("Content-Type"))
			} else {
				assert.Equal(t, "compiled(x = 1)", rec.Body.String())
			}
		})
	}

	assert.EqualValues(t, 1, f.compiles.Load())
}

func TestHeadRequest(t *testing.T) {
	f := newMemFixture(t)
	f.write(t, appKey, "x = 1", time.Now())

	rec := f.do(http.MethodHead, "/js/app.js", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, ContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "15", rec.Header().Get("Content-Length"))
	assert.Equal(t, 1, f.cache.Len())
}

func TestCompileErrorIsNotCached(t *testing.T) {
	f := newMemFixture(t)
	badKey := "/WEB-INF/coffee/bad.coffee"
	f.write(t, badKey, "syntax error here", time.Now())

	for i := 0; i < 2; i++ {
		rec := f.get("/js/bad.js")

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "Compilation error on file: "+badKey)
		assert.Contains(t, rec.Body.String(), assert.AnError.Error())
	}

	_, ok := f.cache.Peek(badKey)
	assert.False(t, ok)
	assert.EqualValues(t, 2, f.compiles.Load(), "failures are retried on the next request")
}

func TestCompileErrorKeepsOtherEntries(t *testing.T) {
	f := newMemFixture(t)
	before := time.Now().Add(-time.Hour)
	f.write(t, appKey, "x = 1", before)
	require.Equal(t, http.StatusOK, f.get("/js/app.js").Code)

	// A broken edit answers 500 and leaves the stale entry alone.
	f.write(t, appKey, "syntax error", before.Add(time.Minute))
	require.Equal(t, http.StatusInternalServerError, f.get("/js/app.js").Code)

	cached, ok := f.cache.Peek(appKey)
	require.True(t, ok)
	assert.Equal(t, "compiled(x = 1)", cached.CompiledText)

	// Fixing the source recovers.
	f.write(t, appKey, "x = 3", before.Add(2*time.Minute))
	rec := f.get("/js/app.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "compiled(x = 3)", rec.Body.String())
}

func TestCompileTimeout(t *testing.T) {
	blocking := compiler.CompilerFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, appKey, []byte("x = 1"), 0o644))

	f := newFixture(t, source.NewFileStore(fs), blocking, func(o *Options) {
		o.CompileTimeout = 20 * time.Millisecond
	})

	rec := f.get("/js/app.js")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Compilation timed out on file: "+appKey)
	assert.Zero(t, f.cache.Len())
}

func TestPackagedSourceUsesStartTime(t *testing.T) {
	started := time.Date(2024, 1, 2, 3, 4, 5, 600_000_000, time.UTC)
	store := source.NewPackagedStore(fstest.MapFS{
		"WEB-INF/coffee/app.coffee": {Data: []byte("x = 1")},
	})
	f := newFixture(t, store, compiler.CompilerFunc(fakeCompile), func(o *Options) {
		o.StartedAt = started
	})

	rec := f.get("/js/app.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, started.Format(http.TimeFormat), rec.Header().Get("Last-Modified"))

	rec = f.do(http.MethodGet, "/js/app.js", http.Header{"If-Modified-Since": {started.Format(http.TimeFormat)}})
	assert.Equal(t, http.StatusNotModified, rec.Code)

	// Zero mtimes never make the artifact stale.
	f.get("/js/app.js")
	assert.EqualValues(t, 1, f.compiles.Load())
}

// stubStore claims every key exists and fails reads with err.
type stubStore struct{ err error }

func (s stubStore) Exists(string) bool            { return true }
func (s stubStore) LastModified(string) time.Time { return time.Time{} }
func (s stubStore) Read(string) ([]byte, error)   { return nil, s.err }

func TestReadFailures(t *testing.T) {
	t.Run("vanished after exists passes through", func(t *testing.T) {
		f := newFixture(t, stubStore{err: ferrors.NewNotFoundError(appKey, nil)}, compiler.CompilerFunc(fakeCompile))

		rec := f.get("/js/app.js")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.EqualValues(t, 1, f.passed.Load())
	})

	t.Run("io error answers 500", func(t *testing.T) {
		ioErr := ferrors.NewIOError(ferrors.ErrCodeReadFailed, "failed to read source", assert.AnError)
		f := newFixture(t, stubStore{err: ioErr}, compiler.CompilerFunc(fakeCompile))

		rec := f.get("/js/app.js")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "Error reading source file: "+appKey)
		assert.Zero(t, f.passed.Load())
		assert.Zero(t, f.compiles.Load())
	})
}

func TestSingleFlightSharesCompilation(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	slow := compiler.CompilerFunc(func(ctx context.Context, src string) (string, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return fakeCompile(ctx, src)
	})

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, appKey, []byte("x = 1"), 0o644))
	f := newFixture(t, source.NewFileStore(fs), slow, func(o *Options) {
		o.SingleFlight = true
	})

	const clients = 8
	bodies := make([]string, clients)
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bodies[i] = f.get("/js/app.js").Body.String()
		}(i)
	}

	<-started
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, f.compiles.Load())
	for _, body := range bodies {
		assert.Equal(t, "compiled(x = 1)", body)
	}
}

func TestConcurrentRequestsAcrossKeys(t *testing.T) {
	f := newMemFixture(t)
	names := []string{"a", "b", "c", "d"}
	for _, name := range names {
		f.write(t, "/WEB-INF/coffee/"+name+".coffee", name+" = 1", time.Now())
	}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			rec := f.get("/js/" + name + ".js")
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "compiled("+name+" = 1)", rec.Body.String())
		}(names[i%len(names)])
	}
	wg.Wait()

	assert.Equal(t, len(names), f.cache.Len())
}

func TestNotModifiedRefreshesRecency(t *testing.T) {
	small, err := cache.New(2)
	require.NoError(t, err)
	f := newMemFixture(t, func(o *Options) { o.Cache = small })

	mtime := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for _, name := range []string{"a", "b", "c"} {
		f.write(t, "/WEB-INF/coffee/"+name+".coffee", name+" = 1", mtime)
	}

	require.Equal(t, http.StatusOK, f.get("/js/a.js").Code)
	require.Equal(t, http.StatusOK, f.get("/js/b.js").Code)

	rec := f.do(http.MethodGet, "/js/a.js", http.Header{"If-Modified-Since": {mtime.Format(http.TimeFormat)}})
	require.Equal(t, http.StatusNotModified, rec.Code)

	require.Equal(t, http.StatusOK, f.get("/js/c.js").Code)

	assert.Equal(t, []string{"/WEB-INF/coffee/c.coffee", "/WEB-INF/coffee/a.coffee"}, small.Keys())
	_, ok := small.Peek("/WEB-INF/coffee/b.coffee")
	assert.False(t, ok)
}

// blockingCompiler parks sources containing "slow" until release is closed.
func blockingCompiler(started chan<- string, release <-chan struct{}) compiler.CompilerFunc {
	return func(ctx context.Context, src string) (string, error) {
		if strings.Contains(src, "slow") {
			started <- src
			<-release
		}
		return fakeCompile(ctx, src)
	}
}

func TestCachedScriptsBypassBusyCompiler(t *testing.T) {
	started := make(chan string, 1)
	release := make(chan struct{})
	defer func() {
		select {
		case <-release:
		default:
			close(release)
		}
	}()

	fs := afero.NewMemMapFs()
	mtime := time.Now().Add(-time.Hour)
	for key, content := range map[string]string{
		"/WEB-INF/coffee/fast.coffee": "fast = 1",
		"/WEB-INF/coffee/slow.coffee": "slow = 1",
	} {
		require.NoError(t, afero.WriteFile(fs, key, []byte(content), 0o644))
		require.NoError(t, fs.Chtimes(key, mtime, mtime))
	}
	f := newFixture(t, source.NewFileStore(fs), blockingCompiler(started, release))

	require.Equal(t, http.StatusOK, f.get("/js/fast.js").Code)

	slowDone := make(chan *httptest.ResponseRecorder, 1)
	go func() { slowDone <- f.get("/js/slow.js") }()
	<-started

	fastDone := make(chan *httptest.ResponseRecorder, 1)
	go func() { fastDone <- f.get("/js/fast.js") }()

	select {
	case rec := <-fastDone:
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "compiled(fast = 1)", rec.Body.String())
	case <-time.After(2 * time.Second):
		t.Fatal("cached script waited for the compiler")
	}

	close(release)
	assert.Equal(t, http.StatusOK, (<-slowDone).Code)
	assert.EqualValues(t, 2, f.compiles.Load())
}

func TestCancelledWhileWaitingForCompiler(t *testing.T) {
	started := make(chan string, 1)
	release := make(chan struct{})

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/WEB-INF/coffee/slow.coffee", []byte("slow = 1"), 0o644))
	require.NoError(t, afero.WriteFile(fs, appKey, []byte("x = 1"), 0o644))
	f := newFixture(t, source.NewFileStore(fs), blockingCompiler(started, release))

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		f.get("/js/slow.js")
	}()
	<-started

	// app.js queues behind slow.js for the compiler, then its client leaves.
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/js/app.js", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.handler.ServeHTTP(rec, req)
	}()

	assert.Eventually(t, func() bool {
		return f.filter.gateway.Stats().Waiting == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled request kept waiting")
	}
	assert.NotEqual(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Zero(t, f.passed.Load())

	close(release)
	<-slowDone
	_, ok := f.cache.Peek(appKey)
	assert.False(t, ok)
}

func TestCancelledJoinerStopsWaiting(t *testing.T) {
	started := make(chan string, 1)
	release := make(chan struct{})

	fs := afero.NewMemMapFs()
	slowKey := "/WEB-INF/coffee/slow.coffee"
	require.NoError(t, afero.WriteFile(fs, slowKey, []byte("slow = 1"), 0o644))
	f := newFixture(t, source.NewFileStore(fs), blockingCompiler(started, release), func(o *Options) {
		o.SingleFlight = true
	})

	leader := make(chan *httptest.ResponseRecorder, 1)
	go func() { leader <- f.get("/js/slow.js") }()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/js/slow.js", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.handler.ServeHTTP(rec, req)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled joiner kept waiting for the shared compile")
	}
	assert.Empty(t, rec.Body.String())

	// The shared compile still finishes for the request that started it.
	close(release)
	first := <-leader
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "compiled(slow = 1)", first.Body.String())
	assert.EqualValues(t, 1, f.compiles.Load())
	_, ok := f.cache.Peek(slowKey)
	assert.True(t, ok)
}
