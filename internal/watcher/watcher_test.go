package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestFileWatcherAddPath(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	dir := t.TempDir()
	assert.NoError(t, watcher.AddPath(dir))

	assert.Error(t, watcher.AddPath(filepath.Join(dir, "missing")))
	assert.Error(t, watcher.AddPath(""))

	file := filepath.Join(dir, "app.coffee")
	require.NoError(t, os.WriteFile(file, []byte("x = 1"), 0o644))
	assert.Error(t, watcher.AddPath(file), "files are not directories")
}

func TestAddRecursive(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a", "b"), 0o755))

	assert.NoError(t, watcher.AddRecursive(dir))
	assert.Error(t, watcher.AddRecursive(filepath.Join(dir, "missing")))
}

func TestFileWatcherDeliversFilteredEvents(t *testing.T) {
	watcher, err := NewFileWatcher(30*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	dir := t.TempDir()
	require.NoError(t, watcher.AddRecursive(dir))
	watcher.AddFilter(CoffeeFilter)
	watcher.AddFilter(NoHiddenFilter)

	var mu sync.Mutex
	var paths []string
	watcher.AddHandler(func(events []ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			paths = append(paths, filepath.Base(e.Path))
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.coffee"), []byte("x = 1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".app.coffee.swp"), []byte("ignored"), 0o644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(paths) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, p := range paths {
		assert.Equal(t, "app.coffee", p)
	}
}

func TestFileWatcherFollowsNewDirectories(t *testing.T) {
	watcher, err := NewFileWatcher(30*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	dir := t.TempDir()
	require.NoError(t, watcher.AddRecursive(dir))
	watcher.AddFilter(CoffeeFilter)

	seen := make(chan string, 16)
	watcher.AddHandler(func(events []ChangeEvent) error {
		for _, e := range events {
			seen <- e.Path
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	nested := filepath.Join(dir, "widgets")
	require.NoError(t, os.Mkdir(nested, 0o755))
	// Let the create event for the directory land before writing into it.
	time.Sleep(100 * time.Millisecond)
	target := filepath.Join(nested, "menu.coffee")
	require.NoError(t, os.WriteFile(target, []byte("open = yes"), 0o644))

	select {
	case p := <-seen:
		assert.Equal(t, target, p)
	case <-time.After(2 * time.Second):
		t.Fatal("no event for file in new directory")
	}
}

func TestDebouncer(t *testing.T) {
	debouncer := &Debouncer{
		delay:   50 * time.Millisecond,
		events:  make(chan ChangeEvent, 100),
		output:  make(chan []ChangeEvent, 10),
		pending: make([]ChangeEvent, 0),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go debouncer.start(ctx)

	debouncer.events <- ChangeEvent{Path: "a.coffee", Type: EventTypeCreated}
	debouncer.events <- ChangeEvent{Path: "a.coffee", Type: EventTypeModified}
	debouncer.events <- ChangeEvent{Path: "b.coffee", Type: EventTypeModified}

	select {
	case events := <-debouncer.output:
		require.Len(t, events, 2)
		byPath := map[string]EventType{}
		for _, e := range events {
			byPath[e.Path] = e.Type
		}
		assert.Equal(t, EventTypeModified, byPath["a.coffee"], "last event per path wins")
		assert.Equal(t, EventTypeModified, byPath["b.coffee"])
	case <-time.After(time.Second):
		t.Fatal("debouncer never flushed")
	}
}

func TestFileWatcherConcurrentWrites(t *testing.T) {
	watcher, err := NewFileWatcher(50*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	dir := t.TempDir()
	require.NoError(t, watcher.AddPath(dir))

	var mu sync.Mutex
	seen := map[string]bool{}
	watcher.AddHandler(func(events []ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			seen[e.Path] = true
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := filepath.Join(dir, fmt.Sprintf("s%d.coffee", i))
			assert.NoError(t, os.WriteFile(name, []byte("x = 1"), 0o644))
		}(i)
	}
	wg.Wait()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, len(seen), 10)
}

func TestFileWatcherDoubleStop(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)

	assert.NoError(t, watcher.Stop())
	assert.NoError(t, watcher.Stop())
}

func TestFilters(t *testing.T) {
	testCases := []struct {
		path   string
		coffee bool
		hidden bool
	}{
		{"app.coffee", true, false},
		{"dir/app.coffee", true, false},
		{"app.js", false, false},
		{"app.coffee.swp", false, false},
		{".#app.coffee", true, true},
		{"dir/.hidden.coffee", true, true},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.coffee, CoffeeFilter(tc.path))
			assert.Equal(t, !tc.hidden, NoHiddenFilter(tc.path))
		})
	}
}
