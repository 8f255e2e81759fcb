package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/systemd-mcp/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
journal:
  lines: 20
`

const watcherUpdatedYAML = `
server:
  log_level: debug
journal:
  lines: 20
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// watchCounter records onChange invocations.
type watchCounter struct {
	mu       sync.Mutex
	calls    int
	old, new *config.Config
	called   chan struct{}
}

func newWatchCounter() *watchCounter {
	return &watchCounter{called: make(chan struct{}, 8)}
}

func (c *watchCounter) onChange(old, new *config.Config) {
	c.mu.Lock()
	c.calls++
	c.old, c.new = old, new
	c.mu.Unlock()
	select {
	case c.called <- struct{}{}:
	default:
	}
}

func (c *watchCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *watchCounter) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	// Defaults are applied to the watched config as well.
	if cfg.Server.Name != config.DefaultName {
		t.Errorf("server.name: got %q, want %q", cfg.Server.Name, config.DefaultName)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	c := newWatchCounter()
	w, err := config.NewWatcher(cfgPath, c.onChange, config.WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, cfgPath, watcherUpdatedYAML)
	c.wait(t)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.old == nil || c.new == nil {
		t.Fatal("callback received nil configs")
	}
	if c.old.Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level: got %q, want %q", c.old.Server.LogLevel, config.LogInfo)
	}
	if c.new.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level: got %q, want %q", c.new.Server.LogLevel, config.LogDebug)
	}

	// Current should return the new config.
	if cur := w.Current(); cur.Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level: got %q, want %q", cur.Server.LogLevel, config.LogDebug)
	}
}

func TestWatcher_DetectsAtomicReplace(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	c := newWatchCounter()
	w, err := config.NewWatcher(cfgPath, c.onChange, config.WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	// Editors commonly write a temp file and rename it over the original.
	tmp := filepath.Join(dir, "config.yaml.tmp")
	writeFile(t, tmp, watcherUpdatedYAML)
	if err := os.Rename(tmp, cfgPath); err != nil {
		t.Fatalf("rename: %v", err)
	}
	c.wait(t)

	if cur := w.Current(); cur.Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level: got %q, want %q", cur.Server.LogLevel, config.LogDebug)
	}
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	c := newWatchCounter()
	w, err := config.NewWatcher(cfgPath, c.onChange, config.WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, filepath.Join(dir, "other.yaml"), watcherUpdatedYAML)
	time.Sleep(200 * time.Millisecond)

	if n := c.count(); n != 0 {
		t.Errorf("callback should not fire for other files, got %d calls", n)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	c := newWatchCounter()
	w, err := config.NewWatcher(cfgPath, c.onChange, config.WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, cfgPath, watcherInvalidYAML)
	time.Sleep(200 * time.Millisecond)

	if n := c.count(); n != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", n)
	}

	// Current should still be the old valid config.
	if cur := w.Current(); cur.Server.LogLevel != config.LogInfo {
		t.Errorf("Current() should still have old config, got log_level=%q", cur.Server.LogLevel)
	}
}

func TestWatcher_RewriteWithoutContentChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	c := newWatchCounter()
	w, err := config.NewWatcher(cfgPath, c.onChange, config.WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, cfgPath, watcherValidYAML)
	time.Sleep(200 * time.Millisecond)

	if n := c.count(); n != 0 {
		t.Errorf("callback should not fire when content is unchanged, got %d calls", n)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	_, err := config.NewWatcher("/nonexistent/path.yaml", nil)
	if err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Multiple stops should not panic.
	w.Stop()
	w.Stop()
	w.Stop()
}
