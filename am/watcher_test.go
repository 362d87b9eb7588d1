package am

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "am.toml")
	if err := os.WriteFile(path, []byte("[scheduler]\ncache_ttl_seconds = 60\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cw, err := NewConfigWatcher(path)
	if err != nil {
		t.Fatalf("NewConfigWatcher() failed: %v", err)
	}
	defer cw.Stop()

	cw.SetDebounce(20 * time.Millisecond)
	cw.SetLoader(func() (*Config, error) { return LoadFromFile(path) })

	reloaded := make(chan *Config, 1)
	cw.OnReload(func(cfg *Config) error {
		select {
		case reloaded <- cfg:
		default:
		}
		return nil
	})
	cw.Start()

	if err := os.WriteFile(path, []byte("[scheduler]\ncache_ttl_seconds = 15\n"), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Scheduler.CacheTTLSeconds != 15 {
			t.Errorf("expected reloaded ttl 15, got %d", cfg.Scheduler.CacheTTLSeconds)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestNewConfigWatcher_MissingFile(t *testing.T) {
	if _, err := NewConfigWatcher(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error watching a missing file")
	}
}
