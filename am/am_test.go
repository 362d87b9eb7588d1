package am

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoad_Defaults(t *testing.T) {
	// Isolated viper instance, no user/system config
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	if err != nil {
		t.Fatalf("LoadWithViper() failed: %v", err)
	}

	if cfg.Database.Path != "etl.db" {
		t.Errorf("expected default database path 'etl.db', got %q", cfg.Database.Path)
	}
	if cfg.Server.ServerPort() != DefaultServerPort {
		t.Errorf("expected default port %d, got %d", DefaultServerPort, cfg.Server.ServerPort())
	}
	if cfg.Scheduler.CacheTTL() != 2*time.Minute {
		t.Errorf("expected default cache TTL 2m, got %s", cfg.Scheduler.CacheTTL())
	}
	if cfg.Worker.Workers != 1 {
		t.Errorf("expected default workers 1, got %d", cfg.Worker.Workers)
	}
	if cfg.Ingest.OutputPageSize != 500 {
		t.Errorf("expected default output page size 500, got %d", cfg.Ingest.OutputPageSize)
	}
	if cfg.Ingest.UniqueOutputFiles {
		t.Errorf("expected unique output files to default to false")
	}
}

func validConfig() Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

func TestValidate(t *testing.T) {
	zero := 0
	negative := -5

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}, wantErr: false},
		{name: "zero workers is valid (disabled)", mutate: func(c *Config) { c.Worker.Workers = 0 }, wantErr: false},
		{name: "negative workers is invalid", mutate: func(c *Config) { c.Worker.Workers = -1 }, wantErr: true},
		{name: "zero ticker interval is valid (disabled)", mutate: func(c *Config) { c.Scheduler.TickerIntervalSeconds = 0 }, wantErr: false},
		{name: "zero cache ttl is invalid", mutate: func(c *Config) { c.Scheduler.CacheTTLSeconds = 0 }, wantErr: true},
		{name: "zero port is invalid", mutate: func(c *Config) { c.Server.Port = &zero }, wantErr: true},
		{name: "negative port is invalid", mutate: func(c *Config) { c.Server.Port = &negative }, wantErr: true},
		{name: "zero page size is invalid", mutate: func(c *Config) { c.Ingest.OutputPageSize = 0 }, wantErr: true},
		{name: "negative rate is invalid", mutate: func(c *Config) { c.Ingest.RequestsPerSecond = -1 }, wantErr: true},
		{name: "empty storage root is invalid", mutate: func(c *Config) { c.Storage.Root = "" }, wantErr: true},
		{name: "empty database path is invalid", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "am.toml")
	content := `
[scheduler]
cache_ttl_seconds = 30

[worker]
workers = 4
id = "worker-a"

[ingest]
output_page_size = 100
unique_output_files = true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}

	if cfg.Scheduler.CacheTTLSeconds != 30 {
		t.Errorf("expected cache ttl 30, got %d", cfg.Scheduler.CacheTTLSeconds)
	}
	if cfg.Worker.Workers != 4 || cfg.Worker.ID != "worker-a" {
		t.Errorf("unexpected worker config %+v", cfg.Worker)
	}
	if cfg.Ingest.OutputPageSize != 100 || !cfg.Ingest.UniqueOutputFiles {
		t.Errorf("unexpected ingest config %+v", cfg.Ingest)
	}
	// Untouched sections keep defaults
	if cfg.Database.Path != "etl.db" {
		t.Errorf("expected default database path, got %q", cfg.Database.Path)
	}
}

func TestLoadFromFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "am.toml")
	if err := os.WriteFile(path, []byte("[worker]\nworkers = -2\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected validation error for negative workers")
	}
}

func TestMergeConfigFiles_Precedence(t *testing.T) {
	dir := t.TempDir()
	low := filepath.Join(dir, "system.toml")
	high := filepath.Join(dir, "project.toml")
	os.WriteFile(low, []byte("[worker]\nworkers = 2\npoll_interval_seconds = 9\n"), 0644)
	os.WriteFile(high, []byte("[worker]\nworkers = 8\n"), 0644)

	v := viper.New()
	SetDefaults(v)
	mergeConfigFiles(v, []string{low, filepath.Join(dir, "missing.toml"), high})

	if got := v.GetInt("worker.workers"); got != 8 {
		t.Errorf("expected project file to win, got workers=%d", got)
	}
	if got := v.GetInt("worker.poll_interval_seconds"); got != 9 {
		t.Errorf("expected lower file value to survive merge, got %d", got)
	}
}

func TestIsBackupFile(t *testing.T) {
	if !isBackupFile("/x/am.toml.back1") || !isBackupFile("am.toml~") || !isBackupFile(".am.toml.swp") {
		t.Error("expected backup files to be recognised")
	}
	if isBackupFile("/x/am.toml") {
		t.Error("am.toml is not a backup file")
	}
}

func TestStorageDirs(t *testing.T) {
	s := StorageConfig{Root: "/var/lib/etl"}
	if got := s.InboxDir(); got != filepath.Join("/var/lib/etl", "inbox") {
		t.Errorf("unexpected inbox dir %q", got)
	}
	if got := s.PagesDir(); got != filepath.Join("/var/lib/etl", "pages") {
		t.Errorf("unexpected pages dir %q", got)
	}
}

func TestSettings_EnvOverride(t *testing.T) {
	t.Setenv("ETL_WORKER_WORKERS", "6")
	Reset()
	t.Cleanup(Reset)

	worker, ok := Settings()["worker"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected worker section in settings")
	}
	// AllSettings resolves env overrides to their raw string
	if got := worker["workers"]; got != "6" && got != 6 {
		t.Errorf("expected env override for worker.workers, got %v", got)
	}
}
