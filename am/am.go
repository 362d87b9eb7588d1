// Package am holds the ETL core configuration: database location, HTTP
// server, scheduling cache, worker pool, ingestion defaults and page storage.
package am

import (
	"path/filepath"
	"time"
)

// Config represents the core ETL configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// DatabaseConfig configures the SQLite job database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the job coordination HTTP server
type ServerConfig struct {
	Port           *int     `mapstructure:"port"` // nil = default 8780, 0 is invalid (omit for default)
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// SchedulerConfig configures the due-jobs cache and provisioning ticker
type SchedulerConfig struct {
	CacheTTLSeconds       int `mapstructure:"cache_ttl_seconds"`       // Due list lifetime (default: 120)
	TickerIntervalSeconds int `mapstructure:"ticker_interval_seconds"` // Provisioning period, 0 = disabled (default: 30)
}

// WorkerConfig configures the claim-and-run worker pool
type WorkerConfig struct {
	Workers             int    `mapstructure:"workers"`               // Concurrent job runners, 0 = none (default: 1)
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"` // Sleep when nothing is claimable (default: 5)
	ID                  string `mapstructure:"id"`                    // Worker identity (empty = hostname-uuid)
}

// IngestConfig holds pagination defaults shared by ingestion stages
type IngestConfig struct {
	OutputPageSize    int     `mapstructure:"output_page_size"`    // Records per stored page (default: 500)
	SkipEmptyResults  bool    `mapstructure:"skip_empty_results"`  // Do not write empty pages
	UniqueOutputFiles bool    `mapstructure:"unique_output_files"` // Prefix page keys with the run timestamp
	RequestsPerSecond float64 `mapstructure:"requests_per_second"` // Source throttle, 0 = unlimited
}

// StorageConfig configures where feeds are read from and pages written to.
// Feeds live under <root>/inbox, pages under <root>/pages.
type StorageConfig struct {
	Root string `mapstructure:"root"`
}

// InboxDir is where feed files are read from
func (s StorageConfig) InboxDir() string {
	return filepath.Join(s.Root, "inbox")
}

// PagesDir is the sink root for ingested pages
func (s StorageConfig) PagesDir() string {
	return filepath.Join(s.Root, "pages")
}

// Server port constants
const (
	DefaultServerPort = 8780
)

// CacheTTL returns the configured due-list lifetime
func (s SchedulerConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSeconds) * time.Second
}

// TickerInterval returns the provisioning period
func (s SchedulerConfig) TickerInterval() time.Duration {
	return time.Duration(s.TickerIntervalSeconds) * time.Second
}

// PollInterval returns the worker idle sleep
func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalSeconds) * time.Second
}

// ServerPort returns the configured port or the default
func (s ServerConfig) ServerPort() int {
	if s.Port == nil {
		return DefaultServerPort
	}
	return *s.Port
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
