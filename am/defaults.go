package am

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "etl.db")

	// Server configuration defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"http://127.0.0.1",
	})

	// Scheduler defaults
	v.SetDefault("scheduler.cache_ttl_seconds", 120)
	v.SetDefault("scheduler.ticker_interval_seconds", 30)

	// Worker defaults
	v.SetDefault("worker.workers", 1)
	v.SetDefault("worker.poll_interval_seconds", 5)
	v.SetDefault("worker.id", "")

	// Ingest defaults
	v.SetDefault("ingest.output_page_size", 500)
	v.SetDefault("ingest.skip_empty_results", false)
	v.SetDefault("ingest.unique_output_files", false)
	v.SetDefault("ingest.requests_per_second", 0)

	// Storage defaults
	v.SetDefault("storage.root", "etl-data")
}
