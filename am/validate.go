package am

import "github.com/linuxautomates/gitsei-sub052/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path cannot be empty")
	}

	// Server port: 0 is invalid (omit for default), negative is invalid
	if c.Server.Port != nil && *c.Server.Port == 0 {
		return errors.Newf("server.port cannot be 0 (omit for default port %d)", DefaultServerPort)
	}
	if c.Server.Port != nil && *c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", *c.Server.Port)
	}

	// A zero TTL would recompute the due list on every read
	if c.Scheduler.CacheTTLSeconds <= 0 {
		return errors.Newf("scheduler.cache_ttl_seconds must be > 0, got %d", c.Scheduler.CacheTTLSeconds)
	}
	if c.Scheduler.TickerIntervalSeconds < 0 {
		return errors.Newf("scheduler.ticker_interval_seconds must be >= 0, got %d", c.Scheduler.TickerIntervalSeconds)
	}

	if c.Worker.Workers < 0 {
		return errors.Newf("worker.workers must be >= 0, got %d", c.Worker.Workers)
	}
	if c.Worker.PollIntervalSeconds <= 0 {
		return errors.Newf("worker.poll_interval_seconds must be > 0, got %d", c.Worker.PollIntervalSeconds)
	}

	if c.Ingest.OutputPageSize <= 0 {
		return errors.Newf("ingest.output_page_size must be > 0, got %d", c.Ingest.OutputPageSize)
	}
	if c.Ingest.RequestsPerSecond < 0 {
		return errors.Newf("ingest.requests_per_second must be >= 0, got %f", c.Ingest.RequestsPerSecond)
	}

	if c.Storage.Root == "" {
		return errors.New("storage.root cannot be empty")
	}

	return nil
}
