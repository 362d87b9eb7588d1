package commands

import (
	"database/sql"
	"time"

	"github.com/spf13/afero"

	"github.com/linuxautomates/gitsei-sub052/am"
	"github.com/linuxautomates/gitsei-sub052/etl/feed"
	"github.com/linuxautomates/gitsei-sub052/etl/ingest"
	"github.com/linuxautomates/gitsei-sub052/etl/jobs"
	"github.com/linuxautomates/gitsei-sub052/etl/pipeline"
	"github.com/linuxautomates/gitsei-sub052/etl/schedule"
	"github.com/linuxautomates/gitsei-sub052/etl/sink"
	"github.com/linuxautomates/gitsei-sub052/etl/worker"
	"github.com/linuxautomates/gitsei-sub052/logger"
)

// core is the set of components every long-running command shares
type core struct {
	store *jobs.SQLStore
	coord *jobs.Coordinator
	cache *schedule.DueJobsCache
}

func newCore(database *sql.DB, cfg *am.Config) *core {
	store := jobs.NewSQLStore(database)
	return &core{
		store: store,
		coord: jobs.NewCoordinator(store, logger.Logger),
		cache: schedule.NewDueJobsCache(store, schedule.CacheConfig{TTL: cfg.Scheduler.CacheTTL()}, logger.Logger),
	}
}

// newTicker returns nil when provisioning is disabled
func (c *core) newTicker(cfg *am.Config) *schedule.Ticker {
	interval := cfg.Scheduler.TickerInterval()
	if interval <= 0 {
		return nil
	}
	return schedule.NewTicker(c.store, c.cache, schedule.TickerConfig{Interval: interval}, logger.Logger)
}

// newRegistry registers the processors this binary ships with
func (c *core) newRegistry(cfg *am.Config) *pipeline.Registry {
	fs := afero.NewOsFs()
	reg := pipeline.NewRegistry()
	reg.Register(feed.New(feed.Config{
		Source:   fs,
		InboxDir: cfg.Storage.InboxDir(),
		Sink:     sink.NewFileSink(fs, cfg.Storage.PagesDir()),
		Options: ingest.Options{
			OutputPageSize:    cfg.Ingest.OutputPageSize,
			SkipEmptyResults:  cfg.Ingest.SkipEmptyResults,
			UniqueOutputFiles: cfg.Ingest.UniqueOutputFiles,
			Now:               time.Now,
		},
		Limiter:   ingest.NewLimiter(cfg.Ingest.RequestsPerSecond),
		Persister: c.coord,
		Logger:    logger.Logger,
	}))
	return reg
}

func (c *core) newPool(cfg *am.Config, workers int) *worker.Pool {
	poolCfg := worker.Config{
		Workers:      workers,
		PollInterval: cfg.Worker.PollInterval(),
		WorkerID:     cfg.Worker.ID,
	}
	return worker.NewPool(c.cache, c.coord, c.store, c.newRegistry(cfg), poolCfg, logger.Logger)
}
