package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/linuxautomates/gitsei-sub052/errors"
	"github.com/linuxautomates/gitsei-sub052/etl/jobs"
	"github.com/linuxautomates/gitsei-sub052/logger"
)

// Ticker materialises SCHEDULED instances from active definitions whose
// next run has arrived.
type Ticker struct {
	store    jobs.ProvisioningStore
	cache    *DueJobsCache // Optional; invalidated when instances are created
	interval time.Duration
	now      func() time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
}

// TickerConfig contains configuration for the provisioning ticker
type TickerConfig struct {
	Interval time.Duration // How often to look for due definitions
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval: 30 * time.Second,
	}
}

// NewTicker creates a new provisioning ticker
func NewTicker(store jobs.ProvisioningStore, cache *DueJobsCache, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), store, cache, cfg, log)
}

// NewTickerWithContext creates a ticker with a parent context
func NewTickerWithContext(ctx context.Context, store jobs.ProvisioningStore, cache *DueJobsCache, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}
	if log == nil {
		log = logger.Logger
	}
	tickerCtx, cancel := context.WithCancel(ctx)

	return &Ticker{
		store:    store,
		cache:    cache,
		interval: cfg.Interval,
		now:      time.Now,
		ctx:      tickerCtx,
		cancel:   cancel,
		logger:   log.Named("ticker"),
	}
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.logger.Infow("Provisioning ticker started", "interval", t.interval)
}

// Stop gracefully stops the ticker
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Infow("Provisioning ticker stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			now := t.now()
			t.mu.Lock()
			t.lastTickAt = now
			t.ticksSinceStart++
			ticks := t.ticksSinceStart
			t.mu.Unlock()

			if _, err := t.Tick(t.ctx, now); err != nil {
				t.logger.Warnw("Provisioning tick error", "error", err, "tick", ticks)
			}
		}
	}
}

// Tick provisions every due definition without an open instance and
// returns how many instances were created. Errors on one definition do
// not stop the others; the first is returned.
func (t *Ticker) Tick(ctx context.Context, now time.Time) (int, error) {
	defs, err := t.store.ListDueDefinitions(ctx, now)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list due definitions")
	}

	created := 0
	var firstErr error
	for _, def := range defs {
		ok, err := t.provision(ctx, def, now)
		if err != nil {
			t.logger.Warnw("Failed to provision definition",
				logger.FieldDefinitionID, def.ID,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			created++
		}
	}

	if created > 0 && t.cache != nil {
		t.cache.Invalidate()
	}
	return created, firstErr
}

func (t *Ticker) provision(ctx context.Context, def *jobs.Definition, now time.Time) (bool, error) {
	open, err := t.store.HasInstanceIn(ctx, def.ID, jobs.OpenStatuses)
	if err != nil {
		return false, err
	}
	if open {
		// Previous run still in flight; try again next tick
		t.logger.Debugw("Definition has open instance, skipping",
			logger.FieldDefinitionID, def.ID)
		return false, nil
	}

	hasSucceeded, err := t.store.HasInstanceIn(ctx, def.ID, []jobs.Status{jobs.StatusSuccess, jobs.StatusPartialSuccess})
	if err != nil {
		return false, err
	}

	start := now
	if def.NextRunAt != nil {
		start = *def.NextRunAt
	}
	inst := jobs.NewInstance(def, start, !hasSucceeded)
	if err := t.store.CreateInstance(ctx, inst); err != nil {
		return false, err
	}

	if err := t.store.AdvanceDefinition(ctx, def.ID, NextRun(def, now)); err != nil {
		err = errors.Wrap(err, "instance created but next run not advanced")
		return true, errors.WithDetail(err, fmt.Sprintf("Job ID: %s", inst.ID))
	}

	t.logger.Infow("Provisioned job instance",
		logger.FieldJobID, inst.ID,
		logger.FieldDefinitionID, def.ID,
		"is_full", inst.IsFull,
		"priority", inst.Priority)
	return true, nil
}

// NextRun returns the run after def's current one. Missed runs are skipped
// rather than replayed. Nil means the definition is one-shot.
func NextRun(def *jobs.Definition, now time.Time) *time.Time {
	if def.IntervalSeconds <= 0 {
		return nil
	}
	next := now
	if def.NextRunAt != nil {
		next = *def.NextRunAt
	}
	interval := def.Interval()
	if !next.After(now) {
		missed := now.Sub(next)/interval + 1
		next = next.Add(missed * interval)
	}
	return &next
}

// Stats returns tick bookkeeping for status output
func (t *Ticker) Stats() (lastTickAt time.Time, ticks int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastTickAt, t.ticksSinceStart
}
