// Package schedule keeps the ordered list of due job instances and
// provisions new instances from active definitions.
package schedule

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/linuxautomates/gitsei-sub052/errors"
	"github.com/linuxautomates/gitsei-sub052/etl/jobs"
	"github.com/linuxautomates/gitsei-sub052/logger"
)

// DefaultCacheTTL is how long a computed due list is served
const DefaultCacheTTL = 2 * time.Minute

// CacheConfig configures the due-jobs cache
type CacheConfig struct {
	TTL time.Duration
	Now func() time.Time // Injected clock, time.Now when nil
}

// DefaultCacheConfig returns sensible defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: DefaultCacheTTL,
		Now: time.Now,
	}
}

// DueJobsCache holds one computed list of due instances, ordered by
// (priority, scheduled start). It only reduces store load; workers still
// need a successful claim before running anything in the list.
type DueJobsCache struct {
	store  jobs.Store
	logger *zap.SugaredLogger
	now    func() time.Time

	mu         sync.RWMutex
	ttl        time.Duration
	entries    []jobs.JobContext
	computedAt time.Time
	valid      bool
	generation uint64 // Bumped by Invalidate so in-flight recomputes don't repopulate

	group singleflight.Group
}

// NewDueJobsCache creates an empty cache over store
func NewDueJobsCache(store jobs.Store, cfg CacheConfig, log *zap.SugaredLogger) *DueJobsCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logger.Logger
	}
	return &DueJobsCache{
		store:  store,
		logger: log.Named("due-cache"),
		now:    cfg.Now,
		ttl:    cfg.TTL,
	}
}

// Get returns the due list, recomputing it when expired or when
// forceRefresh is set. Concurrent recomputes share one store round trip.
func (c *DueJobsCache) Get(ctx context.Context, forceRefresh bool) ([]jobs.JobContext, error) {
	if forceRefresh {
		c.Invalidate()
	} else if entries, ok := c.fresh(); ok {
		return entries, nil
	}

	// Keyed by generation so a refresh never joins a recompute that
	// started before the last Invalidate
	gen := c.currentGeneration()
	v, err, _ := c.group.Do(fmt.Sprintf("due-%d", gen), func() (interface{}, error) {
		return c.recompute(context.WithoutCancel(ctx), gen)
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]jobs.JobContext)), nil
}

// Invalidate drops the cached list; the next Get recomputes
func (c *DueJobsCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
	c.entries = nil
	c.generation++
}

// SetTTL changes the lifetime applied to the current and future lists
func (c *DueJobsCache) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
}

// TTL returns the current lifetime
func (c *DueJobsCache) TTL() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ttl
}

// CacheStats describes the cached list for status output
type CacheStats struct {
	Valid      bool          `json:"valid"`
	Size       int           `json:"size"`
	ComputedAt time.Time     `json:"computed_at,omitempty"`
	TTL        time.Duration `json:"ttl"`
}

// Stats reports the cache state without triggering a recompute
func (c *DueJobsCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	valid := c.valid && c.now().Sub(c.computedAt) < c.ttl
	return CacheStats{
		Valid:      valid,
		Size:       len(c.entries),
		ComputedAt: c.computedAt,
		TTL:        c.ttl,
	}
}

func (c *DueJobsCache) fresh() ([]jobs.JobContext, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.valid || c.now().Sub(c.computedAt) >= c.ttl {
		return nil, false
	}
	return slices.Clone(c.entries), true
}

func (c *DueJobsCache) currentGeneration() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

func (c *DueJobsCache) recompute(ctx context.Context, gen uint64) ([]jobs.JobContext, error) {
	now := c.now()
	entries, err := ComputeDueJobs(ctx, c.store, now, c.logger)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if gen == c.generation {
		c.entries = entries
		c.computedAt = now
		c.valid = true
	}
	c.mu.Unlock()

	c.logger.Debugw("Due list recomputed",
		logger.FieldCount, len(entries))
	return entries, nil
}

// ComputeDueJobs loads SCHEDULED instances due at now, joins their
// definitions and returns them in run order. Instances whose definition
// is missing are logged and dropped.
func ComputeDueJobs(ctx context.Context, store jobs.Store, now time.Time, log *zap.SugaredLogger) ([]jobs.JobContext, error) {
	instances, err := store.FilterInstances(ctx, jobs.InstanceFilter{
		Statuses:       []jobs.Status{jobs.StatusScheduled},
		DueBefore:      &now,
		ExcludePayload: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load due job instances")
	}
	if len(instances) == 0 {
		return []jobs.JobContext{}, nil
	}

	ids := make([]string, 0, len(instances))
	seen := make(map[string]struct{}, len(instances))
	for _, inst := range instances {
		if _, ok := seen[inst.DefinitionID]; ok {
			continue
		}
		seen[inst.DefinitionID] = struct{}{}
		ids = append(ids, inst.DefinitionID)
	}

	defs, err := store.GetDefinitions(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load job definitions for due instances")
	}

	out := make([]jobs.JobContext, 0, len(instances))
	for _, inst := range instances {
		def, ok := defs[inst.DefinitionID]
		if !ok {
			if log != nil {
				log.Warnw("Dropping due instance with missing definition",
					logger.FieldJobID, inst.ID,
					logger.FieldDefinitionID, inst.DefinitionID)
			}
			continue
		}
		out = append(out, jobs.NewJobContext(def, inst))
	}
	return out, nil
}
