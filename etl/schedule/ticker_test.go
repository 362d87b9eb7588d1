package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/linuxautomates/gitsei-sub052/etl/jobs"
	"github.com/linuxautomates/gitsei-sub052/internal/util"
)

func recurringDefinition(t *testing.T, store *jobs.SQLStore, id string, next time.Time, interval time.Duration) *jobs.Definition {
	t.Helper()
	def := &jobs.Definition{
		ID:              id,
		TenantID:        "acme",
		IntegrationID:   "int-" + id,
		IntegrationType: "github",
		ProcessorName:   "github.commits",
		IsActive:        true,
		IntervalSeconds: int(interval / time.Second),
		NextRunAt:       &next,
		DefaultPriority: 3,
	}
	require.NoError(t, store.CreateDefinition(context.Background(), def))
	return def
}

func TestTicker_ProvisionsDueDefinition(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	def := recurringDefinition(t, store, "def-1", now.Add(-time.Minute), time.Hour)

	cache := NewDueJobsCache(store, CacheConfig{Now: func() time.Time { return now }}, nil)
	_, err := cache.Get(ctx, false)
	require.NoError(t, err)

	ticker := NewTicker(store, cache, DefaultTickerConfig(), zaptest.NewLogger(t).Sugar())
	created, err := ticker.Tick(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	instances, err := store.FilterInstances(ctx, jobs.InstanceFilter{DefinitionID: def.ID})
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, jobs.StatusScheduled, instances[0].Status)
	assert.Equal(t, 3, instances[0].Priority)
	assert.True(t, instances[0].IsFull, "first run of a definition is a full ingestion")

	got, err := store.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, now.Add(59*time.Minute).Equal(*got.NextRunAt))

	// Cache was invalidated so the new instance is visible immediately
	assert.False(t, cache.Stats().Valid)
	due, err := cache.Get(ctx, false)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestTicker_SkipsWhileInstanceOpen(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	recurringDefinition(t, store, "def-1", now.Add(-time.Minute), time.Minute)

	ticker := NewTicker(store, nil, DefaultTickerConfig(), nil)

	created, err := ticker.Tick(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	created, err = ticker.Tick(ctx, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, created, "open instance blocks a second one")
}

func TestTicker_IncrementalAfterSuccess(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	def := recurringDefinition(t, store, "def-1", now.Add(-time.Minute), time.Minute)

	prev := jobs.NewInstance(def, now.Add(-time.Hour), true)
	prev.Status = jobs.StatusSuccess
	require.NoError(t, store.CreateInstance(ctx, prev))

	ticker := NewTicker(store, nil, DefaultTickerConfig(), nil)
	created, err := ticker.Tick(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, created)

	open, err := store.FilterInstances(ctx, jobs.InstanceFilter{DefinitionID: def.ID, Statuses: []jobs.Status{jobs.StatusScheduled}})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.False(t, open[0].IsFull)
}

func TestTicker_OneShotDefinition(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	def := recurringDefinition(t, store, "def-1", now, 0)

	ticker := NewTicker(store, nil, DefaultTickerConfig(), nil)
	created, err := ticker.Tick(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	got, err := store.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Nil(t, got.NextRunAt, "one-shot definitions stop provisioning")
}

func TestNextRun(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		next     *time.Time
		interval int
		want     *time.Time
	}{
		{name: "one shot", next: &now, interval: 0, want: nil},
		{name: "on time", next: util.Ptr(now), interval: 60, want: util.Ptr(now.Add(time.Minute))},
		{name: "missed runs are skipped", next: util.Ptr(now.Add(-10*time.Minute - time.Second)), interval: 60, want: util.Ptr(now.Add(59 * time.Second))},
		{name: "no previous run", next: nil, interval: 3600, want: util.Ptr(now.Add(time.Hour))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextRun(&jobs.Definition{NextRunAt: tt.next, IntervalSeconds: tt.interval}, now)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "want %s got %s", tt.want, got)
		})
	}
}

func TestTicker_StartStop(t *testing.T) {
	store := newStore(t)
	ticker := NewTicker(store, nil, TickerConfig{Interval: 10 * time.Millisecond}, nil)
	ticker.Start()

	require.Eventually(t, func() bool {
		_, ticks := ticker.Stats()
		return ticks >= 2
	}, 2*time.Second, 5*time.Millisecond)

	ticker.Stop()
}

