// Package worker runs claimed job instances through registered processors.
//
// Each pool goroutine polls the due-jobs cache, walks the candidates in
// order and claims the first one it can. Losing a claim race is routine:
// the goroutine moves on to the next candidate. A claimed instance is
// marked PENDING, run by the processor registered for its definition and
// finished with the processor's outcome.
package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/linuxautomates/gitsei-sub052/db"
	"github.com/linuxautomates/gitsei-sub052/errors"
	"github.com/linuxautomates/gitsei-sub052/etl/jobs"
	"github.com/linuxautomates/gitsei-sub052/etl/pipeline"
	"github.com/linuxautomates/gitsei-sub052/logger"
)

const (
	// MaxOrphanedJobsToReport limits the startup scan for instances a
	// previous run of this worker left behind
	MaxOrphanedJobsToReport = 1000

	maxConsecutiveErrors = 5
	maxBackoff           = 30 * time.Second
	stopTimeout          = 30 * time.Second
)

// Candidates lists due jobs in run order. *schedule.DueJobsCache implements it.
type Candidates interface {
	Get(ctx context.Context, forceRefresh bool) ([]jobs.JobContext, error)
}

// Coordinator grants ownership and records progress. *jobs.Coordinator implements it.
type Coordinator interface {
	Claim(ctx context.Context, instanceID, workerID string) (jobs.JobContext, error)
	Unclaim(ctx context.Context, instanceID, workerID string) error
	MarkPending(ctx context.Context, instanceID, workerID string) error
	Finish(ctx context.Context, instanceID, workerID string, status jobs.Status, runErr error) error
}

// Config contains configuration for the worker pool
type Config struct {
	Workers      int           `json:"workers"`       // Number of concurrent workers
	PollInterval time.Duration `json:"poll_interval"` // How often to check for due jobs
	WorkerID     string        `json:"worker_id"`     // Identity used when claiming, generated when empty
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Workers:      1,
		PollInterval: 5 * time.Second,
	}
}

// NewWorkerID returns a worker identity unique to this process
func NewWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// Pool manages goroutines that claim and run due jobs
type Pool struct {
	candidates Candidates
	coord      Coordinator
	store      jobs.Store // Optional; used for the orphan scan at startup
	registry   *pipeline.Registry
	cfg        Config
	logger     *zap.SugaredLogger

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu            sync.Mutex
	activeWorkers int
	jobsProcessed int
	jobsFailed    int
	startTime     time.Time
}

// NewPool creates a worker pool. Register processors in registry before Start.
func NewPool(candidates Candidates, coord Coordinator, store jobs.Store, registry *pipeline.Registry, cfg Config, log *zap.SugaredLogger) *Pool {
	return NewPoolWithContext(context.Background(), candidates, coord, store, registry, cfg, log)
}

// NewPoolWithContext creates a worker pool whose workers stop when ctx is cancelled
func NewPoolWithContext(ctx context.Context, candidates Candidates, coord Coordinator, store jobs.Store, registry *pipeline.Registry, cfg Config, log *zap.SugaredLogger) *Pool {
	defaults := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = NewWorkerID()
	}
	if registry == nil {
		registry = pipeline.NewRegistry()
	}
	if log == nil {
		log = logger.Logger
	}

	workerCtx, cancel := context.WithCancel(ctx)
	return &Pool{
		candidates: candidates,
		coord:      coord,
		store:      store,
		registry:   registry,
		cfg:        cfg,
		logger:     log.Named("worker").With(logger.FieldWorkerID, cfg.WorkerID),
		parentCtx:  ctx,
		ctx:        workerCtx,
		cancel:     cancel,
	}
}

// Start launches the workers
func (p *Pool) Start() {
	p.mu.Lock()
	select {
	case <-p.ctx.Done():
		// Restarted after Stop
		p.ctx, p.cancel = context.WithCancel(p.parentCtx)
	default:
	}
	p.startTime = time.Now()
	ctx := p.ctx
	p.mu.Unlock()

	p.reportOrphans(ctx)

	if warning := p.checkMemoryPressure(); warning != "" {
		p.logger.Warnw("Memory pressure warning", "warning", warning, "workers", p.cfg.Workers)
	}

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Infow("Worker pool started",
		"workers", p.cfg.Workers,
		"poll_interval", p.cfg.PollInterval,
		"processors", p.registry.Names())
}

// Stop cancels the workers and waits for running jobs to wind down
func (p *Pool) Stop() {
	p.mu.Lock()
	p.cancel()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Infow("Worker pool stopped")
	case <-time.After(stopTimeout):
		p.logger.Warnw("Worker pool stop timed out, jobs may still be winding down", "timeout", stopTimeout)
	}
}

// reportOrphans logs instances this worker identity still owns. They are
// left for an operator; only the owner may unclaim them.
func (p *Pool) reportOrphans(ctx context.Context) {
	if p.store == nil {
		return
	}
	orphans, err := p.store.FilterInstances(ctx, jobs.InstanceFilter{
		Statuses:       []jobs.Status{jobs.StatusAccepted, jobs.StatusPending},
		WorkerID:       p.cfg.WorkerID,
		ExcludePayload: true,
		Limit:          MaxOrphanedJobsToReport,
	})
	if err != nil {
		p.logger.Warnw("Failed to scan for orphaned jobs", logger.FieldError, err)
		return
	}
	for _, inst := range orphans {
		p.logger.Warnw("Found job owned by a previous run of this worker",
			logger.FieldJobID, inst.ID,
			logger.FieldDefinitionID, inst.DefinitionID,
			logger.FieldStatus, inst.Status)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	errorCount := 0
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := p.drain(ctx)
		if err == nil {
			if errorCount > 0 {
				p.logger.Infow("Worker recovered from errors",
					"goroutine", id,
					"previous_error_count", errorCount)
			}
			errorCount = 0
			backoff = time.Second
			continue
		}

		if ctx.Err() != nil || db.IsDatabaseClosed(err) {
			return
		}

		errorCount++
		p.logger.Errorw("Worker error processing job",
			"goroutine", id,
			logger.FieldError, err,
			"consecutive_errors", errorCount)

		if errorCount >= maxConsecutiveErrors {
			p.logger.Warnw("Worker backing off due to consecutive errors",
				"goroutine", id,
				"backoff", backoff,
				"consecutive_errors", errorCount)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
		}
	}
}

// drain runs jobs until none are claimable
func (p *Pool) drain(ctx context.Context) error {
	for ctx.Err() == nil {
		ran, err := p.RunNext(ctx)
		if err != nil || !ran {
			return err
		}
	}
	return nil
}

// RunNext claims and runs at most one due job. It reports whether a job ran.
func (p *Pool) RunNext(ctx context.Context) (bool, error) {
	candidates, err := p.candidates.Get(ctx, false)
	if err != nil {
		return false, errors.Wrap(err, "failed to list due jobs")
	}

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return false, nil
		}
		if !p.registry.Has(candidate.ProcessorName) {
			continue
		}

		jc, err := p.coord.Claim(ctx, candidate.InstanceID, p.cfg.WorkerID)
		if err != nil {
			if skippable(err) {
				continue
			}
			return false, err
		}

		if err := p.run(ctx, jc); err != nil {
			return true, err
		}
		return true, nil
	}
	return false, nil
}

// skippable reports claim outcomes that just mean "try the next one"
func skippable(err error) bool {
	return errors.IsAny(err, jobs.ErrClaimConflict, jobs.ErrAlreadyRunning, jobs.ErrDefinitionInactive) ||
		errors.IsNotFound(err)
}

func (p *Pool) run(ctx context.Context, jc jobs.JobContext) error {
	log := p.logger.With(
		logger.FieldJobID, jc.InstanceID,
		logger.FieldDefinitionID, jc.DefinitionID,
		logger.FieldProcessor, jc.ProcessorName)

	processor := p.registry.Get(jc.ProcessorName)
	if processor == nil {
		// Definition changed since the due list was built
		log.Warnw("No processor registered, releasing job")
		return p.coord.Unclaim(ctx, jc.InstanceID, p.cfg.WorkerID)
	}

	if err := p.coord.MarkPending(ctx, jc.InstanceID, p.cfg.WorkerID); err != nil {
		// Don't leave the job ACCEPTED under this worker
		if uerr := p.coord.Unclaim(context.WithoutCancel(ctx), jc.InstanceID, p.cfg.WorkerID); uerr != nil {
			err = errors.WithSecondaryError(err, uerr)
		}
		return errors.Wrap(err, "failed to mark job pending")
	}

	p.mu.Lock()
	p.activeWorkers++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.activeWorkers--
		p.mu.Unlock()
	}()

	runCtx := logger.WithWorkerID(logger.WithJobID(ctx, jc.InstanceID), p.cfg.WorkerID)
	start := time.Now()
	outcome := processor.Run(runCtx, jc)

	if ctx.Err() != nil {
		// Shutting down: hand the job back so another worker can take it
		log.Warnw("Job interrupted by shutdown, releasing")
		return p.coord.Unclaim(context.WithoutCancel(ctx), jc.InstanceID, p.cfg.WorkerID)
	}

	p.mu.Lock()
	p.jobsProcessed++
	if outcome.Status == jobs.StatusFailure {
		p.jobsFailed++
	}
	p.mu.Unlock()

	log.Infow("Job run complete",
		logger.FieldStatus, outcome.Status,
		logger.FieldDurationMS, time.Since(start).Milliseconds())

	if err := p.coord.Finish(ctx, jc.InstanceID, p.cfg.WorkerID, outcome.Status, outcome.Err); err != nil {
		return errors.Wrap(err, "failed to record job outcome")
	}
	return nil
}

// WorkerID returns the identity this pool claims jobs under
func (p *Pool) WorkerID() string {
	return p.cfg.WorkerID
}

// Workers returns the number of concurrent workers configured for this pool
func (p *Pool) Workers() int {
	return p.cfg.Workers
}

// Registry returns the processor registry
func (p *Pool) Registry() *pipeline.Registry {
	return p.registry
}
