// Package server exposes the claim coordinator over HTTP.
//
// Workers pull the due list from GET /v1/jobs_to_run, then race to claim
// an instance with PATCH /v1/claim_job. Exactly one racer gets 200; the
// others get 409 and move on. GET /ws/jobs streams coordinator events.
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/linuxautomates/gitsei-sub052/etl/jobs"
	"github.com/linuxautomates/gitsei-sub052/etl/schedule"
	"github.com/linuxautomates/gitsei-sub052/etl/worker"
	"github.com/linuxautomates/gitsei-sub052/logger"
)

// ShutdownTimeout bounds how long Stop waits for connections and goroutines
const ShutdownTimeout = 10 * time.Second

// Config configures the HTTP server
type Config struct {
	Port           int
	AllowedOrigins []string
}

// Server serves the job coordination API
type Server struct {
	coord   *jobs.Coordinator
	cache   *schedule.DueJobsCache
	ticker  *schedule.Ticker          // Optional, reported on /health
	metrics func() worker.SystemMetrics
	cfg     Config
	logger  *zap.SugaredLogger

	httpServer *http.Server
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	state      atomic.Int32

	mu             sync.RWMutex
	clients        map[*Client]bool
	broadcastDrops atomic.Int64
}

// NewServer creates a server over the coordinator and due-jobs cache
func NewServer(coord *jobs.Coordinator, cache *schedule.DueJobsCache, cfg Config, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = logger.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		coord:   coord,
		cache:   cache,
		metrics: worker.MemoryMetrics,
		cfg:     cfg,
		logger:  log.Named("server"),
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[*Client]bool),
	}
}

// SetTicker attaches the provisioning ticker for health reporting
func (s *Server) SetTicker(t *schedule.Ticker) {
	s.ticker = t
}

// SetMetricsSource replaces the default host-memory metrics, typically
// with an in-process worker pool's SystemMetrics
func (s *Server) SetMetricsSource(fn func() worker.SystemMetrics) {
	if fn != nil {
		s.metrics = fn
	}
}

func (s *Server) getState() ServerState {
	return ServerState(s.state.Load())
}

func (s *Server) setState(newState ServerState) {
	s.state.Store(int32(newState))
	s.logger.Infow("Server state changed", "new_state", stateString(newState))
}

// stateString returns human-readable state name
func stateString(state ServerState) string {
	switch state {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
