package server

import (
	"net/http"

	"github.com/linuxautomates/gitsei-sub052/errors"
	"github.com/linuxautomates/gitsei-sub052/etl/jobs"
	"github.com/linuxautomates/gitsei-sub052/logger"
	"github.com/linuxautomates/gitsei-sub052/version"
)

// HandleJobsToRun serves the ordered due list.
// disableCache=true recomputes it before responding.
func (s *Server) HandleJobsToRun(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	disableCache, err := queryBool(r, "disableCache")
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	due, err := s.cache.Get(r.Context(), disableCache)
	if err != nil {
		s.writeCoordinatorError(w, r, err)
		return
	}
	if due == nil {
		due = []jobs.JobContext{}
	}

	_ = writeJSON(w, http.StatusOK, JobsToRunResponse{Jobs: due, Count: len(due)})
}

// HandleClaimJob grants a worker exclusive ownership of an instance
func (s *Server) HandleClaimJob(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPatch) {
		return
	}
	if s.getState() != ServerStateRunning {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "server is shutting down")
		return
	}

	params, ok := requireParams(w, r, "job_instance_id", "worker_id")
	if !ok {
		return
	}
	instanceID, workerID := params[0], params[1]

	jc, err := s.coord.Claim(r.Context(), instanceID, workerID)
	if err != nil {
		s.writeCoordinatorError(w, r, err)
		return
	}

	s.logger.Debugw("Claim granted over HTTP",
		logger.FieldJobID, shortID(instanceID),
		logger.FieldWorkerID, workerID)
	_ = writeJSON(w, http.StatusOK, ClaimResponse{Job: jc})
}

// HandleUnclaimJob returns an owned instance to the due list
func (s *Server) HandleUnclaimJob(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPatch) {
		return
	}

	params, ok := requireParams(w, r, "job_instance_id", "worker_id")
	if !ok {
		return
	}
	instanceID, workerID := params[0], params[1]

	if err := s.coord.Unclaim(r.Context(), instanceID, workerID); err != nil {
		s.writeCoordinatorError(w, r, err)
		return
	}

	_ = writeJSON(w, http.StatusOK, UnclaimResponse{JobInstanceID: instanceID, Status: string(jobs.StatusScheduled)})
}

// HandleHealth reports server state, cache state and worker/host metrics
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	versionInfo := version.Get()
	state := s.getState()

	health := HealthResponse{
		Status:      "ok",
		ServerState: stateString(state),
		Version:     versionInfo.Version,
		Commit:      versionInfo.CommitHash,
		Clients:     s.clientCount(),
		Cache:       s.cache.Stats(),
		Metrics:     s.metrics(),
	}
	if state != ServerStateRunning {
		health.Status = "unavailable"
	}
	if s.ticker != nil {
		last, ticks := s.ticker.Stats()
		health.Ticker = &TickerHealth{LastTickAt: last, Ticks: ticks}
	}

	_ = writeJSON(w, http.StatusOK, health)
}

// writeCoordinatorError maps claim/unclaim outcomes to status codes.
// Routine outcomes are not logged as errors.
func (s *Server) writeCoordinatorError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, jobs.ErrClaimConflict):
		writeError(w, http.StatusConflict, CodeClaimConflict, err.Error())
	case errors.Is(err, jobs.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, CodeAlreadyRunning, err.Error())
	case errors.Is(err, jobs.ErrDefinitionInactive):
		writeError(w, http.StatusConflict, CodeDefinitionInactive, err.Error())
	case errors.Is(err, jobs.ErrNotOwner):
		writeError(w, http.StatusForbidden, CodeNotOwner, err.Error())
	case errors.IsNotFound(err):
		writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, errors.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	default:
		s.logger.Errorw("Request failed",
			"path", r.URL.Path,
			logger.FieldError, err,
			"details", errors.GetAllDetails(err))
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}
