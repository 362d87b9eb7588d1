package server

import (
	"time"

	"github.com/linuxautomates/gitsei-sub052/etl/jobs"
	"github.com/linuxautomates/gitsei-sub052/etl/schedule"
	"github.com/linuxautomates/gitsei-sub052/etl/worker"
)

// ServerState represents the server lifecycle state
type ServerState int

const (
	ServerStateRunning  ServerState = iota // Normal operation
	ServerStateDraining                    // Graceful shutdown in progress
	ServerStateStopped                     // Shutdown complete
)

// Error codes returned in the "code" field of error responses
const (
	CodeInvalidRequest     = "invalid_request"
	CodeNotFound           = "not_found"
	CodeClaimConflict      = "claim_conflict"
	CodeAlreadyRunning     = "already_running"
	CodeDefinitionInactive = "definition_inactive"
	CodeNotOwner           = "not_owner"
	CodeUnavailable        = "unavailable"
	CodeInternal           = "internal"
)

// JobsToRunResponse is returned by GET /v1/jobs_to_run
type JobsToRunResponse struct {
	Jobs  []jobs.JobContext `json:"jobs"`
	Count int               `json:"count"`
}

// ClaimResponse is returned by a successful claim
type ClaimResponse struct {
	Job jobs.JobContext `json:"job"`
}

// UnclaimResponse is returned by a successful unclaim
type UnclaimResponse struct {
	JobInstanceID string `json:"job_instance_id"`
	Status        string `json:"status"`
}

// ErrorResponse is the body of every 4xx/5xx response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status      string                `json:"status"`
	ServerState string                `json:"server_state"`
	Version     string                `json:"version"`
	Commit      string                `json:"commit"`
	Clients     int                   `json:"clients"`
	Cache       schedule.CacheStats   `json:"cache"`
	Metrics     worker.SystemMetrics  `json:"metrics"`
	Ticker      *TickerHealth         `json:"ticker,omitempty"`
}

// TickerHealth summarises the provisioning ticker
type TickerHealth struct {
	LastTickAt time.Time `json:"last_tick_at"`
	Ticks      int64     `json:"ticks"`
}
