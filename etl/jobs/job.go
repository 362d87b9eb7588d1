// Package jobs models ETL job definitions and instances, persists them, and
// coordinates exclusive ownership of instances between competing workers.
package jobs

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a job instance
type Status string

const (
	StatusUnassigned     Status = "UNASSIGNED"
	StatusScheduled      Status = "SCHEDULED"
	StatusAccepted       Status = "ACCEPTED"
	StatusPending        Status = "PENDING"
	StatusSuccess        Status = "SUCCESS"
	StatusPartialSuccess Status = "PARTIAL_SUCCESS"
	StatusFailure        Status = "FAILURE"
)

// OpenStatuses are the non-terminal states
var OpenStatuses = []Status{StatusUnassigned, StatusScheduled, StatusAccepted, StatusPending}

// IsValid returns true if s is a known status
func (s Status) IsValid() bool {
	switch s {
	case StatusUnassigned, StatusScheduled, StatusAccepted, StatusPending,
		StatusSuccess, StatusPartialSuccess, StatusFailure:
		return true
	default:
		return false
	}
}

// IsClaimable reports whether a worker may take ownership from this state
func (s Status) IsClaimable() bool {
	return s == StatusUnassigned || s == StatusScheduled
}

// IsTerminal reports whether the run has finished
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusPartialSuccess || s == StatusFailure
}

// IsOwned reports whether a worker holds the instance
func (s Status) IsOwned() bool {
	return s == StatusAccepted || s == StatusPending
}

var transitions = map[Status][]Status{
	StatusUnassigned: {StatusScheduled, StatusAccepted},
	StatusScheduled:  {StatusAccepted},
	StatusAccepted:   {StatusPending, StatusScheduled, StatusSuccess, StatusPartialSuccess, StatusFailure},
	StatusPending:    {StatusScheduled, StatusSuccess, StatusPartialSuccess, StatusFailure},
}

// CanTransition reports whether an instance may move from one status to another.
// Terminal states have no outgoing edges.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Definition is the long-lived configuration of a recurring ingestion job
type Definition struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	IntegrationID   string          `json:"integration_id"`
	IntegrationType string          `json:"integration_type"` // Tag used when storing pages, e.g. "jira"
	ProcessorName   string          `json:"processor_name"`   // Which pipeline runs this job
	IsActive        bool            `json:"is_active"`
	Metadata        json.RawMessage `json:"metadata,omitempty"` // Checkpoint envelope between runs
	IntervalSeconds int             `json:"interval_seconds"`   // 0 = provision once
	NextRunAt       *time.Time      `json:"next_run_at,omitempty"`
	DefaultPriority int             `json:"default_priority"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Interval returns the provisioning period
func (d *Definition) Interval() time.Duration {
	return time.Duration(d.IntervalSeconds) * time.Second
}

// Instance is one scheduled run of a Definition
type Instance struct {
	ID                        string          `json:"id"`
	DefinitionID              string          `json:"definition_id"`
	Status                    Status          `json:"status"`
	Priority                  int             `json:"priority"` // Lower runs first
	ScheduledStartTime        time.Time       `json:"scheduled_start_time"`
	WorkerID                  string          `json:"worker_id,omitempty"` // Empty when unowned
	Payload                   json.RawMessage `json:"payload,omitempty"`
	Progress                  json.RawMessage `json:"progress,omitempty"`
	FullIngestionSourceJobIDs []string        `json:"full_ingestion_source_job_ids,omitempty"`
	IsFull                    bool            `json:"is_full"`
	Error                     string          `json:"error,omitempty"`
	StatusChangedAt           *time.Time      `json:"status_changed_at,omitempty"`
	CreatedAt                 time.Time       `json:"created_at"`
	UpdatedAt                 time.Time       `json:"updated_at"`
}

// NewInstance creates a SCHEDULED instance of def due at start
func NewInstance(def *Definition, start time.Time, isFull bool) *Instance {
	now := time.Now()
	return &Instance{
		ID:                 NewInstanceID(),
		DefinitionID:       def.ID,
		Status:             StatusScheduled,
		Priority:           def.DefaultPriority,
		ScheduledStartTime: start,
		IsFull:             isFull,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// NewInstanceID returns a fresh random instance id
func NewInstanceID() string {
	return uuid.NewString()
}

// JobContext is a read-only snapshot of an instance joined with its definition.
// It is passed by value; slices and raw JSON are copied on construction.
type JobContext struct {
	InstanceID                string          `json:"job_instance_id"`
	DefinitionID              string          `json:"job_definition_id"`
	TenantID                  string          `json:"tenant_id"`
	IntegrationID             string          `json:"integration_id"`
	IntegrationType           string          `json:"integration_type"`
	ProcessorName             string          `json:"processor_name"`
	Status                    Status          `json:"status"`
	Priority                  int             `json:"priority"`
	ScheduledStartTime        time.Time       `json:"scheduled_start_time"`
	WorkerID                  string          `json:"worker_id,omitempty"`
	IsFull                    bool            `json:"is_full"`
	FullIngestionSourceJobIDs []string        `json:"full_ingestion_source_job_ids,omitempty"`
	Metadata                  json.RawMessage `json:"metadata,omitempty"`
	Payload                   json.RawMessage `json:"payload,omitempty"`
}

// NewJobContext projects a definition and one of its instances
func NewJobContext(def *Definition, inst *Instance) JobContext {
	return JobContext{
		InstanceID:                inst.ID,
		DefinitionID:              def.ID,
		TenantID:                  def.TenantID,
		IntegrationID:             def.IntegrationID,
		IntegrationType:           def.IntegrationType,
		ProcessorName:             def.ProcessorName,
		Status:                    inst.Status,
		Priority:                  inst.Priority,
		ScheduledStartTime:        inst.ScheduledStartTime,
		WorkerID:                  inst.WorkerID,
		IsFull:                    inst.IsFull,
		FullIngestionSourceJobIDs: slices.Clone(inst.FullIngestionSourceJobIDs),
		Metadata:                  slices.Clone(def.Metadata),
		Payload:                   slices.Clone(inst.Payload),
	}
}

// JobID is the identifier pages are stored under
func (c JobContext) JobID() string {
	return c.InstanceID
}
