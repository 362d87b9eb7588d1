package jobs

import (
	"context"
	"encoding/json"
	"time"
)

// InstanceFilter selects instances for FilterInstances.
// Results are always ordered by (priority ASC, scheduled_start_time ASC).
type InstanceFilter struct {
	Statuses       []Status
	DefinitionID   string
	WorkerID       string
	DueBefore      *time.Time // scheduled_start_time <= DueBefore
	ExcludePayload bool       // Leave Payload and Progress empty
	Limit          int        // 0 = no limit
}

// InstanceUpdate lists the fields to change; nil fields are left alone.
type InstanceUpdate struct {
	Status   *Status
	WorkerID *string
	Error    *string
	Progress json.RawMessage
}

// IsEmpty reports whether the update changes nothing
func (u InstanceUpdate) IsEmpty() bool {
	return u.Status == nil && u.WorkerID == nil && u.Error == nil && u.Progress == nil
}

// Precondition guards a conditional update. Empty fields are not checked.
type Precondition struct {
	Statuses []Status // Current status must be one of these
	WorkerID *string  // Current worker must equal this
}

// Store is the persistence the coordinator, cache and worker need.
// GetInstance and GetDefinition wrap errors.ErrNotFound when the row is missing.
type Store interface {
	GetInstance(ctx context.Context, id string) (*Instance, error)
	GetDefinition(ctx context.Context, id string) (*Definition, error)
	// GetDefinitions batch-loads definitions; missing ids are absent from the map.
	GetDefinitions(ctx context.Context, ids []string) (map[string]*Definition, error)
	FilterInstances(ctx context.Context, filter InstanceFilter) ([]*Instance, error)
	// UpdateInstanceIf applies update in a single statement only when pre holds.
	// Returns false, nil when the precondition did not match.
	UpdateInstanceIf(ctx context.Context, id string, update InstanceUpdate, pre Precondition) (bool, error)
	UpdateDefinitionMetadata(ctx context.Context, id string, metadata json.RawMessage) error
}

// ProvisioningStore adds the writes used to create definitions and
// materialise due instances.
type ProvisioningStore interface {
	Store
	CreateDefinition(ctx context.Context, def *Definition) error
	ListDefinitions(ctx context.Context, activeOnly bool) ([]*Definition, error)
	ListDueDefinitions(ctx context.Context, now time.Time) ([]*Definition, error)
	AdvanceDefinition(ctx context.Context, id string, nextRunAt *time.Time) error
	SetDefinitionActive(ctx context.Context, id string, active bool) error
	CreateInstance(ctx context.Context, inst *Instance) error
	HasInstanceIn(ctx context.Context, definitionID string, statuses []Status) (bool, error)
}
