package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/linuxautomates/gitsei-sub052/errors"
)

// SQLStore persists definitions and instances in the job database
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLStore creates a store over an already migrated database
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

var _ ProvisioningStore = (*SQLStore)(nil)

// CreateDefinition inserts a new job definition
func (s *SQLStore) CreateDefinition(ctx context.Context, def *Definition) error {
	now := s.now()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now

	query := `
		INSERT INTO job_definitions (
			id, tenant_id, integration_id, integration_type, processor_name,
			is_active, metadata, interval_seconds, next_run_at, default_priority,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		def.ID,
		def.TenantID,
		def.IntegrationID,
		def.IntegrationType,
		def.ProcessorName,
		boolToInt(def.IsActive),
		nullRaw(def.Metadata),
		def.IntervalSeconds,
		nullMillis(def.NextRunAt),
		def.DefaultPriority,
		toMillis(def.CreatedAt),
		toMillis(def.UpdatedAt),
	)
	if err != nil {
		err = errors.Wrap(err, "failed to create job definition")
		return errors.WithDetail(err, fmt.Sprintf("Definition ID: %s", def.ID))
	}
	return nil
}

// GetDefinition retrieves a definition by ID
func (s *SQLStore) GetDefinition(ctx context.Context, id string) (*Definition, error) {
	query := `SELECT ` + definitionColumns + ` FROM job_definitions WHERE id = ?`

	def, err := scanDefinition(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job definition %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job definition %s", id)
	}
	return def, nil
}

// GetDefinitions batch-loads definitions by ID
func (s *SQLStore) GetDefinitions(ctx context.Context, ids []string) (map[string]*Definition, error) {
	out := make(map[string]*Definition, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `SELECT ` + definitionColumns + ` FROM job_definitions WHERE id IN (` + placeholders(len(ids)) + `)`
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load job definitions")
	}
	defer rows.Close()

	defs, err := scanDefinitions(rows)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		out[def.ID] = def
	}
	return out, nil
}

// ListDefinitions returns definitions ordered by creation time
func (s *SQLStore) ListDefinitions(ctx context.Context, activeOnly bool) ([]*Definition, error) {
	query := `SELECT ` + definitionColumns + ` FROM job_definitions`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list job definitions")
	}
	defer rows.Close()

	return scanDefinitions(rows)
}

// ListDueDefinitions returns active definitions whose next run is at or before now
func (s *SQLStore) ListDueDefinitions(ctx context.Context, now time.Time) ([]*Definition, error) {
	query := `SELECT ` + definitionColumns + `
		FROM job_definitions
		WHERE is_active = 1
		  AND next_run_at IS NOT NULL
		  AND next_run_at <= ?
		ORDER BY next_run_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, toMillis(now))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due job definitions")
	}
	defer rows.Close()

	return scanDefinitions(rows)
}

// AdvanceDefinition moves a definition's next run time. Nil stops provisioning.
func (s *SQLStore) AdvanceDefinition(ctx context.Context, id string, nextRunAt *time.Time) error {
	return s.updateDefinition(ctx, id, "next_run_at = ?", nullMillis(nextRunAt))
}

// SetDefinitionActive switches a definition on or off
func (s *SQLStore) SetDefinitionActive(ctx context.Context, id string, active bool) error {
	return s.updateDefinition(ctx, id, "is_active = ?", boolToInt(active))
}

// UpdateDefinitionMetadata replaces a definition's metadata (checkpoint envelope).
// Nil metadata clears it.
func (s *SQLStore) UpdateDefinitionMetadata(ctx context.Context, id string, metadata json.RawMessage) error {
	return s.updateDefinition(ctx, id, "metadata = ?", nullRaw(metadata))
}

func (s *SQLStore) updateDefinition(ctx context.Context, id string, set string, value interface{}) error {
	query := `UPDATE job_definitions SET ` + set + `, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, value, toMillis(s.now()), id)
	if err != nil {
		err = errors.Wrap(err, "failed to update job definition")
		return errors.WithDetail(err, fmt.Sprintf("Definition ID: %s", id))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("job definition %s", id)
	}
	return nil
}

// CreateInstance inserts a new job instance
func (s *SQLStore) CreateInstance(ctx context.Context, inst *Instance) error {
	if !inst.Status.IsValid() {
		return errors.NewInvalidRequestError("invalid status %q for instance %s", inst.Status, inst.ID)
	}

	now := s.now()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now

	var sourceIDs sql.NullString
	if len(inst.FullIngestionSourceJobIDs) > 0 {
		encoded, err := json.Marshal(inst.FullIngestionSourceJobIDs)
		if err != nil {
			return errors.Wrap(err, "failed to encode full ingestion source ids")
		}
		sourceIDs = sql.NullString{String: string(encoded), Valid: true}
	}

	query := `
		INSERT INTO job_instances (
			id, definition_id, status, priority, scheduled_start_time, worker_id,
			payload, progress, full_ingestion_source_job_ids, is_full, error,
			status_changed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		inst.ID,
		inst.DefinitionID,
		inst.Status,
		inst.Priority,
		toMillis(inst.ScheduledStartTime),
		inst.WorkerID,
		nullRaw(inst.Payload),
		nullRaw(inst.Progress),
		sourceIDs,
		boolToInt(inst.IsFull),
		inst.Error,
		nullMillis(inst.StatusChangedAt),
		toMillis(inst.CreatedAt),
		toMillis(inst.UpdatedAt),
	)
	if err != nil {
		err = errors.Wrap(err, "failed to create job instance")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", inst.ID))
		return errors.WithDetail(err, fmt.Sprintf("Definition ID: %s", inst.DefinitionID))
	}
	return nil
}

// GetInstance retrieves an instance by ID, payload included
func (s *SQLStore) GetInstance(ctx context.Context, id string) (*Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM job_instances WHERE id = ?`

	inst, err := scanInstance(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job instance %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job instance %s", id)
	}
	return inst, nil
}

// FilterInstances returns instances matching filter in due order
func (s *SQLStore) FilterInstances(ctx context.Context, filter InstanceFilter) ([]*Instance, error) {
	columns := instanceColumns
	if filter.ExcludePayload {
		columns = instanceColumnsNoPayload
	}

	var (
		where []string
		args  []interface{}
	)
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
	}
	if filter.DefinitionID != "" {
		where = append(where, "definition_id = ?")
		args = append(args, filter.DefinitionID)
	}
	if filter.WorkerID != "" {
		where = append(where, "worker_id = ?")
		args = append(args, filter.WorkerID)
	}
	if filter.DueBefore != nil {
		where = append(where, "scheduled_start_time <= ?")
		args = append(args, toMillis(*filter.DueBefore))
	}

	query := `SELECT ` + columns + ` FROM job_instances`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY priority ASC, scheduled_start_time ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to filter job instances")
	}
	defer rows.Close()

	return scanInstances(rows)
}

// HasInstanceIn reports whether definitionID has an instance in any of statuses
func (s *SQLStore) HasInstanceIn(ctx context.Context, definitionID string, statuses []Status) (bool, error) {
	if len(statuses) == 0 {
		return false, nil
	}

	query := `SELECT EXISTS(SELECT 1 FROM job_instances WHERE definition_id = ? AND status IN (` + placeholders(len(statuses)) + `))`
	args := []interface{}{definitionID}
	for _, st := range statuses {
		args = append(args, st)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, errors.Wrapf(err, "failed to check instances of definition %s", definitionID)
	}
	return exists, nil
}

// UpdateInstanceIf applies update in one UPDATE guarded by pre.
// The row count decides the outcome, so concurrent callers cannot both win.
func (s *SQLStore) UpdateInstanceIf(ctx context.Context, id string, update InstanceUpdate, pre Precondition) (bool, error) {
	if update.IsEmpty() {
		return false, errors.NewInvalidRequestError("empty update for job instance %s", id)
	}

	query, args := buildConditionalUpdate(id, update, pre, s.now())

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		err = errors.Wrap(err, "failed to update job instance")
		return false, errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return rows == 1, nil
}

// buildConditionalUpdate renders the guarded UPDATE. Column order is fixed
// so the statement text is stable for a given update shape.
func buildConditionalUpdate(id string, update InstanceUpdate, pre Precondition, now time.Time) (string, []interface{}) {
	var (
		sets []string
		args []interface{}
	)
	if update.Status != nil {
		sets = append(sets, "status = ?", "status_changed_at = ?")
		args = append(args, *update.Status, toMillis(now))
	}
	if update.WorkerID != nil {
		sets = append(sets, "worker_id = ?")
		args = append(args, *update.WorkerID)
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *update.Error)
	}
	if update.Progress != nil {
		sets = append(sets, "progress = ?")
		args = append(args, string(update.Progress))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, toMillis(now))

	query := `UPDATE job_instances SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	args = append(args, id)

	if len(pre.Statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(pre.Statuses)) + `)`
		for _, st := range pre.Statuses {
			args = append(args, st)
		}
	}
	if pre.WorkerID != nil {
		query += ` AND worker_id = ?`
		args = append(args, *pre.WorkerID)
	}

	return query, args
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
