package jobs

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/linuxautomates/gitsei-sub052/errors"
)

// Timestamps are stored as unix milliseconds.
func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func nullRaw(raw json.RawMessage) sql.NullString {
	return sql.NullString{String: string(raw), Valid: len(raw) > 0}
}

const definitionColumns = `id, tenant_id, integration_id, integration_type, processor_name,
	is_active, metadata, interval_seconds, next_run_at, default_priority, created_at, updated_at`

const instanceColumns = `id, definition_id, status, priority, scheduled_start_time, worker_id,
	payload, progress, full_ingestion_source_job_ids, is_full, error, status_changed_at,
	created_at, updated_at`

// instanceColumnsNoPayload keeps column order but skips the large blobs
const instanceColumnsNoPayload = `id, definition_id, status, priority, scheduled_start_time, worker_id,
	NULL, NULL, full_ingestion_source_job_ids, is_full, error, status_changed_at,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDefinition(row rowScanner) (*Definition, error) {
	var (
		def        Definition
		metadata   sql.NullString
		nextRunAt  sql.NullInt64
		created    int64
		updated    int64
		isActiveDB int
	)

	err := row.Scan(
		&def.ID,
		&def.TenantID,
		&def.IntegrationID,
		&def.IntegrationType,
		&def.ProcessorName,
		&isActiveDB,
		&metadata,
		&def.IntervalSeconds,
		&nextRunAt,
		&def.DefaultPriority,
		&created,
		&updated,
	)
	if err != nil {
		return nil, err
	}

	def.IsActive = isActiveDB != 0
	if metadata.Valid {
		def.Metadata = json.RawMessage(metadata.String)
	}
	if nextRunAt.Valid {
		t := fromMillis(nextRunAt.Int64)
		def.NextRunAt = &t
	}
	def.CreatedAt = fromMillis(created)
	def.UpdatedAt = fromMillis(updated)

	return &def, nil
}

func scanInstance(row rowScanner) (*Instance, error) {
	var (
		inst          Instance
		scheduled     int64
		payload       sql.NullString
		progress      sql.NullString
		sourceJobIDs  sql.NullString
		isFull        int
		statusChanged sql.NullInt64
		created       int64
		updated       int64
	)

	err := row.Scan(
		&inst.ID,
		&inst.DefinitionID,
		&inst.Status,
		&inst.Priority,
		&scheduled,
		&inst.WorkerID,
		&payload,
		&progress,
		&sourceJobIDs,
		&isFull,
		&inst.Error,
		&statusChanged,
		&created,
		&updated,
	)
	if err != nil {
		return nil, err
	}

	inst.ScheduledStartTime = fromMillis(scheduled)
	inst.IsFull = isFull != 0
	if payload.Valid {
		inst.Payload = json.RawMessage(payload.String)
	}
	if progress.Valid {
		inst.Progress = json.RawMessage(progress.String)
	}
	if sourceJobIDs.Valid && sourceJobIDs.String != "" {
		if err := json.Unmarshal([]byte(sourceJobIDs.String), &inst.FullIngestionSourceJobIDs); err != nil {
			return nil, errors.Wrapf(err, "failed to decode full ingestion source ids for instance %s", inst.ID)
		}
	}
	if statusChanged.Valid {
		t := fromMillis(statusChanged.Int64)
		inst.StatusChangedAt = &t
	}
	inst.CreatedAt = fromMillis(created)
	inst.UpdatedAt = fromMillis(updated)

	return &inst, nil
}

func scanInstances(rows *sql.Rows) ([]*Instance, error) {
	var out []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job instance")
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating job instances")
	}
	return out, nil
}

func scanDefinitions(rows *sql.Rows) ([]*Definition, error) {
	var out []*Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job definition")
		}
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating job definitions")
	}
	return out, nil
}
