// Package stages holds reusable pipeline stages.
package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/linuxautomates/gitsei-sub052/errors"
	"github.com/linuxautomates/gitsei-sub052/etl/checkpoint"
	"github.com/linuxautomates/gitsei-sub052/etl/ingest"
	"github.com/linuxautomates/gitsei-sub052/etl/jobs"
)

// CheckpointPersister stores a checkpoint envelope on a job definition.
// Nil metadata clears it. Implemented by *jobs.Coordinator.
type CheckpointPersister interface {
	PersistCheckpoint(ctx context.Context, definitionID string, metadata json.RawMessage) error
}

// Collector is pipeline state that accumulates what ingestion stages stored
type Collector interface {
	AddResult(dataType string, result ingest.StorageResult)
}

// Results is a ready-made Collector keyed by data type
type Results map[string]ingest.StorageResult

// AddResult merges result into the entry for dataType
func (r Results) AddResult(dataType string, result ingest.StorageResult) {
	acc := r[dataType]
	acc.Merge(result)
	r[dataType] = acc
}

// StreamIngest runs a Streamed strategy as a pipeline stage.
//
// The previous run's checkpoint is decoded from the job's definition
// metadata and handed to Query. When the stream is interrupted, the
// checkpoint carried by the resumable error is persisted and the cause
// returned, so the stage fails but the next instance resumes. A
// successful run clears the checkpoint if it decoded as this stage's own.
type StreamIngest[S Collector, T, Q, C any] struct {
	StageName string
	DataType  string
	Strategy  *ingest.Streamed[T, Q, C]
	Codec     checkpoint.Codec[C]
	Persister CheckpointPersister
	Tolerant  bool

	// Query builds the source query; resume is valid only when hasResume is set
	Query func(jc jobs.JobContext, resume C, hasResume bool) (Q, error)
}

func (s *StreamIngest[S, T, Q, C]) Name() string {
	if s.StageName != "" {
		return s.StageName
	}
	return "ingest-" + s.DataType
}

func (s *StreamIngest[S, T, Q, C]) AllowFailure() bool { return s.Tolerant }

func (s *StreamIngest[S, T, Q, C]) PreStage(ctx context.Context, jc jobs.JobContext, state S) error {
	return nil
}

func (s *StreamIngest[S, T, Q, C]) PostStage(ctx context.Context, jc jobs.JobContext, state S) error {
	return nil
}

// Process runs the stream for jc and records what was stored into state
func (s *StreamIngest[S, T, Q, C]) Process(ctx context.Context, jc jobs.JobContext, state S) error {
	resume, hasResume := s.Codec.Decode(jc.Metadata)

	var query Q
	if s.Query != nil {
		q, err := s.Query(jc, resume, hasResume)
		if err != nil {
			return errors.Wrapf(err, "failed to build %s query", s.DataType)
		}
		query = q
	}

	result, err := s.Strategy.Run(ctx, ingest.TargetFor(jc, s.DataType), query)
	state.AddResult(s.DataType, result)

	if err == nil {
		// Metadata holding another stage's checkpoint is left alone
		if !hasResume {
			return nil
		}
		return s.persist(ctx, jc, nil)
	}

	var resumable *ingest.ResumableError[C]
	if !errors.As(err, &resumable) {
		return err
	}
	if resumable.HasCheckpoint {
		raw, encErr := s.Codec.Encode(resumable.Checkpoint)
		if encErr != nil {
			return errors.WithSecondaryError(resumable.Cause, encErr)
		}
		// The run may have stopped because ctx was cancelled
		if perr := s.persist(context.WithoutCancel(ctx), jc, raw); perr != nil {
			return errors.WithSecondaryError(resumable.Cause, perr)
		}
	}
	err = errors.Wrapf(resumable.Cause, "%s ingestion interrupted after %d pages", s.DataType, len(resumable.Partial.Pages))
	return errors.WithDetail(err, fmt.Sprintf("Job ID: %s", jc.InstanceID))
}

func (s *StreamIngest[S, T, Q, C]) persist(ctx context.Context, jc jobs.JobContext, raw json.RawMessage) error {
	if s.Persister == nil {
		return nil
	}
	return s.Persister.PersistCheckpoint(ctx, jc.DefinitionID, raw)
}
