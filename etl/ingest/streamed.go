package ingest

import (
	"context"

	"github.com/linuxautomates/gitsei-sub052/etl/sink"
)

// CheckpointFunc derives the resume point after window has been handled.
// Returning false leaves the previous checkpoint in place.
type CheckpointFunc[T, C any] func(window []T) (C, bool)

// Streamed consumes a record stream in windows of OutputPageSize. Each
// handled window may advance the checkpoint. A stream error ends the run
// with a ResumableError; a sink error or panic is a plain error.
type Streamed[T, Q, C any] struct {
	Source       Streamer[T, Q]
	Sink         sink.Sink
	Options      Options
	TreatAsEmpty func([]T) bool
	Checkpoint   CheckpointFunc[T, C]
}

// Run streams the source into the sink
func (s *Streamed[T, Q, C]) Run(ctx context.Context, target Target, query Q) (result StorageResult, err error) {
	defer recoverRun("streamed", &err)

	size := s.Options.pageSize()
	w := newWriter(s.Sink, target, s.Options, s.TreatAsEmpty)

	var (
		latest C
		has    bool
	)
	resumable := func(cause error) error {
		return &ResumableError[C]{Partial: w.result, Cause: cause, Checkpoint: latest, HasCheckpoint: has}
	}
	handle := func(window []T) error {
		if _, err := w.write(ctx, window, true); err != nil {
			return err
		}
		if s.Checkpoint != nil {
			if c, ok := s.Checkpoint(window); ok {
				latest, has = c, true
			}
		}
		return nil
	}

	window := make([]T, 0, size)
	for item, streamErr := range s.Source.Stream(ctx, query) {
		if streamErr != nil {
			return w.result, resumable(streamErr)
		}
		window = append(window, item)
		if len(window) < size {
			continue
		}
		if err := ctx.Err(); err != nil {
			return w.result, resumable(err)
		}
		if err := handle(window); err != nil {
			return w.result, err
		}
		window = make([]T, 0, size)
	}

	// Trailing partial window; an empty stream still writes its first window
	if len(window) > 0 || w.next == 0 {
		if err := handle(window); err != nil {
			return w.result, err
		}
	}
	return w.result, nil
}
