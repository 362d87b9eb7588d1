package ingest

import (
	"context"
	"fmt"
	"slices"

	"github.com/linuxautomates/gitsei-sub052/errors"
	"github.com/linuxautomates/gitsei-sub052/etl/sink"
)

// Numbered walks pages 0, 1, 2, ... until a page has no items and no
// failures, re-buffering items into output pages of OutputPageSize.
// A fetch error aborts the run; nothing is checkpointed.
type Numbered[T, Q any] struct {
	Source       PageFetcher[T, Q]
	Sink         sink.Sink
	Options      Options
	TreatAsEmpty func([]T) bool
	MaxPages     int // Safety stop for sources that never return an empty page, 0 = none
}

// Run pages through the source
func (s *Numbered[T, Q]) Run(ctx context.Context, target Target, query Q) (result StorageResult, err error) {
	defer recoverRun("numbered", &err)

	size := s.Options.pageSize()
	w := newWriter(s.Sink, target, s.Options, s.TreatAsEmpty)
	buf := make([]T, 0, size)

	for i := 0; s.MaxPages <= 0 || i < s.MaxPages; i++ {
		if err := ctx.Err(); err != nil {
			return w.result, errors.Wrapf(err, "%s ingestion cancelled at source page %d", target.DataType, i)
		}

		page, err := s.Source.FetchPage(ctx, query, i)
		if err != nil {
			err = errors.Wrapf(err, "failed to fetch %s page %d", target.DataType, i)
			return w.result, errors.WithDetail(err, fmt.Sprintf("Job ID: %s", target.JobID))
		}

		w.result.Failures = append(w.result.Failures, page.Failures...)
		if len(page.Items) == 0 && len(page.Failures) == 0 {
			break
		}

		buf = append(buf, page.Items...)
		for len(buf) >= size {
			if _, err := w.write(ctx, slices.Clone(buf[:size]), true); err != nil {
				return w.result, err
			}
			buf = append(buf[:0], buf[size:]...)
		}
	}

	// Remainder, or the single empty page of an empty listing
	if len(buf) > 0 || w.next == 0 {
		if _, err := w.write(ctx, buf, true); err != nil {
			return w.result, err
		}
	}
	return w.result, nil
}
