package ingest

import (
	"context"

	"github.com/linuxautomates/gitsei-sub052/errors"
	"github.com/linuxautomates/gitsei-sub052/etl/sink"
)

// SinglePage stores the result of one Fetch as one unnumbered page.
type SinglePage[T, Q any] struct {
	Source       Fetcher[T, Q]
	Sink         sink.Sink
	Options      Options
	TreatAsEmpty func([]T) bool // Optional; records that count as no data
}

// Run fetches once and stores the result. An empty result is skipped
// when SkipEmptyResults is set.
func (s *SinglePage[T, Q]) Run(ctx context.Context, target Target, query Q) (result StorageResult, err error) {
	defer recoverRun("single-page", &err)

	page, err := s.Source.Fetch(ctx, query)
	if err != nil {
		return StorageResult{}, errors.Wrapf(err, "failed to fetch %s", target.DataType)
	}

	w := newWriter(s.Sink, target, s.Options, s.TreatAsEmpty)
	w.result.Failures = append(w.result.Failures, page.Failures...)

	if _, err := w.write(ctx, page.Items, false); err != nil {
		return w.result, err
	}
	return w.result, nil
}
