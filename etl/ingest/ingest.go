// Package ingest pages data out of external sources into a sink.
//
// Three strategies cover the source shapes seen in practice:
//
//   - SinglePage: one request returns everything.
//   - Numbered: the source is addressed by page number until a page comes back empty.
//   - Streamed: the source yields records one by one; interruption returns a
//     ResumableError carrying the last checkpoint so the next run resumes.
//
// All strategies re-buffer records into output pages of Options.OutputPageSize.
package ingest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/linuxautomates/gitsei-sub052/errors"
	"github.com/linuxautomates/gitsei-sub052/etl/jobs"
	"github.com/linuxautomates/gitsei-sub052/etl/sink"
)

// DefaultOutputPageSize is the number of records per stored page
const DefaultOutputPageSize = 500

// Options control how results are written
type Options struct {
	OutputPageSize    int
	SkipEmptyResults  bool             // Don't store pages with no (meaningful) records
	UniqueOutputFiles bool             // Prefix keys per run instead of overwriting
	Now               func() time.Time // Clock for the run prefix
}

// DefaultOptions returns sensible defaults
func DefaultOptions() Options {
	return Options{
		OutputPageSize: DefaultOutputPageSize,
		Now:            time.Now,
	}
}

func (o Options) pageSize() int {
	if o.OutputPageSize <= 0 {
		return DefaultOutputPageSize
	}
	return o.OutputPageSize
}

// runPrefix is fixed once per run so all pages of the run share it.
// The random suffix keeps runs starting in the same millisecond apart.
func (o Options) runPrefix() string {
	if !o.UniqueOutputFiles {
		return ""
	}
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	millis := strconv.FormatInt(now().UTC().UnixMilli(), 10)
	return millis + "-" + uuid.NewString()[:8]
}

// Target says where a run's pages go
type Target struct {
	Source          sink.SourceKey
	IntegrationType string
	DataType        string
	JobID           string
}

// TargetFor builds the target for dataType within a job
func TargetFor(jc jobs.JobContext, dataType string) Target {
	return Target{
		Source:          sink.SourceKey{TenantID: jc.TenantID, IntegrationID: jc.IntegrationID},
		IntegrationType: jc.IntegrationType,
		DataType:        dataType,
		JobID:           jc.JobID(),
	}
}

// Severity grades a per-record failure
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Failure is a problem with individual records that did not stop the run
type Failure struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// NewFailure creates an error-severity failure
func NewFailure(format string, args ...interface{}) Failure {
	return Failure{Message: fmt.Sprintf(format, args...), Severity: SeverityError}
}

// StorageResult lists what a run stored and what it could not
type StorageResult struct {
	Pages    []sink.PageRef `json:"pages"`
	Failures []Failure      `json:"failures,omitempty"`
}

// RecordCount totals records across stored pages
func (r StorageResult) RecordCount() int {
	n := 0
	for _, p := range r.Pages {
		n += p.RecordCount
	}
	return n
}

// HasErrors reports whether any failure has error severity
func (r StorageResult) HasErrors() bool {
	for _, f := range r.Failures {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Merge appends other's pages and failures
func (r *StorageResult) Merge(other StorageResult) {
	r.Pages = append(r.Pages, other.Pages...)
	r.Failures = append(r.Failures, other.Failures...)
}

// ResumableError reports a run interrupted after partial progress.
// Partial holds what was stored; Checkpoint, when HasCheckpoint is set,
// is the position after the last stored page.
type ResumableError[C any] struct {
	Partial       StorageResult
	Cause         error
	Checkpoint    C
	HasCheckpoint bool
}

func (e *ResumableError[C]) Error() string {
	return fmt.Sprintf("ingestion interrupted after %d pages: %v", len(e.Partial.Pages), e.Cause)
}

func (e *ResumableError[C]) Unwrap() error {
	return e.Cause
}

// writer numbers and stores output pages for one run
type writer[T any] struct {
	sink         sink.Sink
	target       Target
	opts         Options
	prefix       string
	treatAsEmpty func([]T) bool
	next         int
	result       StorageResult
}

func newWriter[T any](s sink.Sink, target Target, opts Options, treatAsEmpty func([]T) bool) *writer[T] {
	return &writer[T]{sink: s, target: target, opts: opts, prefix: opts.runPrefix(), treatAsEmpty: treatAsEmpty}
}

func (w *writer[T]) empty(records []T) bool {
	return len(records) == 0 || (w.treatAsEmpty != nil && w.treatAsEmpty(records))
}

// write stores records as the next page. Skipped pages still consume a
// page number. Returns whether the page was stored.
func (w *writer[T]) write(ctx context.Context, records []T, numbered bool) (bool, error) {
	n := w.next
	w.next++

	if w.opts.SkipEmptyResults && w.empty(records) {
		return false, nil
	}
	if records == nil {
		records = []T{}
	}

	var pageNumber *int
	if numbered {
		pageNumber = &n
	}

	ref, err := w.sink.StorePage(ctx, sink.PageWrite{
		Source:          w.target.Source,
		IntegrationType: w.target.IntegrationType,
		DataType:        w.target.DataType,
		JobID:           w.target.JobID,
		Records:         records,
		RecordCount:     len(records),
		PageNumber:      pageNumber,
		FileNamePrefix:  w.prefix,
	})
	if err != nil {
		err = errors.Wrapf(err, "failed to store page %d", n)
		return false, errors.WithDetail(err, fmt.Sprintf("Job ID: %s", w.target.JobID))
	}
	w.result.Pages = append(w.result.Pages, ref)
	return true, nil
}

// recoverRun turns a panic in a source or sink into a plain error
func recoverRun(name string, err *error) {
	if r := recover(); r != nil {
		*err = errors.Newf("panic during %s ingestion: %v", name, r)
	}
}
