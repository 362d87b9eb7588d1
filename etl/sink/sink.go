// Package sink writes ingested pages to durable storage.
package sink

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/linuxautomates/gitsei-sub052/errors"
)

// SourceKey identifies whose data a page holds
type SourceKey struct {
	TenantID      string `json:"tenant_id"`
	IntegrationID string `json:"integration_id"`
}

// PageWrite is one page handed to a Sink
type PageWrite struct {
	Source          SourceKey
	IntegrationType string // e.g. "jira"
	DataType        string // e.g. "issues"
	JobID           string
	Records         any  // JSON-encodable, normally a slice
	RecordCount     int  // Number of records in Records
	PageNumber      *int // Nil for single-page results
	FileNamePrefix  string
}

// PageRef describes a stored page
type PageRef struct {
	Key         string `json:"key"`
	PageNumber  *int   `json:"page_number,omitempty"`
	RecordCount int    `json:"record_count"`
}

// Sink stores pages. Writing the same key twice overwrites it.
type Sink interface {
	StorePage(ctx context.Context, page PageWrite) (PageRef, error)
}

// Validate checks the fields that form the storage key
func (w PageWrite) Validate() error {
	fields := []struct{ name, value string }{
		{"tenant_id", w.Source.TenantID},
		{"integration_id", w.Source.IntegrationID},
		{"integration_type", w.IntegrationType},
		{"data_type", w.DataType},
		{"job_id", w.JobID},
	}
	for _, f := range fields {
		if f.value == "" {
			return errors.NewInvalidRequestError("page %s is required", f.name)
		}
		if !safeSegment(f.value) {
			return errors.NewInvalidRequestError("page %s %q is not a valid path segment", f.name, f.value)
		}
	}
	if w.FileNamePrefix != "" && !safeSegment(w.FileNamePrefix) {
		return errors.NewInvalidRequestError("file name prefix %q is not a valid path segment", w.FileNamePrefix)
	}
	if w.PageNumber != nil && *w.PageNumber < 0 {
		return errors.NewInvalidRequestError("page number must be >= 0, got %d", *w.PageNumber)
	}
	return nil
}

// PageKey returns the storage key for a page:
//
//	<tenant>/<integration type>/<integration id>/<job id>/<data type>/[<prefix>_]page-<n>.json
//
// Single-page results use data.json in place of page-<n>.json. The key is
// a pure function of the write, so a retried page lands on the same key.
func PageKey(w PageWrite) string {
	name := "data.json"
	if w.PageNumber != nil {
		name = fmt.Sprintf("page-%d.json", *w.PageNumber)
	}
	if w.FileNamePrefix != "" {
		name = w.FileNamePrefix + "_" + name
	}
	return path.Join(w.Source.TenantID, w.IntegrationType, w.Source.IntegrationID, w.JobID, w.DataType, name)
}

// DataTypePrefix returns the key prefix under which all pages of one
// data type for one job are stored
func DataTypePrefix(source SourceKey, integrationType, jobID, dataType string) string {
	return path.Join(source.TenantID, integrationType, source.IntegrationID, jobID, dataType)
}

func safeSegment(s string) bool {
	return s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}
