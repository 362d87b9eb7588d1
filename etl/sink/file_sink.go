package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/linuxautomates/gitsei-sub052/errors"
)

// FileSink stores each page as a JSON array file under root on an afero
// filesystem. Use afero.NewOsFs in production and afero.NewMemMapFs in tests.
type FileSink struct {
	fs   afero.Fs
	root string
}

// NewFileSink creates a sink writing below root
func NewFileSink(fs afero.Fs, root string) *FileSink {
	return &FileSink{fs: fs, root: root}
}

// NewMemorySink creates a sink backed by an in-memory filesystem
func NewMemorySink() *FileSink {
	return NewFileSink(afero.NewMemMapFs(), "/")
}

var _ Sink = (*FileSink)(nil)

// StorePage encodes the page records and writes them to the page key.
// The file is written to a temporary name and renamed into place so a
// reader never sees a partial page.
func (s *FileSink) StorePage(ctx context.Context, page PageWrite) (PageRef, error) {
	if err := ctx.Err(); err != nil {
		return PageRef{}, err
	}
	if err := page.Validate(); err != nil {
		return PageRef{}, err
	}

	records := page.Records
	if records == nil {
		records = []any{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return PageRef{}, errors.Wrapf(err, "failed to encode page for job %s", page.JobID)
	}

	key := PageKey(page)
	full := s.fullPath(key)

	if err := s.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return PageRef{}, errors.Wrapf(err, "failed to create directory for %s", key)
	}

	tmp := full + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return PageRef{}, errors.Wrapf(err, "failed to write page %s", key)
	}
	if err := s.fs.Rename(tmp, full); err != nil {
		_ = s.fs.Remove(tmp)
		return PageRef{}, errors.Wrapf(err, "failed to commit page %s", key)
	}

	return PageRef{Key: key, PageNumber: page.PageNumber, RecordCount: page.RecordCount}, nil
}

// ReadPage returns the raw records stored under key
func (s *FileSink) ReadPage(key string) ([]json.RawMessage, error) {
	data, err := afero.ReadFile(s.fs, s.fullPath(key))
	if os.IsNotExist(err) {
		return nil, errors.NewNotFoundError("page %s", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read page %s", key)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.Wrapf(err, "failed to decode page %s", key)
	}
	return records, nil
}

// ListKeys returns the stored page keys under prefix in lexical order
func (s *FileSink) ListKeys(prefix string) ([]string, error) {
	base := s.fullPath(prefix)
	exists, err := afero.DirExists(s.fs, base)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat %s", prefix)
	}
	if !exists {
		return nil, nil
	}

	var keys []string
	err = afero.Walk(s.fs, base, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(p, ".json") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list pages under %s", prefix)
	}

	sort.Strings(keys)
	return keys, nil
}

func (s *FileSink) fullPath(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(path.Clean(key)))
}

// String describes the sink for logs
func (s *FileSink) String() string {
	return fmt.Sprintf("file sink at %s", s.root)
}
