// Package feed is a processor that ingests newline-delimited JSON files.
//
// Each definition of the "jsonl-feed" kind reads
//
//	<inbox>/<tenant id>/<integration id>.jsonl
//
// and stores its records as numbered pages under the "records" data type.
// The last line handled is checkpointed on the definition, so an
// interrupted run resumes after it and a file that only grows is read
// incrementally across runs.
package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"path"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/linuxautomates/gitsei-sub052/errors"
	"github.com/linuxautomates/gitsei-sub052/etl/checkpoint"
	"github.com/linuxautomates/gitsei-sub052/etl/ingest"
	"github.com/linuxautomates/gitsei-sub052/etl/jobs"
	"github.com/linuxautomates/gitsei-sub052/etl/pipeline"
	"github.com/linuxautomates/gitsei-sub052/etl/sink"
	"github.com/linuxautomates/gitsei-sub052/etl/stages"
	"github.com/linuxautomates/gitsei-sub052/logger"
)

const (
	// ProcessorName is the job kind this package registers
	ProcessorName = "jsonl-feed"

	// DataType is the data type pages are stored under
	DataType = "records"

	cursorKind    = "jsonl-feed"
	cursorVersion = 1

	maxLineBytes = 4 * 1024 * 1024
)

// Line is one record of a feed file. It encodes as its raw JSON.
type Line struct {
	Number int
	Data   json.RawMessage
}

func (l Line) MarshalJSON() ([]byte, error) {
	if len(l.Data) == 0 {
		return []byte("null"), nil
	}
	return l.Data, nil
}

// Query selects the file and the line to resume after
type Query struct {
	Path  string
	After int
}

// Cursor is the checkpoint stored on the definition
type Cursor struct {
	Line int `json:"line"`
}

// FileSource streams lines of a feed file from Fs
type FileSource struct {
	Fs afero.Fs
}

// Stream yields the lines of q.Path after q.After. Blank lines are
// skipped but counted. A line that is not valid JSON ends the stream.
func (s FileSource) Stream(ctx context.Context, q Query) iter.Seq2[Line, error] {
	return func(yield func(Line, error) bool) {
		f, err := s.Fs.Open(q.Path)
		if err != nil {
			yield(Line{}, errors.Wrapf(err, "failed to open feed %s", q.Path))
			return
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

		n := 0
		for scanner.Scan() {
			n++
			if n <= q.After {
				continue
			}
			if err := ctx.Err(); err != nil {
				yield(Line{}, err)
				return
			}
			raw := scanner.Bytes()
			if len(raw) == 0 {
				continue
			}
			if !json.Valid(raw) {
				yield(Line{}, errors.Newf("%s line %d is not valid JSON", q.Path, n))
				return
			}
			data := make(json.RawMessage, len(raw))
			copy(data, raw)
			if !yield(Line{Number: n, Data: data}, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(Line{}, errors.Wrapf(err, "failed to read feed %s", q.Path))
		}
	}
}

// Config wires a feed processor
type Config struct {
	Source    afero.Fs
	InboxDir  string
	Sink      sink.Sink
	Options   ingest.Options
	Limiter   *rate.Limiter // Nil reads unthrottled
	Persister stages.CheckpointPersister
	Logger    *zap.SugaredLogger
}

// FeedPath returns the file a job reads
func FeedPath(inbox string, jc jobs.JobContext) string {
	return path.Join(inbox, jc.TenantID, jc.IntegrationID+".jsonl")
}

// New builds the feed pipeline
func New(cfg Config) *pipeline.Pipeline[stages.Results] {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("feed")

	var src ingest.Streamer[Line, Query] = FileSource{Fs: cfg.Source}
	src = ingest.ThrottleStream(src, cfg.Limiter, cfg.Options.OutputPageSize)

	ingestStage := &stages.StreamIngest[stages.Results, Line, Query, Cursor]{
		DataType: DataType,
		Strategy: &ingest.Streamed[Line, Query, Cursor]{
			Source:     src,
			Sink:       cfg.Sink,
			Options:    cfg.Options,
			Checkpoint: lastLine,
		},
		Codec:     checkpoint.NewCodec[Cursor](cursorKind, cursorVersion),
		Persister: cfg.Persister,
		Query: func(jc jobs.JobContext, resume Cursor, hasResume bool) (Query, error) {
			q := Query{Path: FeedPath(cfg.InboxDir, jc)}
			if hasResume {
				q.After = resume.Line
			}
			return q, nil
		},
	}

	return &pipeline.Pipeline[stages.Results]{
		ProcessorName: ProcessorName,
		NewState: func(jc jobs.JobContext) (stages.Results, error) {
			return stages.Results{}, nil
		},
		Stages: []pipeline.Stage[stages.Results]{ingestStage},
		PreProcess: func(ctx context.Context, jc jobs.JobContext, state stages.Results) error {
			p := FeedPath(cfg.InboxDir, jc)
			ok, err := afero.Exists(cfg.Source, p)
			if err != nil {
				return errors.Wrapf(err, "failed to stat feed %s", p)
			}
			if !ok {
				return errors.WithDetail(errors.NewNotFoundError("feed %s", p),
					fmt.Sprintf("Definition ID: %s", jc.DefinitionID))
			}
			return nil
		},
		PostProcess: func(ctx context.Context, jc jobs.JobContext, state stages.Results) error {
			r := state[DataType]
			log.Infow("Feed ingested",
				logger.FieldJobID, jc.InstanceID,
				logger.FieldPages, len(r.Pages),
				logger.FieldCount, r.RecordCount())
			return nil
		},
		Logger: log,
	}
}

func lastLine(window []Line) (Cursor, bool) {
	if len(window) == 0 {
		return Cursor{}, false
	}
	return Cursor{Line: window[len(window)-1].Number}, true
}
