// Package pipeline runs a job as an ordered list of stages over shared state.
//
// A Pipeline[S] is built once per job kind and registered by processor name.
// For every run it creates fresh state from the job context, then executes
// PreProcess, each stage's PreStage/Process/PostStage, and PostProcess.
// A stage whose AllowFailure() is true may fail without aborting the run;
// the run then ends PARTIAL_SUCCESS instead of SUCCESS.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/linuxautomates/gitsei-sub052/errors"
	"github.com/linuxautomates/gitsei-sub052/etl/jobs"
	"github.com/linuxautomates/gitsei-sub052/logger"
)

// Stage is one step of a pipeline. S is the pipeline's state, usually a
// pointer so stages can accumulate results into it.
type Stage[S any] interface {
	Name() string
	PreStage(ctx context.Context, jc jobs.JobContext, state S) error
	Process(ctx context.Context, jc jobs.JobContext, state S) error
	PostStage(ctx context.Context, jc jobs.JobContext, state S) error

	// AllowFailure reports whether the pipeline continues when this stage fails
	AllowFailure() bool
}

// Hook runs before or after all stages
type Hook[S any] func(ctx context.Context, jc jobs.JobContext, state S) error

// Processor runs one claimed job. *Pipeline[S] implements it for any S,
// so processors of different state types share one registry.
type Processor interface {
	Name() string
	Run(ctx context.Context, jc jobs.JobContext) Outcome
}

// StageResult records how one stage went
type StageResult struct {
	Name     string        `json:"name"`
	Err      error         `json:"-"`
	Allowed  bool          `json:"allowed,omitempty"` // Failure tolerated by AllowFailure
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the stage returned an error
func (r StageResult) Failed() bool {
	return r.Err != nil
}

// Outcome is the terminal result of a run
type Outcome struct {
	Status jobs.Status
	Stages []StageResult
	Err    error // Abort cause for FAILURE, tolerated stage errors for PARTIAL_SUCCESS
}

// Pipeline is a named, ordered list of stages over state S
type Pipeline[S any] struct {
	ProcessorName string
	NewState      func(jc jobs.JobContext) (S, error)
	Stages        []Stage[S]
	PreProcess    Hook[S]
	PostProcess   Hook[S]
	Logger        *zap.SugaredLogger
}

// Name returns the processor name the pipeline is registered under
func (p *Pipeline[S]) Name() string {
	return p.ProcessorName
}

// Run executes the pipeline for jc. It never panics; a panic in a hook or
// stage is reported as that step's failure.
func (p *Pipeline[S]) Run(ctx context.Context, jc jobs.JobContext) Outcome {
	log := p.Logger
	if log == nil {
		log = logger.Logger
	}
	log = logger.FromContext(ctx, log.Named("pipeline")).With(
		logger.FieldJobID, jc.InstanceID,
		logger.FieldProcessor, p.ProcessorName)

	out := Outcome{Status: jobs.StatusSuccess}
	abort := func(err error) Outcome {
		out.Status = jobs.StatusFailure
		out.Err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", jc.InstanceID))
		log.Errorw("Pipeline aborted", logger.FieldError, err)
		return out
	}

	var state S
	if p.NewState != nil {
		var err error
		if state, err = p.NewState(jc); err != nil {
			return abort(errors.Wrap(err, "failed to create pipeline state"))
		}
	}

	if err := p.hook(ctx, "pre-process", p.PreProcess, jc, state); err != nil {
		return abort(err)
	}

	var tolerated []error
	for _, stage := range p.Stages {
		if err := ctx.Err(); err != nil {
			return abort(errors.Wrapf(err, "cancelled before stage %s", stage.Name()))
		}

		result := p.runStage(ctx, stage, jc, state)
		out.Stages = append(out.Stages, result)
		if !result.Failed() {
			log.Debugw("Stage completed",
				logger.FieldStage, result.Name,
				logger.FieldDurationMS, result.Duration.Milliseconds())
			continue
		}

		if !result.Allowed {
			return abort(errors.Wrapf(result.Err, "stage %s failed", result.Name))
		}
		log.Warnw("Stage failed, continuing",
			logger.FieldStage, result.Name,
			logger.FieldError, result.Err)
		tolerated = append(tolerated, errors.Wrapf(result.Err, "stage %s", result.Name))
	}

	if err := p.hook(ctx, "post-process", p.PostProcess, jc, state); err != nil {
		return abort(err)
	}

	if len(tolerated) > 0 {
		out.Status = jobs.StatusPartialSuccess
		out.Err = joinTolerated(tolerated)
	}
	log.Infow("Pipeline finished",
		logger.FieldStatus, out.Status,
		"stages", len(out.Stages))
	return out
}

func (p *Pipeline[S]) runStage(ctx context.Context, stage Stage[S], jc jobs.JobContext, state S) StageResult {
	start := time.Now()
	result := StageResult{Name: stage.Name()}

	result.Err = safely(stage.Name(), func() error {
		if err := stage.PreStage(ctx, jc, state); err != nil {
			return errors.Wrap(err, "pre-stage")
		}
		if err := stage.Process(ctx, jc, state); err != nil {
			return err
		}
		if err := stage.PostStage(ctx, jc, state); err != nil {
			return errors.Wrap(err, "post-stage")
		}
		return nil
	})
	result.Allowed = result.Err != nil && stage.AllowFailure()
	result.Duration = time.Since(start)
	return result
}

func (p *Pipeline[S]) hook(ctx context.Context, name string, h Hook[S], jc jobs.JobContext, state S) error {
	if h == nil {
		return nil
	}
	err := safely(name, func() error { return h(ctx, jc, state) })
	if err != nil {
		return errors.Wrapf(err, "%s failed", name)
	}
	return nil
}

// safely runs fn, converting a panic into an error
func safely(step string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic in %s: %v", step, r)
		}
	}()
	return fn()
}

// joinTolerated keeps the first error as the cause and attaches the rest
func joinTolerated(errs []error) error {
	err := errs[0]
	for _, other := range errs[1:] {
		err = errors.WithSecondaryError(err, other)
	}
	if len(errs) > 1 {
		err = errors.WithMessagef(err, "%d stages failed", len(errs))
	}
	return err
}
