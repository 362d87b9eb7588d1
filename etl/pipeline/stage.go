package pipeline

import (
	"context"

	"github.com/linuxautomates/gitsei-sub052/etl/jobs"
)

// StageFunc adapts plain functions to Stage. Nil functions are no-ops.
type StageFunc[S any] struct {
	StageName string
	Pre       func(ctx context.Context, jc jobs.JobContext, state S) error
	Run       func(ctx context.Context, jc jobs.JobContext, state S) error
	Post      func(ctx context.Context, jc jobs.JobContext, state S) error
	Tolerant  bool
}

func (f StageFunc[S]) Name() string       { return f.StageName }
func (f StageFunc[S]) AllowFailure() bool { return f.Tolerant }

func (f StageFunc[S]) PreStage(ctx context.Context, jc jobs.JobContext, state S) error {
	if f.Pre == nil {
		return nil
	}
	return f.Pre(ctx, jc, state)
}

func (f StageFunc[S]) Process(ctx context.Context, jc jobs.JobContext, state S) error {
	if f.Run == nil {
		return nil
	}
	return f.Run(ctx, jc, state)
}

func (f StageFunc[S]) PostStage(ctx context.Context, jc jobs.JobContext, state S) error {
	if f.Post == nil {
		return nil
	}
	return f.Post(ctx, jc, state)
}
