package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxautomates/gitsei-sub052/errors"
	"github.com/linuxautomates/gitsei-sub052/etl/jobs"
)

// trace records which steps ran, in order
type trace struct {
	steps []string
}

func (tr *trace) add(step string) error {
	tr.steps = append(tr.steps, step)
	return nil
}

func step(name string) func(context.Context, jobs.JobContext, *trace) error {
	return func(ctx context.Context, jc jobs.JobContext, tr *trace) error {
		return tr.add(name)
	}
}

func failing(name string) func(context.Context, jobs.JobContext, *trace) error {
	return func(ctx context.Context, jc jobs.JobContext, tr *trace) error {
		tr.add(name)
		return errors.Newf("%s broke", name)
	}
}

func tracedStage(name string) StageFunc[*trace] {
	return StageFunc[*trace]{
		StageName: name,
		Pre:       step(name + ".pre"),
		Run:       step(name),
		Post:      step(name + ".post"),
	}
}

// newTraced builds a pipeline whose state is a shared trace, so the
// test can inspect what ran after Run returns
func newTraced(tr *trace, stages ...Stage[*trace]) *Pipeline[*trace] {
	return &Pipeline[*trace]{
		ProcessorName: "test.traced",
		NewState:      func(jobs.JobContext) (*trace, error) { return tr, nil },
		Stages:        stages,
		PreProcess:    step("pre-process"),
		PostProcess:   step("post-process"),
	}
}

var testJob = jobs.JobContext{InstanceID: "inst-1", DefinitionID: "def-1", ProcessorName: "test.traced"}

func TestRun_AllStagesSucceed(t *testing.T) {
	tr := &trace{}
	out := newTraced(tr, tracedStage("a"), tracedStage("b")).Run(context.Background(), testJob)

	assert.Equal(t, jobs.StatusSuccess, out.Status)
	assert.NoError(t, out.Err)
	assert.Equal(t, []string{
		"pre-process",
		"a.pre", "a", "a.post",
		"b.pre", "b", "b.post",
		"post-process",
	}, tr.steps)
	require.Len(t, out.Stages, 2)
	assert.False(t, out.Stages[0].Failed())
}

func TestRun_DisallowedFailureAborts(t *testing.T) {
	tr := &trace{}
	bad := tracedStage("b")
	bad.Run = failing("b")

	out := newTraced(tr, tracedStage("a"), bad, tracedStage("c")).Run(context.Background(), testJob)

	assert.Equal(t, jobs.StatusFailure, out.Status)
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "b broke")
	assert.Equal(t, []string{"pre-process", "a.pre", "a", "a.post", "b.pre", "b"}, tr.steps,
		"remaining stages and post-process are skipped")
	require.Len(t, out.Stages, 2)
	assert.False(t, out.Stages[1].Allowed)
}

func TestRun_AllowedFailureContinues(t *testing.T) {
	tr := &trace{}
	soft := tracedStage("b")
	soft.Run = failing("b")
	soft.Tolerant = true

	out := newTraced(tr, tracedStage("a"), soft, tracedStage("c")).Run(context.Background(), testJob)

	assert.Equal(t, jobs.StatusPartialSuccess, out.Status)
	require.Error(t, out.Err)
	assert.Contains(t, tr.steps, "c")
	assert.Equal(t, "post-process", tr.steps[len(tr.steps)-1])
	assert.NotContains(t, tr.steps, "b.post", "a failed process skips the stage's post-stage")
	assert.True(t, out.Stages[1].Allowed)
}

func TestRun_AllowedThenDisallowedIsFailure(t *testing.T) {
	tr := &trace{}
	soft := StageFunc[*trace]{StageName: "soft", Run: failing("soft"), Tolerant: true}
	hard := StageFunc[*trace]{StageName: "hard", Post: failing("hard.post")}

	out := newTraced(tr, soft, hard).Run(context.Background(), testJob)
	assert.Equal(t, jobs.StatusFailure, out.Status)
	assert.Contains(t, out.Err.Error(), "post-stage")
}

func TestRun_PreStageFailureIsStageFailure(t *testing.T) {
	tr := &trace{}
	st := tracedStage("a")
	st.Pre = failing("a.pre")

	out := newTraced(tr, st).Run(context.Background(), testJob)
	assert.Equal(t, jobs.StatusFailure, out.Status)
	assert.Equal(t, []string{"pre-process", "a.pre"}, tr.steps)
}

func TestRun_PanicIsStageFailure(t *testing.T) {
	tr := &trace{}
	boom := StageFunc[*trace]{
		StageName: "boom",
		Run: func(ctx context.Context, jc jobs.JobContext, tr *trace) error {
			var m map[string]int
			m["x"]++ // nil map write
			return nil
		},
		Tolerant: true,
	}

	var out Outcome
	require.NotPanics(t, func() {
		out = newTraced(tr, boom, tracedStage("after")).Run(context.Background(), testJob)
	})
	assert.Equal(t, jobs.StatusPartialSuccess, out.Status)
	assert.Contains(t, out.Stages[0].Err.Error(), "panic")
	assert.Contains(t, tr.steps, "after")
}

func TestRun_PreProcessFailure(t *testing.T) {
	tr := &trace{}
	p := newTraced(tr, tracedStage("a"))
	p.PreProcess = failing("pre-process")

	out := p.Run(context.Background(), testJob)
	assert.Equal(t, jobs.StatusFailure, out.Status)
	assert.Empty(t, out.Stages)
	assert.Equal(t, []string{"pre-process"}, tr.steps)
}

func TestRun_PostProcessFailure(t *testing.T) {
	tr := &trace{}
	p := newTraced(tr, tracedStage("a"))
	p.PostProcess = failing("post-process")

	out := p.Run(context.Background(), testJob)
	assert.Equal(t, jobs.StatusFailure, out.Status)
	assert.Contains(t, out.Err.Error(), "post-process")
}

func TestRun_NewStateFailure(t *testing.T) {
	p := &Pipeline[*trace]{
		ProcessorName: "test.state",
		NewState: func(jobs.JobContext) (*trace, error) {
			return nil, errors.New("bad metadata")
		},
		Stages: []Stage[*trace]{tracedStage("a")},
	}

	out := p.Run(context.Background(), testJob)
	assert.Equal(t, jobs.StatusFailure, out.Status)
	assert.Contains(t, out.Err.Error(), "bad metadata")
}

func TestRun_CancelBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := &trace{}
	first := StageFunc[*trace]{
		StageName: "first",
		Run: func(ctx context.Context, jc jobs.JobContext, tr *trace) error {
			cancel()
			return tr.add("first")
		},
	}

	out := newTraced(tr, first, tracedStage("second")).Run(ctx, testJob)
	assert.Equal(t, jobs.StatusFailure, out.Status)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.NotContains(t, tr.steps, "second")
	assert.NotContains(t, tr.steps, "post-process")
}

func TestRun_StatePerRun(t *testing.T) {
	type counter struct{ n int }
	inc := StageFunc[*counter]{
		StageName: "inc",
		Run: func(ctx context.Context, jc jobs.JobContext, c *counter) error {
			c.n++
			if c.n != 1 {
				return errors.Newf("state leaked between runs: %d", c.n)
			}
			return nil
		},
	}
	p := &Pipeline[*counter]{
		ProcessorName: "test.counter",
		NewState:      func(jobs.JobContext) (*counter, error) { return &counter{}, nil },
		Stages:        []Stage[*counter]{inc},
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, jobs.StatusSuccess, p.Run(context.Background(), testJob).Status)
	}
}

func TestRun_MultipleToleratedFailures(t *testing.T) {
	tr := &trace{}
	a := StageFunc[*trace]{StageName: "a", Run: failing("a"), Tolerant: true}
	b := StageFunc[*trace]{StageName: "b", Run: failing("b"), Tolerant: true}

	out := newTraced(tr, a, b).Run(context.Background(), testJob)
	assert.Equal(t, jobs.StatusPartialSuccess, out.Status)
	assert.Contains(t, out.Err.Error(), "2 stages failed")
}
