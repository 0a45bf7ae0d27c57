package stage_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/ticketd/internal/learning"
	"github.com/fyrsmithlabs/ticketd/internal/notify"
	"github.com/fyrsmithlabs/ticketd/internal/stage"
	"github.com/fyrsmithlabs/ticketd/internal/strategy"
	"github.com/fyrsmithlabs/ticketd/internal/tools"
)

// testPolicies builds a small deterministic policy set: two strategies in
// family f1, one in f2, with a per-family cap of 2 and room for 4 attempts.
func testPolicies() strategy.PolicySet {
	catalog := map[strategy.ID]strategy.Strategy{
		"alpha": {ID: "alpha", Family: "f1", ToolID: "tool-a"},
		"beta":  {ID: "beta", Family: "f1", ToolID: "tool-a"},
		"gamma": {ID: "gamma", Family: "f2", ToolID: "tool-b"},
	}
	ps := strategy.PolicySet{}
	for _, kind := range strategy.Kinds() {
		ps[kind] = &strategy.Policy{
			Stage:                       kind,
			Strategies:                  catalog,
			Matrix:                      map[strategy.ErrorKind][]strategy.ID{},
			MaxAttemptsTotal:            4,
			MaxAttemptsPerFamily:        2,
			ForceFamilySwitch:           []strategy.ErrorKind{strategy.ErrKindAuth},
			FallbackOrder:               []strategy.ID{"alpha", "beta", "gamma"},
			FallbackOrderOnFamilySwitch: []strategy.ID{"gamma", "beta", "alpha"},
			SingleRetryOnTransientExit: strategy.RetryException{
				Enabled:   true,
				ErrorKind: strategy.ErrKindNonzeroExit,
			},
			MaxRevisionsPerStrategy: 1,
		}
	}
	return ps
}

// fakeActivities backs the executor's activity names with scripted local
// implementations and records every call.
type fakeActivities struct {
	script    func(in tools.Invocation) (*tools.Result, error)
	diffDirty func() bool

	runs    []tools.Invocation
	learned []learning.RecordInput
	events  []notify.Event
}

func (f *fakeActivities) register(env *testsuite.TestWorkflowEnvironment) {
	env.RegisterActivityWithOptions(func(ctx context.Context, in tools.Invocation) (*tools.Result, error) {
		f.runs = append(f.runs, in)
		return f.script(in)
	}, activity.RegisterOptions{Name: stage.ActivityRunTool})

	env.RegisterActivityWithOptions(func(ctx context.Context, in tools.DiffInput) (*tools.DiffReport, error) {
		dirty := true
		if f.diffDirty != nil {
			dirty = f.diffDirty()
		}
		return &tools.DiffReport{Dirty: dirty}, nil
	}, activity.RegisterOptions{Name: stage.ActivityWorkspaceDiff})

	env.RegisterActivityWithOptions(func(ctx context.Context, in learning.RecordInput) error {
		f.learned = append(f.learned, in)
		return nil
	}, activity.RegisterOptions{Name: stage.ActivityRecordLearning})

	env.RegisterActivityWithOptions(func(ctx context.Context, event notify.Event) error {
		f.events = append(f.events, event)
		return nil
	}, activity.RegisterOptions{Name: stage.ActivityPublishEvent})
}

func stageWorkflow(ctx workflow.Context, in stage.Input) (*stage.Result, error) {
	ex := &stage.Executor{Policies: testPolicies()}
	return ex.Run(ctx, in)
}

func runStage(t *testing.T, f *fakeActivities, in stage.Input) (*stage.Result, error) {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()
	f.register(env)
	env.RegisterWorkflow(stageWorkflow)
	env.ExecuteWorkflow(stageWorkflow, in)
	require.True(t, env.IsWorkflowCompleted())
	if err := env.GetWorkflowError(); err != nil {
		return nil, err
	}
	var res stage.Result
	require.NoError(t, env.GetWorkflowResult(&res))
	return &res, nil
}

func TestExecutorFirstStrategySucceeds(t *testing.T) {
	f := &fakeActivities{
		script: func(in tools.Invocation) (*tools.Result, error) {
			return &tools.Result{Output: "discovery notes"}, nil
		},
	}
	res, err := runStage(t, f, stage.Input{
		TicketID: "acme/app#7", Kind: strategy.KindDiscover, Task: "survey the repo",
	})
	require.NoError(t, err)
	assert.Equal(t, strategy.ID("alpha"), res.StrategyID)
	assert.Equal(t, "discovery notes", res.Output)
	assert.Empty(t, res.Attempts)
	assert.Empty(t, f.learned, "clean success should not emit a learning record")
	assert.Empty(t, f.events)
}

func TestExecutorSwitchesAfterFailure(t *testing.T) {
	f := &fakeActivities{}
	f.script = func(in tools.Invocation) (*tools.Result, error) {
		if in.StrategyID == "alpha" {
			return nil, errors.New("discover failed: 401 unauthorized")
		}
		return &tools.Result{Output: "plan"}, nil
	}
	res, err := runStage(t, f, stage.Input{
		TicketID: "acme/app#7", Kind: strategy.KindPlan, Task: "plan the fix",
	})
	require.NoError(t, err)
	// auth_error forces a family switch, so alpha's sibling beta is skipped.
	assert.Equal(t, strategy.ID("gamma"), res.StrategyID)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, strategy.ErrKindAuth, res.Attempts[0].ErrorKind)

	require.Len(t, f.learned, 1)
	rec := f.learned[0].Record
	assert.Equal(t, strategy.KindPlan, rec.Stage)
	assert.Equal(t, []strategy.ID{"alpha", "gamma"}, rec.StrategyPath)
	assert.Equal(t, "acme/app#7", f.learned[0].TicketID)

	require.Len(t, f.events, 1)
	assert.Equal(t, notify.EventStrategyAttemptFailed, f.events[0].Type)
	assert.Equal(t, "auth_error", f.events[0].Detail["error_kind"])
}

func TestExecutorFoldsPriorFailuresIntoPrompt(t *testing.T) {
	f := &fakeActivities{}
	f.script = func(in tools.Invocation) (*tools.Result, error) {
		if in.StrategyID == "alpha" {
			return nil, errors.New("request timed out after 30s")
		}
		return &tools.Result{Output: "ok"}, nil
	}
	_, err := runStage(t, f, stage.Input{
		TicketID: "acme/app#7", Kind: strategy.KindPlan, Task: "plan the fix",
	})
	require.NoError(t, err)
	require.Len(t, f.runs, 2)
	assert.NotContains(t, f.runs[0].Prompt, "Earlier attempts")
	assert.Contains(t, f.runs[1].Prompt, "Earlier attempts")
	assert.Contains(t, f.runs[1].Prompt, "timeout")
}

func TestExecutorCodeStageRequiresDiff(t *testing.T) {
	f := &fakeActivities{}
	f.script = func(in tools.Invocation) (*tools.Result, error) {
		return &tools.Result{Output: "done"}, nil
	}
	first := true
	f.diffDirty = func() bool {
		// First strategy claims success but changes nothing.
		if first {
			first = false
			return false
		}
		return true
	}
	res, err := runStage(t, f, stage.Input{
		TicketID: "acme/app#7", Kind: strategy.KindCode, Task: "implement", RepoPath: "/work/app",
	})
	require.NoError(t, err)
	assert.Equal(t, strategy.ID("beta"), res.StrategyID)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, strategy.ErrKindNoChanges, res.Attempts[0].ErrorKind)
}

func TestExecutorEmptyOutputIsInvalid(t *testing.T) {
	f := &fakeActivities{}
	f.script = func(in tools.Invocation) (*tools.Result, error) {
		if in.StrategyID == "alpha" {
			return &tools.Result{Output: "   \n"}, nil
		}
		return &tools.Result{Output: "notes"}, nil
	}
	res, err := runStage(t, f, stage.Input{
		TicketID: "acme/app#7", Kind: strategy.KindDiscover, Task: "survey",
	})
	require.NoError(t, err)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, strategy.ErrKindInvalidOutput, res.Attempts[0].ErrorKind)
}

func TestExecutorReviewRevisionLoop(t *testing.T) {
	f := &fakeActivities{}
	reviews := 0
	f.script = func(in tools.Invocation) (*tools.Result, error) {
		if strings.Contains(in.Prompt, "blocking findings") {
			return &tools.Result{Output: "fixed"}, nil
		}
		reviews++
		if reviews == 1 {
			return &tools.Result{Output: "blocker: nil deref in handler\nnit: rename var"}, nil
		}
		return &tools.Result{Output: "no findings"}, nil
	}
	res, err := runStage(t, f, stage.Input{
		TicketID: "acme/app#7", Kind: strategy.KindReview, Task: "review the diff",
	})
	require.NoError(t, err)
	assert.Equal(t, strategy.ID("alpha"), res.StrategyID)
	assert.Equal(t, 1, res.Revisions)
	assert.Empty(t, res.Attempts)
	// review, revision, re-review
	assert.Len(t, f.runs, 3)
}

func TestExecutorReviewExhaustsRevisionCap(t *testing.T) {
	f := &fakeActivities{}
	f.script = func(in tools.Invocation) (*tools.Result, error) {
		if strings.Contains(in.Prompt, "blocking findings") {
			return &tools.Result{Output: "tried"}, nil
		}
		if in.StrategyID == "alpha" {
			return &tools.Result{Output: "blocker: race in cache"}, nil
		}
		return &tools.Result{Output: "no findings"}, nil
	}
	res, err := runStage(t, f, stage.Input{
		TicketID: "acme/app#7", Kind: strategy.KindReview, Task: "review the diff",
	})
	require.NoError(t, err)
	assert.Equal(t, strategy.ID("beta"), res.StrategyID)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, strategy.ErrKindBlockingFindings, res.Attempts[0].ErrorKind)
}

func TestExecutorExhaustion(t *testing.T) {
	f := &fakeActivities{}
	f.script = func(in tools.Invocation) (*tools.Result, error) {
		return nil, errors.New("model is unavailable")
	}
	_, err := runStage(t, f, stage.Input{
		TicketID: "acme/app#7", Kind: strategy.KindDiscover, Task: "survey",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discover stage exhausted")
	// One failure event per attempted strategy.
	assert.NotEmpty(t, f.events)
	for _, ev := range f.events {
		assert.Equal(t, "model_unavailable", ev.Detail["error_kind"])
	}
}

func TestExecutorTransientRetrySameStrategy(t *testing.T) {
	f := &fakeActivities{}
	calls := 0
	f.script = func(in tools.Invocation) (*tools.Result, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("claude_cli failed: exit status 1")
		}
		return &tools.Result{Output: "second try works"}, nil
	}
	res, err := runStage(t, f, stage.Input{
		TicketID: "acme/app#7", Kind: strategy.KindPlan, Task: "plan",
	})
	require.NoError(t, err)
	assert.Equal(t, strategy.ID("alpha"), res.StrategyID, "transient exit retries the same strategy once")
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, strategy.ErrKindNonzeroExit, res.Attempts[0].ErrorKind)
}
