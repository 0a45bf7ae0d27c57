package tools

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/fyrsmithlabs/ticketd/internal/strategy"
	"github.com/fyrsmithlabs/ticketd/internal/toolroutes"
)

func testRunner(table toolroutes.Table) *Runner {
	return NewRunner(toolroutes.NewCache(toolroutes.Static(table), time.Minute))
}

func execute(t *testing.T, r *Runner, in Invocation) (*Result, error) {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(r.RunTool)

	val, err := env.ExecuteActivity(r.RunTool, in)
	if err != nil {
		return nil, err
	}
	var res Result
	require.NoError(t, val.Get(&res))
	return &res, nil
}

func TestRunToolEchoesStdin(t *testing.T) {
	r := testRunner(toolroutes.Table{
		"cat": {ToolID: "cat", Command: "cat"},
	})

	res, err := execute(t, r, Invocation{
		Stage:      strategy.KindDiscover,
		StrategyID: "any",
		ToolID:     "cat",
		Prompt:     "survey the repository",
		RepoPath:   t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, "survey the repository", res.Output)
}

func TestRunToolNonzeroExit(t *testing.T) {
	r := testRunner(toolroutes.Table{
		"false": {ToolID: "false", Command: "false"},
	})

	_, err := execute(t, r, Invocation{
		ToolID:   "false",
		Prompt:   "anything",
		RepoPath: t.TempDir(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 1")
}

func TestRunToolEmptyOutputIsAnError(t *testing.T) {
	r := testRunner(toolroutes.Table{
		"true": {ToolID: "true", Command: "true"},
	})

	_, err := execute(t, r, Invocation{
		ToolID:   "true",
		Prompt:   "anything",
		RepoPath: t.TempDir(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty output")
}

func TestRunToolUnknownRoute(t *testing.T) {
	r := testRunner(toolroutes.Table{})

	_, err := execute(t, r, Invocation{ToolID: "nope", Prompt: "x", RepoPath: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no route for tool "nope"`)
}

func TestTail(t *testing.T) {
	short := "hello"
	assert.Equal(t, short, tail(short))

	long := strings.Repeat("x", outputTailLimit+100)
	got := tail(long)
	assert.Len(t, got, outputTailLimit+3)
	assert.True(t, strings.HasPrefix(got, "..."))
}
