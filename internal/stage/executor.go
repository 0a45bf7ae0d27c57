// Package stage runs one lifecycle stage as a bounded strategy loop.
//
// An Executor is called from workflow code with a stage kind and a task
// prompt. It invokes the configured tool as an activity, classifies any
// failure, and asks the strategy selector which strategy to run next, until
// the stage succeeds or the policy is exhausted. All branching here is
// deterministic; everything with side effects happens in activities.
package stage

import (
	"fmt"
	"strings"

	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/ticketd/internal/learning"
	"github.com/fyrsmithlabs/ticketd/internal/notify"
	"github.com/fyrsmithlabs/ticketd/internal/redact"
	"github.com/fyrsmithlabs/ticketd/internal/strategy"
	"github.com/fyrsmithlabs/ticketd/internal/tools"
)

// Input identifies one stage execution.
type Input struct {
	TicketID string
	Kind     strategy.Kind
	Task     string
	RepoPath string
}

// Result is a successful stage execution.
type Result struct {
	Output     string
	StrategyID strategy.ID
	ToolID     string

	// Attempts are the failed invocations that preceded success, in order.
	Attempts []strategy.Attempt

	// Revisions counts review revision passes consumed by the winning
	// strategy. Zero for non-review stages.
	Revisions int
}

// ExhaustedError is returned when every strategy the policy allows has been
// tried and failed. Callers route the ticket to blocked rather than failing
// the workflow.
type ExhaustedError struct {
	Kind     strategy.Kind
	Attempts []strategy.Attempt
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s stage exhausted after %d attempts:\n%s",
		e.Kind, len(e.Attempts), strategy.FormatAttempts(e.Attempts))
}

// Executor runs stages under a policy set.
type Executor struct {
	Policies strategy.PolicySet
}

// Run executes the stage to completion or exhaustion.
func (e *Executor) Run(ctx workflow.Context, in Input) (*Result, error) {
	logger := workflow.GetLogger(ctx)
	p, ok := e.Policies.ForStage(in.Kind)
	if !ok {
		return nil, fmt.Errorf("no policy for stage %q", in.Kind)
	}

	current := p.First()
	var attempts []strategy.Attempt
	for {
		output, revisions, failMsg := e.attempt(ctx, in, p, current, attempts)
		if failMsg == "" {
			if len(attempts) > 0 {
				e.recordLearning(ctx, in, current, attempts)
			}
			return &Result{
				Output:     output,
				StrategyID: current.ID,
				ToolID:     current.ToolID,
				Attempts:   attempts,
				Revisions:  revisions,
			}, nil
		}

		kind := strategy.Classify(failMsg)
		attempts = append(attempts, strategy.Attempt{
			StrategyID:   current.ID,
			Family:       current.Family,
			ToolID:       current.ToolID,
			ErrorKind:    kind,
			ErrorMessage: failMsg,
		})
		logger.Warn("stage attempt failed",
			"stage", in.Kind, "strategy", current.ID, "error_kind", kind)
		e.publishAttemptFailed(ctx, in, current, kind, failMsg)

		sel := strategy.SelectNext(attempts, current.ID, current.Family, kind, p)
		if sel.Exhausted() {
			return nil, &ExhaustedError{Kind: in.Kind, Attempts: attempts}
		}
		next, ok := p.Strategy(sel.Next)
		if !ok {
			return nil, fmt.Errorf("selector chose unknown strategy %q", sel.Next)
		}
		logger.Info("switching strategy",
			"stage", in.Kind, "from", current.ID, "to", next.ID, "reason", sel.Reason)
		current = next
	}
}

// attempt runs one strategy to a pass/fail verdict, including the stage's
// post-conditions. An empty failMsg means success.
func (e *Executor) attempt(ctx workflow.Context, in Input, p *strategy.Policy, cur strategy.Strategy, prior []strategy.Attempt) (output string, revisions int, failMsg string) {
	if in.Kind == strategy.KindReview {
		return e.reviewAttempt(ctx, in, p, cur, prior)
	}

	out, err := e.invoke(ctx, in, cur, buildPrompt(in.Kind, in.Task, prior))
	if err != nil {
		return "", 0, err.Error()
	}
	if strings.TrimSpace(out) == "" {
		return "", 0, "invalid output: tool returned an empty response"
	}
	if in.Kind == strategy.KindCode {
		var report tools.DiffReport
		diffErr := workflow.ExecuteActivity(withShortOptions(ctx), ActivityWorkspaceDiff,
			tools.DiffInput{RepoPath: in.RepoPath}).Get(ctx, &report)
		if diffErr != nil {
			return "", 0, fmt.Sprintf("workspace diff check failed: %v", diffErr)
		}
		if !report.Dirty {
			return "", 0, "no changes produced in the working tree"
		}
	}
	return out, 0, ""
}

// reviewAttempt runs the review pass plus its revision sub-loop. Blocking
// findings trigger a revision by the same strategy and a fresh review, up to
// the policy's revision cap; findings that survive the cap fail the attempt.
func (e *Executor) reviewAttempt(ctx workflow.Context, in Input, p *strategy.Policy, cur strategy.Strategy, prior []strategy.Attempt) (string, int, string) {
	revisions := 0
	for {
		out, err := e.invoke(ctx, in, cur, buildPrompt(in.Kind, in.Task, prior))
		if err != nil {
			return "", revisions, err.Error()
		}
		findings := blockingFindings(out)
		if len(findings) == 0 {
			return out, revisions, ""
		}
		if revisions >= p.MaxRevisionsPerStrategy {
			return "", revisions, fmt.Sprintf(
				"unresolved blocking findings after %d revisions: %s",
				revisions, strings.Join(findings, "; "))
		}
		revisions++
		if _, err := e.invoke(ctx, in, cur, buildRevisionPrompt(in.Task, strings.Join(findings, "\n"))); err != nil {
			return "", revisions, err.Error()
		}
	}
}

func (e *Executor) invoke(ctx workflow.Context, in Input, cur strategy.Strategy, prompt string) (string, error) {
	var res tools.Result
	err := workflow.ExecuteActivity(withToolOptions(ctx), ActivityRunTool, tools.Invocation{
		Stage:      in.Kind,
		StrategyID: cur.ID,
		ToolID:     cur.ToolID,
		Prompt:     prompt,
		RepoPath:   in.RepoPath,
	}).Get(ctx, &res)
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// recordLearning persists the recovery path. Best effort: a registry write
// failure must not fail a stage that just succeeded.
func (e *Executor) recordLearning(ctx workflow.Context, in Input, winner strategy.Strategy, attempts []strategy.Attempt) {
	err := workflow.ExecuteActivity(withShortOptions(ctx), ActivityRecordLearning, learning.RecordInput{
		TicketID: in.TicketID,
		Record:   strategy.NewLearningRecord(in.Kind, winner, attempts),
	}).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("failed to record learning", "error", err)
	}
}

func (e *Executor) publishAttemptFailed(ctx workflow.Context, in Input, cur strategy.Strategy, kind strategy.ErrorKind, msg string) {
	msg, _ = redact.Redact(msg)
	if len(msg) > 500 {
		msg = msg[:500]
	}
	err := workflow.ExecuteActivity(withShortOptions(ctx), ActivityPublishEvent, notify.Event{
		TicketID: in.TicketID,
		Type:     notify.EventStrategyAttemptFailed,
		Stage:    string(in.Kind),
		Detail: map[string]string{
			"strategy":   string(cur.ID),
			"error_kind": string(kind),
			"error":      msg,
		},
		Timestamp: workflow.Now(ctx).UTC(),
	}).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("failed to publish attempt event", "error", err)
	}
}
