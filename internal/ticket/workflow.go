// Package ticket implements the durable per-issue orchestration run.
//
// One TicketWorkflow instance exists per external issue id. It owns all run
// state, consumes comment / PR / wake signals, and drives the lifecycle
// stages through the strategy engine. The workflow is the run's single
// logical thread: signals are drained to empty before the stage is
// re-evaluated, and every state change lands in the transition log.
package ticket

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/ticketd/internal/ghops"
	"github.com/fyrsmithlabs/ticketd/internal/redact"
	"github.com/fyrsmithlabs/ticketd/internal/sandbox"
	"github.com/fyrsmithlabs/ticketd/internal/stage"
	"github.com/fyrsmithlabs/ticketd/internal/strategy"
)

const (
	digestInterval = 24 * time.Hour
	maxDigests     = 3

	checksPollInterval = 2 * time.Minute
	maxChecksPolls     = 60

	seenDeliveryCap = 256
)

// policies is the process-wide strategy policy set. Loaded once at worker
// startup, read-only afterwards.
var policies = strategy.DefaultPolicySet()

// SetPolicies installs the policy set. Must be called before the worker
// starts polling; the tables are never mutated after that.
func SetPolicies(ps strategy.PolicySet) {
	policies = ps
}

// run is the in-workflow state of one orchestration run. Mutated only by the
// workflow's own logical thread.
type run struct {
	in   Input
	exec *stage.Executor

	mode        Mode
	stage       Stage
	resumeStage Stage

	reviewAttempts int
	smokeAttempts  int

	prURL        string
	prNumber     int
	prevPRNumber int
	headBranch   string
	prClosed     bool
	repoFullName string

	sandboxID       string
	sandboxURL      string
	sandboxTornDown bool

	frontendTask  bool
	blockedReason string
	lastError     string

	issue          *ghops.IssueDetails
	discoveryNotes string
	planSummary    string
	reviewNotes    string

	smokeVerdict string
	checksPolls  int
	digestsSent  int
	commentSeq   int

	prefs       map[string]string
	transitions []Transition
	seen        []string

	commentCh workflow.ReceiveChannel
	prCh      workflow.ReceiveChannel
	wakeCh    workflow.ReceiveChannel
}

// TicketWorkflow is the orchestrator entry point.
func TicketWorkflow(ctx workflow.Context, in Input) error {
	r := &run{
		in:    in,
		exec:  &stage.Executor{Policies: policies},
		mode:  in.Mode,
		stage: StageStarted,
		prefs: map[string]string{},
	}
	if r.mode == "" {
		r.mode = ModeNormal
	}
	if r.in.BaseBranch == "" {
		r.in.BaseBranch = "main"
	}

	if err := workflow.SetQueryHandler(ctx, QueryStatus, r.status); err != nil {
		return fmt.Errorf("failed to register status query: %w", err)
	}
	r.commentCh = workflow.GetSignalChannel(ctx, SignalComment)
	r.prCh = workflow.GetSignalChannel(ctx, SignalPREvent)
	r.wakeCh = workflow.GetSignalChannel(ctx, SignalWake)

	r.transition(ctx, StageStarted, "run created", nil)
	if r.mode == ModeEvaluate {
		r.transition(ctx, StageEvaluating, "launched in analysis-only mode", nil)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.drainSignals(ctx)
		switch r.stage {
		case StageCompleted, StageFailed:
			workflow.GetLogger(ctx).Info("run finished", "ticket", r.in.TicketID, "stage", r.stage)
			return nil
		case StageEvaluating, StageBlocked:
			r.awaitSignal(ctx)
		default:
			r.step(ctx)
		}
	}
}

// status serves the atomic query snapshot.
func (r *run) status() (Status, error) {
	return Status{
		TicketID:       r.in.TicketID,
		Mode:           r.mode,
		Stage:          r.stage,
		ResumeStage:    r.resumeStage,
		ReviewAttempts: r.reviewAttempts,
		SmokeAttempts:  r.smokeAttempts,
		PRURL:          r.prURL,
		PRNumber:       r.prNumber,
		HeadBranch:     r.headBranch,
		PRClosed:       r.prClosed,
		SandboxID:      r.sandboxID,
		SandboxURL:     r.sandboxURL,
		FrontendTask:   r.frontendTask,
		BlockedReason:  r.blockedReason,
		LastError:      r.lastError,
	}, nil
}

// drainSignals empties every signal channel, in arrival order per channel,
// before the caller re-evaluates the stage.
func (r *run) drainSignals(ctx workflow.Context) {
	for {
		var ev CommentEvent
		if r.commentCh.ReceiveAsync(&ev) {
			r.handleComment(ctx, ev)
			continue
		}
		var pe PREvent
		if r.prCh.ReceiveAsync(&pe) {
			r.handlePREvent(ctx, pe)
			continue
		}
		var we WakeEvent
		if r.wakeCh.ReceiveAsync(&we) {
			r.isDuplicate(we.DeliveryID)
			continue
		}
		return
	}
}

// awaitSignal blocks until any signal arrives. While blocked, a digest timer
// posts a capped number of reminder comments.
func (r *run) awaitSignal(ctx workflow.Context) {
	sel := workflow.NewSelector(ctx)
	sel.AddReceive(r.commentCh, func(c workflow.ReceiveChannel, more bool) {
		var ev CommentEvent
		c.Receive(ctx, &ev)
		r.handleComment(ctx, ev)
	})
	sel.AddReceive(r.prCh, func(c workflow.ReceiveChannel, more bool) {
		var ev PREvent
		c.Receive(ctx, &ev)
		r.handlePREvent(ctx, ev)
	})
	sel.AddReceive(r.wakeCh, func(c workflow.ReceiveChannel, more bool) {
		var ev WakeEvent
		c.Receive(ctx, &ev)
		r.isDuplicate(ev.DeliveryID)
	})
	sel.AddReceive(ctx.Done(), func(c workflow.ReceiveChannel, more bool) {})

	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	defer cancelTimer()
	if r.stage == StageBlocked && r.digestsSent < maxDigests {
		sel.AddFuture(workflow.NewTimer(timerCtx, digestInterval), func(f workflow.Future) {
			if err := f.Get(timerCtx, nil); err != nil {
				return
			}
			r.digestsSent++
			r.postComment(ctx, "", fmt.Sprintf(
				"Still blocked: %s\n\nReply `continue` to resume, or `status` for details.",
				r.blockedReason))
		})
	}
	sel.Select(ctx)
}

// isDuplicate records a delivery id and reports whether it was already seen.
// Empty ids are never deduplicated.
func (r *run) isDuplicate(deliveryID string) bool {
	if deliveryID == "" {
		return false
	}
	for _, id := range r.seen {
		if id == deliveryID {
			return true
		}
	}
	r.seen = append(r.seen, deliveryID)
	if len(r.seen) > seenDeliveryCap {
		r.seen = r.seen[len(r.seen)-seenDeliveryCap:]
	}
	return false
}

func (r *run) handleComment(ctx workflow.Context, ev CommentEvent) {
	if r.isDuplicate(ev.DeliveryID) {
		workflow.GetLogger(ctx).Debug("dropping duplicate delivery", "delivery_id", ev.DeliveryID)
		return
	}

	cmd, ok := parseCommand(ev.Body)
	if !ok {
		if r.mode == ModeEvaluate {
			r.answerQuestion(ctx, ev)
		}
		return
	}
	if !knownVerbs[cmd.Verb] {
		// Only the explicit prefix form reaches here.
		r.replyTo(ctx, ev, fmt.Sprintf("I didn't understand `%s`. Try `/%s help`.", cmd.Verb, botName))
		return
	}
	commandCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("verb", cmd.Verb)))
	if r.mode == ModeEvaluate && executionVerbs[cmd.Verb] {
		r.replyTo(ctx, ev, fmt.Sprintf("`%s` is disabled: this run is analysis-only.", cmd.Verb))
		return
	}

	switch cmd.Verb {
	case "help":
		r.replyTo(ctx, ev, renderHelp())
	case "status":
		r.replyTo(ctx, ev, r.renderStatus())
	case "evaluate":
		if r.mode == ModeEvaluate {
			r.replyTo(ctx, ev, "Already in analysis-only mode.")
			return
		}
		r.mode = ModeEvaluate
		r.resumeStage = ""
		r.blockedReason = ""
		r.transition(ctx, StageEvaluating, "operator switched to analysis-only mode", nil)
		r.replyTo(ctx, ev, "Switched to analysis-only mode. This is one-way; I will answer questions but not execute.")
	case "stop":
		if r.stage == StageBlocked {
			r.replyTo(ctx, ev, "Already stopped: "+r.blockedReason)
			return
		}
		if r.stage == StageCompleted || r.stage == StageFailed {
			r.replyTo(ctx, ev, "The run has already finished.")
			return
		}
		r.block(ctx, r.stage, "stopped by operator")
		r.replyTo(ctx, ev, fmt.Sprintf("Stopped. Reply `continue` to resume at `%s`.", r.resumeStage))
	case "continue":
		if r.stage != StageBlocked {
			r.replyTo(ctx, ev, fmt.Sprintf("Nothing to continue; the run is `%s`.", r.stage))
			return
		}
		r.resume(ctx, "operator continue")
		r.replyTo(ctx, ev, fmt.Sprintf("Resuming at `%s`.", r.stage))
	case "restart":
		r.reset()
		r.transition(ctx, StageStarted, "operator restart", nil)
		r.replyTo(ctx, ev, "Restarting the pipeline from scratch.")
	case "sandbox":
		if len(cmd.Args) == 0 {
			r.replyTo(ctx, ev, "Usage: `sandbox <url>`")
			return
		}
		r.sandboxURL = cmd.Args[0]
		if r.stage == StageBlocked && (r.resumeStage == StageWaitingSandbox || r.resumeStage == StageWaitingSmoke) {
			r.resumeStage = StageWaitingSmoke
			r.resume(ctx, "operator provided a sandbox URL")
		}
		r.replyTo(ctx, ev, fmt.Sprintf("Using sandbox %s.", r.sandboxURL))
	case "smoke":
		if len(cmd.Args) == 0 || (cmd.Args[0] != "pass" && cmd.Args[0] != "fail") {
			r.replyTo(ctx, ev, "Usage: `smoke pass` or `smoke fail`")
			return
		}
		r.smokeVerdict = cmd.Args[0]
		if r.stage == StageBlocked && r.resumeStage == StageWaitingSmoke {
			r.resume(ctx, "operator reported smoke verdict")
		}
	case "prefs":
		r.handlePrefs(ctx, ev, cmd.Args)
	}
}

func (r *run) handlePrefs(ctx workflow.Context, ev CommentEvent, args []string) {
	sub := "show"
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}
	switch sub {
	case "show":
		r.replyTo(ctx, ev, r.renderPrefs())
	case "reset":
		r.prefs = map[string]string{}
		r.replyTo(ctx, ev, "Preferences cleared.")
	case "set":
		set := 0
		for _, pair := range args[1:] {
			k, v, found := strings.Cut(pair, "=")
			if !found || k == "" {
				continue
			}
			r.prefs[k] = v
			set++
		}
		if set == 0 {
			r.replyTo(ctx, ev, "Usage: `prefs set key=value ...`")
			return
		}
		r.replyTo(ctx, ev, r.renderPrefs())
	default:
		r.replyTo(ctx, ev, "Usage: `prefs show|reset|set key=value ...`")
	}
}

func (r *run) handlePREvent(ctx workflow.Context, ev PREvent) {
	if r.isDuplicate(ev.DeliveryID) {
		return
	}
	if ev.RepoFullName != "" {
		r.repoFullName = ev.RepoFullName
	}
	if r.prNumber != 0 && ev.PRNumber != 0 && ev.PRNumber != r.prNumber {
		return // event for a PR this run does not own
	}
	if ev.PRNumber != 0 && r.prNumber == 0 {
		r.prNumber = ev.PRNumber
		r.prURL = ev.PRURL
		if ev.BranchName != "" {
			r.headBranch = ev.BranchName
		}
	}

	switch ev.Action {
	case "closed":
		r.prClosed = true
		if r.sandboxID != "" && !r.sandboxTornDown {
			r.resumeStage = ""
			r.blockedReason = ""
			r.transition(ctx, StageTearingDown, "pull request closed with a live sandbox", nil)
			return
		}
		if ev.Merged && (r.stage == StageWaitingSmoke || r.stage == StageWaitingSandbox || r.stage == StageBlocked) {
			r.resumeStage = ""
			r.blockedReason = ""
			r.transition(ctx, StageHandoff, "pull request merged externally", nil)
		}
	case "reopened":
		r.prClosed = false
	}
}

// reset clears everything restart should forget.
func (r *run) reset() {
	r.resumeStage = ""
	r.reviewAttempts = 0
	r.smokeAttempts = 0
	r.prURL = ""
	r.prNumber = 0
	r.prevPRNumber = 0
	r.headBranch = ""
	r.prClosed = false
	r.sandboxID = ""
	r.sandboxURL = ""
	r.sandboxTornDown = false
	r.frontendTask = false
	r.blockedReason = ""
	r.lastError = ""
	r.discoveryNotes = ""
	r.planSummary = ""
	r.reviewNotes = ""
	r.smokeVerdict = ""
	r.checksPolls = 0
}

// step advances the pipeline by one stage evaluation.
func (r *run) step(ctx workflow.Context) {
	switch r.stage {
	case StageStarted:
		r.stepStarted(ctx)
	case StageDiscovering:
		r.stepDiscovering(ctx)
	case StagePlanning:
		r.stepPlanning(ctx)
	case StageCoding:
		r.stepCoding(ctx)
	case StageCreatingPR:
		r.stepCreatingPR(ctx)
	case StageWaitingSandbox:
		r.stepWaitingSandbox(ctx)
	case StageWaitingSmoke:
		r.stepWaitingSmoke(ctx)
	case StageHandoff:
		r.stepHandoff(ctx)
	case StageTearingDown:
		r.stepTearingDown(ctx)
	default:
		r.awaitSignal(ctx)
	}
}

func (r *run) stepStarted(ctx workflow.Context) {
	if r.issue == nil {
		var details ghops.IssueDetails
		err := workflow.ExecuteActivity(r.opsOpts(ctx), stage.ActivityFetchIssue, ghops.FetchIssueInput{
			Owner:       r.in.Owner,
			Repo:        r.in.Repo,
			IssueNumber: r.in.IssueNumber,
		}).Get(ctx, &details)
		if err != nil {
			r.lastError = newOperatorError("fetch ticket", SeverityCritical, err, r.in.TicketID).Error()
			r.block(ctx, StageStarted, r.lastError)
			return
		}
		r.issue = &details
	}

	// Idempotent resume: skip stages whose artifacts already exist.
	switch {
	case r.planSummary != "":
		r.transition(ctx, StageCoding, "plan already exists", nil)
	case r.discoveryNotes != "":
		r.transition(ctx, StagePlanning, "discovery notes already exist", nil)
	default:
		r.transition(ctx, StageDiscovering, "beginning pipeline", nil)
	}
}

func (r *run) stepDiscovering(ctx workflow.Context) {
	res, err := r.exec.Run(ctx, stage.Input{
		TicketID: r.in.TicketID,
		Kind:     strategy.KindDiscover,
		Task:     r.ticketContext(),
		RepoPath: r.in.RepoPath,
	})
	if err != nil {
		r.failStage(ctx, StageDiscovering, err)
		return
	}
	r.discoveryNotes = res.Output
	r.transition(ctx, StagePlanning, "discovery complete", map[string]string{"strategy": string(res.StrategyID)})
}

func (r *run) stepPlanning(ctx workflow.Context) {
	res, err := r.exec.Run(ctx, stage.Input{
		TicketID: r.in.TicketID,
		Kind:     strategy.KindPlan,
		Task:     r.ticketContext() + "\n\nDiscovery notes:\n" + r.discoveryNotes,
		RepoPath: r.in.RepoPath,
	})
	if err != nil {
		r.failStage(ctx, StagePlanning, err)
		return
	}
	r.planSummary = res.Output
	r.transition(ctx, StageCoding, "plan complete", map[string]string{"strategy": string(res.StrategyID)})
}

func (r *run) stepCoding(ctx workflow.Context) {
	task := r.ticketContext() + "\n\nPlan:\n" + r.planSummary
	if r.lastError != "" {
		task += "\n\nA previous cycle failed; address this as well:\n" + r.lastError
	}
	res, err := r.exec.Run(ctx, stage.Input{
		TicketID: r.in.TicketID,
		Kind:     strategy.KindCode,
		Task:     task,
		RepoPath: r.in.RepoPath,
	})
	if err != nil {
		r.failStage(ctx, StageCoding, err)
		return
	}

	r.reviewAttempts++
	rev, err := r.exec.Run(ctx, stage.Input{
		TicketID: r.in.TicketID,
		Kind:     strategy.KindReview,
		Task:     r.ticketContext() + "\n\nPlan:\n" + r.planSummary,
		RepoPath: r.in.RepoPath,
	})
	if err != nil {
		r.failStage(ctx, StageCoding, err)
		return
	}
	r.reviewNotes = rev.Output
	r.lastError = ""
	r.transition(ctx, StageCreatingPR, "implementation reviewed", map[string]string{
		"code_strategy":   string(res.StrategyID),
		"review_strategy": string(rev.StrategyID),
	})
}

func (r *run) stepCreatingPR(ctx workflow.Context) {
	branch := fmt.Sprintf("%s/issue-%d", botName, r.in.IssueNumber)

	var pushed ghops.CommitAndPushResult
	err := workflow.ExecuteActivity(r.opsOpts(ctx), stage.ActivityCommitAndPush, ghops.CommitAndPushInput{
		RepoPath: r.in.RepoPath,
		Branch:   branch,
		Message:  fmt.Sprintf("%s: %s", r.in.TicketID, r.issue.Title),
	}).Get(ctx, &pushed)
	if err != nil {
		r.lastError = newOperatorError("commit and push", SeverityCritical, err, branch).Error()
		r.block(ctx, StageCreatingPR, r.lastError)
		return
	}

	var ref ghops.PullRequestRef
	err = workflow.ExecuteActivity(r.opsOpts(ctx), stage.ActivityCreatePR, ghops.CreatePullRequestInput{
		Owner: r.in.Owner,
		Repo:  r.in.Repo,
		Title: r.issue.Title,
		Body:  fmt.Sprintf("%s\n\nCloses #%d", r.planSummary, r.in.IssueNumber),
		Head:  branch,
		Base:  r.in.BaseBranch,
	}).Get(ctx, &ref)
	if err != nil {
		r.lastError = newOperatorError("create pull request", SeverityCritical, err, branch).Error()
		r.block(ctx, StageCreatingPR, r.lastError)
		return
	}

	if ref.Number != r.prevPRNumber {
		r.smokeAttempts = 0 // a genuinely new PR cycle
	}
	r.prURL = ref.URL
	r.prNumber = ref.Number
	r.prevPRNumber = ref.Number
	r.headBranch = branch
	r.prClosed = false
	r.checksPolls = 0

	var files []string
	if err := workflow.ExecuteActivity(r.opsOpts(ctx), stage.ActivityListFiles, ghops.ListChangedFilesInput{
		Owner:    r.in.Owner,
		Repo:     r.in.Repo,
		PRNumber: ref.Number,
	}).Get(ctx, &files); err != nil {
		workflow.GetLogger(ctx).Warn("failed to list changed files", "error", err)
	}
	r.frontendTask = isFrontendTask(files, r.issue.Labels, r.issue.Title)

	r.postComment(ctx, "", fmt.Sprintf("Opened %s for this ticket.", ref.URL))

	if r.frontendTask {
		r.transition(ctx, StageWaitingSandbox, "front-end change needs a visual preview", nil)
		return
	}
	r.transition(ctx, StageWaitingSmoke, "pull request ready", map[string]string{"pr": ref.URL})
}

func (r *run) stepWaitingSandbox(ctx workflow.Context) {
	var res sandbox.ProvisionResult
	err := workflow.ExecuteActivity(r.opsOpts(ctx), stage.ActivityProvisionSandbox, sandbox.ProvisionInput{
		TicketID:     r.in.TicketID,
		RepoFullName: r.in.Owner + "/" + r.in.Repo,
		Branch:       r.headBranch,
		PRNumber:     r.prNumber,
	}).Get(ctx, &res)
	if err != nil {
		r.block(ctx, StageWaitingSandbox, newOperatorError("provision sandbox", SeverityCritical, err, "").Error())
		return
	}

	switch res.Outcome {
	case sandbox.OutcomeReady:
		r.sandboxID = res.ID
		r.sandboxURL = res.URL
		r.sandboxTornDown = false
		r.postComment(ctx, "", fmt.Sprintf("Preview sandbox is up: %s", res.URL))
		r.transition(ctx, StageWaitingSmoke, "sandbox ready", map[string]string{"sandbox": res.URL})
	case sandbox.OutcomeFailed:
		r.block(ctx, StageWaitingSandbox, "sandbox provisioning failed: "+res.Message)
	default: // skipped
		if r.sandboxURL != "" {
			r.transition(ctx, StageWaitingSmoke, "using operator-provided sandbox", nil)
			return
		}
		r.block(ctx, StageWaitingSandbox, "no sandbox provisioner configured; provide one with `sandbox <url>`")
	}
}

func (r *run) stepWaitingSmoke(ctx workflow.Context) {
	if r.smokeVerdict != "" {
		verdict := r.smokeVerdict
		r.smokeVerdict = ""
		if verdict == "pass" {
			r.transition(ctx, StageHandoff, "operator reported smoke pass", nil)
			return
		}
		r.smokeFailure(ctx, "operator reported a smoke failure")
		return
	}

	var checks ghops.ChecksReport
	err := workflow.ExecuteActivity(r.opsOpts(ctx), stage.ActivityPollChecks, ghops.PollChecksInput{
		Owner:    r.in.Owner,
		Repo:     r.in.Repo,
		PRNumber: r.prNumber,
	}).Get(ctx, &checks)
	if err != nil {
		workflow.GetLogger(ctx).Warn("failed to poll checks", "error", err)
	} else {
		if checks.Pending > 0 {
			if r.checksPolls >= maxChecksPolls {
				r.block(ctx, StageWaitingSmoke, "checks are still pending after repeated polling")
				return
			}
			r.checksPolls++
			if err := workflow.Sleep(ctx, checksPollInterval); err != nil {
				return
			}
			return
		}
		r.checksPolls = 0
		if len(checks.Failed) > 0 {
			r.smokeFailure(ctx, "checks failed: "+strings.Join(checks.Failed, ", "))
			return
		}
	}

	var qa sandbox.QAResult
	err = workflow.ExecuteActivity(r.opsOpts(ctx), stage.ActivityRunQA, sandbox.QAInput{
		SandboxURL: r.sandboxURL,
		TicketID:   r.in.TicketID,
	}).Get(ctx, &qa)
	if err != nil {
		r.block(ctx, StageWaitingSmoke, newOperatorError("run smoke", SeverityCritical, err, "").Error())
		return
	}
	switch qa.Outcome {
	case sandbox.QAPass:
		r.transition(ctx, StageHandoff, "automated smoke passed", nil)
	case sandbox.QAFail:
		r.smokeFailure(ctx, qa.Details)
	default: // skipped
		r.block(ctx, StageWaitingSmoke, "awaiting a smoke verdict; reply `smoke pass` or `smoke fail`")
	}
}

// smokeFailure applies the smoke retry policy: the first failure on a PR
// cycle loops back to coding with the PR and sandbox references reset, the
// second blocks awaiting an operator.
func (r *run) smokeFailure(ctx workflow.Context, detail string) {
	r.smokeAttempts++
	smokeFailureCounter.Add(context.Background(), 1)
	r.lastError = "smoke failed: " + detail

	if r.smokeAttempts >= 2 {
		r.block(ctx, StageWaitingSmoke, fmt.Sprintf("smoke failed twice on this pull request: %s", detail))
		return
	}

	r.teardownSandbox(ctx)
	r.prURL = ""
	r.prNumber = 0
	r.prClosed = false
	r.transition(ctx, StageCoding, "smoke failed, returning to coding", map[string]string{"detail": detail})
}

func (r *run) stepHandoff(ctx workflow.Context) {
	var b strings.Builder
	b.WriteString("Ready for human review.\n\n")
	if r.prURL != "" {
		fmt.Fprintf(&b, "- pull request: %s\n", r.prURL)
	}
	if r.sandboxURL != "" {
		fmt.Fprintf(&b, "- sandbox: %s\n", r.sandboxURL)
	}
	fmt.Fprintf(&b, "- review attempts: %d, smoke attempts: %d\n", r.reviewAttempts, r.smokeAttempts)
	if r.reviewNotes != "" {
		fmt.Fprintf(&b, "\nReview notes:\n%s\n", r.reviewNotes)
	}
	r.postComment(ctx, "", strings.TrimRight(b.String(), "\n"))

	if r.sandboxID != "" && !r.sandboxTornDown {
		r.transition(ctx, StageTearingDown, "handoff complete, cleaning up sandbox", nil)
		return
	}
	r.transition(ctx, StageCompleted, "handoff complete", nil)
}

func (r *run) stepTearingDown(ctx workflow.Context) {
	r.teardownSandbox(ctx)
	r.transition(ctx, StageCompleted, "sandbox torn down", nil)
}

// teardownSandbox destroys the sandbox if one is live. Failures are logged,
// not fatal: teardown is housekeeping.
func (r *run) teardownSandbox(ctx workflow.Context) {
	if r.sandboxID == "" || r.sandboxTornDown {
		r.sandboxID = ""
		r.sandboxURL = ""
		return
	}
	err := workflow.ExecuteActivity(r.opsOpts(ctx), stage.ActivityTeardownSandbox, sandbox.TeardownInput{
		SandboxID: r.sandboxID,
	}).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("sandbox teardown failed", "sandbox", r.sandboxID, "error", err)
	}
	r.sandboxTornDown = true
	r.sandboxID = ""
	r.sandboxURL = ""
}

// failStage handles a stage executor hard failure: the run blocks with the
// full attempt trail and the stage recorded as the resume point.
func (r *run) failStage(ctx workflow.Context, failed Stage, err error) {
	r.lastError = err.Error()
	r.block(ctx, failed, fmt.Sprintf("%s exhausted every strategy:\n\n%s", failed, err.Error()))
}

// answerQuestion composes a reply to a non-command comment via the
// communication stage. Analysis-only mode only.
func (r *run) answerQuestion(ctx workflow.Context, ev CommentEvent) {
	res, err := r.exec.Run(ctx, stage.Input{
		TicketID: r.in.TicketID,
		Kind:     strategy.KindCommunication,
		Task:     r.ticketContext() + "\n\nOperator comment:\n" + ev.Body,
		RepoPath: r.in.RepoPath,
	})
	if err != nil {
		r.replyTo(ctx, ev, "I could not compose a reply; every strategy failed.")
		return
	}
	r.replyTo(ctx, ev, res.Output)
}

// ticketContext renders the ticket for stage prompts.
func (r *run) ticketContext() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket %s", r.in.TicketID)
	if r.issue != nil {
		fmt.Fprintf(&b, ": %s\n\n%s", r.issue.Title, r.issue.Body)
		if len(r.issue.Labels) > 0 {
			fmt.Fprintf(&b, "\n\nLabels: %s", strings.Join(r.issue.Labels, ", "))
		}
	}
	if len(r.prefs) > 0 {
		b.WriteString("\n\n" + r.renderPrefs())
	}
	return b.String()
}

// replyTo posts a comment in response to an inbound one, deduplicated by the
// triggering delivery so crash-retries never double-post.
func (r *run) replyTo(ctx workflow.Context, ev CommentEvent, body string) {
	key := "reply-" + ev.DeliveryID
	if ev.DeliveryID == "" {
		key = fmt.Sprintf("reply-c%d", ev.CommentID)
	}
	r.postComment(ctx, key, body)
}

// postComment posts to the ticket's issue. An empty key gets a sequential
// one, which is deterministic under replay. Bodies are redacted because they
// may embed raw tool output.
func (r *run) postComment(ctx workflow.Context, key, body string) {
	if key == "" {
		r.commentSeq++
		key = fmt.Sprintf("auto-%d", r.commentSeq)
	}
	if clean, n := redact.Redact(body); n > 0 {
		workflow.GetLogger(ctx).Warn("redacted secrets from outbound comment", "count", n)
		body = clean
	}
	err := workflow.ExecuteActivity(r.shortOpts(ctx), stage.ActivityPostComment, ghops.PostCommentInput{
		Owner:       r.in.Owner,
		Repo:        r.in.Repo,
		IssueNumber: r.in.IssueNumber,
		Body:        body,
		DedupeKey:   fmt.Sprintf("%s/%s", r.in.TicketID, key),
	}).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("failed to post comment", "error", err)
	}
}

func (r *run) shortOpts(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	})
}

func (r *run) opsOpts(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    2 * time.Minute,
			MaximumAttempts:    5,
		},
	})
}
