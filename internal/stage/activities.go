package stage

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Activity names, matching the method names the worker registers. Workflow
// code invokes activities by name so the workflow packages stay free of
// activity-side dependencies.
const (
	ActivityRunTool          = "RunTool"
	ActivityWorkspaceDiff    = "WorkspaceDiff"
	ActivityRecordLearning   = "RecordLearning"
	ActivityPublishEvent     = "PublishEvent"
	ActivityPostComment      = "PostComment"
	ActivityCreatePR         = "CreatePullRequest"
	ActivityPollChecks       = "PollChecks"
	ActivityListFiles        = "ListChangedFiles"
	ActivityFetchIssue       = "FetchIssue"
	ActivityCommitAndPush    = "CommitAndPush"
	ActivityProvisionSandbox = "Provision"
	ActivityTeardownSandbox  = "Teardown"
	ActivityRunQA            = "RunQA"
)

// withToolOptions configures a tool invocation: hours-long timeout, heartbeat
// so the host can tell a hung agent from a slow one, and no host-side
// retries. Retrying is the strategy engine's job; Temporal retries would
// fight the matrix.
func withToolOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 4 * time.Hour,
		HeartbeatTimeout:    5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})
}

// withShortOptions configures quick supporting activities (diff checks,
// record keeping, event publishing).
func withShortOptions(ctx workflow.Context) workflow.Context {
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
