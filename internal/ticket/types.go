package ticket

import "time"

// Mode selects how a run treats its ticket.
type Mode string

const (
	// ModeNormal executes the full pipeline end to end.
	ModeNormal Mode = "normal"
	// ModeEvaluate answers questions about the ticket but never executes.
	// The switch into evaluate mode is one-way.
	ModeEvaluate Mode = "evaluate_only"
)

// Stage is the lifecycle position of a run.
type Stage string

const (
	StageStarted        Stage = "started"
	StageEvaluating     Stage = "evaluating"
	StageDiscovering    Stage = "discovering"
	StagePlanning       Stage = "planning"
	StageCoding         Stage = "coding"
	StageCreatingPR     Stage = "creating_pr"
	StageWaitingSandbox Stage = "waiting_sandbox"
	StageWaitingSmoke   Stage = "waiting_smoke"
	StageTearingDown    Stage = "tearing_down"
	StageHandoff        Stage = "handoff"
	StageBlocked        Stage = "blocked"
	StageFailed         Stage = "failed"
	StageCompleted      Stage = "completed"
)

// Signal and query names on the ticket workflow.
const (
	SignalComment = "comment"
	SignalPREvent = "pr-event"
	SignalWake    = "wake"

	QueryStatus = "status"
)

// WorkflowIDPrefix namespaces ticket workflow IDs. The full ID is
// WorkflowIDPrefix + the external issue id, so one durable run exists per
// ticket.
const WorkflowIDPrefix = "ticket-"

// Input starts a run for one ticket.
type Input struct {
	// TicketID is the external issue id, e.g. "acme/app#42".
	TicketID    string `json:"ticket_id"`
	Owner       string `json:"owner"`
	Repo        string `json:"repo"`
	IssueNumber int    `json:"issue_number"`

	Mode Mode `json:"mode"`

	// RepoPath is the worker-local checkout the coding stages operate on.
	RepoPath   string `json:"repo_path"`
	BaseBranch string `json:"base_branch"`
}

// CommentEvent is an inbound issue comment.
type CommentEvent struct {
	DeliveryID string    `json:"delivery_id"`
	IssueID    string    `json:"issue_id"`
	CommentID  int64     `json:"comment_id"`
	Body       string    `json:"body"`
	AuthorID   string    `json:"author_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// PREvent is an inbound pull-request event.
type PREvent struct {
	DeliveryID   string `json:"delivery_id"`
	IssueID      string `json:"issue_id"`
	Action       string `json:"action"`
	RepoFullName string `json:"repo_full_name"`
	PRNumber     int    `json:"pr_number"`
	PRURL        string `json:"pr_url"`
	BranchName   string `json:"branch_name"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	Merged       bool   `json:"merged"`
}

// WakeEvent forces the run to re-evaluate with no payload.
type WakeEvent struct {
	DeliveryID string `json:"delivery_id"`
	IssueID    string `json:"issue_id"`
}

// Status is the atomic snapshot served by the status query.
type Status struct {
	TicketID    string `json:"ticket_id"`
	Mode        Mode   `json:"mode"`
	Stage       Stage  `json:"stage"`
	ResumeStage Stage  `json:"resume_stage,omitempty"`

	ReviewAttempts int `json:"review_attempts"`
	SmokeAttempts  int `json:"smoke_attempts"`

	PRURL        string `json:"pr_url,omitempty"`
	PRNumber     int    `json:"pr_number,omitempty"`
	HeadBranch   string `json:"head_branch,omitempty"`
	PRClosed     bool   `json:"pr_closed,omitempty"`
	SandboxID    string `json:"sandbox_id,omitempty"`
	SandboxURL   string `json:"sandbox_url,omitempty"`
	FrontendTask bool   `json:"frontend_task,omitempty"`

	BlockedReason string `json:"blocked_reason,omitempty"`
	LastError     string `json:"last_error,omitempty"`
}

// Transition is one audit entry. The log is observability only; control flow
// never reads it back.
type Transition struct {
	To        Stage             `json:"to"`
	Rationale string            `json:"rationale"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
