package ticket

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/ticketd/internal/notify"
	"github.com/fyrsmithlabs/ticketd/internal/stage"
)

// maxTransitions bounds the audit ring buffer; the oldest entries fall off.
const maxTransitions = 80

// transition moves the run to a new stage and appends the audit entry. The
// log is write-only from the run's perspective: nothing in the state machine
// reads it back.
func (r *run) transition(ctx workflow.Context, to Stage, rationale string, metadata map[string]string) {
	from := r.stage
	r.stage = to
	r.transitions = append(r.transitions, Transition{
		To:        to,
		Rationale: rationale,
		Metadata:  metadata,
		Timestamp: workflow.Now(ctx).UTC(),
	})
	if len(r.transitions) > maxTransitions {
		r.transitions = r.transitions[len(r.transitions)-maxTransitions:]
	}

	workflow.GetLogger(ctx).Info("stage transition",
		"ticket", r.in.TicketID, "from", from, "to", to, "rationale", rationale)
	stageTransitionCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("to", string(to))))
	if to == StageBlocked {
		blockedCounter.Add(context.Background(), 1)
		r.digestsSent = 0
	}

	detail := map[string]string{"from": string(from), "rationale": rationale}
	for k, v := range metadata {
		detail[k] = v
	}
	eventType := notify.EventStageTransition
	switch to {
	case StageBlocked:
		eventType = notify.EventBlocked
	case StageHandoff:
		eventType = notify.EventHandoff
	}
	err := workflow.ExecuteActivity(r.shortOpts(ctx), stage.ActivityPublishEvent, notify.Event{
		TicketID:  r.in.TicketID,
		Type:      eventType,
		Stage:     string(to),
		Detail:    detail,
		Timestamp: workflow.Now(ctx).UTC(),
	}).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("failed to publish transition event", "error", err)
	}
}

// block enters the universal recovery state, remembering where to resume.
func (r *run) block(ctx workflow.Context, resume Stage, reason string) {
	r.resumeStage = resume
	r.blockedReason = reason
	r.transition(ctx, StageBlocked, reason, map[string]string{"resume_stage": string(resume)})
}

// resume leaves blocked for the recorded resume stage.
func (r *run) resume(ctx workflow.Context, rationale string) {
	to := r.resumeStage
	if to == "" {
		to = StageStarted
	}
	r.resumeStage = ""
	r.blockedReason = ""
	r.transition(ctx, to, rationale, nil)
}
