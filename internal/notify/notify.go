// Package notify publishes operator events to NATS.
//
// Strategy failures, stage transitions and handoff digests are published for
// ops consumers (dashboards, alerting). Publishing is fire-and-forget: an
// unavailable bus never fails the lifecycle, and an unconfigured bus turns
// every publish into a no-op.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ticketd/internal/logging"
)

// Event is one operator event.
type Event struct {
	TicketID  string            `json:"ticket_id"`
	Type      string            `json:"type"`
	Stage     string            `json:"stage,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Event types published by the orchestrator.
const (
	EventStrategyAttemptFailed = "strategy_attempt_failed"
	EventStageTransition       = "stage_transition"
	EventBlocked               = "blocked"
	EventHandoff               = "handoff"
)

// Publisher publishes events to NATS subjects under a prefix. A nil
// Publisher and a Publisher without a connection are both safe to use.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	logger *logging.Logger
}

// NewPublisher connects to NATS. An empty URL returns a disabled publisher.
func NewPublisher(url, prefix string, logger *logging.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Publisher{prefix: prefix, logger: logger.Named("notify")}
	if url == "" {
		return p, nil
	}

	conn, err := nats.Connect(url,
		nats.Name("ticketd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	p.conn = conn
	return p, nil
}

// PublishEvent publishes one event. Registered as a Temporal activity.
// Errors are logged, never returned: the bus is observability, not control
// flow.
func (p *Publisher) PublishEvent(ctx context.Context, event Event) error {
	if p == nil || p.conn == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn(ctx, "failed to encode event", zap.Error(err))
		return nil
	}
	subject := fmt.Sprintf("%s.%s", p.prefix, event.TicketID)
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Warn(ctx, "failed to publish event",
			zap.String("subject", subject),
			zap.String("type", event.Type),
			zap.Error(err),
		)
	}
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p != nil && p.conn != nil {
		p.conn.Close()
	}
}
