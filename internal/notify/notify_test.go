package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledPublisherIsInert(t *testing.T) {
	p, err := NewPublisher("", "ticketd.events", nil)
	require.NoError(t, err)

	err = p.PublishEvent(context.Background(), Event{
		TicketID:  "acme/app#42",
		Type:      EventStageTransition,
		Stage:     "coding",
		Timestamp: time.Now(),
	})
	assert.NoError(t, err)
	p.Close()
}

func TestNilPublisherIsSafe(t *testing.T) {
	var p *Publisher
	assert.NoError(t, p.PublishEvent(context.Background(), Event{TicketID: "acme/app#1"}))
	p.Close()
}
