package ticket

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/ticketd/internal/ticket"

var (
	stageTransitionCounter metric.Int64Counter
	blockedCounter         metric.Int64Counter
	smokeFailureCounter    metric.Int64Counter
	commandCounter         metric.Int64Counter
)

// initMetrics initializes OpenTelemetry metrics for ticket runs. Called once
// during package initialization; recording goes through the host-configured
// global meter provider.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error
	stageTransitionCounter, err = meter.Int64Counter(
		"ticketd.ticket.transitions",
		metric.WithDescription("Total number of run stage transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create transition counter: %v", err))
	}

	blockedCounter, err = meter.Int64Counter(
		"ticketd.ticket.blocked",
		metric.WithDescription("Number of times runs entered the blocked state"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create blocked counter: %v", err))
	}

	smokeFailureCounter, err = meter.Int64Counter(
		"ticketd.ticket.smoke_failures",
		metric.WithDescription("Number of smoke verdicts that failed"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create smoke failure counter: %v", err))
	}

	commandCounter, err = meter.Int64Counter(
		"ticketd.ticket.commands",
		metric.WithDescription("Number of operator commands processed"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create command counter: %v", err))
	}
}

func init() {
	initMetrics()
}
