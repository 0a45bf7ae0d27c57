// Package strategy implements the adaptive strategy-matrix decision engine.
//
// Each lifecycle stage (discover, plan, code, review, communication) runs a
// bounded loop of tool invocations. When an invocation fails, the failure is
// classified into an ErrorKind and the selector picks the next strategy to
// try, switching strategy families when one keeps failing ("enough is
// enough") instead of retrying blindly.
//
// Everything in this package is pure and deterministic: no I/O, no clock, no
// randomness. It is safe to call from Temporal workflow code.
package strategy

// Kind identifies a lifecycle stage that runs strategies.
type Kind string

const (
	KindDiscover      Kind = "discover"
	KindPlan          Kind = "plan"
	KindCode          Kind = "code"
	KindReview        Kind = "review"
	KindCommunication Kind = "communication"
)

// Kinds lists all stage kinds in pipeline order.
func Kinds() []Kind {
	return []Kind{KindDiscover, KindPlan, KindCode, KindReview, KindCommunication}
}

// ID identifies a single strategy within a stage catalog.
type ID string

// Family groups strategies that are fallback siblings (same underlying
// provider, different configuration). Escalation abandons a whole family.
type Family string

// Strategy is one concrete way to execute a stage: a specific tool backend
// driven with a specific configuration.
type Strategy struct {
	ID     ID     `koanf:"id" json:"id"`
	Family Family `koanf:"family" json:"family"`
	ToolID string `koanf:"tool" json:"tool"`
}

// Attempt records one failed strategy invocation within a single stage
// execution. Attempts are append-only for the life of one stage run and are
// the sole input to selection.
type Attempt struct {
	StrategyID   ID        `json:"strategy_id"`
	Family       Family    `json:"family"`
	ToolID       string    `json:"tool_id"`
	ErrorKind    ErrorKind `json:"error_kind"`
	ErrorMessage string    `json:"error_message"`
}

// LearningRecord summarizes a stage execution that recovered from at least
// one failure. It is produced for external persistence; the engine never
// reads it back.
type LearningRecord struct {
	Stage             Kind        `json:"stage"`
	SelectedStrategy  ID          `json:"selected_strategy"`
	SelectedToolID    string      `json:"selected_tool_id"`
	TriggerErrorKinds []ErrorKind `json:"trigger_error_kinds"`
	StrategyPath      []ID        `json:"strategy_path"`
	AttemptCount      int         `json:"attempt_count"`
}

// NewLearningRecord builds the record for a stage that succeeded with
// selected after the given failed attempts. Trigger kinds are deduplicated
// with input order preserved; the path ends with the winning strategy.
func NewLearningRecord(stage Kind, selected Strategy, attempts []Attempt) LearningRecord {
	rec := LearningRecord{
		Stage:            stage,
		SelectedStrategy: selected.ID,
		SelectedToolID:   selected.ToolID,
		AttemptCount:     len(attempts) + 1,
	}
	seen := make(map[ErrorKind]bool, len(attempts))
	for _, a := range attempts {
		if !seen[a.ErrorKind] {
			seen[a.ErrorKind] = true
			rec.TriggerErrorKinds = append(rec.TriggerErrorKinds, a.ErrorKind)
		}
		rec.StrategyPath = append(rec.StrategyPath, a.StrategyID)
	}
	rec.StrategyPath = append(rec.StrategyPath, selected.ID)
	return rec
}
