package ticket

import "fmt"

// ErrorSeverity classifies how an operator error affects the run.
type ErrorSeverity string

const (
	// SeverityCritical blocks the run until an operator intervenes.
	SeverityCritical ErrorSeverity = "critical"
	// SeverityHigh is recorded on the run but the pipeline continues.
	SeverityHigh ErrorSeverity = "high"
	// SeverityLow is logged and otherwise ignored.
	SeverityLow ErrorSeverity = "low"
)

// OperatorError is a structured failure inside the run: which operation
// failed, how bad it is, and any extra context worth surfacing to a human.
type OperatorError struct {
	Operation string
	Severity  ErrorSeverity
	Err       error
	Context   string
}

func (e *OperatorError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s failed: %s (%s)", e.Operation, e.Err.Error(), e.Context)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Err.Error())
}

func (e *OperatorError) Unwrap() error {
	return e.Err
}

func newOperatorError(operation string, severity ErrorSeverity, err error, context string) *OperatorError {
	return &OperatorError{Operation: operation, Severity: severity, Err: err, Context: context}
}
