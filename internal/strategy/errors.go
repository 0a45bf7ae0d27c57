package strategy

import "strings"

// ErrorKind is a normalized classification of a strategy failure, used to
// index the fallback matrix.
type ErrorKind string

const (
	// Transient infrastructure failures. Eligible for the single
	// same-strategy retry or a matrix-guided switch.
	ErrKindRateLimited ErrorKind = "rate_limited"
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindNonzeroExit ErrorKind = "nonzero_exit"

	// Capability failures. The backend cannot do the job as configured;
	// always switch, never retry as-is.
	ErrKindCLINotFound      ErrorKind = "cli_not_found"
	ErrKindModelUnavailable ErrorKind = "model_unavailable"
	ErrKindAuth             ErrorKind = "auth_error"
	ErrKindTokenLimit       ErrorKind = "token_limit"
	ErrKindBadRequest       ErrorKind = "provider_bad_request"

	// Semantic failures. The tool "succeeded" by exit status but failed the
	// stage's actual contract.
	ErrKindInvalidOutput    ErrorKind = "invalid_output"
	ErrKindNoChanges        ErrorKind = "no_changes_produced"
	ErrKindBlockingFindings ErrorKind = "unresolved_blocking_findings"

	ErrKindUnknown ErrorKind = "unknown"
)

// Category buckets error kinds for reporting and policy defaults.
type Category string

const (
	CategoryTransient  Category = "transient"
	CategoryCapability Category = "capability"
	CategorySemantic   Category = "semantic"
	CategoryUnknown    Category = "unknown"
)

// CategoryOf returns the taxonomy bucket for a kind. Unknown kinds are
// conservatively treated like capability errors by callers.
func CategoryOf(kind ErrorKind) Category {
	switch kind {
	case ErrKindRateLimited, ErrKindTimeout, ErrKindNonzeroExit:
		return CategoryTransient
	case ErrKindCLINotFound, ErrKindModelUnavailable, ErrKindAuth, ErrKindTokenLimit, ErrKindBadRequest:
		return CategoryCapability
	case ErrKindInvalidOutput, ErrKindNoChanges, ErrKindBlockingFindings:
		return CategorySemantic
	default:
		return CategoryUnknown
	}
}

// classifierRule maps failure-message signatures to an error kind.
// Order matters: the most specific signatures come first, and the first rule
// with any matching substring wins. Everything unmatched is unknown.
type classifierRule struct {
	kind       ErrorKind
	signatures []string
}

var classifierRules = []classifierRule{
	{ErrKindCLINotFound, []string{
		"executable file not found",
		"command not found",
		"no such file or directory",
	}},
	{ErrKindAuth, []string{
		"authentication",
		"unauthorized",
		"permission denied",
		"invalid api key",
		"credential",
		"401",
		"403",
	}},
	{ErrKindRateLimited, []string{
		"rate limit",
		"rate-limited",
		"too many requests",
		"429",
		"quota exceeded",
	}},
	{ErrKindModelUnavailable, []string{
		"model not found",
		"model is unavailable",
		"model_not_found",
		"overloaded",
		"capacity",
		"503",
	}},
	{ErrKindTokenLimit, []string{
		"context length",
		"token limit",
		"maximum context",
		"prompt is too long",
		"input too large",
	}},
	{ErrKindBadRequest, []string{
		"bad request",
		"invalid request",
		"400",
		"unprocessable",
	}},
	{ErrKindTimeout, []string{
		"timed out",
		"timeout",
		"deadline exceeded",
		"heartbeat",
	}},
	{ErrKindNoChanges, []string{
		"no changes produced",
		"empty diff",
		"working tree clean",
	}},
	{ErrKindBlockingFindings, []string{
		"unresolved blocking findings",
		"blocking findings remain",
	}},
	{ErrKindInvalidOutput, []string{
		"invalid output",
		"unparseable output",
		"malformed response",
		"empty output",
	}},
	// Generic exit-status match last among real signatures: many of the
	// kinds above also surface through a nonzero exit.
	{ErrKindNonzeroExit, []string{
		"exit status",
		"exit code",
		"signal: killed",
	}},
}

// Classify maps a raw tool failure message to an ErrorKind via ordered
// substring matching. Matching is case-insensitive.
func Classify(message string) ErrorKind {
	m := strings.ToLower(message)
	for _, rule := range classifierRules {
		for _, sig := range rule.signatures {
			if strings.Contains(m, sig) {
				return rule.kind
			}
		}
	}
	return ErrKindUnknown
}
