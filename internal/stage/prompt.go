package stage

import (
	"strings"

	"github.com/fyrsmithlabs/ticketd/internal/strategy"
)

const maxRevisionNote = "Focus only on the blocking findings below. Do not rework code the review did not flag."

var stageInstructions = map[strategy.Kind]string{
	strategy.KindDiscover: "Survey the repository and the ticket. Produce concise discovery notes: " +
		"relevant packages, entry points, existing patterns to follow, and risks. Do not modify files.",
	strategy.KindPlan: "Write an implementation plan for the ticket as a numbered list of concrete steps. " +
		"Name the files to touch and the tests to add. Do not modify files.",
	strategy.KindCode: "Implement the plan. Modify the working tree directly and keep the changes minimal. " +
		"Add or update tests alongside the change.",
	strategy.KindReview: "Review the working tree changes against the ticket. Report findings one per line " +
		"as 'severity: description' where severity is one of blocker, warning, nit. " +
		"Report 'no findings' if the change is acceptable.",
	strategy.KindCommunication: "Reply to the operator on behalf of the ticket. Be direct and specific. " +
		"Answer only what was asked.",
}

// buildPrompt assembles the prompt for one attempt. Prior failed attempts are
// folded in so a replacement strategy does not repeat the same mistake.
func buildPrompt(kind strategy.Kind, base string, attempts []strategy.Attempt) string {
	var b strings.Builder
	if inst, ok := stageInstructions[kind]; ok {
		b.WriteString(inst)
		b.WriteString("\n\n")
	}
	b.WriteString(base)
	if len(attempts) > 0 {
		b.WriteString("\n\nEarlier attempts at this step failed. Avoid repeating them:\n")
		b.WriteString(strategy.FormatAttempts(attempts))
	}
	return b.String()
}

// buildRevisionPrompt asks the implementing strategy to address blocking
// review findings in place.
func buildRevisionPrompt(base, findings string) string {
	var b strings.Builder
	b.WriteString("A review of your changes raised blocking findings:\n\n")
	b.WriteString(findings)
	b.WriteString("\n\n")
	b.WriteString(maxRevisionNote)
	b.WriteString("\n\nOriginal task for reference:\n")
	b.WriteString(base)
	return b.String()
}

// blockingFindings extracts the blocker-severity lines from review output.
// An empty result means the review passed.
func blockingFindings(output string) []string {
	var found []string
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, "blocker:") || strings.HasPrefix(lower, "- blocker:") {
			found = append(found, trimmed)
		}
	}
	return found
}
