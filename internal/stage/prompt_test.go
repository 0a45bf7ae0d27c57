package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/ticketd/internal/strategy"
)

func TestBuildPrompt(t *testing.T) {
	base := "Fix the login redirect loop described in acme/app#7."

	clean := buildPrompt(strategy.KindCode, base, nil)
	assert.Contains(t, clean, "Implement the plan")
	assert.Contains(t, clean, base)
	assert.NotContains(t, clean, "Earlier attempts")

	attempts := []strategy.Attempt{{
		StrategyID:   "claude-default",
		Family:       "claude",
		ToolID:       "claude_cli",
		ErrorKind:    strategy.ErrKindTimeout,
		ErrorMessage: "claude_cli failed after 30m: timed out",
	}}
	folded := buildPrompt(strategy.KindCode, base, attempts)
	assert.Contains(t, folded, "Earlier attempts")
	assert.Contains(t, folded, "claude-default")
	assert.Contains(t, folded, "timeout")
}

func TestBuildRevisionPrompt(t *testing.T) {
	p := buildRevisionPrompt("fix the bug", "blocker: handler leaks goroutine")
	assert.Contains(t, p, "blocker: handler leaks goroutine")
	assert.Contains(t, p, "Original task")
	assert.Contains(t, p, "fix the bug")
}

func TestBlockingFindings(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   int
	}{
		{"clean", "no findings", 0},
		{"nits only", "nit: rename x\nwarning: long function", 0},
		{"one blocker", "blocker: nil deref on empty body\nnit: typo", 1},
		{"bulleted", "- blocker: missing auth check", 1},
		{"case insensitive", "BLOCKER: race condition", 1},
		{"multiple", "blocker: a\nblocker: b\nwarning: c", 2},
		{"mid-line mention is not a finding", "the word blocker appears here", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, blockingFindings(tt.output), tt.want)
		})
	}
}
