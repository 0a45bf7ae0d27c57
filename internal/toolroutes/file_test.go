package toolroutes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTable(t *testing.T) {
	table, err := parseTable([]byte(`
routes:
  - tool: claude_cli
    command: claude
    base_args: ["-p", "--output-format", "text"]
    model: claude-sonnet-4-5
  - tool: gemini_cli
    command: gemini
    base_args: ["--yolo"]
`))
	require.NoError(t, err)
	require.Len(t, table, 2)
	assert.Equal(t, "claude", table["claude_cli"].Command)
	assert.Equal(t, "claude-sonnet-4-5", table["claude_cli"].Model)
	assert.Equal(t, []string{"--yolo"}, table["gemini_cli"].BaseArgs)
}

func TestParseTableRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", "routes: []"},
		{"missing command", "routes:\n  - tool: claude_cli"},
		{"missing tool", "routes:\n  - command: claude"},
		{"duplicate tool", "routes:\n  - tool: a\n    command: x\n  - tool: a\n    command: y"},
		{"malformed yaml", "routes: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseTable([]byte(tt.content))
			assert.Error(t, err)
		})
	}
}
