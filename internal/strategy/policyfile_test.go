package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const policyYAML = `
stages:
  code:
    strategies:
      - id: claude-default
        family: claude
        tool: claude_cli
      - id: gemini-default
        family: gemini
        tool: gemini_cli
    matrix:
      timeout: [gemini-default]
      auth_error: [gemini-default]
    max_attempts_total: 4
    max_attempts_per_family: 1
    force_family_switch: [auth_error, cli_not_found]
    fallback_order: [claude-default, gemini-default]
    fallback_order_on_family_switch: [gemini-default, claude-default]
    single_retry_on_transient_exit:
      enabled: true
      error_kind: nonzero_exit
`

func TestParsePolicySet(t *testing.T) {
	t.Run("empty content returns defaults", func(t *testing.T) {
		ps, err := ParsePolicySet(nil)
		require.NoError(t, err)
		require.NoError(t, ps.Validate())
		assert.Equal(t, 6, ps[KindDiscover].MaxAttemptsTotal)
	})

	t.Run("file stage replaces default wholesale", func(t *testing.T) {
		ps, err := ParsePolicySet([]byte(policyYAML))
		require.NoError(t, err)

		code := ps[KindCode]
		assert.Equal(t, 4, code.MaxAttemptsTotal)
		assert.Equal(t, 1, code.MaxAttemptsPerFamily)
		assert.Len(t, code.Strategies, 2)
		assert.Equal(t, []ID{"gemini-default"}, code.Matrix[ErrKindTimeout])
		assert.True(t, code.ForcesSwitch(ErrKindAuth))
		assert.True(t, code.SingleRetryOnTransientExit.Enabled)
		assert.Equal(t, ErrKindNonzeroExit, code.SingleRetryOnTransientExit.ErrorKind)

		// Untouched stages keep their defaults.
		assert.Equal(t, 6, ps[KindReview].MaxAttemptsTotal)
	})

	t.Run("unknown stage rejected", func(t *testing.T) {
		_, err := ParsePolicySet([]byte("stages:\n  deploy:\n    strategies: []\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown stage "deploy"`)
	})

	t.Run("matrix referencing unknown strategy rejected", func(t *testing.T) {
		bad := `
stages:
  plan:
    strategies:
      - id: only
        family: f1
        tool: t1
    matrix:
      timeout: [ghost]
    max_attempts_total: 2
    max_attempts_per_family: 1
    fallback_order: [only]
`
		_, err := ParsePolicySet([]byte(bad))
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown strategy "ghost"`)
	})

	t.Run("duplicate strategy id rejected", func(t *testing.T) {
		bad := `
stages:
  plan:
    strategies:
      - id: dup
        family: f1
        tool: t1
      - id: dup
        family: f2
        tool: t2
    max_attempts_total: 2
    max_attempts_per_family: 1
    fallback_order: [dup]
`
		_, err := ParsePolicySet([]byte(bad))
		require.Error(t, err)
		assert.Contains(t, err.Error(), `duplicate strategy id "dup"`)
	})

	t.Run("malformed yaml rejected", func(t *testing.T) {
		_, err := ParsePolicySet([]byte("stages: ["))
		require.Error(t, err)
	})
}
