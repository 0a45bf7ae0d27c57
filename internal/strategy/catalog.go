package strategy

// Built-in strategy catalog. Two families: the claude CLI agent and the
// gemini CLI agent, each with a default and a fallback configuration. The
// code stage adds a codex backend as a third family. Deployments override
// all of this through the policy file; these defaults keep a bare install
// functional.

const (
	ToolClaudeCLI = "claude_cli"
	ToolGeminiCLI = "gemini_cli"
	ToolCodexCLI  = "codex_cli"
)

const (
	FamilyClaude Family = "claude"
	FamilyGemini Family = "gemini"
	FamilyCodex  Family = "codex"
)

func defaultStrategies(extra ...Strategy) map[ID]Strategy {
	out := map[ID]Strategy{
		"claude-default": {ID: "claude-default", Family: FamilyClaude, ToolID: ToolClaudeCLI},
		"claude-compact": {ID: "claude-compact", Family: FamilyClaude, ToolID: ToolClaudeCLI},
		"gemini-default": {ID: "gemini-default", Family: FamilyGemini, ToolID: ToolGeminiCLI},
		"gemini-flash":   {ID: "gemini-flash", Family: FamilyGemini, ToolID: ToolGeminiCLI},
	}
	for _, s := range extra {
		out[s.ID] = s
	}
	return out
}

func defaultMatrix() map[ErrorKind][]ID {
	return map[ErrorKind][]ID{
		ErrKindRateLimited:      {"claude-compact", "gemini-default"},
		ErrKindTimeout:          {"claude-compact", "gemini-flash"},
		ErrKindTokenLimit:       {"claude-compact", "gemini-flash"},
		ErrKindModelUnavailable: {"gemini-default", "claude-compact"},
		ErrKindAuth:             {"gemini-default"},
		ErrKindCLINotFound:      {"gemini-default"},
		ErrKindBadRequest:       {"gemini-default", "claude-compact"},
		ErrKindInvalidOutput:    {"gemini-default", "claude-compact"},
		ErrKindUnknown:          {"gemini-default"},
	}
}

func defaultPolicy(stage Kind) *Policy {
	p := &Policy{
		Stage:                stage,
		Strategies:           defaultStrategies(),
		Matrix:               defaultMatrix(),
		MaxAttemptsTotal:     6,
		MaxAttemptsPerFamily: 2,
		ForceFamilySwitch: []ErrorKind{
			ErrKindAuth,
			ErrKindCLINotFound,
			ErrKindModelUnavailable,
			ErrKindTokenLimit,
			ErrKindBadRequest,
		},
		FallbackOrder:               []ID{"claude-default", "claude-compact", "gemini-default", "gemini-flash"},
		FallbackOrderOnFamilySwitch: []ID{"gemini-default", "gemini-flash", "claude-default", "claude-compact"},
		SingleRetryOnTransientExit: RetryException{
			Enabled:   true,
			ErrorKind: ErrKindNonzeroExit,
		},
	}
	return p
}

// DefaultPolicySet returns the built-in policy for every stage.
func DefaultPolicySet() PolicySet {
	ps := PolicySet{}
	for _, kind := range Kinds() {
		ps[kind] = defaultPolicy(kind)
	}

	code := ps[KindCode]
	code.Strategies = defaultStrategies(
		Strategy{ID: "codex-default", Family: FamilyCodex, ToolID: ToolCodexCLI},
	)
	code.Matrix[ErrKindNoChanges] = []ID{"gemini-default", "codex-default"}
	code.Matrix[ErrKindModelUnavailable] = []ID{"gemini-default", "codex-default"}
	code.FallbackOrder = append(code.FallbackOrder, "codex-default")
	code.FallbackOrderOnFamilySwitch = append(code.FallbackOrderOnFamilySwitch, "codex-default")

	review := ps[KindReview]
	review.Matrix[ErrKindBlockingFindings] = []ID{"gemini-default", "claude-compact"}
	review.MaxRevisionsPerStrategy = 2

	return ps
}
