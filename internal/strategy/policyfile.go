package strategy

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Policy file schema:
//
//	stages:
//	  code:
//	    strategies:
//	      - id: claude-default
//	        family: claude
//	        tool: claude_cli
//	    matrix:
//	      timeout: [claude-compact, gemini-default]
//	    max_attempts_total: 6
//	    max_attempts_per_family: 2
//	    force_family_switch: [auth_error, cli_not_found]
//	    fallback_order: [claude-default, gemini-default]
//	    fallback_order_on_family_switch: [gemini-default, claude-default]
//	    single_retry_on_transient_exit:
//	      enabled: true
//	      error_kind: nonzero_exit
//	    max_revisions_per_strategy: 2
//
// Stages absent from the file keep the built-in defaults. A stage present in
// the file replaces its default wholesale; there is no per-field merging,
// which keeps the loaded policy auditable against the file.

type policyFileStage struct {
	Strategies                  []Strategy          `koanf:"strategies"`
	Matrix                      map[string][]string `koanf:"matrix"`
	MaxAttemptsTotal            int                 `koanf:"max_attempts_total"`
	MaxAttemptsPerFamily        int                 `koanf:"max_attempts_per_family"`
	ForceFamilySwitch           []string            `koanf:"force_family_switch"`
	FallbackOrder               []string            `koanf:"fallback_order"`
	FallbackOrderOnFamilySwitch []string            `koanf:"fallback_order_on_family_switch"`
	SingleRetryOnTransientExit  RetryException      `koanf:"single_retry_on_transient_exit"`
	MaxRevisionsPerStrategy     int                 `koanf:"max_revisions_per_strategy"`
}

type policyFile struct {
	Stages map[string]policyFileStage `koanf:"stages"`
}

// ParsePolicySet parses a YAML policy document and overlays it on the
// built-in defaults, then validates the result.
func ParsePolicySet(content []byte) (PolicySet, error) {
	ps := DefaultPolicySet()
	if len(content) == 0 {
		return ps, nil
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	var pf policyFile
	if err := k.Unmarshal("", &pf); err != nil {
		return nil, fmt.Errorf("failed to decode policy file: %w", err)
	}

	for name, fs := range pf.Stages {
		kind := Kind(name)
		if !validKind(kind) {
			return nil, fmt.Errorf("policy file declares unknown stage %q", name)
		}
		p, err := buildPolicy(kind, fs)
		if err != nil {
			return nil, err
		}
		ps[kind] = p
	}

	if err := ps.Validate(); err != nil {
		return nil, err
	}
	return ps, nil
}

func validKind(kind Kind) bool {
	for _, k := range Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

func buildPolicy(kind Kind, fs policyFileStage) (*Policy, error) {
	p := &Policy{
		Stage:                      kind,
		Strategies:                 make(map[ID]Strategy, len(fs.Strategies)),
		Matrix:                     make(map[ErrorKind][]ID, len(fs.Matrix)),
		MaxAttemptsTotal:           fs.MaxAttemptsTotal,
		MaxAttemptsPerFamily:       fs.MaxAttemptsPerFamily,
		SingleRetryOnTransientExit: fs.SingleRetryOnTransientExit,
		MaxRevisionsPerStrategy:    fs.MaxRevisionsPerStrategy,
	}
	for _, s := range fs.Strategies {
		if s.ID == "" {
			return nil, fmt.Errorf("%s: strategy with empty id", kind)
		}
		if _, dup := p.Strategies[s.ID]; dup {
			return nil, fmt.Errorf("%s: duplicate strategy id %q", kind, s.ID)
		}
		p.Strategies[s.ID] = s
	}
	for kindName, ids := range fs.Matrix {
		p.Matrix[ErrorKind(kindName)] = toIDs(ids)
	}
	for _, k := range fs.ForceFamilySwitch {
		p.ForceFamilySwitch = append(p.ForceFamilySwitch, ErrorKind(k))
	}
	p.FallbackOrder = toIDs(fs.FallbackOrder)
	p.FallbackOrderOnFamilySwitch = toIDs(fs.FallbackOrderOnFamilySwitch)
	return p, nil
}

func toIDs(in []string) []ID {
	if len(in) == 0 {
		return nil
	}
	out := make([]ID, len(in))
	for i, s := range in {
		out[i] = ID(s)
	}
	return out
}
