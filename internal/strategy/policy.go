package strategy

import (
	"fmt"
	"sort"
)

// RetryException is the narrow allowance for retrying the same strategy once
// after a transient nonzero-exit, before any family-switch logic applies.
type RetryException struct {
	Enabled   bool      `koanf:"enabled" json:"enabled"`
	ErrorKind ErrorKind `koanf:"error_kind" json:"error_kind"`
}

// Policy holds the full strategy table and escalation knobs for one stage.
// A Policy is loaded once at startup and is immutable for the process
// lifetime; the selector only ever reads it.
type Policy struct {
	Stage Kind `koanf:"stage" json:"stage"`

	// Strategies is the catalog: every strategy the stage may run.
	Strategies map[ID]Strategy `koanf:"-" json:"strategies"`

	// Matrix maps an error kind to the ordered list of candidate strategies
	// to try next when that kind was the last failure.
	Matrix map[ErrorKind][]ID `koanf:"matrix" json:"matrix"`

	MaxAttemptsTotal     int `koanf:"max_attempts_total" json:"max_attempts_total"`
	MaxAttemptsPerFamily int `koanf:"max_attempts_per_family" json:"max_attempts_per_family"`

	// ForceFamilySwitch lists error kinds that escalate immediately,
	// regardless of how many attempts the current family has had.
	ForceFamilySwitch []ErrorKind `koanf:"force_family_switch" json:"force_family_switch"`

	// FallbackOrder is consulted when the matrix has no untried candidate.
	// FallbackOrderOnFamilySwitch replaces it while escalating.
	FallbackOrder               []ID `koanf:"fallback_order" json:"fallback_order"`
	FallbackOrderOnFamilySwitch []ID `koanf:"fallback_order_on_family_switch" json:"fallback_order_on_family_switch"`

	SingleRetryOnTransientExit RetryException `koanf:"single_retry_on_transient_exit" json:"single_retry_on_transient_exit"`

	// MaxRevisionsPerStrategy bounds the review stage's revision sub-loop.
	// Ignored by other stages.
	MaxRevisionsPerStrategy int `koanf:"max_revisions_per_strategy" json:"max_revisions_per_strategy"`
}

// Strategy returns the catalog entry for id.
func (p *Policy) Strategy(id ID) (Strategy, bool) {
	s, ok := p.Strategies[id]
	return s, ok
}

// First returns the stage's starting strategy: the head of the fallback
// order.
func (p *Policy) First() Strategy {
	return p.Strategies[p.FallbackOrder[0]]
}

// ForcesSwitch reports whether kind escalates immediately.
func (p *Policy) ForcesSwitch(kind ErrorKind) bool {
	for _, k := range p.ForceFamilySwitch {
		if k == kind {
			return true
		}
	}
	return false
}

// Validate checks the structural invariants of a policy: every id referenced
// by the matrix and fallback orders must exist in the catalog, every strategy
// must declare a family, and the knobs must be positive.
func (p *Policy) Validate() error {
	if p.Stage == "" {
		return fmt.Errorf("policy has no stage")
	}
	if len(p.Strategies) == 0 {
		return fmt.Errorf("%s: policy declares no strategies", p.Stage)
	}
	if p.MaxAttemptsTotal <= 0 {
		return fmt.Errorf("%s: max_attempts_total must be positive", p.Stage)
	}
	if p.MaxAttemptsPerFamily <= 0 {
		return fmt.Errorf("%s: max_attempts_per_family must be positive", p.Stage)
	}
	if len(p.FallbackOrder) == 0 {
		return fmt.Errorf("%s: fallback_order is empty", p.Stage)
	}
	for id, s := range p.Strategies {
		if s.Family == "" {
			return fmt.Errorf("%s: strategy %q has no family", p.Stage, id)
		}
		if s.ToolID == "" {
			return fmt.Errorf("%s: strategy %q has no tool", p.Stage, id)
		}
	}
	check := func(where string, ids []ID) error {
		for _, id := range ids {
			if _, ok := p.Strategies[id]; !ok {
				return fmt.Errorf("%s: %s references unknown strategy %q", p.Stage, where, id)
			}
		}
		return nil
	}
	// Deterministic iteration for stable error messages.
	kinds := make([]string, 0, len(p.Matrix))
	for kind := range p.Matrix {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		if err := check(fmt.Sprintf("matrix[%s]", kind), p.Matrix[ErrorKind(kind)]); err != nil {
			return err
		}
	}
	if err := check("fallback_order", p.FallbackOrder); err != nil {
		return err
	}
	if err := check("fallback_order_on_family_switch", p.FallbackOrderOnFamilySwitch); err != nil {
		return err
	}
	return nil
}

// PolicySet holds one immutable policy per stage.
type PolicySet map[Kind]*Policy

// ForStage returns the policy for a stage kind.
func (ps PolicySet) ForStage(kind Kind) (*Policy, bool) {
	p, ok := ps[kind]
	return p, ok
}

// Validate validates every policy and checks that all stages are covered.
func (ps PolicySet) Validate() error {
	for _, kind := range Kinds() {
		p, ok := ps[kind]
		if !ok {
			return fmt.Errorf("no policy for stage %s", kind)
		}
		if p.Stage != kind {
			return fmt.Errorf("policy keyed %s declares stage %s", kind, p.Stage)
		}
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}
