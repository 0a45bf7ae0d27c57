package strategy

import (
	"fmt"
	"strings"
)

// Selection is the outcome of one selector call. Next is empty when the
// stage is exhausted; Reason is always human-readable and survives into the
// blocked report.
type Selection struct {
	Next   ID     `json:"next"`
	Reason string `json:"reason"`
}

// Exhausted reports whether the selection ended the stage.
func (s Selection) Exhausted() bool { return s.Next == "" }

// SelectNext is the pure decision function at the heart of adaptive
// recovery. Given the attempt history of the current stage run, the strategy
// that just failed, and the classified error kind, it returns the next
// strategy to try or an exhausted selection.
//
// Tie-break order, which callers rely on:
//  1. the single transient-exit retry of the current strategy, if allowed;
//  2. matrix candidates for the error kind, same family first, or other
//     families first once the family has had enough ("enough is enough");
//  3. the fallback order (the escalation variant while switching families);
//  4. exhausted.
//
// A strategy already present in attempts is never selected again.
func SelectNext(attempts []Attempt, current ID, family Family, lastKind ErrorKind, p *Policy) Selection {
	if len(attempts) >= p.MaxAttemptsTotal {
		return Selection{Reason: fmt.Sprintf("exhausted: %d attempts reached the stage cap", len(attempts))}
	}

	sameFamilyAttempts := 0
	perStrategy := make(map[ID]int, len(attempts))
	tried := make(map[ID]bool, len(attempts))
	for _, a := range attempts {
		if a.Family == family {
			sameFamilyAttempts++
		}
		perStrategy[a.StrategyID]++
		tried[a.StrategyID] = true
	}

	// The transient-exit retry is checked before the force-switch
	// computation: only the family-attempt cap gates it. This means a
	// transient exit can be retried even when its kind would otherwise force
	// a family switch, as long as the family still has headroom.
	retry := p.SingleRetryOnTransientExit
	if retry.Enabled && lastKind == retry.ErrorKind &&
		sameFamilyAttempts < p.MaxAttemptsPerFamily &&
		perStrategy[current] < 2 {
		return Selection{Next: current, Reason: "single retry after transient exit"}
	}

	enoughIsEnough := sameFamilyAttempts >= p.MaxAttemptsPerFamily || p.ForcesSwitch(lastKind)

	var sameFam, otherFam []ID
	for _, id := range p.Matrix[lastKind] {
		if s, ok := p.Strategies[id]; ok && s.Family == family {
			sameFam = append(sameFam, id)
		} else {
			otherFam = append(otherFam, id)
		}
	}
	ordered := append(append([]ID{}, sameFam...), otherFam...)
	if enoughIsEnough {
		ordered = append(append([]ID{}, otherFam...), sameFam...)
	}
	for _, id := range ordered {
		if !tried[id] {
			return Selection{Next: id, Reason: fmt.Sprintf("matrix candidate for %s", lastKind)}
		}
	}

	fallback := p.FallbackOrder
	reason := "fallback order"
	if enoughIsEnough && len(p.FallbackOrderOnFamilySwitch) > 0 {
		fallback = p.FallbackOrderOnFamilySwitch
		reason = "fallback order after family switch"
	}
	for _, id := range fallback {
		if !tried[id] {
			return Selection{Next: id, Reason: reason}
		}
	}

	return Selection{Reason: "exhausted: no untried strategy remains"}
}

// FormatAttempts renders the attempt trail for blocked reports and operator
// updates. Every line is explainable without consulting logs.
func FormatAttempts(attempts []Attempt) string {
	if len(attempts) == 0 {
		return "no failed attempts"
	}
	var b strings.Builder
	for i, a := range attempts {
		fmt.Fprintf(&b, "%d. %s (%s via %s): %s", i+1, a.StrategyID, a.Family, a.ToolID, a.ErrorKind)
		if a.ErrorMessage != "" {
			msg := a.ErrorMessage
			if len(msg) > 200 {
				msg = msg[:200] + "..."
			}
			fmt.Fprintf(&b, ": %s", msg)
		}
		if i < len(attempts)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
