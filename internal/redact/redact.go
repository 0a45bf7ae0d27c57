// Package redact strips credentials from text before it leaves the worker.
//
// Tool output is untrusted: a coding agent that cats a .env file or echoes its
// environment would otherwise leak the contents into public issue comments and
// operator events. Every outbound comment and event body passes through
// Redact first.
package redact

import (
	"fmt"
	"regexp"
)

// rule is one secret pattern. Patterns with a capture group redact only the
// captured value; patterns without one redact the whole match.
type rule struct {
	id      string
	pattern *regexp.Regexp
}

var rules = []rule{
	{"github-token", regexp.MustCompile(`(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}`)},
	{"github-fine-grained", regexp.MustCompile(`github_pat_[A-Za-z0-9_]{22,}`)},
	{"aws-access-key-id", regexp.MustCompile(`(?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|ASIA)[A-Z0-9]{16}`)},
	{"private-key", regexp.MustCompile(`-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`)},
	{"slack-token", regexp.MustCompile(`xox[baprs]-[A-Za-z0-9\-]{10,}`)},
	{"stripe-key", regexp.MustCompile(`(?:sk|pk)_(?:live|test)_[A-Za-z0-9]{24,}`)},
	{"anthropic-api-key", regexp.MustCompile(`sk-ant-[A-Za-z0-9_\-]{90,}`)},
	{"openai-api-key", regexp.MustCompile(`sk-[A-Za-z0-9]{48,}`)},
	{"npm-token", regexp.MustCompile(`npm_[A-Za-z0-9]{36}`)},
	{"jwt", regexp.MustCompile(`eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`)},
	{"database-url", regexp.MustCompile(`(?i)(?:postgres|postgresql|mysql|mongodb|redis|amqp)://[^:\s]+:[^@\s]+@[^\s]+`)},
	{"assignment", regexp.MustCompile(`(?i)(?:api[_-]?key|apikey|secret|password|passwd|auth[_-]?token|access[_-]?token)\s*[:=]\s*['"]?([^\s'"]{8,})['"]?`)},
}

// Redact replaces every detected secret in s with a [REDACTED:<rule>] marker
// and reports how many replacements were made. Input with no secrets is
// returned unchanged.
func Redact(s string) (string, int) {
	total := 0
	for _, r := range rules {
		marker := fmt.Sprintf("[REDACTED:%s]", r.id)
		s = r.pattern.ReplaceAllStringFunc(s, func(m string) string {
			total++
			// Keep the key name when the pattern captures just the value.
			idx := r.pattern.FindStringSubmatchIndex(m)
			if len(idx) > 3 && idx[2] >= 0 {
				return m[:idx[2]] + marker + m[idx[3]:]
			}
			return marker
		})
	}
	return s, total
}
