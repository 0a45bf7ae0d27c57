package ticket

import (
	"fmt"
	"sort"
	"strings"
)

// botName is the handle operators address commands to, as "/ticketd ..." or
// "@ticketd ...".
const botName = "ticketd"

// command is one parsed operator instruction. Explicit marks the prefixed
// form; an unrecognized verb under an explicit prefix earns a "didn't
// understand" reply, while an unrecognized implicit one is ordinary text.
type command struct {
	Verb     string
	Args     []string
	Explicit bool
}

var knownVerbs = map[string]bool{
	"help":     true,
	"status":   true,
	"stop":     true,
	"continue": true,
	"restart":  true,
	"evaluate": true,
	"sandbox":  true,
	"smoke":    true,
	"prefs":    true,
}

// executionVerbs are rejected while the run is in analysis-only mode.
var executionVerbs = map[string]bool{
	"stop":     true,
	"continue": true,
	"restart":  true,
	"sandbox":  true,
	"smoke":    true,
}

// parseCommand extracts a command from comment text. It recognizes the
// explicit prefixes "/ticketd" and "@ticketd", and a bare leading keyword for
// the implicit form. Returns false when the text is not a command at all.
func parseCommand(body string) (command, bool) {
	text := strings.TrimSpace(body)
	if text == "" {
		return command{}, false
	}

	for _, prefix := range []string{"/" + botName, "@" + botName} {
		if len(text) >= len(prefix) && strings.EqualFold(text[:len(prefix)], prefix) {
			rest := text[len(prefix):]
			if rest != "" && !strings.HasPrefix(rest, " ") && !strings.HasPrefix(rest, "\t") {
				continue // "@ticketdude" is not addressed to us
			}
			fields := strings.Fields(rest)
			if len(fields) == 0 {
				return command{Verb: "help", Explicit: true}, true
			}
			return command{Verb: strings.ToLower(fields[0]), Args: fields[1:], Explicit: true}, true
		}
	}

	fields := strings.Fields(text)
	if len(fields) > 0 && knownVerbs[strings.ToLower(fields[0])] {
		return command{Verb: strings.ToLower(fields[0]), Args: fields[1:]}, true
	}
	return command{}, false
}

func renderHelp() string {
	return strings.Join([]string{
		"I understand these commands (prefix with `/" + botName + "` or `@" + botName + "`):",
		"",
		"- `help`: this message",
		"- `status`: current stage, counters and references",
		"- `stop`: suspend the run, keeping its resume point",
		"- `continue`: resume a blocked or stopped run",
		"- `restart`: start the pipeline over from scratch",
		"- `evaluate`: switch to analysis-only mode (one-way)",
		"- `sandbox <url>`: provide a preview environment by hand",
		"- `smoke pass|fail`: report the smoke verdict",
		"- `prefs show|reset|set k=v ...`: manage run preferences",
	}, "\n")
}

func (r *run) renderStatus() string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** is `%s`", r.in.TicketID, r.stage)
	if r.mode == ModeEvaluate {
		b.WriteString(" (analysis-only)")
	}
	b.WriteString("\n\n")
	if r.resumeStage != "" {
		fmt.Fprintf(&b, "- resume stage: `%s`\n", r.resumeStage)
	}
	if r.blockedReason != "" {
		fmt.Fprintf(&b, "- blocked: %s\n", r.blockedReason)
	}
	fmt.Fprintf(&b, "- review attempts: %d, smoke attempts: %d\n", r.reviewAttempts, r.smokeAttempts)
	if r.prURL != "" {
		fmt.Fprintf(&b, "- pull request: %s\n", r.prURL)
	}
	if r.sandboxURL != "" {
		fmt.Fprintf(&b, "- sandbox: %s\n", r.sandboxURL)
	}
	if r.lastError != "" {
		fmt.Fprintf(&b, "- last error: %s\n", r.lastError)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *run) renderPrefs() string {
	if len(r.prefs) == 0 {
		return "No preferences set."
	}
	keys := make([]string, 0, len(r.prefs))
	for k := range r.prefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("Preferences:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- `%s` = `%s`\n", k, r.prefs[k])
	}
	return strings.TrimRight(b.String(), "\n")
}
