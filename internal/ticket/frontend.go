package ticket

import (
	"path"
	"strings"
)

var frontendPathMarkers = []string{
	"frontend/", "ui/", "web/", "www/", "client/", "components/", "pages/", "static/", "assets/",
}

var frontendExtensions = map[string]bool{
	".tsx": true, ".jsx": true, ".vue": true, ".svelte": true,
	".css": true, ".scss": true, ".less": true, ".html": true,
}

var frontendWords = []string{"frontend", "front-end", "ui", "ux", "design", "css", "styling"}

// isFrontendTask decides whether a change needs a visual preview before
// smoke. Heuristic over changed paths, issue labels and the title; it errs
// toward false so backend-only work skips sandbox provisioning.
func isFrontendTask(changedFiles, labels []string, title string) bool {
	for _, f := range changedFiles {
		lower := strings.ToLower(f)
		if frontendExtensions[path.Ext(lower)] {
			return true
		}
		for _, marker := range frontendPathMarkers {
			if strings.HasPrefix(lower, marker) || strings.Contains(lower, "/"+marker) {
				return true
			}
		}
	}
	for _, l := range labels {
		for _, w := range frontendWords {
			if strings.EqualFold(l, w) {
				return true
			}
		}
	}
	for _, w := range frontendWords {
		for _, t := range strings.Fields(strings.ToLower(title)) {
			if strings.Trim(t, ".,:;!?") == w {
				return true
			}
		}
	}
	return false
}
