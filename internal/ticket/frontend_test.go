package ticket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFrontendTask(t *testing.T) {
	tests := []struct {
		name   string
		files  []string
		labels []string
		title  string
		want   bool
	}{
		{"backend only", []string{"internal/auth/service.go"}, nil, "Fix token refresh", false},
		{"tsx file", []string{"web/src/Login.tsx"}, nil, "Fix login", true},
		{"css file", []string{"styles/main.css"}, nil, "Adjust spacing", true},
		{"frontend dir", []string{"frontend/api.go"}, nil, "Wire endpoint", true},
		{"nested ui dir", []string{"services/admin/ui/table.go"}, nil, "Sort rows", true},
		{"frontend label", []string{"internal/api.go"}, []string{"frontend"}, "Fix API", true},
		{"ui label case", []string{"internal/api.go"}, []string{"UI"}, "Fix API", true},
		{"title keyword", []string{"internal/api.go"}, nil, "Polish the UI for settings", true},
		{"title keyword punctuation", nil, nil, "Broken CSS!", true},
		{"substring is not a word match", nil, nil, "Build the guidance module", false},
		{"empty everything", nil, nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isFrontendTask(tt.files, tt.labels, tt.title))
		})
	}
}
