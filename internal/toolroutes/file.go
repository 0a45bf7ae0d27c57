package toolroutes

import (
	"context"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// FileSource reads the route table from a YAML file on every refresh, so
// route edits take effect within one TTL without a restart. The file format:
//
//	routes:
//	  - tool: claude_cli
//	    command: claude
//	    base_args: ["-p"]
//	    model: claude-sonnet-4-5
func FileSource(path string) Source {
	return SourceFunc(func(ctx context.Context) (Table, error) {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read route file: %w", err)
		}
		return parseTable(content)
	})
}

func parseTable(content []byte) (Table, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse route file: %w", err)
	}
	var routes []Route
	if err := k.Unmarshal("routes", &routes); err != nil {
		return nil, fmt.Errorf("failed to decode routes: %w", err)
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("route file declares no routes")
	}

	table := make(Table, len(routes))
	for _, r := range routes {
		if r.ToolID == "" || r.Command == "" {
			return nil, fmt.Errorf("route %+v is missing tool or command", r)
		}
		if _, dup := table[r.ToolID]; dup {
			return nil, fmt.Errorf("duplicate route for tool %q", r.ToolID)
		}
		table[r.ToolID] = r
	}
	return table, nil
}
