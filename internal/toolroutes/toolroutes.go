// Package toolroutes resolves tool ids to concrete invocations.
//
// A route table maps a tool id (claude_cli, gemini_cli, ...) to the
// executable, base arguments and model route used to launch it. The table is
// refreshed from its source on a TTL; a failed refresh serves the previous
// table instead of failing callers, and concurrent refreshes are collapsed
// through a single-flight guard. Serving stale on refresh failure is
// intentional resilience: a route source outage must not stall every stage
// in flight.
package toolroutes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Route describes how to invoke one tool backend.
type Route struct {
	ToolID   string   `koanf:"tool" json:"tool"`
	Command  string   `koanf:"command" json:"command"`
	BaseArgs []string `koanf:"base_args" json:"base_args"`
	Model    string   `koanf:"model" json:"model"`
}

// Table is an immutable snapshot of all routes, keyed by tool id.
type Table map[string]Route

// Source produces a fresh route table.
type Source interface {
	Fetch(ctx context.Context) (Table, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (Table, error)

func (f SourceFunc) Fetch(ctx context.Context) (Table, error) { return f(ctx) }

// Cache is the process-wide route table with TTL refresh.
type Cache struct {
	source Source
	ttl    time.Duration
	group  singleflight.Group

	mu     sync.RWMutex
	table  Table
	expiry time.Time
}

// NewCache creates a cache over source. The initial table is empty and
// expired, so the first lookup triggers a refresh.
func NewCache(source Source, ttl time.Duration) *Cache {
	return &Cache{source: source, ttl: ttl}
}

// Lookup returns the route for a tool id, refreshing the table first when it
// has expired. A refresh failure falls back to the last good table; only a
// failure with no previous table at all surfaces as an error.
func (c *Cache) Lookup(ctx context.Context, toolID string) (Route, error) {
	table, err := c.Snapshot(ctx)
	if err != nil {
		return Route{}, err
	}
	route, ok := table[toolID]
	if !ok {
		return Route{}, fmt.Errorf("no route for tool %q", toolID)
	}
	return route, nil
}

// Snapshot returns the current table, refreshing it when expired.
func (c *Cache) Snapshot(ctx context.Context) (Table, error) {
	c.mu.RLock()
	table, expiry := c.table, c.expiry
	c.mu.RUnlock()

	if table != nil && time.Now().Before(expiry) {
		return table, nil
	}

	// Collapse concurrent refreshes into one fetch.
	fresh, err, _ := c.group.Do("refresh", func() (any, error) {
		t, err := c.source.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.table = t
		c.expiry = time.Now().Add(c.ttl)
		c.mu.Unlock()
		return t, nil
	})
	if err != nil {
		if table != nil {
			// Stale-on-error: keep serving the previous table.
			return table, nil
		}
		return nil, fmt.Errorf("route table refresh failed with no cached table: %w", err)
	}
	return fresh.(Table), nil
}

// DefaultTable is the built-in route table covering the default catalog.
func DefaultTable() Table {
	return Table{
		"claude_cli": {
			ToolID:   "claude_cli",
			Command:  "claude",
			BaseArgs: []string{"-p", "--output-format", "text", "--dangerously-skip-permissions"},
		},
		"gemini_cli": {
			ToolID:   "gemini_cli",
			Command:  "gemini",
			BaseArgs: []string{"--yolo", "-p"},
		},
		"codex_cli": {
			ToolID:   "codex_cli",
			Command:  "codex",
			BaseArgs: []string{"exec", "--full-auto"},
		},
	}
}

// Static returns a Source that always serves the given table. Used when no
// external route service is configured.
func Static(table Table) Source {
	return SourceFunc(func(context.Context) (Table, error) { return table, nil })
}
