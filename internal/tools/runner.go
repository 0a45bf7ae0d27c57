// Package tools runs the CLI agent backends as Temporal activities.
//
// A tool invocation is a subprocess that may legitimately run for a long
// time, so the activity emits heartbeats while the process is alive; the
// host uses the heartbeat timeout to tell a hung agent from a slow one.
// Failures are returned as plain error messages so the strategy engine can
// classify them by signature.
package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/fyrsmithlabs/ticketd/internal/strategy"
	"github.com/fyrsmithlabs/ticketd/internal/toolroutes"
)

// outputTailLimit bounds how much process output is carried into error
// messages and results. Agent transcripts can run to megabytes.
const outputTailLimit = 16 * 1024

// heartbeatInterval is how often a running invocation reports liveness.
const heartbeatInterval = 30 * time.Second

// Invocation asks for one tool run on behalf of a stage strategy.
type Invocation struct {
	Stage      strategy.Kind `json:"stage"`
	StrategyID strategy.ID   `json:"strategy_id"`
	ToolID     string        `json:"tool_id"`
	Prompt     string        `json:"prompt"`
	RepoPath   string        `json:"repo_path"`
	Model      string        `json:"model"`
}

// Result is a successful tool run.
type Result struct {
	Output     string `json:"output"`
	DurationMS int64  `json:"duration_ms"`
}

// Runner hosts the tool activities. Routes are resolved through the
// process-wide route cache at invocation time.
type Runner struct {
	routes *toolroutes.Cache
}

// NewRunner creates a Runner over the given route cache.
func NewRunner(routes *toolroutes.Cache) *Runner {
	return &Runner{routes: routes}
}

// RunTool executes one agent invocation. It is registered as a Temporal
// activity; the prompt travels on stdin so arbitrary ticket text never hits
// the argument vector.
func (r *Runner) RunTool(ctx context.Context, in Invocation) (*Result, error) {
	logger := activity.GetLogger(ctx)

	route, err := r.routes.Lookup(ctx, in.ToolID)
	if err != nil {
		return nil, fmt.Errorf("resolving tool route: %w", err)
	}

	args := append([]string{}, route.BaseArgs...)
	model := in.Model
	if model == "" {
		model = route.Model
	}
	if model != "" {
		args = append(args, "--model", model)
	}

	cmd := exec.CommandContext(ctx, route.Command, args...)
	cmd.Dir = in.RepoPath
	cmd.Stdin = strings.NewReader(in.Prompt)
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Info("starting tool invocation",
		"stage", in.Stage,
		"strategy", in.StrategyID,
		"tool", in.ToolID,
		"command", route.Command,
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", route.Command, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			activity.RecordHeartbeat(ctx, fmt.Sprintf("%s running %s", in.ToolID, time.Since(start).Round(time.Second)))
		case err := <-done:
			elapsed := time.Since(start)
			if err != nil {
				return nil, fmt.Errorf("%s failed after %s: %v: %s",
					route.Command, elapsed.Round(time.Second), err, tail(stderr.String()))
			}
			out := stdout.String()
			if strings.TrimSpace(out) == "" {
				return nil, fmt.Errorf("%s produced empty output", route.Command)
			}
			logger.Info("tool invocation complete",
				"tool", in.ToolID,
				"duration", elapsed,
				"output_bytes", len(out),
			)
			return &Result{
				Output:     tail(out),
				DurationMS: elapsed.Milliseconds(),
			}, nil
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			<-done
			return nil, fmt.Errorf("tool invocation canceled after %s: %w", time.Since(start).Round(time.Second), ctx.Err())
		}
	}
}

// tail keeps the last outputTailLimit bytes of s.
func tail(s string) string {
	if len(s) <= outputTailLimit {
		return s
	}
	return "..." + s[len(s)-outputTailLimit:]
}
