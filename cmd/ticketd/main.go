// Package main runs the ticketd worker daemon.
//
// The daemon hosts the ticket workflows and every activity they call: tool
// subprocess execution, GitHub operations, sandbox provisioning, learning
// persistence and event publishing. One worker process serves many concurrent
// ticket runs.
//
// Usage:
//
//	TICKETD_GITHUB_TOKEN=ghp_xxx \
//	TICKETD_TEMPORAL_HOST_PORT=localhost:7233 \
//	./ticketd -config /etc/ticketd/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ticketd/internal/config"
	"github.com/fyrsmithlabs/ticketd/internal/ghops"
	"github.com/fyrsmithlabs/ticketd/internal/learning"
	"github.com/fyrsmithlabs/ticketd/internal/logging"
	"github.com/fyrsmithlabs/ticketd/internal/notify"
	"github.com/fyrsmithlabs/ticketd/internal/sandbox"
	"github.com/fyrsmithlabs/ticketd/internal/stage"
	"github.com/fyrsmithlabs/ticketd/internal/strategy"
	"github.com/fyrsmithlabs/ticketd/internal/ticket"
	"github.com/fyrsmithlabs/ticketd/internal/toolroutes"
	"github.com/fyrsmithlabs/ticketd/internal/tools"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "ticketd worker starting",
		zap.String("temporal_host", cfg.Temporal.HostPort),
		zap.String("task_queue", cfg.Temporal.TaskQueue),
	)

	if !cfg.GitHub.Token.IsSet() {
		return fmt.Errorf("github token not set")
	}

	ps, err := loadPolicies(cfg.Policy.Path)
	if err != nil {
		return fmt.Errorf("loading strategy policies: %w", err)
	}
	ticket.SetPolicies(ps)

	source := toolroutes.Static(toolroutes.DefaultTable())
	if cfg.Routes.Path != "" {
		source = toolroutes.FileSource(cfg.Routes.Path)
	}
	routes := toolroutes.NewCache(source, cfg.Routes.TTL.Duration())

	registry, err := learning.NewRegistry("")
	if err != nil {
		return fmt.Errorf("opening learning registry: %w", err)
	}

	publisher, err := notify.NewPublisher(cfg.Events.URL, cfg.Events.SubjectPrefix, logger)
	if err != nil {
		return fmt.Errorf("connecting event bus: %w", err)
	}
	defer publisher.Close()

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("unable to create Temporal client: %w", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(ticket.TicketWorkflow)

	runner := tools.NewRunner(routes)
	w.RegisterActivity(runner)
	w.RegisterActivity(ghops.NewActivities(cfg.GitHub.Token))
	w.RegisterActivity(sandbox.NewActivities(cfg.Sandbox))
	w.RegisterActivityWithOptions(registry.RecordLearning,
		activity.RegisterOptions{Name: stage.ActivityRecordLearning})
	w.RegisterActivityWithOptions(publisher.PublishEvent,
		activity.RegisterOptions{Name: stage.ActivityPublishEvent})

	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- w.Run(worker.InterruptCh())
	}()

	select {
	case err := <-workerErrors:
		if err != nil {
			return fmt.Errorf("worker error: %w", err)
		}
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
		w.Stop()
	}

	logger.Info(ctx, "worker stopped gracefully")
	return nil
}

// loadPolicies reads the strategy policy file, falling back to the built-in
// defaults when no path is configured.
func loadPolicies(path string) (strategy.PolicySet, error) {
	if path == "" {
		return strategy.DefaultPolicySet(), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return strategy.ParsePolicySet(content)
}
