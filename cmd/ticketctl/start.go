package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/fyrsmithlabs/ticketd/internal/ticket"
)

var (
	startEvaluate   bool
	startRepoPath   string
	startBaseBranch string
)

// startCmd starts a run for a ticket
var startCmd = &cobra.Command{
	Use:   "start <owner/repo#number>",
	Short: "Start a run for a ticket",
	Long: `Start a durable run for a ticket. The workflow ID is derived from the
ticket, so starting an already-running ticket fails rather than forking a
second run.

Examples:
  # Start working on an issue
  ticketctl start acme/app#42 --repo-path /srv/checkouts/acme/app

  # Analysis only, no execution
  ticketctl start acme/app#42 --evaluate --repo-path /srv/checkouts/acme/app`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

// statusCmd queries a running ticket
var statusCmd = &cobra.Command{
	Use:   "status <owner/repo#number>",
	Short: "Show the current state of a ticket run",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	startCmd.Flags().BoolVar(&startEvaluate, "evaluate", false, "analysis-only mode, never executes")
	startCmd.Flags().StringVar(&startRepoPath, "repo-path", "", "worker-local repository checkout (required)")
	startCmd.Flags().StringVar(&startBaseBranch, "base-branch", "main", "branch pull requests target")
	_ = startCmd.MarkFlagRequired("repo-path")
}

func runStart(cmd *cobra.Command, args []string) error {
	ref, err := parseTicketRef(args[0])
	if err != nil {
		return err
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	mode := ticket.ModeNormal
	if startEvaluate {
		mode = ticket.ModeEvaluate
	}

	input := ticket.Input{
		TicketID:    ref.ID(),
		Owner:       ref.Owner,
		Repo:        ref.Repo,
		IssueNumber: ref.Number,
		Mode:        mode,
		RepoPath:    startRepoPath,
		BaseBranch:  startBaseBranch,
	}

	options := client.StartWorkflowOptions{
		ID:        ticket.WorkflowIDPrefix + ref.ID(),
		TaskQueue: taskQueue,
	}

	we, err := c.ExecuteWorkflow(cmd.Context(), options, ticket.TicketWorkflow, input)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	fmt.Printf("started %s\n", ref.ID())
	fmt.Printf("workflow: %s (run %s)\n", we.GetID(), we.GetRunID())
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ref, err := parseTicketRef(args[0])
	if err != nil {
		return err
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.QueryWorkflow(cmd.Context(), ticket.WorkflowIDPrefix+ref.ID(), "", ticket.QueryStatus)
	if err != nil {
		return fmt.Errorf("failed to query run: %w", err)
	}

	var status ticket.Status
	if err := resp.Get(&status); err != nil {
		return fmt.Errorf("failed to decode status: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}
