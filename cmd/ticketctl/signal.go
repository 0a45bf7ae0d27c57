package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ticketd/internal/ticket"
)

// commentCmd sends a free-form comment to a running ticket
var commentCmd = &cobra.Command{
	Use:   "comment <owner/repo#number> <body...>",
	Short: "Send a comment to a ticket run",
	Long: `Send a comment to a running ticket exactly as if it were posted on the
issue. Bodies starting with a known verb are interpreted as commands.

Examples:
  ticketctl comment acme/app#42 status
  ticketctl comment acme/app#42 "/ticketd prefs set reviewer.strictness high"`,
	Args: cobra.MinimumNArgs(2),
	RunE: runComment,
}

// wakeCmd forces a blocked or waiting run to re-evaluate
var wakeCmd = &cobra.Command{
	Use:   "wake <owner/repo#number>",
	Short: "Force a run to re-evaluate its state",
	Args:  cobra.ExactArgs(1),
	RunE:  runWake,
}

func runComment(cmd *cobra.Command, args []string) error {
	return sendComment(cmd.Context(), args[0], strings.Join(args[1:], " "))
}

func runWake(cmd *cobra.Command, args []string) error {
	ref, err := parseTicketRef(args[0])
	if err != nil {
		return err
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	event := ticket.WakeEvent{
		DeliveryID: uuid.NewString(),
		IssueID:    ref.ID(),
	}
	if err := c.SignalWorkflow(cmd.Context(), ticket.WorkflowIDPrefix+ref.ID(), "", ticket.SignalWake, event); err != nil {
		return fmt.Errorf("failed to signal run: %w", err)
	}

	fmt.Printf("woke %s\n", ref.ID())
	return nil
}

// sendComment delivers body to the ticket's workflow as an operator comment.
func sendComment(ctx context.Context, ticketArg, body string) error {
	ref, err := parseTicketRef(ticketArg)
	if err != nil {
		return err
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	event := ticket.CommentEvent{
		DeliveryID: uuid.NewString(),
		IssueID:    ref.ID(),
		Body:       body,
		AuthorID:   "ticketctl",
		CreatedAt:  time.Now(),
	}
	if err := c.SignalWorkflow(ctx, ticket.WorkflowIDPrefix+ref.ID(), "", ticket.SignalComment, event); err != nil {
		return fmt.Errorf("failed to signal run: %w", err)
	}

	fmt.Printf("sent to %s: %s\n", ref.ID(), body)
	return nil
}

// verbCommands builds one subcommand per operator verb. Each is sugar for
// sending the explicit command as a comment.
func verbCommands() []*cobra.Command {
	type verb struct {
		use   string
		short string
		// extraArgs is how many arguments follow the ticket reference.
		extraArgs int
	}
	verbs := []verb{
		{use: "stop", short: "Pause a run where it stands"},
		{use: "continue", short: "Resume a stopped or blocked run"},
		{use: "restart", short: "Restart a run from the beginning"},
		{use: "evaluate", short: "Switch a run to analysis-only mode"},
		{use: "sandbox", short: "Hand a run an externally provisioned sandbox URL", extraArgs: 1},
		{use: "smoke", short: "Record a smoke verdict (pass or fail)", extraArgs: 1},
	}

	cmds := make([]*cobra.Command, 0, len(verbs))
	for _, v := range verbs {
		v := v
		use := fmt.Sprintf("%s <owner/repo#number>", v.use)
		if v.extraArgs > 0 {
			use += " <arg>"
		}
		cmds = append(cmds, &cobra.Command{
			Use:   use,
			Short: v.short,
			Args:  cobra.ExactArgs(1 + v.extraArgs),
			RunE: func(cmd *cobra.Command, args []string) error {
				body := "/ticketd " + v.use
				if len(args) > 1 {
					body += " " + strings.Join(args[1:], " ")
				}
				return sendComment(cmd.Context(), args[0], body)
			},
		})
	}
	return cmds
}
