// Package main implements the ticketctl CLI for manual operations against
// running ticket workflows.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
)

var (
	// temporalHost is the Temporal frontend address
	temporalHost string
	// temporalNamespace is the Temporal namespace ticket runs live in
	temporalNamespace string
	// taskQueue is the worker task queue used when starting runs
	taskQueue string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ticketctl",
	Short: "CLI for ticket workflow operations",
	Long: `ticketctl is a command-line interface for operating ticket runs.
It starts runs, inspects their state, and sends them operator commands,
talking directly to the Temporal service the workers connect to.

Tickets are addressed as owner/repo#number, e.g. acme/app#42.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&temporalHost, "temporal", "localhost:7233", "Temporal frontend address")
	rootCmd.PersistentFlags().StringVar(&temporalNamespace, "namespace", "default", "Temporal namespace")
	rootCmd.PersistentFlags().StringVar(&taskQueue, "task-queue", "ticketd", "worker task queue")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(commentCmd)
	rootCmd.AddCommand(wakeCmd)
	for _, c := range verbCommands() {
		rootCmd.AddCommand(c)
	}
}

// dial connects to the Temporal service. Callers own closing the client.
func dial() (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  temporalHost,
		Namespace: temporalNamespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal at %s: %w", temporalHost, err)
	}
	return c, nil
}

// ticketRef is a parsed owner/repo#number ticket address.
type ticketRef struct {
	Owner  string
	Repo   string
	Number int
}

// ID returns the canonical ticket id, e.g. "acme/app#42".
func (t ticketRef) ID() string {
	return fmt.Sprintf("%s/%s#%d", t.Owner, t.Repo, t.Number)
}

func parseTicketRef(s string) (ticketRef, error) {
	repoPart, numPart, ok := strings.Cut(s, "#")
	if !ok {
		return ticketRef{}, fmt.Errorf("invalid ticket %q: expected owner/repo#number", s)
	}
	owner, repo, ok := strings.Cut(repoPart, "/")
	if !ok || owner == "" || repo == "" {
		return ticketRef{}, fmt.Errorf("invalid ticket %q: expected owner/repo#number", s)
	}
	n, err := strconv.Atoi(numPart)
	if err != nil || n <= 0 {
		return ticketRef{}, fmt.Errorf("invalid ticket %q: bad issue number", s)
	}
	return ticketRef{Owner: owner, Repo: repo, Number: n}, nil
}
