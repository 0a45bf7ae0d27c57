// Package ghops implements the GitHub-facing activities: posting operator
// comments, creating pull requests, polling checks, and pushing the working
// branch. Every outbound write is idempotent or deduplicated, because the
// durable-execution host may re-invoke an activity whose effect already
// landed.
package ghops

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/ticketd/internal/config"
)

// NewClient creates an authenticated GitHub API client.
func NewClient(ctx context.Context, token config.Secret) (*github.Client, error) {
	if !token.IsSet() {
		return nil, fmt.Errorf("GitHub token not set")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	return github.NewClient(oauth2.NewClient(ctx, ts)), nil
}

// Activities hosts the GitHub activity implementations.
type Activities struct {
	token config.Secret
	retry *RetryConfig

	// clientFn overrides client construction in tests.
	clientFn func(context.Context) (*github.Client, error)
}

// NewActivities creates the activity set with the given token and default
// retry behavior.
func NewActivities(token config.Secret) *Activities {
	return &Activities{token: token, retry: DefaultRetryConfig()}
}

func (a *Activities) client(ctx context.Context) (*github.Client, error) {
	if a.clientFn != nil {
		return a.clientFn(ctx)
	}
	return NewClient(ctx, a.token)
}
