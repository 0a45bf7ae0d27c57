package ghops

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
)

// dedupeMarker renders the hidden comment marker carrying a dedupe key.
func dedupeMarker(key string) string {
	return fmt.Sprintf("<!-- ticketd:%s -->", key)
}

// PostCommentInput asks for one issue comment. DedupeKey, when set, makes
// the post idempotent: a comment already carrying the key's marker
// suppresses the write.
type PostCommentInput struct {
	Owner       string `json:"owner"`
	Repo        string `json:"repo"`
	IssueNumber int    `json:"issue_number"`
	Body        string `json:"body"`
	DedupeKey   string `json:"dedupe_key"`
}

// PostCommentResult reports where the comment landed.
type PostCommentResult struct {
	URL       string `json:"url"`
	Duplicate bool   `json:"duplicate"`
	CommentID int64  `json:"comment_id"`
}

// PostComment posts an issue comment with marker-based deduplication.
func (a *Activities) PostComment(ctx context.Context, in PostCommentInput) (*PostCommentResult, error) {
	client, err := a.client(ctx)
	if err != nil {
		return nil, err
	}

	body := in.Body
	if in.DedupeKey != "" {
		marker := dedupeMarker(in.DedupeKey)
		existing, err := a.findMarkedComment(ctx, client, in.Owner, in.Repo, in.IssueNumber, marker)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &PostCommentResult{
				URL:       existing.GetHTMLURL(),
				CommentID: existing.GetID(),
				Duplicate: true,
			}, nil
		}
		body = body + "\n\n" + marker
	}

	var posted *github.IssueComment
	err = withRetry(ctx, a.retry, func() (*github.Response, error) {
		var resp *github.Response
		posted, resp, err = client.Issues.CreateComment(ctx, in.Owner, in.Repo, in.IssueNumber, &github.IssueComment{
			Body: github.String(body),
		})
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to post comment: %w", err)
	}
	return &PostCommentResult{URL: posted.GetHTMLURL(), CommentID: posted.GetID()}, nil
}

// findMarkedComment scans issue comments, newest first, for the marker.
func (a *Activities) findMarkedComment(ctx context.Context, client *github.Client, owner, repo string, number int, marker string) (*github.IssueComment, error) {
	opts := &github.IssueListCommentsOptions{
		Sort:        github.String("created"),
		Direction:   github.String("desc"),
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		comments, resp, err := client.Issues.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list comments: %w", err)
		}
		for _, c := range comments {
			if strings.Contains(c.GetBody(), marker) {
				return c, nil
			}
		}
		if resp.NextPage == 0 {
			return nil, nil
		}
		opts.Page = resp.NextPage
	}
}

// CreatePullRequestInput asks for a PR from head to base.
type CreatePullRequestInput struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Draft bool   `json:"draft"`
}

// PullRequestRef identifies a created or reused pull request.
type PullRequestRef struct {
	URL    string `json:"url"`
	Number int    `json:"number"`
	Reused bool   `json:"reused"`
}

// CreatePullRequest opens a PR, reusing an existing open PR with the same
// head branch when one exists. Re-invocation after a crash therefore settles
// on the PR the first invocation created.
func (a *Activities) CreatePullRequest(ctx context.Context, in CreatePullRequestInput) (*PullRequestRef, error) {
	client, err := a.client(ctx)
	if err != nil {
		return nil, err
	}

	if existing, err := a.openPRForHead(ctx, client, in); err != nil {
		return nil, err
	} else if existing != nil {
		return &PullRequestRef{URL: existing.GetHTMLURL(), Number: existing.GetNumber(), Reused: true}, nil
	}

	var pr *github.PullRequest
	err = withRetry(ctx, a.retry, func() (*github.Response, error) {
		var resp *github.Response
		pr, resp, err = client.PullRequests.Create(ctx, in.Owner, in.Repo, &github.NewPullRequest{
			Title: github.String(in.Title),
			Body:  github.String(in.Body),
			Head:  github.String(in.Head),
			Base:  github.String(in.Base),
			Draft: github.Bool(in.Draft),
		})
		return resp, err
	})
	if err != nil {
		// A concurrent re-invocation may have won the race.
		if strings.Contains(err.Error(), "pull request already exists") {
			if existing, lookupErr := a.openPRForHead(ctx, client, in); lookupErr == nil && existing != nil {
				return &PullRequestRef{URL: existing.GetHTMLURL(), Number: existing.GetNumber(), Reused: true}, nil
			}
		}
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}
	return &PullRequestRef{URL: pr.GetHTMLURL(), Number: pr.GetNumber()}, nil
}

func (a *Activities) openPRForHead(ctx context.Context, client *github.Client, in CreatePullRequestInput) (*github.PullRequest, error) {
	prs, _, err := client.PullRequests.List(ctx, in.Owner, in.Repo, &github.PullRequestListOptions{
		State: "open",
		Head:  in.Owner + ":" + in.Head,
		Base:  in.Base,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pull requests: %w", err)
	}
	if len(prs) > 0 {
		return prs[0], nil
	}
	return nil, nil
}

// PollChecksInput asks for the check-run state of a PR head.
type PollChecksInput struct {
	Owner    string `json:"owner"`
	Repo     string `json:"repo"`
	PRNumber int    `json:"pr_number"`
}

// ChecksReport summarizes check runs on a PR head commit.
type ChecksReport struct {
	Total     int      `json:"total"`
	Pending   int      `json:"pending"`
	Failed    []string `json:"failed"`
	AllPassed bool     `json:"all_passed"`
}

// PollChecks fetches the PR's head SHA and lists its check runs.
func (a *Activities) PollChecks(ctx context.Context, in PollChecksInput) (*ChecksReport, error) {
	client, err := a.client(ctx)
	if err != nil {
		return nil, err
	}

	pr, _, err := client.PullRequests.Get(ctx, in.Owner, in.Repo, in.PRNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch PR #%d: %w", in.PRNumber, err)
	}
	sha := pr.GetHead().GetSHA()

	report := &ChecksReport{}
	opts := &github.ListCheckRunsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		runs, resp, err := client.Checks.ListCheckRunsForRef(ctx, in.Owner, in.Repo, sha, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list check runs: %w", err)
		}
		for _, run := range runs.CheckRuns {
			report.Total++
			switch run.GetStatus() {
			case "completed":
				switch run.GetConclusion() {
				case "success", "neutral", "skipped":
				default:
					report.Failed = append(report.Failed, run.GetName())
				}
			default:
				report.Pending++
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	report.AllPassed = report.Pending == 0 && len(report.Failed) == 0
	return report, nil
}

// ListChangedFilesInput asks for the changed paths of a PR.
type ListChangedFilesInput struct {
	Owner    string `json:"owner"`
	Repo     string `json:"repo"`
	PRNumber int    `json:"pr_number"`
}

// ListChangedFiles returns the changed file paths of a PR, for the
// front-end classification heuristic.
func (a *Activities) ListChangedFiles(ctx context.Context, in ListChangedFilesInput) ([]string, error) {
	client, err := a.client(ctx)
	if err != nil {
		return nil, err
	}

	var paths []string
	opts := &github.ListOptions{PerPage: 100}
	for {
		files, resp, err := client.PullRequests.ListFiles(ctx, in.Owner, in.Repo, in.PRNumber, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list PR files: %w", err)
		}
		for _, f := range files {
			paths = append(paths, f.GetFilename())
		}
		if resp.NextPage == 0 {
			return paths, nil
		}
		opts.Page = resp.NextPage
	}
}

// FetchIssueInput asks for an issue's title, body and labels.
type FetchIssueInput struct {
	Owner       string `json:"owner"`
	Repo        string `json:"repo"`
	IssueNumber int    `json:"issue_number"`
}

// IssueDetails carries the ticket fields the pipeline needs.
type IssueDetails struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels"`
	State  string   `json:"state"`
}

// FetchIssue loads the ticket from the issue tracker.
func (a *Activities) FetchIssue(ctx context.Context, in FetchIssueInput) (*IssueDetails, error) {
	client, err := a.client(ctx)
	if err != nil {
		return nil, err
	}

	issue, _, err := client.Issues.Get(ctx, in.Owner, in.Repo, in.IssueNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch issue #%d: %w", in.IssueNumber, err)
	}
	details := &IssueDetails{
		Title: issue.GetTitle(),
		Body:  issue.GetBody(),
		State: issue.GetState(),
	}
	for _, l := range issue.Labels {
		details.Labels = append(details.Labels, l.GetName())
	}
	return details, nil
}
