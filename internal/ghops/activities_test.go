package ghops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestActivities(t *testing.T, handler http.Handler) *Activities {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	base, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	client := github.NewClient(nil)
	client.BaseURL = base

	return &Activities{
		retry: DefaultRetryConfig(),
		clientFn: func(context.Context) (*github.Client, error) {
			return client, nil
		},
	}
}

func TestPostCommentSkipsWhenMarkerExists(t *testing.T) {
	posted := false
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/o/r/issues/1/comments", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": 7, "body": "done\n\n" + dedupeMarker("t/k1"), "html_url": "https://example.test/c/7"},
		})
	})
	mux.HandleFunc("POST /repos/o/r/issues/1/comments", func(w http.ResponseWriter, r *http.Request) {
		posted = true
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 99})
	})

	a := newTestActivities(t, mux)
	res, err := a.PostComment(context.Background(), PostCommentInput{
		Owner: "o", Repo: "r", IssueNumber: 1,
		Body:      "done",
		DedupeKey: "t/k1",
	})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, int64(7), res.CommentID)
	assert.False(t, posted, "must not post when the marker already exists")
}

func TestPostCommentAppendsMarker(t *testing.T) {
	var postedBody string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/o/r/issues/1/comments", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{})
	})
	mux.HandleFunc("POST /repos/o/r/issues/1/comments", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Body string `json:"body"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		postedBody = in.Body
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 8, "html_url": "https://example.test/c/8"})
	})

	a := newTestActivities(t, mux)
	res, err := a.PostComment(context.Background(), PostCommentInput{
		Owner: "o", Repo: "r", IssueNumber: 1,
		Body:      "opened the PR",
		DedupeKey: "t/auto-1",
	})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, int64(8), res.CommentID)
	assert.Contains(t, postedBody, "opened the PR")
	assert.Contains(t, postedBody, dedupeMarker("t/auto-1"))
}

func TestCreatePullRequestReusesOpenPR(t *testing.T) {
	created := false
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/o/r/pulls", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "o:ticketd/issue-1", r.URL.Query().Get("head"))
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"number": 3, "html_url": "https://example.test/pr/3"},
		})
	})
	mux.HandleFunc("POST /repos/o/r/pulls", func(w http.ResponseWriter, r *http.Request) {
		created = true
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"number": 4})
	})

	a := newTestActivities(t, mux)
	ref, err := a.CreatePullRequest(context.Background(), CreatePullRequestInput{
		Owner: "o", Repo: "r",
		Title: "fix", Head: "ticketd/issue-1", Base: "main",
	})
	require.NoError(t, err)
	assert.True(t, ref.Reused)
	assert.Equal(t, 3, ref.Number)
	assert.False(t, created, "must not create a second PR for the same head")
}

func TestPollChecksClassifiesRuns(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/o/r/pulls/5", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"number": 5,
			"head":   map[string]any{"sha": "abc123"},
		})
	})
	mux.HandleFunc("GET /repos/o/r/commits/abc123/check-runs", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"total_count": 3,
			"check_runs": []map[string]any{
				{"name": "build", "status": "completed", "conclusion": "success"},
				{"name": "lint", "status": "completed", "conclusion": "failure"},
				{"name": "e2e", "status": "in_progress"},
			},
		})
	})

	a := newTestActivities(t, mux)
	report, err := a.PollChecks(context.Background(), PollChecksInput{Owner: "o", Repo: "r", PRNumber: 5})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, []string{"lint"}, report.Failed)
	assert.False(t, report.AllPassed)
}

func TestFetchIssue(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/o/r/issues/1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"title":  "Fix the login form",
			"body":   "It drops focus on submit.",
			"state":  "open",
			"labels": []map[string]any{{"name": "frontend"}, {"name": "bug"}},
		})
	})

	a := newTestActivities(t, mux)
	details, err := a.FetchIssue(context.Background(), FetchIssueInput{Owner: "o", Repo: "r", IssueNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, "Fix the login form", details.Title)
	assert.Equal(t, []string{"frontend", "bug"}, details.Labels)
	assert.Equal(t, "open", details.State)
}
