package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ticketd/internal/config"
)

func newTestActivities(t *testing.T, handler http.Handler) *Activities {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewActivities(config.SandboxConfig{
		ProvisionerURL: server.URL,
		Token:          config.Secret("test-token"),
	})
}

func TestProvisionUnconfiguredSkips(t *testing.T) {
	a := NewActivities(config.SandboxConfig{})
	res, err := a.Provision(context.Background(), ProvisionInput{TicketID: "o/r#1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
}

func TestProvisionReady(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sandboxes", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		var in ProvisionInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "ticketd/issue-1", in.Branch)
		_ = json.NewEncoder(w).Encode(ProvisionResult{
			ID:  "sb-1",
			URL: "https://sb-1.preview.test",
		})
	})

	a := newTestActivities(t, mux)
	res, err := a.Provision(context.Background(), ProvisionInput{
		TicketID: "o/r#1", Branch: "ticketd/issue-1", PRNumber: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeReady, res.Outcome)
	assert.Equal(t, "sb-1", res.ID)
	assert.Equal(t, "https://sb-1.preview.test", res.URL)
}

func TestProvisionServerErrorReportsFailed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sandboxes", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of capacity", http.StatusServiceUnavailable)
	})

	a := newTestActivities(t, mux)
	res, err := a.Provision(context.Background(), ProvisionInput{TicketID: "o/r#1"})
	require.NoError(t, err, "provision failures surface as outcomes, not errors")
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Message, "out of capacity")
}

func TestTeardownConverges(t *testing.T) {
	deletes := 0
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /v1/sandboxes/sb-1", func(w http.ResponseWriter, r *http.Request) {
		deletes++
		if deletes > 1 {
			// already gone
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	a := newTestActivities(t, mux)
	require.NoError(t, a.Teardown(context.Background(), TeardownInput{SandboxID: "sb-1"}))
	require.NoError(t, a.Teardown(context.Background(), TeardownInput{SandboxID: "sb-1"}))
	assert.Equal(t, 2, deletes)
}

func TestRunQAVerdicts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/qa", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(QAResult{Outcome: QAFail, Details: "login flow broke"})
	})

	a := newTestActivities(t, mux)
	res, err := a.RunQA(context.Background(), QAInput{SandboxURL: "https://sb-1.preview.test", TicketID: "o/r#1"})
	require.NoError(t, err)
	assert.Equal(t, QAFail, res.Outcome)
	assert.Equal(t, "login flow broke", res.Details)

	// No sandbox URL means nothing to test against.
	res, err = a.RunQA(context.Background(), QAInput{TicketID: "o/r#1"})
	require.NoError(t, err)
	assert.Equal(t, QASkipped, res.Outcome)
}
