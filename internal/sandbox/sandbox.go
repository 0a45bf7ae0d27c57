// Package sandbox talks to the external sandbox provisioner.
//
// Provisioning is best-effort: an unconfigured provisioner or a provisioner
// that declines a request yields a skipped outcome rather than an error, and
// the lifecycle continues without a preview environment.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/ticketd/internal/config"
)

// Outcome classifies a provisioner response.
type Outcome string

const (
	OutcomeReady   Outcome = "ready"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"

	QAPass    Outcome = "pass"
	QAFail    Outcome = "fail"
	QASkipped Outcome = "skipped"
)

// Activities hosts the sandbox activity implementations.
type Activities struct {
	baseURL string
	token   config.Secret
	client  *http.Client
}

// NewActivities creates the sandbox activity set. An empty baseURL disables
// provisioning: every request reports skipped.
func NewActivities(cfg config.SandboxConfig) *Activities {
	return &Activities{
		baseURL: cfg.ProvisionerURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// ProvisionInput asks for a preview environment for a PR branch.
type ProvisionInput struct {
	TicketID     string `json:"ticket_id"`
	RepoFullName string `json:"repo_full_name"`
	Branch       string `json:"branch"`
	PRNumber     int    `json:"pr_number"`
}

// ProvisionResult reports the environment, if any.
type ProvisionResult struct {
	Outcome Outcome `json:"outcome"`
	ID      string  `json:"id"`
	URL     string  `json:"url"`
	Message string  `json:"message"`
}

// Provision requests a sandbox for the given branch.
func (a *Activities) Provision(ctx context.Context, in ProvisionInput) (*ProvisionResult, error) {
	if a.baseURL == "" {
		return &ProvisionResult{Outcome: OutcomeSkipped, Message: "no provisioner configured"}, nil
	}
	var out ProvisionResult
	if err := a.post(ctx, "/v1/sandboxes", in, &out); err != nil {
		return &ProvisionResult{Outcome: OutcomeFailed, Message: err.Error()}, nil
	}
	if out.Outcome == "" {
		out.Outcome = OutcomeReady
	}
	return &out, nil
}

// TeardownInput identifies the sandbox to destroy.
type TeardownInput struct {
	SandboxID string `json:"sandbox_id"`
}

// Teardown destroys a sandbox. Destroying an already-gone sandbox is not an
// error; teardown must converge under re-invocation.
func (a *Activities) Teardown(ctx context.Context, in TeardownInput) error {
	if a.baseURL == "" || in.SandboxID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.baseURL+"/v1/sandboxes/"+in.SandboxID, nil)
	if err != nil {
		return err
	}
	a.auth(req)
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("sandbox teardown request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("sandbox teardown returned %s", resp.Status)
	}
	return nil
}

// QAInput asks for an automated smoke run against a sandbox URL.
type QAInput struct {
	SandboxURL string `json:"sandbox_url"`
	TicketID   string `json:"ticket_id"`
}

// QAResult reports the smoke verdict.
type QAResult struct {
	Outcome Outcome `json:"outcome"`
	Details string  `json:"details"`
}

// RunQA triggers the provisioner's smoke suite against the sandbox.
func (a *Activities) RunQA(ctx context.Context, in QAInput) (*QAResult, error) {
	if a.baseURL == "" || in.SandboxURL == "" {
		return &QAResult{Outcome: QASkipped, Details: "no automated QA available"}, nil
	}
	var out QAResult
	if err := a.post(ctx, "/v1/qa", in, &out); err != nil {
		return &QAResult{Outcome: QASkipped, Details: err.Error()}, nil
	}
	if out.Outcome == "" {
		out.Outcome = QASkipped
	}
	return &out, nil
}

func (a *Activities) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	a.auth(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("provisioner request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading provisioner response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("provisioner returned %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding provisioner response: %w", err)
	}
	return nil
}

func (a *Activities) auth(req *http.Request) {
	if a.token.IsSet() {
		req.Header.Set("Authorization", "Bearer "+a.token.Value())
	}
}
