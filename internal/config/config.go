// Package config provides configuration loading for ticketd.
//
// Configuration is loaded from a YAML file overridden by environment
// variables. See LoadWithFile for precedence and the variable naming scheme.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/ticketd/internal/logging"
)

// Config holds the complete ticketd configuration.
type Config struct {
	Temporal  TemporalConfig  `koanf:"temporal"`
	GitHub    GitHubConfig    `koanf:"github"`
	Events    EventsConfig    `koanf:"events"`
	Sandbox   SandboxConfig   `koanf:"sandbox"`
	Policy    PolicyConfig    `koanf:"policy"`
	Routes    RoutesConfig    `koanf:"routes"`
	Workspace WorkspaceConfig `koanf:"workspace"`
	Webhook   WebhookConfig   `koanf:"webhook"`
	Logging   logging.Config  `koanf:"logging"`
}

// TemporalConfig holds the durable-execution host settings.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// GitHubConfig holds issue-tracker and VCS settings.
type GitHubConfig struct {
	Token         Secret `koanf:"token"`
	WebhookSecret Secret `koanf:"webhook_secret"`
	// BotLogin is the account the operator posts as; comments authored by it
	// are ignored to avoid self-trigger loops.
	BotLogin string `koanf:"bot_login"`
}

// EventsConfig holds the NATS operator event bus settings. An empty URL
// disables publishing.
type EventsConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// SandboxConfig holds the external sandbox provisioner settings. An empty
// URL means sandbox provisioning reports skipped.
type SandboxConfig struct {
	ProvisionerURL string `koanf:"provisioner_url"`
	Token          Secret `koanf:"token"`
}

// PolicyConfig points at the strategy policy file.
type PolicyConfig struct {
	Path string `koanf:"path"`
}

// RoutesConfig controls the tool route table.
type RoutesConfig struct {
	Path string   `koanf:"path"`
	TTL  Duration `koanf:"ttl"`
}

// WorkspaceConfig holds the checkout root for ticket repositories.
type WorkspaceConfig struct {
	Root string `koanf:"root"`
}

// CheckoutPath returns the worker-local checkout directory for a repository.
func (w WorkspaceConfig) CheckoutPath(owner, repo string) string {
	return filepath.Join(w.Root, owner, repo)
}

// WebhookConfig holds the ingress server settings.
type WebhookConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// NewDefaultConfig returns the built-in defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "ticketd",
		},
		Events: EventsConfig{
			SubjectPrefix: "ticketd.events",
		},
		Routes: RoutesConfig{
			TTL: Duration(5 * time.Minute),
		},
		Workspace: WorkspaceConfig{
			Root: "/var/lib/ticketd/workspaces",
		},
		Webhook: WebhookConfig{
			Port:            3000,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: *logging.NewDefaultConfig(),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Temporal.HostPort == "" {
		return errors.New("temporal host_port is required")
	}
	if c.Temporal.TaskQueue == "" {
		return errors.New("temporal task_queue is required")
	}
	if c.Webhook.Port < 1 || c.Webhook.Port > 65535 {
		return fmt.Errorf("invalid webhook port: %d (must be 1-65535)", c.Webhook.Port)
	}
	if c.Routes.TTL.Duration() <= 0 {
		return errors.New("routes ttl must be positive")
	}
	if c.Workspace.Root == "" {
		return errors.New("workspace root is required")
	}
	return c.Logging.Validate()
}
