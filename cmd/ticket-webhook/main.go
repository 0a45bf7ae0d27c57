// Package main provides the GitHub webhook ingress for ticket runs.
//
// The server receives issue-comment and pull-request events, verifies their
// signatures, and forwards them as signals to the per-ticket workflow. A
// comment on an issue with no running workflow starts one, so the first
// mention of the operator on an issue is enough to bring a run to life.
//
// Usage:
//
//	TICKETD_GITHUB_WEBHOOK_SECRET=your_secret \
//	TICKETD_TEMPORAL_HOST_PORT=localhost:7233 \
//	./ticket-webhook -config /etc/ticketd/config.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/go-github/v57/github"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/ticketd/internal/config"
	"github.com/fyrsmithlabs/ticketd/internal/logging"
	"github.com/fyrsmithlabs/ticketd/internal/ticket"
)

// Validation regexes compiled once at package initialization
var (
	validNameRegex  = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	closesIssueRegx = regexp.MustCompile(`(?i)closes #(\d+)`)
)

var deliveriesCounter metric.Int64Counter

func init() {
	meter := otel.Meter("github.com/fyrsmithlabs/ticketd/cmd/ticket-webhook")
	var err error
	deliveriesCounter, err = meter.Int64Counter("ticketd.webhook.deliveries",
		metric.WithDescription("Webhook deliveries forwarded to ticket workflows"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create deliveries counter: %v", err))
	}
}

type WebhookServer struct {
	temporalClient client.Client
	cfg            *config.Config
	logger         *logging.Logger
	rateLimiters   map[string]*rate.Limiter
	mu             sync.RWMutex
	lastCleanup    time.Time
}

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

	logger.Info(ctx, "ticket webhook server starting",
		zap.Int("port", cfg.Webhook.Port),
		zap.String("temporal_host", cfg.Temporal.HostPort),
	)

	if !cfg.GitHub.WebhookSecret.IsSet() {
		return fmt.Errorf("github webhook secret not set")
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("unable to create Temporal client: %w", err)
	}
	defer c.Close()

	logger.Info(ctx, "temporal client connected", zap.String("host", cfg.Temporal.HostPort))

	server := &WebhookServer{
		temporalClient: c,
		cfg:            cfg,
		logger:         logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", server.handleWebhook)
	mux.HandleFunc("/health", handleHealth)

	// Timeouts prevent slowloris attacks
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Webhook.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info(ctx, "HTTP server listening", zap.String("addr", httpServer.Addr))
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Webhook.ShutdownTimeout.Duration())
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "server shutdown error", zap.Error(err))
		return err
	}

	logger.Info(ctx, "server stopped gracefully")
	return nil
}

// getRateLimiter returns a rate limiter for the given IP address.
// Rate limit: 60 requests per minute per IP address.
func (s *WebhookServer) getRateLimiter(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rateLimiters == nil {
		s.rateLimiters = make(map[string]*rate.Limiter)
		s.lastCleanup = time.Now()
	}

	// Clean up old limiters every hour to prevent memory leaks
	if time.Since(s.lastCleanup) > time.Hour {
		s.rateLimiters = make(map[string]*rate.Limiter)
		s.lastCleanup = time.Now()
	}

	limiter, exists := s.rateLimiters[ip]
	if !exists {
		// 60 requests per minute = 1 per second with burst of 10
		limiter = rate.NewLimiter(rate.Limit(1), 10)
		s.rateLimiters[ip] = limiter
	}

	return limiter
}

// getClientIP extracts the client IP address from the request.
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (proxy/load balancer)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take first IP in the comma-separated list
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

func (s *WebhookServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	clientIP := getClientIP(r)
	limiter := s.getRateLimiter(clientIP)
	if !limiter.Allow() {
		s.logger.Warn(ctx, "rate limit exceeded", zap.String("ip", clientIP))
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	// Limit request body size to prevent DoS attacks (1MB max)
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	payload, err := github.ValidatePayload(r, []byte(s.cfg.GitHub.WebhookSecret.Value()))
	if err != nil {
		s.logger.Warn(ctx, "invalid webhook signature", zap.Error(err))
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		s.logger.Warn(ctx, "failed to parse webhook", zap.Error(err))
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	deliveryID := r.Header.Get("X-GitHub-Delivery")

	switch e := event.(type) {
	case *github.IssueCommentEvent:
		if err := s.handleIssueComment(ctx, deliveryID, e); err != nil {
			s.logger.Error(ctx, "error handling comment event", zap.Error(err))
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}

	case *github.PullRequestEvent:
		if err := s.handlePullRequestEvent(ctx, deliveryID, e); err != nil {
			s.logger.Error(ctx, "error handling PR event", zap.Error(err))
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}

	default:
		s.logger.Debug(ctx, "ignoring event type", zap.String("type", fmt.Sprintf("%T", event)))
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// validateRepoRef validates owner and repo names to prevent injection attacks.
func validateRepoRef(owner, repo string) error {
	if !validNameRegex.MatchString(owner) {
		return fmt.Errorf("invalid repository owner format")
	}
	if !validNameRegex.MatchString(repo) {
		return fmt.Errorf("invalid repository name format")
	}
	return nil
}

func (s *WebhookServer) handleIssueComment(ctx context.Context, deliveryID string, event *github.IssueCommentEvent) error {
	if event.GetAction() != "created" {
		return nil
	}
	// Never react to the operator's own comments
	if login := event.GetComment().GetUser().GetLogin(); login != "" && login == s.cfg.GitHub.BotLogin {
		return nil
	}

	repo := event.GetRepo()
	owner := repo.GetOwner().GetLogin()
	name := repo.GetName()
	if err := validateRepoRef(owner, name); err != nil {
		s.logger.Warn(ctx, "invalid comment event data", zap.Error(err))
		return fmt.Errorf("invalid comment event: %w", err)
	}

	issueNumber := event.GetIssue().GetNumber()
	if issueNumber <= 0 {
		return fmt.Errorf("invalid issue number")
	}

	ticketID := fmt.Sprintf("%s/%s#%d", owner, name, issueNumber)
	comment := ticket.CommentEvent{
		DeliveryID: deliveryID,
		IssueID:    ticketID,
		CommentID:  event.GetComment().GetID(),
		Body:       event.GetComment().GetBody(),
		AuthorID:   event.GetComment().GetUser().GetLogin(),
		CreatedAt:  event.GetComment().GetCreatedAt().Time,
	}

	input := ticket.Input{
		TicketID:    ticketID,
		Owner:       owner,
		Repo:        name,
		IssueNumber: issueNumber,
		Mode:        ticket.ModeNormal,
		RepoPath:    s.cfg.Workspace.CheckoutPath(owner, name),
		BaseBranch:  repo.GetDefaultBranch(),
	}

	workflowID := ticket.WorkflowIDPrefix + ticketID
	options := client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: s.cfg.Temporal.TaskQueue,
	}

	signalCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	we, err := s.temporalClient.SignalWithStartWorkflow(signalCtx, workflowID,
		ticket.SignalComment, comment, options, ticket.TicketWorkflow, input)
	if err != nil {
		return fmt.Errorf("failed to signal workflow: %w", err)
	}

	deliveriesCounter.Add(ctx, 1)
	s.logger.Info(ctx, "comment forwarded",
		zap.String("workflow_id", we.GetID()),
		zap.String("delivery_id", deliveryID),
	)
	return nil
}

func (s *WebhookServer) handlePullRequestEvent(ctx context.Context, deliveryID string, event *github.PullRequestEvent) error {
	action := event.GetAction()
	if action != "closed" && action != "reopened" {
		s.logger.Debug(ctx, "ignoring PR action", zap.String("action", action))
		return nil
	}

	repo := event.GetRepo()
	owner := repo.GetOwner().GetLogin()
	name := repo.GetName()
	if err := validateRepoRef(owner, name); err != nil {
		s.logger.Warn(ctx, "invalid PR event data", zap.Error(err))
		return fmt.Errorf("invalid PR event: %w", err)
	}

	pr := event.GetPullRequest()
	if pr.GetNumber() <= 0 {
		return fmt.Errorf("invalid PR number")
	}

	// The run links its pull request back to the issue in the PR body; that
	// link is how a PR event finds its workflow.
	issueNumber := linkedIssueNumber(pr.GetBody())
	if issueNumber == 0 {
		s.logger.Debug(ctx, "PR not linked to an issue", zap.Int("pr_number", pr.GetNumber()))
		return nil
	}

	ticketID := fmt.Sprintf("%s/%s#%d", owner, name, issueNumber)
	prEvent := ticket.PREvent{
		DeliveryID:   deliveryID,
		IssueID:      ticketID,
		Action:       action,
		RepoFullName: repo.GetFullName(),
		PRNumber:     pr.GetNumber(),
		PRURL:        pr.GetHTMLURL(),
		BranchName:   pr.GetHead().GetRef(),
		Title:        pr.GetTitle(),
		Body:         pr.GetBody(),
		Merged:       pr.GetMerged(),
	}

	signalCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	workflowID := ticket.WorkflowIDPrefix + ticketID
	err := s.temporalClient.SignalWorkflow(signalCtx, workflowID, "", ticket.SignalPREvent, prEvent)
	if err != nil {
		// PR events for tickets without a live run are expected; nothing to do.
		s.logger.Warn(ctx, "no workflow for PR event",
			zap.String("workflow_id", workflowID),
			zap.Error(err),
		)
		return nil
	}

	deliveriesCounter.Add(ctx, 1)
	s.logger.Info(ctx, "PR event forwarded",
		zap.String("workflow_id", workflowID),
		zap.String("action", action),
		zap.Int("pr_number", pr.GetNumber()),
	)
	return nil
}

// linkedIssueNumber extracts the issue a pull request closes from its body.
// Returns 0 when the body carries no link.
func linkedIssueNumber(body string) int {
	m := closesIssueRegx.FindStringSubmatch(body)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}
