// Package main implements a GitHub App bot that runs repo-butler
// automations across all installed organizations: code reviews, issue
// evaluations and mention responses, driven by WebSocket events.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeGROOVE-dev/prx/pkg/prx"
	"github.com/codeGROOVE-dev/repo-butler/pkg/automation"
	"github.com/codeGROOVE-dev/repo-butler/pkg/github"
	"github.com/codeGROOVE-dev/repo-butler/pkg/llm"
	"github.com/codeGROOVE-dev/repo-butler/pkg/ratelimit"
)

var (
	// GitHub App authentication flags.
	appID      = flag.String("app-id", "", "GitHub App ID for authentication")
	appKeyPath = flag.String("app-key-path", "", "Path to GitHub App private key file")

	// Behavior flags.
	loopDelay      = flag.Duration("loop-delay", 5*time.Minute, "Delay between monitor reconciliation cycles (default: 5m)")
	fallbackConfig = flag.String("fallback-config", "", "Rate limit config applied when a repository has none (hot reloaded)")
	dryRun         = flag.Bool("dry-run", false, "Run in dry-run mode (no comments posted)")
)

// Task kinds for event routing and metrics.
const (
	taskReview   = "review"
	taskEvaluate = "evaluate"
	taskMention  = "mention"
)

// prxClientWrapper wraps prx.Client to satisfy the interface expected by github.Client.
type prxClientWrapper struct {
	client *prx.Client
}

// PullRequestWithReferenceTime wraps the prx.Client.PullRequestWithReferenceTime method to return any.
func (w *prxClientWrapper) PullRequestWithReferenceTime(ctx context.Context, owner, repo string, prNumber int, referenceTime time.Time) (any, error) {
	return w.client.PullRequestWithReferenceTime(ctx, owner, repo, prNumber, referenceTime)
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "GitHub App bot that reviews PRs, evaluates issues and answers\n")
		fmt.Fprintf(os.Stderr, "@repo-butler mentions across all installed organizations.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  GITHUB_APP_ID        - GitHub App ID\n")
		fmt.Fprintf(os.Stderr, "  GITHUB_APP_KEY       - GitHub App private key content\n")
		fmt.Fprintf(os.Stderr, "  GITHUB_APP_KEY_PATH  - Path to GitHub App private key file\n")
		fmt.Fprintf(os.Stderr, "  ANTHROPIC_API_KEY    - Anthropic API key (required)\n")
		fmt.Fprintf(os.Stderr, "  BUTLER_MODEL         - Model override for completions\n")
		fmt.Fprintf(os.Stderr, "  PORT                 - HTTP server port (default: 8080)\n")
	}
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Resolve credentials
	effectiveAppID := *appID
	effectiveAppKey := *appKeyPath
	if effectiveAppID == "" {
		effectiveAppID = os.Getenv("GITHUB_APP_ID")
	}
	if effectiveAppKey == "" {
		effectiveAppKey = os.Getenv("GITHUB_APP_KEY_PATH")
	}

	if effectiveAppID == "" {
		slog.Error("GitHub App ID is required")
		slog.Info("Set via --app-id flag or GITHUB_APP_ID environment variable")
		os.Exit(1)
	}
	if effectiveAppKey == "" {
		slog.Info("No GITHUB_APP_KEY_PATH provided, will attempt to use GITHUB_APP_KEY content")
	}
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		slog.Error("ANTHROPIC_API_KEY is required")
		os.Exit(1)
	}

	ctx := context.Background()

	// Create GitHub client with app authentication
	client, err := github.New(ctx, github.Config{
		UseAppAuth:  true,
		AppID:       effectiveAppID,
		AppKeyPath:  effectiveAppKey,
		HTTPTimeout: 30 * time.Second,
		CacheTTL:    24 * time.Hour,
	})
	if err != nil {
		slog.Error("Failed to create GitHub client", "error", err)
		os.Exit(1)
	}

	// Get token for prx client
	token, err := client.Token(ctx)
	if err != nil {
		slog.Error("Failed to get GitHub token for prx client", "error", err)
		os.Exit(1)
	}

	// Create prx client for enhanced PR data and wrap it to satisfy the interface
	prxClient := prx.NewClient(token, prx.WithLogger(logger))
	client.SetPrxClient(&prxClientWrapper{client: prxClient})

	completer, err := llm.New(llm.Config{
		APIKey: apiKey,
		Model:  os.Getenv("BUTLER_MODEL"),
	})
	if err != nil {
		slog.Error("Failed to create completion client", "error", err)
		os.Exit(1)
	}

	opts := automation.Options{
		Logger: logger,
		DryRun: *dryRun,
	}

	// Operator fallback for repositories without their own config,
	// hot reloaded on file changes and SIGHUP.
	if *fallbackConfig != "" {
		holder, err := ratelimit.NewHolder(*fallbackConfig, logger)
		if err != nil {
			slog.Error("Failed to load fallback rate limit config", "error", err)
			os.Exit(1)
		}
		if err := holder.WatchFile(); err != nil {
			slog.Warn("Fallback config file watch unavailable", "error", err)
		}
		holder.WatchSignals()
		defer holder.Stop()
		opts.Fallback = holder.Get
	}

	bot := &Bot{
		client:   client,
		runner:   automation.NewRunner(client, completer, opts),
		monitors: make(map[string]*sprinklerMonitor),
	}

	slog.Info("Starting in server mode", "loop_delay", *loopDelay, "dry_run", *dryRun)
	bot.runServeMode(ctx, *loopDelay)
}

// Bot runs automations across all installed organizations.
type Bot struct {
	client   *github.Client
	runner   *automation.Runner
	metrics  *MetricsCollector
	monitors map[string]*sprinklerMonitor // One monitor per org, guarded by mu
	mu       sync.RWMutex
}

// runTask dispatches one sprinkler event to the matching automation.
func (b *Bot) runTask(ctx context.Context, kind string, ref *targetRef) (automation.Outcome, error) {
	b.client.SetCurrentOrg(ref.owner)
	defer b.client.SetCurrentOrg("")

	switch kind {
	case taskReview:
		return b.runner.ReviewPullRequest(ctx, ref.owner, ref.repo, ref.number)
	case taskEvaluate:
		return b.runner.EvaluateIssue(ctx, ref.owner, ref.repo, ref.number)
	case taskMention:
		return b.runner.RespondToLatestMention(ctx, ref.owner, ref.repo, ref.number)
	default:
		return "", fmt.Errorf("unknown task kind %q", kind)
	}
}

// runServeMode runs the bot in server mode: one event monitor per org
// plus periodic reconciliation against current app installations.
func (b *Bot) runServeMode(ctx context.Context, loopDelay time.Duration) {
	b.metrics = NewMetricsCollector()

	// Start health server in background
	go b.startHealthServer()

	time.Sleep(100 * time.Millisecond)
	slog.Info("Service started in server mode", "loop_delay", loopDelay)

	// Stop all monitors on shutdown
	defer func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for org, monitor := range b.monitors {
			slog.Info("Stopping sprinkler monitor", "org", org)
			monitor.stop()
		}
	}()

	// Reconcile immediately, then loop
	for {
		select {
		case <-ctx.Done():
			slog.Info("Context cancelled, shutting down")
			return
		default:
			slog.Info("Starting monitor reconciliation cycle")
			startTime := time.Now()

			b.reconcileMonitors(ctx)

			b.metrics.RecordCycleComplete()
			slog.Info("Cycle completed", "duration", time.Since(startTime), "sleep_duration", loopDelay)

			// Sleep with context cancellation
			timer := time.NewTimer(loopDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				// Continue to next iteration
			}
		}
	}
}

// reconcileMonitors starts monitors for newly installed orgs and stops
// monitors for removed ones.
func (b *Bot) reconcileMonitors(ctx context.Context) {
	orgs, err := b.client.ListAppInstallations(ctx)
	if err != nil {
		slog.Warn("Failed to list app installations", "error", err)
		return
	}

	currentOrgs := make(map[string]bool, len(orgs))
	for _, org := range orgs {
		currentOrgs[org] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Stop monitors for removed orgs
	for org, monitor := range b.monitors {
		if !currentOrgs[org] {
			slog.Info("Stopping sprinkler for removed org", "org", org)
			monitor.stop()
			delete(b.monitors, org)
		}
	}

	// Start monitors for new orgs
	for _, org := range orgs {
		if _, exists := b.monitors[org]; exists {
			continue // Already monitoring
		}

		monitor := newSprinklerMonitor(b, org)
		if err := monitor.start(ctx); err != nil {
			slog.Error("Failed to start sprinkler monitor", "org", org, "error", err)
			continue
		}

		b.monitors[org] = monitor
		b.metrics.RecordOrg(org)
		slog.Info("Started sprinkler monitor", "org", org)
	}

	slog.Info("Monitor reconciliation complete", "orgs", len(orgs), "monitors", len(b.monitors))
}

// startHealthServer starts the HTTP server for health checks.
func (b *Bot) startHealthServer() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	http.HandleFunc("/_-_/health", func(w http.ResponseWriter, _ *http.Request) {
		stats := b.metrics.Stats()

		status := "ok"
		statusCode := http.StatusOK

		if stats.TotalCycles > 0 && time.Since(stats.LastCycle) > 15*time.Minute {
			status = "stale"
			statusCode = http.StatusServiceUnavailable
		}

		response := fmt.Sprintf("%s - %d organizations, %d events seen (last cycle: %s, cycles: %d)\n",
			status, stats.Orgs, stats.EventsSeen,
			stats.LastCycle.Format(time.RFC3339), stats.TotalCycles)

		w.WriteHeader(statusCode)
		if _, err := w.Write([]byte(response)); err != nil {
			slog.Warn("Failed to write response", "error", err)
		}
	})

	http.HandleFunc("/_-_/status", func(w http.ResponseWriter, _ *http.Request) {
		stats := b.metrics.Stats()

		b.mu.RLock()
		monitors := make(map[string]any, len(b.monitors))
		for org, monitor := range b.monitors {
			monitors[org] = monitor.healthStatus()
		}
		b.mu.RUnlock()

		payload := map[string]any{
			"events_seen":  stats.EventsSeen,
			"tasks":        stats.Tasks,
			"total_cycles": stats.TotalCycles,
			"monitors":     monitors,
		}
		if !stats.LastCycle.IsZero() {
			payload["last_cycle"] = stats.LastCycle.Format(time.RFC3339)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			slog.Warn("Failed to write status response", "error", err)
		}
	})

	http.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("Repo Butler Bot\n/_-_/health - Health status\n/_-_/status - Monitor status\n")); err != nil {
			slog.Warn("Failed to write response", "error", err)
		}
	})

	slog.Info("Starting health server", "port", port)
	server := &http.Server{
		Addr:         ":" + port,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("Health server failed", "error", err)
	}
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		uniqueOrgs: make(map[string]bool),
		taskCounts: make(map[string]int64),
	}
}

// MetricsCollector tracks bot activity for the health endpoints.
type MetricsCollector struct {
	uniqueOrgs  map[string]bool
	taskCounts  map[string]int64 // "<kind>:<outcome>" counters
	lastCycle   time.Time
	mu          sync.RWMutex
	totalCycles int64
	eventsSeen  int64
}

// RecordOrg records an organization with an active monitor.
func (m *MetricsCollector) RecordOrg(org string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uniqueOrgs[org] = true
}

// RecordEvent records one accepted WebSocket event.
func (m *MetricsCollector) RecordEvent() {
	atomic.AddInt64(&m.eventsSeen, 1)
}

// RecordTask records the result of one automation task.
func (m *MetricsCollector) RecordTask(kind, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taskCounts[kind+":"+result]++
}

// RecordCycleComplete records that a reconciliation cycle finished.
func (m *MetricsCollector) RecordCycleComplete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCycle = time.Now()
	atomic.AddInt64(&m.totalCycles, 1)
}

// Stats represents collected metrics.
type Stats struct {
	LastCycle   time.Time
	Tasks       map[string]int64
	TotalCycles int64
	EventsSeen  int64
	Orgs        int
}

// Stats returns the current statistics.
func (m *MetricsCollector) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tasks := make(map[string]int64, len(m.taskCounts))
	for k, v := range m.taskCounts {
		tasks[k] = v
	}
	return Stats{
		Orgs:        len(m.uniqueOrgs),
		Tasks:       tasks,
		LastCycle:   m.lastCycle,
		TotalCycles: atomic.LoadInt64(&m.totalCycles),
		EventsSeen:  atomic.LoadInt64(&m.eventsSeen),
	}
}
