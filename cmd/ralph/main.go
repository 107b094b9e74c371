// Package main provides the ralph binary entry point.
// Ralph is an event-driven development orchestrator that turns GitHub
// webhook deliveries into durable workflow runs: spec generation, task
// decomposition, agent execution, review, and a merge decision.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/c360studio/ralph/agents"
	"github.com/c360studio/ralph/boundary"
	"github.com/c360studio/ralph/config"
	"github.com/c360studio/ralph/hosting"
	"github.com/c360studio/ralph/llm"
	"github.com/c360studio/ralph/metrics"
	"github.com/c360studio/ralph/orchestrator"
	"github.com/c360studio/ralph/server"
	"github.com/c360studio/ralph/store"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "ralph"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "ralph",
		Short: "Event-driven development orchestrator",
		Long: `Ralph converts signed GitHub webhook deliveries into durable
workflow runs. Each run generates a formal specification from the issue,
decomposes it into a dependency-ordered task set, executes the tasks
through LLM agents, summarizes the outcome for review, and records a
merge decision against the pull request.

State is persisted in NATS JetStream key-value buckets; every stage
transition, agent attempt, and artifact is kept for audit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func run(configPath, logLevel string) error {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.NewLoader(logger).Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()

	nc, err := connectToNATS(cfg.NATS.URL, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create jetstream context: %w", err)
	}

	st, err := store.New(ctx, js)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}

	m := metrics.New()

	client := llm.NewClient(cfg.LLM.Endpoint, cfg.LLM.Model, cfg.LLM.APIKey, logger,
		llm.WithHTTPClient(&http.Client{Timeout: cfg.LLM.Timeout}))
	agentRoles := agents.NewLLMAgents(client, logger, agents.WithTemperature(cfg.LLM.Temperature))

	var ghOpts []hosting.GitHubOption
	if cfg.GitHub.APIBaseURL != "" {
		api := strings.TrimRight(cfg.GitHub.APIBaseURL, "/")
		ghOpts = append(ghOpts, hosting.WithBaseURL(api, api+"/graphql"))
	}
	gh := hosting.NewGitHub(cfg.GitHub.Owner, cfg.GitHub.Repo, cfg.GitHub.Token, logger, ghOpts...)

	orch := orchestrator.New(orchestrator.Params{
		Store:      st,
		Hosting:    gh,
		SpecGen:    agentRoles,
		Executor:   agentRoles,
		Reviewer:   agentRoles,
		Decider:    agentRoles,
		Boundary:   boundary.New(m, logger),
		Metrics:    m,
		Config:     cfg.Orchestrator,
		Repo:       cfg.GitHub.Owner + "/" + cfg.GitHub.Repo,
		BaseBranch: cfg.GitHub.BaseBranch,
		AutoMerge:  cfg.GitHub.AutoMergeEnabled,
		Logger:     logger,
	})

	srv := server.New(server.Params{
		Addr:          cfg.Server.Addr,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		Store:         st,
		Queue:         orch,
		Metrics:       m,
		WebhookSecret: cfg.GitHub.WebhookSecret,
		Logger:        logger,
	})

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start() }()

	slog.Info("Ralph ready",
		"version", Version,
		"addr", cfg.Server.Addr,
		"repo", cfg.GitHub.Owner+"/"+cfg.GitHub.Repo)

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	select {
	case <-signalCtx.Done():
		slog.Info("Received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			slog.Error("HTTP server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error shutting down HTTP server", "error", err)
	}
	if err := orch.Stop(shutdownCtx); err != nil {
		slog.Error("Error stopping orchestrator", "error", err)
	}

	slog.Info("Ralph shutdown complete")
	return nil
}

func connectToNATS(url string, logger *slog.Logger) (*nats.Conn, error) {
	logger.Info("Connecting to NATS", "url", url)

	nc, err := nats.Connect(url,
		nats.Name(appName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(10*time.Second),
	)
	if err != nil {
		return nil, wrapNATSError(err, url)
	}

	logger.Info("Connected to NATS", "url", url)
	return nc, nil
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker compose up -d nats

Or set RALPH_NATS_URL to point to your NATS server.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}
