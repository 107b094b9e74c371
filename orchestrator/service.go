// Package orchestrator owns the single-consumer event loop that turns an
// accepted webhook envelope into a completed workflow run: spec generation,
// task execution over the dependency frontier, review, and the merge
// decision, with every external call boundary-wrapped.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/ralph/agents"
	"github.com/c360studio/ralph/boundary"
	"github.com/c360studio/ralph/config"
	"github.com/c360studio/ralph/formalspec"
	"github.com/c360studio/ralph/hosting"
	"github.com/c360studio/ralph/metrics"
	"github.com/c360studio/ralph/retry"
	"github.com/c360studio/ralph/store"
	"github.com/c360studio/ralph/webhook"
	"github.com/c360studio/ralph/workflow"
)

// purgeInterval is how often the janitor sweeps processed deliveries.
const purgeInterval = 24 * time.Hour

// Params collects the service dependencies.
type Params struct {
	Store    *store.Store
	Hosting  hosting.Provider
	SpecGen  agents.SpecGenerator
	Executor agents.Executor
	Reviewer agents.Reviewer
	Decider  agents.MergeDecider
	Boundary *boundary.Wrapper
	Metrics  *metrics.Metrics
	Config   config.OrchestratorConfig
	Repo     string
	// BaseBranch is where the commit baseline is read from.
	BaseBranch string
	// AutoMerge gates enabling auto-merge on approved pull requests.
	AutoMerge bool
	Logger    *slog.Logger
}

// Service consumes the event queue, one envelope at a time.
type Service struct {
	store    *store.Store
	hosting  hosting.Provider
	specGen  agents.SpecGenerator
	executor agents.Executor
	reviewer agents.Reviewer
	decider  agents.MergeDecider
	boundary *boundary.Wrapper
	metrics  *metrics.Metrics
	cfg      config.OrchestratorConfig

	repo       string
	baseBranch string
	autoMerge  bool

	queue  *Queue
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a stopped Service.
func New(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      p.Store,
		hosting:    p.Hosting,
		specGen:    p.SpecGen,
		executor:   p.Executor,
		reviewer:   p.Reviewer,
		decider:    p.Decider,
		boundary:   p.Boundary,
		metrics:    p.Metrics,
		cfg:        p.Config,
		repo:       p.Repo,
		baseBranch: p.BaseBranch,
		autoMerge:  p.AutoMerge,
		queue:      NewQueue(),
		logger:     logger.With("component", "orchestrator"),
	}
}

// Enqueue hands an accepted envelope to the consumer. Safe for concurrent
// callers; never blocks.
func (s *Service) Enqueue(env *webhook.Envelope) {
	s.queue.Enqueue(env)
}

// Start launches the consumer and the purge janitor.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("orchestrator already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.consume(runCtx)
	go s.janitor(runCtx)

	s.logger.Info("orchestrator started",
		"max_task_attempts", s.cfg.MaxTaskAttempts,
		"retention_days", s.cfg.EventRetentionDays)
	return nil
}

// Stop cancels the consumer and waits for the in-flight event to finish or
// the context to expire.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Healthy reports whether the consumer is running.
func (s *Service) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) consume(ctx context.Context) {
	defer close(s.done)
	for {
		env, err := s.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		s.handleEvent(ctx, env)
	}
}

func (s *Service) janitor(ctx context.Context) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.store.PurgeStaleDeliveries(ctx, s.cfg.EventRetentionDays)
			if err != nil {
				s.logger.Warn("delivery purge failed", "error", err)
				continue
			}
			if deleted > 0 {
				s.logger.Info("purged stale deliveries", "deleted", deleted)
			}
		}
	}
}

// handleEvent drives one envelope through the whole pipeline. Any
// unrecovered error dead-letters the run and marks the event processed
// with the same reason; run duration is observed on both paths.
func (s *Service) handleEvent(ctx context.Context, env *webhook.Envelope) {
	start := time.Now()

	runID, err := s.runPipeline(ctx, env)

	s.metrics.RunDuration.Observe(float64(time.Since(start).Milliseconds()))

	if err == nil {
		return
	}

	s.logger.Error("workflow run failed",
		"event_id", env.EventID,
		"run_id", runID,
		"error", err)

	if runID != "" {
		if dlErr := s.store.MarkRunStatus(ctx, runID, workflow.RunStatusDeadLetter, err.Error()); dlErr != nil {
			s.logger.Error("dead-letter marking failed", "run_id", runID, "error", dlErr)
		}
	}
	if procErr := s.store.MarkEventProcessed(ctx, env.Source.DeliveryID, err); procErr != nil {
		s.logger.Error("event processed marking failed", "delivery_id", env.Source.DeliveryID, "error", procErr)
	}
	s.metrics.WorkflowRuns.WithLabelValues(string(workflow.RunStatusDeadLetter)).Inc()
}

// runPipeline is the happy path. It returns the run ID as soon as one
// exists so the failure path can dead-letter it.
func (s *Service) runPipeline(ctx context.Context, env *webhook.Envelope) (string, error) {
	issueNumber := env.TaskRef.ID

	// Create the run and link the event to it.
	run, err := s.store.CreateRun(ctx, store.RunParams{
		IssueNumber:     issueNumber,
		ExternalTaskRef: fmt.Sprintf("%s/%s/%d", env.Source.System, env.TaskRef.Kind, env.TaskRef.ID),
	})
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	if err := s.store.LinkEventToRun(ctx, env.Source.DeliveryID, run.ID); err != nil {
		return run.ID, fmt.Errorf("link event: %w", err)
	}

	meta := boundary.Meta{EventID: env.EventID, RunID: run.ID, IssueNumber: issueNumber}
	logger := s.logger.With("run_id", run.ID, "issue", issueNumber)
	logger.Info("workflow run started", "event_type", env.EventType)

	// Issue context and commit baseline.
	issue, err := boundary.Call(ctx, s.boundary, "get_issue_context", meta, func(ctx context.Context) (*hosting.IssueContext, error) {
		return s.hosting.GetIssueContext(ctx, issueNumber)
	})
	if err != nil {
		return run.ID, fmt.Errorf("get issue context: %w", err)
	}
	baseline, err := boundary.Call(ctx, s.boundary, "get_branch_sha", meta, func(ctx context.Context) (string, error) {
		return s.hosting.GetBranchSHA(ctx, s.baseBranch)
	})
	if err != nil {
		return run.ID, fmt.Errorf("get commit baseline: %w", err)
	}

	// Spec generation, retry-wrapped around the boundary call.
	gen, _, err := retry.Do(ctx, s.specGenRetryConfig(), func(int) (specOutput, error) {
		return boundary.Call(ctx, s.boundary, "generate_spec", meta, func(ctx context.Context) (specOutput, error) {
			spec, raw, genErr := s.specGen.GenerateFormalSpec(ctx, agents.SpecContext{
				Repo:           s.repo,
				Issue:          issue,
				CommitBaseline: baseline,
			})
			return specOutput{spec: spec, raw: raw}, genErr
		})
	})
	if err != nil {
		return run.ID, fmt.Errorf("generate spec: %w", err)
	}
	return run.ID, s.runFromSpec(ctx, env, run, meta, logger, gen)
}

type specOutput struct {
	spec *formalspec.Spec
	raw  string
}

func (s *Service) specGenRetryConfig() retry.Config {
	return retry.Config{
		Retries:   s.cfg.SpecGenRetries,
		BaseDelay: s.cfg.SpecGenBaseDelay,
		MaxDelay:  s.cfg.SpecGenMaxDelay,
		OnRetry: func(_ int, _ time.Duration, _ error) {
			s.metrics.Retries.WithLabelValues("generate_spec").Inc()
		},
	}
}

func (s *Service) executorRetryConfig() retry.Config {
	return retry.Config{
		Retries:   s.cfg.ExecutorRetries,
		BaseDelay: s.cfg.ExecutorBaseDelay,
		MaxDelay:  s.cfg.ExecutorMaxDelay,
		OnRetry: func(_ int, _ time.Duration, _ error) {
			s.metrics.Retries.WithLabelValues("execute_subtask").Inc()
		},
	}
}
