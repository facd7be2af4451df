// Package worker implements the long-poll claim loop and command dispatch.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/conveyor/pkg/agent"
	"github.com/codeready-toolchain/conveyor/pkg/client"
	"github.com/codeready-toolchain/conveyor/pkg/config"
	"github.com/codeready-toolchain/conveyor/pkg/llm"
	"github.com/codeready-toolchain/conveyor/pkg/plans"
	"github.com/codeready-toolchain/conveyor/pkg/repo"
)

// Runner is a single sequential worker: claim one job, run it, post the
// outcome, repeat. No further claim is issued while a job is in flight.
type Runner struct {
	cfg       *config.WorkerConfig
	llmCfg    *config.LLMConfig
	broker    *client.Client
	repos     *repo.Service
	plans     *plans.Store
	llmClient llm.Client

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New wires a runner from configuration.
func New(cfg *config.WorkerConfig, llmCfg *config.LLMConfig) *Runner {
	repos := repo.NewService(repo.Config{
		Base:           cfg.ReposBase,
		AllowlistPath:  cfg.RepoAllowlist,
		FallbackPath:   cfg.AllowlistFallback(),
		CmdTimeout:     cfg.CmdTimeout,
		MaxOutputBytes: cfg.MaxOutputBytes,
		MaxFileBytes:   cfg.MaxFileBytes,
		MaxLines:       cfg.MaxLines,
	}, cfg.WorkerID)

	return &Runner{
		cfg:       cfg,
		llmCfg:    llmCfg,
		broker:    client.NewWorker(cfg.BrokerURL, cfg.WorkerToken, cfg.WorkerID, cfg.CapsList()),
		repos:     repos,
		plans:     plans.NewStore(cfg.StateDir),
		llmClient: llm.NewHTTPClient(llmCfg),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the polling loop in a goroutine.
func (r *Runner) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop signals the loop to stop and waits for the in-flight job to finish.
// Safe to call multiple times.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context) {
	defer r.wg.Done()

	log := slog.With("worker_id", r.cfg.WorkerID)
	log.Info("Worker started",
		"broker", r.cfg.BrokerURL,
		"poll_interval", r.cfg.PollInterval,
		"caps", r.cfg.CapsList())

	for {
		select {
		case <-r.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := r.pollAndProcess(ctx); err != nil {
				log.Error("Poll failed", "error", err)
				r.sleep(r.cfg.PollInterval)
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (r *Runner) sleep(d time.Duration) {
	select {
	case <-r.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims one job and drives it to a terminal POST.
func (r *Runner) pollAndProcess(ctx context.Context) error {
	job, err := r.broker.NextJob(ctx)
	if err != nil {
		return err
	}
	if job == nil {
		r.sleep(r.cfg.PollInterval)
		return nil
	}

	log := slog.With("job_id", job.ID, "command", job.Command, "worker_id", r.cfg.WorkerID)
	log.Info("Job claimed")

	result, err := r.Execute(ctx, job.Command, job.Payload)
	if err != nil {
		errMsg := err.Error()
		if errMsg == "" {
			errMsg = "unknown"
		}
		log.Error("Job failed", "error", errMsg)
		if postErr := r.broker.PostFail(ctx, job.ID, errMsg); postErr != nil {
			log.Error("Failed to post failure; lease will expire", "error", postErr)
		}
		return nil
	}

	if postErr := r.broker.PostResult(ctx, job.ID, result); postErr != nil {
		log.Error("Failed to post result; lease will expire", "error", postErr)
		return nil
	}
	log.Info("Result posted")
	return nil
}

// bridge builds the tool-dispatch bridge for one llm_task job.
func (r *Runner) bridge(repoCtx *agent.RepoContext) *agent.Bridge {
	return &agent.Bridge{
		Repos:        r.repos,
		Plans:        r.plans,
		AllowedTools: r.llmCfg.AllowedTools,
		ID:           r.cfg.WorkerID,
		Context:      repoCtx,
	}
}
