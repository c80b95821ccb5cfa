package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/slabworks/cardvault-backend/internal/data/repos"
	types "github.com/slabworks/cardvault-backend/internal/domain"
	"github.com/slabworks/cardvault-backend/internal/jobs/replace"
	"github.com/slabworks/cardvault-backend/internal/platform/dbctx"
	"github.com/slabworks/cardvault-backend/internal/platform/envutil"
	"github.com/slabworks/cardvault-backend/internal/platform/logger"
)

const (
	pollInterval      = 1 * time.Second
	heartbeatInterval = 15 * time.Second
	staleAfter        = 5 * time.Minute
	sweepInterval     = 1 * time.Minute
)

// Worker polls for queued replace jobs and runs them. Claiming uses a
// row-locked read so multiple processes can share the queue; a periodic
// sweep fails jobs whose worker died mid-run, releasing their set lock.
type Worker struct {
	log    *logger.Logger
	jobs   repos.ReplaceJobRepo
	runner *replace.Runner
}

func NewWorker(baseLog *logger.Logger, jobs repos.ReplaceJobRepo, runner *replace.Runner) *Worker {
	return &Worker{
		log:    baseLog.With("component", "ReplaceWorker"),
		jobs:   jobs,
		runner: runner,
	}
}

// Start runs the worker pool until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	concurrency := envutil.Int("WORKER_CONCURRENCY", 2)
	if concurrency < 1 {
		concurrency = 1
	}
	w.log.Info("starting replace worker pool", "concurrency", concurrency)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		g.Go(func() error {
			w.runLoop(gctx, workerID)
			return nil
		})
	}
	g.Go(func() error {
		w.sweepLoop(gctx)
		return nil
	})
	return g.Wait()
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			job, err := w.jobs.ClaimNextQueued(dbctx.Context{Ctx: ctx})
			if err != nil {
				w.log.Warn("claim failed", "worker_id", workerID, "error", err)
				continue
			}
			if job == nil {
				continue
			}
			w.execute(ctx, workerID, job)
		}
	}
}

func (w *Worker) execute(ctx context.Context, workerID int, job *types.ReplaceJob) {
	log := w.log.With("worker_id", workerID, "replace_job_id", job.ID, "set_id", job.SetID)
	log.Info("claimed replace job")

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go w.heartbeatLoop(hbCtx, job)
	defer stopHeartbeat()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("replace job panicked", "panic", rec)
			w.failOut(ctx, job, fmt.Sprintf("worker panic: %v", rec))
		}
	}()

	if err := w.runner.Run(ctx, job.ID); err != nil {
		// Runner errors mean we could not even load the job; the row, if it
		// exists, is left for the stale sweep rather than guessed at here.
		log.Error("replace job run failed", "error", err)
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context, job *types.ReplaceJob) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.jobs.Heartbeat(dbctx.Context{Ctx: ctx}, job.ID); err != nil {
				w.log.Warn("heartbeat failed", "replace_job_id", job.ID, "error", err)
			}
		}
	}
}

// failOut terminates a job after a panic. The non-terminal guard keeps a
// late panic from clobbering a row the runner already finished.
func (w *Worker) failOut(ctx context.Context, job *types.ReplaceJob, msg string) {
	now := time.Now().UTC()
	_, err := w.jobs.UpdateFieldsUnlessTerminal(dbctx.Context{Ctx: ctx}, job.ID, map[string]interface{}{
		"stage":           types.StageFailed,
		"error_message":   msg,
		"active_set_lock": nil,
		"completed_at":    now,
	})
	if err != nil {
		w.log.Error("failed to mark panicked job", "replace_job_id", job.ID, "error", err)
	}
}

func (w *Worker) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.jobs.FailStaleRunning(dbctx.Context{Ctx: ctx}, time.Now().UTC().Add(-staleAfter))
			if err != nil {
				w.log.Warn("stale job sweep failed", "error", err)
				continue
			}
			if n > 0 {
				w.log.Warn("failed stale replace jobs", "count", n)
			}
		}
	}
}
