package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"reelhook/internal/dispatch"
	"reelhook/internal/jobs"
	"reelhook/internal/logging"
	"reelhook/internal/services"
)

const sourceErrorBackoff = 2 * time.Second

// Start acquires the daemon lock, re-queues interrupted jobs, and launches
// the dispatcher and workers.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	if m.runner == nil || m.source == nil {
		return errors.New("workflow runner and source are required")
	}

	ok, err := m.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another reelhook daemon instance is already running")
	}

	reset, err := m.store.ResetRunning(ctx)
	if err != nil {
		_ = m.lock.Unlock()
		return err
	}
	if len(reset) > 0 {
		m.logger.Info("re-queued interrupted jobs",
			logging.Int("count", len(reset)),
			logging.String(logging.FieldEventType, "jobs_requeued"),
		)
		if publisher, ok := m.source.(dispatch.Publisher); ok {
			for _, id := range reset {
				if err := publisher.Publish(ctx, id); err != nil {
					m.logger.Warn("republish interrupted job failed",
						logging.String(logging.FieldJobID, id),
						logging.Error(err),
						logging.String(logging.FieldErrorHint, "run `reelhook rerun` or resubmit the job"),
					)
				}
			}
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	work := make(chan string)
	workers := m.workerCount()
	m.wg.Add(workers + 1)
	go m.dispatchLoop(runCtx, work)
	for i := range workers {
		go m.worker(runCtx, i+1, work)
	}
	m.logger.Info("workflow started",
		logging.Int("workers", workers),
		logging.String("backend", m.cfg.Dispatch.Backend),
		logging.String(logging.FieldEventType, "workflow_start"),
	)
	return nil
}

// Stop cancels dispatch, waits for running jobs to return, and releases the
// daemon lock.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	if err := m.lock.Unlock(); err != nil {
		m.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	m.logger.Info("workflow stopped", logging.String(logging.FieldEventType, "workflow_stop"))
}

func (m *Manager) dispatchLoop(ctx context.Context, work chan<- string) {
	defer m.wg.Done()
	defer close(work)
	for {
		id, err := m.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.setLastError(err)
			m.logger.Error("failed to fetch next job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "dispatch_failed"),
				logging.String(logging.FieldErrorHint, "check job database or redis access"),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(sourceErrorBackoff):
			}
			continue
		}
		if !m.claim(id) {
			continue
		}
		select {
		case work <- id:
		case <-ctx.Done():
			m.release(id)
			return
		}
	}
}

func (m *Manager) worker(ctx context.Context, slot int, work <-chan string) {
	defer m.wg.Done()
	ctx = services.WithWorker(ctx, strconv.Itoa(slot))
	for id := range work {
		m.process(ctx, id)
		m.release(id)
	}
}

func (m *Manager) process(ctx context.Context, jobID string) {
	ctx = services.WithJobID(ctx, jobID)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, m.logger)

	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		logger.Warn("dispatched job unavailable", logging.Error(err))
		return
	}
	if job.Status != jobs.StatusQueued {
		logger.Debug("skipping job that is no longer queued", logging.String("status", string(job.Status)))
		return
	}

	started := time.Now()
	logger.Info("job started", logging.String(logging.FieldEventType, "job_start"), logging.String("project", job.ProjectName))
	err = m.runner.Execute(ctx, jobID)
	m.recordFinish(jobID, err)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("job interrupted by shutdown")
			return
		}
		logging.ErrorWithContext(logger, "job failed", "job_failure",
			logging.Error(err),
			logging.Duration("elapsed", time.Since(started)),
		)
		return
	}
	logger.Info("job finished",
		logging.String(logging.FieldEventType, "job_finish"),
		logging.Duration("elapsed", time.Since(started)),
	)
	m.trim(ctx, logger)
}

func (m *Manager) trim(ctx context.Context, logger *slog.Logger) {
	keep := m.cfg.Workflow.KeepLatestJobs
	if keep <= 0 {
		return
	}
	removed, err := m.store.Trim(ctx, keep)
	if err != nil {
		logger.Warn("trim old jobs failed", logging.Error(err))
		return
	}
	if len(removed) > 0 {
		logger.Info("trimmed old jobs", logging.Int("removed", len(removed)), logging.Int("keep_latest", keep))
	}
}

func (m *Manager) claim(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[id]; busy {
		return false
	}
	m.inflight[id] = struct{}{}
	return true
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.inflight, id)
	m.mu.Unlock()
}
