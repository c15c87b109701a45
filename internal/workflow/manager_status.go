package workflow

import (
	"context"
	"sort"

	"reelhook/internal/jobs"
	"reelhook/internal/logging"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running   bool
	Workers   int
	Active    []string
	Finished  int
	LastJobID string
	LastError string
	Jobs      jobs.HealthSummary
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:   m.running,
		Workers:   m.workerCount(),
		Finished:  m.finished,
		LastJobID: m.lastJob,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	for id := range m.inflight {
		summary.Active = append(summary.Active, id)
	}
	m.mu.RUnlock()
	sort.Strings(summary.Active)

	health, err := m.store.Health(ctx)
	if err != nil {
		m.logger.Warn("failed to read job stats", logging.Error(err))
	}
	summary.Jobs = health
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) recordFinish(jobID string, err error) {
	m.mu.Lock()
	m.lastJob = jobID
	m.finished++
	if err != nil {
		m.lastErr = err
	}
	m.mu.Unlock()
}
