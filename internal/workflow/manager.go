package workflow

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gofrs/flock"

	"reelhook/internal/config"
	"reelhook/internal/dispatch"
	"reelhook/internal/jobs"
	"reelhook/internal/logging"
)

// Runner executes one job to a terminal state.
type Runner interface {
	Execute(ctx context.Context, jobID string) error
}

// JobStore is the persistence the manager needs around the engine.
type JobStore interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
	ResetRunning(ctx context.Context) ([]string, error)
	Trim(ctx context.Context, keepLatest int) ([]string, error)
	Health(ctx context.Context) (jobs.HealthSummary, error)
}

// Manager coordinates job execution across a bounded set of workers.
type Manager struct {
	cfg    *config.Config
	store  JobStore
	runner Runner
	source dispatch.Source
	logger *slog.Logger
	lock   *flock.Flock

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inflight map[string]struct{}
	lastErr  error
	lastJob  string
	finished int
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, store JobStore, runner Runner, source dispatch.Source, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		runner:   runner,
		source:   source,
		logger:   logging.NewComponentLogger(logger, "workflow"),
		lock:     flock.New(cfg.LockPath()),
		inflight: make(map[string]struct{}),
	}
}

func (m *Manager) workerCount() int {
	if m.cfg.Workflow.MaxParallelJobs < 1 {
		return 1
	}
	return m.cfg.Workflow.MaxParallelJobs
}
