package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"reelhook/internal/config"
)

// Source yields job ids ready to run. Next blocks until an id is available or
// ctx is done.
type Source interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// Publisher announces newly queued job ids to a Source.
type Publisher interface {
	Publish(ctx context.Context, jobID string) error
}

// QueueLister reports queued job ids, oldest first.
type QueueLister interface {
	ListQueued(ctx context.Context) ([]string, error)
}

// NewFromConfig builds the source selected by dispatch.backend.
func NewFromConfig(cfg *config.Config, store QueueLister, logger *slog.Logger) (Source, error) {
	interval := time.Duration(cfg.Workflow.QueuePollInterval) * time.Second
	switch cfg.Dispatch.Backend {
	case "", "sqlite":
		return NewSQLitePoller(store, interval), nil
	case "redis":
		client := NewRedisClient(cfg.Dispatch.RedisAddr)
		return NewRedisStream(client, cfg.Dispatch.RedisStream, cfg.Dispatch.RedisMaxLen, interval, logger), nil
	default:
		return nil, fmt.Errorf("dispatch: unsupported backend %q", cfg.Dispatch.Backend)
	}
}

// NewPublisher returns a Publisher for the configured backend, or nil when
// the backend discovers work on its own.
func NewPublisher(cfg *config.Config, logger *slog.Logger) Publisher {
	if cfg.Dispatch.Backend != "redis" {
		return nil
	}
	client := NewRedisClient(cfg.Dispatch.RedisAddr)
	return NewRedisStream(client, cfg.Dispatch.RedisStream, cfg.Dispatch.RedisMaxLen, time.Second, logger)
}
