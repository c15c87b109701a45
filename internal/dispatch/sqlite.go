package dispatch

import (
	"context"
	"sync"
	"time"
)

// SQLitePoller polls a QueueLister. Each poll is buffered and handed out in
// order; the next poll waits for the interval so a job still queued because a
// worker is starting on it is not spun on.
type SQLitePoller struct {
	store    QueueLister
	interval time.Duration

	mu       sync.Mutex
	pending  []string
	lastPoll time.Time
}

// NewSQLitePoller constructs a poller. Intervals below one second are raised
// to one second.
func NewSQLitePoller(store QueueLister, interval time.Duration) *SQLitePoller {
	if interval < time.Second {
		interval = time.Second
	}
	return &SQLitePoller{store: store, interval: interval}
}

// Next returns the next queued id.
func (p *SQLitePoller) Next(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if len(p.pending) > 0 {
			id := p.pending[0]
			p.pending = p.pending[1:]
			return id, nil
		}
		if wait := p.interval - time.Since(p.lastPoll); !p.lastPoll.IsZero() && wait > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}
		ids, err := p.store.ListQueued(ctx)
		p.lastPoll = time.Now()
		if err != nil {
			return "", err
		}
		p.pending = append(p.pending, ids...)
	}
}

// Close is a no-op; the store is owned by the caller.
func (p *SQLitePoller) Close() error { return nil }
