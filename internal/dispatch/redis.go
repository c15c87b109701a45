package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"reelhook/internal/logging"
)

const streamField = "job_id"

// NewRedisClient constructs a go-redis client for addr.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

// RedisStream reads job ids from a Redis stream with XREAD and publishes
// them with XADD. Reading starts at the beginning of the stream so ids added
// while no worker was running are not lost.
type RedisStream struct {
	client *redis.Client
	name   string
	maxLen int
	block  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	lastID  string
	pending []string
}

// NewRedisStream wraps client for the named stream. block bounds each XREAD
// so Next notices cancellation.
func NewRedisStream(client *redis.Client, name string, maxLen int, block time.Duration, logger *slog.Logger) *RedisStream {
	if block < time.Second {
		block = time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RedisStream{
		client: client,
		name:   name,
		maxLen: maxLen,
		block:  block,
		logger: logging.NewComponentLogger(logger, "dispatch"),
		lastID: "0",
	}
}

// Publish appends jobID to the stream.
func (s *RedisStream) Publish(ctx context.Context, jobID string) error {
	if s.client == nil {
		return errors.New("redis client is nil")
	}
	args := &redis.XAddArgs{Stream: s.name, Values: map[string]any{streamField: jobID}}
	if s.maxLen > 0 {
		args.MaxLen = int64(s.maxLen)
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish job %s: %w", jobID, err)
	}
	return nil
}

// Next blocks until the stream yields a job id.
func (s *RedisStream) Next(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return "", errors.New("redis client is nil")
	}
	for {
		if len(s.pending) > 0 {
			id := s.pending[0]
			s.pending = s.pending[1:]
			return id, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		res, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.name, s.lastID},
			Block:   s.block,
			Count:   10,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("read stream %s: %w", s.name, err)
		}
		for _, stream := range res {
			lastID, ids := s.collect(stream.Messages)
			if lastID != "" {
				s.lastID = lastID
			}
			s.pending = append(s.pending, ids...)
		}
	}
}

func (s *RedisStream) collect(messages []redis.XMessage) (string, []string) {
	var lastID string
	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		lastID = msg.ID
		id, ok := jobIDFromValues(msg.Values)
		if !ok {
			s.logger.Warn("skipping malformed stream entry",
				logging.String("stream_id", msg.ID),
				logging.String(logging.FieldEventType, "dispatch_malformed_entry"),
			)
			continue
		}
		ids = append(ids, id)
	}
	return lastID, ids
}

func jobIDFromValues(values map[string]any) (string, bool) {
	raw, ok := values[streamField]
	if !ok {
		return "", false
	}
	var id string
	switch v := raw.(type) {
	case string:
		id = v
	case []byte:
		id = string(v)
	default:
		return "", false
	}
	if id == "" {
		return "", false
	}
	return id, true
}

// Ping verifies the Redis server answers.
func (s *RedisStream) Ping(ctx context.Context) error {
	if s.client == nil {
		return errors.New("redis client is nil")
	}
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (s *RedisStream) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
