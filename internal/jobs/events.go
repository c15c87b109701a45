package jobs

import (
	"context"
	"database/sql"
	"fmt"
)

// AppendEvent adds an entry to the job's event log without changing status.
func (s *Store) AppendEvent(ctx context.Context, id string, status Status, message string) error {
	ts := s.timestamp()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertEvent(ctx, tx, id, status, message, ts)
	})
}

// ListEvents returns events with id greater than afterID in insertion order.
func (s *Store) ListEvents(ctx context.Context, id string, afterID int64) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, job_id, status, message, created_at FROM job_events WHERE job_id = ? AND id > ? ORDER BY id ASC",
		id, afterID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		var (
			event   Event
			status  string
			created string
		)
		if err := rows.Scan(&event.ID, &event.JobID, &status, &event.Message, &created); err != nil {
			return nil, err
		}
		event.Status = Status(status)
		event.CreatedAt = parseTime(created)
		events = append(events, event)
	}
	return events, rows.Err()
}

func insertEvent(ctx context.Context, tx *sql.Tx, id string, status Status, message, ts string) error {
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO job_events (job_id, status, message, created_at) VALUES (?, ?, ?, ?)",
		id, status, message, ts,
	); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}
