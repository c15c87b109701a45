package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"reelhook/internal/fileutil"
	"reelhook/internal/services"
)

const jobColumns = "id, project_name, input_filename, source_path, asr_clip_seconds, hook_clip_seconds, status, error_message, meta_json, artifacts_json, created_at, updated_at"

// CreateParams describes a fresh job.
type CreateParams struct {
	ProjectName     string
	SourceFile      string
	ASRClipSeconds  int
	HookClipSeconds int
	// MaxBytes rejects larger sources when positive.
	MaxBytes int64
}

// RerunParams describes a rerun of an existing job.
type RerunParams struct {
	ParentID    string
	StartStage  string
	ProjectName string
}

// NewJobID returns a fresh 32-character hex job identifier.
func NewJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Create copies the source into a new job directory and inserts a queued job.
func (s *Store) Create(ctx context.Context, params CreateParams) (*Job, error) {
	info, err := os.Stat(params.SourceFile)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "jobs", "create", "source video", err)
	}
	if !info.Mode().IsRegular() {
		return nil, services.Wrap(services.ErrValidation, "jobs", "create", params.SourceFile+" is not a regular file", nil)
	}
	if params.MaxBytes > 0 && info.Size() > params.MaxBytes {
		return nil, services.Wrap(services.ErrValidation, "jobs", "create",
			fmt.Sprintf("source exceeds max size (%d > %d bytes)", info.Size(), params.MaxBytes), nil)
	}
	if params.ASRClipSeconds < 1 || params.ASRClipSeconds > 120 {
		return nil, services.Wrap(services.ErrValidation, "jobs", "create", "asr clip seconds must be between 1 and 120", nil)
	}
	if params.HookClipSeconds < 1 || params.HookClipSeconds > 20 {
		return nil, services.Wrap(services.ErrValidation, "jobs", "create", "hook clip seconds must be between 1 and 20", nil)
	}

	id := NewJobID()
	name := filepath.Base(params.SourceFile)
	target := filepath.Join(s.JobDir(id), "source_"+name)
	if err := copyLimited(params.SourceFile, target, params.MaxBytes); err != nil {
		_ = os.RemoveAll(s.JobDir(id))
		return nil, err
	}

	project := strings.TrimSpace(params.ProjectName)
	if project == "" {
		project = strings.TrimSuffix(name, filepath.Ext(name))
	}
	if project == "" {
		project = "Untitled"
	}

	job := &Job{
		ID:              id,
		ProjectName:     project,
		InputFilename:   name,
		SourcePath:      target,
		ASRClipSeconds:  params.ASRClipSeconds,
		HookClipSeconds: params.HookClipSeconds,
	}
	if err := s.insert(ctx, job, Meta{}, "job queued"); err != nil {
		_ = os.RemoveAll(s.JobDir(id))
		return nil, err
	}
	return s.Get(ctx, id)
}

// CreateRerun creates a queued job that resumes parent's pipeline at
// StartStage. The parent's source is copied into the rerun's own directory.
func (s *Store) CreateRerun(ctx context.Context, params RerunParams) (*Job, error) {
	parent, err := s.Get(ctx, params.ParentID)
	if err != nil {
		return nil, err
	}
	stage, ok := ParseStage(params.StartStage)
	if !ok {
		allowed := make([]string, 0, len(Stages))
		for _, candidate := range Stages {
			allowed = append(allowed, string(candidate))
		}
		return nil, services.Wrap(services.ErrValidation, "jobs", "rerun",
			fmt.Sprintf("invalid start stage %q (allowed: %s)", params.StartStage, strings.Join(allowed, ", ")), nil)
	}
	if _, err := os.Stat(parent.SourcePath); err != nil {
		return nil, services.Wrap(services.ErrNotFound, "jobs", "rerun", "source video "+parent.SourcePath, err)
	}

	id := NewJobID()
	target := filepath.Join(s.JobDir(id), filepath.Base(parent.SourcePath))
	if err := fileutil.CopyFileVerified(parent.SourcePath, target); err != nil {
		_ = os.RemoveAll(s.JobDir(id))
		return nil, fmt.Errorf("copy rerun source: %w", err)
	}

	project := strings.TrimSpace(params.ProjectName)
	if project == "" {
		project = parent.ProjectName + " · rerun"
	}
	job := &Job{
		ID:              id,
		ProjectName:     project,
		InputFilename:   parent.InputFilename,
		SourcePath:      target,
		ASRClipSeconds:  parent.ASRClipSeconds,
		HookClipSeconds: parent.HookClipSeconds,
	}
	meta := Meta{RerunOfJobID: parent.ID, RerunStartStage: string(stage)}
	if err := s.insert(ctx, job, meta, "job queued"); err != nil {
		_ = os.RemoveAll(s.JobDir(id))
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *Store) insert(ctx context.Context, job *Job, meta Meta, message string) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	ts := s.timestamp()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (
                id, project_name, input_filename, source_path, asr_clip_seconds, hook_clip_seconds,
                status, meta_json, artifacts_json, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, '{}', ?, ?)`,
			job.ID, job.ProjectName, job.InputFilename, job.SourcePath, job.ASRClipSeconds, job.HookClipSeconds,
			StatusQueued, string(metaJSON), ts, ts,
		); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return insertEvent(ctx, tx, job.ID, StatusQueued, message, ts)
	})
}

// Get returns the job or an error wrapping services.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "jobs", "get", "job "+id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// List returns every job, newest first.
func (s *Store) List(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM jobs ORDER BY created_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// ListQueued returns the ids of queued jobs, oldest first.
func (s *Store) ListQueued(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM jobs WHERE status = ? ORDER BY created_at ASC, id", StatusQueued)
	if err != nil {
		return nil, fmt.Errorf("list queued: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetStatus updates the job status. A non-empty message is also appended to
// the event log.
func (s *Store) SetStatus(ctx context.Context, id string, status Status, message string) error {
	ts := s.timestamp()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?", status, ts, id)
		if err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		if err := requireRow(res, id); err != nil {
			return err
		}
		if strings.TrimSpace(message) == "" {
			return nil
		}
		return insertEvent(ctx, tx, id, status, message, ts)
	})
}

// SetError marks the job failed with message and logs a failed event.
func (s *Store) SetError(ctx context.Context, id string, message string) error {
	ts := s.timestamp()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE jobs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?",
			StatusFailed, message, ts, id)
		if err != nil {
			return fmt.Errorf("set error: %w", err)
		}
		if err := requireRow(res, id); err != nil {
			return err
		}
		return insertEvent(ctx, tx, id, StatusFailed, message, ts)
	})
}

// Cancel marks a queued job canceled. Jobs a worker already owns are left
// alone; the pipeline does not interrupt a running stage.
func (s *Store) Cancel(ctx context.Context, id string) error {
	ts := s.timestamp()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
			StatusCanceled, ts, id, StatusQueued)
		if err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		if affected, err := res.RowsAffected(); err == nil && affected == 0 {
			var status Status
			if err := tx.QueryRowContext(ctx, "SELECT status FROM jobs WHERE id = ?", id).Scan(&status); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return services.Wrap(services.ErrNotFound, "jobs", "cancel", "job "+id, nil)
				}
				return err
			}
			return services.Wrap(services.ErrValidation, "jobs", "cancel",
				fmt.Sprintf("job %s is %s; only queued jobs can be canceled", id, status), nil)
		}
		return insertEvent(ctx, tx, id, StatusCanceled, "job canceled", ts)
	})
}

// ClearError removes a previously recorded error message.
func (s *Store) ClearError(ctx context.Context, id string) error {
	res, err := s.exec(ctx, "UPDATE jobs SET error_message = NULL, updated_at = ? WHERE id = ?", s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("clear error: %w", err)
	}
	return requireRow(res, id)
}

// PutArtifact records path for kind, replacing any previous value.
func (s *Store) PutArtifact(ctx context.Context, id string, kind ArtifactKind, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var raw string
		if err := tx.QueryRowContext(ctx, "SELECT artifacts_json FROM jobs WHERE id = ?", id).Scan(&raw); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return services.Wrap(services.ErrNotFound, "jobs", "put artifact", "job "+id, nil)
			}
			return err
		}
		artifacts := decodeArtifacts(raw)
		artifacts[kind] = path
		encoded, err := json.Marshal(artifacts)
		if err != nil {
			return fmt.Errorf("marshal artifacts: %w", err)
		}
		_, err = tx.ExecContext(ctx, "UPDATE jobs SET artifacts_json = ?, updated_at = ? WHERE id = ?", string(encoded), s.timestamp(), id)
		return err
	})
}

// PatchMeta merges the non-zero fields of patch into the job's meta.
func (s *Store) PatchMeta(ctx context.Context, id string, patch Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var raw string
		if err := tx.QueryRowContext(ctx, "SELECT meta_json FROM jobs WHERE id = ?", id).Scan(&raw); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return services.Wrap(services.ErrNotFound, "jobs", "patch meta", "job "+id, nil)
			}
			return err
		}
		meta := decodeMeta(raw)
		meta.Merge(patch)
		encoded, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal meta: %w", err)
		}
		_, err = tx.ExecContext(ctx, "UPDATE jobs SET meta_json = ?, updated_at = ? WHERE id = ?", string(encoded), s.timestamp(), id)
		return err
	})
}

// Delete removes the job, its events, and its directory. Non-terminal jobs
// are refused unless force is set.
func (s *Store) Delete(ctx context.Context, id string, force bool) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !force && !job.Status.IsTerminal() {
		return services.Wrap(services.ErrValidation, "jobs", "delete",
			fmt.Sprintf("job %s is %s; use force to delete queued or running jobs", id, job.Status), nil)
	}
	if err := s.deleteRows(ctx, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return os.RemoveAll(s.JobDir(id))
}

// ResetRunning re-queues jobs left in a stage status by an interrupted
// process and returns their ids.
func (s *Store) ResetRunning(ctx context.Context) ([]string, error) {
	running := RunningStatuses()
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(running)), ",")
	args := make([]any, 0, len(running))
	for _, status := range running {
		args = append(args, status)
	}

	var ids []string
	ts := s.timestamp()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ids = ids[:0]
		rows, err := tx.QueryContext(ctx, "SELECT id FROM jobs WHERE status IN ("+placeholders+") ORDER BY created_at", args...)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, "UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?", StatusQueued, ts, id); err != nil {
				return err
			}
			if err := insertEvent(ctx, tx, id, StatusQueued, "restart detected, job re-queued", ts); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reset running jobs: %w", err)
	}
	return ids, nil
}

// Trim deletes terminal jobs beyond the keepLatest newest terminal ones and
// returns the removed ids. Parents of reruns that have not finished are kept
// and do not count toward keepLatest.
func (s *Store) Trim(ctx context.Context, keepLatest int) ([]string, error) {
	if keepLatest < 0 {
		keepLatest = 0
	}
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	pinned := make(map[string]struct{})
	for _, job := range all {
		if parent := strings.TrimSpace(job.Meta.RerunOfJobID); parent != "" && !job.Status.IsTerminal() {
			pinned[parent] = struct{}{}
		}
	}
	var removed []string
	kept := 0
	for _, job := range all {
		if !job.Status.IsTerminal() {
			continue
		}
		if _, ok := pinned[job.ID]; ok {
			continue
		}
		if kept < keepLatest {
			kept++
			continue
		}
		if err := s.deleteRows(ctx, job.ID); err != nil {
			return removed, fmt.Errorf("trim job %s: %w", job.ID, err)
		}
		_ = os.RemoveAll(s.JobDir(job.ID))
		removed = append(removed, job.ID)
	}
	return removed, nil
}

// Health counts jobs by lifecycle bucket.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(1) FROM jobs GROUP BY status")
	if err != nil {
		return HealthSummary{}, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()
	var health HealthSummary
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return HealthSummary{}, err
		}
		health.Total += count
		switch {
		case status == StatusQueued:
			health.Queued += count
		case status == StatusCompleted:
			health.Completed += count
		case status == StatusFailed:
			health.Failed += count
		case status == StatusCanceled:
			health.Canceled += count
		case status.IsRunning():
			health.Running += count
		}
	}
	return health, rows.Err()
}

func (s *Store) deleteRows(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM job_events WHERE job_id = ?", id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
		return err
	})
}

func requireRow(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "jobs", "update", "job "+id, nil)
	}
	return nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job          Job
		status       string
		errorMessage sql.NullString
		metaRaw      string
		artifactsRaw string
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&job.ID,
		&job.ProjectName,
		&job.InputFilename,
		&job.SourcePath,
		&job.ASRClipSeconds,
		&job.HookClipSeconds,
		&status,
		&errorMessage,
		&metaRaw,
		&artifactsRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	job.Status = Status(status)
	job.ErrorMessage = errorMessage.String
	job.Meta = decodeMeta(metaRaw)
	job.Artifacts = decodeArtifacts(artifactsRaw)
	job.CreatedAt = parseTime(createdRaw)
	job.UpdatedAt = parseTime(updatedRaw)
	return &job, nil
}

// decodeMeta tolerates corrupt JSON by returning empty meta.
func decodeMeta(raw string) Meta {
	var meta Meta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return Meta{}
	}
	return meta
}

func decodeArtifacts(raw string) map[ArtifactKind]string {
	artifacts := map[ArtifactKind]string{}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return artifacts
	}
	for key, value := range decoded {
		artifacts[ArtifactKind(key)] = fmt.Sprint(value)
	}
	return artifacts
}

func parseTime(raw string) time.Time {
	ts, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func copyLimited(src, dst string, maxBytes int64) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	var reader io.Reader = in
	if maxBytes > 0 {
		reader = io.LimitReader(in, maxBytes+1)
	}
	counter := &countingReader{r: reader}
	if err := fileutil.WriteStream(dst, counter); err != nil {
		return fmt.Errorf("copy source: %w", err)
	}
	if maxBytes > 0 && counter.n > maxBytes {
		_ = os.Remove(dst)
		return services.Wrap(services.ErrValidation, "jobs", "create", "source exceeds max size", nil)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
