package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"reelhook/internal/config"
	"reelhook/internal/deps"
	"reelhook/internal/jobs"
	"reelhook/internal/logging"
	"reelhook/internal/media"
	"reelhook/internal/services"
	"reelhook/internal/services/asr"
	"reelhook/internal/services/llm"
	"reelhook/internal/services/videogen"
)

// JobStateStore is the job persistence the engine needs.
type JobStateStore interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
	SetStatus(ctx context.Context, id string, status jobs.Status, message string) error
	SetError(ctx context.Context, id string, message string) error
	ClearError(ctx context.Context, id string) error
	PutArtifact(ctx context.Context, id string, kind jobs.ArtifactKind, path string) error
	PatchMeta(ctx context.Context, id string, patch jobs.Meta) error
	AppendEvent(ctx context.Context, id string, status jobs.Status, message string) error
	JobDir(id string) string
}

// MediaProcessor probes and transforms local media files.
type MediaProcessor interface {
	Binaries() (ffmpeg, ffprobe string)
	Probe(ctx context.Context, path string) (media.VideoMeta, error)
	ExtractAudioClip(ctx context.Context, src string, seconds int, dest string) error
	Normalize(ctx context.Context, src string, target media.VideoMeta, dest string) error
	NormalizeAndPad(ctx context.Context, raw string, target media.VideoMeta, seconds int, dest string) error
	Concat(ctx context.Context, clip, main, dest string) error
}

// Recognizer transcribes audio.
type Recognizer interface {
	Recognize(ctx context.Context, audioPath string) (asr.Result, error)
}

// TextGenerator runs chat completions.
type TextGenerator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (llm.Completion, error)
}

// VideoGenerator creates and fetches remote video clips.
type VideoGenerator interface {
	Submit(ctx context.Context, req videogen.Request) (videogen.Submission, error)
	Poll(ctx context.Context, taskID string) (any, error)
	Download(ctx context.Context, rawURL, dest string) error
}

// Options wires an Engine.
type Options struct {
	Config *config.Config
	Store  JobStateStore
	Media  MediaProcessor
	ASR    Recognizer
	LLM    TextGenerator
	Video  VideoGenerator
	Logger *slog.Logger
}

// Engine executes jobs.
type Engine struct {
	cfg    *config.Config
	store  JobStateStore
	media  MediaProcessor
	asr    Recognizer
	llm    TextGenerator
	video  VideoGenerator
	logger *slog.Logger
	steps  []step
}

// NewEngine validates opts and returns an Engine.
func NewEngine(opts Options) (*Engine, error) {
	switch {
	case opts.Config == nil:
		return nil, errors.New("pipeline: config is required")
	case opts.Store == nil:
		return nil, errors.New("pipeline: job store is required")
	case opts.Media == nil:
		return nil, errors.New("pipeline: media processor is required")
	case opts.ASR == nil || opts.LLM == nil || opts.Video == nil:
		return nil, errors.New("pipeline: asr, llm, and video clients are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		cfg:    opts.Config,
		store:  opts.Store,
		media:  opts.Media,
		asr:    opts.ASR,
		llm:    opts.LLM,
		video:  opts.Video,
		logger: logging.NewComponentLogger(logger, "pipeline"),
		steps:  steps(),
	}, nil
}

// Execute runs jobID to a terminal state. A missing job returns an error
// wrapping services.ErrNotFound without touching the store. Cancelling ctx
// leaves the job in its current stage status; any other failure is recorded
// on the job before being returned.
func (e *Engine) Execute(ctx context.Context, jobID string) error {
	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	ctx = services.WithJobID(ctx, job.ID)
	logger := logging.WithContext(ctx, e.logger)

	if err := e.execute(ctx, logger, job); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			// Leave the stage status in place so ResetRunning requeues the job.
			logger.Warn("job interrupted, resumes on next start",
				logging.String(logging.FieldEventType, "job_interrupted"),
				logging.Error(err),
			)
			return err
		}
		logging.ErrorWithContext(logger, "job failed", "job_failure", logging.Error(err))
		if recordErr := e.store.SetError(context.WithoutCancel(ctx), job.ID, strings.TrimSpace(err.Error())); recordErr != nil {
			logger.Error("failed to persist job failure", logging.Error(recordErr))
		}
		return err
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, logger *slog.Logger, job *jobs.Job) error {
	dir := e.store.JobDir(job.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create job directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock job directory: %w", err)
	}
	if !locked {
		return services.NewPipelineError("", "job %s is already running", job.ID)
	}
	defer func() { _ = lock.Unlock() }()

	if err := e.store.ClearError(ctx, job.ID); err != nil {
		return err
	}

	r := &run{engine: e, job: job, dir: dir, logger: logger}
	r.start = resolveStartStage(job.Meta.RerunStartStage)
	if raw := strings.TrimSpace(job.Meta.RerunStartStage); raw != "" && !strings.EqualFold(raw, string(r.start)) {
		logger.Warn("unknown rerun start stage, starting from preprocessing",
			logging.String("requested_stage", raw),
			logging.String(logging.FieldEventType, "start_stage_fallback"),
		)
	}

	if parentID := strings.TrimSpace(job.Meta.RerunOfJobID); parentID != "" {
		parent, err := e.store.Get(ctx, parentID)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				return services.NewPipelineError("", "rerun parent job %s not found", parentID)
			}
			return err
		}
		r.parent = parent
		message := fmt.Sprintf("rerun starting at %s, reusing artifacts from job %s", r.start, parentID)
		if err := e.store.AppendEvent(ctx, job.ID, jobs.StatusQueued, message); err != nil {
			return err
		}
	}

	if _, err := os.Stat(job.SourcePath); err != nil {
		return services.NewPipelineError("", "source video not found: %s", job.SourcePath)
	}
	ffmpeg, ffprobe := e.media.Binaries()
	if missing := deps.Missing(deps.CheckBinaries(deps.MediaRequirements(ffmpeg, ffprobe))); len(missing) > 0 {
		return services.NewPipelineError("", "media tools unavailable: %s", strings.Join(missing, ", "))
	}
	if err := e.store.PutArtifact(ctx, job.ID, jobs.ArtifactSourceVideo, job.SourcePath); err != nil {
		return err
	}

	for _, s := range e.steps {
		if err := r.runStep(ctx, s); err != nil {
			return err
		}
	}

	if err := e.store.SetStatus(ctx, job.ID, jobs.StatusCompleted, "job completed, final video written"); err != nil {
		return err
	}
	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.String("final_video", filepath.Join(dir, finalVideoFile)),
	)
	return nil
}

// resolveStartStage maps the recorded start stage onto a Stage. Unknown or
// empty values start from preprocessing.
func resolveStartStage(value string) jobs.Stage {
	if stage, ok := jobs.ParseStage(value); ok {
		return stage
	}
	return jobs.StagePreprocessing
}
