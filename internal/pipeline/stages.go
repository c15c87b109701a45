package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reelhook/internal/fileutil"
	"reelhook/internal/jobs"
	"reelhook/internal/logging"
	"reelhook/internal/media"
	"reelhook/internal/script"
	"reelhook/internal/services"
	"reelhook/internal/services/asr"
	"reelhook/internal/services/llm"
	"reelhook/internal/services/videogen"
)

const (
	sourceMetaFile         = "source_meta.json"
	asrClipFile            = "asr_clip.wav"
	asrResponseFile        = "asr_response.json"
	transcriptRawFile      = "transcript_raw.txt"
	polishResponseFile     = "transcript_polish_response.json"
	transcriptPolishedFile = "transcript_polished.txt"
	scriptResponseFile     = "script_gen_response.json"
	hookScriptFile         = "hook_script.json"
	videoSubmitFile        = "video_submit_response.json"
	videoPollFile          = "video_poll_response.json"
	hookVideoRawFile       = "hook_video_raw.mp4"
	hookVideoNormFile      = "hook_video_norm.mp4"
	sourceVideoNormFile    = "source_video_norm.mp4"
	finalVideoFile         = "final_video.mp4"
)

// step describes one stage. A nil reuse marks a stage that always runs.
type step struct {
	stage       jobs.Stage
	message     func(*run) string
	skipMessage string
	exec        func(*run, context.Context) error
	reuse       func(*run, context.Context) error
}

func fixed(message string) func(*run) string {
	return func(*run) string { return message }
}

func steps() []step {
	return []step{
		{
			stage:       jobs.StagePreprocessing,
			message:     fixed("probing source video"),
			skipMessage: "skipping preprocessing, reusing parent metadata",
			exec:        (*run).preprocess,
			reuse:       (*run).reusePreprocess,
		},
		{
			stage:       jobs.StageASR,
			message:     fixed("extracting audio clip and running speech recognition"),
			skipMessage: "skipping speech recognition, reusing parent transcript",
			exec:        (*run).recognize,
			reuse:       (*run).reuseRecognize,
		},
		{
			stage: jobs.StageTranscriptPolish,
			message: func(r *run) string {
				if r.engine.cfg.Pipeline.EnableASRPolish {
					return "polishing transcript"
				}
				return "transcript polish disabled, using raw transcript"
			},
			skipMessage: "skipping transcript polish, reusing parent text",
			exec:        (*run).polish,
			reuse:       (*run).reusePolish,
		},
		{
			stage:       jobs.StageScriptGen,
			message:     fixed("generating hook script"),
			skipMessage: "skipping script generation, reusing parent script",
			exec:        (*run).generateScript,
			reuse:       (*run).reuseScript,
		},
		{
			stage:       jobs.StageVideoSubmit,
			message:     fixed("submitting video generation task"),
			skipMessage: "skipping video submit, reusing parent task id",
			exec:        (*run).submitVideo,
			reuse:       (*run).reuseSubmit,
		},
		{
			stage:       jobs.StageVideoPolling,
			message:     func(r *run) string { return "polling video task " + r.taskID },
			skipMessage: "skipping video polling, reusing parent hook video",
			exec:        (*run).pollVideo,
			reuse:       (*run).reusePoll,
		},
		{
			stage:   jobs.StagePostprocess,
			message: fixed("normalizing hook and concatenating final video"),
			exec:    (*run).postprocess,
		},
	}
}

// run carries the state one Execute call threads between stages.
type run struct {
	engine *Engine
	job    *jobs.Job
	parent *jobs.Job
	dir    string
	start  jobs.Stage
	logger *slog.Logger

	sourceMeta media.VideoMeta
	transcript string
	polished   string
	script     script.Script
	taskID     string
	hookRaw    string
}

func (r *run) runStep(ctx context.Context, s step) error {
	ctx = services.WithStage(ctx, string(s.stage))
	logger := logging.WithContext(ctx, r.engine.logger)
	skip := s.reuse != nil && s.stage.Before(r.start)

	message := s.skipMessage
	if !skip {
		message = s.message(r)
	}
	if err := r.engine.store.SetStatus(ctx, r.job.ID, s.stage.Status(), message); err != nil {
		return fmt.Errorf("persist %s transition: %w", s.stage, err)
	}

	started := time.Now()
	if skip {
		logger.Info("stage reused", logging.String(logging.FieldEventType, "stage_reuse"), logging.String("parent_job_id", r.parentID()))
		if err := s.reuse(r, ctx); err != nil {
			logging.ErrorWithContext(logger, "stage reuse failed", "stage_failure", logging.Error(err))
			return err
		}
		return nil
	}

	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"), logging.String("message", message))
	if err := s.exec(r, ctx); err != nil {
		logging.ErrorWithContext(logger, "stage failed", "stage_failure", logging.Error(err))
		return err
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

func (r *run) parentID() string {
	return strings.TrimSpace(r.job.Meta.RerunOfJobID)
}

func (r *run) path(name string) string {
	return filepath.Join(r.dir, name)
}

func (r *run) putArtifact(ctx context.Context, kind jobs.ArtifactKind, path string) error {
	return r.engine.store.PutArtifact(ctx, r.job.ID, kind, path)
}

// preprocessing

func (r *run) preprocess(ctx context.Context) error {
	meta, err := r.engine.media.Probe(ctx, r.job.SourcePath)
	if err != nil {
		return err
	}
	return r.recordSourceMeta(ctx, meta)
}

func (r *run) reusePreprocess(ctx context.Context) error {
	if r.parent != nil && r.parent.Meta.SourceMeta != nil && r.parent.Meta.SourceMeta.Complete() {
		return r.recordSourceMeta(ctx, *r.parent.Meta.SourceMeta)
	}
	r.logger.Warn("parent source metadata unusable, probing source",
		logging.String(logging.FieldEventType, "source_meta_fallback"))
	return r.preprocess(ctx)
}

func (r *run) recordSourceMeta(ctx context.Context, meta media.VideoMeta) error {
	r.sourceMeta = meta
	if err := fileutil.WriteJSON(r.path(sourceMetaFile), meta); err != nil {
		return err
	}
	return r.engine.store.PatchMeta(ctx, r.job.ID, jobs.Meta{SourceMeta: &meta})
}

// asr

func (r *run) recognize(ctx context.Context) error {
	clip := r.path(asrClipFile)
	if err := r.engine.media.ExtractAudioClip(ctx, r.job.SourcePath, r.job.ASRClipSeconds, clip); err != nil {
		return err
	}
	if err := r.putArtifact(ctx, jobs.ArtifactASRClipAudio, clip); err != nil {
		return err
	}
	result, err := r.engine.asr.Recognize(ctx, clip)
	if err != nil {
		return err
	}
	if err := fileutil.WriteJSON(r.path(asrResponseFile), result.Payload); err != nil {
		return err
	}
	transcript := strings.TrimSpace(asr.Transcript(result.Payload))
	if transcript == "" {
		return services.NewPipelineError(string(jobs.StageASR), "speech recognition returned an empty transcript")
	}
	r.transcript = transcript
	return r.writeText(ctx, jobs.ArtifactTranscriptRaw, transcriptRawFile, transcript)
}

func (r *run) reuseRecognize(ctx context.Context) error {
	if _, err := r.reuseArtifact(ctx, jobs.ArtifactASRClipAudio, asrClipFile, false); err != nil {
		return err
	}
	path, err := r.reuseArtifact(ctx, jobs.ArtifactTranscriptRaw, transcriptRawFile, true)
	if err != nil {
		return err
	}
	r.transcript, err = readText(path, jobs.StageASR, "reused transcript is empty")
	return err
}

// transcript_polish

func (r *run) polish(ctx context.Context) error {
	polished := r.transcript
	if r.engine.cfg.Pipeline.EnableASRPolish {
		completion, err := r.engine.llm.Generate(ctx, r.engine.cfg.PolishSystemPrompt(), script.PolishPrompt(r.transcript), script.PolishTemperature)
		if err != nil {
			return err
		}
		if err := fileutil.WriteJSON(r.path(polishResponseFile), completion.Payload); err != nil {
			return err
		}
		if text := strings.TrimSpace(completion.Text); text != "" {
			polished = text
		}
	}
	r.polished = polished
	return r.writeText(ctx, jobs.ArtifactTranscriptPolished, transcriptPolishedFile, polished)
}

func (r *run) reusePolish(ctx context.Context) error {
	path, err := r.reuseArtifact(ctx, jobs.ArtifactTranscriptPolished, transcriptPolishedFile, true)
	if err != nil {
		return err
	}
	r.polished, err = readText(path, jobs.StageTranscriptPolish, "reused polished transcript is empty")
	return err
}

// script_gen

func (r *run) generateScript(ctx context.Context) error {
	cfg := r.engine.cfg
	completion, err := r.engine.llm.Generate(ctx, cfg.LLM.ScriptSystemPrompt, script.GenerationPrompt(r.polished, r.job.HookClipSeconds), cfg.LLM.Temperature)
	if err != nil {
		return err
	}
	if err := fileutil.WriteJSON(r.path(scriptResponseFile), completion.Payload); err != nil {
		return err
	}
	payload, err := llm.ExtractFirstJSONObject(completion.Text)
	if err != nil {
		return &services.PipelineError{Stage: string(jobs.StageScriptGen), Message: "script generation returned no JSON object", Err: err}
	}
	validated, err := script.ValidatePayload(payload)
	if err != nil {
		return err
	}
	r.script = validated
	path := r.path(hookScriptFile)
	if err := fileutil.WriteJSON(path, payload); err != nil {
		return err
	}
	return r.putArtifact(ctx, jobs.ArtifactHookScriptJSON, path)
}

func (r *run) reuseScript(ctx context.Context) error {
	path, err := r.reuseArtifact(ctx, jobs.ArtifactHookScriptJSON, hookScriptFile, true)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return &services.PipelineError{Stage: string(jobs.StageScriptGen), Message: "read reused hook script", Err: err}
	}
	parsed, err := script.Parse(data)
	if err != nil {
		return &services.PipelineError{Stage: string(jobs.StageScriptGen), Message: "reused hook script is invalid", Err: err}
	}
	r.script = parsed
	return nil
}

// video_submit

func (r *run) submitVideo(ctx context.Context) error {
	submission, err := r.engine.video.Submit(ctx, videogen.Request{
		Prompt:          script.VideoPrompt(r.engine.cfg.Video.SystemPrompt, r.script),
		DurationSeconds: r.job.HookClipSeconds,
		Width:           r.sourceMeta.Width,
		Height:          r.sourceMeta.Height,
	})
	if err != nil {
		return err
	}
	if len(submission.Attempts) > 0 {
		r.logger.Info("video submit needed payload fallbacks", logging.Int("rejected_variants", len(submission.Attempts)))
	}
	if err := fileutil.WriteJSON(r.path(videoSubmitFile), submission.Payload); err != nil {
		return err
	}
	r.taskID = submission.TaskID
	return r.engine.store.PatchMeta(ctx, r.job.ID, jobs.Meta{VideoTaskID: submission.TaskID})
}

func (r *run) reuseSubmit(ctx context.Context) error {
	var taskID string
	if r.parent != nil {
		taskID = strings.TrimSpace(r.parent.Meta.VideoTaskID)
	}
	if taskID == "" {
		return services.NewPipelineError(string(jobs.StageVideoSubmit),
			"rerun starting at %s needs video_task_id but parent job %s has none", r.start, r.parentID())
	}
	r.taskID = taskID
	return r.engine.store.PatchMeta(ctx, r.job.ID, jobs.Meta{VideoTaskID: taskID})
}

// video_polling

func (r *run) pollVideo(ctx context.Context) error {
	payload, err := r.engine.video.Poll(ctx, r.taskID)
	if err != nil {
		return err
	}
	if err := fileutil.WriteJSON(r.path(videoPollFile), payload); err != nil {
		return err
	}
	videoURL, err := videogen.VideoURL(payload)
	if err != nil {
		return err
	}
	dest := r.path(hookVideoRawFile)
	if err := r.engine.video.Download(ctx, videoURL, dest); err != nil {
		return err
	}
	r.hookRaw = dest
	return r.putArtifact(ctx, jobs.ArtifactHookVideoRaw, dest)
}

func (r *run) reusePoll(ctx context.Context) error {
	path, err := r.reuseArtifact(ctx, jobs.ArtifactHookVideoRaw, hookVideoRawFile, true)
	if err != nil {
		return err
	}
	r.hookRaw = path
	return nil
}

// postprocess

func (r *run) postprocess(ctx context.Context) error {
	m := r.engine.media
	sourceNorm := r.path(sourceVideoNormFile)
	if err := m.Normalize(ctx, r.job.SourcePath, r.sourceMeta, sourceNorm); err != nil {
		return err
	}
	hookNorm := r.path(hookVideoNormFile)
	if err := m.NormalizeAndPad(ctx, r.hookRaw, r.sourceMeta, r.job.HookClipSeconds, hookNorm); err != nil {
		return err
	}
	if err := r.putArtifact(ctx, jobs.ArtifactHookVideoNorm, hookNorm); err != nil {
		return err
	}
	final := r.path(finalVideoFile)
	if err := m.Concat(ctx, hookNorm, sourceNorm, final); err != nil {
		return err
	}
	return r.putArtifact(ctx, jobs.ArtifactFinalVideo, final)
}

// reuseArtifact copies the parent's artifact of kind into this job's
// directory and records it. Missing optional artifacts return "".
func (r *run) reuseArtifact(ctx context.Context, kind jobs.ArtifactKind, name string, required bool) (string, error) {
	var source string
	if r.parent != nil {
		source, _ = r.parent.Artifact(kind)
	}
	if source == "" {
		if required {
			return "", services.NewPipelineError("", "rerun requires artifact %s but parent job %s has none", kind, r.parentID())
		}
		return "", nil
	}
	if _, err := os.Stat(source); err != nil {
		if required {
			return "", services.NewPipelineError("", "rerun requires artifact %s from parent job %s but the file is missing: %s", kind, r.parentID(), source)
		}
		return "", nil
	}
	target := r.path(name)
	if err := fileutil.CopyFile(source, target); err != nil {
		return "", fmt.Errorf("copy %s from parent: %w", kind, err)
	}
	if err := r.putArtifact(ctx, kind, target); err != nil {
		return "", err
	}
	return target, nil
}

func (r *run) writeText(ctx context.Context, kind jobs.ArtifactKind, name, content string) error {
	path := r.path(name)
	if err := fileutil.WriteFile(path, []byte(content)); err != nil {
		return err
	}
	return r.putArtifact(ctx, kind, path)
}

func readText(path string, stage jobs.Stage, emptyMessage string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &services.PipelineError{Stage: string(stage), Message: emptyMessage, Err: err}
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", services.NewPipelineError(string(stage), "%s", emptyMessage)
	}
	return text, nil
}
