package jobs

import (
	"encoding/json"
	"strings"
	"time"

	"reelhook/internal/media"
)

// Stage is a pipeline step.
type Stage string

const (
	StagePreprocessing    Stage = "preprocessing"
	StageASR              Stage = "asr"
	StageTranscriptPolish Stage = "transcript_polish"
	StageScriptGen        Stage = "script_gen"
	StageVideoSubmit      Stage = "video_submit"
	StageVideoPolling     Stage = "video_polling"
	StagePostprocess      Stage = "postprocess"
)

// Stages lists every stage in execution order.
var Stages = []Stage{
	StagePreprocessing,
	StageASR,
	StageTranscriptPolish,
	StageScriptGen,
	StageVideoSubmit,
	StageVideoPolling,
	StagePostprocess,
}

// Index returns the stage's position in Stages, or -1.
func (s Stage) Index() int {
	for i, stage := range Stages {
		if stage == s {
			return i
		}
	}
	return -1
}

// Before reports whether s runs strictly before other.
func (s Stage) Before(other Stage) bool {
	return s.Index() >= 0 && other.Index() >= 0 && s.Index() < other.Index()
}

// Status returns the job status a job carries while the stage runs.
func (s Stage) Status() Status { return Status(s) }

// ParseStage resolves a stage name case-insensitively.
func ParseStage(value string) (Stage, bool) {
	candidate := Stage(strings.ToLower(strings.TrimSpace(value)))
	if candidate.Index() < 0 {
		return "", false
	}
	return candidate, true
}

// Status is the lifecycle value stored on a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// IsTerminal reports whether the job has finished.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// IsRunning reports whether the status names a pipeline stage.
func (s Status) IsRunning() bool {
	return Stage(s).Index() >= 0
}

// RunningStatuses lists the statuses that mean a worker owns the job.
func RunningStatuses() []Status {
	out := make([]Status, 0, len(Stages))
	for _, stage := range Stages {
		out = append(out, stage.Status())
	}
	return out
}

// ArtifactKind names a file a job produces.
type ArtifactKind string

const (
	ArtifactSourceVideo        ArtifactKind = "source_video"
	ArtifactASRClipAudio       ArtifactKind = "asr_clip_audio"
	ArtifactTranscriptRaw      ArtifactKind = "transcript_raw"
	ArtifactTranscriptPolished ArtifactKind = "transcript_polished"
	ArtifactHookScriptJSON     ArtifactKind = "hook_script_json"
	ArtifactHookVideoRaw       ArtifactKind = "hook_video_raw"
	ArtifactHookVideoNorm      ArtifactKind = "hook_video_norm"
	ArtifactFinalVideo         ArtifactKind = "final_video"
)

// ArtifactKinds lists every artifact kind in production order.
var ArtifactKinds = []ArtifactKind{
	ArtifactSourceVideo,
	ArtifactASRClipAudio,
	ArtifactTranscriptRaw,
	ArtifactTranscriptPolished,
	ArtifactHookScriptJSON,
	ArtifactHookVideoRaw,
	ArtifactHookVideoNorm,
	ArtifactFinalVideo,
}

// Job is a persisted pipeline run.
type Job struct {
	ID              string
	ProjectName     string
	InputFilename   string
	SourcePath      string
	ASRClipSeconds  int
	HookClipSeconds int
	Status          Status
	ErrorMessage    string
	Artifacts       map[ArtifactKind]string
	Meta            Meta
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Artifact returns the recorded path for kind.
func (j *Job) Artifact(kind ArtifactKind) (string, bool) {
	if j == nil || j.Artifacts == nil {
		return "", false
	}
	path, ok := j.Artifacts[kind]
	return path, ok && path != ""
}

// Event is one entry in a job's append-only log.
type Event struct {
	ID        int64
	JobID     string
	Status    Status
	Message   string
	CreatedAt time.Time
}

// Meta carries typed job metadata. Keys this version does not know survive a
// round trip through Extra.
type Meta struct {
	SourceMeta      *media.VideoMeta
	VideoTaskID     string
	RerunOfJobID    string
	RerunStartStage string
	Extra           map[string]json.RawMessage
}

const (
	metaKeySourceMeta      = "source_meta"
	metaKeyVideoTaskID     = "video_task_id"
	metaKeyRerunOfJobID    = "rerun_of_job_id"
	metaKeyRerunStartStage = "rerun_start_stage"
)

// MarshalJSON encodes known fields under their wire keys alongside Extra.
func (m Meta) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+4)
	for key, value := range m.Extra {
		out[key] = value
	}
	if m.SourceMeta != nil {
		out[metaKeySourceMeta] = m.SourceMeta
	}
	if m.VideoTaskID != "" {
		out[metaKeyVideoTaskID] = m.VideoTaskID
	}
	if m.RerunOfJobID != "" {
		out[metaKeyRerunOfJobID] = m.RerunOfJobID
	}
	if m.RerunStartStage != "" {
		out[metaKeyRerunStartStage] = m.RerunStartStage
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes known wire keys and keeps the rest in Extra.
func (m *Meta) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Meta{}
	for key, value := range raw {
		var err error
		switch key {
		case metaKeySourceMeta:
			if string(value) != "null" {
				m.SourceMeta = &media.VideoMeta{}
				err = json.Unmarshal(value, m.SourceMeta)
			}
		case metaKeyVideoTaskID:
			err = json.Unmarshal(value, &m.VideoTaskID)
		case metaKeyRerunOfJobID:
			err = json.Unmarshal(value, &m.RerunOfJobID)
		case metaKeyRerunStartStage:
			err = json.Unmarshal(value, &m.RerunStartStage)
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]json.RawMessage)
			}
			m.Extra[key] = value
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Merge overlays the non-zero fields of patch onto m.
func (m *Meta) Merge(patch Meta) {
	if patch.SourceMeta != nil {
		copied := *patch.SourceMeta
		m.SourceMeta = &copied
	}
	if patch.VideoTaskID != "" {
		m.VideoTaskID = patch.VideoTaskID
	}
	if patch.RerunOfJobID != "" {
		m.RerunOfJobID = patch.RerunOfJobID
	}
	if patch.RerunStartStage != "" {
		m.RerunStartStage = patch.RerunStartStage
	}
	for key, value := range patch.Extra {
		if m.Extra == nil {
			m.Extra = make(map[string]json.RawMessage)
		}
		m.Extra[key] = value
	}
}

// HealthSummary counts jobs by lifecycle bucket.
type HealthSummary struct {
	Total     int
	Queued    int
	Running   int
	Completed int
	Failed    int
	Canceled  int
}
