package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"reelhook/internal/config"
	"reelhook/internal/fileutil"
	"reelhook/internal/jobs"
	"reelhook/internal/media"
	"reelhook/internal/services"
	"reelhook/internal/testsupport"
)

type fakeMedia struct {
	mu        sync.Mutex
	calls     map[string]int
	meta      media.VideoMeta
	binaries  [2]string
	onExtract func(ctx context.Context) error
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{
		calls:    make(map[string]int),
		meta:     media.VideoMeta{Width: 720, Height: 1280, FPS: 30, Duration: 42, HasAudio: true},
		binaries: [2]string{"ffmpeg", "ffprobe"},
	}
}

func (f *fakeMedia) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeMedia) record(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeMedia) Binaries() (string, string) { return f.binaries[0], f.binaries[1] }

func (f *fakeMedia) Probe(ctx context.Context, path string) (media.VideoMeta, error) {
	f.record("probe")
	return f.meta, nil
}

func (f *fakeMedia) ExtractAudioClip(ctx context.Context, src string, seconds int, dest string) error {
	f.record("extract")
	if f.onExtract != nil {
		if err := f.onExtract(ctx); err != nil {
			return err
		}
	}
	return fileutil.WriteFile(dest, []byte(fmt.Sprintf("wav:%d", seconds)))
}

func (f *fakeMedia) Normalize(ctx context.Context, src string, target media.VideoMeta, dest string) error {
	f.record("normalize")
	return fileutil.WriteFile(dest, []byte("source-norm"))
}

func (f *fakeMedia) NormalizeAndPad(ctx context.Context, raw string, target media.VideoMeta, seconds int, dest string) error {
	f.record("pad")
	data, err := os.ReadFile(raw)
	if err != nil {
		return err
	}
	return fileutil.WriteFile(dest, append([]byte(fmt.Sprintf("padded:%d:", seconds)), data...))
}

func (f *fakeMedia) Concat(ctx context.Context, clip, main, dest string) error {
	f.record("concat")
	return fileutil.WriteFile(dest, []byte("final"))
}

type fakeRemote struct {
	mu         sync.Mutex
	calls      map[string]int
	transcript string
	script     string
	server     *httptest.Server
}

const validScript = `{"hook_title":"猫咪开会","visual_prompt":"一群猫坐在会议桌前","shot_list":["全景","特写"],` +
	`"narration":"今天的议题是罐头","style_tags":["荒诞"],"safety_notes":"无"}`

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	f := &fakeRemote{
		calls:      make(map[string]int),
		transcript: "你好世界",
		script:     "```json\n" + validScript + "\n```",
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRemote) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeRemote) reset() {
	f.mu.Lock()
	f.calls = make(map[string]int)
	f.mu.Unlock()
}

func (f *fakeRemote) serve(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path
	f.mu.Lock()
	f.calls[key]++
	transcript, scriptText := f.transcript, f.script
	f.mu.Unlock()

	switch key {
	case "POST /api/v3/auc/bigmodel/recognize/flash":
		_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"text": transcript}})
	case "POST /api/v3/chat/completions":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": scriptText}}},
		})
	case "POST /api/v3/contents/generations/tasks":
		_, _ = w.Write([]byte(`{"id":"t1"}`))
	case "GET /api/v3/contents/generations/tasks/t1":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "succeeded",
			"content": map[string]any{"video_url": f.server.URL + "/files/hook.mp4"},
		})
	case "GET /files/hook.mp4":
		_, _ = w.Write([]byte("hook-bytes"))
	default:
		http.NotFound(w, r)
	}
}

type harness struct {
	cfg    *config.Config
	store  *jobs.Store
	media  *fakeMedia
	remote *fakeRemote
	engine *Engine
	source string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	remote := newFakeRemote(t)
	cfg := testsupport.NewConfig(t,
		testsupport.WithBaseURL(remote.server.URL),
		testsupport.WithPolish(false),
		testsupport.WithStubbedBinaries(),
	)
	store := testsupport.MustOpenStore(t, cfg)
	engine, err := NewFromConfig(cfg, store, nil)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	fake := newFakeMedia()
	engine.media = fake

	source := filepath.Join(testsupport.BaseDir(cfg), "input", "episode.mp4")
	testsupport.WriteFile(t, source, 4096)
	return &harness{cfg: cfg, store: store, media: fake, remote: remote, engine: engine, source: source}
}

func (h *harness) create(t *testing.T) *jobs.Job {
	t.Helper()
	job, err := h.store.Create(context.Background(), jobs.CreateParams{
		SourceFile:      h.source,
		ASRClipSeconds:  15,
		HookClipSeconds: 5,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return job
}

func (h *harness) get(t *testing.T, id string) *jobs.Job {
	t.Helper()
	job, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return job
}

func (h *harness) runCompleted(t *testing.T) *jobs.Job {
	t.Helper()
	job := h.create(t)
	if err := h.engine.Execute(context.Background(), job.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return h.get(t, job.ID)
}

func TestExecuteEndToEnd(t *testing.T) {
	h := newHarness(t)
	job := h.runCompleted(t)

	if job.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", job.Status, job.ErrorMessage)
	}
	for _, kind := range jobs.ArtifactKinds {
		path, ok := job.Artifact(kind)
		if !ok || !fileutil.NonEmptyFile(path) {
			t.Fatalf("artifact %s missing or empty (%q)", kind, path)
		}
	}
	if job.Meta.VideoTaskID != "t1" {
		t.Fatalf("expected video task id t1, got %q", job.Meta.VideoTaskID)
	}
	if job.Meta.SourceMeta == nil || job.Meta.SourceMeta.Width != 720 {
		t.Fatalf("unexpected source meta %+v", job.Meta.SourceMeta)
	}
	raw, _ := job.Artifact(jobs.ArtifactTranscriptRaw)
	polished, _ := job.Artifact(jobs.ArtifactTranscriptPolished)
	for _, path := range []string{raw, polished} {
		if data, _ := os.ReadFile(path); string(data) != "你好世界" {
			t.Fatalf("unexpected transcript in %s: %q", path, data)
		}
	}
	hookNorm, _ := job.Artifact(jobs.ArtifactHookVideoNorm)
	if data, _ := os.ReadFile(hookNorm); string(data) != "padded:5:hook-bytes" {
		t.Fatalf("hook should be padded to 5s from the downloaded clip, got %q", data)
	}
	if h.remote.count("POST /api/v3/chat/completions") != 1 {
		t.Fatal("polish disabled: expected only the script generation call")
	}
	for _, name := range []string{asrResponseFile, scriptResponseFile, videoSubmitFile, videoPollFile, sourceMetaFile} {
		if !fileutil.NonEmptyFile(filepath.Join(h.store.JobDir(job.ID), name)) {
			t.Fatalf("expected %s to be written", name)
		}
	}

	events, err := h.store.ListEvents(context.Background(), job.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	var statuses []string
	for _, event := range events {
		statuses = append(statuses, string(event.Status))
	}
	want := "queued preprocessing asr transcript_polish script_gen video_submit video_polling postprocess completed"
	if got := strings.Join(statuses, " "); got != want {
		t.Fatalf("events = %q, want %q", got, want)
	}
}

func TestExecuteWithPolishEnabled(t *testing.T) {
	h := newHarness(t)
	h.cfg.Pipeline.EnableASRPolish = true
	job := h.runCompleted(t)
	if job.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", job.Status, job.ErrorMessage)
	}
	if h.remote.count("POST /api/v3/chat/completions") != 2 {
		t.Fatal("expected polish and script generation calls")
	}
	if !fileutil.NonEmptyFile(filepath.Join(h.store.JobDir(job.ID), polishResponseFile)) {
		t.Fatal("expected polish response to be written")
	}
}

// producedBy lists the artifact kinds each skippable stage owns.
var producedBy = map[jobs.Stage][]jobs.ArtifactKind{
	jobs.StageASR:              {jobs.ArtifactASRClipAudio, jobs.ArtifactTranscriptRaw},
	jobs.StageTranscriptPolish: {jobs.ArtifactTranscriptPolished},
	jobs.StageScriptGen:        {jobs.ArtifactHookScriptJSON},
	jobs.StageVideoPolling:     {jobs.ArtifactHookVideoRaw},
}

func TestRerunFromEachStageReusesParentArtifacts(t *testing.T) {
	for _, start := range jobs.Stages {
		t.Run(string(start), func(t *testing.T) {
			h := newHarness(t)
			parent := h.runCompleted(t)
			ctx := context.Background()

			rerun, err := h.store.CreateRerun(ctx, jobs.RerunParams{ParentID: parent.ID, StartStage: string(start)})
			if err != nil {
				t.Fatalf("CreateRerun: %v", err)
			}
			h.remote.reset()
			probesBefore := h.media.count("probe")
			extractsBefore := h.media.count("extract")

			if err := h.engine.Execute(ctx, rerun.ID); err != nil {
				t.Fatalf("Execute rerun: %v", err)
			}
			got := h.get(t, rerun.ID)
			if got.Status != jobs.StatusCompleted {
				t.Fatalf("expected completed, got %s", got.Status)
			}

			ran := func(stage jobs.Stage) int {
				if stage.Before(start) {
					return 0
				}
				return 1
			}
			checks := map[string][2]int{
				"probe":   {h.media.count("probe") - probesBefore, ran(jobs.StagePreprocessing)},
				"extract": {h.media.count("extract") - extractsBefore, ran(jobs.StageASR)},
				"asr":     {h.remote.count("POST /api/v3/auc/bigmodel/recognize/flash"), ran(jobs.StageASR)},
				"llm":     {h.remote.count("POST /api/v3/chat/completions"), ran(jobs.StageScriptGen)},
				"submit":  {h.remote.count("POST /api/v3/contents/generations/tasks"), ran(jobs.StageVideoSubmit)},
				"poll":    {h.remote.count("GET /api/v3/contents/generations/tasks/t1"), ran(jobs.StageVideoPolling)},
			}
			for name, pair := range checks {
				if pair[0] != pair[1] {
					t.Fatalf("%s calls = %d, want %d", name, pair[0], pair[1])
				}
			}

			for stage, kinds := range producedBy {
				if !stage.Before(start) {
					continue
				}
				for _, kind := range kinds {
					parentPath, _ := parent.Artifact(kind)
					childPath, ok := got.Artifact(kind)
					if !ok {
						t.Fatalf("rerun missing reused artifact %s", kind)
					}
					if !strings.HasPrefix(childPath, h.store.JobDir(rerun.ID)) {
						t.Fatalf("reused %s should be copied into the rerun directory, got %s", kind, childPath)
					}
					parentData, _ := os.ReadFile(parentPath)
					childData, _ := os.ReadFile(childPath)
					if !bytes.Equal(parentData, childData) {
						t.Fatalf("reused %s differs from parent", kind)
					}
				}
			}
			if got.Meta.VideoTaskID != "t1" || got.Meta.SourceMeta == nil {
				t.Fatalf("rerun meta should carry task id and source meta: %+v", got.Meta)
			}
			if got.Meta.RerunOfJobID != parent.ID {
				t.Fatalf("rerun lineage lost: %+v", got.Meta)
			}
		})
	}
}

func TestExecuteMissingJob(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.Execute(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRerunFailsWhenParentMissing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	parent := h.runCompleted(t)
	rerun, err := h.store.CreateRerun(ctx, jobs.RerunParams{ParentID: parent.ID, StartStage: "script_gen"})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.store.Delete(ctx, parent.ID, false); err != nil {
		t.Fatal(err)
	}

	err = h.engine.Execute(ctx, rerun.ID)
	var pipelineErr *services.PipelineError
	if !errors.As(err, &pipelineErr) {
		t.Fatalf("expected PipelineError, got %v", err)
	}
	got := h.get(t, rerun.ID)
	if got.Status != jobs.StatusFailed || !strings.Contains(got.ErrorMessage, parent.ID) {
		t.Fatalf("expected failed job naming parent, got %s %q", got.Status, got.ErrorMessage)
	}
}

func TestRerunFailsWhenRequiredArtifactMissing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	parent := h.runCompleted(t)
	transcript, _ := parent.Artifact(jobs.ArtifactTranscriptRaw)
	if err := os.Remove(transcript); err != nil {
		t.Fatal(err)
	}
	rerun, err := h.store.CreateRerun(ctx, jobs.RerunParams{ParentID: parent.ID, StartStage: "video_submit"})
	if err != nil {
		t.Fatal(err)
	}
	h.remote.reset()

	if err := h.engine.Execute(ctx, rerun.ID); err == nil {
		t.Fatal("expected failure")
	}
	got := h.get(t, rerun.ID)
	if got.Status != jobs.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	for _, want := range []string{"transcript_raw", parent.ID} {
		if !strings.Contains(got.ErrorMessage, want) {
			t.Fatalf("expected %q in error %q", want, got.ErrorMessage)
		}
	}
	if h.remote.count("POST /api/v3/contents/generations/tasks") != 0 {
		t.Fatal("later stages must not run after a reuse failure")
	}
}

func TestExecuteFailsOnEmptyTranscript(t *testing.T) {
	h := newHarness(t)
	h.remote.transcript = "   "
	job := h.create(t)

	err := h.engine.Execute(context.Background(), job.ID)
	var pipelineErr *services.PipelineError
	if !errors.As(err, &pipelineErr) {
		t.Fatalf("expected PipelineError, got %v", err)
	}
	got := h.get(t, job.ID)
	if got.Status != jobs.StatusFailed || !strings.Contains(got.ErrorMessage, "empty transcript") {
		t.Fatalf("unexpected state %s %q", got.Status, got.ErrorMessage)
	}
	if _, ok := got.Artifact(jobs.ArtifactTranscriptRaw); ok {
		t.Fatal("no transcript artifact should be recorded")
	}
	events, _ := h.store.ListEvents(context.Background(), job.ID, 0)
	if last := events[len(events)-1]; last.Status != jobs.StatusFailed {
		t.Fatalf("expected failed event last, got %+v", last)
	}
}

func TestExecuteFailsOnInvalidScript(t *testing.T) {
	h := newHarness(t)
	h.remote.script = `{"hook_title":"only"}`
	job := h.create(t)

	err := h.engine.Execute(context.Background(), job.ID)
	var schemaErr *services.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	got := h.get(t, job.ID)
	if !strings.HasPrefix(got.ErrorMessage, "missing fields: narration, safety_notes") {
		t.Fatalf("unexpected error message %q", got.ErrorMessage)
	}
}

func TestExecuteUnknownStartStageRunsEverything(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.create(t)
	if err := h.store.PatchMeta(ctx, job.ID, jobs.Meta{RerunStartStage: "bogus"}); err != nil {
		t.Fatal(err)
	}
	if err := h.engine.Execute(ctx, job.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if h.media.count("probe") != 1 || h.remote.count("POST /api/v3/auc/bigmodel/recognize/flash") != 1 {
		t.Fatal("unknown start stage should run from preprocessing")
	}
}

func TestExecuteRequiresMediaTools(t *testing.T) {
	h := newHarness(t)
	h.media.binaries = [2]string{"reelhook-missing-ffmpeg", "ffprobe"}
	job := h.create(t)

	if err := h.engine.Execute(context.Background(), job.ID); err == nil {
		t.Fatal("expected failure when ffmpeg is missing")
	}
	got := h.get(t, job.ID)
	if !strings.Contains(got.ErrorMessage, "reelhook-missing-ffmpeg") {
		t.Fatalf("unexpected error %q", got.ErrorMessage)
	}
	if h.media.count("probe") != 0 {
		t.Fatal("no stage should run without media tools")
	}
}

func TestExecuteInterruptedJobStaysResumable(t *testing.T) {
	h := newHarness(t)
	job := h.create(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.media.onExtract = func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}

	if err := h.engine.Execute(ctx, job.ID); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	got := h.get(t, job.ID)
	if got.Status != jobs.StageASR.Status() || got.ErrorMessage != "" {
		t.Fatalf("expected job left in asr without error, got %s %q", got.Status, got.ErrorMessage)
	}

	requeued, err := h.store.ResetRunning(context.Background())
	if err != nil {
		t.Fatalf("ResetRunning: %v", err)
	}
	if len(requeued) != 1 || requeued[0] != job.ID {
		t.Fatalf("expected %s to be requeued, got %v", job.ID, requeued)
	}

	h.media.onExtract = nil
	if err := h.engine.Execute(context.Background(), job.ID); err != nil {
		t.Fatalf("Execute after requeue: %v", err)
	}
	if final := h.get(t, job.ID); final.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed after resume, got %s", final.Status)
	}
}
