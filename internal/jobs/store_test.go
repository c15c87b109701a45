package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"reelhook/internal/jobs"
	"reelhook/internal/media"
	"reelhook/internal/services"
	"reelhook/internal/testsupport"
)

func newStore(t *testing.T) (*jobs.Store, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	store.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	src := filepath.Join(testsupport.BaseDir(cfg), "input", "clip.mp4")
	testsupport.WriteFile(t, src, 2048)
	return store, src
}

func createJob(t *testing.T, store *jobs.Store, src string) *jobs.Job {
	t.Helper()
	job, err := store.Create(context.Background(), jobs.CreateParams{
		SourceFile:      src,
		ASRClipSeconds:  15,
		HookClipSeconds: 5,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return job
}

func TestCreateCopiesSourceAndQueues(t *testing.T) {
	store, src := newStore(t)
	ctx := context.Background()

	job := createJob(t, store, src)
	if len(job.ID) != 32 {
		t.Fatalf("expected 32-char hex id, got %q", job.ID)
	}
	if job.Status != jobs.StatusQueued {
		t.Fatalf("expected queued, got %s", job.Status)
	}
	if job.ProjectName != "clip" || job.InputFilename != "clip.mp4" {
		t.Fatalf("unexpected names: %q %q", job.ProjectName, job.InputFilename)
	}
	if job.SourcePath != filepath.Join(store.JobDir(job.ID), "source_clip.mp4") {
		t.Fatalf("unexpected source path %q", job.SourcePath)
	}
	info, err := os.Stat(job.SourcePath)
	if err != nil || info.Size() != 2048 {
		t.Fatalf("expected copied source, stat=%v err=%v", info, err)
	}

	events, err := store.ListEvents(ctx, job.ID, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].Status != jobs.StatusQueued {
		t.Fatalf("expected one queued event, got %+v", events)
	}

	queued, err := store.ListQueued(ctx)
	if err != nil {
		t.Fatalf("ListQueued: %v", err)
	}
	if !slices.Equal(queued, []string{job.ID}) {
		t.Fatalf("unexpected queued ids %v", queued)
	}
}

func TestCreateRejectsOversizedSource(t *testing.T) {
	store, src := newStore(t)
	_, err := store.Create(context.Background(), jobs.CreateParams{
		SourceFile:      src,
		ASRClipSeconds:  15,
		HookClipSeconds: 5,
		MaxBytes:        1024,
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	jobsList, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobsList) != 0 {
		t.Fatalf("expected no jobs after rejection, got %d", len(jobsList))
	}
}

func TestCreateRejectsClipBounds(t *testing.T) {
	store, src := newStore(t)
	for _, params := range []jobs.CreateParams{
		{SourceFile: src, ASRClipSeconds: 0, HookClipSeconds: 5},
		{SourceFile: src, ASRClipSeconds: 15, HookClipSeconds: 21},
	} {
		if _, err := store.Create(context.Background(), params); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", params, err)
		}
	}
}

func TestGetMissingJob(t *testing.T) {
	store, _ := newStore(t)
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.SetStatus(context.Background(), "nope", jobs.StatusFailed, "x"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from SetStatus, got %v", err)
	}
}

func TestStatusArtifactsAndMeta(t *testing.T) {
	store, src := newStore(t)
	ctx := context.Background()
	job := createJob(t, store, src)

	if err := store.SetStatus(ctx, job.ID, jobs.StageASR.Status(), "recognizing speech"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if err := store.PutArtifact(ctx, job.ID, jobs.ArtifactTranscriptRaw, "/tmp/raw.txt"); err != nil {
		t.Fatalf("PutArtifact: %v", err)
	}
	if err := store.PutArtifact(ctx, job.ID, jobs.ArtifactSourceVideo, job.SourcePath); err != nil {
		t.Fatalf("PutArtifact: %v", err)
	}
	meta := &media.VideoMeta{Width: 720, Height: 1280, FPS: 30, Duration: 12, HasAudio: true}
	if err := store.PatchMeta(ctx, job.ID, jobs.Meta{SourceMeta: meta}); err != nil {
		t.Fatalf("PatchMeta: %v", err)
	}
	if err := store.PatchMeta(ctx, job.ID, jobs.Meta{VideoTaskID: "t1"}); err != nil {
		t.Fatalf("PatchMeta: %v", err)
	}

	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != jobs.Status("asr") {
		t.Fatalf("unexpected status %s", got.Status)
	}
	if path, ok := got.Artifact(jobs.ArtifactTranscriptRaw); !ok || path != "/tmp/raw.txt" {
		t.Fatalf("unexpected artifact %q", path)
	}
	if len(got.Artifacts) != 2 {
		t.Fatalf("artifacts should be additive, got %v", got.Artifacts)
	}
	if got.Meta.SourceMeta == nil || *got.Meta.SourceMeta != *meta {
		t.Fatalf("unexpected source meta %+v", got.Meta.SourceMeta)
	}
	if got.Meta.VideoTaskID != "t1" {
		t.Fatalf("second patch should keep first and add task id, got %+v", got.Meta)
	}

	if err := store.SetError(ctx, job.ID, "boom"); err != nil {
		t.Fatalf("SetError: %v", err)
	}
	got, _ = store.Get(ctx, job.ID)
	if got.Status != jobs.StatusFailed || got.ErrorMessage != "boom" {
		t.Fatalf("unexpected failure state %s %q", got.Status, got.ErrorMessage)
	}
	if err := store.ClearError(ctx, job.ID); err != nil {
		t.Fatalf("ClearError: %v", err)
	}
	got, _ = store.Get(ctx, job.ID)
	if got.ErrorMessage != "" {
		t.Fatalf("expected cleared error, got %q", got.ErrorMessage)
	}

	events, err := store.ListEvents(ctx, job.ID, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	var statuses []jobs.Status
	for _, event := range events {
		statuses = append(statuses, event.Status)
	}
	want := []jobs.Status{jobs.StatusQueued, "asr", jobs.StatusFailed}
	if !slices.Equal(statuses, want) {
		t.Fatalf("events = %v, want %v", statuses, want)
	}
	after, err := store.ListEvents(ctx, job.ID, events[0].ID)
	if err != nil || len(after) != 2 {
		t.Fatalf("ListEvents after first: %d %v", len(after), err)
	}
}

func TestCreateRerunCopiesSourceAndRecordsLineage(t *testing.T) {
	store, src := newStore(t)
	ctx := context.Background()
	parent := createJob(t, store, src)

	rerun, err := store.CreateRerun(ctx, jobs.RerunParams{ParentID: parent.ID, StartStage: " Script_Gen "})
	if err != nil {
		t.Fatalf("CreateRerun: %v", err)
	}
	if rerun.Meta.RerunOfJobID != parent.ID || rerun.Meta.RerunStartStage != "script_gen" {
		t.Fatalf("unexpected lineage %+v", rerun.Meta)
	}
	if !strings.HasPrefix(rerun.SourcePath, store.JobDir(rerun.ID)) {
		t.Fatalf("rerun source should live in its own directory: %q", rerun.SourcePath)
	}
	if rerun.ProjectName != parent.ProjectName+" · rerun" {
		t.Fatalf("unexpected project name %q", rerun.ProjectName)
	}
	if rerun.HookClipSeconds != parent.HookClipSeconds || rerun.ASRClipSeconds != parent.ASRClipSeconds {
		t.Fatal("rerun should inherit clip settings")
	}

	if _, err := store.CreateRerun(ctx, jobs.RerunParams{ParentID: parent.ID, StartStage: "bogus"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown stage, got %v", err)
	}
	if _, err := store.CreateRerun(ctx, jobs.RerunParams{ParentID: "missing", StartStage: "asr"}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for missing parent, got %v", err)
	}
}

func TestResetRunningRequeues(t *testing.T) {
	store, src := newStore(t)
	ctx := context.Background()
	running := createJob(t, store, src)
	done := createJob(t, store, src)
	if err := store.SetStatus(ctx, running.ID, jobs.StageVideoPolling.Status(), "polling"); err != nil {
		t.Fatal(err)
	}
	if err := store.SetStatus(ctx, done.ID, jobs.StatusCompleted, "done"); err != nil {
		t.Fatal(err)
	}

	ids, err := store.ResetRunning(ctx)
	if err != nil {
		t.Fatalf("ResetRunning: %v", err)
	}
	if !slices.Equal(ids, []string{running.ID}) {
		t.Fatalf("unexpected reset ids %v", ids)
	}
	got, _ := store.Get(ctx, running.ID)
	if got.Status != jobs.StatusQueued {
		t.Fatalf("expected queued after reset, got %s", got.Status)
	}
	events, _ := store.ListEvents(ctx, running.ID, 0)
	if last := events[len(events)-1]; last.Status != jobs.StatusQueued {
		t.Fatalf("expected queued event last, got %+v", last)
	}
}

func TestTrimKeepsLatestTerminalJobs(t *testing.T) {
	store, src := newStore(t)
	ctx := context.Background()
	var created []*jobs.Job
	for range 4 {
		job := createJob(t, store, src)
		if err := store.SetStatus(ctx, job.ID, jobs.StatusCompleted, ""); err != nil {
			t.Fatal(err)
		}
		created = append(created, job)
	}
	active := createJob(t, store, src)

	removed, err := store.Trim(ctx, 2)
	if err != nil {
		t.Fatalf("Trim: %v", err)
	}
	want := []string{created[1].ID, created[0].ID}
	if !slices.Equal(removed, want) {
		t.Fatalf("removed = %v, want %v", removed, want)
	}
	if _, err := os.Stat(store.JobDir(created[0].ID)); !os.IsNotExist(err) {
		t.Fatalf("expected job dir removed, got %v", err)
	}
	if _, err := store.Get(ctx, active.ID); err != nil {
		t.Fatalf("non-terminal job must survive trim: %v", err)
	}
	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Total != 3 || health.Completed != 2 || health.Queued != 1 {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestTrimKeepsParentsOfPendingReruns(t *testing.T) {
	store, src := newStore(t)
	ctx := context.Background()
	parent := createJob(t, store, src)
	if err := store.SetStatus(ctx, parent.ID, jobs.StatusCompleted, ""); err != nil {
		t.Fatal(err)
	}
	rerun, err := store.CreateRerun(ctx, jobs.RerunParams{ParentID: parent.ID, StartStage: "script_gen"})
	if err != nil {
		t.Fatalf("CreateRerun: %v", err)
	}
	other := createJob(t, store, src)
	if err := store.SetStatus(ctx, other.ID, jobs.StatusFailed, ""); err != nil {
		t.Fatal(err)
	}

	removed, err := store.Trim(ctx, 0)
	if err != nil {
		t.Fatalf("Trim: %v", err)
	}
	if !slices.Equal(removed, []string{other.ID}) {
		t.Fatalf("removed = %v, want only %s", removed, other.ID)
	}
	if _, err := store.Get(ctx, parent.ID); err != nil {
		t.Fatalf("parent of queued rerun must survive trim: %v", err)
	}

	if err := store.SetStatus(ctx, rerun.ID, jobs.StatusCompleted, ""); err != nil {
		t.Fatal(err)
	}
	removed, err = store.Trim(ctx, 0)
	if err != nil {
		t.Fatalf("Trim: %v", err)
	}
	if len(removed) != 2 || !slices.Contains(removed, parent.ID) || !slices.Contains(removed, rerun.ID) {
		t.Fatalf("expected parent and rerun removed once the rerun finished, got %v", removed)
	}
}

func TestDeleteRequiresForceForActiveJobs(t *testing.T) {
	store, src := newStore(t)
	ctx := context.Background()
	job := createJob(t, store, src)
	if err := store.Delete(ctx, job.ID, false); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected refusal for queued job, got %v", err)
	}
	if err := store.Delete(ctx, job.ID, true); err != nil {
		t.Fatalf("forced Delete: %v", err)
	}
	if _, err := store.Get(ctx, job.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected job gone, got %v", err)
	}
}

func TestMetaRoundTripKeepsUnknownKeys(t *testing.T) {
	raw := []byte(`{"video_task_id":"t9","custom":{"a":1},"rerun_start_stage":"asr"}`)
	var meta jobs.Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if meta.VideoTaskID != "t9" || meta.RerunStartStage != "asr" {
		t.Fatalf("unexpected meta %+v", meta)
	}
	if string(meta.Extra["custom"]) != `{"a":1}` {
		t.Fatalf("unknown key lost: %v", meta.Extra)
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(encoded, &back); err != nil {
		t.Fatal(err)
	}
	if _, ok := back["custom"]; !ok {
		t.Fatalf("custom key missing after round trip: %s", encoded)
	}
	if _, ok := back["source_meta"]; ok {
		t.Fatalf("nil source_meta should be omitted: %s", encoded)
	}
}

func TestStageOrdering(t *testing.T) {
	if !jobs.StagePreprocessing.Before(jobs.StageASR) || jobs.StagePostprocess.Before(jobs.StageASR) {
		t.Fatal("unexpected stage ordering")
	}
	if _, ok := jobs.ParseStage("queued"); ok {
		t.Fatal("queued is not a stage")
	}
	if !jobs.Status("video_submit").IsRunning() || jobs.StatusQueued.IsRunning() {
		t.Fatal("unexpected running classification")
	}
	if !jobs.StatusCanceled.IsTerminal() {
		t.Fatal("canceled must be terminal")
	}
}

func TestCancelOnlyQueuedJobs(t *testing.T) {
	store, src := newStore(t)
	ctx := context.Background()

	queued := createJob(t, store, src)
	if err := store.Cancel(ctx, queued.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, err := store.Get(ctx, queued.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != jobs.StatusCanceled {
		t.Fatalf("expected canceled, got %s", got.Status)
	}

	running := createJob(t, store, src)
	if err := store.SetStatus(ctx, running.ID, jobs.StageASR.Status(), "running"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if err := store.Cancel(ctx, running.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for running job, got %v", err)
	}
	if err := store.Cancel(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
