package videogen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"reelhook/internal/services"
)

func newTestClient(url string, timeoutSeconds int) *Client {
	return NewClient(Config{BaseURL: url, APIKey: "key", Model: "seedance", TimeoutSeconds: timeoutSeconds},
		WithPollInterval(5*time.Millisecond))
}

func TestSubmitAdvancesPastShapeRejections(t *testing.T) {
	var bodies []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != tasksPath || r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("unexpected request %s %s", r.URL.Path, r.Header.Get("Authorization"))
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies = append(bodies, body)
		if len(bodies) < 3 {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":"unknown field"}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"task_id":"t1"}}`))
	}))
	defer server.Close()

	sub, err := newTestClient(server.URL, 10).Submit(context.Background(), Request{Prompt: "p", DurationSeconds: 5, Width: 720, Height: 1280})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.TaskID != "t1" {
		t.Fatalf("unexpected task id %q", sub.TaskID)
	}
	if len(bodies) != 3 || len(sub.Attempts) != 2 {
		t.Fatalf("expected 3 calls and 2 recorded attempts, got %d and %v", len(bodies), sub.Attempts)
	}
	if !strings.HasPrefix(sub.Attempts[0], "attempt=1:http=422:msg=") {
		t.Fatalf("unexpected attempt entry %q", sub.Attempts[0])
	}
	if bodies[0]["width"] != float64(720) || bodies[0]["height"] != float64(1280) {
		t.Fatalf("first variant should carry width/height: %v", bodies[0])
	}
	if bodies[1]["size"] != "720x1280" {
		t.Fatalf("second variant should carry size: %v", bodies[1])
	}
	if _, ok := bodies[2]["size"]; ok || bodies[2]["duration"] != float64(5) {
		t.Fatalf("third variant should be duration-only: %v", bodies[2])
	}
}

func TestSubmitFailsFastOnOtherStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "denied", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 10).Submit(context.Background(), Request{Prompt: "p"})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for 401, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one call, got %d", calls.Load())
	}
}

func TestSubmitAggregatesWhenNoVariantWorks(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 2 {
			_, _ = w.Write([]byte(`{"status":"accepted"}`))
			return
		}
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 10).Submit(context.Background(), Request{Prompt: "p"})
	var svcErr *services.ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if len(svcErr.Attempts) != 5 || svcErr.Attempts[1] != "attempt=2:http=200:missing_task_id" {
		t.Fatalf("unexpected attempts %v", svcErr.Attempts)
	}
	if !errors.Is(err, services.ErrShapeMismatch) {
		t.Fatalf("expected shape mismatch classification, got %v", err)
	}
}

func TestPollUntilSucceededAndDownload(t *testing.T) {
	var polls atomic.Int32
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case tasksPath + "/t1":
			if polls.Add(1) < 3 {
				_, _ = w.Write([]byte(`{"status":"running"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":  "Succeeded",
				"content": map[string]any{"video_url": server.URL + "/files/clip.mp4"},
			})
		case "/files/clip.mp4":
			_, _ = w.Write([]byte("mp4-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, 10)
	payload, err := client.Poll(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if polls.Load() != 3 {
		t.Fatalf("expected 3 polls, got %d", polls.Load())
	}
	videoURL, err := VideoURL(payload)
	if err != nil {
		t.Fatalf("VideoURL: %v", err)
	}
	dest := filepath.Join(t.TempDir(), "hook_video_raw.mp4")
	if err := client.Download(context.Background(), videoURL, dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "mp4-bytes" {
		t.Fatalf("unexpected download %q (%v)", data, err)
	}
}

func TestPollFailureStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"state":"CANCELLED"}}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 10).Poll(context.Background(), "t1")
	if err == nil || !strings.Contains(err.Error(), "status=cancelled") {
		t.Fatalf("expected cancelled failure, got %v", err)
	}
}

func TestPollTimesOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 1).Poll(context.Background(), "t1")
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestPollHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"running"}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := newTestClient(server.URL, 60).Poll(ctx, "t1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
}

func TestVideoURLMissing(t *testing.T) {
	if _, err := VideoURL(map[string]any{"status": "succeeded"}); err == nil {
		t.Fatal("expected error when no url present")
	}
}

func TestPollReadsTopLevelStatusBeforeNestedState(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 2 {
			_, _ = w.Write([]byte(`{"status":"running","content":{"state":"done","video_url":"http://x/clip.mp4"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"succeeded","content":{"video_url":"http://x/clip.mp4"}}`))
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL, 10).Poll(context.Background(), "t1"); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if polls.Load() != 2 {
		t.Fatalf("expected polling to continue past a running top-level status, got %d polls", polls.Load())
	}
}

func TestSubmitPrefersFirstIDInDocumentOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"req-1","data":{"task_id":"t1"}}`))
	}))
	defer server.Close()

	sub, err := newTestClient(server.URL, 10).Submit(context.Background(), Request{Prompt: "p", DurationSeconds: 5, Width: 720, Height: 1280})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.TaskID != "req-1" {
		t.Fatalf("expected req-1, got %q", sub.TaskID)
	}
}
