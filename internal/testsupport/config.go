package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"reelhook/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config rooted in a per-test temp directory with dummy
// credentials filled in.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.RuntimeDir = filepath.Join(base, "runtime")
	cfgVal.Paths.JobsDir = filepath.Join(base, "runtime", "jobs")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.ASR.AppID = "test-app"
	cfgVal.ASR.AccessToken = "test-token"
	cfgVal.LLM.APIKey = "test-llm"
	cfgVal.Video.APIKey = "test-video"
	cfgVal.Video.PollIntervalSeconds = 1

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithBaseURL points every remote service at url, typically an httptest server.
func WithBaseURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.ASR.BaseURL = url
		b.cfg.LLM.BaseURL = url
		b.cfg.Video.BaseURL = url
	}
}

// WithPolish toggles the transcript polish stage.
func WithPolish(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.EnableASRPolish = enabled
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg and ffprobe are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			if err := os.WriteFile(filepath.Join(binDir, name), script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.RuntimeDir)
}
