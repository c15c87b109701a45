package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"reelhook/internal/config"
)

func TestLoadDefaultConfigUsesEnvKeysAndExpandsPaths(t *testing.T) {
	t.Setenv("REELHOOK_LLM_API_KEY", "llm-key")
	t.Setenv("REELHOOK_VIDEO_API_KEY", "video-key")
	t.Setenv("REELHOOK_ASR_ACCESS_TOKEN", "asr-token")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantJobs := filepath.Join(tempHome, ".local", "share", "reelhook", "jobs")
	if cfg.Paths.JobsDir != wantJobs {
		t.Fatalf("unexpected jobs dir: got %q want %q", cfg.Paths.JobsDir, wantJobs)
	}
	if cfg.LLM.APIKey != "llm-key" {
		t.Fatalf("expected LLM key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Video.APIKey != "video-key" {
		t.Fatalf("expected video key from env, got %q", cfg.Video.APIKey)
	}
	if cfg.ASR.AccessToken != "asr-token" {
		t.Fatalf("expected ASR token from env, got %q", cfg.ASR.AccessToken)
	}
	if cfg.Pipeline.DefaultHookClipSeconds != 5 || cfg.Pipeline.DefaultASRClipSeconds != 15 {
		t.Fatalf("unexpected clip defaults: %+v", cfg.Pipeline)
	}
	if !cfg.Pipeline.EnableASRPolish {
		t.Fatal("expected ASR polish enabled by default")
	}
	if cfg.Dispatch.Backend != "sqlite" {
		t.Fatalf("unexpected dispatch backend: %q", cfg.Dispatch.Backend)
	}
	if cfg.DatabasePath() != filepath.Join(tempHome, ".local", "share", "reelhook", "reelhook.sqlite3") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
}

func TestLoadCustomConfigOverridesDefaults(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("REELHOOK_LLM_API_KEY", "env-key")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
runtime_dir = "~/rh"

[llm]
api_key = "file-key"
base_url = "https://llm.example.com/"
temperature = 0.2

[pipeline]
default_hook_clip_seconds = 8
enable_asr_polish = false

[logging]
format = "JSON"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected config at %q, got %q exists=%v", configPath, resolved, exists)
	}
	if cfg.Paths.RuntimeDir != filepath.Join(tempHome, "rh") {
		t.Fatalf("unexpected runtime dir: %q", cfg.Paths.RuntimeDir)
	}
	if cfg.Paths.JobsDir != filepath.Join(tempHome, "rh", "jobs") {
		t.Fatalf("jobs dir should derive from runtime dir, got %q", cfg.Paths.JobsDir)
	}
	if cfg.LLM.APIKey != "file-key" {
		t.Fatalf("file key should win over env, got %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.BaseURL != "https://llm.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.LLM.BaseURL)
	}
	if cfg.Pipeline.DefaultHookClipSeconds != 8 || cfg.Pipeline.EnableASRPolish {
		t.Fatalf("unexpected pipeline section: %+v", cfg.Pipeline)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected lower-cased format, got %q", cfg.Logging.Format)
	}
}

func TestLoadCustomConfigKeepsExplicitPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
runtime_dir = "~/rh"
jobs_dir = "~/elsewhere/jobs"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.JobsDir != filepath.Join(tempHome, "elsewhere", "jobs") {
		t.Fatalf("unexpected jobs dir: %q", cfg.Paths.JobsDir)
	}
}

func TestValidateRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "temperature",
			mutate:  func(c *config.Config) { c.LLM.Temperature = 3 },
			wantErr: "llm.temperature",
		},
		{
			name:    "hook seconds",
			mutate:  func(c *config.Config) { c.Pipeline.DefaultHookClipSeconds = 25 },
			wantErr: "default_hook_clip_seconds",
		},
		{
			name:    "dispatch backend",
			mutate:  func(c *config.Config) { c.Dispatch.Backend = "kafka" },
			wantErr: "dispatch.backend",
		},
		{
			name:    "redis without address",
			mutate:  func(c *config.Config) { c.Dispatch.Backend = "redis" },
			wantErr: "dispatch.redis_addr",
		},
		{
			name:    "base url scheme",
			mutate:  func(c *config.Config) { c.Video.BaseURL = "ftp://example.com" },
			wantErr: "video.base_url",
		},
		{
			name:    "log format",
			mutate:  func(c *config.Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var decoded config.Config
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("sample is not valid TOML: %v", err)
	}
	if decoded.Video.PollIntervalSeconds != 5 {
		t.Fatalf("unexpected sample poll interval: %d", decoded.Video.PollIntervalSeconds)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("Load sample: %v", err)
	}
}

func TestPolishSystemPromptPrefersASROverride(t *testing.T) {
	cfg := config.Default()
	if cfg.PolishSystemPrompt() != strings.TrimSpace(cfg.ASR.SystemPrompt) {
		t.Fatalf("expected ASR prompt, got %q", cfg.PolishSystemPrompt())
	}
	cfg.ASR.SystemPrompt = "  "
	if cfg.PolishSystemPrompt() != cfg.LLM.ASRPolishSystemPrompt {
		t.Fatalf("expected LLM polish prompt fallback, got %q", cfg.PolishSystemPrompt())
	}
}

func TestEnsureDirectoriesCreatesPaths(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.RuntimeDir = filepath.Join(base, "runtime")
	cfg.Paths.JobsDir = filepath.Join(base, "runtime", "jobs")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.RuntimeDir, cfg.Paths.JobsDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q: %v", dir, err)
		}
	}
	if cfg.JobDir("abc") != filepath.Join(cfg.Paths.JobsDir, "abc") {
		t.Fatalf("unexpected job dir: %q", cfg.JobDir("abc"))
	}
}
