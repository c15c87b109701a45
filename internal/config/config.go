package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains runtime directory configuration.
type Paths struct {
	RuntimeDir string `toml:"runtime_dir"`
	JobsDir    string `toml:"jobs_dir"`
	LogDir     string `toml:"log_dir"`
}

// ASR contains speech recognition credentials and endpoint settings.
type ASR struct {
	BaseURL           string `toml:"base_url"`
	AppID             string `toml:"appid"`
	AccessToken       string `toml:"access_token"`
	ResourceID        string `toml:"resource_id"`
	BoostingTableName string `toml:"boosting_table_name"`
	TimeoutSeconds    int    `toml:"timeout_s"`
	// SystemPrompt overrides llm.asr_polish_system_prompt for transcript cleanup.
	SystemPrompt string `toml:"system_prompt"`
}

// LLM contains text generation settings.
type LLM struct {
	BaseURL               string  `toml:"base_url"`
	APIKey                string  `toml:"api_key"`
	Model                 string  `toml:"model"`
	TimeoutSeconds        int     `toml:"timeout_s"`
	Temperature           float64 `toml:"temperature"`
	ScriptSystemPrompt    string  `toml:"script_system_prompt"`
	ASRPolishSystemPrompt string  `toml:"asr_polish_system_prompt"`
}

// Video contains remote video generation settings.
type Video struct {
	BaseURL             string `toml:"base_url"`
	APIKey              string `toml:"api_key"`
	Model               string `toml:"model"`
	TimeoutSeconds      int    `toml:"timeout_s"`
	PollIntervalSeconds int    `toml:"poll_interval_s"`
	SystemPrompt        string `toml:"system_prompt"`
}

// Pipeline contains per-job defaults and stage toggles.
type Pipeline struct {
	DefaultASRClipSeconds  int  `toml:"default_asr_clip_seconds"`
	DefaultHookClipSeconds int  `toml:"default_hook_clip_seconds"`
	EnableASRPolish        bool `toml:"enable_asr_polish"`
	MaxUploadMB            int  `toml:"max_upload_mb"`
}

// Workflow contains worker pool timing and limits.
type Workflow struct {
	MaxParallelJobs   int `toml:"max_parallel_jobs"`
	QueuePollInterval int `toml:"queue_poll_interval"`
	KeepLatestJobs    int `toml:"keep_latest_jobs"`
}

// Dispatch selects how queued job IDs reach the worker pool.
type Dispatch struct {
	Backend     string `toml:"backend"`
	RedisAddr   string `toml:"redis_addr"`
	RedisStream string `toml:"redis_stream"`
	RedisMaxLen int    `toml:"redis_max_len"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for reelhook.
//
// Configuration sections by subsystem:
//   - Paths: runtime, job, and log directories
//   - ASR: speech recognition credentials and resource id
//   - LLM: transcript polish and script generation
//   - Video: remote video generation
//   - Pipeline: per-job defaults and stage toggles
//   - Workflow: worker pool concurrency and polling
//   - Dispatch: sqlite polling or redis stream job delivery
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	ASR      ASR      `toml:"asr"`
	LLM      LLM      `toml:"llm"`
	Video    Video    `toml:"video"`
	Pipeline Pipeline `toml:"pipeline"`
	Workflow Workflow `toml:"workflow"`
	Dispatch Dispatch `toml:"dispatch"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("reelhook.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required runtime directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.RuntimeDir, c.Paths.JobsDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the job store location inside the runtime directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.RuntimeDir, "reelhook.sqlite3")
}

// PresetsPath returns the named preset file inside the runtime directory.
func (c *Config) PresetsPath() string {
	return filepath.Join(c.Paths.RuntimeDir, "presets.toml")
}

// LockPath returns the daemon lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.RuntimeDir, "reelhook.lock")
}

// JobDir returns the private directory owned by jobID.
func (c *Config) JobDir(jobID string) string {
	return filepath.Join(c.Paths.JobsDir, jobID)
}

// FFmpegBinary returns the ffmpeg executable name.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for media inspection.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// PolishSystemPrompt returns the transcript cleanup system prompt, preferring
// the ASR override when set.
func (c *Config) PolishSystemPrompt() string {
	if prompt := strings.TrimSpace(c.ASR.SystemPrompt); prompt != "" {
		return prompt
	}
	return strings.TrimSpace(c.LLM.ASRPolishSystemPrompt)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders cfg as TOML.
func Encode(cfg Config) ([]byte, error) {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
