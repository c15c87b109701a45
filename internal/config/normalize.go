package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeASR()
	c.normalizeLLM()
	c.normalizeVideo()
	c.normalizePipeline()
	c.normalizeWorkflow()
	c.normalizeDispatch()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.RuntimeDir) == "" {
		c.Paths.RuntimeDir = defaultRuntimeDir
	}
	if c.Paths.RuntimeDir, err = expandPath(c.Paths.RuntimeDir); err != nil {
		return fmt.Errorf("paths.runtime_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.JobsDir) == "" {
		c.Paths.JobsDir = filepath.Join(c.Paths.RuntimeDir, "jobs")
	}
	if c.Paths.JobsDir, err = expandPath(c.Paths.JobsDir); err != nil {
		return fmt.Errorf("paths.jobs_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.RuntimeDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeASR() {
	if c.ASR.AccessToken == "" {
		if value, ok := os.LookupEnv("REELHOOK_ASR_ACCESS_TOKEN"); ok {
			c.ASR.AccessToken = value
		}
	}
	if c.ASR.AppID == "" {
		if value, ok := os.LookupEnv("REELHOOK_ASR_APPID"); ok {
			c.ASR.AppID = value
		}
	}
	c.ASR.AppID = strings.TrimSpace(c.ASR.AppID)
	c.ASR.AccessToken = strings.TrimSpace(c.ASR.AccessToken)
	c.ASR.ResourceID = strings.TrimSpace(c.ASR.ResourceID)
	c.ASR.BoostingTableName = strings.TrimSpace(c.ASR.BoostingTableName)
	c.ASR.BaseURL = strings.TrimRight(strings.TrimSpace(c.ASR.BaseURL), "/")
	if c.ASR.BaseURL == "" {
		c.ASR.BaseURL = defaultASRBaseURL
	}
	if c.ASR.TimeoutSeconds <= 0 {
		c.ASR.TimeoutSeconds = defaultASRTimeout
	}
}

func (c *Config) normalizeLLM() {
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("REELHOOK_LLM_API_KEY"); ok {
			c.LLM.APIKey = value
		}
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	c.LLM.BaseURL = strings.TrimRight(strings.TrimSpace(c.LLM.BaseURL), "/")
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeout
	}
	if strings.TrimSpace(c.LLM.ScriptSystemPrompt) == "" {
		c.LLM.ScriptSystemPrompt = defaultScriptSystemPrompt
	}
	if strings.TrimSpace(c.LLM.ASRPolishSystemPrompt) == "" {
		c.LLM.ASRPolishSystemPrompt = defaultASRPolishSystemPrompt
	}
}

func (c *Config) normalizeVideo() {
	if c.Video.APIKey == "" {
		if value, ok := os.LookupEnv("REELHOOK_VIDEO_API_KEY"); ok {
			c.Video.APIKey = value
		}
	}
	c.Video.APIKey = strings.TrimSpace(c.Video.APIKey)
	c.Video.Model = strings.TrimSpace(c.Video.Model)
	c.Video.BaseURL = strings.TrimRight(strings.TrimSpace(c.Video.BaseURL), "/")
	if c.Video.BaseURL == "" {
		c.Video.BaseURL = defaultVideoBaseURL
	}
	if c.Video.Model == "" {
		c.Video.Model = defaultVideoModel
	}
	if c.Video.TimeoutSeconds <= 0 {
		c.Video.TimeoutSeconds = defaultVideoTimeout
	}
	if c.Video.PollIntervalSeconds < 1 {
		c.Video.PollIntervalSeconds = 1
	}
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.DefaultASRClipSeconds <= 0 {
		c.Pipeline.DefaultASRClipSeconds = defaultASRClipSeconds
	}
	if c.Pipeline.DefaultHookClipSeconds <= 0 {
		c.Pipeline.DefaultHookClipSeconds = defaultHookClipSeconds
	}
	if c.Pipeline.MaxUploadMB <= 0 {
		c.Pipeline.MaxUploadMB = defaultMaxUploadMB
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.MaxParallelJobs <= 0 {
		c.Workflow.MaxParallelJobs = defaultMaxParallelJobs
	}
	if c.Workflow.QueuePollInterval <= 0 {
		c.Workflow.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Workflow.KeepLatestJobs < 0 {
		c.Workflow.KeepLatestJobs = defaultKeepLatestJobs
	}
}

func (c *Config) normalizeDispatch() {
	c.Dispatch.Backend = strings.ToLower(strings.TrimSpace(c.Dispatch.Backend))
	if c.Dispatch.Backend == "" {
		c.Dispatch.Backend = defaultDispatchBackend
	}
	c.Dispatch.RedisAddr = strings.TrimSpace(c.Dispatch.RedisAddr)
	c.Dispatch.RedisStream = strings.TrimSpace(c.Dispatch.RedisStream)
	if c.Dispatch.RedisStream == "" {
		c.Dispatch.RedisStream = defaultRedisStream
	}
	if c.Dispatch.RedisMaxLen < 0 {
		c.Dispatch.RedisMaxLen = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
