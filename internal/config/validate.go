package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable. Credentials are not required
// here: a missing key surfaces as a configuration error from the adapter that
// needs it, so offline commands (list, show, config) keep working.
func (c *Config) Validate() error {
	if err := c.validateEndpoints(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateDispatch(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateEndpoints() error {
	endpoints := []struct {
		key   string
		value string
	}{
		{"asr.base_url", c.ASR.BaseURL},
		{"llm.base_url", c.LLM.BaseURL},
		{"video.base_url", c.Video.BaseURL},
	}
	for _, endpoint := range endpoints {
		parsed, err := url.Parse(endpoint.value)
		if err != nil {
			return fmt.Errorf("%s: %w", endpoint.key, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("%s must be an http(s) URL, got %q", endpoint.key, endpoint.value)
		}
	}
	return nil
}

func (c *Config) validateLLM() error {
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return errors.New("llm.temperature must be between 0 and 2")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.DefaultASRClipSeconds > 120 {
		return errors.New("pipeline.default_asr_clip_seconds must be between 1 and 120")
	}
	if c.Pipeline.DefaultHookClipSeconds > 20 {
		return errors.New("pipeline.default_hook_clip_seconds must be between 1 and 20")
	}
	return nil
}

func (c *Config) validateDispatch() error {
	switch c.Dispatch.Backend {
	case "sqlite":
		return nil
	case "redis":
		if c.Dispatch.RedisAddr == "" {
			return errors.New("dispatch.redis_addr is required when dispatch.backend is redis")
		}
		return nil
	default:
		return fmt.Errorf("dispatch.backend: unsupported value %q (use sqlite or redis)", c.Dispatch.Backend)
	}
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
