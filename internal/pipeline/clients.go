package pipeline

import (
	"log/slog"

	"reelhook/internal/config"
	"reelhook/internal/logging"
	"reelhook/internal/media"
	"reelhook/internal/services/asr"
	"reelhook/internal/services/llm"
	"reelhook/internal/services/videogen"
)

// NewFromConfig builds an Engine backed by ffmpeg and the configured remote
// services.
func NewFromConfig(cfg *config.Config, store JobStateStore, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	return NewEngine(Options{
		Config: cfg,
		Store:  store,
		Media:  media.NewProcessor(cfg.FFmpegBinary(), cfg.FFprobeBinary(), logging.NewComponentLogger(logger, "media")),
		ASR: asr.NewClient(asr.Config{
			BaseURL:           cfg.ASR.BaseURL,
			AppID:             cfg.ASR.AppID,
			AccessToken:       cfg.ASR.AccessToken,
			ResourceID:        cfg.ASR.ResourceID,
			BoostingTableName: cfg.ASR.BoostingTableName,
			TimeoutSeconds:    cfg.ASR.TimeoutSeconds,
		}, asr.WithLogger(logging.NewComponentLogger(logger, "asr"))),
		LLM: llm.NewClient(llm.Config{
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.LLM.Model,
			TimeoutSeconds: cfg.LLM.TimeoutSeconds,
		}),
		Video: videogen.NewClient(videogen.Config{
			BaseURL:             cfg.Video.BaseURL,
			APIKey:              cfg.Video.APIKey,
			Model:               cfg.Video.Model,
			TimeoutSeconds:      cfg.Video.TimeoutSeconds,
			PollIntervalSeconds: cfg.Video.PollIntervalSeconds,
		}, videogen.WithLogger(logging.NewComponentLogger(logger, "video"))),
		Logger: logger,
	})
}
