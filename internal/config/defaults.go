package config

const (
	defaultConfigPath = "~/.config/reelhook/config.toml"
	defaultRuntimeDir = "~/.local/share/reelhook"

	defaultASRBaseURL      = "https://openspeech.bytedance.com"
	defaultASRResourceID   = "volc.bigasr.auc_turbo"
	defaultASRTimeout      = 120
	defaultASRSystemPrompt = "你是专业中文转写纠错助手。修正错别字、口语重复、断句，保持原意，不要扩写。"

	defaultLLMBaseURL            = "https://ark.cn-beijing.volces.com"
	defaultLLMModel              = "doubao-seed-2-0-pro-260215"
	defaultLLMTimeout            = 120
	defaultLLMTemperature        = 0.7
	defaultScriptSystemPrompt    = "你是短视频冷启动编剧专家。请基于给定转写文本生成荒诞、有趣、吸睛但合规的5秒前贴脚本，返回JSON。"
	defaultASRPolishSystemPrompt = "你是中文ASR文本纠错助手。只做纠错、断句和语义澄清，不要添加事实。"

	defaultVideoBaseURL      = "https://ark.cn-beijing.volces.com"
	defaultVideoModel        = "seedance-1-5-pro-250528"
	defaultVideoTimeout      = 600
	defaultVideoPollInterval = 5
	defaultVideoSystemPrompt = "生成荒诞、有趣、强视觉冲击的视频前贴，风格夸张、节奏快，适合短剧导流。"

	defaultASRClipSeconds  = 15
	defaultHookClipSeconds = 5
	defaultMaxUploadMB     = 300

	defaultMaxParallelJobs   = 1
	defaultQueuePollInterval = 2
	defaultKeepLatestJobs    = 20

	defaultDispatchBackend = "sqlite"
	defaultRedisStream     = "reelhook:jobs"
	defaultRedisMaxLen     = 1000

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		// Jobs and log directories derive from RuntimeDir during normalize.
		Paths: Paths{
			RuntimeDir: defaultRuntimeDir,
		},
		ASR: ASR{
			BaseURL:        defaultASRBaseURL,
			ResourceID:     defaultASRResourceID,
			TimeoutSeconds: defaultASRTimeout,
			SystemPrompt:   defaultASRSystemPrompt,
		},
		LLM: LLM{
			BaseURL:               defaultLLMBaseURL,
			Model:                 defaultLLMModel,
			TimeoutSeconds:        defaultLLMTimeout,
			Temperature:           defaultLLMTemperature,
			ScriptSystemPrompt:    defaultScriptSystemPrompt,
			ASRPolishSystemPrompt: defaultASRPolishSystemPrompt,
		},
		Video: Video{
			BaseURL:             defaultVideoBaseURL,
			Model:               defaultVideoModel,
			TimeoutSeconds:      defaultVideoTimeout,
			PollIntervalSeconds: defaultVideoPollInterval,
			SystemPrompt:        defaultVideoSystemPrompt,
		},
		Pipeline: Pipeline{
			DefaultASRClipSeconds:  defaultASRClipSeconds,
			DefaultHookClipSeconds: defaultHookClipSeconds,
			EnableASRPolish:        true,
			MaxUploadMB:            defaultMaxUploadMB,
		},
		Workflow: Workflow{
			MaxParallelJobs:   defaultMaxParallelJobs,
			QueuePollInterval: defaultQueuePollInterval,
			KeepLatestJobs:    defaultKeepLatestJobs,
		},
		Dispatch: Dispatch{
			Backend:     defaultDispatchBackend,
			RedisStream: defaultRedisStream,
			RedisMaxLen: defaultRedisMaxLen,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
