package config

const (
	defaultDataDir             = "~/.local/share/mediaminer"
	defaultLogDir              = "~/.local/share/mediaminer/logs"
	defaultCredentialsFile     = "~/.config/mediaminer/api_keys.env"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultMinWorkers          = 2
	defaultMaxWorkers          = 10
	defaultMaxTokens           = 4096
	defaultTemperature         = 0.7
	defaultTimeoutSeconds      = 60
	defaultStartTimeoutSeconds = 10
	defaultLoadTimeoutSeconds  = 60
	defaultSettleSeconds       = 2
	defaultBatchInputDir       = "~/Documents/MediaMiner_Data/processed"
	defaultBatchOutputDir      = "~/Documents/MediaMiner_Data/reprocessed"
	defaultMinTranscriptChars  = 50
	defaultMaxPromptChars      = 10000
	defaultBatchMaxTokens      = 15000
	defaultServerBind          = "127.0.0.1:7580"
)

// DefaultProviders returns the built-in provider list, cheapest first.
func DefaultProviders() []Provider {
	return []Provider{
		{
			Name:          "cerebras",
			Priority:      1,
			Family:        "chat_completion",
			Model:         "qwen-3-235b-a22b-instruct-2507",
			CredentialEnv: []string{"CEREBRAS_API_KEY_1", "CEREBRAS_API_KEY_2", "CEREBRAS_API_KEY_3", "CEREBRAS_API_KEY_4"},
			BaseURL:       "https://api.cerebras.ai/v1",
		},
		{
			Name:          "gemini",
			Priority:      2,
			Family:        "gemini",
			Model:         "gemini-2.5-flash-lite",
			CredentialEnv: []string{"GEMINI_API_KEY_1", "GEMINI_API_KEY_2"},
		},
		{
			Name:          "openrouter",
			Priority:      3,
			Family:        "chat_completion",
			Model:         "google/gemini-2.0-flash-exp:free",
			CredentialEnv: []string{"OPENROUTER_API_KEY"},
			BaseURL:       "https://openrouter.ai/api/v1",
		},
		{
			Name:     "lmstudio",
			Priority: 4,
			Family:   "local",
			Model:    "qwen/qwen3-30b-a3b-2507",
			BaseURL:  "http://localhost:1234/v1",
		},
		{
			Name:          "openai",
			Priority:      5,
			Family:        "chat_completion",
			Model:         "gpt-4o-mini",
			CredentialEnv: []string{"OPENAI_API_KEY"},
		},
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:         defaultDataDir,
			LogDir:          defaultLogDir,
			CredentialsFile: defaultCredentialsFile,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Dispatch: Dispatch{
			MinWorkers:         defaultMinWorkers,
			MaxWorkers:         defaultMaxWorkers,
			DefaultMaxTokens:   defaultMaxTokens,
			DefaultTemperature: defaultTemperature,
			TimeoutSeconds:     defaultTimeoutSeconds,
		},
		LocalServer: LocalServer{
			AutoStart:           true,
			StartCommand:        []string{"lms", "server", "start"},
			LoadCommand:         []string{"lms", "load", "{model}", "--yes"},
			StartTimeoutSeconds: defaultStartTimeoutSeconds,
			LoadTimeoutSeconds:  defaultLoadTimeoutSeconds,
			SettleSeconds:       defaultSettleSeconds,
		},
		Batch: Batch{
			InputDir:           defaultBatchInputDir,
			OutputDir:          defaultBatchOutputDir,
			MinTranscriptChars: defaultMinTranscriptChars,
			MaxPromptChars:     defaultMaxPromptChars,
			MaxTokens:          defaultBatchMaxTokens,
		},
		Server: Server{
			Bind: defaultServerBind,
		},
		Providers: DefaultProviders(),
	}
}
