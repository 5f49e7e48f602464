package config

// Defaults returns a config wired to the environment variables the
// deployment provides. Placeholders are expanded by Load.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:               "~/.aina",
			LogLevel:              "info",
			LogFormat:             "text",
			EnvFile:               ".env",
			MaxConcurrentMessages: 10,
			EventTimeoutSeconds:   120,
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Enabled:      true,
				APIBase:      "https://api.openai.com/v1",
				APIKey:       "${OPENAI_API_KEY}",
				DefaultModel: "${OPENAI_MODEL:-gpt-4}",
			},
			"gemini": {
				Enabled:      false,
				APIKey:       "${GEMINI_API_KEY}",
				DefaultModel: "gemini-2.0-flash",
			},
		},
		Generator: GeneratorConfig{
			Provider:       "openai",
			MaxTokens:      800,
			Temperature:    0.3,
			RatePerMinute:  60,
			RateBurst:      10,
			TimeoutSeconds: 60,
		},
		Speech: SpeechConfig{
			Provider: "openai",
			APIKey:   "${OPENAI_API_KEY}",
			Model:    "whisper-1",
			Language: "es",
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				Enabled:       true,
				APIBase:       "https://graph.facebook.com/v18.0",
				AccessToken:   "${WHATSAPP_TOKEN}",
				VerifyToken:   "${WHATSAPP_VERIFY_TOKEN}",
				PhoneNumberID: "${WHATSAPP_PHONE_NUMBER_ID}",
				WebhookPath:   "/api/whatsapp/webhook",
			},
		},
		Session: SessionConfig{
			Backend:   "memory",
			BadgerDir: "~/.aina/sessions",
		},
		Memory: MemoryConfig{
			Enabled:    true,
			DBPath:     "~/.aina/aina.db",
			QueueSize:  256,
			HistoryMax: 100,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
