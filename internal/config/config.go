package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for the Aina gateway.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Providers map[string]ProviderConfig `json:"providers"`
	Generator GeneratorConfig           `json:"generator"`
	Speech    SpeechConfig              `json:"speech"`
	Channels  ChannelsConfig            `json:"channels"`
	Session   SessionConfig             `json:"session"`
	Memory    MemoryConfig              `json:"memory"`
	Server    ServerConfig              `json:"server"`
	Metrics   MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	DataDir               string `json:"dataDir"`
	LogLevel              string `json:"logLevel"`
	LogFormat             string `json:"logFormat"`         // "text" | "json" | "pretty"
	LogFile               string `json:"logFile,omitempty"` // optional log file path
	EnvFile               string `json:"envFile,omitempty"` // optional .env loaded before expansion
	MaxConcurrentMessages int    `json:"maxConcurrentMessages"`
	EventTimeoutSeconds   int    `json:"eventTimeoutSeconds"`
	MessagesFile          string `json:"messagesFile,omitempty"` // YAML overrides for reply templates
}

// ProviderConfig holds credentials for one backend (openai, gemini, groq...).
type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
}

// GeneratorConfig configures the response generator adapter.
type GeneratorConfig struct {
	Provider       string   `json:"provider"`                // provider name used for chat
	FailoverChain  []string `json:"failoverChain,omitempty"` // tried in order when set
	Model          string   `json:"model,omitempty"`
	MaxTokens      int      `json:"maxTokens"`
	Temperature    float64  `json:"temperature"`
	RatePerMinute  int      `json:"ratePerMinute"`
	RateBurst      int      `json:"rateBurst"`
	SystemPrompt   string   `json:"systemPrompt,omitempty"` // overrides the built-in instruction
	TimeoutSeconds int      `json:"timeoutSeconds"`
}

// SpeechConfig configures the transcription adapter.
type SpeechConfig struct {
	Provider string `json:"provider"` // "openai" | "whisper" (OpenAI-compatible server at apiBase)
	APIBase  string `json:"apiBase,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
	Model    string `json:"model,omitempty"`
	Language string `json:"language"`
}

type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
}

type WhatsAppConfig struct {
	Enabled       bool   `json:"enabled"`
	APIBase       string `json:"apiBase,omitempty"`
	AppSecret     string `json:"appSecret,omitempty"`
	AccessToken   string `json:"accessToken,omitempty"`
	VerifyToken   string `json:"verifyToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty"`
	WebhookPath   string `json:"webhookPath,omitempty"`
	MediaRetries  int    `json:"mediaRetries"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

// SessionConfig selects the session store backend.
type SessionConfig struct {
	Backend   string `json:"backend"` // "memory" | "sqlite" | "badger"
	BadgerDir string `json:"badgerDir,omitempty"`
}

type MemoryConfig struct {
	Enabled    bool   `json:"enabled"`
	DBPath     string `json:"dbPath"`
	QueueSize  int    `json:"queueSize"`
	HistoryMax int    `json:"historyMax"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.aina).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aina"
	}
	return filepath.Join(home, ".aina")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := expandedDefaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.General.MessagesFile = ExpandPath(cfg.General.MessagesFile)
	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)
	cfg.Session.BadgerDir = ExpandPath(cfg.Session.BadgerDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// expandedDefaults returns Defaults with placeholders resolved, so keys the
// file omits still pick up the environment.
func expandedDefaults() *Config {
	data, err := json.Marshal(Defaults())
	if err != nil {
		return Defaults()
	}
	cfg := &Config{}
	if err := json.Unmarshal([]byte(ExpandEnvVars(string(data))), cfg); err != nil {
		return Defaults()
	}
	return cfg
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.General.EventTimeoutSeconds < 1 {
		errs = append(errs, "general.eventTimeoutSeconds must be >= 1")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json", "pretty":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json, pretty")
	}

	if cfg.Generator.MaxTokens < 1 || cfg.Generator.MaxTokens > 4096 {
		errs = append(errs, "generator.maxTokens must be between 1 and 4096")
	}
	if cfg.Generator.Temperature < 0 || cfg.Generator.Temperature > 2 {
		errs = append(errs, "generator.temperature must be between 0 and 2")
	}
	if cfg.Generator.Provider == "" && len(cfg.Generator.FailoverChain) == 0 {
		errs = append(errs, "generator.provider or generator.failoverChain is required")
	}
	// Validate failover chain references exist in providers.
	for _, name := range cfg.Generator.FailoverChain {
		if _, ok := cfg.Providers[name]; !ok {
			errs = append(errs, fmt.Sprintf("generator.failoverChain references unknown provider: %s", name))
		}
	}

	switch cfg.Speech.Provider {
	case "whisper", "openai":
	default:
		errs = append(errs, "speech.provider must be one of: whisper, openai")
	}

	switch cfg.Session.Backend {
	case "memory", "sqlite":
	case "badger":
		if cfg.Session.BadgerDir == "" {
			errs = append(errs, "session.badgerDir is required for the badger backend")
		}
	default:
		errs = append(errs, "session.backend must be one of: memory, sqlite, badger")
	}
	if cfg.Session.Backend == "sqlite" && cfg.Memory.DBPath == "" {
		errs = append(errs, "memory.dbPath is required for the sqlite session backend")
	}

	if cfg.Memory.QueueSize < 1 {
		errs = append(errs, "memory.queueSize must be >= 1")
	}
	if cfg.Channels.WhatsApp.MediaRetries < 0 || cfg.Channels.WhatsApp.MediaRetries > 5 {
		errs = append(errs, "channels.whatsapp.mediaRetries must be between 0 and 5")
	}
	if cfg.Channels.WhatsApp.Enabled && cfg.Channels.WhatsApp.VerifyToken == "" {
		errs = append(errs, "channels.whatsapp.verifyToken is required when whatsapp is enabled")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
