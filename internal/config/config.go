package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main Mosaic configuration
type Config struct {
	// HTTP transport
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Model names per capability
	Models ModelsConfig `json:"models" mapstructure:"models"`

	// Provider credentials
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`

	// Video generation defaults
	Video VideoConfig `json:"video" mapstructure:"video"`

	// Per-capability call timeouts
	Timeouts TimeoutsConfig `json:"timeouts" mapstructure:"timeouts"`

	// Session store
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Generated asset storage
	Assets AssetsConfig `json:"assets" mapstructure:"assets"`

	// Intent classification
	Intent IntentConfig `json:"intent" mapstructure:"intent"`

	// Prompt moderation
	Moderation ModerationConfig `json:"moderation" mapstructure:"moderation"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Telemetry TelemetryConfig `json:"telemetry" mapstructure:"telemetry"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string   `json:"host" mapstructure:"host"`
	Port            int      `json:"port" mapstructure:"port"`
	CORSOrigins     []string `json:"cors_origins" mapstructure:"cors_origins"`
	ShutdownTimeout int      `json:"shutdown_timeout" mapstructure:"shutdown_timeout"` // seconds
	AuditLog        string   `json:"audit_log" mapstructure:"audit_log"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ModelsConfig selects the model used for each capability.
// TextProvider picks the backend for text generation (openai, anthropic, gemini);
// routing, images, video and transcription always go through OpenAI.
type ModelsConfig struct {
	TextProvider string `json:"text_provider" mapstructure:"text_provider"`
	Router       string `json:"router" mapstructure:"router"`
	Text         string `json:"text" mapstructure:"text"`
	Image        string `json:"image" mapstructure:"image"`
	Video        string `json:"video" mapstructure:"video"`
	Transcribe   string `json:"transcribe" mapstructure:"transcribe"`
}

// ProvidersConfig holds provider credentials
type ProvidersConfig struct {
	Profiles []ProviderProfile `json:"profiles" mapstructure:"profiles"`
}

// ProviderProfile represents an AI provider profile
type ProviderProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // openai, anthropic, gemini
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url" mapstructure:"base_url"`
}

// Profile returns the first profile configured for provider.
func (p ProvidersConfig) Profile(provider string) (ProviderProfile, bool) {
	for _, profile := range p.Profiles {
		if profile.Provider == provider {
			return profile, true
		}
	}
	return ProviderProfile{}, false
}

// VideoConfig holds video generation defaults
type VideoConfig struct {
	Seconds      int    `json:"seconds" mapstructure:"seconds"`
	Size         string `json:"size" mapstructure:"size"`
	PollInterval int    `json:"poll_interval" mapstructure:"poll_interval"` // seconds
}

// TimeoutsConfig bounds every capability call
type TimeoutsConfig struct {
	Router     int `json:"router" mapstructure:"router"`         // seconds
	Text       int `json:"text" mapstructure:"text"`             // seconds
	Image      int `json:"image" mapstructure:"image"`           // seconds
	Video      int `json:"video" mapstructure:"video"`           // seconds
	Transcribe int `json:"transcribe" mapstructure:"transcribe"` // seconds
}

// SessionConfig holds session store configuration
type SessionConfig struct {
	// MaxSessions bounds the store by LRU eviction. Zero leaves it unbounded.
	MaxSessions     int    `json:"max_sessions" mapstructure:"max_sessions"`
	IdleTTL         int    `json:"idle_ttl" mapstructure:"idle_ttl"` // seconds
	HistoryWindow   int    `json:"history_window" mapstructure:"history_window"`
	JanitorSchedule string `json:"janitor_schedule" mapstructure:"janitor_schedule"`
	DedupTTL        int    `json:"dedup_ttl" mapstructure:"dedup_ttl"` // seconds
}

// AssetsConfig holds generated asset storage configuration
type AssetsConfig struct {
	Backend         string `json:"backend" mapstructure:"backend"` // local, s3
	Dir             string `json:"dir" mapstructure:"dir"`
	PublicBaseURL   string `json:"public_base_url" mapstructure:"public_base_url"`
	Bucket          string `json:"bucket" mapstructure:"bucket"`
	Prefix          string `json:"prefix" mapstructure:"prefix"`
	Region          string `json:"region" mapstructure:"region"`
	Endpoint        string `json:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string `json:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" mapstructure:"secret_access_key"`
	UsePathStyle    bool   `json:"use_path_style" mapstructure:"use_path_style"`
}

// IntentConfig holds classifier configuration
type IntentConfig struct {
	Classifier   string      `json:"classifier" mapstructure:"classifier"` // llm, keyword
	ContextLines int         `json:"context_lines" mapstructure:"context_lines"`
	RulesFile    string      `json:"rules_file" mapstructure:"rules_file"`
	Rules        RulesConfig `json:"rules" mapstructure:"rules"`
}

// RulesConfig overrides the refinement word lists. Empty lists keep the built-in defaults.
type RulesConfig struct {
	FreshMarkers  []string `json:"fresh_markers" mapstructure:"fresh_markers"`
	CreationVerbs []string `json:"creation_verbs" mapstructure:"creation_verbs"`
	Determiners   []string `json:"determiners" mapstructure:"determiners"`
	ModifierVerbs []string `json:"modifier_verbs" mapstructure:"modifier_verbs"`
	Comparatives  []string `json:"comparatives" mapstructure:"comparatives"`
	Anaphora      []string `json:"anaphora" mapstructure:"anaphora"`

	// Interrogatives open a question, which is never a refinement.
	Interrogatives []string `json:"interrogatives" mapstructure:"interrogatives"`
}

// ModerationConfig holds prompt moderation configuration
type ModerationConfig struct {
	Enabled         bool     `json:"enabled" mapstructure:"enabled"`
	MaxPromptLength int      `json:"max_prompt_length" mapstructure:"max_prompt_length"`
	BlockedTerms    []string `json:"blocked_terms" mapstructure:"blocked_terms"`
	BlockedPatterns []string `json:"blocked_patterns" mapstructure:"blocked_patterns"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// TelemetryConfig holds tracing configuration
type TelemetryConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:5173", "http://127.0.0.1:5173"},
			ShutdownTimeout: 10,
		},
		Models: ModelsConfig{
			TextProvider: "openai",
			Router:       "gpt-4o-mini",
			Text:         "gpt-4o-mini",
			Image:        "gpt-image-1",
			Video:        "sora-2",
			Transcribe:   "whisper-1",
		},
		Providers: ProvidersConfig{
			Profiles: []ProviderProfile{},
		},
		Video: VideoConfig{
			Seconds:      4,
			Size:         "720x1280",
			PollInterval: 2,
		},
		Timeouts: TimeoutsConfig{
			Router:     20,
			Text:       60,
			Image:      120,
			Video:      180,
			Transcribe: 60,
		},
		Session: SessionConfig{
			MaxSessions:     0,
			IdleTTL:         86400,
			HistoryWindow:   20,
			JanitorSchedule: "@every 1m",
			DedupTTL:        600,
		},
		Assets: AssetsConfig{
			Backend:       "local",
			Dir:           "outputs",
			PublicBaseURL: "/outputs",
			Region:        "us-east-1",
		},
		Intent: IntentConfig{
			Classifier:   "llm",
			ContextLines: 6,
		},
		Moderation: ModerationConfig{
			Enabled:         true,
			MaxPromptLength: 4000,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "mosaic",
			SampleRatio: 1.0,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// OpenAI serves routing, images, video and transcription
	openai, ok := c.Providers.Profile("openai")
	if !ok || openai.APIKey == "" {
		return fmt.Errorf("no OpenAI credentials configured: set providers.profiles or OPENAI_API_KEY")
	}

	for i, profile := range c.Providers.Profiles {
		if profile.Provider == "" {
			return fmt.Errorf("provider profile %d: provider is required", i)
		}
		if profile.Provider != "openai" && profile.Provider != "anthropic" && profile.Provider != "gemini" {
			return fmt.Errorf("provider profile %d: invalid provider %s (must be: openai, anthropic, gemini)", i, profile.Provider)
		}
	}

	switch c.Models.TextProvider {
	case "openai", "":
	case "anthropic", "gemini":
		p, ok := c.Providers.Profile(c.Models.TextProvider)
		if !ok || p.APIKey == "" {
			return fmt.Errorf("text provider %s selected but no credentials configured", c.Models.TextProvider)
		}
	default:
		return fmt.Errorf("invalid text provider: %s", c.Models.TextProvider)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Session.MaxSessions < 0 {
		return fmt.Errorf("session.max_sessions must be >= 0")
	}
	if c.Session.HistoryWindow < 0 {
		return fmt.Errorf("session.history_window must be >= 0")
	}

	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return errs[0]
	}

	return nil
}

// Seconds converts a seconds setting to a duration, falling back when unset.
func Seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}
