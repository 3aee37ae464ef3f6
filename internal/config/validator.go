package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

var (
	validVideoSeconds = []int{4, 8, 12}
	validVideoSizes   = []string{"720x1280", "1280x720", "1024x1792", "1792x1024"}
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateVideoSeconds validates the default clip length
func (v *Validator) ValidateVideoSeconds(seconds int) error {
	for _, valid := range validVideoSeconds {
		if seconds == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid video seconds: %d (must be one of: 4, 8, 12)", seconds)
}

// ValidateVideoSize validates the default video resolution
func (v *Validator) ValidateVideoSize(size string) error {
	for _, valid := range validVideoSizes {
		if size == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid video size: %s (must be one of: %s)", size, strings.Join(validVideoSizes, ", "))
}

// ValidateAssetsBackend validates the asset backend and its required fields
func (v *Validator) ValidateAssetsBackend(assets AssetsConfig) error {
	switch assets.Backend {
	case "local":
		if assets.Dir == "" {
			return fmt.Errorf("assets.dir is required for the local backend")
		}
	case "s3":
		if assets.Bucket == "" {
			return fmt.Errorf("assets.bucket is required for the s3 backend")
		}
		if assets.Region == "" {
			return fmt.Errorf("assets.region is required for the s3 backend")
		}
	default:
		return fmt.Errorf("invalid assets backend: %s (must be one of: local, s3)", assets.Backend)
	}
	return nil
}

// ValidateClassifier validates the classifier kind
func (v *Validator) ValidateClassifier(kind string) error {
	if kind == "llm" || kind == "keyword" {
		return nil
	}
	return fmt.Errorf("invalid intent classifier: %s (must be one of: llm, keyword)", kind)
}

// ValidateSchedule validates a cron schedule expression
func (v *Validator) ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSampleRatio validates the trace sample ratio
func (v *Validator) ValidateSampleRatio(ratio float64) error {
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("sample ratio must be between 0 and 1, got %f", ratio)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for i, profile := range cfg.Providers.Profiles {
		if profile.Provider != "" {
			if err := v.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
				errors = append(errors, fmt.Errorf("provider profile %d (%s): %w", i, profile.ID, err))
			}
		}
	}

	if err := v.ValidateVideoSeconds(cfg.Video.Seconds); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateVideoSize(cfg.Video.Size); err != nil {
		errors = append(errors, err)
	}
	if cfg.Video.PollInterval <= 0 {
		errors = append(errors, fmt.Errorf("video.poll_interval must be positive"))
	}

	for name, secs := range map[string]int{
		"router":     cfg.Timeouts.Router,
		"text":       cfg.Timeouts.Text,
		"image":      cfg.Timeouts.Image,
		"video":      cfg.Timeouts.Video,
		"transcribe": cfg.Timeouts.Transcribe,
	} {
		if secs < 0 {
			errors = append(errors, fmt.Errorf("timeouts.%s must be >= 0", name))
		}
	}

	if err := v.ValidateAssetsBackend(cfg.Assets); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateClassifier(cfg.Intent.Classifier); err != nil {
		errors = append(errors, err)
	}
	if cfg.Session.JanitorSchedule != "" {
		if err := v.ValidateSchedule(cfg.Session.JanitorSchedule); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Moderation.MaxPromptLength < 0 {
		errors = append(errors, fmt.Errorf("moderation.max_prompt_length must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateSampleRatio(cfg.Telemetry.SampleRatio); err != nil {
		errors = append(errors, err)
	}

	return errors
}
