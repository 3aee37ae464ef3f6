package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/mosaic/internal/config"
	"github.com/harun/mosaic/pkg/storage"
)

// TimeoutsFromConfig converts configured seconds to Timeouts.
func TimeoutsFromConfig(cfg config.TimeoutsConfig) Timeouts {
	return Timeouts{
		Structured: config.Seconds(cfg.Router, 20*time.Second),
		Text:       config.Seconds(cfg.Text, 60*time.Second),
		Image:      config.Seconds(cfg.Image, 120*time.Second),
		Video:      config.Seconds(cfg.Video, 180*time.Second),
		Transcribe: config.Seconds(cfg.Transcribe, 60*time.Second),
	}
}

// ProviderFactory builds capability sets from configuration
type ProviderFactory struct {
	// NewGemini is swapped in tests
	NewGemini func(ctx context.Context, apiKey, baseURL, model string) (TextGenerator, error)
}

// NewSet wires every capability for cfg. OpenAI serves routing, images,
// video and transcription; text goes to cfg.Models.TextProvider.
// The returned set is already guarded.
func (f *ProviderFactory) NewSet(ctx context.Context, cfg *config.Config, assets *storage.AssetStore) (Set, error) {
	profile, ok := cfg.Providers.Profile("openai")
	if !ok || profile.APIKey == "" {
		return Set{}, fmt.Errorf("openai credentials are required")
	}

	oa := NewOpenAI(OpenAIConfig{
		APIKey:       profile.APIKey,
		BaseURL:      profile.BaseURL,
		Models:       cfg.Models,
		PollInterval: config.Seconds(cfg.Video.PollInterval, 2*time.Second),
	}, assets)

	text, err := f.NewText(ctx, cfg, oa)
	if err != nil {
		return Set{}, err
	}

	set := Set{
		Text:        text,
		Image:       oa,
		Video:       oa,
		Transcriber: oa,
		Structured:  oa,
	}
	return Guard(set, TimeoutsFromConfig(cfg.Timeouts)), nil
}

// NewText selects the text engine named by cfg.Models.TextProvider.
func (f *ProviderFactory) NewText(ctx context.Context, cfg *config.Config, oa *OpenAI) (TextGenerator, error) {
	switch cfg.Models.TextProvider {
	case "", "openai":
		return oa, nil
	case "anthropic":
		profile, ok := cfg.Providers.Profile("anthropic")
		if !ok || profile.APIKey == "" {
			return nil, fmt.Errorf("anthropic credentials are required")
		}
		return NewAnthropic(profile.APIKey, profile.BaseURL, cfg.Models.Text), nil
	case "gemini":
		profile, ok := cfg.Providers.Profile("gemini")
		if !ok || profile.APIKey == "" {
			return nil, fmt.Errorf("gemini credentials are required")
		}
		newGemini := f.NewGemini
		if newGemini == nil {
			newGemini = func(ctx context.Context, apiKey, baseURL, model string) (TextGenerator, error) {
				return NewGemini(ctx, apiKey, baseURL, model)
			}
		}
		return newGemini(ctx, profile.APIKey, profile.BaseURL, cfg.Models.Text)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Models.TextProvider)
	}
}
