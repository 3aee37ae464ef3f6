package cli

import (
	"fmt"

	"github.com/harun/mosaic/internal/config"
	"github.com/spf13/cobra"
)

var configureOpts struct {
	openAIKey    string
	anthropicKey string
	geminiKey    string
	textProvider string
	classifier   string
	host         string
	port         int
	assetsDir    string
	bucket       string
}

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write the configuration file",
	Long: `Write the configuration file from flags.
Existing settings are kept; only the flags you pass are changed. The result is
validated before it is saved.`,
	RunE: runConfigure,
}

func init() {
	f := configureCmd.Flags()
	f.StringVar(&configureOpts.openAIKey, "openai-key", "", "OpenAI API key")
	f.StringVar(&configureOpts.anthropicKey, "anthropic-key", "", "Anthropic API key")
	f.StringVar(&configureOpts.geminiKey, "gemini-key", "", "Gemini API key")
	f.StringVar(&configureOpts.textProvider, "text-provider", "", "text generation provider (openai, anthropic, gemini)")
	f.StringVar(&configureOpts.classifier, "classifier", "", "intent classifier (llm, keyword)")
	f.StringVar(&configureOpts.host, "host", "", "HTTP listen host")
	f.IntVar(&configureOpts.port, "port", 0, "HTTP listen port")
	f.StringVar(&configureOpts.assetsDir, "assets-dir", "", "directory for generated images and videos")
	f.StringVar(&configureOpts.bucket, "s3-bucket", "", "store generated assets in this S3 bucket")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	applyConfigureFlags(cmd, cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Save configuration
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration saved to: %s\n", loader.GetConfigPath())
	fmt.Fprintln(out, "You can now start Mosaic with: mosaic serve")
	return nil
}

func applyConfigureFlags(cmd *cobra.Command, cfg *config.Config) {
	changed := func(name string) bool { return cmd.Flags().Changed(name) }

	if changed("openai-key") {
		setProfileKey(cfg, "openai", configureOpts.openAIKey)
	}
	if changed("anthropic-key") {
		setProfileKey(cfg, "anthropic", configureOpts.anthropicKey)
	}
	if changed("gemini-key") {
		setProfileKey(cfg, "gemini", configureOpts.geminiKey)
	}
	if changed("text-provider") {
		cfg.Models.TextProvider = configureOpts.textProvider
	}
	if changed("classifier") {
		cfg.Intent.Classifier = configureOpts.classifier
	}
	if changed("host") {
		cfg.Server.Host = configureOpts.host
	}
	if changed("port") {
		cfg.Server.Port = configureOpts.port
	}
	if changed("assets-dir") {
		cfg.Assets.Backend = "local"
		cfg.Assets.Dir = configureOpts.assetsDir
	}
	if changed("s3-bucket") {
		cfg.Assets.Backend = "s3"
		cfg.Assets.Bucket = configureOpts.bucket
	}
}

// setProfileKey replaces the key of the first profile for provider, adding one if needed.
func setProfileKey(cfg *config.Config, provider, key string) {
	for i := range cfg.Providers.Profiles {
		if cfg.Providers.Profiles[i].Provider == provider {
			cfg.Providers.Profiles[i].APIKey = key
			return
		}
	}
	cfg.Providers.Profiles = append(cfg.Providers.Profiles, config.ProviderProfile{
		ID:       provider + "-default",
		Provider: provider,
		APIKey:   key,
	})
}
