package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harun/mosaic/internal/config"
	"github.com/harun/mosaic/internal/logger"
	"github.com/harun/mosaic/internal/observability"
	"github.com/harun/mosaic/internal/tracing"
	"github.com/harun/mosaic/pkg/capability"
	"github.com/harun/mosaic/pkg/commandqueue"
	"github.com/harun/mosaic/pkg/conversation"
	"github.com/harun/mosaic/pkg/intent"
	"github.com/harun/mosaic/pkg/moderation"
	"github.com/harun/mosaic/pkg/orchestrator"
	"github.com/harun/mosaic/pkg/server"
	"github.com/harun/mosaic/pkg/session"
	"github.com/harun/mosaic/pkg/storage"
	"golang.org/x/sync/errgroup"
)

// Daemon owns every long-lived component of the router process.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	queue        *commandqueue.CommandQueue
	store        *session.MemoryStore
	assets       *storage.AssetStore
	caps         capability.Set
	rules        *intent.RuleSet
	classifier   intent.Classifier
	filter       *moderation.ContentFilter
	hub          *conversation.Hub
	orchestrator *orchestrator.Orchestrator

	// Services
	server    *server.Server
	janitor   *session.Janitor
	watcher   *intent.RulesWatcher
	lifecycle *LifecycleManager

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
	// injected capabilities skip the provider factory
	injectedCaps *capability.Set
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithCapabilities uses set instead of building providers from config.
func WithCapabilities(set capability.Set) Option {
	return func(d *Daemon) {
		d.injectedCaps = &set
	}
}

// Status is a snapshot of the running daemon.
type Status struct {
	Running  bool          `json:"running"`
	Uptime   time.Duration `json:"uptime"`
	Sessions int           `json:"sessions"`
	Lanes    int           `json:"lanes"`
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
	}
	for _, opt := range opts {
		opt(d)
	}

	if cfg.Telemetry.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Telemetry.ServiceName, cfg.Telemetry.SampleRatio); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Float64("sample_ratio", cfg.Telemetry.SampleRatio).Msg("Tracing initialized")
		}
	}

	if err := d.initializeCoreModules(); err != nil {
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		_ = d.queue.Close()
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return d, nil
}

// initializeCoreModules initializes all core modules
func (d *Daemon) initializeCoreModules() error {
	cfg := d.config

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	auditPath := cfg.Server.AuditLog
	if auditPath == "" {
		auditPath = filepath.Join(cfg.DataDir, "audit.log")
	}
	if err := observability.InitAuditLogger(auditPath); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
	} else {
		d.logger.Info().Str("path", auditPath).Msg("Audit logger initialized")
	}

	assets, err := storage.NewAssetStoreFromConfig(cfg.Assets)
	if err != nil {
		return fmt.Errorf("failed to create asset store: %w", err)
	}
	d.assets = assets
	d.logger.Info().Str("backend", cfg.Assets.Backend).Msg("Asset store initialized")

	if d.injectedCaps != nil {
		d.caps = *d.injectedCaps
	} else {
		factory := &capability.ProviderFactory{}
		caps, err := factory.NewSet(context.Background(), cfg, assets)
		if err != nil {
			return fmt.Errorf("failed to create capabilities: %w", err)
		}
		d.caps = caps
	}
	d.logger.Info().Str("text_provider", cfg.Models.TextProvider).Msg("Capabilities initialized")

	d.queue = commandqueue.New(commandqueue.Options{
		DedupTTL: config.Seconds(cfg.Session.DedupTTL, 10*time.Minute),
	})
	d.logger.Info().Msg("Command queue initialized")

	d.store = session.NewMemoryStore(session.MemoryOptions{
		MaxSessions: cfg.Session.MaxSessions,
		IdleTTL:     config.Seconds(cfg.Session.IdleTTL, session.DefaultIdleTTL),
	})

	d.rules = intent.NewRuleSet(intent.RulesFromConfig(cfg.Intent.Rules))
	if cfg.Intent.RulesFile != "" {
		d.watcher = intent.NewRulesWatcher(cfg.Intent.RulesFile, cfg.Intent.Rules, d.rules)
	}

	switch {
	case cfg.Intent.Classifier == "keyword" || d.caps.Structured == nil:
		d.classifier = intent.NewKeywordClassifier(d.rules)
		d.logger.Info().Msg("Keyword intent classifier initialized")
	default:
		d.classifier = intent.NewLLMClassifier(d.caps.Structured, d.rules, intent.LLMOptions{
			ContextLines: cfg.Intent.ContextLines,
		})
		d.logger.Info().Str("model", cfg.Models.Router).Msg("LLM intent classifier initialized")
	}

	filter, err := moderation.New(cfg.Moderation)
	if err != nil {
		return fmt.Errorf("failed to create content filter: %w", err)
	}
	d.filter = filter
	d.logger.Info().Bool("enabled", cfg.Moderation.Enabled).Msg("Content moderation initialized")

	d.hub = conversation.NewHub(0, d.logger.Component("hub"))

	d.orchestrator = orchestrator.New(d.store, d.classifier, d.caps, d.queue,
		orchestrator.WithModeration(d.filter),
		orchestrator.WithPublisher(d.hub),
		orchestrator.WithHistoryWindow(cfg.Session.HistoryWindow),
		orchestrator.WithVideoDefaults(cfg.Video.Seconds, cfg.Video.Size),
	)
	d.logger.Info().Int("history_window", cfg.Session.HistoryWindow).Msg("Orchestrator initialized")

	return nil
}

// initializeServices initializes the HTTP server and background jobs
func (d *Daemon) initializeServices() error {
	cfg := d.config

	srvCfg := server.Config{
		Addr:            cfg.Server.Addr(),
		CORSOrigins:     cfg.Server.CORSOrigins,
		ShutdownTimeout: config.Seconds(cfg.Server.ShutdownTimeout, 10*time.Second),
		Turns:           d.orchestrator,
		Store:           d.store,
		Hub:             d.hub,
		Logger:          d.logger.Component("server"),
	}
	// Local assets are served by us; S3 assets are served by the bucket.
	if local, ok := d.assets.Files().(*storage.Local); ok {
		srvCfg.OutputsDir = local.Root()
		if strings.HasPrefix(cfg.Assets.PublicBaseURL, "/") {
			srvCfg.OutputsPath = cfg.Assets.PublicBaseURL
		}
	}

	srv, err := server.New(srvCfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	d.server = srv

	d.janitor = session.NewJanitor(d.store, d.queue, cfg.Session.JanitorSchedule)
	d.lifecycle = NewLifecycleManager(cfg.DataDir)

	return nil
}

// Run serves until ctx is cancelled or a service fails, then shuts down.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	if err := d.lifecycle.Start(); err != nil {
		return err
	}

	d.logger.Info().
		Str("addr", d.config.Server.Addr()).
		Int("pid", os.Getpid()).
		Msg("Mosaic daemon started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(d.server.Start)
	g.Go(func() error {
		return d.janitor.Run(gctx)
	})
	if d.watcher != nil {
		g.Go(func() error {
			return d.watcher.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return d.server.Stop(context.Background())
	})

	err := g.Wait()
	d.shutdown()

	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// shutdown releases everything Run started.
func (d *Daemon) shutdown() {
	d.logger.Info().Msg("Shutting down daemon")

	// Let turns already running commit before their contexts are cancelled.
	d.queue.WaitForActive(config.Seconds(d.config.Server.ShutdownTimeout, 10*time.Second))
	if err := d.queue.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to close command queue")
	}
	if err := observability.GetAuditLogger().Close(); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to close audit log")
	}
	d.shutdownTracing()
	if err := d.lifecycle.Stop(); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	d.logger.Info().Msg("Daemon stopped")
}

func (d *Daemon) shutdownTracing() {
	if !d.tracingEnabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to shutdown tracing")
	}
	d.tracingEnabled = false
}

// Status returns the current daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st := Status{
		Running:  d.running,
		Sessions: d.store.Len(),
		Lanes:    len(d.queue.GetStats()),
	}
	if d.running {
		st.Uptime = time.Since(d.startTime)
	}
	return st
}

// Orchestrator returns the turn orchestrator.
func (d *Daemon) Orchestrator() *orchestrator.Orchestrator {
	return d.orchestrator
}

// Server returns the HTTP server.
func (d *Daemon) Server() *server.Server {
	return d.server
}

// Store returns the session store.
func (d *Daemon) Store() *session.MemoryStore {
	return d.store
}
