package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/harun/mosaic/internal/observability"
	"github.com/harun/mosaic/pkg/capability"
	"github.com/harun/mosaic/pkg/conversation"
	"github.com/harun/mosaic/pkg/orchestrator"
	"github.com/harun/mosaic/pkg/session"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxUploadBytes matches the transcription engine's file limit.
	DefaultMaxUploadBytes = 25 << 20

	defaultShutdownTimeout = 10 * time.Second
)

// Turns runs conversation turns and transcriptions.
type Turns interface {
	HandleMessage(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
	Transcribe(ctx context.Context, audio capability.Audio) (string, error)
}

// Config holds server configuration
type Config struct {
	Addr            string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64

	// OutputsDir is served under OutputsPath when set.
	OutputsDir  string
	OutputsPath string

	Turns  Turns
	Store  session.Store
	Hub    *conversation.Hub
	Logger zerolog.Logger
}

// Server is the HTTP front of the router.
type Server struct {
	cfg      Config
	engine   *gin.Engine
	server   *http.Server
	upgrader websocket.Upgrader
	turns    Turns
	store    session.Store
	hub      *conversation.Hub
	logger   zerolog.Logger
	started  time.Time

	// ctx is cancelled by Stop to end open streams
	ctx     context.Context
	cancel  context.CancelFunc
	streams sync.WaitGroup
}

// New creates a Server and registers its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Turns == nil {
		return nil, fmt.Errorf("turn handler is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Hub == nil {
		cfg.Hub = conversation.NewHub(0, cfg.Logger)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.OutputsPath == "" {
		cfg.OutputsPath = "/outputs"
	}

	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		turns:   cfg.Turns,
		store:   cfg.Store,
		hub:     cfg.Hub,
		logger:  cfg.Logger,
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	engine := gin.New()
	engine.Use(recovery(cfg.Logger))
	engine.Use(requestContext())
	engine.Use(accessLog(cfg.Logger))
	if len(cfg.CORSOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		if containsWildcard(cfg.CORSOrigins) {
			corsConfig.AllowAllOrigins = true
		} else {
			corsConfig.AllowOrigins = cfg.CORSOrigins
			corsConfig.AllowCredentials = true
		}
		corsConfig.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", requestIDHeader}
		corsConfig.ExposeHeaders = []string{requestIDHeader}
		corsConfig.AllowWebSockets = true
		engine.Use(cors.New(corsConfig))
	}
	s.engine = engine
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	api.POST("/message", s.handleMessage)
	api.POST("/transcribe", s.handleTranscribe)

	sessions := api.Group("/sessions")
	{
		sessions.GET("/:id/messages", s.handleTimeline)
		sessions.GET("/:id/stream", s.handleStream)
	}

	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(observability.MetricsHandler()))

	if s.cfg.OutputsDir != "" {
		s.engine.Static(s.cfg.OutputsPath, s.cfg.OutputsDir)
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens and serves until Stop. It returns nil after a clean Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting HTTP server")

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop closes open streams and drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	s.cancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	done := make(chan struct{})
	go func() {
		s.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached with streams still open")
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

// checkOrigin applies the CORS allow-list to websocket upgrades.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.CORSOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
