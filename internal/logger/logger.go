package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/mosaic/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const serviceName = "mosaic"

// Logger owns the process logger and the log file behind it.
type Logger struct {
	logger zerolog.Logger
	file   io.WriteCloser
}

// Config holds logger configuration
type Config struct {
	Level     string // debug, info, warn, error
	File      string // log file path
	Console   bool   // enable console output
	Pretty    bool   // human-readable console output
	Redaction bool   // scrub provider keys and signed URLs
	MaxSize   int    // MB before rotation; 0 disables rotation
	MaxAge    int    // days to keep rotated files
	Compress  bool   // gzip rotated files
}

// FromConfig maps the logging section of the router config.
func FromConfig(c config.LoggingConfig) Config {
	return Config{
		Level:     c.Level,
		File:      c.File,
		Console:   c.Console,
		Pretty:    c.Pretty,
		Redaction: c.Redaction,
		MaxSize:   c.MaxSize,
		MaxAge:    c.MaxAge,
		Compress:  c.Compress,
	}
}

// New builds the logger and installs it as the zerolog global, which
// tracing.LoggerFromContext and the queue fall back to.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out, file, err := openOutputs(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Redaction {
		out = NewRedactor().Wrap(out)
	}

	zl := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
	log.Logger = zl

	return &Logger{logger: zl, file: file}, nil
}

// openOutputs returns the combined writer plus the file that Close must release.
func openOutputs(cfg Config) (io.Writer, io.WriteCloser, error) {
	var outs []io.Writer

	if cfg.Console {
		if cfg.Pretty {
			outs = append(outs, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		} else {
			outs = append(outs, os.Stdout)
		}
	}

	var file io.WriteCloser
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		var err error
		if cfg.MaxSize > 0 {
			file, err = NewRotatingFile(cfg.File, RotateOptions{
				MaxBytes: int64(cfg.MaxSize) << 20,
				MaxAge:   time.Duration(cfg.MaxAge) * 24 * time.Hour,
				Compress: cfg.Compress,
			})
		} else {
			file, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		outs = append(outs, file)
	}

	switch len(outs) {
	case 0:
		return os.Stdout, nil, nil
	case 1:
		return outs[0], file, nil
	default:
		return zerolog.MultiLevelWriter(outs...), file, nil
	}
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) Debug() *zerolog.Event {
	return l.logger.Debug()
}

func (l *Logger) Info() *zerolog.Event {
	return l.logger.Info()
}

func (l *Logger) Warn() *zerolog.Event {
	return l.logger.Warn()
}

func (l *Logger) Error() *zerolog.Event {
	return l.logger.Error()
}

// Component returns a child logger tagged with component=name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.logger.With().Str("component", name).Logger()
}

// GetZerolog returns the underlying zerolog.Logger
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.logger
}
