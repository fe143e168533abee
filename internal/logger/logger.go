// Package logger configures the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps zerolog for application logging.
type Logger struct {
	zerolog.Logger
	rotator  *lumberjack.Logger
	recorder *Recorder
}

// Config holds logger configuration.
type Config struct {
	Level      string
	Format     string // "console" or "json"
	Path       string // directory for log files; empty disables the file
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// RecentEntries sizes the in-memory buffer served by the API. Zero
	// disables it.
	RecentEntries int

	// Output overrides stdout, mostly for tests.
	Output io.Writer
}

// New creates a new logger instance.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var consoleOutput io.Writer = out
	if cfg.Format != "json" {
		consoleOutput = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	writers := []io.Writer{consoleOutput}

	var rotator *lumberjack.Logger
	if cfg.Path != "" {
		if err := os.MkdirAll(cfg.Path, 0o755); err == nil {
			rotator = &lumberjack.Logger{
				Filename:   filepath.Join(cfg.Path, "acquire.log"),
				MaxSize:    orDefault(cfg.MaxSizeMB, 10),
				MaxBackups: orDefault(cfg.MaxBackups, 5),
				MaxAge:     orDefault(cfg.MaxAgeDays, 30),
				Compress:   cfg.Compress,
				LocalTime:  true,
			}
			writers = append(writers, rotator)
		}
	}

	var recorder *Recorder
	if cfg.RecentEntries > 0 {
		recorder = NewRecorder(cfg.RecentEntries)
		writers = append(writers, recorder)
	}

	var output io.Writer = consoleOutput
	if len(writers) > 1 {
		output = io.MultiWriter(writers...)
	}

	logger := zerolog.New(output).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()

	return &Logger{Logger: logger, rotator: rotator, recorder: recorder}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Close closes the log file if one is open.
func (l *Logger) Close() error {
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

// Recorder returns the recent entry buffer, or nil when disabled.
func (l *Logger) Recorder() *Recorder {
	return l.recorder
}

// Recent returns buffered entries for the API.
func (l *Logger) Recent(component string) []Entry {
	if l.recorder == nil {
		return nil
	}
	return l.recorder.Recent(component)
}

// FilePath is the active log file, empty when file logging is off.
func (l *Logger) FilePath() string {
	if l.rotator == nil {
		return ""
	}
	return l.rotator.Filename
}

// parseLevel converts string level to zerolog.Level
func parseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithComponent returns a new logger with component field.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger:   l.Logger.With().Str("component", component).Logger(),
		recorder: l.recorder,
	}
}
