package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Log levels
const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

var base atomic.Pointer[zerolog.Logger]

// Logger is a component-scoped levelled logger
type Logger struct {
	component string
}

// Options configures the process-wide log sink
type Options struct {
	// Level is one of debug, info, warn, error. Empty picks a default from ENV.
	Level string
	// File, when set, receives a copy of every log line.
	File string
}

func init() {
	// Default to INFO in production, DEBUG in development
	if IsDevelopment() {
		zerolog.SetGlobalLevel(LevelDebug)
	} else {
		zerolog.SetGlobalLevel(LevelInfo)
	}
	l := zerolog.New(consoleWriter(os.Stdout)).With().Timestamp().Logger()
	base.Store(&l)
}

func consoleWriter(w io.Writer) io.Writer {
	if GetAppEnv() == "production" {
		return w
	}
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
}

// Init configures the sink and level. The returned closer releases the log file, if any.
func Init(opts Options) (io.Closer, error) {
	if lvl := strings.TrimSpace(opts.Level); lvl != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(lvl))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		SetMinLevel(parsed)
	}

	var out io.Writer = consoleWriter(os.Stdout)
	var closer io.Closer = io.NopCloser(nil)
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		// file always gets JSON lines
		out = zerolog.MultiLevelWriter(out, f)
		closer = f
	}

	l := zerolog.New(out).With().Timestamp().Logger()
	base.Store(&l)
	return closer, nil
}

// SetOutput redirects all loggers to w, mostly useful in tests
func SetOutput(w io.Writer) {
	l := zerolog.New(w).With().Timestamp().Logger()
	base.Store(&l)
}

// New creates a new logger for a specific component
func New(component string) *Logger {
	return &Logger{component: component}
}

// SetMinLevel allows changing the minimum log level at runtime
func SetMinLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// Zerolog exposes the underlying logger with the component attached
func (l *Logger) Zerolog() zerolog.Logger {
	return base.Load().With().Str("component", l.component).Logger()
}

func (l *Logger) logf(level zerolog.Level, format string, args ...interface{}) {
	base.Load().WithLevel(level).Str("component", l.component).Msgf(format, args...)
}

// Debug logs debug information
func (l *Logger) Debug(format string, args ...interface{}) {
	l.logf(LevelDebug, format, args...)
}

// Info logs information messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.logf(LevelInfo, format, args...)
}

// Warn logs warning messages
func (l *Logger) Warn(format string, args ...interface{}) {
	l.logf(LevelWarn, format, args...)
}

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.logf(LevelError, format, args...)
}

// GetAppEnv returns the current application environment
func GetAppEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "development" // Default to development
	}
	return env
}

// IsDevelopment returns true if the current environment is development
func IsDevelopment() bool {
	return GetAppEnv() == "development"
}
