// Package logging configures the logrus logger shared by the simulation tools.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level  string // logrus level name; "" means info
	Format string // "text" or "json"
	Output string // "stdout", "stderr", or a file path
	// MaxAgeDays enables lumberjack rotation for file output when > 0.
	MaxAgeDays int
}

// ConfigFromEnv reads MARKETSIM_LOG_LEVEL, MARKETSIM_LOG_FORMAT and MARKETSIM_LOG_OUTPUT.
func ConfigFromEnv() Config {
	return Config{
		Level:  os.Getenv("MARKETSIM_LOG_LEVEL"),
		Format: os.Getenv("MARKETSIM_LOG_FORMAT"),
		Output: os.Getenv("MARKETSIM_LOG_OUTPUT"),
	}
}

func New(cfg Config) (*logrus.Logger, error) {
	l := logrus.New()

	level := strings.ToLower(strings.TrimSpace(cfg.Level))
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q", cfg.Level)
	}
	l.SetLevel(lvl)

	callerPrettyfier := func(f *runtime.Frame) (string, string) {
		return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: callerPrettyfier,
		})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
			CallerPrettyfier: callerPrettyfier,
		})
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	switch out := strings.TrimSpace(cfg.Output); out {
	case "", "stdout":
		l.SetOutput(os.Stdout)
	case "stderr":
		l.SetOutput(os.Stderr)
	default:
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return nil, err
		}
		if cfg.MaxAgeDays > 0 {
			l.SetOutput(&lumberjack.Logger{
				Filename: out,
				MaxAge:   cfg.MaxAgeDays,
				MaxSize:  100,
				Compress: true,
			})
		} else {
			f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open log file %q: %w", out, err)
			}
			l.SetOutput(f)
		}
	}
	return l, nil
}

// Discard returns a logger that drops everything, for tests and library defaults.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func WithComponent(l logrus.FieldLogger, component string) *logrus.Entry {
	return l.WithField("component", component)
}
