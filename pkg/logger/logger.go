// Package logger wraps logrus with the printf-style helpers used across the
// codebase, plus module-tagged variants (InfoX etc.) for subsystem logs.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	std     = logrus.New()
	mu      sync.Mutex
	logFile *os.File
)

func init() {
	std.SetOutput(os.Stderr)
	std.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	std.SetLevel(logrus.InfoLevel)
}

// InitLog directs log output to the given file in addition to stderr,
// creating parent directories as needed. Pass an empty path to keep
// stderr-only logging.
func InitLog(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %q: %w", path, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
	}
	logFile = f
	std.SetOutput(io.MultiWriter(os.Stderr, f))
	return nil
}

// FlushLog syncs and closes the log file, if any.
func FlushLog() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Sync()
		_ = logFile.Close()
		logFile = nil
		std.SetOutput(os.Stderr)
	}
}

// SetLevel adjusts the global log level ("debug", "info", "warn", "error").
// Unknown values fall back to info.
func SetLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		std.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		std.SetLevel(logrus.WarnLevel)
	case "error":
		std.SetLevel(logrus.ErrorLevel)
	default:
		std.SetLevel(logrus.InfoLevel)
	}
}

// Standard returns the underlying logrus logger for callers that need
// structured fields directly.
func Standard() *logrus.Logger { return std }

func Debug(format string, args ...interface{}) { std.Debugf(format, args...) }
func Info(format string, args ...interface{})  { std.Infof(format, args...) }
func Warn(format string, args ...interface{})  { std.Warnf(format, args...) }
func Error(format string, args ...interface{}) { std.Errorf(format, args...) }

// Module-tagged variants. The module name shows up as a structured field so
// subsystem logs can be filtered.

func DebugX(module, format string, args ...interface{}) {
	std.WithField("module", module).Debugf(format, args...)
}

func InfoX(module, format string, args ...interface{}) {
	std.WithField("module", module).Infof(format, args...)
}

func WarnX(module, format string, args ...interface{}) {
	std.WithField("module", module).Warnf(format, args...)
}

func ErrorX(module, format string, args ...interface{}) {
	std.WithField("module", module).Errorf(format, args...)
}
