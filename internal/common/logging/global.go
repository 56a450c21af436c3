package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	globalMu     sync.RWMutex
	globalLogger Logger
)

// SetGlobalLogger replaces the process-wide logger.
func SetGlobalLogger(logger Logger) {
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// GetGlobalLogger returns the process-wide logger, creating an info-level
// console logger on stdout on first use.
func GetGlobalLogger() Logger {
	globalMu.RLock()
	logger := globalLogger
	globalMu.RUnlock()
	if logger != nil {
		return logger
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger, _ = NewZapLogger(LogConfig{Level: InfoLevel})
	}
	return globalLogger
}

// InitGlobalLogger installs the process-wide logger.
// An empty logFile keeps output on stdout; otherwise entries are appended to the file.
func InitGlobalLogger(level, logFile string, jsonFormat bool) error {
	var out io.Writer = os.Stdout
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		out = file
	}

	logger, err := NewZapLogger(LogConfig{
		Level:  ParseLevel(level),
		Output: out,
		JSON:   jsonFormat,
		Name:   "token-broker",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	SetGlobalLogger(logger)

	logger.Info("Logger initialized",
		String("level", ParseLevel(level).String()),
		String("log_file", logFile),
	)
	return nil
}

// MustSync flushes buffered entries; call it before exit.
func MustSync() {
	if s, ok := GetGlobalLogger().(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
}

func WithContext(ctx context.Context) Logger {
	return GetGlobalLogger().WithContext(ctx)
}

func WithFields(fields ...Field) Logger {
	return GetGlobalLogger().WithFields(fields...)
}

func Debug(msg string, fields ...Field) { GetGlobalLogger().Debug(msg, fields...) }
func Info(msg string, fields ...Field)  { GetGlobalLogger().Info(msg, fields...) }
func Warn(msg string, fields ...Field)  { GetGlobalLogger().Warn(msg, fields...) }

func Error(msg string, err error, fields ...Field) {
	GetGlobalLogger().Error(msg, err, fields...)
}
