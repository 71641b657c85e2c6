package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogLevel represents the log level.
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogEntry represents a structured log entry.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Service   string    `json:"service"`
	Operation string    `json:"operation,omitempty"`
	BatchID   string    `json:"download_id,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Logger is a structured JSON logger writing one entry per line. Entries can
// additionally be fanned out to a broadcast hook (used to push server events
// to websocket clients).
type Logger struct {
	logPath   string
	file      *os.File
	mu        sync.Mutex
	service   string
	broadcast func(LogEntry)
}

// NewLogger creates a logger appending to logPath. service names the
// component emitting the entries.
func NewLogger(logPath, service string) (*Logger, error) {
	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &Logger{
		logPath: logPath,
		file:    file,
		service: service,
	}, nil
}

// NewNop returns a logger that discards everything. Useful in tests.
func NewNop() *Logger {
	return &Logger{service: "test"}
}

// SetBroadcast installs a hook invoked with every entry after it is written.
// The hook must not block.
func (l *Logger) SetBroadcast(fn func(LogEntry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.broadcast = fn
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) log(level LogLevel, message, operation, batchID string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		Service:   l.service,
		Operation: operation,
		BatchID:   batchID,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	if l.file != nil {
		jsonData, marshalErr := json.Marshal(entry)
		if marshalErr != nil {
			_, _ = fmt.Fprintf(l.file, "{\"timestamp\":\"%s\",\"level\":\"%s\",\"message\":\"%s\",\"service\":\"%s\"}\n",
				time.Now().Format(time.RFC3339), level, message, l.service)
		} else {
			_, _ = fmt.Fprintln(l.file, string(jsonData))
		}
	}

	if l.broadcast != nil {
		l.broadcast(entry)
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string) {
	l.log(LogLevelDebug, message, "", "", nil)
}

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}

// Info logs an info message.
func (l *Logger) Info(message string) {
	l.log(LogLevelInfo, message, "", "", nil)
}

// Infof logs a formatted info message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// InfoBatch logs an info message tied to a batch.
func (l *Logger) InfoBatch(operation, batchID, message string) {
	l.log(LogLevelInfo, message, operation, batchID, nil)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string) {
	l.log(LogLevelWarn, message, "", "", nil)
}

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

// WarnBatch logs a warning tied to a batch.
func (l *Logger) WarnBatch(operation, batchID, message string) {
	l.log(LogLevelWarn, message, operation, batchID, nil)
}

// Error logs an error message.
func (l *Logger) Error(message string, err error) {
	l.log(LogLevelError, message, "", "", err)
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...), nil)
}

// ErrorBatch logs an error tied to a batch.
func (l *Logger) ErrorBatch(operation, batchID, message string, err error) {
	l.log(LogLevelError, message, operation, batchID, err)
}
