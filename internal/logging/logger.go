package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Option configures RuntimeLogger creation.
type Option func(*newOptions)

type newOptions struct {
	runID string
	level log.Level
}

// WithRunID overrides the generated run_id field used in emitted records.
func WithRunID(runID string) Option {
	return func(opts *newOptions) {
		opts.runID = strings.TrimSpace(runID)
	}
}

// WithLevel configures the minimum emitted log level.
func WithLevel(level log.Level) Option {
	return func(opts *newOptions) {
		opts.level = level
	}
}

// RuntimeLogger writes structured JSON logs to disk, never to stdout.
type RuntimeLogger struct {
	Logger     *log.Logger
	file       *os.File
	path       string
	baseLogger *log.Logger
	runID      string
	sessionID  string
}

// New initializes logging under ~/.ocp/logs.
func New(options ...Option) (*RuntimeLogger, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	return newAt(filepath.Join(homeDir, ".ocp", "logs"), options...)
}

func newAt(logDir string, options ...Option) (*RuntimeLogger, error) {
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	resolved := newOptions{level: log.InfoLevel}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(&resolved)
	}
	if resolved.runID == "" {
		resolved.runID = uuid.NewString()
	}

	timestamp := time.Now().UTC().Format("20060102-150405")
	filePath := filepath.Join(logDir, fmt.Sprintf("ocp-%s-%s.log", timestamp, shortID(resolved.runID)))
	// #nosec G304 -- filePath is constructed from trusted local paths.
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logger := log.NewWithOptions(file, log.Options{
		Level:           resolved.level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	logger.SetFormatter(log.JSONFormatter)

	runtimeLogger := &RuntimeLogger{
		file:       file,
		path:       filePath,
		baseLogger: logger,
		runID:      resolved.runID,
	}
	runtimeLogger.rebuildLogger()
	runtimeLogger.Logger.With("log_file", filePath).Info("logger initialized")

	return runtimeLogger, nil
}

// RunID returns the correlation id stamped on every record.
func (r *RuntimeLogger) RunID() string {
	if r == nil {
		return ""
	}
	return r.runID
}

// WithSessionID updates the session_id field for subsequent records.
func (r *RuntimeLogger) WithSessionID(sessionID string) *RuntimeLogger {
	if r == nil {
		return nil
	}
	r.sessionID = strings.TrimSpace(sessionID)
	r.rebuildLogger()
	return r
}

// Close flushes and closes the log file.
func (r *RuntimeLogger) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Close()
}

// Path returns the current log file path.
func (r *RuntimeLogger) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

func (r *RuntimeLogger) rebuildLogger() {
	if r == nil || r.baseLogger == nil {
		return
	}
	r.Logger = r.baseLogger.With(
		"run_id", r.runID,
		"session_id", r.sessionID,
	)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
