package logging

import (
	"log/slog"
	"log/syslog"
	"os"
	"time"
)

// RequestEntry holds all fields for a proxy request log line.
type RequestEntry struct {
	ClientIP   string
	Method     string
	Host       string
	URL        string
	Route      string
	Rule       int // -1 when the default route was used
	Upstream   string
	StatusCode int
	Duration   time.Duration
	BytesSent  int64
	BytesRecv  int64
}

// LogRequest logs a proxy request with structured fields.
func LogRequest(logger *slog.Logger, e RequestEntry) {
	logger.Info("proxy request",
		"client_ip", e.ClientIP,
		"method", e.Method,
		"host", e.Host,
		"url", e.URL,
		"route", e.Route,
		"rule", e.Rule,
		"upstream", e.Upstream,
		"status_code", e.StatusCode,
		"duration_ms", e.Duration.Milliseconds(),
		"bytes_sent", e.BytesSent,
		"bytes_received", e.BytesRecv,
	)
}

// ReloadEntry describes one attempt to replace the live rule table.
type ReloadEntry struct {
	Source  string // "startup", "sighup" or "watch"
	Path    string
	Rules   int
	Default string
	Err     error
}

// LogReload logs the outcome of a rule table reload.
func LogReload(logger *slog.Logger, e ReloadEntry) {
	if e.Err != nil {
		logger.Error("rule table rejected",
			"source", e.Source,
			"path", e.Path,
			"error", e.Err,
		)
		return
	}
	logger.Info("rule table installed",
		"source", e.Source,
		"path", e.Path,
		"rules", e.Rules,
		"default", e.Default,
	)
}

// NewSyslogLogger creates an slog.Logger that writes JSON to syslog.
// Falls back to a nil writer error if syslog is unavailable.
func NewSyslogLogger() (*slog.Logger, error) {
	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, "pac-router")
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewJSONHandler(w, nil)), nil
}

// NewStderrLogger returns a JSON logger on stderr at the given level.
func NewStderrLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
