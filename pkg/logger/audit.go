package logger

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType string
	UserID    string
	IPAddress string
	UserAgent string
	Success   bool
	RiskLevel string
	Timestamp time.Time
	Details   map[string]interface{}
}

// AuditLogger writes audit events to the structured log as they happen.
// Durable storage is handled separately.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// Log emits event at a level derived from its risk and outcome.
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("risk_level", event.RiskLevel),
		slog.String("timestamp", ts.UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	for key, val := range event.Details {
		attrs = append(attrs, slog.String(key, fmt.Sprint(val)))
	}

	al.logger.LogAttrs(ctx, levelFor(event), "audit", attrs...)
}

func levelFor(event AuditEvent) slog.Level {
	switch event.RiskLevel {
	case "critical":
		return slog.LevelError
	case "high":
		return slog.LevelWarn
	}
	if !event.Success {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}
