// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-objsync.
//
// go-objsync is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package audit records an append-only trail of sync operations.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	// EventPull indicates a store was pulled from the backend
	EventPull EventType = "PULL"

	// EventPush indicates staged actions were pushed to the backend
	EventPush EventType = "PUSH"

	// EventActionsStaged indicates actions were appended to the action log
	EventActionsStaged EventType = "ACTIONS_STAGED"

	// EventStoreCreated indicates a remote store was created
	EventStoreCreated EventType = "STORE_CREATED"

	// EventAssetAccessed indicates an asset was downloaded
	EventAssetAccessed EventType = "ASSET_ACCESSED"
)

// Result represents the outcome of an audited operation
type Result string

const (
	// ResultSuccess indicates the operation succeeded
	ResultSuccess Result = "SUCCESS"

	// ResultFailure indicates the operation failed
	ResultFailure Result = "FAILURE"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`

	// Store is the store the operation targeted.
	Store string `json:"store,omitempty"`

	// Key identifies an item or asset reference, if applicable.
	Key string `json:"key,omitempty"`

	Result       Result `json:"result"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Records is the number of records pulled, pushed or staged.
	Records int `json:"records,omitempty"`

	// Files is the number of remote files read or written.
	Files int `json:"files,omitempty"`

	BytesTransferred int64         `json:"bytes_transferred,omitempty"`
	Duration         time.Duration `json:"duration,omitempty"`

	// Metadata contains additional event-specific data
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AuditLogger defines the interface for audit logging
type AuditLogger interface {
	// LogEvent logs a generic audit event
	LogEvent(ctx context.Context, event *AuditEvent) error

	// LogSync logs a pull or push of store.
	LogSync(ctx context.Context, eventType EventType, store string, records, files int, bytes int64, duration time.Duration, err error) error

	// LogStoreCreated logs creation of a remote store.
	LogStoreCreated(ctx context.Context, store string, err error) error
}

// OutputFormat specifies the format for audit log output
type OutputFormat string

const (
	// FormatJSON outputs audit logs in JSON format
	FormatJSON OutputFormat = "json"

	// FormatText outputs audit logs in human-readable text format
	FormatText OutputFormat = "text"
)

// Config holds configuration for the audit logger
type Config struct {
	// Enabled determines if audit logging is active
	Enabled bool

	// Format specifies the output format (JSON or text)
	Format OutputFormat

	// Output specifies where to write logs (defaults to stdout)
	Output io.Writer

	// IncludeMetadata determines if extra metadata should be logged
	IncludeMetadata bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		Format:          FormatJSON,
		Output:          os.Stdout,
		IncludeMetadata: true,
	}
}

// DefaultAuditLogger implements AuditLogger using slog
type DefaultAuditLogger struct {
	config *Config
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger with the specified configuration
func NewAuditLogger(config *Config) AuditLogger {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Output == nil {
		config.Output = os.Stdout
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch config.Format {
	case FormatText:
		handler = slog.NewTextHandler(config.Output, opts)
	default:
		handler = slog.NewJSONHandler(config.Output, opts)
	}

	return &DefaultAuditLogger{
		config: config,
		logger: slog.New(handler),
	}
}

// LogEvent logs a generic audit event
func (a *DefaultAuditLogger) LogEvent(ctx context.Context, event *AuditEvent) error {
	if !a.config.Enabled || event == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []slog.Attr{
		slog.Time("timestamp", event.Timestamp),
		slog.String("event_type", string(event.EventType)),
		slog.String("result", string(event.Result)),
	}
	if event.Store != "" {
		attrs = append(attrs, slog.String("store", event.Store))
	}
	if event.Key != "" {
		attrs = append(attrs, slog.String("key", event.Key))
	}
	if event.ErrorMessage != "" {
		attrs = append(attrs, slog.String("error", event.ErrorMessage))
	}
	if event.Records > 0 {
		attrs = append(attrs, slog.Int("records", event.Records))
	}
	if event.Files > 0 {
		attrs = append(attrs, slog.Int("files", event.Files))
	}
	if event.BytesTransferred > 0 {
		attrs = append(attrs, slog.Int64("bytes_transferred", event.BytesTransferred))
	}
	if event.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", event.Duration))
	}
	if a.config.IncludeMetadata && len(event.Metadata) > 0 {
		metadataJSON, _ := json.Marshal(event.Metadata) //nolint:errcheck // marshaling simple map types is safe
		attrs = append(attrs, slog.String("metadata", string(metadataJSON)))
	}

	a.logger.LogAttrs(ctx, slog.LevelInfo, "Audit event: "+string(event.EventType), attrs...)
	return nil
}

// LogSync logs a pull or push of store.
func (a *DefaultAuditLogger) LogSync(ctx context.Context, eventType EventType, store string, records, files int, bytes int64, duration time.Duration, err error) error {
	event := &AuditEvent{
		EventType:        eventType,
		Store:            store,
		Result:           ResultSuccess,
		Records:          records,
		Files:            files,
		BytesTransferred: bytes,
		Duration:         duration,
	}
	if err != nil {
		event.Result = ResultFailure
		event.ErrorMessage = err.Error()
	}
	return a.LogEvent(ctx, event)
}

// LogStoreCreated logs creation of a remote store.
func (a *DefaultAuditLogger) LogStoreCreated(ctx context.Context, store string, err error) error {
	event := &AuditEvent{EventType: EventStoreCreated, Store: store, Result: ResultSuccess}
	if err != nil {
		event.Result = ResultFailure
		event.ErrorMessage = err.Error()
	}
	return a.LogEvent(ctx, event)
}

// NoOpAuditLogger discards every event.
type NoOpAuditLogger struct{}

// NewNoOpAuditLogger creates a no-op audit logger
func NewNoOpAuditLogger() AuditLogger {
	return &NoOpAuditLogger{}
}

func (n *NoOpAuditLogger) LogEvent(ctx context.Context, event *AuditEvent) error { return nil }

func (n *NoOpAuditLogger) LogSync(ctx context.Context, eventType EventType, store string, records, files int, bytes int64, duration time.Duration, err error) error {
	return nil
}

func (n *NoOpAuditLogger) LogStoreCreated(ctx context.Context, store string, err error) error {
	return nil
}
