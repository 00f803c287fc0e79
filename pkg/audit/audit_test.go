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

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON output: %v\n%s", err, buf.String())
	}
	return entry
}

func TestNewAuditLogger(t *testing.T) {
	for _, cfg := range []*Config{
		nil,
		{Enabled: true, Format: FormatJSON},
		{Enabled: true, Format: FormatText},
		{Enabled: false},
	} {
		if NewAuditLogger(cfg) == nil {
			t.Fatal("Expected non-nil logger")
		}
	}
}

func TestLogSyncSuccess(t *testing.T) {
	var buf bytes.Buffer
	logger := NewAuditLogger(&Config{Enabled: true, Format: FormatJSON, Output: &buf})

	err := logger.LogSync(context.Background(), EventPush, "notes", 3, 2, 512, 40*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("LogSync failed: %v", err)
	}

	entry := decodeLine(t, &buf)
	if entry["event_type"] != string(EventPush) {
		t.Errorf("Expected event_type PUSH, got %v", entry["event_type"])
	}
	if entry["store"] != "notes" {
		t.Errorf("Expected store notes, got %v", entry["store"])
	}
	if entry["result"] != string(ResultSuccess) {
		t.Errorf("Expected SUCCESS, got %v", entry["result"])
	}
	if entry["records"] != 3.0 || entry["files"] != 2.0 || entry["bytes_transferred"] != 512.0 {
		t.Errorf("Unexpected counters: %v", entry)
	}
	if _, ok := entry["error"]; ok {
		t.Error("Expected no error field on success")
	}
}

func TestLogSyncFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := NewAuditLogger(&Config{Enabled: true, Format: FormatJSON, Output: &buf})

	_ = logger.LogSync(context.Background(), EventPull, "notes", 0, 0, 0, 0, errors.New("offline"))

	entry := decodeLine(t, &buf)
	if entry["result"] != string(ResultFailure) {
		t.Errorf("Expected FAILURE, got %v", entry["result"])
	}
	if entry["error"] != "offline" {
		t.Errorf("Expected error message, got %v", entry["error"])
	}
	if _, ok := entry["records"]; ok {
		t.Error("Expected zero counters to be omitted")
	}
}

func TestLogStoreCreatedText(t *testing.T) {
	var buf bytes.Buffer
	logger := NewAuditLogger(&Config{Enabled: true, Format: FormatText, Output: &buf})

	_ = logger.LogStoreCreated(context.Background(), "journal", nil)

	out := buf.String()
	if !strings.Contains(out, "event_type=STORE_CREATED") || !strings.Contains(out, "store=journal") {
		t.Errorf("Unexpected text output: %s", out)
	}
}

func TestLogEventMetadata(t *testing.T) {
	var buf bytes.Buffer
	logger := NewAuditLogger(&Config{Enabled: true, Format: FormatJSON, Output: &buf, IncludeMetadata: true})

	_ = logger.LogEvent(context.Background(), &AuditEvent{
		EventType: EventActionsStaged,
		Store:     "notes",
		Result:    ResultSuccess,
		Metadata:  map[string]any{"overlap": true},
	})

	entry := decodeLine(t, &buf)
	if entry["metadata"] != `{"overlap":true}` {
		t.Errorf("Expected metadata JSON, got %v", entry["metadata"])
	}
	if entry["timestamp"] == nil {
		t.Error("Expected timestamp to be set")
	}
}

func TestDisabledLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewAuditLogger(&Config{Enabled: false, Output: &buf})

	_ = logger.LogSync(context.Background(), EventPull, "notes", 1, 1, 1, 0, nil)
	_ = logger.LogEvent(context.Background(), nil)

	if buf.Len() != 0 {
		t.Errorf("Expected no output from disabled logger, got %s", buf.String())
	}
}

func TestNoOpAuditLogger(t *testing.T) {
	logger := NewNoOpAuditLogger()
	ctx := context.Background()
	if err := logger.LogEvent(ctx, &AuditEvent{}); err != nil {
		t.Error(err)
	}
	if err := logger.LogSync(ctx, EventPush, "s", 1, 1, 1, time.Second, nil); err != nil {
		t.Error(err)
	}
	if err := logger.LogStoreCreated(ctx, "s", nil); err != nil {
		t.Error(err)
	}
}
