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

package replication

import (
	"sync/atomic"
	"time"
)

// SyncMetrics tracks pull and push activity.
// All fields use atomic operations for thread-safe updates.
type SyncMetrics struct {
	// Counters
	pulls         atomic.Int64
	pushes        atomic.Int64
	recordsPulled atomic.Int64
	recordsPushed atomic.Int64
	filesUploaded atomic.Int64
	filesDeleted  atomic.Int64
	bytesUploaded atomic.Int64
	totalErrors   atomic.Int64

	// Timing
	lastSyncTime      atomic.Int64 // Unix timestamp in nanoseconds
	totalSyncDuration atomic.Int64 // Total duration in nanoseconds
	syncCount         atomic.Int64 // Number of pulls and pushes timed
}

// NewSyncMetrics creates a new metrics instance.
func NewSyncMetrics() *SyncMetrics {
	return &SyncMetrics{}
}

// RecordPull records a completed pull.
func (m *SyncMetrics) RecordPull(records int, duration time.Duration) {
	m.pulls.Add(1)
	m.recordsPulled.Add(int64(records))
	m.record(duration)
}

// RecordPush records a completed push.
func (m *SyncMetrics) RecordPush(res *PushResult, duration time.Duration) {
	m.pushes.Add(1)
	m.recordsPushed.Add(int64(res.Records))
	m.filesUploaded.Add(int64(res.Uploaded))
	m.filesDeleted.Add(int64(res.Deleted))
	m.bytesUploaded.Add(res.Bytes)
	m.record(duration)
}

// IncrementErrors increments the error counter.
func (m *SyncMetrics) IncrementErrors(count int64) {
	m.totalErrors.Add(count)
}

func (m *SyncMetrics) record(duration time.Duration) {
	m.lastSyncTime.Store(time.Now().UnixNano())
	m.totalSyncDuration.Add(duration.Nanoseconds())
	m.syncCount.Add(1)
}

// GetLastSyncTime returns the timestamp of the last pull or push.
func (m *SyncMetrics) GetLastSyncTime() time.Time {
	nanos := m.lastSyncTime.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// GetAverageSyncDuration returns the average duration of pulls and pushes.
func (m *SyncMetrics) GetAverageSyncDuration() time.Duration {
	count := m.syncCount.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(m.totalSyncDuration.Load() / count)
}

// Snapshot returns a point-in-time copy of all metrics.
func (m *SyncMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Pulls:               m.pulls.Load(),
		Pushes:              m.pushes.Load(),
		RecordsPulled:       m.recordsPulled.Load(),
		RecordsPushed:       m.recordsPushed.Load(),
		FilesUploaded:       m.filesUploaded.Load(),
		FilesDeleted:        m.filesDeleted.Load(),
		BytesUploaded:       m.bytesUploaded.Load(),
		TotalErrors:         m.totalErrors.Load(),
		LastSyncTime:        m.GetLastSyncTime(),
		AverageSyncDuration: m.GetAverageSyncDuration(),
	}
}

// reset zeroes all metrics.
func (m *SyncMetrics) reset() {
	m.pulls.Store(0)
	m.pushes.Store(0)
	m.recordsPulled.Store(0)
	m.recordsPushed.Store(0)
	m.filesUploaded.Store(0)
	m.filesDeleted.Store(0)
	m.bytesUploaded.Store(0)
	m.totalErrors.Store(0)
	m.lastSyncTime.Store(0)
	m.totalSyncDuration.Store(0)
	m.syncCount.Store(0)
}

// MetricsSnapshot represents a point-in-time snapshot of sync metrics.
type MetricsSnapshot struct {
	Pulls               int64         `json:"pulls" yaml:"pulls"`
	Pushes              int64         `json:"pushes" yaml:"pushes"`
	RecordsPulled       int64         `json:"records_pulled" yaml:"records_pulled"`
	RecordsPushed       int64         `json:"records_pushed" yaml:"records_pushed"`
	FilesUploaded       int64         `json:"files_uploaded" yaml:"files_uploaded"`
	FilesDeleted        int64         `json:"files_deleted" yaml:"files_deleted"`
	BytesUploaded       int64         `json:"bytes_uploaded" yaml:"bytes_uploaded"`
	TotalErrors         int64         `json:"total_errors" yaml:"total_errors"`
	LastSyncTime        time.Time     `json:"last_sync_time" yaml:"last_sync_time"`
	AverageSyncDuration time.Duration `json:"average_sync_duration" yaml:"average_sync_duration"`
}
