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

package common

import (
	"context"
	"encoding/json"
)

// StagingRecord is one keyed entry of a staging list.
type StagingRecord struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// ListStore is an ordered, keyed collection. Putting an existing key
// replaces its value in place.
type ListStore interface {
	Put(ctx context.Context, records ...StagingRecord) error
	Delete(ctx context.Context, keys ...string) error
	Clear(ctx context.Context) error

	// ToArray returns records in insertion order. A limit <= 0 returns all.
	ToArray(ctx context.Context, limit int) ([]StagingRecord, error)
}

// SingletonStore holds a single document.
type SingletonStore interface {
	SetValue(ctx context.Context, value json.RawMessage) error

	// GetValue returns ErrKeyNotFound when no value has been set.
	GetValue(ctx context.Context) (json.RawMessage, error)
}

// StagingFactory opens named collections of the local durable store.
type StagingFactory interface {
	List(name string) (ListStore, error)
	Singleton(name string) (SingletonStore, error)

	// DangerousClearAll removes every collection.
	DangerousClearAll(ctx context.Context) error

	Close() error
}
