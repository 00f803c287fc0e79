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

// Package staging provides implementations of the local durable store the
// sync engine stages pending actions and materialized items in.
package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jeremyhahn/go-objsync/pkg/common"
)

// Memory is a staging factory that keeps every collection in memory.
// It is useful for tests and for ephemeral sessions.
type Memory struct {
	mu         sync.Mutex
	lists      map[string]*memoryList
	singletons map[string]*memorySingleton
}

// NewMemory creates an empty in-memory staging factory.
func NewMemory() *Memory {
	return &Memory{
		lists:      make(map[string]*memoryList),
		singletons: make(map[string]*memorySingleton),
	}
}

// List opens (or creates) the named list collection.
func (m *Memory) List(name string) (common.ListStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lists[name]
	if !ok {
		l = newMemoryList()
		m.lists[name] = l
	}
	return l, nil
}

// Singleton opens (or creates) the named singleton collection.
func (m *Memory) Singleton(name string) (common.SingletonStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.singletons[name]
	if !ok {
		s = &memorySingleton{}
		m.singletons[name] = s
	}
	return s, nil
}

// DangerousClearAll empties every collection. Handles obtained earlier stay
// valid and observe the cleared state.
func (m *Memory) DangerousClearAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.lists {
		if err := l.Clear(ctx); err != nil {
			return err
		}
	}
	for _, s := range m.singletons {
		s.reset()
	}
	return nil
}

// Close is a no-op for the memory factory.
func (m *Memory) Close() error {
	return nil
}

type memoryList struct {
	mu     sync.RWMutex
	keys   []string
	values map[string]json.RawMessage
}

func newMemoryList() *memoryList {
	return &memoryList{values: make(map[string]json.RawMessage)}
}

func (l *memoryList) Put(ctx context.Context, records ...common.StagingRecord) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range records {
		if r.Key == "" {
			return fmt.Errorf("%w: empty staging key", common.ErrInvalidAction)
		}
		if _, exists := l.values[r.Key]; !exists {
			l.keys = append(l.keys, r.Key)
		}
		l.values[r.Key] = append(json.RawMessage(nil), r.Value...)
	}
	return nil
}

func (l *memoryList) Delete(ctx context.Context, keys ...string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := l.values[k]; ok {
			drop[k] = struct{}{}
			delete(l.values, k)
		}
	}
	if len(drop) == 0 {
		return nil
	}
	kept := l.keys[:0]
	for _, k := range l.keys {
		if _, gone := drop[k]; !gone {
			kept = append(kept, k)
		}
	}
	l.keys = kept
	return nil
}

func (l *memoryList) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = nil
	l.values = make(map[string]json.RawMessage)
	return nil
}

func (l *memoryList) ToArray(ctx context.Context, limit int) ([]common.StagingRecord, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.keys)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]common.StagingRecord, 0, n)
	for _, k := range l.keys[:n] {
		out = append(out, common.StagingRecord{
			Key:   k,
			Value: append(json.RawMessage(nil), l.values[k]...),
		})
	}
	return out, nil
}

type memorySingleton struct {
	mu    sync.RWMutex
	value json.RawMessage
	set   bool
}

func (s *memorySingleton) SetValue(ctx context.Context, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = append(json.RawMessage(nil), value...)
	s.set = true
	return nil
}

func (s *memorySingleton) GetValue(ctx context.Context) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return nil, common.ErrKeyNotFound
	}
	return append(json.RawMessage(nil), s.value...), nil
}

func (s *memorySingleton) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = nil
	s.set = false
}
