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

// Package stash stages local mutations for one store and materializes the
// current view of its items and metadata.
//
// A stash owns four staging collections: the action log (pending mutations
// not yet confirmed remotely), the materialized items, the last pulled
// metadata document and the last seen remote structure. Every write
// replays into the materialized items before returning, so reads are
// consistent with writes before any network activity.
package stash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-objsync/pkg/common"
	"github.com/jeremyhahn/go-objsync/pkg/patch"
)

const (
	logSuffix       = ".stash"
	itemsSuffix     = ".items"
	metaSuffix      = ".meta"
	structureSuffix = ".structure"
)

// Stash is the staging area and materialized view of one store.
type Stash struct {
	name      string
	log       common.ListStore
	items     common.ListStore
	meta      common.SingletonStore
	structure common.SingletonStore

	mu  sync.RWMutex
	now func() time.Time
}

// New opens the stash collections of store through factory.
func New(store string, factory common.StagingFactory) (*Stash, error) {
	if store == "" {
		return nil, common.ErrStoreRequired
	}
	log, err := factory.List(store + logSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to open action log: %w", err)
	}
	items, err := factory.List(store + itemsSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to open items: %w", err)
	}
	meta, err := factory.Singleton(store + metaSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata: %w", err)
	}
	structure, err := factory.Singleton(store + structureSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to open structure cache: %w", err)
	}
	return &Stash{
		name:      store,
		log:       log,
		items:     items,
		meta:      meta,
		structure: structure,
		now:       time.Now,
	}, nil
}

// Name returns the store this stash belongs to.
func (s *Stash) Name() string {
	return s.name
}

// Init replaces the materialized items with a remote snapshot, stores meta
// verbatim (nil becomes an empty document) and replays the pending log.
func (s *Stash) Init(ctx context.Context, records []common.Record, meta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.items.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear items: %w", err)
	}
	if meta == nil {
		meta = map[string]any{}
	}
	return s.applySnapshot(ctx, records, meta)
}

// Patch applies a remote snapshot suffix over the materialized items
// without clearing them. A nil meta keeps the stored document.
func (s *Stash) Patch(ctx context.Context, records []common.Record, meta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applySnapshot(ctx, records, meta)
}

func (s *Stash) applySnapshot(ctx context.Context, records []common.Record, meta map[string]any) error {
	if err := s.applyRecords(ctx, records); err != nil {
		return err
	}
	if meta != nil {
		if err := s.setRemoteMeta(ctx, meta); err != nil {
			return err
		}
	}
	pending, err := s.pending(ctx)
	if err != nil {
		return err
	}
	return s.replay(ctx, pending)
}

// Batch records actions in the log and materializes them immediately.
//
// Actions are deduplicated by identity against the whole log: scanning
// newest first, the first action seen for an identity survives and older
// entries are dropped. Meta actions carry the desired final document and
// are stored as a diff against the last known remote document.
//
// With overlap set the batch is a destructive rebuild: pending item
// actions are discarded, the boundary entries are stamped with the rebuild
// marker and the materialized items are rebuilt from the batch alone.
func (s *Stash) Batch(ctx context.Context, actions []common.Action, overlap bool) ([]common.FullAction, error) {
	if len(actions) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	remoteMeta, err := s.remoteMeta(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UnixMilli()
	incoming := make([]common.FullAction, 0, len(actions))
	for _, a := range actions {
		entry, err := s.stage(a, remoteMeta, now)
		if err != nil {
			return nil, err
		}
		incoming = append(incoming, entry)
	}

	existing, err := s.pending(ctx)
	if err != nil {
		return nil, err
	}

	var drop []string
	if overlap {
		kept := existing[:0]
		for _, e := range existing {
			if e.Type == common.ActionMeta {
				kept = append(kept, e)
			} else {
				drop = append(drop, e.ID)
			}
		}
		existing = kept
		markBoundaries(incoming)
	}

	survivors, superseded := dedupe(existing, incoming)
	drop = append(drop, superseded...)

	if len(survivors) > 0 {
		records := make([]common.StagingRecord, 0, len(survivors))
		for _, e := range survivors {
			data, err := json.Marshal(e)
			if err != nil {
				return nil, fmt.Errorf("failed to encode action: %w", err)
			}
			records = append(records, common.StagingRecord{Key: e.ID, Value: data})
		}
		if err := s.log.Put(ctx, records...); err != nil {
			return nil, fmt.Errorf("failed to append actions: %w", err)
		}
	}
	if len(drop) > 0 {
		if err := s.log.Delete(ctx, drop...); err != nil {
			return nil, fmt.Errorf("failed to drop superseded actions: %w", err)
		}
	}

	if overlap {
		if err := s.items.Clear(ctx); err != nil {
			return nil, fmt.Errorf("failed to clear items: %w", err)
		}
		all, err := s.pending(ctx)
		if err != nil {
			return nil, err
		}
		return survivors, s.replay(ctx, all)
	}
	return survivors, s.replay(ctx, survivors)
}

func (s *Stash) stage(a common.Action, remoteMeta map[string]any, now int64) (common.FullAction, error) {
	switch a.Type {
	case common.ActionUpdate:
		if a.Value == nil {
			return common.FullAction{}, fmt.Errorf("%w: update without value", common.ErrInvalidAction)
		}
	case common.ActionDelete, common.ActionMeta:
	default:
		return common.FullAction{}, fmt.Errorf("%w: unknown type %q", common.ErrInvalidAction, a.Type)
	}
	if a.Type == common.ActionMeta {
		delta, err := patch.Diff(remoteMeta, a.Meta, map[string]any{"timestamp": now})
		if err != nil {
			return common.FullAction{}, fmt.Errorf("failed to diff metadata: %w", err)
		}
		a.Meta = delta
	}
	identity := a.Identity()
	if identity == "" {
		return common.FullAction{}, fmt.Errorf("%w: missing identity", common.ErrInvalidAction)
	}
	if a.Type != common.ActionMeta {
		a.Key = identity
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return common.FullAction{
		Action:    a,
		ID:        id.String(),
		Store:     s.name,
		Timestamp: now,
	}, nil
}

// markBoundaries stamps the first and last item actions of a rebuild.
func markBoundaries(entries []common.FullAction) {
	first, last := -1, -1
	for i, e := range entries {
		if e.Type == common.ActionMeta {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 {
		for i := range entries {
			entries[i].Overlap = true
		}
		return
	}
	entries[first].Overlap = true
	entries[last].Overlap = true
}

// dedupe keeps one action per identity, newest first. It returns the
// incoming entries that survive and the ids of existing entries that were
// superseded. A superseded rebuild marker moves to its replacement.
func dedupe(existing, incoming []common.FullAction) ([]common.FullAction, []string) {
	seen := make(map[string]int, len(incoming))
	keep := make([]bool, len(incoming))
	for i := len(incoming) - 1; i >= 0; i-- {
		identity := incoming[i].Identity()
		if j, dup := seen[identity]; dup {
			if incoming[i].Overlap {
				incoming[j].Overlap = true
			}
			continue
		}
		seen[identity] = i
		keep[i] = true
	}

	var superseded []string
	for i := len(existing) - 1; i >= 0; i-- {
		e := existing[i]
		if j, dup := seen[e.Identity()]; dup {
			if e.Overlap {
				incoming[j].Overlap = true
			}
			superseded = append(superseded, e.ID)
		}
	}

	survivors := make([]common.FullAction, 0, len(incoming))
	for i, e := range incoming {
		if keep[i] {
			survivors = append(survivors, e)
		}
	}
	return survivors, superseded
}

// replay materializes log entries in order.
func (s *Stash) replay(ctx context.Context, entries []common.FullAction) error {
	records := make([]common.Record, 0, len(entries))
	for _, e := range entries {
		if e.Store != "" && e.Store != s.name {
			return fmt.Errorf("%w: entry %s belongs to %q, not %q", ErrStoreMismatch, e.ID, e.Store, s.name)
		}
		if e.Type == common.ActionMeta {
			continue
		}
		records = append(records, common.Record{
			Type:      e.Type,
			Key:       e.Key,
			Value:     e.Value,
			Timestamp: e.Timestamp,
		})
	}
	return s.applyRecords(ctx, records)
}

// applyRecords folds records into the materialized items. The last record
// per key wins; new keys keep their order of first appearance.
func (s *Stash) applyRecords(ctx context.Context, records []common.Record) error {
	if len(records) == 0 {
		return nil
	}
	var order []string
	final := make(map[string]*common.Record, len(records))
	for i := range records {
		r := records[i]
		key := r.Key
		if key == "" && r.Value != nil {
			key = r.Value.ID()
		}
		if key == "" {
			return fmt.Errorf("%w: record without key", ErrCorruptRecord)
		}
		if _, ok := final[key]; !ok {
			order = append(order, key)
		}
		final[key] = &r
	}

	var (
		puts    []common.StagingRecord
		deletes []string
	)
	for _, key := range order {
		r := final[key]
		switch r.Type {
		case common.ActionUpdate:
			data, err := json.Marshal(r.Value)
			if err != nil {
				return fmt.Errorf("failed to encode item %s: %w", key, err)
			}
			puts = append(puts, common.StagingRecord{Key: key, Value: data})
		case common.ActionDelete:
			deletes = append(deletes, key)
		default:
			return fmt.Errorf("%w: unexpected record type %q", ErrCorruptRecord, r.Type)
		}
	}
	// Deleting first keeps a delete-then-recreate sequence positioned at the end.
	if len(deletes) > 0 {
		if err := s.items.Delete(ctx, deletes...); err != nil {
			return fmt.Errorf("failed to delete items: %w", err)
		}
	}
	if len(puts) > 0 {
		if err := s.items.Put(ctx, puts...); err != nil {
			return fmt.Errorf("failed to write items: %w", err)
		}
	}
	return nil
}

// Pending returns the action log in insertion order.
func (s *Stash) Pending(ctx context.Context) ([]common.FullAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending(ctx)
}

func (s *Stash) pending(ctx context.Context) ([]common.FullAction, error) {
	raw, err := s.log.ToArray(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read action log: %w", err)
	}
	out := make([]common.FullAction, 0, len(raw))
	for _, r := range raw {
		var e common.FullAction
		if err := json.Unmarshal(r.Value, &e); err != nil {
			return nil, fmt.Errorf("%w: action %s: %v", ErrCorruptRecord, r.Key, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// DeleteStashes removes drained entries after a confirmed push.
func (s *Stash) DeleteStashes(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Delete(ctx, ids...)
}

// Items returns the materialized items.
func (s *Stash) Items(ctx context.Context) ([]common.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, err := s.items.ToArray(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read items: %w", err)
	}
	out := make([]common.Item, 0, len(raw))
	for _, r := range raw {
		var item common.Item
		if err := json.Unmarshal(r.Value, &item); err != nil {
			return nil, fmt.Errorf("%w: item %s: %v", ErrCorruptRecord, r.Key, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// Get returns one materialized item by id.
func (s *Stash) Get(ctx context.Context, id string) (common.Item, bool, error) {
	items, err := s.Items(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, item := range items {
		if item.ID() == id {
			return item, true, nil
		}
	}
	return nil, false, nil
}

// Meta returns the metadata document: the last pulled remote document with
// the pending meta diff merged on top.
func (s *Stash) Meta(ctx context.Context) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	remote, err := s.remoteMeta(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := s.pending(ctx)
	if err != nil {
		return nil, err
	}
	delta := PendingMeta(pending)
	if delta == nil {
		return remote, nil
	}
	merged, err := patch.Merge(remote, delta)
	if err != nil {
		return nil, fmt.Errorf("failed to merge pending metadata: %w", err)
	}
	return asObject(merged)
}

// PendingMeta returns the newest meta diff among entries, or nil.
func PendingMeta(entries []common.FullAction) any {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Type == common.ActionMeta {
			return entries[i].Meta
		}
	}
	return nil
}

func (s *Stash) remoteMeta(ctx context.Context) (map[string]any, error) {
	raw, err := s.meta.GetValue(ctx)
	if errors.Is(err, common.ErrKeyNotFound) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrCorruptRecord, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// SetRemoteMeta stores the last known remote metadata document.
func (s *Stash) SetRemoteMeta(ctx context.Context, meta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setRemoteMeta(ctx, meta)
}

func (s *Stash) setRemoteMeta(ctx context.Context, meta map[string]any) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	return s.meta.SetValue(ctx, data)
}

// Structure returns the cached remote structure, or nil if none was stored.
func (s *Stash) Structure(ctx context.Context) (*common.StoreStructure, error) {
	raw, err := s.structure.GetValue(ctx)
	if errors.Is(err, common.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read structure cache: %w", err)
	}
	var st *common.StoreStructure
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("%w: structure cache: %v", ErrCorruptRecord, err)
	}
	return st, nil
}

// SetStructure caches the remote structure.
func (s *Stash) SetStructure(ctx context.Context, st *common.StoreStructure) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode structure: %w", err)
	}
	return s.structure.SetValue(ctx, data)
}

// Reset drops every staged collection of the store, pending actions
// included.
func (s *Stash) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.log.Clear(ctx); err != nil {
		return err
	}
	if err := s.items.Clear(ctx); err != nil {
		return err
	}
	if err := s.meta.SetValue(ctx, json.RawMessage(`{}`)); err != nil {
		return err
	}
	return s.structure.SetValue(ctx, json.RawMessage(`null`))
}

func asObject(v any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: metadata is %T, not an object", ErrCorruptRecord, v)
	}
	return obj, nil
}
