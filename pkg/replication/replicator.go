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

// Package replication drives synchronization between the local stash of
// each store and a remote backend.
//
// A pull fetches the remote structure, compares it with the cached one and
// downloads either every chunk or only the divergent suffix. A push drains
// the action log, lifts binary leaves into assets, appends the new records
// to the chunk sequence and writes everything with a single upload.
package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jeremyhahn/go-objsync/pkg/adapters"
	"github.com/jeremyhahn/go-objsync/pkg/audit"
	"github.com/jeremyhahn/go-objsync/pkg/common"
	"github.com/jeremyhahn/go-objsync/pkg/patch"
	"github.com/jeremyhahn/go-objsync/pkg/scheduler"
	"github.com/jeremyhahn/go-objsync/pkg/stash"
)

const (
	// DefaultChunkSize is the number of records per chunk.
	DefaultChunkSize = 1000

	// DefaultDebounce is the delay between the last batch and its push.
	DefaultDebounce = time.Second

	// DefaultWorkers is the number of stores pulled in parallel by PullAll.
	DefaultWorkers = 4
)

// Config configures a Replicator.
type Config struct {
	// StorePrefix filters discovered stores and is prepended to new ones.
	StorePrefix string

	// EntryName is the chunk file prefix. It must match the backend's entry
	// setting.
	EntryName string

	ChunkSize int
	Debounce  time.Duration
	Workers   int

	Staging common.StagingFactory
	Syncer  common.Syncer
	Logger  adapters.Logger

	// Audit receives one event per pull, push, staged batch and created
	// store. Nil disables the trail.
	Audit audit.AuditLogger
}

// PullResult describes a completed pull.
type PullResult struct {
	Store       string `json:"store" yaml:"store"`
	Patch       bool   `json:"patch" yaml:"patch"`
	Chunks      int    `json:"chunks" yaml:"chunks"`
	Records     int    `json:"records" yaml:"records"`
	MetaChanged bool   `json:"metaChanged" yaml:"metaChanged"`
}

// PushResult describes a completed push.
type PushResult struct {
	Store    string `json:"store" yaml:"store"`
	Actions  int    `json:"actions" yaml:"actions"`
	Records  int    `json:"records" yaml:"records"`
	Uploaded int    `json:"uploaded" yaml:"uploaded"`
	Deleted  int    `json:"deleted" yaml:"deleted"`
	Bytes    int64  `json:"bytes" yaml:"bytes"`
	Overlap  bool   `json:"overlap" yaml:"overlap"`

	// Pulled counts remote records applied before pushing.
	Pulled int `json:"pulled,omitempty" yaml:"pulled,omitempty"`
}

type storeState struct {
	stash *stash.Stash
	sched *scheduler.Scheduler

	// mu serializes pull and push of the store.
	mu sync.Mutex
}

// Replicator owns one stash and scheduler per store.
type Replicator struct {
	cfg     Config
	syncer  common.Syncer
	staging common.StagingFactory
	logger  adapters.Logger
	audit   audit.AuditLogger
	metrics *SyncMetrics
	group   singleflight.Group
	now     func() time.Time

	mu     sync.Mutex
	stores map[string]*storeState
	closed bool
}

// New creates a replicator. Zero config values take their defaults.
func New(cfg Config) (*Replicator, error) {
	if cfg.Syncer == nil {
		return nil, ErrSyncerRequired
	}
	if cfg.Staging == nil {
		return nil, ErrStagingRequired
	}
	if cfg.EntryName == "" {
		cfg.EntryName = common.DefaultEntryName
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = adapters.NewNoOpLogger()
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NewNoOpAuditLogger()
	}
	return &Replicator{
		cfg:     cfg,
		syncer:  cfg.Syncer,
		staging: cfg.Staging,
		logger:  cfg.Logger,
		audit:   cfg.Audit,
		metrics: NewSyncMetrics(),
		now:     time.Now,
		stores:  make(map[string]*storeState),
	}, nil
}

// state returns the stash and scheduler of store, creating them on first
// access.
func (r *Replicator) state(store string) (*storeState, error) {
	if err := common.ValidateStoreName(store); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if st, ok := r.stores[store]; ok {
		return st, nil
	}
	s, err := stash.New(store, r.staging)
	if err != nil {
		return nil, err
	}
	st := &storeState{stash: s}
	st.sched = scheduler.New(r.cfg.Debounce, func(ctx context.Context) error {
		_, err := r.Push(ctx, store)
		return err
	}, scheduler.WithLogger(r.logger.WithFields(adapters.Field{Key: "store", Value: store})))
	r.stores[store] = st
	return st, nil
}

// fetchStructure shares one in-flight fetch per store. The fetch runs on a
// context detached from the caller so one caller cancelling does not fail
// the others waiting on it.
func (r *Replicator) fetchStructure(ctx context.Context, store string) (*common.StoreStructure, error) {
	ch := r.group.DoChan(store, func() (any, error) {
		return r.syncer.FetchStructure(context.WithoutCancel(ctx), store)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	st, _ := res.Val.(*common.StoreStructure)
	if st == nil {
		st = &common.StoreStructure{}
	}
	return st, nil
}

// Pull brings the local view of store up to date with the backend.
func (r *Replicator) Pull(ctx context.Context, store string) (*PullResult, error) {
	st, err := r.state(store)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	start := r.now()
	res, err := r.pull(ctx, st, store)
	if err != nil {
		r.metrics.IncrementErrors(1)
		r.logger.Error(ctx, "Pull failed",
			adapters.Field{Key: "store", Value: store},
			adapters.Field{Key: "error", Value: err.Error()})
		_ = r.audit.LogSync(ctx, audit.EventPull, store, 0, 0, 0, r.now().Sub(start), err)
		return nil, err
	}
	_ = r.audit.LogSync(ctx, audit.EventPull, store, res.Records, res.Chunks, 0, r.now().Sub(start), nil)
	return res, nil
}

func (r *Replicator) pull(ctx context.Context, st *storeState, store string) (*PullResult, error) {
	remote, err := r.fetchStructure(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch structure of %s: %w", store, err)
	}
	cached, err := st.stash.Structure(ctx)
	if err != nil {
		return nil, err
	}
	return r.applyRemote(ctx, st, store, remote, DiffStructure(cached, remote))
}

// applyRemote fetches the content named by diff and replays it into the
// stash, then caches remote as the last seen structure.
func (r *Replicator) applyRemote(ctx context.Context, st *storeState, store string, remote *common.StoreStructure, diff StructureDiff) (*PullResult, error) {
	start := r.now()
	needMeta := remote.Meta != nil && (diff.MetaChanged || !diff.Patch)

	refs := make([]common.FileRef, 0, len(diff.Chunks)+1)
	for _, c := range diff.Chunks {
		refs = append(refs, c.FileRef)
	}
	if needMeta {
		refs = append(refs, *remote.Meta)
	}
	content := map[string][]byte{}
	if len(refs) > 0 {
		files, err := r.syncer.FetchContent(ctx, store, refs)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch content of %s: %w", store, err)
		}
		for _, f := range files {
			content[f.Path] = f.Content
		}
	}

	var records []common.Record
	for _, c := range diff.Chunks {
		decoded, err := DecodeChunk(c.Path, content[c.Path])
		if err != nil {
			return nil, err
		}
		records = append(records, decoded...)
	}

	var (
		meta map[string]any
		err  error
	)
	switch {
	case needMeta:
		if meta, err = DecodeMeta(content[remote.Meta.Path]); err != nil {
			return nil, err
		}
	case diff.MetaChanged:
		meta = map[string]any{}
	}

	if diff.Patch {
		err = st.stash.Patch(ctx, records, meta)
	} else {
		err = st.stash.Init(ctx, records, meta)
	}
	if err != nil {
		return nil, err
	}
	if err := st.stash.SetStructure(ctx, remote); err != nil {
		return nil, err
	}

	r.metrics.RecordPull(len(records), r.now().Sub(start))
	r.logger.Debug(ctx, "Pulled store",
		adapters.Field{Key: "store", Value: store},
		adapters.Field{Key: "patch", Value: diff.Patch},
		adapters.Field{Key: "chunks", Value: len(diff.Chunks)},
		adapters.Field{Key: "records", Value: len(records)})

	return &PullResult{
		Store:       store,
		Patch:       diff.Patch,
		Chunks:      len(diff.Chunks),
		Records:     len(records),
		MetaChanged: diff.MetaChanged,
	}, nil
}

// Push drains the action log of store to the backend. Failures leave the
// log intact so the next run retries.
func (r *Replicator) Push(ctx context.Context, store string) (*PushResult, error) {
	st, err := r.state(store)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	start := r.now()
	res, err := r.push(ctx, st, store)
	if err != nil {
		r.metrics.IncrementErrors(1)
		r.logger.Error(ctx, "Push failed",
			adapters.Field{Key: "store", Value: store},
			adapters.Field{Key: "error", Value: err.Error()})
		_ = r.audit.LogSync(ctx, audit.EventPush, store, 0, 0, 0, r.now().Sub(start), err)
		return nil, err
	}
	if res.Actions > 0 {
		elapsed := r.now().Sub(start)
		r.metrics.RecordPush(res, elapsed)
		_ = r.audit.LogSync(ctx, audit.EventPush, store, res.Records, res.Uploaded+res.Deleted, res.Bytes, elapsed, nil)
		r.logger.Info(ctx, "Pushed store",
			adapters.Field{Key: "store", Value: store},
			adapters.Field{Key: "actions", Value: res.Actions},
			adapters.Field{Key: "records", Value: res.Records},
			adapters.Field{Key: "overlap", Value: res.Overlap})
	}
	return res, nil
}

func (r *Replicator) push(ctx context.Context, st *storeState, store string) (*PushResult, error) {
	res := &PushResult{Store: store}
	entries, err := st.stash.Pending(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return res, nil
	}
	res.Actions = len(entries)

	var itemEntries []common.FullAction
	for _, e := range entries {
		if e.Overlap {
			res.Overlap = true
		}
		if e.Type != common.ActionMeta {
			itemEntries = append(itemEntries, e)
		}
	}

	remote, err := r.fetchStructure(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch structure of %s: %w", store, err)
	}

	// Records other devices pushed since the last pull must land in the
	// stash before the cache moves past them. An overlap rebuild replaces
	// the remote wholesale and skips this.
	if !res.Overlap {
		cached, err := st.stash.Structure(ctx)
		if err != nil {
			return nil, err
		}
		if diff := DiffStructure(cached, remote); !diff.Empty() {
			pulled, err := r.applyRemote(ctx, st, store, remote, diff)
			if err != nil {
				return nil, fmt.Errorf("failed to catch up %s before push: %w", store, err)
			}
			res.Pulled = pulled.Records
		}
	}

	var uploads []common.Upload

	newMeta, err := r.mergeMeta(ctx, store, remote, stash.PendingMeta(entries))
	if err != nil {
		return nil, err
	}
	if newMeta != nil {
		data, err := json.Marshal(newMeta)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
		uploads = append(uploads, common.Upload{Path: common.MetaPath, Content: data})
	}

	records, err := r.pendingRecords(ctx, st, itemEntries, res.Overlap)
	if err != nil {
		return nil, err
	}
	records, assets, err := r.transformRecords(ctx, store, records)
	if err != nil {
		return nil, err
	}
	uploads = append(uploads, assets...)

	if len(records) > 0 || res.Overlap {
		chunkUploads, err := r.chunkUploads(ctx, store, remote, records, res.Overlap)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, chunkUploads...)
	}

	if res.Overlap {
		uploads = append(uploads, staleDeletes(remote, uploads, records)...)
	}

	newStructure := remote
	if len(uploads) > 0 {
		if newStructure, err = r.syncer.UploadContent(ctx, store, uploads); err != nil {
			return nil, fmt.Errorf("failed to upload %s: %w", store, err)
		}
	}
	for _, u := range uploads {
		if u.IsDelete() {
			res.Deleted++
			continue
		}
		res.Uploaded++
		res.Bytes += int64(len(u.Content))
	}
	res.Records = len(records)

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if err := st.stash.DeleteStashes(ctx, ids); err != nil {
		return nil, err
	}
	if err := st.stash.SetStructure(ctx, newStructure); err != nil {
		return nil, err
	}
	if err := st.stash.Patch(ctx, records, newMeta); err != nil {
		return nil, err
	}
	return res, nil
}

// mergeMeta applies the pending meta diff onto a freshly fetched remote
// document. It returns nil when there is nothing to write.
func (r *Replicator) mergeMeta(ctx context.Context, store string, remote *common.StoreStructure, delta any) (map[string]any, error) {
	if delta == nil {
		return nil, nil
	}
	base := map[string]any{}
	if remote.Meta != nil {
		files, err := r.syncer.FetchContent(ctx, store, []common.FileRef{*remote.Meta})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch metadata of %s: %w", store, err)
		}
		if base, err = DecodeMeta(files[0].Content); err != nil {
			return nil, err
		}
	}
	merged, err := patch.Merge(base, delta)
	if err != nil {
		return nil, fmt.Errorf("failed to merge metadata of %s: %w", store, err)
	}
	doc, ok := merged.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: metadata of %s is %T", stash.ErrCorruptRecord, store, merged)
	}
	return doc, nil
}

// pendingRecords converts item entries into remote records. An overlap
// rebuild writes the whole materialized item set as updates.
func (r *Replicator) pendingRecords(ctx context.Context, st *storeState, entries []common.FullAction, overlap bool) ([]common.Record, error) {
	if overlap {
		items, err := st.stash.Items(ctx)
		if err != nil {
			return nil, err
		}
		now := r.now().UnixMilli()
		records := make([]common.Record, 0, len(items))
		for _, item := range items {
			records = append(records, common.Record{
				Type:      common.ActionUpdate,
				Key:       item.ID(),
				Value:     item,
				Timestamp: now,
			})
		}
		return records, nil
	}
	records := make([]common.Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, common.Record{
			Type:      e.Type,
			Key:       e.Identity(),
			Value:     e.Value,
			Timestamp: e.Timestamp,
		})
	}
	return records, nil
}

// transformRecords lifts every binary leaf out of the record values.
func (r *Replicator) transformRecords(ctx context.Context, store string, records []common.Record) ([]common.Record, []common.Upload, error) {
	transform := func(f *common.File) (common.AssetRef, error) {
		return r.syncer.TransformAsset(ctx, store, f)
	}
	out := make([]common.Record, len(records))
	var uploads []common.Upload
	for i, rec := range records {
		out[i] = rec
		if rec.Value == nil {
			continue
		}
		v, assets, err := ExtractAssets(rec.Value, transform)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to transform assets of %s: %w", rec.Key, err)
		}
		out[i].Value = v.(common.Item)
		uploads = append(uploads, assets...)
	}
	return out, uploads, nil
}

// chunkUploads appends records to the last remote chunk, or rebuilds the
// sequence from index zero on overlap, and encodes the resulting pages.
func (r *Replicator) chunkUploads(ctx context.Context, store string, remote *common.StoreStructure, records []common.Record, overlap bool) ([]common.Upload, error) {
	start := 0
	var combined []common.Record
	if !overlap && len(remote.Chunks) > 0 {
		last := remote.Chunks[len(remote.Chunks)-1]
		files, err := r.syncer.FetchContent(ctx, store, []common.FileRef{last.FileRef})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch last chunk of %s: %w", store, err)
		}
		if combined, err = DecodeChunk(last.Path, files[0].Content); err != nil {
			return nil, err
		}
		start = last.StartIndex
	}
	combined = append(combined, records...)

	chunks := Rechunk(combined, start, r.cfg.ChunkSize)
	uploads := make([]common.Upload, 0, len(chunks))
	for _, c := range chunks {
		data, err := EncodeChunk(c.Records)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, common.Upload{
			Path:    common.ChunkPath(r.cfg.EntryName, c.StartIndex),
			Content: data,
		})
	}
	return uploads, nil
}

// staleDeletes removes every old chunk and asset absent from the new set.
// Assets still referenced by the rewritten records are kept.
func staleDeletes(remote *common.StoreStructure, uploads []common.Upload, records []common.Record) []common.Upload {
	written := map[string]bool{}
	for _, u := range uploads {
		written[u.Path] = true
	}
	referenced := referencedAssets(remote, records)

	var deletes []common.Upload
	for _, c := range remote.Chunks {
		if !written[c.Path] {
			deletes = append(deletes, common.Upload{Path: c.Path})
		}
	}
	for _, a := range remote.Assets {
		if !written[a.Path] && !referenced[a.Path] {
			deletes = append(deletes, common.Upload{Path: a.Path})
		}
	}
	return deletes
}

// Batch stages actions for store and schedules a debounced push.
func (r *Replicator) Batch(ctx context.Context, store string, actions []common.Action, overlap bool) ([]common.FullAction, error) {
	st, err := r.state(store)
	if err != nil {
		return nil, err
	}
	entries, err := st.stash.Batch(ctx, actions, overlap)
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		_ = r.audit.LogEvent(ctx, &audit.AuditEvent{
			EventType: audit.EventActionsStaged,
			Store:     store,
			Result:    audit.ResultSuccess,
			Records:   len(entries),
			Metadata:  map[string]any{"overlap": overlap},
		})
		st.sched.Schedule()
	}
	return entries, nil
}

// Sync schedules a debounced push of store and returns its session.
func (r *Replicator) Sync(ctx context.Context, store string) (*scheduler.Session, error) {
	st, err := r.state(store)
	if err != nil {
		return nil, err
	}
	return st.sched.Schedule(), nil
}

// Flush pushes store without waiting for the debounce window and waits for
// the outcome.
func (r *Replicator) Flush(ctx context.Context, store string) error {
	st, err := r.state(store)
	if err != nil {
		return err
	}
	return st.sched.ScheduleNow().Wait(ctx)
}

// Items returns the materialized items of store.
func (r *Replicator) Items(ctx context.Context, store string) ([]common.Item, error) {
	st, err := r.state(store)
	if err != nil {
		return nil, err
	}
	return st.stash.Items(ctx)
}

// Get returns one materialized item of store.
func (r *Replicator) Get(ctx context.Context, store, id string) (common.Item, bool, error) {
	st, err := r.state(store)
	if err != nil {
		return nil, false, err
	}
	return st.stash.Get(ctx, id)
}

// Meta returns the metadata document of store with pending edits applied.
func (r *Replicator) Meta(ctx context.Context, store string) (map[string]any, error) {
	st, err := r.state(store)
	if err != nil {
		return nil, err
	}
	return st.stash.Meta(ctx)
}

// Pending returns the actions of store not yet confirmed remotely.
func (r *Replicator) Pending(ctx context.Context, store string) ([]common.FullAction, error) {
	st, err := r.state(store)
	if err != nil {
		return nil, err
	}
	return st.stash.Pending(ctx)
}

// Structure returns the cached remote structure of store.
func (r *Replicator) Structure(ctx context.Context, store string) (*common.StoreStructure, error) {
	st, err := r.state(store)
	if err != nil {
		return nil, err
	}
	return st.stash.Structure(ctx)
}

// GetAsset downloads the asset behind a reference.
func (r *Replicator) GetAsset(ctx context.Context, store, reference string) ([]byte, error) {
	if err := common.ValidateStoreName(store); err != nil {
		return nil, err
	}
	data, err := r.syncer.GetAsset(ctx, store, reference)
	event := &audit.AuditEvent{
		EventType:        audit.EventAssetAccessed,
		Store:            store,
		Key:              reference,
		Result:           audit.ResultSuccess,
		BytesTransferred: int64(len(data)),
	}
	if err != nil {
		event.Result = audit.ResultFailure
		event.ErrorMessage = err.Error()
	}
	_ = r.audit.LogEvent(ctx, event)
	return data, err
}

// Stores lists the remote stores matching the configured prefix.
func (r *Replicator) Stores(ctx context.Context) ([]string, error) {
	all, err := r.syncer.FetchAllStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	var names []string
	for _, name := range all {
		if strings.HasPrefix(name, r.cfg.StorePrefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// CreateStore creates a remote store, adding the configured prefix when
// the name lacks it.
func (r *Replicator) CreateStore(ctx context.Context, name string) (*common.StoreInfo, error) {
	if !strings.HasPrefix(name, r.cfg.StorePrefix) {
		name = r.cfg.StorePrefix + name
	}
	if err := common.ValidateStoreName(name); err != nil {
		return nil, err
	}
	info, err := r.syncer.CreateStore(ctx, name)
	_ = r.audit.LogStoreCreated(ctx, name, err)
	return info, err
}

// PullAll pulls every discovered store in parallel. Results are sorted by
// store name; the error joins every failed pull.
func (r *Replicator) PullAll(ctx context.Context) ([]WorkResult, error) {
	stores, err := r.Stores(ctx)
	if err != nil {
		return nil, err
	}
	if len(stores) == 0 {
		return nil, nil
	}

	pool := NewWorkerPool(ctx, WorkerPoolConfig{
		WorkerCount: r.cfg.Workers,
		QueueSize:   len(stores),
		Logger:      r.logger,
	})
	pool.Start(func(ctx context.Context, item WorkItem) WorkResult {
		res, err := r.Pull(ctx, item.Store)
		if err != nil {
			return WorkResult{Store: item.Store, Err: err}
		}
		return WorkResult{Store: item.Store, Records: res.Records, Succeeded: true}
	})
	for _, name := range stores {
		if err := pool.Submit(WorkItem{Store: name}); err != nil {
			pool.Shutdown()
			return nil, err
		}
	}
	pool.Shutdown()

	var (
		results []WorkResult
		errs    []error
	)
	for res := range pool.Results() {
		results = append(results, res)
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Store, res.Err))
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Store < results[j].Store })
	return results, errors.Join(errs...)
}

// Watch pulls store whenever the backend reports a change, until ctx is
// done. It returns common.ErrNotSupported for backends that cannot watch.
func (r *Replicator) Watch(ctx context.Context, store string, onPull func(*PullResult, error)) error {
	w, ok := r.syncer.(common.Watcher)
	if !ok {
		return common.ErrNotSupported
	}
	if _, err := r.state(store); err != nil {
		return err
	}
	return w.Watch(ctx, store, func() {
		res, err := r.Pull(ctx, store)
		if onPull != nil {
			onPull(res, err)
		}
	})
}

// OnProcess subscribes listener to the push sessions of store.
func (r *Replicator) OnProcess(store string, listener func(*scheduler.Session)) (func(), error) {
	st, err := r.state(store)
	if err != nil {
		return nil, err
	}
	return st.sched.OnProcess(listener), nil
}

// Metrics returns a snapshot of the sync metrics.
func (r *Replicator) Metrics() MetricsSnapshot {
	return r.metrics.Snapshot()
}

// Close stops every scheduler. Pending pushes that have not started are
// abandoned; their actions stay in the log. The staging factory is owned
// by the caller.
func (r *Replicator) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	states := make([]*storeState, 0, len(r.stores))
	for _, st := range r.stores {
		states = append(states, st)
	}
	r.mu.Unlock()

	for _, st := range states {
		st.sched.Stop()
	}
	return nil
}
