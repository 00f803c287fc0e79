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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-objsync/pkg/audit"
	"github.com/jeremyhahn/go-objsync/pkg/common"
	"github.com/jeremyhahn/go-objsync/pkg/memory"
	"github.com/jeremyhahn/go-objsync/pkg/staging"
)

const testStore = "bills"

func newBackend(t *testing.T, stores ...string) *memory.Memory {
	t.Helper()
	m := memory.New()
	if len(stores) == 0 {
		stores = []string{testStore}
	}
	for _, s := range stores {
		_, err := m.CreateStore(context.Background(), s)
		require.NoError(t, err)
	}
	return m
}

func newReplicator(t *testing.T, syncer common.Syncer, mutate ...func(*Config)) *Replicator {
	t.Helper()
	cfg := Config{
		Syncer:   syncer,
		Staging:  staging.NewMemory(),
		Debounce: 10 * time.Millisecond,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	r, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func update(id string, fields ...any) common.Action {
	item := common.Item{"id": id}
	for i := 0; i+1 < len(fields); i += 2 {
		item[fields[i].(string)] = fields[i+1]
	}
	return common.Action{Type: common.ActionUpdate, Value: item}
}

func chunkStarts(st *common.StoreStructure) []int {
	starts := make([]int, len(st.Chunks))
	for i, c := range st.Chunks {
		starts[i] = c.StartIndex
	}
	return starts
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{Staging: staging.NewMemory()})
	assert.ErrorIs(t, err, ErrSyncerRequired)
	_, err = New(Config{Syncer: memory.New()})
	assert.ErrorIs(t, err, ErrStagingRequired)
}

func TestPushPullEndToEnd(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	writer := newReplicator(t, backend)

	_, err := writer.Batch(ctx, testStore, []common.Action{update("1", "amount", 42.0)}, false)
	require.NoError(t, err)
	require.NoError(t, writer.Flush(ctx, testStore))

	pending, err := writer.Pending(ctx, testStore)
	require.NoError(t, err)
	assert.Empty(t, pending)

	reader := newReplicator(t, backend)
	res, err := reader.Pull(ctx, testStore)
	require.NoError(t, err)
	assert.False(t, res.Patch)
	assert.Equal(t, 1, res.Records)

	item, ok, err := reader.Get(ctx, testStore, "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42.0, item["amount"])

	m := writer.Metrics()
	assert.Equal(t, int64(1), m.Pushes)
	assert.Equal(t, int64(1), m.RecordsPushed)
}

func TestPushAppendsToLastChunk(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	r := newReplicator(t, backend, func(c *Config) { c.ChunkSize = 2 })

	_, err := r.Batch(ctx, testStore, []common.Action{update("1"), update("2"), update("3")}, false)
	require.NoError(t, err)
	_, err = r.Push(ctx, testStore)
	require.NoError(t, err)

	_, err = r.Batch(ctx, testStore, []common.Action{update("4"), update("5")}, false)
	require.NoError(t, err)
	res, err := r.Push(ctx, testStore)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Records)

	st, err := backend.FetchStructure(ctx, testStore)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 4}, chunkStarts(st))

	fresh := newReplicator(t, backend)
	_, err = fresh.Pull(ctx, testStore)
	require.NoError(t, err)
	items, err := fresh.Items(ctx, testStore)
	require.NoError(t, err)
	assert.Len(t, items, 5)
}

func TestPullPatchesSuffix(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	writer := newReplicator(t, backend, func(c *Config) { c.ChunkSize = 2 })
	reader := newReplicator(t, backend)

	_, err := writer.Batch(ctx, testStore, []common.Action{update("1"), update("2"), update("3")}, false)
	require.NoError(t, err)
	require.NoError(t, writer.Flush(ctx, testStore))

	res, err := reader.Pull(ctx, testStore)
	require.NoError(t, err)
	assert.False(t, res.Patch)

	_, err = writer.Batch(ctx, testStore, []common.Action{
		{Type: common.ActionDelete, Key: "1"},
		update("4"),
	}, false)
	require.NoError(t, err)
	require.NoError(t, writer.Flush(ctx, testStore))

	res, err = reader.Pull(ctx, testStore)
	require.NoError(t, err)
	assert.True(t, res.Patch)
	assert.Equal(t, 2, res.Chunks)

	items, err := reader.Items(ctx, testStore)
	require.NoError(t, err)
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID()
	}
	assert.ElementsMatch(t, []string{"2", "3", "4"}, ids)

	res, err = reader.Pull(ctx, testStore)
	require.NoError(t, err)
	assert.True(t, res.Patch)
	assert.Zero(t, res.Chunks)
}

func TestPullKeepsPendingActions(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	writer := newReplicator(t, backend)
	_, err := writer.Batch(ctx, testStore, []common.Action{update("1", "v", "remote")}, false)
	require.NoError(t, err)
	require.NoError(t, writer.Flush(ctx, testStore))

	local := newReplicator(t, backend, func(c *Config) { c.Debounce = time.Hour })
	_, err = local.Batch(ctx, testStore, []common.Action{update("1", "v", "local")}, false)
	require.NoError(t, err)
	_, err = local.Pull(ctx, testStore)
	require.NoError(t, err)

	item, ok, err := local.Get(ctx, testStore, "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "local", item["v"])
}

func itemIDs(t *testing.T, r *Replicator) []string {
	t.Helper()
	items, err := r.Items(context.Background(), testStore)
	require.NoError(t, err)
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID()
	}
	return ids
}

func TestPushCatchesUpWithOtherDevices(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	laptop := newReplicator(t, backend, func(c *Config) { c.Debounce = time.Hour })
	phone := newReplicator(t, backend, func(c *Config) { c.Debounce = time.Hour })

	_, err := laptop.Batch(ctx, testStore, []common.Action{update("1")}, false)
	require.NoError(t, err)
	require.NoError(t, laptop.Flush(ctx, testStore))

	_, err = phone.Pull(ctx, testStore)
	require.NoError(t, err)
	_, err = phone.Batch(ctx, testStore, []common.Action{update("2")}, false)
	require.NoError(t, err)
	require.NoError(t, phone.Flush(ctx, testStore))

	_, err = laptop.Batch(ctx, testStore, []common.Action{update("3")}, false)
	require.NoError(t, err)
	res, err := laptop.Push(ctx, testStore)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pulled)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, itemIDs(t, laptop))

	_, err = laptop.Pull(ctx, testStore)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, itemIDs(t, laptop))

	fresh := newReplicator(t, backend)
	_, err = fresh.Pull(ctx, testStore)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, itemIDs(t, fresh))

	_, err = phone.Pull(ctx, testStore)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, itemIDs(t, phone))
}

func TestOverlapRebuildsChunks(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	r := newReplicator(t, backend, func(c *Config) { c.ChunkSize = 1 })

	_, err := r.Batch(ctx, testStore, []common.Action{update("1"), update("2"), update("3")}, false)
	require.NoError(t, err)
	_, err = r.Push(ctx, testStore)
	require.NoError(t, err)

	_, err = r.Batch(ctx, testStore, []common.Action{update("9")}, true)
	require.NoError(t, err)
	res, err := r.Push(ctx, testStore)
	require.NoError(t, err)
	assert.True(t, res.Overlap)
	assert.Equal(t, 2, res.Deleted)

	st, err := backend.FetchStructure(ctx, testStore)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, chunkStarts(st))

	fresh := newReplicator(t, backend)
	_, err = fresh.Pull(ctx, testStore)
	require.NoError(t, err)
	items, err := fresh.Items(ctx, testStore)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "9", items[0].ID())
}

func TestAssetsAreLiftedAndKept(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	r := newReplicator(t, backend)

	receipt := common.File{Name: "receipt.png", ContentType: "image/png", Data: []byte{1, 2, 3}}
	_, err := r.Batch(ctx, testStore, []common.Action{
		update("1", "receipt", receipt),
		update("2", "note", "no attachment"),
	}, false)
	require.NoError(t, err)
	_, err = r.Push(ctx, testStore)
	require.NoError(t, err)

	item, ok, err := r.Get(ctx, testStore, "1")
	require.NoError(t, err)
	require.True(t, ok)
	ref, isString := item["receipt"].(string)
	require.True(t, isString, "binary leaf should be replaced by its reference, got %T", item["receipt"])

	data, err := r.GetAsset(ctx, testStore, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	// Rebuild keeps item 1 so its asset must survive while item 2 is gone.
	_, err = r.Batch(ctx, testStore, []common.Action{{Type: common.ActionUpdate, Value: item}}, true)
	require.NoError(t, err)
	_, err = r.Push(ctx, testStore)
	require.NoError(t, err)

	st, err := backend.FetchStructure(ctx, testStore)
	require.NoError(t, err)
	require.Len(t, st.Assets, 1)
	assert.Equal(t, ref, st.Assets[0].Path)

	// Rebuilding without item 1 drops the asset.
	_, err = r.Batch(ctx, testStore, []common.Action{update("2")}, true)
	require.NoError(t, err)
	_, err = r.Push(ctx, testStore)
	require.NoError(t, err)
	st, err = backend.FetchStructure(ctx, testStore)
	require.NoError(t, err)
	assert.Empty(t, st.Assets)
}

func TestMetaMergesOntoFreshRemote(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	a := newReplicator(t, backend)
	b := newReplicator(t, backend)

	_, err := a.Pull(ctx, testStore)
	require.NoError(t, err)
	_, err = b.Pull(ctx, testStore)
	require.NoError(t, err)

	_, err = a.Batch(ctx, testStore, []common.Action{{Type: common.ActionMeta, Meta: map[string]any{"currency": "EUR"}}}, false)
	require.NoError(t, err)
	require.NoError(t, a.Flush(ctx, testStore))

	_, err = b.Batch(ctx, testStore, []common.Action{{Type: common.ActionMeta, Meta: map[string]any{"title": "Home"}}}, false)
	require.NoError(t, err)
	require.NoError(t, b.Flush(ctx, testStore))

	fresh := newReplicator(t, backend)
	_, err = fresh.Pull(ctx, testStore)
	require.NoError(t, err)
	meta, err := fresh.Meta(ctx, testStore)
	require.NoError(t, err)
	assert.Equal(t, "EUR", meta["currency"])
	assert.Equal(t, "Home", meta["title"])
}

// failingSyncer fails uploads until healed.
type failingSyncer struct {
	*memory.Memory
	failing atomic.Bool
}

var errUnavailable = errors.New("backend unavailable")

func (f *failingSyncer) UploadContent(ctx context.Context, store string, uploads []common.Upload) (*common.StoreStructure, error) {
	if f.failing.Load() {
		return nil, errUnavailable
	}
	return f.Memory.UploadContent(ctx, store, uploads)
}

func TestPushFailureKeepsLog(t *testing.T) {
	ctx := context.Background()
	backend := &failingSyncer{Memory: newBackend(t)}
	backend.failing.Store(true)
	r := newReplicator(t, backend)

	_, err := r.Batch(ctx, testStore, []common.Action{update("1")}, false)
	require.NoError(t, err)
	err = r.Flush(ctx, testStore)
	assert.ErrorIs(t, err, errUnavailable)

	pending, err := r.Pending(ctx, testStore)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, int64(1), r.Metrics().TotalErrors)

	backend.failing.Store(false)
	require.NoError(t, r.Flush(ctx, testStore))
	pending, err = r.Pending(ctx, testStore)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestBatchSchedulesDebouncedPush(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)
	r := newReplicator(t, backend)

	for i := 0; i < 5; i++ {
		_, err := r.Batch(ctx, testStore, []common.Action{update("1", "n", float64(i))}, false)
		require.NoError(t, err)
	}
	sess, err := r.Sync(ctx, testStore)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, sess.Wait(waitCtx))

	m := r.Metrics()
	assert.Equal(t, int64(1), m.Pushes)
	assert.Equal(t, int64(1), m.RecordsPushed)
}

func TestEmptyPushIsNoop(t *testing.T) {
	ctx := context.Background()
	r := newReplicator(t, newBackend(t))
	res, err := r.Push(ctx, testStore)
	require.NoError(t, err)
	assert.Zero(t, res.Actions)
	assert.Zero(t, r.Metrics().Pushes)
}

func TestStoresAndPullAll(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t, "app-bills", "app-budget", "other")
	r := newReplicator(t, backend, func(c *Config) { c.StorePrefix = "app-" })

	info, err := r.CreateStore(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, "app-notes", info.Name)

	stores, err := r.Stores(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"app-bills", "app-budget", "app-notes"}, stores)

	results, err := r.PullAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, res := range results {
		assert.True(t, res.Succeeded, res.Store)
	}
	assert.Equal(t, int64(3), r.Metrics().Pulls)
}

func TestPullMissingStore(t *testing.T) {
	r := newReplicator(t, newBackend(t))
	_, err := r.Pull(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrStoreNotFound)
}

func TestClosedReplicator(t *testing.T) {
	r := newReplicator(t, newBackend(t))
	require.NoError(t, r.Close())
	_, err := r.Items(context.Background(), testStore)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWatchNotSupported(t *testing.T) {
	r := newReplicator(t, newBackend(t))
	err := r.Watch(context.Background(), testStore, nil)
	assert.ErrorIs(t, err, common.ErrNotSupported)
}

func TestAuditTrail(t *testing.T) {
	var buf bytes.Buffer
	trail := audit.NewAuditLogger(&audit.Config{Enabled: true, Format: audit.FormatJSON, Output: &buf})
	r := newReplicator(t, newBackend(t), func(c *Config) {
		c.Audit = trail
		c.Debounce = time.Hour
	})
	ctx := context.Background()

	_, err := r.Batch(ctx, testStore, []common.Action{update("1")}, false)
	require.NoError(t, err)
	_, err = r.Push(ctx, testStore)
	require.NoError(t, err)
	_, err = r.Pull(ctx, testStore)
	require.NoError(t, err)

	var events []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		assert.Equal(t, testStore, entry["store"])
		assert.Equal(t, string(audit.ResultSuccess), entry["result"])
		events = append(events, entry["event_type"].(string))
	}
	assert.Equal(t, []string{"ACTIONS_STAGED", "PUSH", "PULL"}, events)
}

// gatedSyncer blocks structure fetches until the gate is closed.
type gatedSyncer struct {
	*memory.Memory
	gate    chan struct{}
	entered chan struct{}
	calls   atomic.Int32
	ctxErr  atomic.Value
}

func (g *gatedSyncer) FetchStructure(ctx context.Context, store string) (*common.StoreStructure, error) {
	g.calls.Add(1)
	g.entered <- struct{}{}
	<-g.gate
	g.ctxErr.Store(fmt.Sprint(ctx.Err()))
	return g.Memory.FetchStructure(ctx, store)
}

func TestSharedFetchSurvivesCallerCancel(t *testing.T) {
	backend := &gatedSyncer{
		Memory:  newBackend(t),
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 2),
	}
	r := newReplicator(t, backend)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.fetchStructure(firstCtx, testStore)
		firstErr <- err
	}()
	<-backend.entered

	secondErr := make(chan error, 1)
	go func() {
		_, err := r.fetchStructure(context.Background(), testStore)
		secondErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(backend.gate)
	require.NoError(t, <-secondErr)
	assert.Equal(t, int32(1), backend.calls.Load())
	assert.Equal(t, "<nil>", backend.ctxErr.Load())
}
