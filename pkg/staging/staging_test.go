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

package staging

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-objsync/pkg/common"
)

func factories(t *testing.T) map[string]func() common.StagingFactory {
	t.Helper()
	return map[string]func() common.StagingFactory{
		"memory": func() common.StagingFactory { return NewMemory() },
		"jsonl": func() common.StagingFactory {
			f, err := NewJSONL(t.TempDir())
			require.NoError(t, err)
			return f
		},
		"sqlite": func() common.StagingFactory {
			f, err := NewSQLite(filepath.Join(t.TempDir(), "staging.db"))
			require.NoError(t, err)
			return f
		},
	}
}

func rec(key, value string) common.StagingRecord {
	return common.StagingRecord{Key: key, Value: json.RawMessage(value)}
}

func keys(records []common.StagingRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Key
	}
	return out
}

func TestListStore_OrderAndUpsert(t *testing.T) {
	ctx := context.Background()
	for name, open := range factories(t) {
		t.Run(name, func(t *testing.T) {
			f := open()
			defer func() { _ = f.Close() }()

			list, err := f.List("bills.items")
			require.NoError(t, err)

			require.NoError(t, list.Put(ctx, rec("a", `1`), rec("b", `2`), rec("c", `3`)))
			require.NoError(t, list.Put(ctx, rec("a", `10`)))

			all, err := list.ToArray(ctx, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "c"}, keys(all))
			assert.JSONEq(t, `10`, string(all[0].Value))

			limited, err := list.ToArray(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, keys(limited))

			require.NoError(t, list.Delete(ctx, "b", "missing"))
			all, err = list.ToArray(ctx, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "c"}, keys(all))

			require.NoError(t, list.Clear(ctx))
			all, err = list.ToArray(ctx, 0)
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestSingletonStore(t *testing.T) {
	ctx := context.Background()
	for name, open := range factories(t) {
		t.Run(name, func(t *testing.T) {
			f := open()
			defer func() { _ = f.Close() }()

			doc, err := f.Singleton("bills.meta")
			require.NoError(t, err)

			_, err = doc.GetValue(ctx)
			assert.ErrorIs(t, err, common.ErrKeyNotFound)

			require.NoError(t, doc.SetValue(ctx, json.RawMessage(`{"v":1}`)))
			require.NoError(t, doc.SetValue(ctx, json.RawMessage(`{"v":2}`)))
			got, err := doc.GetValue(ctx)
			require.NoError(t, err)
			assert.JSONEq(t, `{"v":2}`, string(got))
		})
	}
}

func TestDangerousClearAll(t *testing.T) {
	ctx := context.Background()
	for name, open := range factories(t) {
		t.Run(name, func(t *testing.T) {
			f := open()
			defer func() { _ = f.Close() }()

			list, err := f.List("a.stash")
			require.NoError(t, err)
			doc, err := f.Singleton("a.meta")
			require.NoError(t, err)
			require.NoError(t, list.Put(ctx, rec("k", `true`)))
			require.NoError(t, doc.SetValue(ctx, json.RawMessage(`{}`)))

			require.NoError(t, f.DangerousClearAll(ctx))

			all, err := list.ToArray(ctx, 0)
			require.NoError(t, err)
			assert.Empty(t, all)
			_, err = doc.GetValue(ctx)
			assert.ErrorIs(t, err, common.ErrKeyNotFound)

			// Handles stay usable after a clear.
			require.NoError(t, list.Put(ctx, rec("k2", `1`)))
			all, err = list.ToArray(ctx, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"k2"}, keys(all))
		})
	}
}

func TestJSONL_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	f, err := NewJSONL(dir)
	require.NoError(t, err)
	list, err := f.List("s.stash")
	require.NoError(t, err)
	require.NoError(t, list.Put(ctx, rec("x", `1`), rec("y", `2`), rec("z", `3`)))
	require.NoError(t, list.Put(ctx, rec("x", `4`)))
	require.NoError(t, list.Delete(ctx, "y"))
	require.NoError(t, f.Close())

	reopened, err := NewJSONL(dir)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	list, err = reopened.List("s.stash")
	require.NoError(t, err)

	all, err := list.ToArray(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "z"}, keys(all))
	assert.JSONEq(t, `4`, string(all[0].Value))
}

func TestJSONL_RejectsTraversal(t *testing.T) {
	f, err := NewJSONL(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	_, err = f.List("../escape")
	assert.Error(t, err)
}
