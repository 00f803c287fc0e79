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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-objsync/pkg/common"
)

func records(n int) []common.Record {
	out := make([]common.Record, n)
	for i := range out {
		out[i] = common.Record{Type: common.ActionUpdate, Key: fmt.Sprint(i), Value: common.Item{"id": fmt.Sprint(i)}}
	}
	return out
}

func TestRechunkPartitions(t *testing.T) {
	chunks := Rechunk(records(5), 4, 2)
	require.Len(t, chunks, 3)

	next := 4
	for _, c := range chunks {
		assert.Equal(t, next, c.StartIndex)
		next += len(c.Records)
	}
	assert.Equal(t, 9, next)
	assert.Len(t, chunks[2].Records, 1)
	assert.Empty(t, Rechunk(nil, 0, 10))
}

func TestChunkRoundTrip(t *testing.T) {
	data, err := EncodeChunk(records(2))
	require.NoError(t, err)
	decoded, err := DecodeChunk("data-0.json", data)
	require.NoError(t, err)
	assert.Len(t, decoded, 2)

	data, err = EncodeChunk(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestDecodeCorruptChunk(t *testing.T) {
	_, err := DecodeChunk("data-0.json", []byte(`{"not":"a list"}`))
	assert.ErrorIs(t, err, ErrCorruptChunk)

	_, err = DecodeChunk("data-0.json", []byte(`[{"type":"update"}]`))
	assert.ErrorIs(t, err, ErrCorruptChunk)

	_, err = DecodeMeta([]byte(`[1,2]`))
	assert.ErrorIs(t, err, ErrCorruptChunk)

	meta, err := DecodeMeta(nil)
	require.NoError(t, err)
	assert.Empty(t, meta)
}

func TestExtractAssets(t *testing.T) {
	file := common.File{Name: "a.png", Data: []byte{9}}
	input := common.Item{
		"id":    "1",
		"cover": file,
		"pages": []any{
			map[string]any{"scan": &file, "n": 1.0},
			"plain",
		},
	}
	transform := func(f *common.File) (common.AssetRef, error) {
		p := "assets/x-" + f.Name
		return common.AssetRef{Path: p, Reference: "ref:" + p}, nil
	}

	out, uploads, err := ExtractAssets(input, transform)
	require.NoError(t, err)
	require.Len(t, uploads, 2)
	assert.Equal(t, []byte{9}, uploads[0].Content)

	item := out.(common.Item)
	assert.Equal(t, "ref:assets/x-a.png", item["cover"])
	pages := item["pages"].([]any)
	assert.Equal(t, "ref:assets/x-a.png", pages[0].(map[string]any)["scan"])
	assert.Equal(t, 1.0, pages[0].(map[string]any)["n"])
	assert.Equal(t, "plain", pages[1])

	// The input is left untouched.
	assert.IsType(t, common.File{}, input["cover"])
}

func TestExtractAssetsDecodedForm(t *testing.T) {
	decoded := map[string]any{"$file": map[string]any{"name": "r.txt", "data": "aGk="}}
	out, uploads, err := ExtractAssets([]any{decoded}, func(f *common.File) (common.AssetRef, error) {
		return common.AssetRef{Path: "assets/1-" + f.Name, Reference: "assets/1-" + f.Name}, nil
	})
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, "hi", string(uploads[0].Content))
	assert.Equal(t, []any{"assets/1-r.txt"}, out)
}

func TestReferencedAssets(t *testing.T) {
	st := &common.StoreStructure{Assets: []common.FileRef{{Path: "assets/a"}, {Path: "assets/b"}}}
	kept := referencedAssets(st, []common.Record{
		{Key: "1", Value: common.Item{"nested": []any{map[string]any{"f": "assets/a"}}}},
	})
	assert.Equal(t, map[string]bool{"assets/a": true}, kept)
}
