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

package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/jeremyhahn/go-objsync/pkg/common"
)

func newStore(t *testing.T, name string) *Memory {
	t.Helper()
	m := New()
	if err := m.Configure(nil); err != nil {
		t.Fatalf("Configure() returned error: %v", err)
	}
	if _, err := m.CreateStore(context.Background(), name); err != nil {
		t.Fatalf("CreateStore() returned error: %v", err)
	}
	return m
}

func TestConfigure(t *testing.T) {
	m := New()
	if err := m.Configure(map[string]string{"entry": "rows", "owner": "ann"}); err != nil {
		t.Fatalf("Configure() returned error: %v", err)
	}
	acct, err := m.Account(context.Background())
	if err != nil {
		t.Fatalf("Account() returned error: %v", err)
	}
	if acct.Name != "ann" {
		t.Errorf("Account().Name = %q, want %q", acct.Name, "ann")
	}
}

func TestCreateStore(t *testing.T) {
	ctx := context.Background()
	m := newStore(t, "bills")

	if _, err := m.CreateStore(ctx, "bills"); !errors.Is(err, common.ErrStoreExists) {
		t.Fatalf("CreateStore() duplicate error = %v, want ErrStoreExists", err)
	}
	if _, err := m.CreateStore(ctx, "../x"); err == nil {
		t.Fatal("CreateStore() accepted an invalid name")
	}
	if _, err := m.CreateStore(ctx, "alpha"); err != nil {
		t.Fatalf("CreateStore() returned error: %v", err)
	}

	names, err := m.FetchAllStore(ctx)
	if err != nil {
		t.Fatalf("FetchAllStore() returned error: %v", err)
	}
	if len(names) != 2 || names[0] != "alpha" || names[1] != "bills" {
		t.Fatalf("FetchAllStore() = %v", names)
	}
}

func TestFetchStructure_UnknownStore(t *testing.T) {
	m := New()
	_, err := m.FetchStructure(context.Background(), "nope")
	if !errors.Is(err, common.ErrStoreNotFound) {
		t.Fatalf("FetchStructure() error = %v, want ErrStoreNotFound", err)
	}
}

func TestUploadAndFetch(t *testing.T) {
	ctx := context.Background()
	m := newStore(t, "bills")

	st, err := m.UploadContent(ctx, "bills", []common.Upload{
		{Path: "data-10000.json", Content: []byte(`[]`)},
		{Path: "data-0.json", Content: []byte(`[1]`)},
		{Path: "data-2000.json", Content: []byte(`[2]`)},
		{Path: "meta.json", Content: []byte(`{}`)},
		{Path: "assets/abc-r.png", Content: []byte{1}},
		{Path: "notes.txt", Content: []byte("ignored")},
	})
	if err != nil {
		t.Fatalf("UploadContent() returned error: %v", err)
	}

	if st.Meta == nil || st.Meta.Path != "meta.json" {
		t.Fatalf("structure meta = %+v", st.Meta)
	}
	starts := []int{}
	for _, c := range st.Chunks {
		starts = append(starts, c.StartIndex)
	}
	if len(starts) != 3 || starts[0] != 0 || starts[1] != 2000 || starts[2] != 10000 {
		t.Fatalf("chunk order = %v, want [0 2000 10000]", starts)
	}
	if len(st.Assets) != 1 {
		t.Fatalf("assets = %v", st.Assets)
	}

	files, err := m.FetchContent(ctx, "bills", []common.FileRef{{Path: "data-2000.json"}, {Path: "data-0.json"}})
	if err != nil {
		t.Fatalf("FetchContent() returned error: %v", err)
	}
	if string(files[0].Content) != `[2]` || string(files[1].Content) != `[1]` {
		t.Fatalf("FetchContent() returned out-of-order content")
	}
	if files[0].ContentHash == "" {
		t.Error("FetchContent() returned empty content hash")
	}

	// Returned content is a copy.
	files[0].Content[0] = 'x'
	again, _ := m.FetchContent(ctx, "bills", []common.FileRef{{Path: "data-2000.json"}})
	if string(again[0].Content) != `[2]` {
		t.Error("FetchContent() exposed internal buffer")
	}
}

func TestUploadContent_HashChangesOnRewrite(t *testing.T) {
	ctx := context.Background()
	m := newStore(t, "bills")

	first, err := m.UploadContent(ctx, "bills", []common.Upload{{Path: "data-0.json", Content: []byte(`[]`)}})
	if err != nil {
		t.Fatalf("UploadContent() returned error: %v", err)
	}
	second, err := m.UploadContent(ctx, "bills", []common.Upload{{Path: "data-0.json", Content: []byte(`[1,2]`)}})
	if err != nil {
		t.Fatalf("UploadContent() returned error: %v", err)
	}
	if first.Chunks[0].ContentHash == second.Chunks[0].ContentHash {
		t.Error("content hash did not change after rewrite")
	}
}

func TestUploadContent_Delete(t *testing.T) {
	ctx := context.Background()
	m := newStore(t, "bills")

	if _, err := m.UploadContent(ctx, "bills", []common.Upload{{Path: "data-0.json", Content: []byte(`[]`)}}); err != nil {
		t.Fatalf("UploadContent() returned error: %v", err)
	}
	st, err := m.UploadContent(ctx, "bills", []common.Upload{{Path: "data-0.json"}})
	if err != nil {
		t.Fatalf("UploadContent() returned error: %v", err)
	}
	if len(st.Chunks) != 0 {
		t.Fatalf("chunks after delete = %v", st.Chunks)
	}
}

func TestUploadContent_RejectsTraversal(t *testing.T) {
	m := newStore(t, "bills")
	_, err := m.UploadContent(context.Background(), "bills", []common.Upload{{Path: "../escape", Content: []byte("x")}})
	if err == nil {
		t.Fatal("UploadContent() accepted a traversal path")
	}
}

func TestAssets(t *testing.T) {
	ctx := context.Background()
	m := newStore(t, "bills")

	ref, err := m.TransformAsset(ctx, "bills", &common.File{Name: "receipt.png", Data: []byte{9, 8}})
	if err != nil {
		t.Fatalf("TransformAsset() returned error: %v", err)
	}
	if !common.IsAssetPath(ref.Path) {
		t.Fatalf("TransformAsset() path = %q", ref.Path)
	}
	if _, err := m.UploadContent(ctx, "bills", []common.Upload{{Path: ref.Path, Content: []byte{9, 8}}}); err != nil {
		t.Fatalf("UploadContent() returned error: %v", err)
	}

	data, err := m.GetAsset(ctx, "bills", ref.Reference)
	if err != nil {
		t.Fatalf("GetAsset() returned error: %v", err)
	}
	if !bytes.Equal(data, []byte{9, 8}) {
		t.Fatalf("GetAsset() = %v", data)
	}

	if _, err := m.GetAsset(ctx, "bills", "data-0.json"); !errors.Is(err, common.ErrInvalidReference) {
		t.Fatalf("GetAsset() error = %v, want ErrInvalidReference", err)
	}
}

func TestCollaboratorsNotSupported(t *testing.T) {
	m := newStore(t, "bills")
	if _, err := m.Collaborators(context.Background(), "bills"); !errors.Is(err, common.ErrNotSupported) {
		t.Fatalf("Collaborators() error = %v, want ErrNotSupported", err)
	}
}

func TestContextCancelled(t *testing.T) {
	m := newStore(t, "bills")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.FetchStructure(ctx, "bills"); !errors.Is(err, context.Canceled) {
		t.Fatalf("FetchStructure() error = %v, want context.Canceled", err)
	}
}
