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
	"errors"
	"strings"
	"testing"
)

func TestChunkPath(t *testing.T) {
	if got := ChunkPath("data", 2000); got != "data-2000.json" {
		t.Errorf("ChunkPath = %q", got)
	}

	tests := []struct {
		path  string
		start int
		ok    bool
	}{
		{"data-0.json", 0, true},
		{"data-10000.json", 10000, true},
		{"data-.json", 0, false},
		{"data--1.json", 0, false},
		{"data-1.txt", 0, false},
		{"other-1.json", 0, false},
		{"data-abc.json", 0, false},
		{"meta.json", 0, false},
	}
	for _, tt := range tests {
		start, ok := ParseChunkPath("data", tt.path)
		if ok != tt.ok || start != tt.start {
			t.Errorf("ParseChunkPath(%q) = %d, %v; want %d, %v", tt.path, start, ok, tt.start, tt.ok)
		}
	}
}

func TestNewAssetPath(t *testing.T) {
	p := NewAssetPath("photos/cover.png")
	if !IsAssetPath(p) || !strings.HasSuffix(p, "-cover.png") {
		t.Errorf("NewAssetPath = %q", p)
	}
	if err := ValidatePath(p); err != nil {
		t.Errorf("asset path should be valid: %v", err)
	}
	if NewAssetPath("a") == NewAssetPath("a") {
		t.Error("Expected unique asset paths")
	}
	if p := NewAssetPath("C:\\docs\\scan.pdf"); !strings.HasSuffix(p, "-scan.pdf") {
		t.Errorf("Expected backslash paths to keep the base name, got %q", p)
	}
	if p := NewAssetPath(""); !strings.HasSuffix(p, "-file") {
		t.Errorf("Expected fallback name, got %q", p)
	}
}

func TestBuildStructure(t *testing.T) {
	files := []FileRef{
		{Path: "data-10000.json", ContentHash: "c"},
		{Path: "assets/b-x.png", ContentHash: "b"},
		{Path: "data-0.json", ContentHash: "a"},
		{Path: "meta.json", ContentHash: "m"},
		{Path: "data-2000.json", ContentHash: "b"},
		{Path: "README.md", ContentHash: "r"},
		{Path: "assets/a-y.png", ContentHash: "a"},
	}

	st := BuildStructure("data", files)
	if st.Meta == nil || st.Meta.ContentHash != "m" {
		t.Fatalf("Expected meta, got %+v", st.Meta)
	}
	starts := []int{}
	for _, c := range st.Chunks {
		starts = append(starts, c.StartIndex)
	}
	if len(starts) != 3 || starts[0] != 0 || starts[1] != 2000 || starts[2] != 10000 {
		t.Errorf("Expected numeric chunk order, got %v", starts)
	}
	if len(st.Assets) != 2 || st.Assets[0].Path != "assets/a-y.png" {
		t.Errorf("Expected sorted assets, got %+v", st.Assets)
	}

	empty := BuildStructure("data", nil)
	if empty.Meta != nil || empty.Chunks == nil || empty.Assets == nil {
		t.Errorf("Expected empty non-nil slices, got %+v", empty)
	}
}

func TestAssetPathFromReference(t *testing.T) {
	p, err := AssetPathFromReference("assets/1a2b-c.png")
	if err != nil || p != "assets/1a2b-c.png" {
		t.Errorf("AssetPathFromReference = %q, %v", p, err)
	}
	for _, ref := range []string{"data-0.json", "https://example.com/a", "assets/../meta.json", ""} {
		if _, err := AssetPathFromReference(ref); !errors.Is(err, ErrInvalidReference) {
			t.Errorf("AssetPathFromReference(%q): expected ErrInvalidReference, got %v", ref, err)
		}
	}
}
