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
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	// MetaPath is the metadata document of a store.
	MetaPath = "meta.json"

	// AssetDir holds binary payloads lifted out of items.
	AssetDir = "assets"

	// DefaultEntryName is the chunk file prefix used when none is configured.
	DefaultEntryName = "data"

	chunkExt = ".json"
)

// ChunkPath returns the remote path of the chunk starting at start.
func ChunkPath(entry string, start int) string {
	return fmt.Sprintf("%s-%d%s", entry, start, chunkExt)
}

// ParseChunkPath extracts the start index from a chunk path. It reports
// false for paths that are not chunks of entry.
func ParseChunkPath(entry, p string) (int, bool) {
	prefix := entry + "-"
	if !strings.HasPrefix(p, prefix) || !strings.HasSuffix(p, chunkExt) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(p, prefix), chunkExt)
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// IsAssetPath reports whether p lives under the asset directory.
func IsAssetPath(p string) bool {
	return strings.HasPrefix(p, AssetDir+"/")
}

// NewAssetPath returns assets/{shortId}-{filename} for a binary leaf.
func NewAssetPath(filename string) string {
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	return fmt.Sprintf("%s/%s-%s", AssetDir, short, name)
}

// BuildStructure classifies a flat listing of store-relative files into a
// manifest. Chunks are ordered by numeric start index, never by the
// backend's listing order; unrecognized files are ignored.
func BuildStructure(entry string, files []FileRef) *StoreStructure {
	s := &StoreStructure{
		Chunks: []ChunkRef{},
		Assets: []FileRef{},
	}
	for _, f := range files {
		switch {
		case f.Path == MetaPath:
			ref := f
			s.Meta = &ref
		case IsAssetPath(f.Path):
			s.Assets = append(s.Assets, f)
		default:
			if start, ok := ParseChunkPath(entry, f.Path); ok {
				s.Chunks = append(s.Chunks, ChunkRef{FileRef: f, StartIndex: start})
			}
		}
	}
	sort.Slice(s.Chunks, func(i, j int) bool {
		return s.Chunks[i].StartIndex < s.Chunks[j].StartIndex
	})
	sort.Slice(s.Assets, func(i, j int) bool {
		return s.Assets[i].Path < s.Assets[j].Path
	})
	return s
}

// AssetPathFromReference resolves a reference produced by a path-addressed
// backend back to its store-relative asset path.
func AssetPathFromReference(reference string) (string, error) {
	if !IsAssetPath(reference) {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, reference)
	}
	if err := ValidatePath(reference); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	return reference, nil
}
