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
	"github.com/jeremyhahn/go-objsync/pkg/common"
)

// StructureDiff is the result of comparing a cached structure with the
// remote one.
type StructureDiff struct {
	// Patch is true when only a suffix of the chunk list changed. When
	// false, Chunks holds every remote chunk and the items must be rebuilt.
	Patch bool

	// Chunks lists the chunks to fetch in start index order.
	Chunks []common.ChunkRef

	// MetaChanged reports whether meta.json must be fetched again.
	MetaChanged bool
}

// Empty reports whether nothing needs to be fetched.
func (d StructureDiff) Empty() bool {
	return d.Patch && len(d.Chunks) == 0 && !d.MetaChanged
}

// DiffStructure compares the cached structure with the remote one.
//
// The result is a full refresh when there is no cache, the cache holds no
// chunks, the remote holds fewer chunks than the cache, or the first chunk
// differs. Otherwise the diff is the remote suffix starting at the first
// chunk whose path or content hash differs.
func DiffStructure(cached, remote *common.StoreStructure) StructureDiff {
	if remote == nil {
		remote = &common.StoreStructure{}
	}
	diff := StructureDiff{MetaChanged: metaChanged(cached, remote)}

	if cached == nil || len(cached.Chunks) == 0 ||
		len(remote.Chunks) < len(cached.Chunks) ||
		chunkChanged(cached.Chunks[0], remote.Chunks[0]) {
		diff.Chunks = append([]common.ChunkRef(nil), remote.Chunks...)
		if cached == nil {
			diff.MetaChanged = remote.Meta != nil
		}
		return diff
	}

	diff.Patch = true
	for i := range remote.Chunks {
		if i >= len(cached.Chunks) || chunkChanged(cached.Chunks[i], remote.Chunks[i]) {
			diff.Chunks = append([]common.ChunkRef(nil), remote.Chunks[i:]...)
			break
		}
	}
	return diff
}

func chunkChanged(a, b common.ChunkRef) bool {
	return a.Path != b.Path || a.ContentHash != b.ContentHash || a.StartIndex != b.StartIndex
}

func metaChanged(cached, remote *common.StoreStructure) bool {
	var before *common.FileRef
	if cached != nil {
		before = cached.Meta
	}
	switch {
	case before == nil && remote.Meta == nil:
		return false
	case before == nil || remote.Meta == nil:
		return true
	default:
		return before.ContentHash != remote.Meta.ContentHash
	}
}
