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

// TransformFunc assigns a remote path and reference to a binary leaf.
type TransformFunc func(file *common.File) (common.AssetRef, error)

// ExtractAssets returns a copy of v in which every binary leaf is replaced
// by the reference transform assigns to it, together with one upload per
// leaf carrying its bytes. Lists and maps are walked recursively; any other
// value is a leaf and is kept as is. v is not modified.
func ExtractAssets(v any, transform TransformFunc) (any, []common.Upload, error) {
	var uploads []common.Upload
	out, err := extract(v, transform, &uploads)
	if err != nil {
		return nil, nil, err
	}
	return out, uploads, nil
}

func extract(v any, transform TransformFunc, uploads *[]common.Upload) (any, error) {
	if file, ok := common.AsFile(v); ok {
		ref, err := transform(file)
		if err != nil {
			return nil, err
		}
		data := file.Data
		if data == nil {
			data = []byte{}
		}
		*uploads = append(*uploads, common.Upload{Path: ref.Path, Content: data})
		return ref.Reference, nil
	}

	switch t := v.(type) {
	case common.Item:
		out, err := extractMap(t, transform, uploads)
		if err != nil {
			return nil, err
		}
		return common.Item(out), nil
	case map[string]any:
		return extractMap(t, transform, uploads)
	case []common.Item:
		out := make([]common.Item, len(t))
		for i, item := range t {
			m, err := extractMap(item, transform, uploads)
			if err != nil {
				return nil, err
			}
			out[i] = m
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			x, err := extract(elem, transform, uploads)
			if err != nil {
				return nil, err
			}
			out[i] = x
		}
		return out, nil
	default:
		return v, nil
	}
}

func extractMap(m map[string]any, transform TransformFunc, uploads *[]common.Upload) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]any, len(m))
	for k, elem := range m {
		x, err := extract(elem, transform, uploads)
		if err != nil {
			return nil, err
		}
		out[k] = x
	}
	return out, nil
}

// collectStrings adds every string leaf of v to set.
func collectStrings(v any, set map[string]bool) {
	switch t := v.(type) {
	case string:
		set[t] = true
	case common.Item:
		for _, elem := range t {
			collectStrings(elem, set)
		}
	case map[string]any:
		for _, elem := range t {
			collectStrings(elem, set)
		}
	case []any:
		for _, elem := range t {
			collectStrings(elem, set)
		}
	}
}

// referencedAssets returns the asset paths of st still referenced by a
// string leaf of records.
func referencedAssets(st *common.StoreStructure, records []common.Record) map[string]bool {
	leaves := map[string]bool{}
	for _, r := range records {
		collectStrings(r.Value, leaves)
	}
	kept := map[string]bool{}
	if st == nil {
		return kept
	}
	for _, a := range st.Assets {
		if leaves[a.Path] {
			kept[a.Path] = true
		}
	}
	return kept
}
