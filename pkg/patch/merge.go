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

package patch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Merge applies delta to a copy of base and returns the result. The
// annotation is never applied. A delta rooted in an array
// shape would replace base wholesale and is rejected with
// ErrArrayRootPatch; any delta that does not fit base returns
// ErrPatchConflict.
func Merge(base, delta any) (any, error) {
	target, err := Clone(base)
	if err != nil {
		return nil, err
	}
	if delta == nil {
		return target, nil
	}
	root, ok := delta.(map[string]any)
	if !ok {
		if _, isArray := delta.([]any); isArray {
			return nil, ErrArrayRootPatch
		}
		return nil, fmt.Errorf("%w: unexpected delta type %T", ErrPatchConflict, delta)
	}
	out, deleted, err := apply(target, root, "$")
	if err != nil {
		return nil, err
	}
	if deleted {
		return nil, nil
	}
	return out, nil
}

func apply(target any, delta any, path string) (any, bool, error) {
	switch d := delta.(type) {
	case []any:
		return applyLeaf(d, path)
	case map[string]any:
		if d[arrayMarker] == arrayType {
			arr, ok := target.([]any)
			if !ok {
				if target != nil {
					return nil, false, fmt.Errorf("%w at %s: array delta on %T", ErrPatchConflict, path, target)
				}
				arr = []any{}
			}
			out, err := applyArray(arr, d, path)
			return out, false, err
		}
		obj, ok := target.(map[string]any)
		if !ok {
			if target != nil {
				return nil, false, fmt.Errorf("%w at %s: object delta on %T", ErrPatchConflict, path, target)
			}
			obj = map[string]any{}
		}
		for dk, sub := range d {
			k, ok := unescapeKey(dk)
			if !ok {
				continue
			}
			res, deleted, err := apply(obj[k], sub, path+"."+k)
			if err != nil {
				return nil, false, err
			}
			if deleted {
				delete(obj, k)
			} else {
				obj[k] = res
			}
		}
		return obj, false, nil
	default:
		return nil, false, fmt.Errorf("%w at %s: unexpected delta type %T", ErrPatchConflict, path, delta)
	}
}

func applyLeaf(d []any, path string) (any, bool, error) {
	switch len(d) {
	case 1:
		v, err := Clone(d[0])
		return v, false, err
	case 2:
		v, err := Clone(d[1])
		return v, false, err
	case 3:
		if op, ok := toInt(d[2]); ok && op == opDeleted {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("%w at %s: move outside of an array", ErrPatchConflict, path)
	default:
		return nil, false, fmt.Errorf("%w at %s: malformed delta of length %d", ErrPatchConflict, path, len(d))
	}
}

type insertion struct {
	index int
	value any
}

func applyArray(arr []any, d map[string]any, path string) ([]any, error) {
	var (
		removals []int
		moves    = make(map[int]int)
		inserts  []insertion
		mods     = make(map[int]any)
	)
	for k, v := range d {
		if k == arrayMarker {
			continue
		}
		if strings.HasPrefix(k, "_") {
			from, err := strconv.Atoi(k[1:])
			if err != nil {
				return nil, fmt.Errorf("%w at %s: bad array key %q", ErrPatchConflict, path, k)
			}
			leaf, ok := v.([]any)
			if !ok || len(leaf) != 3 {
				return nil, fmt.Errorf("%w at %s[%s]: expected removal or move", ErrPatchConflict, path, k)
			}
			op, _ := toInt(leaf[2])
			switch op {
			case opDeleted:
				removals = append(removals, from)
			case opMoved:
				to, ok := toInt(leaf[1])
				if !ok {
					return nil, fmt.Errorf("%w at %s[%s]: bad move target", ErrPatchConflict, path, k)
				}
				removals = append(removals, from)
				moves[from] = to
			default:
				return nil, fmt.Errorf("%w at %s[%s]: unknown array operation %v", ErrPatchConflict, path, k, leaf[2])
			}
			continue
		}
		to, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("%w at %s: bad array key %q", ErrPatchConflict, path, k)
		}
		if leaf, ok := v.([]any); ok && len(leaf) == 1 {
			value, err := Clone(leaf[0])
			if err != nil {
				return nil, err
			}
			inserts = append(inserts, insertion{index: to, value: value})
			continue
		}
		mods[to] = v
	}

	sort.Sort(sort.Reverse(sort.IntSlice(removals)))
	removed := make(map[int]any, len(removals))
	for _, from := range removals {
		if from < 0 || from >= len(arr) {
			return nil, fmt.Errorf("%w at %s: index %d out of range", ErrPatchConflict, path, from)
		}
		removed[from] = arr[from]
		arr = append(arr[:from], arr[from+1:]...)
	}
	for from, to := range moves {
		inserts = append(inserts, insertion{index: to, value: removed[from]})
	}

	sort.Slice(inserts, func(i, j int) bool { return inserts[i].index < inserts[j].index })
	for _, ins := range inserts {
		if ins.index < 0 || ins.index > len(arr) {
			return nil, fmt.Errorf("%w at %s: insert index %d out of range", ErrPatchConflict, path, ins.index)
		}
		arr = append(arr, nil)
		copy(arr[ins.index+1:], arr[ins.index:])
		arr[ins.index] = ins.value
	}

	indexes := make([]int, 0, len(mods))
	for i := range mods {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		if i < 0 || i >= len(arr) {
			return nil, fmt.Errorf("%w at %s: index %d out of range", ErrPatchConflict, path, i)
		}
		res, deleted, err := apply(arr[i], mods[i], fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		if deleted {
			return nil, fmt.Errorf("%w at %s[%d]: deletion addressed by new index", ErrPatchConflict, path, i)
		}
		arr[i] = res
	}
	return arr, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}
