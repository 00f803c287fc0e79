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

// Package patch computes structural differences between JSON-like values
// and re-applies them.
//
// Deltas use the jsondiffpatch wire format so they can be persisted as
// plain JSON:
//
//	[new]              value added
//	[old, new]         value replaced
//	[old, 0, 0]        value deleted
//	{"key": delta}     object delta
//	{"_t": "a", ...}   array delta; "N" addresses index N of the new array,
//	                   "_N" addresses index N of the original array and is
//	                   either [old, 0, 0] (removed) or ["", to, 3] (moved)
//
// Arrays are matched by identity rather than position, so reordering an
// array of records produces moves instead of a full replacement.
//
// Object keys that collide with the reserved "_meta" and "_t" keys, or
// that start with "~", are written to a delta with a "~" prefix so data
// can never be mistaken for an annotation or an array marker.
package patch

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

const (
	// AnnotationKey holds the opaque annotation attached by Diff.
	AnnotationKey = "_meta"

	arrayMarker = "_t"
	arrayType   = "a"

	escapePrefix = "~"

	opDeleted = 0
	opMoved   = 3
)

// IdentityFields is the priority list used to match array elements.
var IdentityFields = []string{"id", "key", "name", "uid", "_id"}

// Normalize converts v into its plain JSON form (map[string]any, []any,
// float64, string, bool, nil). The result shares nothing with v.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return out, nil
}

// Clone returns a deep copy of a JSON-like value.
func Clone(v any) (any, error) {
	return Normalize(v)
}

// Equal reports whether two values have the same JSON form.
func Equal(a, b any) bool {
	na, err := Normalize(a)
	if err != nil {
		return false
	}
	nb, err := Normalize(b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

// Diff returns the delta turning original into modified, or nil when they
// are equal. A non-nil annotation is attached under AnnotationKey when the
// delta is object-rooted.
func Diff(original, modified any, annotation map[string]any) (any, error) {
	o, err := Normalize(original)
	if err != nil {
		return nil, err
	}
	m, err := Normalize(modified)
	if err != nil {
		return nil, err
	}
	delta := diff(o, m)
	if delta == nil {
		return nil, nil
	}
	if annotation != nil {
		if obj, ok := delta.(map[string]any); ok && obj[arrayMarker] == nil {
			obj[AnnotationKey] = annotation
		}
	}
	return delta, nil
}

// annotationOf returns the annotation attached to a delta, if any.
func annotationOf(delta any) map[string]any {
	obj, ok := delta.(map[string]any)
	if !ok {
		return nil
	}
	a, _ := obj[AnnotationKey].(map[string]any)
	return a
}

func diff(o, m any) any {
	if reflect.DeepEqual(o, m) {
		return nil
	}
	switch ov := o.(type) {
	case map[string]any:
		if mv, ok := m.(map[string]any); ok {
			return diffObject(ov, mv)
		}
	case []any:
		if mv, ok := m.([]any); ok {
			return diffArray(ov, mv)
		}
	}
	return []any{o, m}
}

// escapeKey maps a data key to its delta key.
func escapeKey(k string) string {
	if k == AnnotationKey || k == arrayMarker || strings.HasPrefix(k, escapePrefix) {
		return escapePrefix + k
	}
	return k
}

// unescapeKey reverses escapeKey. ok is false for reserved delta keys.
func unescapeKey(k string) (string, bool) {
	if k == AnnotationKey || k == arrayMarker {
		return "", false
	}
	return strings.TrimPrefix(k, escapePrefix), true
}

func diffObject(o, m map[string]any) any {
	delta := make(map[string]any)
	for k, ov := range o {
		mv, ok := m[k]
		if !ok {
			delta[escapeKey(k)] = []any{ov, opDeleted, opDeleted}
			continue
		}
		if d := diff(ov, mv); d != nil {
			delta[escapeKey(k)] = d
		}
	}
	for k, mv := range m {
		if _, ok := o[k]; !ok {
			delta[escapeKey(k)] = []any{mv}
		}
	}
	if len(delta) == 0 {
		return nil
	}
	return delta
}

func diffArray(o, m []any) any {
	oSigs := make([]string, len(o))
	for i, v := range o {
		oSigs[i] = Signature(v)
	}
	mSigs := make([]string, len(m))
	for i, v := range m {
		mSigs[i] = Signature(v)
	}

	pairs := lcs(oSigs, mSigs)
	oMatched := make(map[int]int, len(pairs))
	mMatched := make(map[int]int, len(pairs))
	for _, p := range pairs {
		oMatched[p[0]] = p[1]
		mMatched[p[1]] = p[0]
	}

	delta := map[string]any{arrayMarker: arrayType}

	for _, p := range pairs {
		if d := diff(o[p[0]], m[p[1]]); d != nil {
			delta[strconv.Itoa(p[1])] = d
		}
	}

	// Elements outside the common subsequence that still match by identity
	// are moves; the rest are removals and additions.
	free := make(map[string][]int)
	for j := range m {
		if _, ok := mMatched[j]; !ok {
			free[mSigs[j]] = append(free[mSigs[j]], j)
		}
	}
	for i := range o {
		if _, ok := oMatched[i]; ok {
			continue
		}
		if targets := free[oSigs[i]]; len(targets) > 0 {
			j := targets[0]
			free[oSigs[i]] = targets[1:]
			mMatched[j] = i
			delta["_"+strconv.Itoa(i)] = []any{"", j, opMoved}
			if d := diff(o[i], m[j]); d != nil {
				delta[strconv.Itoa(j)] = d
			}
			continue
		}
		delta["_"+strconv.Itoa(i)] = []any{o[i], opDeleted, opDeleted}
	}
	for j := range m {
		if _, ok := mMatched[j]; !ok {
			delta[strconv.Itoa(j)] = []any{m[j]}
		}
	}

	if len(delta) == 1 {
		return nil
	}
	return delta
}

// lcs returns index pairs of a longest common subsequence. Ties prefer
// elements earlier in a.
func lcs(a, b []string) [][2]int {
	n, m := len(a), len(b)
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] >= dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}
	var pairs [][2]int
	for i, j := n, m; i > 0 && j > 0; {
		switch {
		case a[i-1] == b[j-1]:
			pairs = append(pairs, [2]int{i - 1, j - 1})
			i--
			j--
		case dp[i-1][j] >= dp[i][j-1]:
			i--
		default:
			j--
		}
	}
	sort.Slice(pairs, func(x, y int) bool { return pairs[x][0] < pairs[y][0] })
	return pairs
}

// Signature returns the identity of an array element: the first present
// field from IdentityFields, or a structural hash of the whole value.
func Signature(v any) string {
	if obj, ok := v.(map[string]any); ok {
		for _, field := range IdentityFields {
			if id, ok := obj[field]; ok && id != nil {
				return field + "=" + fmt.Sprint(id)
			}
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("#%v", v)
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	return "#" + strconv.FormatUint(h.Sum64(), 16)
}
