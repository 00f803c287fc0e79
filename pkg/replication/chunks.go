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
	"encoding/json"
	"fmt"

	"github.com/jeremyhahn/go-objsync/pkg/common"
)

// Chunk is one page of the remote record sequence.
type Chunk struct {
	StartIndex int
	Records    []common.Record
}

// Rechunk slices records into pages of size records each, numbering them
// from start. Start indexes partition the sequence without gaps.
func Rechunk(records []common.Record, start, size int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([]Chunk, 0, (len(records)+size-1)/size)
	for i := 0; i < len(records); i += size {
		end := i + size
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, Chunk{StartIndex: start + i, Records: records[i:end]})
	}
	return chunks
}

// EncodeChunk serializes a chunk body.
func EncodeChunk(records []common.Record) ([]byte, error) {
	if records == nil {
		records = []common.Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chunk: %w", err)
	}
	return data, nil
}

// DecodeChunk parses a chunk body. Malformed content is corruption.
func DecodeChunk(p string, data []byte) ([]common.Record, error) {
	var records []common.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptChunk, p, err)
	}
	for i, r := range records {
		if r.Key == "" || (r.Type != common.ActionUpdate && r.Type != common.ActionDelete) {
			return nil, fmt.Errorf("%w: %s: record %d", ErrCorruptChunk, p, i)
		}
	}
	return records, nil
}

// DecodeMeta parses meta.json. An empty body is an empty document.
func DecodeMeta(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptChunk, common.MetaPath, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}
