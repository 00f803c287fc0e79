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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// Item is any record carrying a stable identity field. The payload is
// opaque to the engine.
type Item map[string]any

// IDField is the identity field of an Item.
const IDField = "id"

// ID returns the normalized identity of the item, or "" if it has none.
func (i Item) ID() string {
	return NormalizeID(i[IDField])
}

// NormalizeID renders an identity value as a string so that numeric and
// string identities compare equal after a JSON round trip.
func NormalizeID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case json.Number:
		return id.String()
	default:
		return fmt.Sprint(id)
	}
}

// ActionType tags a mutation.
type ActionType string

const (
	// ActionUpdate creates or replaces an item.
	ActionUpdate ActionType = "update"
	// ActionDelete removes an item.
	ActionDelete ActionType = "delete"
	// ActionMeta changes the store's metadata document.
	ActionMeta ActionType = "meta"
)

// MetaIdentity is the shared identity of every meta action.
const MetaIdentity = "$meta"

// Action is a tagged mutation submitted by callers.
//
// For ActionUpdate, Value holds the full item and Key defaults to its id.
// For ActionDelete, Key names the item. For ActionMeta, Meta holds the
// desired metadata document before it is staged, and a patch relative to
// the last known remote document afterwards.
type Action struct {
	Type  ActionType `json:"type"`
	Key   string     `json:"key,omitempty"`
	Value Item       `json:"value,omitempty"`
	Meta  any        `json:"meta,omitempty"`
}

// Identity returns the deduplication identity of the action.
func (a Action) Identity() string {
	switch a.Type {
	case ActionMeta:
		return MetaIdentity
	case ActionUpdate:
		if a.Key != "" {
			return a.Key
		}
		return a.Value.ID()
	default:
		return a.Key
	}
}

// FullAction is the persisted unit of the action log.
type FullAction struct {
	Action
	ID        string `json:"actionId"`
	Store     string `json:"store"`
	Timestamp int64  `json:"timestamp"`
	Overlap   bool   `json:"overlap,omitempty"`
}

// Record is an item action as stored in a remote chunk.
type Record struct {
	Type      ActionType `json:"type"`
	Key       string     `json:"key"`
	Value     Item       `json:"value,omitempty"`
	Timestamp int64      `json:"timestamp"`
}

// FileRef describes a remote file by path and opaque content hash.
type FileRef struct {
	Path        string `json:"path"`
	ContentHash string `json:"contentHash"`
}

// ChunkRef describes one page of the remote item sequence.
type ChunkRef struct {
	FileRef
	StartIndex int `json:"startIndex"`
}

// StoreStructure is the remote manifest of a store.
type StoreStructure struct {
	Meta   *FileRef   `json:"meta,omitempty"`
	Chunks []ChunkRef `json:"chunks"`
	Assets []FileRef  `json:"assets"`
}

// Paths returns every path referenced by the structure.
func (s *StoreStructure) Paths() []string {
	if s == nil {
		return nil
	}
	paths := make([]string, 0, len(s.Chunks)+len(s.Assets)+1)
	if s.Meta != nil {
		paths = append(paths, s.Meta.Path)
	}
	for _, c := range s.Chunks {
		paths = append(paths, c.Path)
	}
	for _, a := range s.Assets {
		paths = append(paths, a.Path)
	}
	return paths
}

// RemoteFile is fetched content together with its reference.
type RemoteFile struct {
	FileRef
	Content []byte `json:"content"`
}

// Upload is one file written by UploadContent. A nil Content deletes the
// path.
type Upload struct {
	Path    string
	Content []byte
}

// IsDelete reports whether the upload removes its path.
func (u Upload) IsDelete() bool {
	return u.Content == nil
}

// AssetRef is the result of transforming a binary leaf for upload.
type AssetRef struct {
	Path      string `json:"path"`
	Reference string `json:"reference"`
}

// StoreInfo identifies a remote store.
type StoreInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Account is the identity the backend authenticated as.
type Account struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Collaborator is a user with access to a store.
type Collaborator struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Permission string `json:"permission,omitempty"`
}

// File is a binary payload embedded in an item.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// fileMarker is the JSON key that identifies an encoded File.
const fileMarker = "$file"

type fileJSON struct {
	Name        string `json:"name"`
	ContentType string `json:"type,omitempty"`
	Data        string `json:"data"`
}

// MarshalJSON encodes the file so it can be recognized after decoding.
func (f File) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]fileJSON{
		fileMarker: {
			Name:        f.Name,
			ContentType: f.ContentType,
			Data:        base64.StdEncoding.EncodeToString(f.Data),
		},
	})
}

// UnmarshalJSON decodes a file written by MarshalJSON.
func (f *File) UnmarshalJSON(data []byte) error {
	var wrapper map[string]fileJSON
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}
	raw, ok := wrapper[fileMarker]
	if !ok {
		return ErrNotAFile
	}
	decoded, err := base64.StdEncoding.DecodeString(raw.Data)
	if err != nil {
		return fmt.Errorf("decode file data: %w", err)
	}
	f.Name = raw.Name
	f.ContentType = raw.ContentType
	f.Data = decoded
	return nil
}

// AsFile recognizes a binary leaf: a File, a *File, or the decoded map
// form of an encoded File.
func AsFile(v any) (*File, bool) {
	switch f := v.(type) {
	case File:
		return &f, true
	case *File:
		return f, f != nil
	case map[string]any:
		if len(f) != 1 {
			return nil, false
		}
		inner, ok := f[fileMarker].(map[string]any)
		if !ok {
			return nil, false
		}
		name, _ := inner["name"].(string)
		contentType, _ := inner["type"].(string)
		data, _ := inner["data"].(string)
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, false
		}
		return &File{Name: name, ContentType: contentType, Data: decoded}, true
	}
	return nil, false
}
