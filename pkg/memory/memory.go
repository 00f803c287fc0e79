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

// Package memory provides an in-memory implementation of the syncer interface.
// This is useful for testing, development, and scenarios where persistence is not required.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jeremyhahn/go-objsync/pkg/common"
)

// object represents a stored file with its content hash.
type object struct {
	data []byte
	hash string
}

// Memory is a syncer backend that keeps every store in memory.
type Memory struct {
	mu     sync.RWMutex
	entry  string
	stores map[string]map[string]*object
	owner  string
	clock  func() time.Time
}

// New creates a new Memory syncer backend.
func New() *Memory {
	return &Memory{
		entry:  common.DefaultEntryName,
		stores: make(map[string]map[string]*object),
		owner:  "local",
		clock:  time.Now,
	}
}

// Configure sets up the backend with the necessary settings.
// Settings:
//   - entry: chunk file prefix (optional, default "data")
//   - owner: account name reported by Account (optional, default "local")
func (m *Memory) Configure(settings map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v := settings["entry"]; v != "" {
		m.entry = v
	}
	if v := settings["owner"]; v != "" {
		m.owner = v
	}
	return nil
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// store returns the named store (must be called with mu held).
func (m *Memory) store(name string) (map[string]*object, error) {
	if err := common.ValidateStoreName(name); err != nil {
		return nil, err
	}
	files, ok := m.stores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrStoreNotFound, name)
	}
	return files, nil
}

// FetchStructure lists the store and returns its manifest.
func (m *Memory) FetchStructure(ctx context.Context, store string) (*common.StoreStructure, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	files, err := m.store(store)
	if err != nil {
		return nil, err
	}
	return m.structure(files), nil
}

func (m *Memory) structure(files map[string]*object) *common.StoreStructure {
	refs := make([]common.FileRef, 0, len(files))
	for p, obj := range files {
		refs = append(refs, common.FileRef{Path: p, ContentHash: obj.hash})
	}
	return common.BuildStructure(m.entry, refs)
}

// FetchContent returns the content of each referenced file in order.
func (m *Memory) FetchContent(ctx context.Context, store string, refs []common.FileRef) ([]common.RemoteFile, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	files, err := m.store(store)
	if err != nil {
		return nil, err
	}
	out := make([]common.RemoteFile, 0, len(refs))
	for _, ref := range refs {
		obj, ok := files[ref.Path]
		if !ok {
			return nil, fmt.Errorf("%w: %s", common.ErrKeyNotFound, ref.Path)
		}
		// Return a copy of the data to prevent mutation
		data := make([]byte, len(obj.data))
		copy(data, obj.data)
		out = append(out, common.RemoteFile{
			FileRef: common.FileRef{Path: ref.Path, ContentHash: obj.hash},
			Content: data,
		})
	}
	return out, nil
}

// UploadContent writes and deletes files atomically with respect to readers.
func (m *Memory) UploadContent(ctx context.Context, store string, uploads []common.Upload) (*common.StoreStructure, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	for _, u := range uploads {
		if err := common.ValidatePath(u.Path); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	files, err := m.store(store)
	if err != nil {
		return nil, err
	}
	for _, u := range uploads {
		if u.IsDelete() {
			delete(files, u.Path)
			continue
		}
		data := make([]byte, len(u.Content))
		copy(data, u.Content)
		files[u.Path] = &object{
			data: data,
			hash: fmt.Sprintf("%d-%d", m.clock().UnixNano(), len(data)),
		}
	}
	return m.structure(files), nil
}

// TransformAsset assigns an asset path; the reference is the path itself.
func (m *Memory) TransformAsset(ctx context.Context, store string, file *common.File) (common.AssetRef, error) {
	if file == nil {
		return common.AssetRef{}, common.ErrNotAFile
	}
	p := common.NewAssetPath(file.Name)
	return common.AssetRef{Path: p, Reference: p}, nil
}

// GetAsset returns the bytes of a previously uploaded asset.
func (m *Memory) GetAsset(ctx context.Context, store string, reference string) ([]byte, error) {
	p, err := common.AssetPathFromReference(reference)
	if err != nil {
		return nil, err
	}
	files, err := m.FetchContent(ctx, store, []common.FileRef{{Path: p}})
	if err != nil {
		return nil, err
	}
	return files[0].Content, nil
}

// CreateStore creates a new empty store.
func (m *Memory) CreateStore(ctx context.Context, name string) (*common.StoreInfo, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := common.ValidateStoreName(name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.stores[name]; exists {
		return nil, fmt.Errorf("%w: %s", common.ErrStoreExists, name)
	}
	m.stores[name] = make(map[string]*object)
	return &common.StoreInfo{ID: name, Name: name}, nil
}

// FetchAllStore lists every store in name order.
func (m *Memory) FetchAllStore(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Account returns the configured owner.
func (m *Memory) Account(ctx context.Context) (*common.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &common.Account{ID: m.owner, Name: m.owner}, nil
}

// Collaborators is not supported by the memory backend.
func (m *Memory) Collaborators(ctx context.Context, store string) ([]common.Collaborator, error) {
	return nil, common.ErrNotSupported
}
