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

// Package local implements the syncer interface over a directory tree. Each
// store is a subdirectory of the configured root.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jeremyhahn/go-objsync/pkg/adapters"
	"github.com/jeremyhahn/go-objsync/pkg/common"
)

// tmpSuffix marks files being written; they are never listed.
const tmpSuffix = ".tmp"

// Local is a syncer backend that stores files on the local disk.
type Local struct {
	path   string
	entry  string
	owner  string
	logger adapters.Logger
}

// New creates a new Local syncer backend.
func New() *Local {
	return &Local{
		entry:  common.DefaultEntryName,
		logger: adapters.NewNoOpLogger(),
	}
}

// Configure sets up the backend with the necessary settings.
// Settings:
//   - path: The root directory holding one subdirectory per store (required)
//   - entry: chunk file prefix (optional, default "data")
//   - owner: account name reported by Account (optional, default current user)
func (l *Local) Configure(settings map[string]string) error {
	l.path = settings["path"]
	if l.path == "" {
		return common.ErrPathNotSet
	}
	if v := settings["entry"]; v != "" {
		l.entry = v
	}
	l.owner = settings["owner"]
	if l.owner == "" {
		l.owner = os.Getenv("USER")
	}
	if l.owner == "" {
		l.owner = "local"
	}

	// Ensure directory exists
	return os.MkdirAll(l.path, 0750)
}

// SetLogger sets the logger for this backend.
func (l *Local) SetLogger(logger adapters.Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// GetPath returns the root directory.
func (l *Local) GetPath() string {
	return l.path
}

func (l *Local) storeDir(store string) (string, error) {
	if l.path == "" {
		return "", common.ErrNotConfigured
	}
	if err := common.ValidateStoreName(store); err != nil {
		return "", err
	}
	dir := filepath.Join(l.path, store)
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", common.ErrStoreNotFound, store)
	}
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", common.ErrStoreNotFound, store)
	}
	return dir, nil
}

func contentHash(info fs.FileInfo) string {
	return fmt.Sprintf("%d-%d", info.ModTime().UnixNano(), info.Size())
}

// FetchStructure walks the store directory and returns its manifest.
func (l *Local) FetchStructure(ctx context.Context, store string) (*common.StoreStructure, error) {
	dir, err := l.storeDir(store)
	if err != nil {
		return nil, err
	}
	var refs []common.FileRef
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), tmpSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		refs = append(refs, common.FileRef{Path: filepath.ToSlash(rel), ContentHash: contentHash(info)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list store %s: %w", store, err)
	}
	return common.BuildStructure(l.entry, refs), nil
}

// FetchContent reads each referenced file in order.
func (l *Local) FetchContent(ctx context.Context, store string, refs []common.FileRef) ([]common.RemoteFile, error) {
	dir, err := l.storeDir(store)
	if err != nil {
		return nil, err
	}
	out := make([]common.RemoteFile, 0, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := common.ValidatePath(ref.Path); err != nil {
			return nil, err
		}
		full := filepath.Join(dir, filepath.FromSlash(ref.Path))
		data, err := os.ReadFile(full) // #nosec G304 -- Path validated by ValidatePath() to prevent directory traversal
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", common.ErrKeyNotFound, ref.Path)
		}
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(full)
		if err != nil {
			return nil, err
		}
		out = append(out, common.RemoteFile{
			FileRef: common.FileRef{Path: ref.Path, ContentHash: contentHash(info)},
			Content: data,
		})
	}
	return out, nil
}

// UploadContent writes each file through a temporary file and rename, and
// removes files with nil content.
func (l *Local) UploadContent(ctx context.Context, store string, uploads []common.Upload) (*common.StoreStructure, error) {
	dir, err := l.storeDir(store)
	if err != nil {
		return nil, err
	}
	for _, u := range uploads {
		if err := common.ValidatePath(u.Path); err != nil {
			return nil, err
		}
	}
	for _, u := range uploads {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		full := filepath.Join(dir, filepath.FromSlash(u.Path))
		if u.IsDelete() {
			if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to delete %s: %w", u.Path, err)
			}
			l.logger.Debug(ctx, "Deleted file",
				adapters.Field{Key: "store", Value: store},
				adapters.Field{Key: "path", Value: u.Path})
			continue
		}
		if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil { // Restrict permissions for security
			return nil, err
		}
		tmp := full + tmpSuffix
		if err := os.WriteFile(tmp, u.Content, 0600); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", u.Path, err)
		}
		if err := os.Rename(tmp, full); err != nil {
			_ = os.Remove(tmp)
			return nil, fmt.Errorf("failed to replace %s: %w", u.Path, err)
		}
		l.logger.Debug(ctx, "Wrote file",
			adapters.Field{Key: "store", Value: store},
			adapters.Field{Key: "path", Value: u.Path},
			adapters.Field{Key: "size", Value: len(u.Content)})
	}
	return l.FetchStructure(ctx, store)
}

// TransformAsset assigns an asset path; the reference is the path itself.
func (l *Local) TransformAsset(ctx context.Context, store string, file *common.File) (common.AssetRef, error) {
	if file == nil {
		return common.AssetRef{}, common.ErrNotAFile
	}
	p := common.NewAssetPath(file.Name)
	return common.AssetRef{Path: p, Reference: p}, nil
}

// GetAsset reads a previously uploaded asset.
func (l *Local) GetAsset(ctx context.Context, store string, reference string) ([]byte, error) {
	p, err := common.AssetPathFromReference(reference)
	if err != nil {
		return nil, err
	}
	files, err := l.FetchContent(ctx, store, []common.FileRef{{Path: p}})
	if err != nil {
		return nil, err
	}
	return files[0].Content, nil
}

// CreateStore creates the store directory.
func (l *Local) CreateStore(ctx context.Context, name string) (*common.StoreInfo, error) {
	if l.path == "" {
		return nil, common.ErrNotConfigured
	}
	if err := common.ValidateStoreName(name); err != nil {
		return nil, err
	}
	dir := filepath.Join(l.path, name)
	if err := os.Mkdir(dir, 0750); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", common.ErrStoreExists, name)
		}
		return nil, err
	}
	l.logger.Info(ctx, "Created store",
		adapters.Field{Key: "store", Value: name},
		adapters.Field{Key: "path", Value: dir})
	return &common.StoreInfo{ID: dir, Name: name}, nil
}

// FetchAllStore lists the store subdirectories of the root.
func (l *Local) FetchAllStore(ctx context.Context) ([]string, error) {
	if l.path == "" {
		return nil, common.ErrNotConfigured
	}
	entries, err := os.ReadDir(l.path)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Account returns the configured owner.
func (l *Local) Account(ctx context.Context) (*common.Account, error) {
	return &common.Account{ID: l.owner, Name: l.owner}, nil
}

// Collaborators is not supported by the local backend.
func (l *Local) Collaborators(ctx context.Context, store string) ([]common.Collaborator, error) {
	return nil, common.ErrNotSupported
}
