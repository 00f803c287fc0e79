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

// Package webdav implements the syncer interface over a WebDAV server. Each
// store is a collection "<root>/<store>/" on the server.
package webdav

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/studio-b12/gowebdav"

	"github.com/jeremyhahn/go-objsync/pkg/adapters"
	"github.com/jeremyhahn/go-objsync/pkg/common"
)

// davClient is the subset of the gowebdav client used by the backend.
type davClient interface {
	ReadDir(path string) ([]os.FileInfo, error)
	Read(path string) ([]byte, error)
	Write(path string, data []byte, perm os.FileMode) error
	Remove(path string) error
	MkdirAll(path string, perm os.FileMode) error
	Stat(path string) (os.FileInfo, error)
}

// WebDAV is a syncer backend for WebDAV servers.
type WebDAV struct {
	client davClient
	root   string
	entry  string
	user   string
	logger adapters.Logger
}

// New creates a new WebDAV syncer backend.
func New() *WebDAV {
	return &WebDAV{
		root:   "/",
		entry:  common.DefaultEntryName,
		logger: adapters.NewNoOpLogger(),
	}
}

// Configure sets up the backend with the necessary credentials and settings.
// Settings:
//   - endpoint: server URL (required)
//   - user, password: basic or digest credentials (optional)
//   - root: collection holding the stores (optional, default "/")
//   - entry: chunk file prefix (optional, default "data")
//   - rateLimit, rateBurst: outbound request throttling (optional)
func (w *WebDAV) Configure(settings map[string]string) error {
	endpoint := settings["endpoint"]
	if endpoint == "" {
		return common.ErrEndpointNotSet
	}
	if v := settings["root"]; v != "" {
		w.root = path.Clean("/" + v)
	}
	if v := settings["entry"]; v != "" {
		w.entry = v
	}
	w.user = settings["user"]

	rl, err := adapters.RateLimitFromSettings(settings)
	if err != nil {
		return err
	}
	client := gowebdav.NewClient(endpoint, w.user, settings["password"])
	client.SetTransport(adapters.NewRateLimitedTransport(nil, rl))
	w.client = client
	return nil
}

// SetLogger sets the logger for this backend.
func (w *WebDAV) SetLogger(logger adapters.Logger) {
	if logger != nil {
		w.logger = logger
	}
}

func (w *WebDAV) storeDir(store string) (string, error) {
	if w.client == nil {
		return "", common.ErrNotConfigured
	}
	if err := common.ValidateStoreName(store); err != nil {
		return "", err
	}
	return path.Join(w.root, store), nil
}

func contentHash(info os.FileInfo) string {
	if tagged, ok := info.(interface{ ETag() string }); ok {
		if tag := strings.Trim(tagged.ETag(), `"`); tag != "" {
			return tag
		}
	}
	return fmt.Sprintf("%d-%d", info.ModTime().UnixNano(), info.Size())
}

func notFound(err error) bool {
	return gowebdav.IsErrNotFound(err) || os.IsNotExist(err)
}

// FetchStructure walks the store collection and returns its manifest.
func (w *WebDAV) FetchStructure(ctx context.Context, store string) (*common.StoreStructure, error) {
	dir, err := w.storeDir(store)
	if err != nil {
		return nil, err
	}
	var refs []common.FileRef
	if err := w.walk(ctx, dir, "", &refs); err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("%w: %s", common.ErrStoreNotFound, store)
		}
		return nil, fmt.Errorf("failed to list store %s: %w", store, err)
	}
	return common.BuildStructure(w.entry, refs), nil
}

func (w *WebDAV) walk(ctx context.Context, base, rel string, refs *[]common.FileRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	infos, err := w.client.ReadDir(path.Join(base, rel))
	if err != nil {
		return err
	}
	for _, info := range infos {
		child := path.Join(rel, info.Name())
		if info.IsDir() {
			if err := w.walk(ctx, base, child, refs); err != nil {
				return err
			}
			continue
		}
		*refs = append(*refs, common.FileRef{Path: child, ContentHash: contentHash(info)})
	}
	return nil
}

// FetchContent downloads each referenced file in order.
func (w *WebDAV) FetchContent(ctx context.Context, store string, refs []common.FileRef) ([]common.RemoteFile, error) {
	dir, err := w.storeDir(store)
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
		full := path.Join(dir, ref.Path)
		data, err := w.client.Read(full)
		if err != nil {
			if notFound(err) {
				return nil, fmt.Errorf("%w: %s", common.ErrKeyNotFound, ref.Path)
			}
			return nil, fmt.Errorf("failed to read %s: %w", ref.Path, err)
		}
		hash := ref.ContentHash
		if info, err := w.client.Stat(full); err == nil {
			hash = contentHash(info)
		}
		out = append(out, common.RemoteFile{
			FileRef: common.FileRef{Path: ref.Path, ContentHash: hash},
			Content: data,
		})
	}
	return out, nil
}

// UploadContent writes and removes files, then returns the refreshed
// structure.
func (w *WebDAV) UploadContent(ctx context.Context, store string, uploads []common.Upload) (*common.StoreStructure, error) {
	dir, err := w.storeDir(store)
	if err != nil {
		return nil, err
	}
	for _, u := range uploads {
		if err := common.ValidatePath(u.Path); err != nil {
			return nil, err
		}
	}
	made := map[string]bool{}
	for _, u := range uploads {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		full := path.Join(dir, u.Path)
		if u.IsDelete() {
			if err := w.client.Remove(full); err != nil && !notFound(err) {
				return nil, fmt.Errorf("failed to delete %s: %w", u.Path, err)
			}
			continue
		}
		if parent := path.Dir(full); parent != dir && !made[parent] {
			if err := w.client.MkdirAll(parent, 0750); err != nil {
				return nil, fmt.Errorf("failed to create %s: %w", parent, err)
			}
			made[parent] = true
		}
		if err := w.client.Write(full, u.Content, 0600); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", u.Path, err)
		}
		w.logger.Debug(ctx, "Uploaded file",
			adapters.Field{Key: "store", Value: store},
			adapters.Field{Key: "path", Value: u.Path},
			adapters.Field{Key: "size", Value: len(u.Content)})
	}
	return w.FetchStructure(ctx, store)
}

// TransformAsset assigns an asset path; the reference is the path itself.
func (w *WebDAV) TransformAsset(ctx context.Context, store string, file *common.File) (common.AssetRef, error) {
	if file == nil {
		return common.AssetRef{}, common.ErrNotAFile
	}
	p := common.NewAssetPath(file.Name)
	return common.AssetRef{Path: p, Reference: p}, nil
}

// GetAsset downloads a previously uploaded asset.
func (w *WebDAV) GetAsset(ctx context.Context, store string, reference string) ([]byte, error) {
	p, err := common.AssetPathFromReference(reference)
	if err != nil {
		return nil, err
	}
	files, err := w.FetchContent(ctx, store, []common.FileRef{{Path: p}})
	if err != nil {
		return nil, err
	}
	return files[0].Content, nil
}

// CreateStore creates the store collection.
func (w *WebDAV) CreateStore(ctx context.Context, name string) (*common.StoreInfo, error) {
	dir, err := w.storeDir(name)
	if err != nil {
		return nil, err
	}
	if _, err := w.client.Stat(dir); err == nil {
		return nil, fmt.Errorf("%w: %s", common.ErrStoreExists, name)
	} else if !notFound(err) {
		return nil, fmt.Errorf("failed to check store %s: %w", name, err)
	}
	if err := w.client.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create store %s: %w", name, err)
	}
	return &common.StoreInfo{ID: dir, Name: name}, nil
}

// FetchAllStore lists the collections under the root.
func (w *WebDAV) FetchAllStore(ctx context.Context) ([]string, error) {
	if w.client == nil {
		return nil, common.ErrNotConfigured
	}
	infos, err := w.client.ReadDir(w.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	var names []string
	for _, info := range infos {
		if info.IsDir() && !strings.HasPrefix(info.Name(), ".") {
			names = append(names, info.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Account reports the configured user.
func (w *WebDAV) Account(ctx context.Context) (*common.Account, error) {
	if w.client == nil {
		return nil, common.ErrNotConfigured
	}
	if _, err := w.client.Stat(w.root); err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	return &common.Account{ID: w.user, Name: w.user}, nil
}

// Collaborators is not supported by the WebDAV backend.
func (w *WebDAV) Collaborators(ctx context.Context, store string) ([]common.Collaborator, error) {
	return nil, common.ErrNotSupported
}
