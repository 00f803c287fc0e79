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

import "context"

// Syncer is the contract every remote backend implements. Content hashes
// are opaque and only ever compared for equality.
type Syncer interface {
	// Configure sets up the backend with the necessary credentials and settings.
	Configure(settings map[string]string) error

	// FetchStructure lists the store and returns its manifest.
	FetchStructure(ctx context.Context, store string) (*StoreStructure, error)

	// FetchContent downloads the referenced files in the given order.
	FetchContent(ctx context.Context, store string, refs []FileRef) ([]RemoteFile, error)

	// UploadContent writes files (nil content deletes) and returns the
	// resulting structure.
	UploadContent(ctx context.Context, store string, files []Upload) (*StoreStructure, error)

	// TransformAsset assigns a remote path and reference string to a binary leaf.
	TransformAsset(ctx context.Context, store string, file *File) (AssetRef, error)

	// GetAsset resolves a reference produced by TransformAsset.
	GetAsset(ctx context.Context, store string, reference string) ([]byte, error)

	// CreateStore creates a new empty store.
	CreateStore(ctx context.Context, name string) (*StoreInfo, error)

	// FetchAllStore lists every store visible to the account.
	FetchAllStore(ctx context.Context) ([]string, error)

	// Account returns the authenticated identity.
	Account(ctx context.Context) (*Account, error)

	// Collaborators lists users with access to the store.
	Collaborators(ctx context.Context, store string) ([]Collaborator, error)
}

// Watcher is implemented by backends that can report remote changes.
type Watcher interface {
	// Watch calls onChange whenever the store changes until ctx is done.
	Watch(ctx context.Context, store string, onChange func()) error
}
