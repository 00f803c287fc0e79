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

import "errors"

var (
	// ErrSyncerRequired is returned when a replicator is built without a backend.
	ErrSyncerRequired = errors.New("syncer is required")

	// ErrStagingRequired is returned when a replicator is built without a
	// staging factory.
	ErrStagingRequired = errors.New("staging factory is required")

	// ErrClosed is returned by operations on a closed replicator.
	ErrClosed = errors.New("replicator is closed")

	// ErrCorruptChunk is returned when a remote chunk or meta.json cannot be
	// decoded.
	ErrCorruptChunk = errors.New("corrupt remote content")
)
