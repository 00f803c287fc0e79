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

package stash

import "errors"

var (
	// ErrStoreMismatch is returned when a log entry of another store is
	// replayed. It indicates a programming error.
	ErrStoreMismatch = errors.New("action log entry belongs to another store")

	// ErrCorruptRecord is returned when staged or remote data cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt record")
)
