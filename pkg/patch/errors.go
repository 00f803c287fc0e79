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

import "errors"

var (
	// ErrArrayRootPatch is returned when a delta's root is array-shaped and
	// applying it would silently replace the whole base value.
	ErrArrayRootPatch = errors.New("patch root must be an object delta")

	// ErrPatchConflict is returned when a delta cannot be structurally
	// applied to its base. It indicates corruption, not a transient failure.
	ErrPatchConflict = errors.New("patch cannot be applied")
)
