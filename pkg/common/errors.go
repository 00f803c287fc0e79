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

import "errors"

var (
	// Configuration errors

	// ErrNotConfigured is returned when a backend is used before Configure.
	ErrNotConfigured = errors.New("not configured")

	// ErrPathNotSet is returned when the required path is not set.
	ErrPathNotSet = errors.New("path not set")

	// ErrBucketNotSet is returned when the required bucket is not set.
	ErrBucketNotSet = errors.New("bucket not set")

	// ErrEndpointNotSet is returned when the required endpoint is not set.
	ErrEndpointNotSet = errors.New("endpoint not set")

	// ErrTokenNotSet is returned when the required access token is not set.
	ErrTokenNotSet = errors.New("token not set")

	// ErrOwnerNotSet is returned when the required repository owner is not set.
	ErrOwnerNotSet = errors.New("owner not set")

	// Store errors

	// ErrStoreRequired is returned when an operation needs a store name.
	ErrStoreRequired = errors.New("store name is required")

	// ErrStoreNotFound is returned when a remote store does not exist.
	ErrStoreNotFound = errors.New("store not found")

	// ErrStoreExists is returned when creating a store that already exists.
	ErrStoreExists = errors.New("store already exists")

	// ErrKeyNotFound is returned when a key is not found in storage.
	ErrKeyNotFound = errors.New("key not found")

	// ErrInvalidReference is returned when an asset reference belongs to
	// another backend or store.
	ErrInvalidReference = errors.New("invalid asset reference")

	// ErrUnauthorized is returned when the backend rejects the credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotSupported is returned for operations a backend cannot provide.
	ErrNotSupported = errors.New("operation not supported by backend")

	// ErrNotAFile is returned when decoding a value that is not an encoded File.
	ErrNotAFile = errors.New("value is not an encoded file")

	// ErrInvalidAction is returned for an action without a usable identity.
	ErrInvalidAction = errors.New("invalid action")
)
