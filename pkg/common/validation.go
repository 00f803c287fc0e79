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
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxPathLength is the maximum allowed length of a store-relative path.
	MaxPathLength = 1024

	// MaxStoreNameLength is the maximum allowed length of a store name.
	MaxStoreNameLength = 100
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidatePath validates a store-relative path before it reaches a backend.
// Returns error if the path:
// - Is empty or too long
// - Is absolute or uses backslashes
// - Contains path traversal segments, empty segments or control bytes
func ValidatePath(p string) error {
	if p == "" {
		return &ValidationError{Field: "path", Message: "path cannot be empty"}
	}
	if len(p) > MaxPathLength {
		return &ValidationError{
			Field:   "path",
			Message: fmt.Sprintf("path length exceeds maximum of %d bytes", MaxPathLength),
		}
	}
	if !utf8.ValidString(p) {
		return &ValidationError{Field: "path", Message: "path must be valid UTF-8"}
	}
	if p[0] == '/' || (len(p) >= 2 && p[1] == ':') {
		return &ValidationError{Field: "path", Message: "path cannot be absolute"}
	}
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c < 0x20 || c == 0x7f {
			return &ValidationError{Field: "path", Message: "path cannot contain control characters"}
		}
		if c == '\\' {
			return &ValidationError{Field: "path", Message: "path cannot contain backslashes"}
		}
	}
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "":
			return &ValidationError{Field: "path", Message: `path contains invalid character sequence: "//"`}
		case ".", "..":
			return &ValidationError{Field: "path", Message: "path cannot contain path traversal sequences"}
		}
	}
	return nil
}

// ValidateStoreName validates a store name. Store names become a single
// path segment, bucket prefix or repository name on every backend, so they
// are restricted to letters, digits, '-', '_' and '.'.
func ValidateStoreName(name string) error {
	if name == "" {
		return &ValidationError{Field: "store", Message: "store name cannot be empty"}
	}
	if len(name) > MaxStoreNameLength {
		return &ValidationError{
			Field:   "store",
			Message: fmt.Sprintf("store name exceeds maximum of %d bytes", MaxStoreNameLength),
		}
	}
	if name == "." || name == ".." {
		return &ValidationError{Field: "store", Message: "store name cannot be a relative path"}
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return &ValidationError{
				Field:   "store",
				Message: fmt.Sprintf("store name contains invalid character %q", r),
			}
		}
	}
	return nil
}
