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

package version

import "runtime/debug"

// Version and Commit are set at build time using:
//
//	go build -ldflags "-X github.com/jeremyhahn/go-objsync/pkg/version.Version=1.0.0 \
//	  -X github.com/jeremyhahn/go-objsync/pkg/version.Commit=$(git rev-parse --short HEAD)"
var (
	Version = "0.1.0-alpha" // default version if not set at build time
	Commit  = ""
)

// Get returns the application version string, with the commit appended
// when known.
func Get() string {
	commit := Commit
	if commit == "" {
		commit = vcsRevision()
	}
	if commit == "" {
		return Version
	}
	return Version + " (" + commit + ")"
}

// vcsRevision reads the short revision stamped by the go toolchain.
func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return s.Value[:7]
		}
	}
	return ""
}
