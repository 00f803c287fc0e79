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
	"testing"
)

func BenchmarkValidatePath(b *testing.B) {
	paths := []string{
		"meta.json",
		"data-0.json",
		"data-120000.json",
		"assets/1a2b3c4d-cover.png",
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := ValidatePath(paths[i%len(paths)]); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkValidatePath_Invalid(b *testing.B) {
	invalid := []string{
		"../../../etc/passwd",
		"assets/../../secret",
		"\\..\\..\\windows\\system32",
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = ValidatePath(invalid[i%len(invalid)])
	}
}

func BenchmarkBuildStructure(b *testing.B) {
	files := make([]FileRef, 0, 202)
	files = append(files, FileRef{Path: MetaPath})
	for i := 100; i > 0; i-- {
		files = append(files, FileRef{Path: ChunkPath("data", i*1000)})
		files = append(files, FileRef{Path: NewAssetPath("a.bin")})
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = BuildStructure("data", files)
	}
}
