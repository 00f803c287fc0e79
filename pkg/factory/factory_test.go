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

package factory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jeremyhahn/go-objsync/pkg/adapters"
	"github.com/jeremyhahn/go-objsync/pkg/common"
	"github.com/jeremyhahn/go-objsync/pkg/local"
)

func TestSyncerTypes(t *testing.T) {
	want := []string{"githost", "local", "memory", "s3", "webdav"}
	got := SyncerTypes()
	if len(got) != len(want) {
		t.Fatalf("SyncerTypes() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SyncerTypes() = %v, want %v", got, want)
		}
	}
}

func TestStagingTypes(t *testing.T) {
	got := StagingTypes()
	if len(got) != 3 || got[0] != "jsonl" || got[1] != "memory" || got[2] != "sqlite" {
		t.Fatalf("StagingTypes() = %v", got)
	}
}

func TestUnknownTypes(t *testing.T) {
	if _, err := NewSyncer("ftp", nil); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("NewSyncer() error = %v, want ErrUnknownBackend", err)
	}
	if _, err := NewStaging("redis", ""); !errors.Is(err, ErrUnknownStaging) {
		t.Fatalf("NewStaging() error = %v, want ErrUnknownStaging", err)
	}
}

func TestMemory(t *testing.T) {
	syncer, err := NewSyncer("memory", map[string]string{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := syncer.CreateStore(ctx, "bills"); err != nil {
		t.Fatal(err)
	}
	st, err := syncer.UploadContent(ctx, "bills", []common.Upload{{Path: "data-0.json", Content: []byte(`[]`)}})
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(st.Chunks))
	}
}

func TestLocal(t *testing.T) {
	tmpdir := t.TempDir()
	syncer, err := NewSyncer("local", map[string]string{"path": tmpdir})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := syncer.(*local.Local); !ok {
		t.Fatalf("expected *local.Local, got %T", syncer)
	}
	SetLogger(syncer, adapters.NewNoOpLogger())
}

func TestConfigurationErrors(t *testing.T) {
	tests := []struct {
		backend string
		want    error
	}{
		{"local", common.ErrPathNotSet},
		{"s3", common.ErrBucketNotSet},
		{"webdav", common.ErrEndpointNotSet},
		{"githost", common.ErrTokenNotSet},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			if _, err := NewSyncer(tt.backend, map[string]string{}); !errors.Is(err, tt.want) {
				t.Fatalf("NewSyncer(%q) error = %v, want %v", tt.backend, err, tt.want)
			}
		})
	}
}

func TestNewStaging(t *testing.T) {
	dir := t.TempDir()
	for _, tt := range []struct {
		kind     string
		location string
	}{
		{"memory", ""},
		{"jsonl", filepath.Join(dir, "jsonl")},
		{"sqlite", filepath.Join(dir, "staging.db")},
	} {
		t.Run(tt.kind, func(t *testing.T) {
			f, err := NewStaging(tt.kind, tt.location)
			if err != nil {
				t.Fatal(err)
			}
			defer func() { _ = f.Close() }()
			if _, err := f.List("bills.stash"); err != nil {
				t.Fatal(err)
			}
		})
	}
	if _, err := NewStaging("jsonl", ""); !errors.Is(err, common.ErrPathNotSet) {
		t.Fatalf("NewStaging(jsonl) error = %v, want ErrPathNotSet", err)
	}
}
