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
	"github.com/jeremyhahn/go-objsync/pkg/common"
	"github.com/jeremyhahn/go-objsync/pkg/staging"
)

func init() {
	RegisterStaging("memory", func(string) (common.StagingFactory, error) {
		return staging.NewMemory(), nil
	})
	RegisterStaging("jsonl", func(location string) (common.StagingFactory, error) {
		store, err := staging.NewJSONL(location)
		if err != nil {
			return nil, err
		}
		return store, nil
	})
	RegisterStaging("sqlite", func(location string) (common.StagingFactory, error) {
		store, err := staging.NewSQLite(location)
		if err != nil {
			return nil, err
		}
		return store, nil
	})
}
