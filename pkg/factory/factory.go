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
	"sort"
	"sync"

	"github.com/jeremyhahn/go-objsync/pkg/adapters"
	"github.com/jeremyhahn/go-objsync/pkg/common"
)

// SyncerCreator is a function that creates a syncer backend.
type SyncerCreator func(settings map[string]string) (common.Syncer, error)

// StagingCreator is a function that creates a staging store. The location
// is a directory or file path; backends that keep nothing on disk ignore it.
type StagingCreator func(location string) (common.StagingFactory, error)

var (
	mu              sync.RWMutex
	syncerRegistry  = make(map[string]SyncerCreator)
	stagingRegistry = make(map[string]StagingCreator)
)

// RegisterSyncer registers a syncer backend creator.
func RegisterSyncer(backendType string, creator SyncerCreator) {
	mu.Lock()
	defer mu.Unlock()
	syncerRegistry[backendType] = creator
}

// RegisterStaging registers a staging store creator.
func RegisterStaging(stagingType string, creator StagingCreator) {
	mu.Lock()
	defer mu.Unlock()
	stagingRegistry[stagingType] = creator
}

// NewSyncer creates a new syncer backend based on the given type.
func NewSyncer(backendType string, settings map[string]string) (common.Syncer, error) {
	mu.RLock()
	creator, exists := syncerRegistry[backendType]
	mu.RUnlock()
	if !exists {
		return nil, ErrUnknownBackend
	}
	return creator(settings)
}

// NewStaging creates a new staging store based on the given type.
func NewStaging(stagingType, location string) (common.StagingFactory, error) {
	mu.RLock()
	creator, exists := stagingRegistry[stagingType]
	mu.RUnlock()
	if !exists {
		return nil, ErrUnknownStaging
	}
	return creator(location)
}

// SyncerTypes returns the registered backend types in name order.
func SyncerTypes() []string {
	mu.RLock()
	defer mu.RUnlock()
	return sortedKeys(syncerRegistry)
}

// StagingTypes returns the registered staging types in name order.
func StagingTypes() []string {
	mu.RLock()
	defer mu.RUnlock()
	return sortedKeys(stagingRegistry)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// loggerSetter is implemented by backends that accept a logger.
type loggerSetter interface {
	SetLogger(logger adapters.Logger)
}

// SetLogger hands logger to syncer when the backend supports logging.
func SetLogger(syncer common.Syncer, logger adapters.Logger) {
	if ls, ok := syncer.(loggerSetter); ok && logger != nil {
		ls.SetLogger(logger)
	}
}
