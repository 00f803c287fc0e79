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

package staging

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jeremyhahn/go-objsync/pkg/common"
)

const (
	listExt      = ".jsonl"
	singletonExt = ".json"

	// compactSlack is the number of superseded lines tolerated before a
	// list file is rewritten.
	compactSlack = 64
)

// JSONL is a staging factory persisting each list as a JSON Lines file and
// each singleton as a JSON document under one directory.
// Each list is fully loaded on open. Writes and deletes append a line and
// sync; the file is compacted once superseded lines pile up.
type JSONL struct {
	dir        string
	mu         sync.Mutex
	lists      map[string]*jsonlList
	singletons map[string]*jsonlSingleton
}

// NewJSONL creates a JSONL staging factory rooted at dir.
func NewJSONL(dir string) (*JSONL, error) {
	if dir == "" {
		return nil, common.ErrPathNotSet
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &JSONL{
		dir:        dir,
		lists:      make(map[string]*jsonlList),
		singletons: make(map[string]*jsonlSingleton),
	}, nil
}

// List opens the named list, loading it from disk the first time.
func (j *JSONL) List(name string) (common.ListStore, error) {
	if err := common.ValidateStoreName(name); err != nil {
		return nil, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if l, ok := j.lists[name]; ok {
		return l, nil
	}
	l, err := openJSONLList(filepath.Join(j.dir, name+listExt))
	if err != nil {
		return nil, err
	}
	j.lists[name] = l
	return l, nil
}

// Singleton opens the named singleton document.
func (j *JSONL) Singleton(name string) (common.SingletonStore, error) {
	if err := common.ValidateStoreName(name); err != nil {
		return nil, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if s, ok := j.singletons[name]; ok {
		return s, nil
	}
	s := &jsonlSingleton{path: filepath.Join(j.dir, name+singletonExt)}
	j.singletons[name] = s
	return s, nil
}

// DangerousClearAll removes every staged collection from disk.
func (j *JSONL) DangerousClearAll(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	open := make(map[string]struct{}, len(j.lists))
	for name, l := range j.lists {
		if err := l.Clear(ctx); err != nil {
			return err
		}
		open[name+listExt] = struct{}{}
	}
	for _, s := range j.singletons {
		if err := s.remove(); err != nil {
			return err
		}
	}
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return fmt.Errorf("failed to read staging directory: %w", err)
	}
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != listExt && ext != singletonExt) {
			continue
		}
		if _, isOpen := open[e.Name()]; isOpen {
			continue
		}
		if err := os.Remove(filepath.Join(j.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

// Close closes every open list file.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	var errs []error
	for _, l := range j.lists {
		errs = append(errs, l.close())
	}
	return errors.Join(errs...)
}

type jsonlList struct {
	*memoryList
	mutex    sync.Mutex
	file     *os.File
	filePath string
	lines    int
}

func openJSONLList(filePath string) (*jsonlList, error) {
	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0600) // #nosec G304 -- path built from validated collection name
	if err != nil {
		return nil, fmt.Errorf("failed to open staging file: %w", err)
	}
	l := &jsonlList{
		memoryList: newMemoryList(),
		file:       file,
		filePath:   filePath,
	}

	scanner := bufio.NewScanner(file)
	// Increase buffer size for large lines
	const maxCapacity = 16 * 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxCapacity)
	for scanner.Scan() {
		var rec jsonlLine
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("corrupt staging file %s line %d: %w", filePath, l.lines+1, err)
		}
		l.lines++
		if rec.Deleted {
			_ = l.memoryList.Delete(context.Background(), rec.Key)
			continue
		}
		_ = l.memoryList.Put(context.Background(), common.StagingRecord{Key: rec.Key, Value: rec.Value})
	}
	if err := scanner.Err(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("error scanning staging file: %w", err)
	}
	return l, nil
}

type jsonlLine struct {
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
}

func (l *jsonlList) Put(ctx context.Context, records ...common.StagingRecord) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if err := l.memoryList.Put(ctx, records...); err != nil {
		return err
	}
	lines := make([]jsonlLine, len(records))
	for i, r := range records {
		lines[i] = jsonlLine{Key: r.Key, Value: r.Value}
	}
	return l.appendLines(lines)
}

func (l *jsonlList) Delete(ctx context.Context, keys ...string) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if err := l.memoryList.Delete(ctx, keys...); err != nil {
		return err
	}
	lines := make([]jsonlLine, len(keys))
	for i, k := range keys {
		lines[i] = jsonlLine{Key: k, Deleted: true}
	}
	return l.appendLines(lines)
}

func (l *jsonlList) Clear(ctx context.Context) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if err := l.memoryList.Clear(ctx); err != nil {
		return err
	}
	return l.rewriteFile()
}

// appendLines writes lines and syncs (must be called with mutex held).
func (l *jsonlList) appendLines(lines []jsonlLine) error {
	for _, line := range lines {
		data, err := json.Marshal(line)
		if err != nil {
			return fmt.Errorf("failed to marshal staging record: %w", err)
		}
		if _, err := l.file.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write staging record: %w", err)
		}
		l.lines++
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	l.memoryList.mu.RLock()
	live := len(l.memoryList.keys)
	l.memoryList.mu.RUnlock()
	if l.lines > 2*live+compactSlack {
		return l.rewriteFile()
	}
	return nil
}

// rewriteFile rewrites the file with only live records (must be called with mutex held).
func (l *jsonlList) rewriteFile() error {
	records, err := l.memoryList.ToArray(context.Background(), 0)
	if err != nil {
		return err
	}
	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate file: %w", err)
	}
	if _, err := l.file.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to seek to start: %w", err)
	}
	for _, r := range records {
		data, err := json.Marshal(jsonlLine{Key: r.Key, Value: r.Value})
		if err != nil {
			return fmt.Errorf("failed to marshal staging record: %w", err)
		}
		if _, err := l.file.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write staging record: %w", err)
		}
	}
	l.lines = len(records)
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return nil
}

func (l *jsonlList) close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

type jsonlSingleton struct {
	mu   sync.Mutex
	path string
}

func (s *jsonlSingleton) SetValue(ctx context.Context, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, value, 0600); err != nil {
		return fmt.Errorf("failed to write staging document: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace staging document: %w", err)
	}
	return nil
}

func (s *jsonlSingleton) GetValue(ctx context.Context) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, common.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to read staging document: %w", err)
	}
	return data, nil
}

func (s *jsonlSingleton) remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
