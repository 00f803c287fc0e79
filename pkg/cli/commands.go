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

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeremyhahn/go-objsync/pkg/adapters"
	"github.com/jeremyhahn/go-objsync/pkg/audit"
	"github.com/jeremyhahn/go-objsync/pkg/common"
	"github.com/jeremyhahn/go-objsync/pkg/factory"
	"github.com/jeremyhahn/go-objsync/pkg/replication"
	"github.com/jeremyhahn/go-objsync/pkg/version"
)

// CommandContext holds the context for executing commands.
type CommandContext struct {
	Config     *Config
	Logger     adapters.Logger
	Syncer     common.Syncer
	Staging    common.StagingFactory
	Replicator *replication.Replicator

	closers []io.Closer
}

// PullStatus is the per-store outcome of pulling every store.
type PullStatus struct {
	Store   string `json:"store" yaml:"store"`
	Records int    `json:"records" yaml:"records"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// StageResult reports staged actions and, unless the push was skipped,
// the push that followed.
type StageResult struct {
	Store  string                  `json:"store" yaml:"store"`
	Staged []common.FullAction     `json:"staged" yaml:"staged"`
	Push   *replication.PushResult `json:"push,omitempty" yaml:"push,omitempty"`
}

// PutOptions controls how put and delete stage their actions.
type PutOptions struct {
	// Attachments maps item fields to files embedded as binary leaves.
	Attachments map[string]string

	// Overlap rebuilds the remote item set from the staged items.
	Overlap bool

	// NoPush leaves the actions staged for a later push.
	NoPush bool
}

// NewCommandContext creates a new command context from the configuration.
func NewCommandContext(cfg *Config) (*CommandContext, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	cc := &CommandContext{Config: cfg}

	if cfg.LogFile != "" {
		logger, closer := adapters.NewFileLogger(adapters.FileLoggerConfig{Path: cfg.LogFile})
		cc.Logger = logger
		cc.closers = append(cc.closers, closer)
	} else {
		cc.Logger = adapters.NewWriterLogger(os.Stderr)
	}
	cc.Logger.SetLevel(adapters.ParseLogLevel(cfg.LogLevel))

	syncer, err := factory.NewSyncer(cfg.Backend, cfg.GetSyncerSettings())
	if err != nil {
		_ = cc.closeAll()
		return nil, err
	}
	factory.SetLogger(syncer, cc.Logger)
	cc.Syncer = syncer

	if cfg.Staging == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.StagingPath), 0700); err != nil {
			_ = cc.closeAll()
			return nil, fmt.Errorf("failed to create staging directory: %w", err)
		}
	}
	staging, err := factory.NewStaging(cfg.Staging, cfg.StagingPath)
	if err != nil {
		_ = cc.closeAll()
		return nil, err
	}
	cc.Staging = staging
	cc.closers = append(cc.closers, staging)

	rc := cfg.ReplicationConfig()
	rc.Syncer = syncer
	rc.Staging = staging
	rc.Logger = cc.Logger
	if cfg.AuditFile != "" {
		w := adapters.NewRotatingWriter(adapters.FileLoggerConfig{Path: cfg.AuditFile})
		cc.closers = append(cc.closers, w)
		rc.Audit = audit.NewAuditLogger(&audit.Config{
			Enabled:         true,
			Format:          audit.FormatJSON,
			Output:          w,
			IncludeMetadata: true,
		})
	}
	r, err := replication.New(rc)
	if err != nil {
		_ = cc.closeAll()
		return nil, err
	}
	cc.Replicator = r
	return cc, nil
}

func (cc *CommandContext) closeAll() error {
	var errs []error
	for i := len(cc.closers) - 1; i >= 0; i-- {
		if err := cc.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	cc.closers = nil
	return errors.Join(errs...)
}

// Close stops the replicator and releases the staging store and log file.
func (cc *CommandContext) Close() error {
	if cc.Replicator != nil {
		_ = cc.Replicator.Close()
	}
	return cc.closeAll()
}

// StoresCommand lists the remote stores matching the configured prefix.
func (cc *CommandContext) StoresCommand(ctx context.Context) ([]string, error) {
	return cc.Replicator.Stores(ctx)
}

// CreateStoreCommand creates a new remote store.
func (cc *CommandContext) CreateStoreCommand(ctx context.Context, name string) (*common.StoreInfo, error) {
	return cc.Replicator.CreateStore(ctx, name)
}

// PullCommand pulls one store.
func (cc *CommandContext) PullCommand(ctx context.Context, store string) (*replication.PullResult, error) {
	return cc.Replicator.Pull(ctx, store)
}

// PullAllCommand pulls every store. Per-store failures are reported in the
// result; the error is set when any store failed.
func (cc *CommandContext) PullAllCommand(ctx context.Context) ([]PullStatus, error) {
	results, err := cc.Replicator.PullAll(ctx)
	if results == nil && err != nil {
		return nil, err
	}
	out := make([]PullStatus, len(results))
	for i, r := range results {
		out[i] = PullStatus{Store: r.Store, Records: r.Records}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
		}
	}
	return out, err
}

// PushCommand pushes the staged actions of one store.
func (cc *CommandContext) PushCommand(ctx context.Context, store string) (*replication.PushResult, error) {
	return cc.Replicator.Push(ctx, store)
}

// PendingCommand lists the staged actions of one store.
func (cc *CommandContext) PendingCommand(ctx context.Context, store string) ([]common.FullAction, error) {
	return cc.Replicator.Pending(ctx, store)
}

// ItemsCommand lists the items of a store, pulling first unless offline.
func (cc *CommandContext) ItemsCommand(ctx context.Context, store string, offline bool) ([]common.Item, error) {
	if !offline {
		if _, err := cc.Replicator.Pull(ctx, store); err != nil {
			return nil, err
		}
	}
	return cc.Replicator.Items(ctx, store)
}

// GetCommand returns one item, pulling first unless offline.
func (cc *CommandContext) GetCommand(ctx context.Context, store, id string, offline bool) (common.Item, error) {
	if !offline {
		if _, err := cc.Replicator.Pull(ctx, store); err != nil {
			return nil, err
		}
	}
	item, ok, err := cc.Replicator.Get(ctx, store, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return item, nil
}

// PutCommand stages an update read as a JSON object from r and pushes it
// unless opts.NoPush is set.
func (cc *CommandContext) PutCommand(ctx context.Context, store string, r io.Reader, opts PutOptions) (*StageResult, error) {
	var item common.Item
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&item); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	item = normalizeNumbers(item).(common.Item)
	if item.ID() == "" {
		return nil, ErrInvalidItem
	}
	for field, p := range opts.Attachments {
		file, err := readAttachment(p)
		if err != nil {
			return nil, err
		}
		item[field] = file
	}
	return cc.stage(ctx, store, []common.Action{{Type: common.ActionUpdate, Value: item}}, opts)
}

// DeleteCommand stages deletion of an item.
func (cc *CommandContext) DeleteCommand(ctx context.Context, store, id string, opts PutOptions) (*StageResult, error) {
	return cc.stage(ctx, store, []common.Action{{Type: common.ActionDelete, Key: id}}, opts)
}

// MetaCommand returns the metadata document, pulling first unless offline.
func (cc *CommandContext) MetaCommand(ctx context.Context, store string, offline bool) (map[string]any, error) {
	if !offline {
		if _, err := cc.Replicator.Pull(ctx, store); err != nil {
			return nil, err
		}
	}
	return cc.Replicator.Meta(ctx, store)
}

// SetMetaCommand stages a new metadata document read from r.
func (cc *CommandContext) SetMetaCommand(ctx context.Context, store string, r io.Reader, opts PutOptions) (*StageResult, error) {
	var doc map[string]any
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid metadata document: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return cc.stage(ctx, store, []common.Action{{Type: common.ActionMeta, Meta: doc}}, opts)
}

func (cc *CommandContext) stage(ctx context.Context, store string, actions []common.Action, opts PutOptions) (*StageResult, error) {
	staged, err := cc.Replicator.Batch(ctx, store, actions, opts.Overlap)
	if err != nil {
		return nil, err
	}
	res := &StageResult{Store: store, Staged: staged}
	if opts.NoPush {
		return res, nil
	}
	res.Push, err = cc.Replicator.Push(ctx, store)
	if err != nil {
		return res, err
	}
	return res, nil
}

// StructureCommand returns the remote structure, or the cached one when
// offline.
func (cc *CommandContext) StructureCommand(ctx context.Context, store string, offline bool) (*common.StoreStructure, error) {
	if offline {
		return cc.Replicator.Structure(ctx, store)
	}
	return cc.Syncer.FetchStructure(ctx, store)
}

// AssetCommand downloads an asset to outputPath, or stdout when empty or "-".
func (cc *CommandContext) AssetCommand(ctx context.Context, store, reference, outputPath string) error {
	data, err := cc.Replicator.GetAsset(ctx, store, reference)
	if err != nil {
		return err
	}
	if outputPath == "" || outputPath == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(outputPath, data, 0600) // #nosec G306 -- User-provided path for CLI file operations, intended behavior
}

// WhoamiCommand returns the authenticated account.
func (cc *CommandContext) WhoamiCommand(ctx context.Context) (*common.Account, error) {
	return cc.Syncer.Account(ctx)
}

// CollaboratorsCommand lists users with access to a store.
func (cc *CommandContext) CollaboratorsCommand(ctx context.Context, store string) ([]common.Collaborator, error) {
	return cc.Syncer.Collaborators(ctx, store)
}

// WatchCommand pulls store, then pulls again on every backend change and
// writes each result to w until ctx is done.
func (cc *CommandContext) WatchCommand(ctx context.Context, store string, w io.Writer) error {
	format := OutputFormat(cc.Config.OutputFormat)
	res, err := cc.Replicator.Pull(ctx, store)
	if err != nil {
		return err
	}
	fmt.Fprint(w, Format(res, format))
	return cc.Replicator.Watch(ctx, store, func(res *replication.PullResult, err error) {
		if err != nil {
			fmt.Fprint(w, FormatError(err, format))
			return
		}
		fmt.Fprint(w, Format(res, format))
	})
}

// VersionCommand returns the version information.
func VersionCommand() string {
	return version.Get()
}

func readAttachment(p string) (*common.File, error) {
	data, err := os.ReadFile(p) // #nosec G304 -- User-provided path for CLI file operations, intended behavior
	if err != nil {
		return nil, err
	}
	name := filepath.Base(p)
	return &common.File{
		Name:        name,
		ContentType: mime.TypeByExtension(filepath.Ext(name)),
		Data:        data,
	}, nil
}

// ParseAttachments parses field=path pairs.
func ParseAttachments(values []string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for _, v := range values {
		field, p, ok := strings.Cut(v, "=")
		if !ok || field == "" || p == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAttachment, v)
		}
		out[field] = p
	}
	return out, nil
}

// normalizeNumbers turns json.Number values into float64 so items read
// from the command line match items decoded from the staging store.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case common.Item:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	default:
		return v
	}
}
