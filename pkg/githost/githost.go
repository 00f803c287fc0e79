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

// Package githost implements the syncer interface over a git-hosting API.
// Each store is a repository "<owner>/<store>"; every upload becomes one
// commit on the configured branch, built from blobs and a tree through the
// low-level git data API.
package githost

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/go-github/v66/github"

	"github.com/jeremyhahn/go-objsync/pkg/adapters"
	"github.com/jeremyhahn/go-objsync/pkg/common"
)

const (
	defaultBranch = "main"
	fileMode      = "100644"
	blobType      = "blob"
	pageSize      = 100
)

// GitHost is a syncer backend for git-hosting services.
type GitHost struct {
	client  *github.Client
	owner   string
	org     string
	branch  string
	entry   string
	private bool
	logger  adapters.Logger

	ownerMu sync.Mutex
}

// New creates a new GitHost syncer backend.
func New() *GitHost {
	return &GitHost{
		branch:  defaultBranch,
		entry:   common.DefaultEntryName,
		private: true,
		logger:  adapters.NewNoOpLogger(),
	}
}

// Configure sets up the backend with the necessary credentials and settings.
// Settings:
//   - token: access token (required)
//   - owner: repository owner (optional, default the authenticated user)
//   - org: organization that owns new stores (optional)
//   - branch: branch holding store content (optional, default "main")
//   - endpoint: API base URL for self-hosted or compatible servers (optional)
//   - public: "true" to create public repositories (optional)
//   - entry: chunk file prefix (optional, default "data")
//   - rateLimit, rateBurst: outbound request throttling (optional)
func (g *GitHost) Configure(settings map[string]string) error {
	token := settings["token"]
	if token == "" {
		return common.ErrTokenNotSet
	}
	g.org = settings["org"]
	g.owner = settings["owner"]
	if g.owner == "" {
		g.owner = g.org
	}
	if v := settings["branch"]; v != "" {
		g.branch = v
	}
	if v := settings["entry"]; v != "" {
		g.entry = v
	}
	g.private = settings["public"] != "true"

	rl, err := adapters.RateLimitFromSettings(settings)
	if err != nil {
		return err
	}
	client := github.NewClient(adapters.NewHTTPClient(rl)).WithAuthToken(token)
	if endpoint := settings["endpoint"]; endpoint != "" {
		if !strings.HasSuffix(endpoint, "/") {
			endpoint += "/"
		}
		base, err := url.Parse(endpoint)
		if err != nil {
			return fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
		}
		client.BaseURL = base
	}
	g.client = client
	return nil
}

// SetLogger sets the logger for this backend.
func (g *GitHost) SetLogger(logger adapters.Logger) {
	if logger != nil {
		g.logger = logger
	}
}

func statusCode(resp *github.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}

// repoOwner returns the configured owner, resolving the authenticated
// user on first use.
func (g *GitHost) repoOwner(ctx context.Context) (string, error) {
	if g.client == nil {
		return "", common.ErrNotConfigured
	}
	g.ownerMu.Lock()
	defer g.ownerMu.Unlock()
	if g.owner != "" {
		return g.owner, nil
	}
	user, _, err := g.client.Users.Get(ctx, "")
	if isAuthError(err) {
		return "", fmt.Errorf("%w: %w", common.ErrUnauthorized, err)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve owner: %w", err)
	}
	g.owner = user.GetLogin()
	if g.owner == "" {
		return "", common.ErrOwnerNotSet
	}
	return g.owner, nil
}

func (g *GitHost) repo(ctx context.Context, store string) (string, error) {
	owner, err := g.repoOwner(ctx)
	if err != nil {
		return "", err
	}
	if err := common.ValidateStoreName(store); err != nil {
		return "", err
	}
	return owner, nil
}

// head returns the branch commit and its tree listing. An empty
// repository yields an empty head.
func (g *GitHost) head(ctx context.Context, owner, store string) (commitSHA string, tree *github.Tree, err error) {
	ref, resp, err := g.client.Git.GetRef(ctx, owner, store, "refs/heads/"+g.branch)
	switch {
	case statusCode(resp) == http.StatusConflict:
		return "", &github.Tree{}, nil
	case statusCode(resp) == http.StatusNotFound:
		return "", nil, fmt.Errorf("%w: %s/%s", common.ErrStoreNotFound, owner, store)
	case isAuthError(err):
		return "", nil, fmt.Errorf("%w: %w", common.ErrUnauthorized, err)
	case err != nil:
		return "", nil, fmt.Errorf("failed to read branch %s: %w", g.branch, err)
	}
	commitSHA = ref.GetObject().GetSHA()
	tree, _, err = g.client.Git.GetTree(ctx, owner, store, commitSHA, true)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read tree: %w", err)
	}
	if tree.GetTruncated() {
		g.logger.Warn(ctx, "Repository tree listing truncated",
			adapters.Field{Key: "store", Value: store})
	}
	return commitSHA, tree, nil
}

func (g *GitHost) structure(tree *github.Tree) *common.StoreStructure {
	var refs []common.FileRef
	for _, e := range tree.Entries {
		if e.GetType() != blobType {
			continue
		}
		refs = append(refs, common.FileRef{Path: e.GetPath(), ContentHash: e.GetSHA()})
	}
	return common.BuildStructure(g.entry, refs)
}

// FetchStructure lists the branch tree and returns its manifest. Content
// hashes are git blob SHAs.
func (g *GitHost) FetchStructure(ctx context.Context, store string) (*common.StoreStructure, error) {
	owner, err := g.repo(ctx, store)
	if err != nil {
		return nil, err
	}
	_, tree, err := g.head(ctx, owner, store)
	if err != nil {
		return nil, err
	}
	return g.structure(tree), nil
}

// FetchContent downloads blobs in order. References without a content
// hash are resolved against the current tree.
func (g *GitHost) FetchContent(ctx context.Context, store string, refs []common.FileRef) ([]common.RemoteFile, error) {
	owner, err := g.repo(ctx, store)
	if err != nil {
		return nil, err
	}
	var shas map[string]string
	out := make([]common.RemoteFile, 0, len(refs))
	for _, ref := range refs {
		sha := ref.ContentHash
		if sha == "" {
			if shas == nil {
				_, tree, err := g.head(ctx, owner, store)
				if err != nil {
					return nil, err
				}
				shas = make(map[string]string, len(tree.Entries))
				for _, e := range tree.Entries {
					shas[e.GetPath()] = e.GetSHA()
				}
			}
			sha = shas[ref.Path]
			if sha == "" {
				return nil, fmt.Errorf("%w: %s", common.ErrKeyNotFound, ref.Path)
			}
		}
		data, resp, err := g.client.Git.GetBlobRaw(ctx, owner, store, sha)
		if statusCode(resp) == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", common.ErrKeyNotFound, ref.Path)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", ref.Path, err)
		}
		out = append(out, common.RemoteFile{
			FileRef: common.FileRef{Path: ref.Path, ContentHash: sha},
			Content: data,
		})
	}
	return out, nil
}

// UploadContent writes every upload as a single commit on the branch.
func (g *GitHost) UploadContent(ctx context.Context, store string, uploads []common.Upload) (*common.StoreStructure, error) {
	owner, err := g.repo(ctx, store)
	if err != nil {
		return nil, err
	}
	for _, u := range uploads {
		if err := common.ValidatePath(u.Path); err != nil {
			return nil, err
		}
	}
	parent, tree, err := g.head(ctx, owner, store)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]bool, len(tree.Entries))
	for _, e := range tree.Entries {
		existing[e.GetPath()] = true
	}

	var entries []*github.TreeEntry
	for _, u := range uploads {
		if u.IsDelete() {
			// Deleting a path missing from the tree is rejected by the API.
			if existing[u.Path] {
				entries = append(entries, &github.TreeEntry{
					Path: github.String(u.Path),
					Mode: github.String(fileMode),
					Type: github.String(blobType),
				})
			}
			continue
		}
		blob, _, err := g.client.Git.CreateBlob(ctx, owner, store, &github.Blob{
			Content:  github.String(base64.StdEncoding.EncodeToString(u.Content)),
			Encoding: github.String("base64"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create blob for %s: %w", u.Path, err)
		}
		entries = append(entries, &github.TreeEntry{
			Path: github.String(u.Path),
			Mode: github.String(fileMode),
			Type: github.String(blobType),
			SHA:  blob.SHA,
		})
	}
	if len(entries) == 0 {
		return g.structure(tree), nil
	}

	baseTree := ""
	if parent != "" {
		baseTree = tree.GetSHA()
	}
	newTree, _, err := g.client.Git.CreateTree(ctx, owner, store, baseTree, entries)
	if err != nil {
		return nil, fmt.Errorf("failed to create tree: %w", err)
	}
	commit := &github.Commit{
		Message: github.String(fmt.Sprintf("objsync: update %d file(s)", len(entries))),
		Tree:    &github.Tree{SHA: newTree.SHA},
	}
	if parent != "" {
		commit.Parents = []*github.Commit{{SHA: github.String(parent)}}
	}
	created, _, err := g.client.Git.CreateCommit(ctx, owner, store, commit, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create commit: %w", err)
	}
	ref := &github.Reference{
		Ref:    github.String("refs/heads/" + g.branch),
		Object: &github.GitObject{SHA: created.SHA},
	}
	if parent == "" {
		_, _, err = g.client.Git.CreateRef(ctx, owner, store, ref)
	} else {
		_, _, err = g.client.Git.UpdateRef(ctx, owner, store, ref, false)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to move branch %s: %w", g.branch, err)
	}
	g.logger.Info(ctx, "Committed store content",
		adapters.Field{Key: "store", Value: store},
		adapters.Field{Key: "commit", Value: created.GetSHA()},
		adapters.Field{Key: "files", Value: len(entries)})

	listing, _, err := g.client.Git.GetTree(ctx, owner, store, newTree.GetSHA(), true)
	if err != nil {
		return nil, fmt.Errorf("failed to read tree: %w", err)
	}
	return g.structure(listing), nil
}

// TransformAsset assigns an asset path; the reference is the path itself.
func (g *GitHost) TransformAsset(ctx context.Context, store string, file *common.File) (common.AssetRef, error) {
	if file == nil {
		return common.AssetRef{}, common.ErrNotAFile
	}
	p := common.NewAssetPath(file.Name)
	return common.AssetRef{Path: p, Reference: p}, nil
}

// GetAsset downloads a previously committed asset.
func (g *GitHost) GetAsset(ctx context.Context, store string, reference string) ([]byte, error) {
	p, err := common.AssetPathFromReference(reference)
	if err != nil {
		return nil, err
	}
	files, err := g.FetchContent(ctx, store, []common.FileRef{{Path: p}})
	if err != nil {
		return nil, err
	}
	return files[0].Content, nil
}

// CreateStore creates an initialized repository so the git data API can
// commit to it.
func (g *GitHost) CreateStore(ctx context.Context, name string) (*common.StoreInfo, error) {
	if g.client == nil {
		return nil, common.ErrNotConfigured
	}
	if err := common.ValidateStoreName(name); err != nil {
		return nil, err
	}
	repo, resp, err := g.client.Repositories.Create(ctx, g.org, &github.Repository{
		Name:     github.String(name),
		Private:  github.Bool(g.private),
		AutoInit: github.Bool(true),
	})
	if statusCode(resp) == http.StatusUnprocessableEntity {
		return nil, fmt.Errorf("%w: %s", common.ErrStoreExists, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create repository %s: %w", name, err)
	}
	return &common.StoreInfo{ID: repo.GetFullName(), Name: repo.GetName()}, nil
}

// FetchAllStore lists the repositories of the owner visible to the token.
func (g *GitHost) FetchAllStore(ctx context.Context) ([]string, error) {
	owner, err := g.repoOwner(ctx)
	if err != nil {
		return nil, err
	}
	opts := &github.RepositoryListByAuthenticatedUserOptions{
		ListOptions: github.ListOptions{PerPage: pageSize},
	}
	var names []string
	for {
		repos, resp, err := g.client.Repositories.ListByAuthenticatedUser(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list repositories: %w", err)
		}
		for _, r := range repos {
			if strings.EqualFold(r.GetOwner().GetLogin(), owner) {
				names = append(names, r.GetName())
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	sort.Strings(names)
	return names, nil
}

// Account returns the authenticated user.
func (g *GitHost) Account(ctx context.Context) (*common.Account, error) {
	if g.client == nil {
		return nil, common.ErrNotConfigured
	}
	user, _, err := g.client.Users.Get(ctx, "")
	if isAuthError(err) {
		return nil, fmt.Errorf("%w: %w", common.ErrUnauthorized, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	return &common.Account{
		ID:     strconv.FormatInt(user.GetID(), 10),
		Name:   user.GetLogin(),
		Avatar: user.GetAvatarURL(),
	}, nil
}

// Collaborators lists users with access to the store repository.
func (g *GitHost) Collaborators(ctx context.Context, store string) ([]common.Collaborator, error) {
	owner, err := g.repo(ctx, store)
	if err != nil {
		return nil, err
	}
	opts := &github.ListCollaboratorsOptions{ListOptions: github.ListOptions{PerPage: pageSize}}
	var out []common.Collaborator
	for {
		users, resp, err := g.client.Repositories.ListCollaborators(ctx, owner, store, opts)
		if statusCode(resp) == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s/%s", common.ErrStoreNotFound, owner, store)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list collaborators: %w", err)
		}
		for _, u := range users {
			out = append(out, common.Collaborator{
				ID:         strconv.FormatInt(u.GetID(), 10),
				Name:       u.GetLogin(),
				Permission: u.GetRoleName(),
			})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// isAuthError reports whether err is an authentication failure from the API.
func isAuthError(err error) bool {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode == http.StatusUnauthorized
	}
	return false
}
