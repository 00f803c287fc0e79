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

// Package s3 implements the syncer interface over an S3-compatible bucket.
// Each store is a key prefix "<prefix><store>/" inside the bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/jeremyhahn/go-objsync/pkg/adapters"
	"github.com/jeremyhahn/go-objsync/pkg/common"
)

// storeMarker is written by CreateStore so empty stores are listed.
const storeMarker = ".objsync"

// deleteBatchSize is the DeleteObjects limit per request.
const deleteBatchSize = 1000

// s3API is the subset of the S3 client used by the backend.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3 is a syncer backend for Amazon S3 and compatible services.
type S3 struct {
	svc    s3API
	bucket string
	prefix string
	entry  string
	owner  string
	logger adapters.Logger
}

// New creates a new S3 syncer backend.
func New() *S3 {
	return &S3{
		entry:  common.DefaultEntryName,
		logger: adapters.NewNoOpLogger(),
	}
}

// Configure sets up the backend with the necessary credentials and settings.
// Settings:
//   - bucket: bucket name (required)
//   - region: AWS region (optional, default us-east-1)
//   - endpoint: custom endpoint for S3-compatible services (optional)
//   - accessKeyId, secretAccessKey: static credentials (optional, default chain otherwise)
//   - usePathStyle: "true" for path-style addressing (optional)
//   - prefix: key prefix under which stores live (optional)
//   - entry: chunk file prefix (optional, default "data")
//   - rateLimit, rateBurst: outbound request throttling (optional)
func (s *S3) Configure(settings map[string]string) error {
	s.bucket = settings["bucket"]
	if s.bucket == "" {
		return common.ErrBucketNotSet
	}
	region := settings["region"]
	if region == "" {
		region = "us-east-1"
	}
	if v := settings["entry"]; v != "" {
		s.entry = v
	}
	s.prefix = strings.Trim(settings["prefix"], "/")
	if s.prefix != "" {
		s.prefix += "/"
	}
	s.owner = settings["accessKeyId"]
	if s.owner == "" {
		s.owner = s.bucket
	}

	rl, err := adapters.RateLimitFromSettings(settings)
	if err != nil {
		return err
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithHTTPClient(adapters.NewHTTPClient(rl)),
	}
	if ak, sk := settings["accessKeyId"], settings["secretAccessKey"]; ak != "" && sk != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, sk, settings["sessionToken"])))
	}
	cfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := settings["endpoint"]
	pathStyle := settings["usePathStyle"] == "true"
	s.svc = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = pathStyle
	})
	return nil
}

// SetLogger sets the logger for this backend.
func (s *S3) SetLogger(logger adapters.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

func (s *S3) storePrefix(store string) (string, error) {
	if s.svc == nil {
		return "", common.ErrNotConfigured
	}
	if err := common.ValidateStoreName(store); err != nil {
		return "", err
	}
	return s.prefix + store + "/", nil
}

// FetchStructure lists every object under the store prefix.
func (s *S3) FetchStructure(ctx context.Context, store string) (*common.StoreStructure, error) {
	prefix, err := s.storePrefix(store)
	if err != nil {
		return nil, err
	}
	var refs []common.FileRef
	paginator := s3.NewListObjectsV2Paginator(s.svc, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list store %s: %w", store, err)
		}
		for _, obj := range page.Contents {
			rel := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if rel == "" || rel == storeMarker {
				continue
			}
			refs = append(refs, common.FileRef{Path: rel, ContentHash: strings.Trim(aws.ToString(obj.ETag), `"`)})
		}
	}
	return common.BuildStructure(s.entry, refs), nil
}

// FetchContent downloads each referenced object in order.
func (s *S3) FetchContent(ctx context.Context, store string, refs []common.FileRef) ([]common.RemoteFile, error) {
	prefix, err := s.storePrefix(store)
	if err != nil {
		return nil, err
	}
	out := make([]common.RemoteFile, 0, len(refs))
	for _, ref := range refs {
		if err := common.ValidatePath(ref.Path); err != nil {
			return nil, err
		}
		resp, err := s.svc.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(prefix + ref.Path),
		})
		if err != nil {
			var nsk *types.NoSuchKey
			if errors.As(err, &nsk) {
				return nil, fmt.Errorf("%w: %s", common.ErrKeyNotFound, ref.Path)
			}
			return nil, fmt.Errorf("failed to get %s: %w", ref.Path, err)
		}
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", ref.Path, err)
		}
		out = append(out, common.RemoteFile{
			FileRef: common.FileRef{Path: ref.Path, ContentHash: strings.Trim(aws.ToString(resp.ETag), `"`)},
			Content: data,
		})
	}
	return out, nil
}

// UploadContent puts every file with content, deletes the rest in batches
// and returns the refreshed structure.
func (s *S3) UploadContent(ctx context.Context, store string, uploads []common.Upload) (*common.StoreStructure, error) {
	prefix, err := s.storePrefix(store)
	if err != nil {
		return nil, err
	}
	var deletes []types.ObjectIdentifier
	for _, u := range uploads {
		if err := common.ValidatePath(u.Path); err != nil {
			return nil, err
		}
		if u.IsDelete() {
			deletes = append(deletes, types.ObjectIdentifier{Key: aws.String(prefix + u.Path)})
			continue
		}
		if _, err := s.svc.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(prefix + u.Path),
			Body:          bytes.NewReader(u.Content),
			ContentLength: aws.Int64(int64(len(u.Content))),
		}); err != nil {
			return nil, fmt.Errorf("failed to put %s: %w", u.Path, err)
		}
		s.logger.Debug(ctx, "Uploaded object",
			adapters.Field{Key: "bucket", Value: s.bucket},
			adapters.Field{Key: "key", Value: prefix + u.Path},
			adapters.Field{Key: "size", Value: len(u.Content)})
	}
	for start := 0; start < len(deletes); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(deletes))
		out, err := s.svc.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: deletes[start:end], Quiet: aws.Bool(true)},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to delete objects: %w", err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return nil, fmt.Errorf("failed to delete %s: %s", aws.ToString(e.Key), aws.ToString(e.Message))
		}
	}
	return s.FetchStructure(ctx, store)
}

// TransformAsset assigns an asset path; the reference is the path itself.
func (s *S3) TransformAsset(ctx context.Context, store string, file *common.File) (common.AssetRef, error) {
	if file == nil {
		return common.AssetRef{}, common.ErrNotAFile
	}
	p := common.NewAssetPath(file.Name)
	return common.AssetRef{Path: p, Reference: p}, nil
}

// GetAsset downloads a previously uploaded asset.
func (s *S3) GetAsset(ctx context.Context, store string, reference string) ([]byte, error) {
	p, err := common.AssetPathFromReference(reference)
	if err != nil {
		return nil, err
	}
	files, err := s.FetchContent(ctx, store, []common.FileRef{{Path: p}})
	if err != nil {
		return nil, err
	}
	return files[0].Content, nil
}

// CreateStore writes the store marker object.
func (s *S3) CreateStore(ctx context.Context, name string) (*common.StoreInfo, error) {
	prefix, err := s.storePrefix(name)
	if err != nil {
		return nil, err
	}
	existing, err := s.svc.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check store %s: %w", name, err)
	}
	if len(existing.Contents) > 0 {
		return nil, fmt.Errorf("%w: %s", common.ErrStoreExists, name)
	}
	if _, err := s.svc.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(prefix + storeMarker),
		Body:   bytes.NewReader(nil),
	}); err != nil {
		return nil, fmt.Errorf("failed to create store %s: %w", name, err)
	}
	return &common.StoreInfo{ID: s.bucket + "/" + prefix, Name: name}, nil
}

// FetchAllStore lists the store prefixes directly under the configured prefix.
func (s *S3) FetchAllStore(ctx context.Context) ([]string, error) {
	if s.svc == nil {
		return nil, common.ErrNotConfigured
	}
	var names []string
	paginator := s3.NewListObjectsV2Paginator(s.svc, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(s.prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list stores: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), s.prefix), "/")
			if name != "" {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// Account reports the access key (or bucket) the backend is using.
func (s *S3) Account(ctx context.Context) (*common.Account, error) {
	if s.svc == nil {
		return nil, common.ErrNotConfigured
	}
	return &common.Account{ID: s.owner, Name: s.owner}, nil
}

// Collaborators is not supported by the S3 backend.
func (s *S3) Collaborators(ctx context.Context, store string) ([]common.Collaborator, error) {
	return nil, common.ErrNotSupported
}
