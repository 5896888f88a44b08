// Package backup persists tenant snapshots. The file store is the
// default; the S3 store ships snapshots to a bucket for off-host
// retention.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/S-Corkum/caching-platform/internal/config"
	"github.com/S-Corkum/caching-platform/internal/platform"
	"github.com/S-Corkum/caching-platform/internal/tenant"
	"github.com/S-Corkum/caching-platform/pkg/observability"
)

// Store persists and retrieves tenant snapshots
type Store interface {
	Save(ctx context.Context, snap *tenant.Snapshot) error
	Load(ctx context.Context, tenantID, snapshotID string) (*tenant.Snapshot, error)
	List(ctx context.Context, tenantID string) ([]string, error)
	Delete(ctx context.Context, tenantID, snapshotID string) error
}

// NewStore builds the store selected by configuration
func NewStore(ctx context.Context, cfg config.BackupConfig, logger observability.Logger) (Store, error) {
	switch cfg.Store {
	case "file":
		return NewFileStore(cfg.Directory, logger)
	case "s3":
		return NewS3Store(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region, logger)
	default:
		return nil, platform.Newf(platform.CodeInvalidValue, "unknown backup store %q", cfg.Store)
	}
}

// FileStore keeps snapshots as JSON files under a directory, one
// subdirectory per tenant.
type FileStore struct {
	dir    string
	logger observability.Logger
}

// NewFileStore creates the directory if needed
func NewFileStore(dir string, logger observability.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, platform.New(platform.CodeInvalidArgument, "backup directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, platform.Wrap(err, platform.CodeUnavailable, "failed to create backup directory")
	}
	return &FileStore{dir: dir, logger: logger.WithPrefix("backup")}, nil
}

func (s *FileStore) path(tenantID, snapshotID string) string {
	return filepath.Join(s.dir, tenantID, snapshotID+".json")
}

// Save implements Store
func (s *FileStore) Save(ctx context.Context, snap *tenant.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return platform.Wrap(err, platform.CodeInternal, "failed to encode snapshot")
	}

	path := s.path(snap.TenantID, snap.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return platform.Wrap(err, platform.CodeUnavailable, "failed to create tenant backup directory")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return platform.Wrap(err, platform.CodeUnavailable, "failed to write snapshot")
	}

	s.logger.Info("snapshot saved", map[string]interface{}{
		"tenant":   snap.TenantID,
		"snapshot": snap.ID,
		"keys":     snap.KeyCount,
	})
	return nil
}

// Load implements Store
func (s *FileStore) Load(ctx context.Context, tenantID, snapshotID string) (*tenant.Snapshot, error) {
	data, err := os.ReadFile(s.path(tenantID, snapshotID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, platform.Newf(platform.CodeNotFound, "snapshot %s not found for tenant %s", snapshotID, tenantID)
		}
		return nil, platform.Wrap(err, platform.CodeUnavailable, "failed to read snapshot")
	}

	var snap tenant.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, platform.Wrap(err, platform.CodeInvalidValue, "snapshot is corrupt")
	}
	return &snap, nil
}

// List implements Store. Snapshot ids come back sorted.
func (s *FileStore) List(ctx context.Context, tenantID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, tenantID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, platform.Wrap(err, platform.CodeUnavailable, "failed to list snapshots")
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete implements Store
func (s *FileStore) Delete(ctx context.Context, tenantID, snapshotID string) error {
	err := os.Remove(s.path(tenantID, snapshotID))
	if os.IsNotExist(err) {
		return platform.Newf(platform.CodeNotFound, "snapshot %s not found for tenant %s", snapshotID, tenantID)
	}
	if err != nil {
		return platform.Wrap(err, platform.CodeUnavailable, "failed to delete snapshot")
	}
	return nil
}

// s3API is the slice of the S3 client the store uses
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store keeps snapshots as JSON objects under
// <prefix><tenant>/<snapshot>.json.
type S3Store struct {
	client s3API
	bucket string
	prefix string
	logger observability.Logger
}

// NewS3Store resolves AWS configuration from the environment
func NewS3Store(ctx context.Context, bucket, prefix, region string, logger observability.Logger) (*S3Store, error) {
	if bucket == "" {
		return nil, platform.New(platform.CodeInvalidArgument, "s3 bucket is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, platform.Wrap(err, platform.CodeUnavailable, "failed to load AWS configuration")
	}
	return NewS3StoreWithClient(s3.NewFromConfig(cfg), bucket, prefix, logger), nil
}

// NewS3StoreWithClient wraps an existing client. Tests use this with a
// fake.
func NewS3StoreWithClient(client s3API, bucket, prefix string, logger observability.Logger) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger.WithPrefix("backup"),
	}
}

func (s *S3Store) key(tenantID, snapshotID string) string {
	return fmt.Sprintf("%s%s/%s.json", s.prefix, tenantID, snapshotID)
}

// Save implements Store
func (s *S3Store) Save(ctx context.Context, snap *tenant.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return platform.Wrap(err, platform.CodeInternal, "failed to encode snapshot")
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(snap.TenantID, snap.ID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return platform.Wrap(err, platform.CodeUnavailable, "failed to upload snapshot")
	}

	s.logger.Info("snapshot uploaded", map[string]interface{}{
		"tenant":   snap.TenantID,
		"snapshot": snap.ID,
		"bucket":   s.bucket,
	})
	return nil
}

// Load implements Store
func (s *S3Store) Load(ctx context.Context, tenantID, snapshotID string) (*tenant.Snapshot, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(tenantID, snapshotID)),
	})
	if err != nil {
		return nil, platform.Wrap(err, platform.CodeNotFound, "snapshot not found")
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, platform.Wrap(err, platform.CodeUnavailable, "failed to download snapshot")
	}

	var snap tenant.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, platform.Wrap(err, platform.CodeInvalidValue, "snapshot is corrupt")
	}
	return &snap, nil
}

// List implements Store
func (s *S3Store) List(ctx context.Context, tenantID string) ([]string, error) {
	prefix := s.prefix + tenantID + "/"
	var ids []string
	var token *string

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, platform.Wrap(err, platform.CodeUnavailable, "failed to list snapshots")
		}

		for _, obj := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if strings.HasSuffix(name, ".json") {
				ids = append(ids, strings.TrimSuffix(name, ".json"))
			}
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}

	sort.Strings(ids)
	return ids, nil
}

// Delete implements Store
func (s *S3Store) Delete(ctx context.Context, tenantID, snapshotID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(tenantID, snapshotID)),
	})
	if err != nil {
		return platform.Wrap(err, platform.CodeUnavailable, "failed to delete snapshot")
	}
	return nil
}
