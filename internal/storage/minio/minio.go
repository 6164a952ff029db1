// Package minio implements the MinIO storage backend with the native minio-go client.
// It is the default backend for self-hosted deployments where a MinIO server sits next
// to the API. Images are served through presigned GET URLs.
package minio

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bandyab/bandyab/internal/config"
	"github.com/bandyab/bandyab/internal/storage"
)

func init() {
	storage.Register("minio", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.MinIO)
	})
}

const checksumMeta = "Sha256"

// MinIOStorage implements the Storage interface for a MinIO server
type MinIOStorage struct {
	client *minio.Client
	bucket string
	region string
}

// New creates a MinIO client. No request is made until the first operation.
func New(cfg *config.MinIOStorageConfig) (*MinIOStorage, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket name is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinIOStorage{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
	}, nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusNotFound ||
		resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *MinIOStorage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Upload stores an object, recording its SHA256 as user metadata
func (s *MinIOStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*storage.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{checksumMeta: checksum},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to MinIO: %w", err)
	}

	return &storage.UploadResult{
		Path:     key,
		Size:     info.Size,
		Checksum: checksum,
	}, nil
}

// Download retrieves an object. minio-go defers the request until the first read,
// so the object is stat'ed first to report a missing key here.
func (s *MinIOStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to download from MinIO: %w", err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to download from MinIO: %w", err)
	}
	return obj, nil
}

// Delete removes an object; MinIO reports success for missing keys
func (s *MinIOStorage) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete from MinIO: %w", err)
	}
	return nil
}

// DeletePrefix removes every object under prefix using the bulk delete API
func (s *MinIOStorage) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	listed := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	objects := make(chan minio.ObjectInfo)
	listErr := make(chan error, 1)
	count := 0
	go func() {
		defer close(objects)
		for obj := range listed {
			if obj.Err != nil {
				listErr <- obj.Err
				return
			}
			count++
			objects <- obj
		}
	}()

	var firstErr error
	failed := 0
	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		failed++
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to delete %s: %w", rerr.ObjectName, rerr.Err)
		}
	}

	select {
	case err := <-listErr:
		return count - failed, fmt.Errorf("failed to list objects: %w", err)
	default:
	}
	return count - failed, firstErr
}

// GetURL returns a presigned GET URL
func (s *MinIOStorage) GetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return u.String(), nil
}

// Exists checks if an object exists under key
func (s *MinIOStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

// GetMetadata retrieves object metadata
func (s *MinIOStorage) GetMetadata(ctx context.Context, key string) (*storage.FileMetadata, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get object metadata: %w", err)
	}

	checksum := info.UserMetadata[checksumMeta]
	if checksum == "" {
		reader, err := s.Download(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to download for checksum: %w", err)
		}
		defer reader.Close()

		hasher := sha256.New()
		if _, err := io.Copy(hasher, reader); err != nil {
			return nil, fmt.Errorf("failed to compute checksum: %w", err)
		}
		checksum = hex.EncodeToString(hasher.Sum(nil))
	}

	return &storage.FileMetadata{
		Path:         key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		Checksum:     checksum,
		LastModified: info.LastModified,
	}, nil
}
