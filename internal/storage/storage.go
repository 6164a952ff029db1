// Package storage defines the Storage interface and common types for the blob stores
// holding avatars, gallery images, event posters and blog images.
//
// New backends are added by implementing the Storage interface and registering
// with the factory via an init() function in the backend's own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger init().
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Download and GetMetadata for a missing object
var ErrNotFound = errors.New("object not found")

// Storage defines the interface for all storage backends
type Storage interface {
	// Upload stores an object under key and returns the storage result with path and checksum
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*UploadResult, error)

	// Download retrieves an object and returns a reader
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every object whose key starts with prefix and
	// returns how many were removed
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// GetURL returns a URL a browser can load the object from.
	// For cloud storage, this generates a signed URL valid for the specified TTL.
	GetURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Exists checks if an object exists under key
	Exists(ctx context.Context, key string) (bool, error)

	// GetMetadata retrieves object metadata without downloading it
	GetMetadata(ctx context.Context, key string) (*FileMetadata, error)
}

// UploadResult contains information about an uploaded object
type UploadResult struct {
	// Path is the storage key the object was stored under
	Path string

	// Size is the object size in bytes
	Size int64

	// Checksum is the SHA256 hash of the object contents
	Checksum string
}

// FileMetadata contains metadata about a stored object
type FileMetadata struct {
	Path         string
	Size         int64
	ContentType  string
	Checksum     string
	LastModified time.Time
}

// BucketEnsurer is implemented by backends that can create their bucket or container
type BucketEnsurer interface {
	EnsureBucket(ctx context.Context) error
}

// Ensure creates the backend's bucket when the backend supports it
func Ensure(ctx context.Context, s Storage) error {
	if be, ok := s.(BucketEnsurer); ok {
		return be.EnsureBucket(ctx)
	}
	return nil
}
