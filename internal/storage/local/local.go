// Package local implements the local filesystem storage backend. This backend is intended
// for development and single-node deployments: objects are written under base_path and
// served by the API itself at /files/<key>.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/bandyab/bandyab/internal/config"
	"github.com/bandyab/bandyab/internal/storage"
)

func init() {
	storage.Register("local", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.Local, cfg.Server.BaseURL)
	})
}

// LocalStorage implements the Storage interface for local filesystem storage
type LocalStorage struct {
	basePath      string
	serveDirectly bool
	baseURL       string
}

// New creates a new local filesystem storage backend
func New(cfg *config.LocalStorageConfig, serverBaseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(cfg.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	base, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
	}

	return &LocalStorage{
		basePath:      base,
		serveDirectly: cfg.ServeDirectly,
		baseURL:       strings.TrimRight(serverBaseURL, "/"),
	}, nil
}

// BasePath returns the directory objects are stored in
func (s *LocalStorage) BasePath() string {
	return s.basePath
}

// resolve maps a key to a path inside basePath, rejecting keys that escape it
func (s *LocalStorage) resolve(key string) (string, error) {
	full := filepath.Join(s.basePath, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.basePath, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return full, nil
}

// Upload stores an object in the local filesystem
func (s *LocalStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*storage.UploadResult, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(file, hasher), reader)
	if err != nil {
		_ = os.Remove(fullPath)
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	return &storage.UploadResult{
		Path:     key,
		Size:     written,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Download retrieves an object from the local filesystem
func (s *LocalStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes an object from the local filesystem
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	s.pruneEmptyDirs(filepath.Dir(fullPath))
	return nil
}

// DeletePrefix removes every object whose key starts with prefix
func (s *LocalStorage) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	root, err := s.resolve(strings.TrimSuffix(prefix, "/"))
	if err != nil {
		return 0, err
	}

	removed := 0
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete %s: %w", p, err)
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, err
	}

	_ = os.RemoveAll(root)
	s.pruneEmptyDirs(filepath.Dir(root))
	return removed, nil
}

// pruneEmptyDirs removes empty parent directories up to basePath
func (s *LocalStorage) pruneEmptyDirs(dir string) {
	for dir != s.basePath && strings.HasPrefix(dir, s.basePath) {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
}

// GetURL returns the URL an object is served from. With serve_directly the API serves
// it at /files/<key>; otherwise a file:// URL is returned for local access.
func (s *LocalStorage) GetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return "", err
	}

	if s.serveDirectly {
		return fmt.Sprintf("%s/files/%s", s.baseURL, key), nil
	}
	return "file://" + fullPath, nil
}

// Exists checks if an object exists under key
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}
	return true, nil
}

// GetMetadata retrieves object metadata, sniffing the content type from the file
func (s *LocalStorage) GetMetadata(ctx context.Context, key string) (*storage.FileMetadata, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get file metadata: %w", err)
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file for checksum: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return nil, fmt.Errorf("failed to calculate checksum: %w", err)
	}

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(fullPath); err == nil {
		contentType = mt.String()
	}

	return &storage.FileMetadata{
		Path:         key,
		Size:         stat.Size(),
		ContentType:  contentType,
		Checksum:     hex.EncodeToString(hasher.Sum(nil)),
		LastModified: stat.ModTime(),
	}, nil
}
