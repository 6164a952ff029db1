// Package storagetest provides an in-memory storage.Storage for tests.
package storagetest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bandyab/bandyab/internal/storage"
)

type object struct {
	data        []byte
	contentType string
	modified    time.Time
}

// Memory is a concurrency-safe in-memory backend. FailKeys and FailPrefixes make
// Delete and DeletePrefix return an error for the listed targets.
type Memory struct {
	mu           sync.Mutex
	objects      map[string]object
	FailKeys     map[string]bool
	FailPrefixes map[string]bool
}

// NewMemory returns an empty backend
func NewMemory() *Memory {
	return &Memory{
		objects:      make(map[string]object),
		FailKeys:     make(map[string]bool),
		FailPrefixes: make(map[string]bool),
	}
}

// Put stores an object directly, bypassing Upload
func (m *Memory) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = object{data: data, modified: time.Now()}
}

// Keys returns every stored key, sorted
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ContentType returns the content type an object was uploaded with
func (m *Memory) ContentType(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[key].contentType
}

func (m *Memory) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*storage.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.objects[key] = object{data: data, contentType: contentType, modified: time.Now()}
	m.mu.Unlock()

	sum := sha256.Sum256(data)
	return &storage.UploadResult{Path: key, Size: int64(len(data)), Checksum: hex.EncodeToString(sum[:])}, nil
}

func (m *Memory) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailKeys[key] {
		return fmt.Errorf("injected failure for %s", key)
	}
	delete(m.objects, key)
	return nil
}

func (m *Memory) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPrefixes[prefix] {
		return 0, fmt.Errorf("injected failure for %s", prefix)
	}
	n := 0
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			delete(m.objects, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ok, _ := m.Exists(ctx, key); !ok {
		return "", fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return "memory://" + key, nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *Memory) GetMetadata(ctx context.Context, key string) (*storage.FileMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	sum := sha256.Sum256(obj.data)
	return &storage.FileMetadata{
		Path:         key,
		Size:         int64(len(obj.data)),
		ContentType:  obj.contentType,
		Checksum:     hex.EncodeToString(sum[:]),
		LastModified: obj.modified,
	}, nil
}
