// Package memory keeps batches and blobs in process memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/JakeFAU/batchcrawl/internal/store"
)

const uriScheme = "memory://"

// BlobStore stores artifacts in-memory and returns pseudo URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data: make(map[string][]byte),
	}
}

// PutObject persists the content and returns a URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = byteData
	return uriScheme + path, nil
}

// GetObject returns a copy of the object stored under the URI returned by PutObject.
func (s *BlobStore) GetObject(_ context.Context, location string) ([]byte, error) {
	path := strings.TrimPrefix(location, uriScheme)
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", location, store.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}
