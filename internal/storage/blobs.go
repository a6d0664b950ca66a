package storage

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryBlobs stands in for the object store when running without MinIO.
type MemoryBlobs struct {
	mu      sync.RWMutex
	raw     map[string][]byte
	reports map[string][]byte
}

func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{
		raw:     make(map[string][]byte),
		reports: make(map[string][]byte),
	}
}

func (b *MemoryBlobs) UploadRaw(_ context.Context, objectKey string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.raw[objectKey] = data
	return nil
}

func (b *MemoryBlobs) DeleteRaw(_ context.Context, objectKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.raw, objectKey)
	return nil
}

func (b *MemoryBlobs) DownloadRaw(_ context.Context, objectKey string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.raw[objectKey]
	if !ok {
		return nil, fmt.Errorf("raw object %s: %w", objectKey, ErrObjectNotFound)
	}
	return data, nil
}

func (b *MemoryBlobs) UploadReport(_ context.Context, objectKey string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reports[objectKey] = append([]byte(nil), data...)
	return nil
}

func (b *MemoryBlobs) DownloadReport(_ context.Context, objectKey string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.reports[objectKey]
	if !ok {
		return nil, fmt.Errorf("report %s: %w", objectKey, ErrObjectNotFound)
	}
	return data, nil
}
