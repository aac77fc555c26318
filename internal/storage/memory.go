package storage

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/galleryd/galleryd/internal/uid"
)

// MemoryBackend implements Backend using an in-memory map. It is the last
// resort of the resolver and the backend of choice in tests. Contents are
// lost on restart.
type MemoryBackend struct {
	// BaseURL is the URL prefix files are served under.
	BaseURL string

	mu           sync.RWMutex
	files        map[string][]byte
	currentSize  int64
	maxSizeBytes int64
}

// NewMemoryBackend creates an empty MemoryBackend. A maxSizeBytes of zero
// means unlimited.
func NewMemoryBackend(baseURL string, maxSizeBytes int64) *MemoryBackend {
	return &MemoryBackend{
		BaseURL:      baseURL,
		files:        make(map[string][]byte),
		maxSizeBytes: maxSizeBytes,
	}
}

// Class implements Backend.
func (b *MemoryBackend) Class() string { return ClassMemory }

// Save stores a copy of the content.
func (b *MemoryBackend) Save(ctx context.Context, name string, content io.Reader) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return "", fmt.Errorf("reading file data: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxSizeBytes > 0 && b.currentSize+int64(len(data)) > b.maxSizeBytes {
		return "", fmt.Errorf("memory storage limit exceeded: %d + %d > %d bytes",
			b.currentSize, len(data), b.maxSizeBytes)
	}

	// Name selection happens under the write lock so concurrent saves of the
	// same name cannot both claim it.
	candidate := name
	for i := 0; ; i++ {
		if _, taken := b.files[candidate]; !taken {
			break
		}
		if i >= maxNameAttempts {
			return "", fmt.Errorf("no free name for %q after %d attempts", name, maxNameAttempts)
		}
		candidate = uid.UniqueName(name)
	}

	b.files[candidate] = data
	b.currentSize += int64(len(data))
	return candidate, nil
}

// Open returns a reader over the stored bytes.
func (b *MemoryBackend) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	data, ok := b.files[name]
	b.mu.RUnlock()
	if !ok {
		return nil, notFound(name)
	}
	return newBytesFile(data), nil
}

// URL implements Backend.
func (b *MemoryBackend) URL(name string) string {
	return joinURL(b.BaseURL, name)
}

// Delete removes the file. Idempotent.
func (b *MemoryBackend) Delete(ctx context.Context, name string) error {
	name, err := cleanName(name)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if data, ok := b.files[name]; ok {
		b.currentSize -= int64(len(data))
		delete(b.files, name)
	}
	return nil
}

// Exists reports whether the file is stored.
func (b *MemoryBackend) Exists(ctx context.Context, name string) (bool, error) {
	name, err := cleanName(name)
	if err != nil {
		return false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.files[name]
	return ok, nil
}

// HealthCheck always succeeds.
func (b *MemoryBackend) HealthCheck(ctx context.Context) error {
	return nil
}

// Len returns the number of stored files.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.files)
}

var _ Backend = (*MemoryBackend)(nil)
