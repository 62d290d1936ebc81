package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// BlobStore keeps uploaded objects in memory. It backs snapshots when no
// object store is configured.
type BlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewBlobStore returns an empty BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string][]byte)}
}

// Put stores the full contents of data under path, replacing any previous
// object.
func (b *BlobStore) Put(_ context.Context, path string, data io.Reader, _ string) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("memory: read blob %s: %w", path, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = body
	return nil
}

// Object returns a copy of the object at path.
func (b *BlobStore) Object(path string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	body, ok := b.objects[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), body...), true
}

// Paths lists stored object paths in sorted order.
func (b *BlobStore) Paths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.objects))
	for p := range b.objects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

var _ domain.BlobWriter = (*BlobStore)(nil)
