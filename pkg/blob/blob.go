// Package blob stores raw tool payloads referenced by compacted messages.
package blob

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Uploader persists a JSON payload and returns a stable URL for it.
type Uploader interface {
	Upload(ctx context.Context, data []byte, key string) (string, error)
}

// ObjectKey builds the canonical dump key for a session.
func ObjectKey(prefix, sessionID string) string {
	return fmt.Sprintf("%s/%s/%s.json", prefix, sessionID, uuid.NewString())
}

// MemoryUploader keeps uploads in memory. Used in tests and setups without
// an object store.
type MemoryUploader struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryUploader() *MemoryUploader {
	return &MemoryUploader{
		objects: make(map[string][]byte),
	}
}

func (u *MemoryUploader) Upload(ctx context.Context, data []byte, key string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	u.objects[key] = stored

	return "memory://" + key, nil
}

func (u *MemoryUploader) Get(key string) ([]byte, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	data, exists := u.objects[key]
	return data, exists
}

func (u *MemoryUploader) Count() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.objects)
}
