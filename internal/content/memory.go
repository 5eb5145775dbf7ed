package content

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is the in-process backend used by tests and by engine
// setups that don't need durable content.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, data []byte, documentID string, version int) (PutResult, error) {
	url := fmt.Sprintf("mem://%s/v%d", documentID, version)
	stored := make([]byte, len(data))
	copy(stored, data)

	s.mu.Lock()
	s.blobs[url] = stored
	s.mu.Unlock()
	return newPutResult(url, data), nil
}

func (s *MemoryStore) Get(ctx context.Context, url string) ([]byte, error) {
	s.mu.RLock()
	stored, ok := s.blobs[url]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no blob stored at %q", url)
	}
	data := make([]byte, len(stored))
	copy(data, stored)
	return data, nil
}
