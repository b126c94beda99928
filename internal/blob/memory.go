package blob

import (
	"context"
	"fmt"
	"sync"

	"imagepipeline/internal/models"
)

// Memory is a map-backed Store for tests and local runs.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]object
	puts    int
}

type object struct {
	contentType string
	data        []byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]object)}
}

func (m *Memory) Put(_ context.Context, key, contentType string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[key] = object{contentType: contentType, data: cp}
	m.puts++
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("blob.Get: %q: %w", key, models.ErrNotFound)
	}
	return obj.data, nil
}

func (m *Memory) URL(key string) string {
	return "mem://" + key
}

// Has reports whether an object exists at key.
func (m *Memory) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok
}

// ContentTypeOf returns the stored content type for key, or "".
func (m *Memory) ContentTypeOf(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[key].contentType
}

// Puts reports the total number of Put calls, overwrites included.
func (m *Memory) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}
