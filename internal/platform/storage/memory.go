package storage

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore keeps objects in process memory. It backs local development and tests.
type MemoryStore struct {
	baseURL string

	mu      sync.Mutex
	objects map[string]Object
}

// NewMemoryStore returns an empty store serving URLs under baseURL.
func NewMemoryStore(baseURL string) *MemoryStore {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "memory://assets"
	}
	return &MemoryStore{baseURL: baseURL, objects: make(map[string]Object)}
}

func (m *MemoryStore) Upload(ctx context.Context, obj Object) (StoredObject, error) {
	if err := ctx.Err(); err != nil {
		return StoredObject{}, err
	}
	if err := checkObject(obj); err != nil {
		return StoredObject{}, err
	}
	key, err := objectKey(obj)
	if err != nil {
		return StoredObject{}, err
	}
	obj.Data = append([]byte(nil), obj.Data...)

	m.mu.Lock()
	m.objects[key] = obj
	m.mu.Unlock()
	return StoredObject{ID: key, URL: publicURL(m.baseURL, key)}, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[id]; !ok {
		return ErrObjectNotFound
	}
	delete(m.objects, id)
	return nil
}

// Keys lists stored object keys.
func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	return keys
}

// Get returns a copy of the stored object.
func (m *MemoryStore) Get(key string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return Object{}, false
	}
	obj.Data = append([]byte(nil), obj.Data...)
	return obj, true
}
