package storage

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"sync"
)

// Medium defines the interface for the persistent byte store behind the
// engine. All implementations must be thread-safe for concurrent access.
//
// A missing object is reported with an error wrapping fs.ErrNotExist.
type Medium interface {
	// Put writes data to loc. The object must not become visible to Get
	// until the whole payload has been written; a partial write is an error.
	Put(ctx context.Context, loc Location, data []byte) error

	// Get reads the whole object at loc.
	Get(ctx context.Context, loc Location) ([]byte, error)

	// Delete removes the object at loc.
	// No error if the object doesn't exist.
	Delete(ctx context.Context, loc Location) error

	// List returns every object on the medium.
	// Order is not guaranteed.
	List(ctx context.Context) ([]ObjectInfo, error)

	// Type returns the medium identifier ("disk", "memory", "s3").
	Type() string

	// Close releases any resources held by the medium.
	Close() error
}

// MemoryMedium implements Medium with in-memory storage.
// Uses sync.RWMutex for thread-safe concurrent access.
type MemoryMedium struct {
	mu   sync.RWMutex        // Protects concurrent access
	data map[Location][]byte // Object storage
}

// NewMemoryMedium creates a new in-memory medium
func NewMemoryMedium() *MemoryMedium {
	return &MemoryMedium{
		data: make(map[Location][]byte),
	}
}

// Put stores a copy of data at loc
func (m *MemoryMedium) Put(_ context.Context, loc Location, data []byte) error {
	// Make a copy to prevent external modification
	stored := make([]byte, len(data))
	copy(stored, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[loc] = stored
	return nil
}

// Get returns a copy of the object to prevent external modification
func (m *MemoryMedium) Get(_ context.Context, loc Location) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[loc]
	if !exists {
		return nil, fmt.Errorf("get %s: %w", loc, fs.ErrNotExist)
	}

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Delete removes an object (idempotent)
func (m *MemoryMedium) Delete(_ context.Context, loc Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, loc)
	return nil
}

// List returns all objects sorted by location
func (m *MemoryMedium) List(_ context.Context) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	objects := make([]ObjectInfo, 0, len(m.data))
	for loc, value := range m.data {
		objects = append(objects, ObjectInfo{Location: loc, Size: int64(len(value))})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Location < objects[j].Location })
	return objects, nil
}

// Len returns the number of objects held
func (m *MemoryMedium) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Type returns "memory".
func (m *MemoryMedium) Type() string { return "memory" }

// Close is a no-op for memory media.
func (m *MemoryMedium) Close() error { return nil }
