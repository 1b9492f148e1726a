package storage

import (
	"sort"
	"strings"
	"sync"
)

// Index maps logical file names to their current location.
// It holds no bytes, only entries, and is safe for concurrent use.
//
// Concurrency model:
//   - Lookups and listings take the read lock
//   - Insert and RemoveIf take the write lock
//   - Entries are values, so callers never share state with the map
type Index struct {
	// entries maps name to its current entry.
	// Protected by mu.
	entries map[string]FileEntry

	// bytes is the sum of entry sizes, maintained on every mutation.
	bytes int64

	mu sync.RWMutex
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		entries: make(map[string]FileEntry),
	}
}

// Lookup returns the entry for name.
func (x *Index) Lookup(name string) (FileEntry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.entries[name]
	return e, ok
}

// Insert publishes e, replacing any entry with the same name.
// The replaced entry is returned so its object can be reclaimed.
func (x *Index) Insert(e FileEntry) (prev FileEntry, replaced bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	prev, replaced = x.entries[e.Name]
	if replaced {
		x.bytes -= prev.Size
	}
	x.entries[e.Name] = e
	x.bytes += e.Size
	return prev, replaced
}

// RemoveIf removes name only while it still points at loc. It reports
// whether an entry was removed. A concurrent Insert of a newer location
// therefore survives a delete that raced with it.
func (x *Index) RemoveIf(name string, loc Location) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	e, ok := x.entries[name]
	if !ok || e.Location != loc {
		return false
	}
	delete(x.entries, name)
	x.bytes -= e.Size
	return true
}

// Names returns all names in lexicographic order.
func (x *Index) Names() []string {
	return x.Match(func(string) bool { return true })
}

// Match returns the sorted names accepted by keep. The result is never nil.
func (x *Index) Match(keep func(name string) bool) []string {
	x.mu.RLock()
	names := make([]string, 0, len(x.entries))
	for name := range x.entries {
		if keep(name) {
			names = append(names, name)
		}
	}
	x.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Search returns the sorted names containing substr, case-sensitive.
func (x *Index) Search(substr string) []string {
	return x.Match(func(name string) bool { return strings.Contains(name, substr) })
}

// Len returns the number of entries.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Bytes returns the total size of all indexed objects.
func (x *Index) Bytes() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.bytes
}
