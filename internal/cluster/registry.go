package cluster

import (
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/depot/internal/metrics"
)

// ErrEmptyNodeID is returned when a node joins without an identifier.
var ErrEmptyNodeID = errors.New("node id is empty")

// NodeEntry is the registry record for one node.
type NodeEntry struct {
	UpdatedAt time.Time `json:"updated_at"`
	ID        string    `json:"id"`
	Addr      string    `json:"addr,omitempty"`
	Status    Status    `json:"status"`
	// Version is the registry-wide update counter at the time of the last
	// change. It orders changes for diagnostics only.
	Version uint64 `json:"version"`
}

// Registry tracks cluster members and their status.
// It is independent of file storage and holds its own lock.
//
// Concurrency model:
//   - Every mutation takes the write lock, so mutations are totally ordered
//   - Reads take the read lock and return copies, never live entries
//   - Entries are only created by Join or JoinAt
type Registry struct {
	nodes   map[string]NodeEntry
	version uint64
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		nodes: make(map[string]NodeEntry),
	}
}

// Join adds id with status, or overwrites the status of an existing entry.
// A re-join keeps the known address.
func (r *Registry) Join(id string, status Status) error {
	return r.join(id, "", false, status)
}

// JoinAt is Join that also records the node's address.
//
// Parameters:
//   - id: Unique node identifier (must be non-empty)
//   - addr: Address the node serves its gateway on, may be empty
//   - status: Initial or updated status
//
// Returns:
//   - error: ErrEmptyNodeID if id is blank
func (r *Registry) JoinAt(id, addr string, status Status) error {
	return r.join(id, addr, true, status)
}

func (r *Registry) join(id, addr string, setAddr bool, status Status) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyNodeID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.nodes[id]
	entry.ID = id
	if setAddr {
		entry.Addr = addr
	}
	entry.Status = status
	r.touch(&entry)
	r.nodes[id] = entry
	r.publish()
	return nil
}

// SetStatus updates the status of an existing node. It reports false and
// changes nothing when id is not registered.
func (r *Registry) SetStatus(id string, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.nodes[id]
	if !ok {
		return false
	}
	if entry.Status == status {
		return true
	}
	entry.Status = status
	r.touch(&entry)
	r.nodes[id] = entry
	r.publish()
	return true
}

// Leave removes id. Removing an unknown id is a no-op.
func (r *Registry) Leave(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[id]; !ok {
		return
	}
	delete(r.nodes, id)
	r.version++
	r.publish()
}

// StatusOf returns the status of id, if registered.
func (r *Registry) StatusOf(id string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.nodes[id]
	return e.Status, ok
}

// Get returns a copy of the entry for id.
func (r *Registry) Get(id string) (NodeEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.nodes[id]
	return e, ok
}

// Snapshot returns a point-in-time copy of every node's status.
func (r *Registry) Snapshot() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := make(map[string]Status, len(r.nodes))
	for id, e := range r.nodes {
		snap[id] = e.Status
	}
	return snap
}

// Entries returns copies of all entries sorted by id.
func (r *Registry) Entries() []NodeEntry {
	r.mu.RLock()
	entries := make([]NodeEntry, 0, len(r.nodes))
	for _, e := range r.nodes {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	slices.SortFunc(entries, func(a, b NodeEntry) int { return strings.Compare(a.ID, b.ID) })
	return entries
}

// Len returns the number of registered nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Version returns the current update counter.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// touch bumps the update marker. Caller holds the write lock.
func (r *Registry) touch(e *NodeEntry) {
	r.version++
	e.Version = r.version
	e.UpdatedAt = time.Now()
}

// publish refreshes the membership gauges. Caller holds the write lock.
func (r *Registry) publish() {
	counts := map[Status]int{Unknown: 0, Active: 0, Inactive: 0}
	for _, e := range r.nodes {
		counts[e.Status]++
	}
	for s, n := range counts {
		metrics.SetClusterMembers(s.String(), n)
	}
}
