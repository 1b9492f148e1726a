package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dreamware/depot/internal/logging"
	"github.com/dreamware/depot/internal/metrics"
)

// retrieveAttempts bounds how often Retrieve follows a name that a
// concurrent Store keeps moving.
const retrieveAttempts = 3

// Stats contains statistics about the engine
type Stats struct {
	Files int            `json:"files"` // Number of indexed names
	Bytes int64          `json:"bytes"` // Total size of indexed objects
	Ops   OperationStats `json:"operations"`
}

// OperationStats tracks operation counts
type OperationStats struct {
	Stores    uint64 `json:"stores"`    // Number of store operations
	Retrieves uint64 `json:"retrieves"` // Number of retrieve operations
	Deletes   uint64 `json:"deletes"`   // Number of delete operations
}

// Engine performs file operations against a Medium, keeping the Index
// consistent with it. See the package documentation for ordering rules.
type Engine struct {
	index  *Index
	medium Medium
	ops    OperationStats // updated atomically
}

// NewEngine creates an engine with an empty index over medium.
// Call Reindex to pick up objects already on the medium.
func NewEngine(medium Medium) *Engine {
	return &Engine{
		index:  NewIndex(),
		medium: medium,
	}
}

// Medium returns the underlying medium.
func (e *Engine) Medium() Medium { return e.medium }

// Store writes data under name, replacing any previous content.
//
// The object is written to a fresh location first; the index is only
// updated after the medium confirms the write, so a failed or partial
// write never becomes visible. Concurrent stores to the same name race
// and the last one to reach the index wins.
func (e *Engine) Store(ctx context.Context, name string, data []byte) error {
	atomic.AddUint64(&e.ops.Stores, 1)

	if err := ValidateName(name); err != nil {
		return invalidName("store", name, err)
	}

	loc := newLocation(name)
	if err := e.medium.Put(ctx, loc, data); err != nil {
		return mediumError("store", name, err)
	}

	prev, replaced := e.index.Insert(FileEntry{Name: name, Location: loc, Size: int64(len(data))})
	metrics.SetStoredFiles(e.index.Len())

	if replaced && prev.Location != loc {
		if err := e.medium.Delete(ctx, prev.Location); err != nil {
			logging.Warn("failed to reclaim replaced object",
				zap.String("name", name),
				zap.String("location", string(prev.Location)),
				zap.Error(err))
		}
	}
	return nil
}

// Retrieve returns the content stored under name.
//
// ErrNotFound means the name is not indexed. ErrMedium means the index has
// an entry but its object cannot be read in full, which is an index/medium
// divergence and is logged at error level.
func (e *Engine) Retrieve(ctx context.Context, name string) ([]byte, error) {
	atomic.AddUint64(&e.ops.Retrieves, 1)

	var lastErr error
	for attempt := 0; attempt < retrieveAttempts; attempt++ {
		entry, ok := e.index.Lookup(name)
		if !ok {
			return nil, notFound("retrieve", name)
		}

		data, err := e.medium.Get(ctx, entry.Location)
		if err == nil && int64(len(data)) != entry.Size {
			err = fmt.Errorf("read %d of %d bytes: %w", len(data), entry.Size, io.ErrUnexpectedEOF)
		}
		if err == nil {
			return data, nil
		}
		lastErr = err

		// A concurrent Store or Delete may have moved the name on.
		current, ok := e.index.Lookup(name)
		if !ok {
			return nil, notFound("retrieve", name)
		}
		if current.Location == entry.Location {
			break
		}
	}

	if ctx.Err() == nil {
		logging.Error("index and medium diverged",
			zap.String("name", name),
			zap.String("medium", e.medium.Type()),
			zap.Error(lastErr))
	}
	return nil, mediumError("retrieve", name, lastErr)
}

// Delete removes name. The object is deleted from the medium before the
// index entry is removed; if the medium refuses, the entry stays.
func (e *Engine) Delete(ctx context.Context, name string) error {
	atomic.AddUint64(&e.ops.Deletes, 1)

	entry, ok := e.index.Lookup(name)
	if !ok {
		return notFound("delete", name)
	}

	if err := e.medium.Delete(ctx, entry.Location); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return mediumError("delete", name, err)
	}

	if !e.index.RemoveIf(name, entry.Location) {
		// Another delete won, or a newer store replaced the entry. The
		// latter is a store that completed after this delete.
		if _, ok := e.index.Lookup(name); !ok {
			return notFound("delete", name)
		}
	}
	metrics.SetStoredFiles(e.index.Len())
	return nil
}

// List returns every stored name in lexicographic order.
func (e *Engine) List(_ context.Context) []string {
	return e.index.Names()
}

// Search returns the stored names containing substr, case-sensitive, in
// lexicographic order. No match yields an empty slice.
func (e *Engine) Search(_ context.Context, substr string) []string {
	return e.index.Search(substr)
}

// Stats returns current engine statistics
func (e *Engine) Stats() Stats {
	return Stats{
		Files: e.index.Len(),
		Bytes: e.index.Bytes(),
		Ops: OperationStats{
			Stores:    atomic.LoadUint64(&e.ops.Stores),
			Retrieves: atomic.LoadUint64(&e.ops.Retrieves),
			Deletes:   atomic.LoadUint64(&e.ops.Deletes),
		},
	}
}

// Reindex rebuilds the index from the objects on the medium. For each
// name the newest object wins and older ones are deleted. Objects that do
// not carry a location suffix are left alone. It returns the number of
// names indexed and is meant to run once at startup.
func (e *Engine) Reindex(ctx context.Context) (int, error) {
	objects, err := e.medium.List(ctx)
	if err != nil {
		return 0, mediumError("reindex", "", err)
	}

	newest := make(map[string]ObjectInfo)
	var stale []Location
	for _, obj := range objects {
		name, ok := obj.Location.Name()
		if !ok {
			continue
		}
		cur, seen := newest[name]
		switch {
		case !seen:
			newest[name] = obj
		case cur.Location < obj.Location:
			stale = append(stale, cur.Location)
			newest[name] = obj
		default:
			stale = append(stale, obj.Location)
		}
	}

	for name, obj := range newest {
		if cur, ok := e.index.Lookup(name); ok && cur.Location >= obj.Location {
			continue
		}
		prev, replaced := e.index.Insert(FileEntry{Name: name, Location: obj.Location, Size: obj.Size})
		if replaced && prev.Location != obj.Location {
			stale = append(stale, prev.Location)
		}
	}

	for _, loc := range stale {
		if err := e.medium.Delete(ctx, loc); err != nil {
			logging.Warn("failed to remove stale object", zap.String("location", string(loc)), zap.Error(err))
		}
	}

	metrics.SetStoredFiles(e.index.Len())
	logging.Info("index rebuilt",
		zap.String("medium", e.medium.Type()),
		zap.Int("files", len(newest)),
		zap.Int("stale", len(stale)))
	return len(newest), nil
}
