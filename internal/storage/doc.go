// Package storage implements depot's node-local file store: a path index that
// maps logical file names to physical locations, and the engine that performs
// create, read and delete operations against a pluggable storage medium.
//
// # Overview
//
// The package is the only part of depot that touches persistent bytes. Callers
// (the dispatcher, batch tools, tests) talk to an Engine; the Engine consults
// the Index for name resolution and delegates byte I/O to a Medium.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│        Dispatcher / callers         │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│               Engine                │
//	│  Store / Retrieve / Delete / Search │
//	└─────────────────────────────────────┘
//	        │                      │
//	        ▼                      ▼
//	┌──────────────┐     ┌────────────────────────┐
//	│    Index     │     │        Medium          │
//	│ name → entry │     │ Disk │ Memory │ S3     │
//	└──────────────┘     └────────────────────────┘
//
// # Locations
//
// Every Store writes a brand new object whose Location is the file name
// followed by a time-ordered UUID:
//
//	report.txt → report.txt.01927f3c-8a1e-7b31-9f0a-2c5d7e8f9a01
//
// Because a write never overwrites the object a reader may currently be
// reading, concurrent stores of the same name cannot interleave bytes. The
// winner is whichever insert reaches the index last; the replaced object is
// removed afterwards. The UUID suffix also lets Reindex rebuild the index from
// the medium after a restart, keeping the newest object per name.
//
// # Ordering rules
//
// Store: write object, then insert into the index. A failed write never
// leaves an index entry behind.
//
// Delete: delete object, then remove the index entry. A crash between the two
// steps leaves an entry pointing at a missing object, which Retrieve reports
// as a medium error and a later Store repairs. The reverse order would leave
// silent orphan files.
//
// Retrieve: resolve under the index lock, read outside it. If the read fails
// because a concurrent Store replaced the object, the lookup is retried.
//
// # Concurrency and Thread Safety
//
// Locking Strategy:
//   - One sync.RWMutex guards the index map
//   - Medium I/O is never performed while the index lock is held
//   - Media are responsible for their own synchronization
//
// # Error Handling
//
// ErrInvalidName: Name is empty, too long, or contains a path separator,
// a NUL byte, or is "." or "..".
//
// ErrNotFound: Name is not in the index.
//
// ErrMedium: The medium failed (disk full, permission denied, short write,
// network error) or the index and the medium disagree.
//
// All three are wrapped in *Error, which carries the operation and name and
// unwraps to both the kind and the underlying cause:
//
//	if errors.Is(err, storage.ErrNotFound) { ... }
//	if errors.Is(err, fs.ErrPermission) { ... }
//
// # Usage Examples
//
//	medium, err := storage.NewDiskMedium(storage.DiskConfig{Root: "/var/lib/depot", CreateDirs: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	engine := storage.NewEngine(medium)
//	if _, err := engine.Reindex(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	_ = engine.Store(ctx, "example.txt", []byte("Hello World!"))
//	data, err := engine.Retrieve(ctx, "example.txt")
//	names := engine.Search(ctx, "examp") // ["example.txt"]
package storage
