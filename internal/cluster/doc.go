// Package cluster tracks which peer nodes exist and whether they are alive.
//
// # Overview
//
// Membership is deliberately independent of file storage. The Registry is
// a single table from node id to status with its own lock; nothing in it
// refers to stored files, and the storage index never refers to nodes.
//
// # Core Components
//
// Registry: the membership table
//   - Join and JoinAt create or overwrite an entry and bump the update marker
//   - SetStatus changes an existing entry and never creates one
//   - Leave removes an entry and is a no-op for unknown ids
//   - Snapshot and Entries return copies taken under the lock
//
// Monitor: periodic liveness checks
//   - Checks GET /health on every peer with an address
//   - Marks a peer Inactive after three consecutive failures
//   - Marks it Active again after one success
//
// # Status Lifecycle
//
//	Join ──► Unknown/Active ──(3 failed checks)──► Inactive
//	                ▲                                  │
//	                └──────────(check succeeds)────────┘
//	Leave removes the entry from any state.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Mutations are
// serialized by one write lock, so concurrent Join, Leave and SetStatus
// calls observe a single total order and the Version counter reflects it.
//
// # Usage Example
//
//	registry := cluster.NewRegistry()
//	_ = registry.JoinAt("node-1", "10.0.0.1:8081", cluster.Active)
//
//	monitor := cluster.NewMonitor(registry, "node-1", 5*time.Second)
//	go monitor.Start(ctx)
//	defer monitor.Stop()
//
//	for id, status := range registry.Snapshot() {
//	    log.Printf("%s is %s", id, status)
//	}
package cluster
