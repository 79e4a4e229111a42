/*
Package storage provides BoltDB-backed persistence for swiftfleet's fleet
registry and maintenance backlog.

The storage package implements the Store interface using bbolt as the
underlying database. Every record is serialized as JSON into its own bucket:

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: [paths] db (fleet.db)              │          │
	│  │  - Open waits at most 2s for other writers  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  storage_nodes        (node IP)             │          │
	│  │  proxy_nodes          (node IP)             │          │
	│  │  maintenance_backlog  (task ID)             │          │
	│  └────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────────┘

Storage nodes are never deleted. Removing a node from the rings marks its
record removed so operators keep its history.

Lookups of missing keys return an error wrapping ErrNotFound:

	node, err := store.GetStorageNode("10.0.0.5")
	if errors.Is(err, storage.ErrNotFound) {
		// not registered
	}

Updates are upserts. bbolt allows a single writer process at a time; the
fleet lock already serializes mutating commands on a control node.
*/
package storage
