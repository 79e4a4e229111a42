/*
Package types defines the core data structures shared by every swiftfleet package.

The types in this package model the storage fleet: the hosts that make it up,
the disks they contribute to the rings, the metadata generations pushed to
them, and the maintenance events raised against them. They carry no behavior
beyond small helpers and are safe to serialize as JSON.

# Core Types

Fleet Topology:
  - StorageNode: Host contributing devices, with zone, status and mode
  - ProxyNode: Host fronting the storage nodes
  - Device: One disk of a storage node as registered in the rings
  - DeviceSpec: Prefix and count describing the disks of every storage node

Metadata Generations:
  - RingVersion: Monotonic version, creation time and content fingerprint
  - PropagationResult: Nodes attempted and nodes that failed, with reasons
  - NodeFailure: Node, failing stage and reason

Maintenance:
  - MaintenanceTask: node_missing or disk_replace event for operator review
  - EventType: Event classification

# Lifecycle

	deploy-proxy / add-storage
	        │
	        ▼
	StorageNode{Status: alive, Mode: service}
	        │  monitoring marks
	        ▼
	StorageNode{Status: dead}        MaintenanceTask{node_missing}
	        │  remove-storage
	        ▼
	StorageNode{Status: removed}     (record kept, devices dropped)

Storage nodes are never deleted from the registry; removal only changes
their status so reports keep their history.
*/
package types
