/*
Package deploy implements the swift node lifecycle operations run by
swiftfleet: deploy-proxy, add-storage, remove-storage, spread and, on the
storage nodes themselves, deploy-storage.

# Architecture

An Orchestrator composes the ring manager, the metadata propagator and the
disk versioning of the local node. Every mutating operation runs under the
fleet lock, so two operators on the same control node cannot interleave
ring changes:

	┌───────────────────── ORCHESTRATOR ──────────────────────┐
	│                                                          │
	│   lock.Run ──► ring.Manager ──► propagate.Spread ──┐    │
	│   (conflict      Create/Load      tar over ssh     │    │
	│    = abort)      Add/Remove       verify, chown    │    │
	│                  Rebalance x1                      ▼    │
	│                                          bootstrap (ssh)│
	│                                     swiftfleet          │
	│                                     deploy-storage      │
	│                                          │              │
	│                                          ▼              │
	│                                   disk.Versioning       │
	│                                   remount | recreate    │
	└──────────────────────────────────────────────────────────┘

# Generations

Every ring change ends with exactly one rebalance, producing a new metadata
generation in the metadata directory: the three builder files, ring.version
and fleet.json. The generation is then pushed to every proxy and storage
node. A node that fails at any propagation stage is reported in
Report.Result.Failed and the operation continues with the other nodes.

Partial propagation is not an error. Callers retry the failed subset with
Spread, which pushes the current generation again without rebuilding it:

	report, err := orch.AddStorage(ctx, []deploy.StorageSpec{{IP: "10.0.0.13", Zone: 3}}, spec)
	if err != nil {
		return err // nothing was propagated
	}
	if failed := report.FailedNodes(); len(failed) > 0 {
		_, err = orch.Spread(ctx, failed)
	}

# Errors

Input errors wrap ErrUsage and are returned before anything is written. A lock held by another operation returns an error
wrapping lock.ErrConflict. Ring build failures return a *ring.BuildError.

The fleet registry (storage.Store) is advisory: failing to update it is
logged and never aborts an operation.
*/
package deploy
