/*
Package ring maintains the three partition rings (account, container and
object) of a swiftfleet storage cluster.

Each ring maps 2^partPower partitions onto devices, R times over. The
Manager applies every device change to all three rings, persists them in
the metadata directory and stamps each rebalance with a new generation:

	┌──────────────── METADATA DIR ─────────────────┐
	│                                                │
	│  account.builder    gzip(CBOR Builder)         │
	│  container.builder  gzip(CBOR Builder)         │
	│  object.builder     gzip(CBOR Builder)         │
	│  ring.version       {version, fingerprint}     │
	│                                                │
	└────────────────────────────────────────────────┘

Generations start at unix seconds × 100000 when the rings are created and
grow by one per rebalance, so a later creation always outranks an earlier
one. The fingerprint is a BLAKE3 digest of the device tables and
assignments.

# Placement

Placement is delegated to a Balancer. The ZoneBalancer keeps surviving
assignments, frees slots held by removed or overloaded devices and by
replicas sharing a zone when another zone is free, then fills each slot
preferring, in order: an unused zone, an unused node, the device with
the largest deficit, and finally the lowest device id.

# Failure

A failed step returns a *BuildError naming the stage and ring. Steps
already applied are kept on disk; re-running the operation is the
recovery path.
*/
package ring
