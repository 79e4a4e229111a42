/*
Package metrics defines the Prometheus metrics of swiftfleet.

All metrics are registered with the default registry at package init.
swiftfleet runs as a short-lived command rather than a daemon, so nothing
is scraped over HTTP: after each operation the CLI writes the registry to
a textfile that node_exporter's textfile collector picks up.

	┌──────────────────── METRICS FLOW ───────────────────────┐
	│                                                           │
	│  ring.Manager ──────► ring version, devices, rebalances  │
	│  propagate ─────────► attempts, failures by stage        │
	│  remote ────────────► commands by program and outcome    │
	│  deploy ────────────► operations, durations, conflicts   │
	│  disk / backlog ────► disk inits, backlog tasks          │
	│  Collector ─────────► nodes by role and status           │
	│                         │                                 │
	│                         ▼                                 │
	│              WriteTextfile(<report dir>/swiftfleet.prom)  │
	└───────────────────────────────────────────────────────────┘

# Metric Categories

Fleet:
  - swiftfleet_nodes_total{role, status}: registered nodes

Ring:
  - swiftfleet_ring_version: current metadata generation
  - swiftfleet_ring_devices{ring}: devices per ring
  - swiftfleet_rebalances_total and swiftfleet_rebalance_duration_seconds
  - swiftfleet_partitions_moved_total{ring}: replica slots reassigned

Propagation:
  - swiftfleet_propagation_attempts_total
  - swiftfleet_propagation_failures_total{stage}
  - swiftfleet_propagation_node_duration_seconds
  - swiftfleet_remote_commands_total{program, outcome}

Operations:
  - swiftfleet_operations_total{operation, outcome}: outcome is success,
    partial, error or conflict
  - swiftfleet_operation_duration_seconds{operation}
  - swiftfleet_lock_conflicts_total

Storage nodes:
  - swiftfleet_disk_init_total{path}: remount or recreate runs
  - swiftfleet_backlog_tasks{event_type, resolved}

# Timing

Timer measures an operation and observes it into a histogram:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RebalanceDuration)
*/
package metrics
