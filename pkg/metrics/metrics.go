package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Fleet metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swiftfleet_nodes_total",
			Help: "Total number of fleet nodes by role and status",
		},
		[]string{"role", "status"},
	)

	// Ring metrics
	RingVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swiftfleet_ring_version",
			Help: "Current metadata generation of the rings",
		},
	)

	RingDevices = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swiftfleet_ring_devices",
			Help: "Number of devices in each ring",
		},
		[]string{"ring"},
	)

	RebalancesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swiftfleet_rebalances_total",
			Help: "Total number of ring rebalances",
		},
	)

	RebalanceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swiftfleet_rebalance_duration_seconds",
			Help:    "Time taken to rebalance all rings in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PartitionsMoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swiftfleet_partitions_moved_total",
			Help: "Replica slots reassigned by rebalances, by ring",
		},
		[]string{"ring"},
	)

	// Propagation metrics
	PropagationAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swiftfleet_propagation_attempts_total",
			Help: "Total number of nodes metadata was pushed to",
		},
	)

	PropagationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swiftfleet_propagation_failures_total",
			Help: "Total number of nodes that failed propagation, by stage",
		},
		[]string{"stage"},
	)

	PropagationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swiftfleet_propagation_node_duration_seconds",
			Help:    "Time taken to push metadata to one node in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 360},
		},
	)

	RemoteCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swiftfleet_remote_commands_total",
			Help: "Total number of remote commands by program and outcome",
		},
		[]string{"program", "outcome"},
	)

	// Operation metrics
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swiftfleet_operations_total",
			Help: "Total number of lifecycle operations by name and outcome",
		},
		[]string{"operation", "outcome"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swiftfleet_operation_duration_seconds",
			Help:    "Lifecycle operation duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"operation"},
	)

	LockConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swiftfleet_lock_conflicts_total",
			Help: "Total number of operations refused because the lock was held",
		},
	)

	// Disk metrics
	DiskInitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swiftfleet_disk_init_total",
			Help: "Disk initializations by path taken (remount or recreate)",
		},
		[]string{"path"},
	)

	// Backlog metrics
	BacklogTasks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swiftfleet_backlog_tasks",
			Help: "Maintenance backlog tasks by event type and resolution",
		},
		[]string{"event_type", "resolved"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(RingVersion)
	prometheus.MustRegister(RingDevices)
	prometheus.MustRegister(RebalancesTotal)
	prometheus.MustRegister(RebalanceDuration)
	prometheus.MustRegister(PartitionsMoved)
	prometheus.MustRegister(PropagationAttempts)
	prometheus.MustRegister(PropagationFailures)
	prometheus.MustRegister(PropagationDuration)
	prometheus.MustRegister(RemoteCommandsTotal)
	prometheus.MustRegister(OperationsTotal)
	prometheus.MustRegister(OperationDuration)
	prometheus.MustRegister(LockConflicts)
	prometheus.MustRegister(DiskInitTotal)
	prometheus.MustRegister(BacklogTasks)
}

// WriteTextfile writes every registered metric to path in the text
// exposition format, for node_exporter's textfile collector
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
