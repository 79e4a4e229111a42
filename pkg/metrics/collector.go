package metrics

import (
	"github.com/cuemby/swiftfleet/pkg/types"
)

// FleetSource is the part of the fleet registry the collector reads
type FleetSource interface {
	ListStorageNodes() ([]*types.StorageNode, error)
	ListProxyNodes() ([]*types.ProxyNode, error)
}

// Collector derives fleet gauges from the registry. swiftfleet is a
// short-lived command, so it collects once before writing a report.
type Collector struct {
	fleet FleetSource
}

// NewCollector creates a new metrics collector
func NewCollector(fleet FleetSource) *Collector {
	return &Collector{fleet: fleet}
}

// Collect refreshes every gauge derived from the registry
func (c *Collector) Collect() {
	if c.fleet == nil {
		return
	}
	c.collectNodeMetrics()
}

func (c *Collector) collectNodeMetrics() {
	storage, err := c.fleet.ListStorageNodes()
	if err != nil {
		return
	}
	proxies, err := c.fleet.ListProxyNodes()
	if err != nil {
		return
	}

	NodesTotal.Reset()
	nodeCounts := map[string]map[string]int{
		"storage": {},
		"proxy":   {string(types.NodeStatusAlive): len(proxies)},
	}
	for _, node := range storage {
		nodeCounts["storage"][string(node.Status)]++
	}

	for role, statuses := range nodeCounts {
		for status, count := range statuses {
			NodesTotal.WithLabelValues(role, status).Set(float64(count))
		}
	}
}
