package metrics

import (
	"errors"
	"testing"

	"github.com/cuemby/swiftfleet/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeFleet struct {
	storage []*types.StorageNode
	proxies []*types.ProxyNode
	err     error
}

func (f *fakeFleet) ListStorageNodes() ([]*types.StorageNode, error) { return f.storage, f.err }

func (f *fakeFleet) ListProxyNodes() ([]*types.ProxyNode, error) { return f.proxies, f.err }

func TestCollector(t *testing.T) {
	fleet := &fakeFleet{
		storage: []*types.StorageNode{
			{IP: "10.0.0.11", Status: types.NodeStatusAlive},
			{IP: "10.0.0.12", Status: types.NodeStatusAlive},
			{IP: "10.0.0.13", Status: types.NodeStatusRemoved},
		},
		proxies: []*types.ProxyNode{{IP: "10.0.0.1"}},
	}

	NewCollector(fleet).Collect()

	assert.Equal(t, 2.0, testutil.ToFloat64(NodesTotal.WithLabelValues("storage", "alive")))
	assert.Equal(t, 1.0, testutil.ToFloat64(NodesTotal.WithLabelValues("storage", "removed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(NodesTotal.WithLabelValues("proxy", "alive")))
}

func TestCollectorKeepsGaugesOnError(t *testing.T) {
	NewCollector(&fakeFleet{proxies: []*types.ProxyNode{{IP: "10.0.0.1"}, {IP: "10.0.0.2"}}}).Collect()
	NewCollector(&fakeFleet{err: errors.New("database locked")}).Collect()
	NewCollector(nil).Collect()

	assert.Equal(t, 2.0, testutil.ToFloat64(NodesTotal.WithLabelValues("proxy", "alive")))
}
