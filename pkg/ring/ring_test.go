package ring

import (
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPartPower = 8

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(t.TempDir(), nil)
	m.now = func() time.Time { return time.Unix(1700000000, 0) }
	return m
}

type node struct {
	ip   string
	zone int
}

func addNodes(t *testing.T, m *Manager, nodes []node, perNode int) {
	t.Helper()
	for _, n := range nodes {
		for i := 1; i <= perNode; i++ {
			require.NoError(t, m.AddDevice(n.zone, n.ip, fmt.Sprintf("sdb%d", i)))
		}
	}
}

func deviceSet(m *Manager, kind Kind) []string {
	var out []string
	for _, d := range m.Devices(kind) {
		out = append(out, d.IP+"/"+d.Name)
	}
	sort.Strings(out)
	return out
}

// assertPlacement checks that every partition of every ring sits on
// Replicas distinct live devices
func assertPlacement(t *testing.T, m *Manager) {
	t.Helper()
	for _, kind := range Kinds {
		b := m.rings[kind]
		require.Len(t, b.Replica2Part2Dev, b.Replicas)
		for p := 0; p < b.Partitions(); p++ {
			devs := b.PartitionDevices(p)
			require.Len(t, devs, b.Replicas, "%s partition %d", kind, p)
			seen := make(map[uint16]bool)
			for _, d := range devs {
				assert.False(t, seen[d.ID], "%s partition %d has device %d twice", kind, p, d.ID)
				seen[d.ID] = true
			}
		}
	}
}

func TestAddDevice_AppearsOnceInEveryRing(t *testing.T) {
	tests := []struct {
		name     string
		replicas int
		nodes    []node
		perNode  int
	}{
		{"single replica", 1, []node{{"10.0.0.1", 1}}, 1},
		{"two nodes", 2, []node{{"10.0.0.1", 1}, {"10.0.0.2", 2}}, 2},
		{"three zones", 3, []node{{"10.0.0.1", 1}, {"10.0.0.2", 2}, {"10.0.0.3", 3}}, 3},
		{"one zone", 3, []node{{"10.0.0.1", 1}, {"10.0.0.2", 1}}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t)
			require.NoError(t, m.Create(tt.replicas, testPartPower))
			addNodes(t, m, tt.nodes, tt.perNode)

			_, err := m.Rebalance()
			require.NoError(t, err)

			want := len(tt.nodes) * tt.perNode
			for _, kind := range Kinds {
				set := deviceSet(m, kind)
				assert.Len(t, set, want, "ring %s", kind)
				counts := make(map[string]int)
				for _, d := range set {
					counts[d]++
				}
				for d, c := range counts {
					assert.Equal(t, 1, c, "device %s in %s ring", d, kind)
				}
			}
			assertPlacement(t, m)
		})
	}
}

func TestRebalance_SpreadsAcrossZones(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Create(3, testPartPower))
	addNodes(t, m, []node{{"10.0.0.1", 1}, {"10.0.0.2", 2}, {"10.0.0.3", 3}}, 2)

	_, err := m.Rebalance()
	require.NoError(t, err)

	for _, kind := range Kinds {
		for p := 0; p < m.rings[kind].Partitions(); p++ {
			zones := make(map[int]bool)
			for _, d := range m.Lookup(kind, p) {
				zones[d.Zone] = true
			}
			assert.Len(t, zones, 3, "%s partition %d", kind, p)
		}
	}

	// Equal zones get an equal share
	for _, rs := range m.Summary().Rings {
		total := 0
		for _, load := range rs.Load {
			assert.Greater(t, load, 0)
			total += load
		}
		assert.Equal(t, rs.Partitions*rs.Replicas, total)
	}
}

func TestRebalance_VersionStrictlyIncreases(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Create(2, testPartPower))
	addNodes(t, m, []node{{"10.0.0.1", 1}, {"10.0.0.2", 2}}, 1)

	v1, err := m.Rebalance()
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000)*versionBaseScale+1, v1.Version)
	assert.NotEmpty(t, v1.Fingerprint)

	v2, err := m.Rebalance()
	require.NoError(t, err)
	assert.True(t, v2.Newer(v1))

	// Recreating with the same clock still moves forward
	require.NoError(t, m.Create(2, testPartPower))
	addNodes(t, m, []node{{"10.0.0.1", 1}, {"10.0.0.2", 2}}, 1)
	v3, err := m.Rebalance()
	require.NoError(t, err)
	assert.True(t, v3.Newer(v2))

	onDisk, err := ReadVersion(m.Dir())
	require.NoError(t, err)
	assert.Equal(t, v3.Version, onDisk.Version)
	assert.Equal(t, v3.Fingerprint, onDisk.Fingerprint)
}

func TestRemoveDevice(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Create(2, testPartPower))
	addNodes(t, m, []node{{"10.0.0.1", 1}, {"10.0.0.2", 2}, {"10.0.0.3", 3}}, 2)
	_, err := m.Rebalance()
	require.NoError(t, err)

	removed, err := m.RemoveDevice("10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.False(t, m.HasNode("10.0.0.2"))

	_, err = m.Rebalance()
	require.NoError(t, err)
	assertPlacement(t, m)
	for _, kind := range Kinds {
		for p := 0; p < m.rings[kind].Partitions(); p++ {
			for _, d := range m.Lookup(kind, p) {
				assert.NotEqual(t, "10.0.0.2", d.IP)
			}
		}
	}

	removed, err = m.RemoveDevice("10.0.0.9")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestRemoveThenAdd_ReproducesDeviceSet(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Create(3, testPartPower))
	nodes := []node{{"10.0.0.1", 1}, {"10.0.0.2", 2}, {"10.0.0.3", 3}}
	addNodes(t, m, nodes, 2)
	_, err := m.Rebalance()
	require.NoError(t, err)
	before := deviceSet(m, Object)

	_, err = m.RemoveDevice("10.0.0.3")
	require.NoError(t, err)
	_, err = m.Rebalance()
	require.NoError(t, err)

	addNodes(t, m, nodes[2:], 2)
	_, err = m.Rebalance()
	require.NoError(t, err)

	for _, kind := range Kinds {
		assert.Equal(t, before, deviceSet(m, kind))
	}
	zone, ok := m.ZoneOf("10.0.0.3")
	assert.True(t, ok)
	assert.Equal(t, 3, zone)
	assertPlacement(t, m)
}

func TestRebalance_AddingNodeMovesAMinority(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Create(3, testPartPower))
	addNodes(t, m, []node{{"10.0.0.1", 1}, {"10.0.0.2", 2}}, 2)
	_, err := m.Rebalance()
	require.NoError(t, err)

	before := snapshot(m.rings[Object].Replica2Part2Dev)
	addNodes(t, m, []node{{"10.0.0.3", 3}}, 2)
	_, err = m.Rebalance()
	require.NoError(t, err)

	total := m.rings[Object].Partitions() * 3
	assert.Less(t, moved(before, m.rings[Object].Replica2Part2Dev), total/2)
}

func TestRebalance_Errors(t *testing.T) {
	t.Run("not created", func(t *testing.T) {
		m := newTestManager(t)
		_, err := m.Rebalance()
		assert.ErrorIs(t, err, ErrNotCreated)
	})

	t.Run("fewer devices than replicas", func(t *testing.T) {
		m := newTestManager(t)
		require.NoError(t, m.Create(3, testPartPower))
		addNodes(t, m, []node{{"10.0.0.1", 1}}, 2)

		_, err := m.Rebalance()
		var be *BuildError
		require.True(t, errors.As(err, &be))
		assert.Equal(t, StageRebalance, be.Stage)
		assert.Equal(t, Account, be.Ring)
		assert.ErrorIs(t, err, ErrTooFewDevices)
	})

	t.Run("no devices", func(t *testing.T) {
		m := newTestManager(t)
		require.NoError(t, m.Create(1, testPartPower))
		_, err := m.Rebalance()
		assert.ErrorIs(t, err, ErrNoDevices)
	})

	t.Run("duplicate device", func(t *testing.T) {
		m := newTestManager(t)
		require.NoError(t, m.Create(1, testPartPower))
		require.NoError(t, m.AddDevice(1, "10.0.0.1", "sdb1"))

		err := m.AddDevice(1, "10.0.0.1", "sdb1")
		var be *BuildError
		require.True(t, errors.As(err, &be))
		assert.Equal(t, StageAdd, be.Stage)
	})

	t.Run("invalid create", func(t *testing.T) {
		m := newTestManager(t)
		assert.Error(t, m.Create(0, testPartPower))
		assert.Error(t, m.Create(3, 0))
	})
}

func TestManager_LoadRoundTrip(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Create(2, testPartPower))
	addNodes(t, m, []node{{"10.0.0.1", 1}, {"10.0.0.2", 2}}, 2)
	v, err := m.Rebalance()
	require.NoError(t, err)

	loaded := NewManager(m.Dir(), nil)
	require.NoError(t, loaded.Load())
	assert.Equal(t, v.Version, loaded.Version().Version)
	assert.Equal(t, v.Fingerprint, loaded.Fingerprint())
	assert.Equal(t, m.NodeIPs(), loaded.NodeIPs())
	assert.Equal(t, m.rings[Container].Replica2Part2Dev, loaded.rings[Container].Replica2Part2Dev)

	empty := NewManager(t.TempDir(), nil)
	assert.ErrorIs(t, empty.Load(), ErrNotCreated)
}
