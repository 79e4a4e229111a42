package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/swiftfleet/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "db", "fleet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStorageNodes(t *testing.T) {
	store := newTestStore(t)

	node := &types.StorageNode{
		IP:     "10.0.0.11",
		ZoneID: 2,
		Devices: []*types.Device{
			{Name: "sdb1", NodeIP: "10.0.0.11", ZoneID: 2, MountPoint: "/srv/node/sdb1"},
		},
		Status:    types.NodeStatusAlive,
		Mode:      types.NodeModeService,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateStorageNode(node))

	got, err := store.GetStorageNode("10.0.0.11")
	require.NoError(t, err)
	assert.Equal(t, 2, got.ZoneID)
	require.Len(t, got.Devices, 1)
	assert.Equal(t, "/srv/node/sdb1", got.Devices[0].MountPoint)

	got.Status = types.NodeStatusRemoved
	require.NoError(t, store.UpdateStorageNode(got))

	nodes, err := store.ListStorageNodes()
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, types.NodeStatusRemoved, nodes[0].Status)

	_, err = store.GetStorageNode("10.0.0.99")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProxyNodes(t *testing.T) {
	store := newTestStore(t)

	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		require.NoError(t, store.CreateProxyNode(&types.ProxyNode{IP: ip, CreatedAt: time.Now()}))
	}

	nodes, err := store.ListProxyNodes()
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	got, err := store.GetProxyNode("10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", got.IP)

	_, err = store.GetProxyNode("10.0.0.3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTasks(t *testing.T) {
	store := newTestStore(t)

	task := &types.MaintenanceTask{
		ID:           "task-1",
		EventType:    types.EventDiskReplace,
		Target:       "storage-3",
		ReplaceDisks: []string{"sdc"},
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.PutTask(task))

	got, err := store.GetTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, types.EventDiskReplace, got.EventType)
	assert.Equal(t, []string{"sdc"}, got.ReplaceDisks)
	assert.False(t, got.Resolved)

	tasks, err := store.ListTasks()
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	_, err = store.GetTask("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.db")
	store, err := NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, store.CreateProxyNode(&types.ProxyNode{IP: "10.0.0.1"}))
	require.NoError(t, store.Close())

	store, err = NewBoltStore(path)
	require.NoError(t, err)
	defer store.Close()

	nodes, err := store.ListProxyNodes()
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}
