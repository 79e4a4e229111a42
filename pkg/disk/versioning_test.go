package disk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHost keeps disks, stamps and mounts in memory
type fakeHost struct {
	hostname  string
	disks     []string
	stamps    map[string]Stamp
	mounts    map[string]string // mountpoint -> disk
	formatted []string
	failMount map[string]bool
}

func newFakeHost(disks ...string) *fakeHost {
	return &fakeHost{
		hostname:  "storage-1",
		disks:     disks,
		stamps:    make(map[string]Stamp),
		mounts:    make(map[string]string),
		failMount: make(map[string]bool),
	}
}

func (h *fakeHost) stamp(disk string, version int64, num int) {
	h.stamps[disk] = Stamp{Version: version, Hostname: h.hostname, DevicePrx: "sdb", DeviceNum: num, DeviceCnt: 3}
}

func (h *fakeHost) Hostname() string { return h.hostname }

func (h *fakeHost) ListDisks(context.Context) ([]string, error) {
	return append([]string(nil), h.disks...), nil
}

func (h *fakeHost) Format(_ context.Context, disk string) error {
	delete(h.stamps, disk)
	h.formatted = append(h.formatted, disk)
	return nil
}

func (h *fakeHost) Mount(_ context.Context, disk, mountpoint string) error {
	if h.failMount[disk] {
		return errors.New("wrong fs type")
	}
	h.mounts[mountpoint] = disk
	return nil
}

func (h *fakeHost) LazyUnmount(_ context.Context, mountpoint string) error {
	delete(h.mounts, mountpoint)
	return nil
}

func (h *fakeHost) ReadStamp(_ context.Context, disk string) (Stamp, error) {
	s, ok := h.stamps[disk]
	if !ok {
		return Stamp{}, ErrNoStamp
	}
	return s, nil
}

func (h *fakeHost) WriteStamp(_ context.Context, disk string, s Stamp) error {
	h.stamps[disk] = s
	return nil
}

func (h *fakeHost) ClearStamp(_ context.Context, disk string) error {
	delete(h.stamps, disk)
	return nil
}

func (h *fakeHost) mountPoints() []string {
	var out []string
	for mp := range h.mounts {
		out = append(out, mp)
	}
	sort.Strings(out)
	return out
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name      string
		versions  []int64 // one per disk, 0 = unstamped
		target    int64
		deviceCnt int
		want      Action
		latest    int64
	}{
		{"uniform stamps", []int64{3, 3, 3}, 3, 3, ActionRemount, 3},
		{"uniform and newer than target", []int64{4, 4, 4}, 3, 3, ActionRemount, 4},
		{"mixed stamps", []int64{3, 2, 3}, 3, 3, ActionRecreate, 3},
		{"stale stamps", []int64{2, 2, 2}, 3, 3, ActionRecreate, 2},
		{"no stamps", []int64{0, 0, 0}, 3, 3, ActionRecreate, 0},
		{"lost device", []int64{3, 3, 0}, 3, 3, ActionRemount, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newFakeHost("/dev/sdb", "/dev/sdc", "/dev/sdd")
			for i, v := range tt.versions {
				if v > 0 {
					host.stamp(host.disks[i], v, i+1)
				}
			}
			d, err := NewVersioning(host, "/srv/node").Decide(context.Background(), tt.target, tt.deviceCnt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Action, d.Reason)
			assert.Equal(t, tt.latest, d.Latest.Version)
		})
	}
}

func TestGetLatestMetadata(t *testing.T) {
	host := newFakeHost("/dev/sdb", "/dev/sdc", "/dev/sdd", "/dev/sde")
	host.stamp("/dev/sdb", 3, 1)
	host.stamp("/dev/sdc", 2, 2)
	host.stamp("/dev/sdd", 3, 3)
	host.stamps["/dev/sde"] = Stamp{Version: 9, Hostname: "other", DevicePrx: "sdb", DeviceNum: 1}

	latest, err := NewVersioning(host, "/srv/node").GetLatestMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest.Version)
	assert.Equal(t, []string{"/dev/sdb", "/dev/sdd"}, latest.Disks)
	assert.True(t, latest.Mixed)
	assert.Equal(t, []string{"/dev/sde"}, latest.Foreign)
	assert.Equal(t, []int{1, 3}, latest.Devices())
}

func TestRemountDisks(t *testing.T) {
	host := newFakeHost("/dev/sdb", "/dev/sdc", "/dev/sdd")
	for i, d := range host.disks {
		host.stamp(d, 3, i+1)
	}
	v := NewVersioning(host, "/srv/node")

	d, err := v.Decide(context.Background(), 3, 3)
	require.NoError(t, err)
	require.Equal(t, ActionRemount, d.Action)

	mounted, err := v.RemountDisks(context.Background(), d.Latest)
	require.NoError(t, err)
	assert.Equal(t, []string{"sdb1", "sdb2", "sdb3"}, mounted)
	assert.Equal(t, []string{"/srv/node/sdb1", "/srv/node/sdb2", "/srv/node/sdb3"}, host.mountPoints())
	assert.Empty(t, host.formatted)
}

func TestRemountDisks_RebuildsLostDevice(t *testing.T) {
	host := newFakeHost("/dev/sdb", "/dev/sdc", "/dev/sdd")
	host.stamp("/dev/sdb", 3, 1)
	host.stamp("/dev/sdc", 3, 2)
	host.stamps["/dev/sdb"] = withFingerprint(host.stamps["/dev/sdb"], "abc")
	v := NewVersioning(host, "/srv/node")

	d, err := v.Decide(context.Background(), 3, 3)
	require.NoError(t, err)
	require.Equal(t, ActionRemount, d.Action)
	assert.Equal(t, []int{3}, d.Latest.Missing(3))

	mounted, err := v.RemountDisks(context.Background(), d.Latest)
	require.NoError(t, err)
	assert.Equal(t, []string{"sdb1", "sdb2", "sdb3"}, mounted)

	// Healthy disks keep their data, only the spare is formatted
	assert.Equal(t, []string{"/dev/sdd"}, host.formatted)
	assert.Equal(t, "/dev/sdb", host.mounts["/srv/node/sdb1"])
	assert.Equal(t, "/dev/sdc", host.mounts["/srv/node/sdb2"])
	assert.Equal(t, "/dev/sdd", host.mounts["/srv/node/sdb3"])

	s := host.stamps["/dev/sdd"]
	assert.Equal(t, int64(3), s.Version)
	assert.Equal(t, "abc", s.Fingerprint)
	assert.Equal(t, "storage-1", s.Hostname)
	assert.Equal(t, 3, s.DeviceNum)
	assert.Equal(t, 3, s.DeviceCnt)
}

func TestRemountDisks_NoSpare(t *testing.T) {
	host := newFakeHost("/dev/sdb", "/dev/sdc")
	host.stamp("/dev/sdb", 3, 1)
	host.stamp("/dev/sdc", 3, 2)
	host.failMount["/dev/sdc"] = true
	v := NewVersioning(host, "/srv/node")

	d, err := v.Decide(context.Background(), 3, 3)
	require.NoError(t, err)
	require.Equal(t, ActionRemount, d.Action)

	mounted, err := v.RemountDisks(context.Background(), d.Latest)
	assert.ErrorIs(t, err, ErrNotEnoughDisks)
	assert.Equal(t, []string{"sdb1"}, mounted)
}

func withFingerprint(s Stamp, fp string) Stamp {
	s.Fingerprint = fp
	return s
}

func TestCreateSwiftDevices(t *testing.T) {
	host := newFakeHost("/dev/sdb", "/dev/sdc", "/dev/sdd")
	host.stamp("/dev/sdb", 2, 1)
	v := NewVersioning(host, "/srv/node")

	created, err := v.CreateSwiftDevices(context.Background(), 2, "sdb", Stamp{Version: 5, Fingerprint: "abc"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sdb1", "sdb2"}, created)
	assert.Equal(t, []string{"/dev/sdb", "/dev/sdc"}, host.formatted)

	s := host.stamps["/dev/sdc"]
	assert.Equal(t, int64(5), s.Version)
	assert.Equal(t, "abc", s.Fingerprint)
	assert.Equal(t, "storage-1", s.Hostname)
	assert.Equal(t, 2, s.DeviceNum)
	assert.Equal(t, 2, s.DeviceCnt)

	// The freshly created devices now qualify for a remount
	d, err := v.Decide(context.Background(), 5, 2)
	require.NoError(t, err)
	assert.Equal(t, ActionRemount, d.Action)
}

func TestCreateSwiftDevices_SkipsBadDisk(t *testing.T) {
	host := newFakeHost("/dev/sdb", "/dev/sdc", "/dev/sdd")
	host.failMount["/dev/sdb"] = true
	v := NewVersioning(host, "/srv/node")

	created, err := v.CreateSwiftDevices(context.Background(), 2, "sdb", Stamp{Version: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"sdb1", "sdb2"}, created)
	assert.Equal(t, "/dev/sdc", host.mounts["/srv/node/sdb1"])
	assert.Equal(t, "/dev/sdd", host.mounts["/srv/node/sdb2"])
}

func TestCreateSwiftDevices_NotEnoughDisks(t *testing.T) {
	host := newFakeHost("/dev/sdb")
	v := NewVersioning(host, "/srv/node")

	_, err := v.CreateSwiftDevices(context.Background(), 2, "sdb", Stamp{Version: 5})
	assert.ErrorIs(t, err, ErrNotEnoughDisks)

	host.disks = append(host.disks, "/dev/sdc")
	host.failMount["/dev/sdc"] = true
	created, err := v.CreateSwiftDevices(context.Background(), 2, "sdb", Stamp{Version: 5})
	assert.ErrorIs(t, err, ErrNotEnoughDisks)
	assert.Equal(t, []string{"sdb1"}, created)
}

func TestCleanMetadata(t *testing.T) {
	host := newFakeHost("/dev/sdb", "/dev/sdc")
	host.stamp("/dev/sdb", 3, 1)
	host.stamp("/dev/sdc", 3, 2)

	cleaned, err := NewVersioning(host, "/srv/node").CleanMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/sdb", "/dev/sdc"}, cleaned)
	assert.Empty(t, host.stamps)
}

func TestStampEncoding(t *testing.T) {
	s := Stamp{Version: 170000000000003, Fingerprint: "f00d", Hostname: "storage-1", DevicePrx: "sdb", DeviceNum: 2, DeviceCnt: 3}
	data, err := s.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version":170000000000003`)
	assert.Contains(t, string(data), `"fingerprint":"f00d"`)

	decoded, err := DecodeStamp(data)
	require.NoError(t, err)
	assert.Equal(t, s, decoded)
	assert.Equal(t, "sdb2", decoded.DeviceName())

	for _, bad := range []string{"", "not json", `{"fingerprint":"x"}`} {
		_, err := DecodeStamp([]byte(bad))
		assert.ErrorIs(t, err, ErrNoStamp, fmt.Sprintf("%q", bad))
	}
}
