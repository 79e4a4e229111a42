package disk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectDisks(t *testing.T) {
	tests := []struct {
		name  string
		lsblk string
		busy  []string
		want  []string
	}{
		{
			name: "plain partition root",
			lsblk: `/dev/sda  disk
/dev/sda1 /dev/sda part /
/dev/sdb  disk
/dev/sdc  disk /srv/node/sdb1
`,
			busy: []string{"/dev/sda1"},
			want: []string{"/dev/sdb", "/dev/sdc"},
		},
		{
			name: "lvm root and separate boot disk",
			lsblk: `/dev/sda  disk
/dev/sda1 /dev/sda part
/dev/mapper/vg0-root /dev/sda1 lvm /
/dev/sdb  disk
/dev/sdb1 /dev/sdb part /boot
/dev/sdc  disk
`,
			busy: []string{"/dev/mapper/vg0-root", "/dev/sdb1"},
			want: []string{"/dev/sdc"},
		},
		{
			name: "md mirror across two disks",
			lsblk: `/dev/sda  disk
/dev/sda1 /dev/sda part
/dev/md0 /dev/sda1 raid1 /
/dev/sdb  disk
/dev/sdb1 /dev/sdb part
/dev/md0 /dev/sdb1 raid1 /
/dev/sdc  disk
/dev/sdd  disk
`,
			busy: []string{"/dev/md0"},
			want: []string{"/dev/sdc", "/dev/sdd"},
		},
		{
			name: "swap partition",
			lsblk: `/dev/sda  disk
/dev/sda1 /dev/sda part [SWAP]
/dev/sdb  disk
`,
			want: []string{"/dev/sdb"},
		},
		{
			name: "whole disk mounted as root",
			lsblk: `/dev/vda  disk /
/dev/vdb  disk
`,
			busy: []string{"/dev/vda"},
			want: []string{"/dev/vdb"},
		},
		{
			name:  "empty output",
			lsblk: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, selectDisks([]byte(tt.lsblk), tt.busy))
		})
	}
}

func TestOwnMount(t *testing.T) {
	h := &ExecHost{devicesDir: "/srv/node", scratchDir: DefaultScratchDir}

	assert.True(t, h.ownMount("/srv/node/sdb1"))
	assert.True(t, h.ownMount("/tmp/swiftfleet/sdc"))
	assert.False(t, h.ownMount("/srv/node"))
	assert.False(t, h.ownMount("/srv/nodes/sdb1"))
	assert.False(t, h.ownMount("/"))
	assert.False(t, h.ownMount("/boot"))
}
