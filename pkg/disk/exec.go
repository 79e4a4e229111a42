package disk

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/swiftfleet/pkg/log"
	"github.com/cuemby/swiftfleet/pkg/remote"
	"github.com/moby/sys/mountinfo"
)

const (
	// DefaultScratchDir holds temporary mounts used to read and write stamps
	DefaultScratchDir = "/tmp/swiftfleet"

	// MountOptions are the xfs options used for swift devices
	MountOptions = "noatime,nodiratime,logbufs=8"
)

// ExecHost implements Host on the local machine by running mkfs, mount and
// lsblk through an executor and reading the mount table directly
type ExecHost struct {
	exec       remote.Executor
	timeout    time.Duration
	devicesDir string
	scratchDir string
	hostname   string
}

// NewExecHost creates a host that runs its commands through exec with the
// given per-command timeout. Mounts below devicesDir belong to swift and do
// not make a disk unavailable.
func NewExecHost(exec remote.Executor, timeout time.Duration, devicesDir string) *ExecHost {
	hostname, _ := os.Hostname()
	return &ExecHost{
		exec:       exec,
		timeout:    timeout,
		devicesDir: devicesDir,
		scratchDir: DefaultScratchDir,
		hostname:   hostname,
	}
}

// Hostname returns the name written into stamps
func (h *ExecHost) Hostname() string {
	return h.hostname
}

// ListDisks returns every whole disk that backs no system mount. A disk is
// skipped when it, one of its partitions or a volume built on it (LVM, md,
// crypt) is mounted outside the devices and scratch dirs, or used as swap.
func (h *ExecHost) ListDisks(ctx context.Context) ([]string, error) {
	out, err := h.run(ctx, "lsblk", "-nrpo", "NAME,PKNAME,TYPE,MOUNTPOINT")
	if err != nil {
		return nil, err
	}
	mounts, err := mountinfo.GetMounts(func(info *mountinfo.Info) (skip, stop bool) {
		return h.ownMount(info.Mountpoint), false
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read mount table: %w", err)
	}

	busy := make([]string, 0, len(mounts))
	for _, m := range mounts {
		busy = append(busy, m.Source)
	}
	return selectDisks(out, busy), nil
}

// ownMount reports whether mountpoint is a swift device or a scratch mount
func (h *ExecHost) ownMount(mountpoint string) bool {
	for _, dir := range []string{h.devicesDir, h.scratchDir} {
		if dir == "" {
			continue
		}
		if rel, err := filepath.Rel(dir, mountpoint); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

// selectDisks parses `lsblk -nrpo NAME,PKNAME,TYPE,MOUNTPOINT` and returns
// the disks none of whose descendants is in busy or mounted as swap
func selectDisks(lsblk []byte, busy []string) []string {
	var (
		disks   []string
		parents = make(map[string][]string)
		used    = make(map[string]bool)
	)
	for _, src := range busy {
		used[src] = true
	}

	sc := bufio.NewScanner(bytes.NewReader(lsblk))
	for sc.Scan() {
		// Raw output escapes blanks inside values, so columns split on one space
		fields := strings.Split(sc.Text(), " ")
		if len(fields) < 3 || fields[0] == "" {
			continue
		}
		name, parent, kind := fields[0], fields[1], fields[2]
		if parent != "" {
			parents[name] = append(parents[name], parent)
		}
		if len(fields) > 3 && fields[3] == "[SWAP]" {
			used[name] = true
		}
		if kind == "disk" && parent == "" {
			disks = append(disks, name)
		}
	}

	blocked := make(map[string]bool)
	var climb func(name string)
	climb = func(name string) {
		if blocked[name] {
			return
		}
		blocked[name] = true
		for _, p := range parents[name] {
			climb(p)
		}
	}
	for name := range used {
		climb(name)
	}

	var free []string
	for _, d := range disks {
		if !blocked[d] {
			free = append(free, d)
		}
	}
	return free
}

// Format creates a fresh xfs filesystem on disk
func (h *ExecHost) Format(ctx context.Context, disk string) error {
	_, err := h.run(ctx, "mkfs.xfs", "-f", "-i", "size=1024", disk)
	return err
}

// Mount mounts disk at mountpoint, replacing whatever was mounted there
func (h *ExecHost) Mount(ctx context.Context, disk, mountpoint string) error {
	if err := os.MkdirAll(mountpoint, 0755); err != nil {
		return err
	}
	if err := h.LazyUnmount(ctx, mountpoint); err != nil {
		return err
	}
	if _, err := h.run(ctx, "mount", "-t", "xfs", "-o", MountOptions, disk, mountpoint); err != nil {
		return err
	}
	if _, err := h.run(ctx, "chown", "swift:swift", mountpoint); err != nil {
		logger := log.WithComponent("disk")
		logger.Warn().Err(err).Str("mountpoint", mountpoint).Msg("Failed to chown device")
	}
	return nil
}

// LazyUnmount detaches mountpoint if something is mounted there
func (h *ExecHost) LazyUnmount(ctx context.Context, mountpoint string) error {
	mounted, err := mountinfo.Mounted(mountpoint)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if !mounted {
		return nil
	}
	_, err = h.run(ctx, "umount", "-l", mountpoint)
	return err
}

// ReadStamp reads the stamp at the root of disk
func (h *ExecHost) ReadStamp(ctx context.Context, disk string) (Stamp, error) {
	var s Stamp
	err := h.withMounted(ctx, disk, func(dir string) error {
		data, err := os.ReadFile(filepath.Join(dir, StampFile))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoStamp, err)
		}
		s, err = DecodeStamp(data)
		return err
	})
	return s, err
}

// WriteStamp writes s at the root of disk
func (h *ExecHost) WriteStamp(ctx context.Context, disk string, s Stamp) error {
	data, err := s.Encode()
	if err != nil {
		return err
	}
	return h.withMounted(ctx, disk, func(dir string) error {
		return os.WriteFile(filepath.Join(dir, StampFile), data, 0644)
	})
}

// ClearStamp removes the stamp from disk
func (h *ExecHost) ClearStamp(ctx context.Context, disk string) error {
	return h.withMounted(ctx, disk, func(dir string) error {
		err := os.Remove(filepath.Join(dir, StampFile))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	})
}

// withMounted runs fn with the root directory of disk. A disk already
// mounted is used in place; otherwise it is mounted on a scratch dir for
// the duration of fn.
func (h *ExecHost) withMounted(ctx context.Context, disk string, fn func(dir string) error) error {
	mounts, err := mountinfo.GetMounts(func(info *mountinfo.Info) (skip, stop bool) {
		return info.Source != disk, false
	})
	if err != nil {
		return err
	}
	if len(mounts) > 0 {
		return fn(mounts[0].Mountpoint)
	}

	dir := filepath.Join(h.scratchDir, filepath.Base(disk))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if _, err := h.run(ctx, "mount", disk, dir); err != nil {
		return err
	}
	defer func() {
		if _, err := h.run(ctx, "umount", "-l", dir); err != nil {
			logger := log.WithComponent("disk")
			logger.Warn().Err(err).Str("disk", disk).Msg("Failed to release scratch mount")
		}
	}()
	return fn(dir)
}

func (h *ExecHost) run(ctx context.Context, program string, args ...string) ([]byte, error) {
	cmd := remote.NewCommand(program, args...)
	res, err := h.exec.Execute(ctx, "localhost", remote.Credential{}, cmd, h.timeout)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, fmt.Errorf("%s: %s", cmd, res.Reason())
	}
	return res.Stdout, nil
}
