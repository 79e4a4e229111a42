package disk

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/cuemby/swiftfleet/pkg/log"
	"github.com/cuemby/swiftfleet/pkg/metrics"
)

// ErrNotEnoughDisks is returned when a node has fewer spare disks than the
// device count it must contribute
var ErrNotEnoughDisks = errors.New("not enough disks")

// Host is the set of block-device operations disk versioning needs on one
// storage node
type Host interface {
	Hostname() string
	ListDisks(ctx context.Context) ([]string, error)
	Format(ctx context.Context, disk string) error
	Mount(ctx context.Context, disk, mountpoint string) error
	LazyUnmount(ctx context.Context, mountpoint string) error
	ReadStamp(ctx context.Context, disk string) (Stamp, error)
	WriteStamp(ctx context.Context, disk string, s Stamp) error
	ClearStamp(ctx context.Context, disk string) error
}

// Action is the initialization path chosen for a node's disks
type Action string

const (
	ActionRemount  Action = "remount"
	ActionRecreate Action = "recreate"
)

// Latest summarizes the stamps found on a node
type Latest struct {
	Version int64
	// Disks carry Version, sorted
	Disks []string
	// Stamps of every disk stamped by this host
	Stamps map[string]Stamp
	// Mixed is set when this host's disks carry more than one version
	Mixed bool
	// Foreign disks carry a stamp written by another host
	Foreign []string
}

// Devices returns the distinct device numbers among the latest disks
func (l Latest) Devices() []int {
	seen := make(map[int]bool)
	var nums []int
	for _, d := range l.Disks {
		n := l.Stamps[d].DeviceNum
		if !seen[n] {
			seen[n] = true
			nums = append(nums, n)
		}
	}
	sort.Ints(nums)
	return nums
}

// Decision is the outcome of Decide
type Decision struct {
	Action Action
	Reason string
	Latest Latest
}

// Versioning decides between remounting and recreating a node's swift
// devices from the stamps on its disks
type Versioning struct {
	host       Host
	devicesDir string
}

// NewVersioning creates a Versioning over host, mounting devices below
// devicesDir
func NewVersioning(host Host, devicesDir string) *Versioning {
	return &Versioning{host: host, devicesDir: devicesDir}
}

// MountPoint returns where a device is mounted
func (v *Versioning) MountPoint(device string) string {
	return filepath.Join(v.devicesDir, device)
}

// GetLatestMetadata scans the node's disks and returns the highest version
// stamped by this host and the disks that carry it
func (v *Versioning) GetLatestMetadata(ctx context.Context) (Latest, error) {
	logger := log.WithComponent("disk")
	latest := Latest{Stamps: make(map[string]Stamp)}

	disks, err := v.host.ListDisks(ctx)
	if err != nil {
		return latest, fmt.Errorf("failed to list disks: %w", err)
	}

	hostname := v.host.Hostname()
	versions := make(map[int64]bool)
	for _, d := range disks {
		s, err := v.host.ReadStamp(ctx, d)
		if err != nil {
			logger.Debug().Err(err).Str("disk", d).Msg("No stamp")
			continue
		}
		if s.Hostname != hostname {
			latest.Foreign = append(latest.Foreign, d)
			continue
		}
		latest.Stamps[d] = s
		versions[s.Version] = true
		if s.Version > latest.Version {
			latest.Version = s.Version
		}
	}

	for d, s := range latest.Stamps {
		if s.Version == latest.Version {
			latest.Disks = append(latest.Disks, d)
		}
	}
	sort.Strings(latest.Disks)
	sort.Strings(latest.Foreign)
	latest.Mixed = len(versions) > 1
	return latest, nil
}

// Missing returns the device numbers in 1..deviceCnt that no latest disk
// carries
func (l Latest) Missing(deviceCnt int) []int {
	have := make(map[int]bool)
	for _, n := range l.Devices() {
		have[n] = true
	}
	var lost []int
	for n := 1; n <= deviceCnt; n++ {
		if !have[n] {
			lost = append(lost, n)
		}
	}
	return lost
}

// layout returns the device prefix and count recorded by the latest stamps
func (l Latest) layout() (string, int) {
	var (
		prefix string
		count  int
	)
	for _, d := range l.Disks {
		s := l.Stamps[d]
		if prefix == "" {
			prefix = s.DevicePrx
		}
		if s.DeviceCnt > count {
			count = s.DeviceCnt
		}
	}
	return prefix, count
}

// Decide picks the initialization path for a node that must serve
// deviceCnt devices at generation target. Remount is chosen whenever every
// stamped disk of this host carries one version and that version is at
// least target; devices lost since then are rebuilt by RemountDisks on
// spare disks. No stamps, mixed stamps or stale stamps recreate all
// devices.
func (v *Versioning) Decide(ctx context.Context, target int64, deviceCnt int) (Decision, error) {
	latest, err := v.GetLatestMetadata(ctx)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Action: ActionRecreate, Latest: latest}
	switch {
	case len(latest.Stamps) == 0:
		d.Reason = "no stamped disks"
	case latest.Mixed:
		d.Reason = "disks carry mixed versions"
	case latest.Version < target:
		d.Reason = fmt.Sprintf("disk version %d is older than %d", latest.Version, target)
	default:
		d.Action = ActionRemount
		d.Reason = fmt.Sprintf("disks are at version %d", latest.Version)
		if lost := latest.Missing(deviceCnt); len(lost) > 0 {
			d.Reason += fmt.Sprintf(", %d of %d devices lost", len(lost), deviceCnt)
		}
	}

	logger := log.WithComponent("disk")
	logger.Info().
		Str("action", string(d.Action)).
		Str("reason", d.Reason).
		Int64("target", target).
		Msg("Disk initialization decided")
	return d, nil
}

// RemountDisks mounts every disk of the latest version at its device mount
// point. Device numbers the stamps no longer cover are rebuilt on the
// remaining disks: each spare is formatted, stamped for the lost device and
// mounted. It returns the devices brought back.
func (v *Versioning) RemountDisks(ctx context.Context, latest Latest) ([]string, error) {
	logger := log.WithComponent("disk")
	metrics.DiskInitTotal.WithLabelValues(string(ActionRemount)).Inc()

	disks, err := v.host.ListDisks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list disks: %w", err)
	}

	prefix, count := latest.layout()
	for num := 1; num <= count; num++ {
		mp := v.MountPoint(fmt.Sprintf("%s%d", prefix, num))
		if err := v.host.LazyUnmount(ctx, mp); err != nil {
			logger.Warn().Err(err).Str("mountpoint", mp).Msg("Failed to unmount")
		}
	}

	var (
		mounted []string
		spares  []string
		errs    []error
		seen    = make(map[int]bool)
		current = make(map[string]bool)
	)
	for _, d := range latest.Disks {
		current[d] = true
	}
	for _, d := range disks {
		s, ok := latest.Stamps[d]
		if !ok || !current[d] {
			spares = append(spares, d)
			continue
		}
		if seen[s.DeviceNum] {
			logger.Warn().Str("disk", d).Str("device", s.DeviceName()).Msg("Device stamped on more than one disk, reusing as spare")
			spares = append(spares, d)
			continue
		}
		mp := v.MountPoint(s.DeviceName())
		if err := v.host.Mount(ctx, d, mp); err != nil {
			logger.Warn().Err(err).Str("disk", d).Str("mountpoint", mp).Msg("Failed to remount device")
			spares = append(spares, d)
			continue
		}
		seen[s.DeviceNum] = true
		mounted = append(mounted, s.DeviceName())
		logger.Info().Str("disk", d).Str("mountpoint", mp).Msg("Device remounted")
	}

	lost := latest.Missing(count)
	if len(lost) == 0 {
		return mounted, nil
	}

	var base Stamp
	if len(latest.Disks) > 0 {
		base = latest.Stamps[latest.Disks[0]]
	}
	for _, d := range spares {
		if len(lost) == 0 {
			break
		}
		s := base
		s.Hostname = v.host.Hostname()
		s.DevicePrx = prefix
		s.DeviceNum = lost[0]
		s.DeviceCnt = count
		mp := v.MountPoint(s.DeviceName())

		if err := v.host.Format(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("format %s: %w", d, err))
			continue
		}
		if err := v.host.WriteStamp(ctx, d, s); err != nil {
			errs = append(errs, fmt.Errorf("stamp %s: %w", d, err))
			continue
		}
		if err := v.host.Mount(ctx, d, mp); err != nil {
			errs = append(errs, fmt.Errorf("mount %s on %s: %w", d, mp, err))
			continue
		}
		lost = lost[1:]
		mounted = append(mounted, s.DeviceName())
		logger.Info().Str("disk", d).Str("mountpoint", mp).Msg("Lost device rebuilt")
	}

	if len(lost) > 0 {
		errs = append(errs, fmt.Errorf("%w: %d devices could not be rebuilt", ErrNotEnoughDisks, len(lost)))
		return mounted, errors.Join(errs...)
	}
	for _, err := range errs {
		logger.Warn().Err(err).Msg("Skipped disk")
	}
	return mounted, nil
}

// CreateSwiftDevices formats count disks, stamps them with base and mounts
// them as prefix1..prefixN. A disk that fails is skipped for the next one.
func (v *Versioning) CreateSwiftDevices(ctx context.Context, count int, prefix string, base Stamp) ([]string, error) {
	logger := log.WithComponent("disk")
	metrics.DiskInitTotal.WithLabelValues(string(ActionRecreate)).Inc()

	disks, err := v.host.ListDisks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list disks: %w", err)
	}
	if len(disks) < count {
		return nil, fmt.Errorf("%w: need %d, found %d", ErrNotEnoughDisks, count, len(disks))
	}

	// Free every device slot before reusing disks
	for num := 1; num <= count; num++ {
		mp := v.MountPoint(fmt.Sprintf("%s%d", prefix, num))
		if err := v.host.LazyUnmount(ctx, mp); err != nil {
			logger.Warn().Err(err).Str("mountpoint", mp).Msg("Failed to unmount")
		}
	}

	var (
		created []string
		errs    []error
		num     = 1
	)
	for _, d := range disks {
		if num > count {
			break
		}
		s := base
		s.Hostname = v.host.Hostname()
		s.DevicePrx = prefix
		s.DeviceNum = num
		s.DeviceCnt = count
		mp := v.MountPoint(s.DeviceName())

		if err := v.host.Format(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("format %s: %w", d, err))
			continue
		}
		if err := v.host.WriteStamp(ctx, d, s); err != nil {
			errs = append(errs, fmt.Errorf("stamp %s: %w", d, err))
			continue
		}
		if err := v.host.Mount(ctx, d, mp); err != nil {
			errs = append(errs, fmt.Errorf("mount %s on %s: %w", d, mp, err))
			continue
		}
		created = append(created, s.DeviceName())
		logger.Info().Str("disk", d).Str("mountpoint", mp).Int64("version", s.Version).Msg("Device created")
		num++
	}

	if len(created) < count {
		errs = append(errs, fmt.Errorf("%w: created %d of %d devices", ErrNotEnoughDisks, len(created), count))
		return created, errors.Join(errs...)
	}
	for _, err := range errs {
		logger.Warn().Err(err).Msg("Skipped disk")
	}
	return created, nil
}

// CleanMetadata erases the stamp of every disk on the node and returns the
// disks cleaned
func (v *Versioning) CleanMetadata(ctx context.Context) ([]string, error) {
	disks, err := v.host.ListDisks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list disks: %w", err)
	}
	var (
		cleaned []string
		errs    []error
	)
	for _, d := range disks {
		if err := v.host.ClearStamp(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("clean %s: %w", d, err))
			continue
		}
		cleaned = append(cleaned, d)
	}
	logger := log.WithComponent("disk")
	logger.Info().Int("disks", len(cleaned)).Msg("Cleaned disk metadata")
	return cleaned, errors.Join(errs...)
}
