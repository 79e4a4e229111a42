package ring

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/swiftfleet/pkg/log"
	"github.com/cuemby/swiftfleet/pkg/metrics"
	"github.com/cuemby/swiftfleet/pkg/types"
	"github.com/zeebo/blake3"
)

// VersionFile holds the generation written by the last rebalance
const VersionFile = "ring.version"

// versionBaseScale leaves room for rebalances between two ring creations
const versionBaseScale = 100000

// ErrNotCreated is returned when the rings have not been created yet
var ErrNotCreated = errors.New("rings have not been created")

// Stage names the ring step that failed
type Stage string

const (
	StageCreate    Stage = "create"
	StageLoad      Stage = "load"
	StageAdd       Stage = "add"
	StageRemove    Stage = "remove"
	StageRebalance Stage = "rebalance"
	StageSave      Stage = "save"
)

// BuildError reports a failed ring step. Steps already applied to other
// rings are not rolled back.
type BuildError struct {
	Stage Stage
	Ring  Kind
	Err   error
}

func (e *BuildError) Error() string {
	if e.Ring == "" {
		return fmt.Sprintf("ring %s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s ring %s failed: %v", e.Ring, e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Manager owns the account, container and object rings stored in one
// metadata directory
type Manager struct {
	dir      string
	balancer Balancer
	rings    map[Kind]*Builder
	version  types.RingVersion
	now      func() time.Time
}

// NewManager creates a manager over dir. A nil balancer selects the
// ZoneBalancer.
func NewManager(dir string, balancer Balancer) *Manager {
	if balancer == nil {
		balancer = NewZoneBalancer()
	}
	return &Manager{
		dir:      dir,
		balancer: balancer,
		rings:    make(map[Kind]*Builder),
		now:      time.Now,
	}
}

// Dir returns the metadata directory
func (m *Manager) Dir() string {
	return m.dir
}

// Load reads the three rings and the last generation from disk
func (m *Manager) Load() error {
	rings := make(map[Kind]*Builder, len(Kinds))
	for _, kind := range Kinds {
		b, err := LoadBuilder(m.dir, kind)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return &BuildError{Stage: StageLoad, Ring: kind, Err: ErrNotCreated}
			}
			return &BuildError{Stage: StageLoad, Ring: kind, Err: err}
		}
		rings[kind] = b
	}
	v, err := ReadVersion(m.dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return &BuildError{Stage: StageLoad, Err: err}
	}
	m.rings = rings
	m.version = v
	m.updateGauges()
	return nil
}

// Created reports whether rings are loaded or created
func (m *Manager) Created() bool {
	return len(m.rings) == len(Kinds)
}

// Create replaces any existing rings with three empty ones
func (m *Manager) Create(replicas, partPower int) error {
	if replicas < 1 {
		return &BuildError{Stage: StageCreate, Err: fmt.Errorf("replica count must be at least 1, got %d", replicas)}
	}
	if partPower < 1 || partPower > 32 {
		return &BuildError{Stage: StageCreate, Err: fmt.Errorf("partition power must be between 1 and 32, got %d", partPower)}
	}
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return &BuildError{Stage: StageCreate, Err: err}
	}

	base := m.now().Unix() * versionBaseScale
	if prev, err := ReadVersion(m.dir); err == nil && prev.Version >= base {
		// Generations never go backwards, even with a skewed clock
		base = prev.Version + 1
	}

	rings := make(map[Kind]*Builder, len(Kinds))
	for _, kind := range Kinds {
		b := NewBuilder(kind, replicas, partPower, base)
		if err := b.Save(m.dir); err != nil {
			return &BuildError{Stage: StageSave, Ring: kind, Err: err}
		}
		rings[kind] = b
	}
	m.rings = rings

	logger := log.WithComponent("ring")
	logger.Info().
		Int("replicas", replicas).
		Int("part_power", partPower).
		Int64("version_base", base).
		Msg("Created rings")
	return nil
}

// AddDevice registers a device in all three rings
func (m *Manager) AddDevice(zone int, ip, name string) error {
	if !m.Created() {
		return &BuildError{Stage: StageAdd, Err: ErrNotCreated}
	}
	for _, kind := range Kinds {
		b := m.rings[kind]
		if _, err := b.AddDevice(zone, ip, name); err != nil {
			return &BuildError{Stage: StageAdd, Ring: kind, Err: err}
		}
		if err := b.Save(m.dir); err != nil {
			return &BuildError{Stage: StageSave, Ring: kind, Err: err}
		}
	}
	logger := log.WithComponent("ring")
	logger.Debug().Int("zone", zone).Str("ip", ip).Str("device", name).Msg("Added device")
	return nil
}

// RemoveDevice removes every device owned by ip from all three rings and
// returns how many devices each ring lost
func (m *Manager) RemoveDevice(ip string) (int, error) {
	if !m.Created() {
		return 0, &BuildError{Stage: StageRemove, Err: ErrNotCreated}
	}
	removed := 0
	for _, kind := range Kinds {
		b := m.rings[kind]
		removed = b.RemoveNode(ip)
		if err := b.Save(m.dir); err != nil {
			return removed, &BuildError{Stage: StageSave, Ring: kind, Err: err}
		}
	}
	logger := log.WithComponent("ring")
	logger.Debug().Str("ip", ip).Int("devices", removed).Msg("Removed node devices")
	return removed, nil
}

// Rebalance reassigns partitions in all three rings and records a new
// generation
func (m *Manager) Rebalance() (types.RingVersion, error) {
	if !m.Created() {
		return types.RingVersion{}, &BuildError{Stage: StageRebalance, Err: ErrNotCreated}
	}
	timer := metrics.NewTimer()

	for _, kind := range Kinds {
		b := m.rings[kind]
		moved, err := m.balancer.Balance(b)
		if err != nil {
			return types.RingVersion{}, &BuildError{Stage: StageRebalance, Ring: kind, Err: err}
		}
		b.Rebalances++
		if err := b.Save(m.dir); err != nil {
			return types.RingVersion{}, &BuildError{Stage: StageSave, Ring: kind, Err: err}
		}
		metrics.PartitionsMoved.WithLabelValues(string(kind)).Add(float64(moved))
	}

	v := types.RingVersion{
		Version:     m.currentVersion(),
		CreatedAt:   m.now().UTC(),
		Fingerprint: m.Fingerprint(),
	}
	if err := writeVersion(m.dir, v); err != nil {
		return types.RingVersion{}, &BuildError{Stage: StageSave, Err: err}
	}
	m.version = v

	timer.ObserveDuration(metrics.RebalanceDuration)
	metrics.RebalancesTotal.Inc()
	m.updateGauges()

	logger := log.WithComponent("ring")
	logger.Info().
		Int64("version", v.Version).
		Str("fingerprint", v.Fingerprint).
		Int("devices", len(m.rings[Object].Devices)).
		Dur("duration", timer.Duration()).
		Msg("Rebalanced rings")
	return v, nil
}

// Version returns the generation of the last rebalance
func (m *Manager) Version() types.RingVersion {
	return m.version
}

// Fingerprint hashes the device tables and assignments of the three rings
func (m *Manager) Fingerprint() string {
	h := blake3.New()
	var buf [8]byte
	for _, kind := range Kinds {
		b, ok := m.rings[kind]
		if !ok {
			continue
		}
		h.Write([]byte(kind))
		binary.BigEndian.PutUint64(buf[:], uint64(b.Version()))
		h.Write(buf[:])
		for _, d := range b.Devices {
			fmt.Fprintf(h, "%d|%d|%s|%s;", d.ID, d.Zone, d.IP, d.Name)
		}
		for _, row := range b.Replica2Part2Dev {
			for _, id := range row {
				binary.BigEndian.PutUint16(buf[:2], id)
				h.Write(buf[:2])
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Devices returns the devices of one ring sorted by id
func (m *Manager) Devices(kind Kind) []Device {
	b, ok := m.rings[kind]
	if !ok {
		return nil
	}
	devs := append([]Device(nil), b.Devices...)
	sort.Slice(devs, func(i, j int) bool { return devs[i].ID < devs[j].ID })
	return devs
}

// NodeIPs returns the storage nodes present in the rings
func (m *Manager) NodeIPs() []string {
	b, ok := m.rings[Object]
	if !ok {
		return nil
	}
	return b.NodeIPs()
}

// HasNode reports whether ip owns any device
func (m *Manager) HasNode(ip string) bool {
	_, ok := m.ZoneOf(ip)
	return ok
}

// ZoneOf returns the zone of the node at ip
func (m *Manager) ZoneOf(ip string) (int, bool) {
	b, ok := m.rings[Object]
	if !ok {
		return 0, false
	}
	for _, d := range b.Devices {
		if d.IP == ip {
			return d.Zone, true
		}
	}
	return 0, false
}

// Lookup returns the devices holding a partition of one ring
func (m *Manager) Lookup(kind Kind, part int) []Device {
	b, ok := m.rings[kind]
	if !ok {
		return nil
	}
	return b.PartitionDevices(part)
}

// RingSummary describes one ring for operators
type RingSummary struct {
	Kind       Kind           `json:"kind"`
	Replicas   int            `json:"replicas"`
	PartPower  int            `json:"partPower"`
	Partitions int            `json:"partitions"`
	Devices    int            `json:"devices"`
	Zones      map[int]int    `json:"zones"`
	Load       map[string]int `json:"load"`
}

// Summary describes the three rings
type Summary struct {
	Version types.RingVersion `json:"version"`
	Rings   []RingSummary     `json:"rings"`
}

// Replicas returns the replica count of a loaded ring, 0 otherwise
func (m *Manager) Replicas(kind Kind) int {
	b, ok := m.rings[kind]
	if !ok {
		return 0
	}
	return b.Replicas
}

// Summary reports devices per zone and partitions per device for each ring
func (m *Manager) Summary() Summary {
	s := Summary{Version: m.version}
	for _, kind := range Kinds {
		b, ok := m.rings[kind]
		if !ok {
			continue
		}
		rs := RingSummary{
			Kind:       kind,
			Replicas:   b.Replicas,
			PartPower:  b.PartPower,
			Partitions: b.Partitions(),
			Devices:    len(b.Devices),
			Zones:      make(map[int]int),
			Load:       make(map[string]int),
		}
		counts := b.PartsPerDevice()
		for _, d := range b.Devices {
			rs.Zones[d.Zone]++
			rs.Load[d.IP+"/"+d.Name] = counts[d.ID]
		}
		s.Rings = append(s.Rings, rs)
	}
	return s
}

func (m *Manager) currentVersion() int64 {
	var v int64
	for _, kind := range Kinds {
		if b, ok := m.rings[kind]; ok && b.Version() > v {
			v = b.Version()
		}
	}
	return v
}

func (m *Manager) updateGauges() {
	for _, kind := range Kinds {
		if b, ok := m.rings[kind]; ok {
			metrics.RingDevices.WithLabelValues(string(kind)).Set(float64(len(b.Devices)))
		}
	}
	metrics.RingVersion.Set(float64(m.version.Version))
}

// ReadVersion reads the generation file from a metadata directory
func ReadVersion(dir string) (types.RingVersion, error) {
	var v types.RingVersion
	data, err := os.ReadFile(filepath.Join(dir, VersionFile))
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to parse %s: %w", VersionFile, err)
	}
	return v, nil
}

func writeVersion(dir string, v types.RingVersion) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, VersionFile), append(data, '\n'))
}
