package ring

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/gzip"
)

// Kind names one of the three rings
type Kind string

const (
	Account   Kind = "account"
	Container Kind = "container"
	Object    Kind = "object"
)

// Kinds lists the rings in the order they are built and fingerprinted
var Kinds = []Kind{Account, Container, Object}

// NoDevice marks an unassigned replica slot
const NoDevice = math.MaxUint16

// MaxDevices bounds the number of device ids a ring can hand out
const MaxDevices = NoDevice - 1

// Device is a disk registered in a ring
type Device struct {
	ID   uint16 `cbor:"id" json:"id"`
	Zone int    `cbor:"zone" json:"zone"`
	IP   string `cbor:"ip" json:"ip"`
	Name string `cbor:"name" json:"name"`
}

// Builder is the persisted state of one ring: its devices and the
// replica -> partition -> device assignment
type Builder struct {
	Kind             Kind       `cbor:"kind"`
	PartPower        int        `cbor:"partPower"`
	Replicas         int        `cbor:"replicas"`
	Devices          []Device   `cbor:"devices"`
	NextID           int        `cbor:"nextId"`
	Replica2Part2Dev [][]uint16 `cbor:"replica2part2dev"`
	VersionBase      int64      `cbor:"versionBase"`
	Rebalances       int64      `cbor:"rebalances"`
}

// NewBuilder creates an empty ring
func NewBuilder(kind Kind, replicas, partPower int, versionBase int64) *Builder {
	return &Builder{
		Kind:        kind,
		PartPower:   partPower,
		Replicas:    replicas,
		VersionBase: versionBase,
	}
}

// Partitions returns the number of partitions (2^PartPower)
func (b *Builder) Partitions() int {
	return 1 << uint(b.PartPower)
}

// AddDevice registers a device and returns it with its new id
func (b *Builder) AddDevice(zone int, ip, name string) (Device, error) {
	for _, d := range b.Devices {
		if d.IP == ip && d.Name == name {
			return Device{}, fmt.Errorf("device %s/%s already in %s ring", ip, name, b.Kind)
		}
	}
	if b.NextID >= MaxDevices {
		return Device{}, fmt.Errorf("%s ring has no device ids left", b.Kind)
	}
	d := Device{ID: uint16(b.NextID), Zone: zone, IP: ip, Name: name}
	b.NextID++
	b.Devices = append(b.Devices, d)
	return d, nil
}

// RemoveNode drops every device owned by ip and returns how many were removed.
// Their partitions stay assigned until the next rebalance.
func (b *Builder) RemoveNode(ip string) int {
	kept := b.Devices[:0]
	removed := 0
	for _, d := range b.Devices {
		if d.IP == ip {
			removed++
			continue
		}
		kept = append(kept, d)
	}
	b.Devices = kept
	return removed
}

// Device looks up a device by id
func (b *Builder) Device(id uint16) (Device, bool) {
	for _, d := range b.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

// PartitionDevices returns the devices holding a partition, in replica order
func (b *Builder) PartitionDevices(part int) []Device {
	var out []Device
	for _, row := range b.Replica2Part2Dev {
		if part >= len(row) {
			continue
		}
		if d, ok := b.Device(row[part]); ok {
			out = append(out, d)
		}
	}
	return out
}

// PartsPerDevice counts assigned replica slots per device id
func (b *Builder) PartsPerDevice() map[uint16]int {
	counts := make(map[uint16]int, len(b.Devices))
	for _, d := range b.Devices {
		counts[d.ID] = 0
	}
	for _, row := range b.Replica2Part2Dev {
		for _, id := range row {
			if _, ok := counts[id]; ok {
				counts[id]++
			}
		}
	}
	return counts
}

// NodeIPs returns the distinct node addresses in the ring, sorted
func (b *Builder) NodeIPs() []string {
	seen := make(map[string]bool)
	var ips []string
	for _, d := range b.Devices {
		if !seen[d.IP] {
			seen[d.IP] = true
			ips = append(ips, d.IP)
		}
	}
	sort.Strings(ips)
	return ips
}

// Version is the generation number of the last rebalance
func (b *Builder) Version() int64 {
	return b.VersionBase + b.Rebalances
}

// FileName returns the builder file name for a ring kind
func FileName(kind Kind) string {
	return string(kind) + ".builder"
}

// Save writes the builder to dir atomically as gzip-compressed CBOR
func (b *Builder) Save(dir string) error {
	data, err := cbor.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode %s ring: %w", b.Kind, err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, FileName(b.Kind)), buf.Bytes())
}

// LoadBuilder reads a builder file written by Save
func LoadBuilder(dir string, kind Kind) (*Builder, error) {
	f, err := os.Open(filepath.Join(dir, FileName(kind)))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s ring: %w", kind, err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s ring: %w", kind, err)
	}

	var b Builder
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to decode %s ring: %w", kind, err)
	}
	if b.Kind != kind {
		return nil, fmt.Errorf("%s holds a %s ring", FileName(kind), b.Kind)
	}
	return &b, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
