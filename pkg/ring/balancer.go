package ring

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNoDevices is returned when a ring with no devices is rebalanced
	ErrNoDevices = errors.New("ring has no devices")

	// ErrTooFewDevices is returned when there are fewer devices than replicas
	ErrTooFewDevices = errors.New("fewer devices than replicas")
)

// Balancer computes the partition assignment of a ring. Implementations
// must leave every partition on Replicas distinct devices.
type Balancer interface {
	Balance(b *Builder) (moved int, err error)
}

// ZoneBalancer keeps surviving assignments where it can and places every
// freed replica on the device that best spreads the partition: a zone the
// partition does not use yet, then a node, then the device furthest below
// its share of partitions.
type ZoneBalancer struct{}

// NewZoneBalancer creates the default balancer
func NewZoneBalancer() *ZoneBalancer {
	return &ZoneBalancer{}
}

// Balance implements Balancer
func (z *ZoneBalancer) Balance(b *Builder) (int, error) {
	if len(b.Devices) == 0 {
		return 0, ErrNoDevices
	}
	if len(b.Devices) < b.Replicas {
		return 0, fmt.Errorf("%w: %d devices for %d replicas", ErrTooFewDevices, len(b.Devices), b.Replicas)
	}

	parts := b.Partitions()
	before := snapshot(b.Replica2Part2Dev)
	b.Replica2Part2Dev = reshape(b.Replica2Part2Dev, b.Replicas, parts)

	devs := append([]Device(nil), b.Devices...)
	sort.Slice(devs, func(i, j int) bool { return devs[i].ID < devs[j].ID })

	byID := make(map[uint16]Device, len(devs))
	for _, d := range devs {
		byID[d.ID] = d
	}
	zones := make(map[int]bool)
	for _, d := range devs {
		zones[d.Zone] = true
	}

	want := targets(devs, parts*b.Replicas)
	count := make(map[uint16]int, len(devs))

	// Drop slots on removed devices and duplicate devices within a partition
	for p := 0; p < parts; p++ {
		seen := make(map[uint16]bool, b.Replicas)
		for r := 0; r < b.Replicas; r++ {
			id := b.Replica2Part2Dev[r][p]
			if _, ok := byID[id]; !ok || seen[id] {
				b.Replica2Part2Dev[r][p] = NoDevice
				continue
			}
			seen[id] = true
			count[id]++
		}
	}

	// Free replicas sharing a zone when the partition could use another one
	for p := 0; p < parts; p++ {
		used := make(map[int]int, b.Replicas)
		for r := 0; r < b.Replicas; r++ {
			if id := b.Replica2Part2Dev[r][p]; id != NoDevice {
				used[byID[id].Zone]++
			}
		}
		if len(used) >= len(zones) || len(used) >= b.Replicas {
			continue
		}
		for r := b.Replicas - 1; r >= 0; r-- {
			id := b.Replica2Part2Dev[r][p]
			if id == NoDevice {
				continue
			}
			if zone := byID[id].Zone; used[zone] > 1 {
				used[zone]--
				count[id]--
				b.Replica2Part2Dev[r][p] = NoDevice
			}
		}
	}

	// Shed partitions from devices above their share
	for _, d := range devs {
		excess := count[d.ID] - want[d.ID]
		for p := 0; p < parts && excess > 0; p++ {
			for r := 0; r < b.Replicas && excess > 0; r++ {
				if b.Replica2Part2Dev[r][p] == d.ID {
					b.Replica2Part2Dev[r][p] = NoDevice
					count[d.ID]--
					excess--
				}
			}
		}
	}

	// Fill every empty slot
	for p := 0; p < parts; p++ {
		for r := 0; r < b.Replicas; r++ {
			if b.Replica2Part2Dev[r][p] != NoDevice {
				continue
			}
			best, ok := z.pick(b, p, devs, byID, want, count)
			if !ok {
				return 0, fmt.Errorf("no device available for partition %d replica %d", p, r)
			}
			b.Replica2Part2Dev[r][p] = best
			count[best]++
		}
	}

	return moved(before, b.Replica2Part2Dev), nil
}

// pick chooses the device for one empty slot of partition p
func (z *ZoneBalancer) pick(b *Builder, p int, devs []Device, byID map[uint16]Device, want, count map[uint16]int) (uint16, bool) {
	usedDev := make(map[uint16]bool, b.Replicas)
	usedZone := make(map[int]bool, b.Replicas)
	usedNode := make(map[string]bool, b.Replicas)
	for r := 0; r < b.Replicas; r++ {
		id := b.Replica2Part2Dev[r][p]
		if id == NoDevice {
			continue
		}
		d := byID[id]
		usedDev[id] = true
		usedZone[d.Zone] = true
		usedNode[d.IP] = true
	}

	var (
		best      uint16
		found     bool
		bestScore [3]int
	)
	for _, d := range devs {
		if usedDev[d.ID] {
			continue
		}
		score := [3]int{0, 0, count[d.ID] - want[d.ID]}
		if usedZone[d.Zone] {
			score[0] = 1
		}
		if usedNode[d.IP] {
			score[1] = 1
		}
		if !found || less(score, bestScore) {
			best, bestScore, found = d.ID, score, true
		}
	}
	return best, found
}

func less(a, b [3]int) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// targets splits total replica slots evenly, handing the remainder to the
// lowest device ids
func targets(devs []Device, total int) map[uint16]int {
	want := make(map[uint16]int, len(devs))
	base, extra := total/len(devs), total%len(devs)
	for i, d := range devs {
		want[d.ID] = base
		if i < extra {
			want[d.ID]++
		}
	}
	return want
}

func reshape(a [][]uint16, replicas, parts int) [][]uint16 {
	out := make([][]uint16, replicas)
	for r := 0; r < replicas; r++ {
		row := make([]uint16, parts)
		for p := range row {
			row[p] = NoDevice
			if r < len(a) && p < len(a[r]) {
				row[p] = a[r][p]
			}
		}
		out[r] = row
	}
	return out
}

func snapshot(a [][]uint16) [][]uint16 {
	out := make([][]uint16, len(a))
	for i, row := range a {
		out[i] = append([]uint16(nil), row...)
	}
	return out
}

func moved(before, after [][]uint16) int {
	n := 0
	for r, row := range after {
		for p, id := range row {
			if r >= len(before) || p >= len(before[r]) || before[r][p] != id {
				n++
			}
		}
	}
	return n
}
