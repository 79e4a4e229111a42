package types

import (
	"strconv"
	"time"
)

// StorageNode represents an object-storage host whose disks are ring devices
type StorageNode struct {
	IP        string
	Hostname  string
	ZoneID    int
	Devices   []*Device
	Status    NodeStatus
	Mode      NodeMode
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NodeStatus represents the health of a storage node as seen by monitoring
type NodeStatus string

const (
	NodeStatusAlive   NodeStatus = "alive"
	NodeStatusDead    NodeStatus = "dead"
	NodeStatusRemoved NodeStatus = "removed" // Devices taken out of the rings
)

// NodeMode describes whether a node is serving or waiting for maintenance
type NodeMode string

const (
	NodeModeWaiting NodeMode = "waiting"
	NodeModeService NodeMode = "service"
)

// ProxyNode represents a proxy host fronting the storage fleet
type ProxyNode struct {
	IP        string
	CreatedAt time.Time
}

// Device is one disk of a storage node registered in the rings
type Device struct {
	Name         string // e.g. "sdb1"
	NodeIP       string
	ZoneID       int
	MountPoint   string // e.g. "/srv/node/sdb1"
	VersionStamp int64  // Generation last written to the disk
}

// RingVersion identifies one metadata generation
type RingVersion struct {
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	Fingerprint string    `json:"fingerprint"`
}

// Newer reports whether v is a later generation than other
func (v RingVersion) Newer(other RingVersion) bool {
	return v.Version > other.Version
}

// NodeFailure records why a node could not be brought to a generation
type NodeFailure struct {
	Node   string `json:"node"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// PropagationResult is the outcome of pushing a generation to a node list
type PropagationResult struct {
	Attempted []string      `json:"attempted"`
	Failed    []NodeFailure `json:"failed"`
}

// FailedNodes returns the addresses of nodes that did not receive the files
func (r *PropagationResult) FailedNodes() []string {
	nodes := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		nodes = append(nodes, f.Node)
	}
	return nodes
}

// Succeeded returns the attempted nodes that are not in the failed list
func (r *PropagationResult) Succeeded() []string {
	failed := make(map[string]bool, len(r.Failed))
	for _, f := range r.Failed {
		failed[f.Node] = true
	}
	var ok []string
	for _, n := range r.Attempted {
		if !failed[n] {
			ok = append(ok, n)
		}
	}
	return ok
}

// Merge appends the attempts and failures of other into r
func (r *PropagationResult) Merge(other PropagationResult) {
	r.Attempted = append(r.Attempted, other.Attempted...)
	r.Failed = append(r.Failed, other.Failed...)
}

// EventType classifies a maintenance task
type EventType string

const (
	EventNodeMissing EventType = "node_missing"
	EventDiskReplace EventType = "disk_replace"
)

// Valid reports whether t is a known event type
func (t EventType) Valid() bool {
	return t == EventNodeMissing || t == EventDiskReplace
}

// MaintenanceTask is a fleet-health event waiting for operator action
type MaintenanceTask struct {
	ID           string     `json:"id"`
	EventType    EventType  `json:"eventType"`
	Target       string     `json:"target"`
	ReserveDisks []string   `json:"reserveDisks"`
	ReplaceDisks []string   `json:"replaceDisks"`
	CreatedAt    time.Time  `json:"createdAt"`
	Resolved     bool       `json:"resolved"`
	ResolvedAt   *time.Time `json:"resolvedAt,omitempty"`
}

// DeviceSpec describes the disks every storage node contributes to the rings
type DeviceSpec struct {
	Prefix string `json:"prefix" yaml:"prefix"`
	Count  int    `json:"count" yaml:"count"`
}

// Names returns the device names, numbered from 1
func (s DeviceSpec) Names() []string {
	names := make([]string, 0, s.Count)
	for i := 1; i <= s.Count; i++ {
		names = append(names, DeviceName(s.Prefix, i))
	}
	return names
}

// DeviceName joins a device prefix and number ("sdb", 1 -> "sdb1")
func DeviceName(prefix string, num int) string {
	return prefix + strconv.Itoa(num)
}
