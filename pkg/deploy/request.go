package deploy

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/cuemby/swiftfleet/pkg/types"
)

// ErrUsage marks malformed operator input. It is always returned before
// anything is mutated.
var ErrUsage = errors.New("usage error")

func usagef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}

// StorageSpec is a storage node and the zone its devices join
type StorageSpec struct {
	IP   string `json:"ip" yaml:"ip"`
	Zone int    `json:"zid" yaml:"zid"`
}

// DeployProxyRequest is the argument blob of deploy-proxy
type DeployProxyRequest struct {
	Proxies  []string          `json:"proxies" yaml:"proxies"`
	Storage  []StorageSpec     `json:"storage" yaml:"storage"`
	Replicas int               `json:"replicas,omitempty" yaml:"replicas,omitempty"`
	Device   *types.DeviceSpec `json:"device,omitempty" yaml:"device,omitempty"`
}

// DeployStorageRequest is the argument blob of deploy-storage
type DeployStorageRequest struct {
	Proxy  string            `json:"proxy" yaml:"proxy"`
	Device *types.DeviceSpec `json:"device,omitempty" yaml:"device,omitempty"`
}

// AddStorageRequest is the argument blob of add-storage
type AddStorageRequest struct {
	Storage []StorageSpec     `json:"storage" yaml:"storage"`
	Device  *types.DeviceSpec `json:"device,omitempty" yaml:"device,omitempty"`
}

// RemoveStorageRequest is the argument blob of remove-storage
type RemoveStorageRequest struct {
	Storage []string `json:"storage" yaml:"storage"`
}

// SpreadRequest is the argument blob of spread. An empty node list means
// the whole fleet.
type SpreadRequest struct {
	Nodes []string `json:"nodes" yaml:"nodes"`
}

// validateIP accepts dotted IPv4 addresses only, without surrounding
// blanks, since the address is used verbatim as ring and registry key
func validateIP(ip string) error {
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is4() {
		return usagef("%q is not a valid IPv4 address", ip)
	}
	return nil
}

// validateIPs checks a node list for bad and duplicate addresses
func validateIPs(role string, ips []string) error {
	seen := make(map[string]bool, len(ips))
	for _, ip := range ips {
		if err := validateIP(ip); err != nil {
			return fmt.Errorf("%s node: %w", role, err)
		}
		if seen[ip] {
			return usagef("duplicate %s node %s", role, ip)
		}
		seen[ip] = true
	}
	return nil
}

// validateStorage checks storage specs: IPv4 address, zone in
// [1, zoneMax] and no duplicate address
func validateStorage(nodes []StorageSpec, zoneMax int) error {
	if len(nodes) == 0 {
		return usagef("no storage nodes given")
	}
	ips := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.Zone < 1 || n.Zone > zoneMax {
			return usagef("storage node %s: zone %d out of range [1, %d]", n.IP, n.Zone, zoneMax)
		}
		ips = append(ips, n.IP)
	}
	return validateIPs("storage", ips)
}

func validateDevices(spec types.DeviceSpec) error {
	if strings.TrimSpace(spec.Prefix) == "" {
		return usagef("device prefix is empty")
	}
	if spec.Count < 1 {
		return usagef("device count must be at least 1, got %d", spec.Count)
	}
	return nil
}

func storageIPs(nodes []StorageSpec) []string {
	ips := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ips = append(ips, n.IP)
	}
	return ips
}

// union returns the distinct entries of the lists in first-seen order
func union(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}
