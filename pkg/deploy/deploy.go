package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/swiftfleet/pkg/config"
	"github.com/cuemby/swiftfleet/pkg/disk"
	"github.com/cuemby/swiftfleet/pkg/lock"
	"github.com/cuemby/swiftfleet/pkg/log"
	"github.com/cuemby/swiftfleet/pkg/metrics"
	"github.com/cuemby/swiftfleet/pkg/propagate"
	"github.com/cuemby/swiftfleet/pkg/remote"
	"github.com/cuemby/swiftfleet/pkg/ring"
	"github.com/cuemby/swiftfleet/pkg/storage"
	"github.com/cuemby/swiftfleet/pkg/types"
)

// Operation names, also used as lock holders and metric labels
const (
	OpDeployProxy   = "deploy-proxy"
	OpDeployStorage = "deploy-storage"
	OpAddStorage    = "add-storage"
	OpRemoveStorage = "remove-storage"
	OpSpread        = "spread"
	OpCleanMetadata = "clean-metadata"
)

// StageBootstrap is recorded for storage nodes whose remote deploy-storage
// run failed after they received the metadata
const StageBootstrap = "bootstrap"

// FleetFile lists the fleet members inside every metadata generation
const FleetFile = "fleet.json"

// Report is the outcome of one lifecycle operation
type Report struct {
	Operation  string                  `json:"operation"`
	Version    types.RingVersion       `json:"version"`
	Devices    int                     `json:"devices"`
	DiskAction string                  `json:"diskAction,omitempty"`
	Result     types.PropagationResult `json:"result"`
	StartedAt  time.Time               `json:"startedAt"`
	FinishedAt time.Time               `json:"finishedAt"`
}

// FailedNodes returns the nodes to retry with a targeted spread
func (r *Report) FailedNodes() []string {
	return r.Result.FailedNodes()
}

// Fleet is the content of FleetFile
type Fleet struct {
	Proxies []string      `json:"proxies"`
	Storage []StorageSpec `json:"storage"`
}

// Orchestrator composes rings, propagation and disk versioning into the
// node lifecycle operations. Every operation holds the fleet lock.
type Orchestrator struct {
	params     *config.Params
	exec       remote.Executor
	store      storage.Store
	disks      *disk.Versioning
	rings      *ring.Manager
	propagator *propagate.Propagator
	now        func() time.Time
}

// NewOrchestrator creates an orchestrator. store and disks may be nil on
// nodes that do not keep a fleet registry or own no swift disks.
func NewOrchestrator(params *config.Params, exec remote.Executor, store storage.Store, disks *disk.Versioning, balancer ring.Balancer) *Orchestrator {
	return &Orchestrator{
		params: params,
		exec:   exec,
		store:  store,
		disks:  disks,
		rings:  ring.NewManager(params.MetadataDir, balancer),
		propagator: propagate.NewPropagator(exec, propagate.Config{
			ConfDir:        params.ConfDir,
			CommandTimeout: params.SSHTimeout,
			CopyTimeout:    params.CopyTimeout,
			ApplyCommand:   params.ApplyCommand,
		}),
		now: time.Now,
	}
}

// Rings returns the ring manager
func (o *Orchestrator) Rings() *ring.Manager {
	return o.rings
}

func (o *Orchestrator) credential() remote.Credential {
	return remote.Credential{User: o.params.User, Password: o.params.Password}
}

// run executes fn under the fleet lock and records the operation metrics
func (o *Orchestrator) run(op string, fn func(r *Report) error) (*Report, error) {
	timer := metrics.NewTimer()
	report := &Report{Operation: op, StartedAt: o.now().UTC()}

	err := lock.Run(o.params.LockFile, op, func() error {
		return fn(report)
	})
	report.FinishedAt = o.now().UTC()
	timer.ObserveDurationVec(metrics.OperationDuration, op)

	outcome := "success"
	switch {
	case errors.Is(err, lock.ErrConflict):
		metrics.LockConflicts.Inc()
		outcome = "conflict"
	case err != nil:
		outcome = "error"
	case len(report.Result.Failed) > 0:
		outcome = "partial"
	}
	metrics.OperationsTotal.WithLabelValues(op, outcome).Inc()

	logger := log.WithOperation(op)
	if err != nil {
		logger.Error().Err(err).Msg("Operation aborted")
		return nil, err
	}
	logger.Info().
		Int64("version", report.Version.Version).
		Int("attempted", len(report.Result.Attempted)).
		Int("failed", len(report.Result.Failed)).
		Dur("duration", timer.Duration()).
		Msg("Operation finished")
	return report, nil
}

// DeployProxy creates the rings from scratch, adds every device of the
// storage nodes, rebalances once and pushes the generation to all proxies
// and storage nodes
func (o *Orchestrator) DeployProxy(ctx context.Context, proxies []string, nodes []StorageSpec, replicas int, spec types.DeviceSpec) (*Report, error) {
	if len(proxies) == 0 {
		return nil, usagef("no proxy nodes given")
	}
	if err := validateIPs("proxy", proxies); err != nil {
		return nil, err
	}
	if err := validateStorage(nodes, o.params.ZoneMax); err != nil {
		return nil, err
	}
	if err := validateDevices(spec); err != nil {
		return nil, err
	}
	if replicas < 1 {
		return nil, usagef("replica count must be at least 1, got %d", replicas)
	}
	if devices := len(nodes) * spec.Count; devices < replicas {
		return nil, usagef("%d devices cannot hold %d replicas", devices, replicas)
	}

	return o.run(OpDeployProxy, func(r *Report) error {
		if err := o.rings.Create(replicas, o.params.PartPower); err != nil {
			return err
		}
		if err := o.addDevices(nodes, spec); err != nil {
			return err
		}
		v, err := o.rings.Rebalance()
		if err != nil {
			return err
		}
		r.Version = v
		r.Devices = len(o.rings.Devices(ring.Object))

		if err := o.writeFleet(proxies); err != nil {
			return err
		}
		o.registerProxies(proxies)
		o.registerStorage(nodes, spec, v.Version)

		targets := union(proxies, storageIPs(nodes))
		r.Result = o.propagator.Spread(ctx, o.credential(), o.params.MetadataDir, targets)
		o.bootstrap(ctx, r, proxies[0], storageIPs(nodes), spec)
		return nil
	})
}

// AddStorage adds the devices of new storage nodes, rebalances once for
// the whole batch and pushes the generation to the full fleet
func (o *Orchestrator) AddStorage(ctx context.Context, nodes []StorageSpec, spec types.DeviceSpec) (*Report, error) {
	if err := validateStorage(nodes, o.params.ZoneMax); err != nil {
		return nil, err
	}
	if err := validateDevices(spec); err != nil {
		return nil, err
	}

	return o.run(OpAddStorage, func(r *Report) error {
		if err := o.rings.Load(); err != nil {
			return err
		}
		fleet, err := o.readFleet()
		if err != nil {
			return err
		}
		for _, n := range nodes {
			if o.rings.HasNode(n.IP) {
				return usagef("storage node %s is already in the ring", n.IP)
			}
		}

		if err := o.addDevices(nodes, spec); err != nil {
			return err
		}
		v, err := o.rings.Rebalance()
		if err != nil {
			return err
		}
		r.Version = v
		r.Devices = len(o.rings.Devices(ring.Object))

		if err := o.writeFleet(fleet.Proxies); err != nil {
			return err
		}
		o.registerStorage(nodes, spec, v.Version)

		targets := union(fleet.Proxies, o.rings.NodeIPs())
		r.Result = o.propagator.Spread(ctx, o.credential(), o.params.MetadataDir, targets)
		if len(fleet.Proxies) > 0 {
			o.bootstrap(ctx, r, fleet.Proxies[0], storageIPs(nodes), spec)
		}
		return nil
	})
}

// RemoveStorage takes every device of the nodes out of the rings,
// rebalances once and pushes the generation to the remaining fleet
func (o *Orchestrator) RemoveStorage(ctx context.Context, ips []string) (*Report, error) {
	if len(ips) == 0 {
		return nil, usagef("no storage nodes given")
	}
	if err := validateIPs("storage", ips); err != nil {
		return nil, err
	}

	return o.run(OpRemoveStorage, func(r *Report) error {
		if err := o.rings.Load(); err != nil {
			return err
		}
		fleet, err := o.readFleet()
		if err != nil {
			return err
		}
		leaving := make(map[string]bool, len(ips))
		for _, ip := range ips {
			if !o.rings.HasNode(ip) {
				return usagef("storage node %s is not in the ring", ip)
			}
			leaving[ip] = true
		}
		remaining := 0
		for _, d := range o.rings.Devices(ring.Object) {
			if !leaving[d.IP] {
				remaining++
			}
		}
		if replicas := o.rings.Replicas(ring.Object); remaining < replicas {
			return usagef("%d remaining devices cannot hold %d replicas", remaining, replicas)
		}

		for _, ip := range ips {
			if _, err := o.rings.RemoveDevice(ip); err != nil {
				return err
			}
		}
		v, err := o.rings.Rebalance()
		if err != nil {
			return err
		}
		r.Version = v
		r.Devices = len(o.rings.Devices(ring.Object))

		if err := o.writeFleet(fleet.Proxies); err != nil {
			return err
		}
		o.markRemoved(ips)

		targets := union(fleet.Proxies, o.rings.NodeIPs())
		r.Result = o.propagator.Spread(ctx, o.credential(), o.params.MetadataDir, targets)
		return nil
	})
}

// Spread pushes the current generation again, to nodes or, when nodes is
// empty, to the whole fleet
func (o *Orchestrator) Spread(ctx context.Context, nodes []string) (*Report, error) {
	if err := validateIPs("target", nodes); err != nil {
		return nil, err
	}

	return o.run(OpSpread, func(r *Report) error {
		v, err := ring.ReadVersion(o.params.MetadataDir)
		if err != nil {
			return fmt.Errorf("no metadata generation to spread: %w", err)
		}
		r.Version = v

		targets := nodes
		if len(targets) == 0 {
			if err := o.rings.Load(); err != nil {
				return err
			}
			fleet, err := o.readFleet()
			if err != nil {
				return err
			}
			targets = union(fleet.Proxies, o.rings.NodeIPs())
		}
		r.Result = o.propagator.Spread(ctx, o.credential(), o.params.MetadataDir, targets)
		return nil
	})
}

// DeployStorage runs on a storage node: it pulls the current generation
// from proxy and then remounts or recreates the local swift devices
func (o *Orchestrator) DeployStorage(ctx context.Context, proxy string, spec types.DeviceSpec) (*Report, error) {
	if err := validateIP(proxy); err != nil {
		return nil, err
	}
	if err := validateDevices(spec); err != nil {
		return nil, err
	}
	if o.disks == nil {
		return nil, errors.New("disk versioning is not configured on this node")
	}

	return o.run(OpDeployStorage, func(r *Report) error {
		if _, err := o.propagator.Pull(ctx, o.credential(), proxy, o.params.ConfDir); err != nil {
			return err
		}
		v, err := ring.ReadVersion(o.params.ConfDir)
		if err != nil {
			return fmt.Errorf("pulled metadata has no generation: %w", err)
		}
		r.Version = v

		d, err := o.disks.Decide(ctx, v.Version, spec.Count)
		if err != nil {
			return err
		}
		r.DiskAction = string(d.Action)

		var devices []string
		if d.Action == disk.ActionRemount {
			devices, err = o.disks.RemountDisks(ctx, d.Latest)
		} else {
			devices, err = o.disks.CreateSwiftDevices(ctx, spec.Count, spec.Prefix, disk.Stamp{
				Version:     v.Version,
				Fingerprint: v.Fingerprint,
			})
		}
		r.Devices = len(devices)
		return err
	})
}

// CleanMetadata erases the stamps of every swift disk of this node
func (o *Orchestrator) CleanMetadata(ctx context.Context) ([]string, error) {
	if o.disks == nil {
		return nil, errors.New("disk versioning is not configured on this node")
	}
	var cleaned []string
	err := lock.Run(o.params.LockFile, OpCleanMetadata, func() error {
		var err error
		cleaned, err = o.disks.CleanMetadata(ctx)
		return err
	})
	if errors.Is(err, lock.ErrConflict) {
		metrics.LockConflicts.Inc()
	}
	return cleaned, err
}

func (o *Orchestrator) addDevices(nodes []StorageSpec, spec types.DeviceSpec) error {
	for _, n := range nodes {
		for _, name := range spec.Names() {
			if err := o.rings.AddDevice(n.Zone, n.IP, name); err != nil {
				return err
			}
		}
	}
	return nil
}

// bootstrap asks each storage node that received the generation to run
// deploy-storage against proxy
func (o *Orchestrator) bootstrap(ctx context.Context, r *Report, proxy string, nodes []string, spec types.DeviceSpec) {
	if !o.params.Bootstrap {
		return
	}
	failed := make(map[string]bool)
	for _, n := range r.Result.FailedNodes() {
		failed[n] = true
	}

	arg, err := json.Marshal(DeployStorageRequest{Proxy: proxy, Device: &spec})
	if err != nil {
		return
	}
	cmd := remote.NewCommand(o.params.AgentPath, OpDeployStorage, string(arg))

	for _, node := range nodes {
		if failed[node] {
			continue
		}
		logger := log.WithNode(node)
		res, err := o.exec.Execute(ctx, node, o.credential(), cmd, o.params.DeployTimeout)
		reason := ""
		switch {
		case err != nil:
			reason = err.Error()
		case !res.OK():
			reason = res.Reason()
		}
		if reason != "" {
			r.Result.Failed = append(r.Result.Failed, types.NodeFailure{Node: node, Stage: StageBootstrap, Reason: reason})
			metrics.PropagationFailures.WithLabelValues(StageBootstrap).Inc()
			logger.Warn().Str("reason", reason).Msg("Storage bootstrap failed")
			continue
		}
		o.setMode(node, types.NodeModeService)
		logger.Info().Msg("Storage node bootstrapped")
	}
}

func (o *Orchestrator) readFleet() (Fleet, error) {
	var f Fleet
	data, err := os.ReadFile(filepath.Join(o.params.MetadataDir, FleetFile))
	if err != nil {
		return f, fmt.Errorf("failed to read fleet list (run %s first): %w", OpDeployProxy, err)
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("failed to parse %s: %w", FleetFile, err)
	}
	return f, nil
}

// writeFleet records the proxies and the storage nodes now in the rings
func (o *Orchestrator) writeFleet(proxies []string) error {
	f := Fleet{Proxies: proxies, Storage: []StorageSpec{}}
	for _, ip := range o.rings.NodeIPs() {
		zone, _ := o.rings.ZoneOf(ip)
		f.Storage = append(f.Storage, StorageSpec{IP: ip, Zone: zone})
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(o.params.MetadataDir, FleetFile), append(data, '\n'), 0644)
}

// The fleet registry is advisory; failures to update it are logged and
// never abort an operation whose rings already changed.

func (o *Orchestrator) registerProxies(ips []string) {
	if o.store == nil {
		return
	}
	for _, ip := range ips {
		if _, err := o.store.GetProxyNode(ip); err == nil {
			continue
		}
		if err := o.store.CreateProxyNode(&types.ProxyNode{IP: ip, CreatedAt: o.now().UTC()}); err != nil {
			nodeLog := log.WithNode(ip)
			nodeLog.Warn().Err(err).Msg("Failed to register proxy node")
		}
	}
}

func (o *Orchestrator) registerStorage(nodes []StorageSpec, spec types.DeviceSpec, version int64) {
	if o.store == nil {
		return
	}
	now := o.now().UTC()
	for _, n := range nodes {
		node, err := o.store.GetStorageNode(n.IP)
		if err != nil {
			node = &types.StorageNode{IP: n.IP, CreatedAt: now}
		}
		node.ZoneID = n.Zone
		node.Status = types.NodeStatusAlive
		node.Mode = types.NodeModeWaiting
		node.UpdatedAt = now
		node.Devices = node.Devices[:0]
		for _, name := range spec.Names() {
			node.Devices = append(node.Devices, &types.Device{
				Name:         name,
				NodeIP:       n.IP,
				ZoneID:       n.Zone,
				MountPoint:   filepath.Join(o.params.DevicesDir, name),
				VersionStamp: version,
			})
		}
		if err := o.store.UpdateStorageNode(node); err != nil {
			nodeLog := log.WithNode(n.IP)
			nodeLog.Warn().Err(err).Msg("Failed to register storage node")
		}
	}
}

func (o *Orchestrator) markRemoved(ips []string) {
	if o.store == nil {
		return
	}
	for _, ip := range ips {
		node, err := o.store.GetStorageNode(ip)
		if err != nil {
			node = &types.StorageNode{IP: ip, CreatedAt: o.now().UTC()}
		}
		node.Status = types.NodeStatusRemoved
		node.Devices = nil
		node.UpdatedAt = o.now().UTC()
		if err := o.store.UpdateStorageNode(node); err != nil {
			nodeLog := log.WithNode(ip)
			nodeLog.Warn().Err(err).Msg("Failed to mark storage node removed")
		}
	}
}

func (o *Orchestrator) setMode(ip string, mode types.NodeMode) {
	if o.store == nil {
		return
	}
	node, err := o.store.GetStorageNode(ip)
	if err != nil {
		return
	}
	node.Mode = mode
	node.UpdatedAt = o.now().UTC()
	if err := o.store.UpdateStorageNode(node); err != nil {
		nodeLog := log.WithNode(ip)
		nodeLog.Warn().Err(err).Msg("Failed to update storage node mode")
	}
}
