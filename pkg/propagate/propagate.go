package propagate

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/cuemby/swiftfleet/pkg/archive"
	"github.com/cuemby/swiftfleet/pkg/log"
	"github.com/cuemby/swiftfleet/pkg/metrics"
	"github.com/cuemby/swiftfleet/pkg/remote"
	"github.com/cuemby/swiftfleet/pkg/types"
)

// Stages recorded in NodeFailure.Stage
const (
	StagePrepare = "prepare"
	StageCopy    = "copy"
	StageVerify  = "verify"
	StageChown   = "chown"
	StageApply   = "apply"
	StagePull    = "pull"
)

// Owner is the account that owns the config directory on every node
const Owner = "swift:swift"

// Config holds propagator settings
type Config struct {
	// ConfDir is the well-known config path on every node
	ConfDir string

	// CommandTimeout bounds the short commands (mkdir, test, chown)
	CommandTimeout time.Duration

	// CopyTimeout bounds the file transfer
	CopyTimeout time.Duration

	// ApplyCommand, when set, runs on each node after its files are verified
	ApplyCommand []string

	// SkipChown leaves ownership untouched, for hosts without a swift user
	SkipChown bool
}

// Propagator pushes a metadata generation to fleet nodes
type Propagator struct {
	exec remote.Executor
	cfg  Config
}

// NewPropagator creates a propagator over an executor
func NewPropagator(exec remote.Executor, cfg Config) *Propagator {
	return &Propagator{exec: exec, cfg: cfg}
}

// Spread copies every file of sourceDir to the config path of each node,
// one node at a time. A node that fails any step is recorded with the
// stage and reason, and the remaining nodes are still attempted.
func (p *Propagator) Spread(ctx context.Context, cred remote.Credential, sourceDir string, nodes []string) types.PropagationResult {
	logger := log.WithComponent("propagate")
	result := types.PropagationResult{Attempted: append([]string(nil), nodes...)}

	payload, names, err := archive.Pack(sourceDir)
	if err != nil {
		// Nothing can be shipped; every node misses this generation
		logger.Error().Err(err).Str("source", sourceDir).Msg("Failed to pack metadata")
		for _, node := range nodes {
			result.Failed = append(result.Failed, types.NodeFailure{Node: node, Stage: StagePrepare, Reason: err.Error()})
		}
		p.record(result)
		return result
	}

	for _, node := range nodes {
		timer := metrics.NewTimer()
		if failure := p.spreadNode(ctx, cred, node, payload, names); failure != nil {
			result.Failed = append(result.Failed, *failure)
			nodeLog := log.WithNode(node)
			nodeLog.Warn().
				Str("stage", failure.Stage).
				Str("reason", failure.Reason).
				Msg("Metadata propagation failed")
		} else {
			nodeLog := log.WithNode(node)
			nodeLog.Info().Int("files", len(names)).Msg("Metadata propagated")
		}
		timer.ObserveDuration(metrics.PropagationDuration)
	}

	p.record(result)
	logger.Info().
		Int("attempted", len(result.Attempted)).
		Int("failed", len(result.Failed)).
		Msg("Propagation finished")
	return result
}

type step struct {
	stage   string
	cmd     remote.Command
	timeout time.Duration
}

func (p *Propagator) spreadNode(ctx context.Context, cred remote.Credential, node string, payload []byte, names []string) *types.NodeFailure {
	steps := []step{
		{StagePrepare, remote.NewCommand("mkdir", "-p", p.cfg.ConfDir), p.cfg.CommandTimeout},
		{StageCopy, remote.NewCommand("tar", "-xzf", "-", "-C", p.cfg.ConfDir).WithStdin(payload), p.cfg.CopyTimeout},
	}
	for _, name := range names {
		steps = append(steps, step{StageVerify, remote.NewCommand("test", "-f", path.Join(p.cfg.ConfDir, name)), p.cfg.CommandTimeout})
	}

	for _, s := range steps {
		if reason := p.run(ctx, cred, node, s.cmd, s.timeout); reason != "" {
			return &types.NodeFailure{Node: node, Stage: s.stage, Reason: reason}
		}
	}

	if !p.cfg.SkipChown {
		cmd := remote.NewCommand("chown", "-R", Owner, p.cfg.ConfDir)
		if reason := p.run(ctx, cred, node, cmd, p.cfg.CommandTimeout); reason != "" {
			return &types.NodeFailure{Node: node, Stage: StageChown, Reason: reason}
		}
	}

	if len(p.cfg.ApplyCommand) > 0 {
		cmd := remote.NewCommand(p.cfg.ApplyCommand[0], p.cfg.ApplyCommand[1:]...)
		if reason := p.run(ctx, cred, node, cmd, p.cfg.CopyTimeout); reason != "" {
			return &types.NodeFailure{Node: node, Stage: StageApply, Reason: reason}
		}
	}
	return nil
}

// run executes one command and returns a failure reason, or "" on success
func (p *Propagator) run(ctx context.Context, cred remote.Credential, node string, cmd remote.Command, timeout time.Duration) string {
	res, err := p.exec.Execute(ctx, node, cred, cmd, timeout)
	if err != nil {
		metrics.RemoteCommandsTotal.WithLabelValues(cmd.Program, "invalid").Inc()
		return err.Error()
	}
	if !res.OK() {
		outcome := "failed"
		if res.TimedOut() {
			outcome = "timeout"
		}
		metrics.RemoteCommandsTotal.WithLabelValues(cmd.Program, outcome).Inc()
		return fmt.Sprintf("%s: %s", cmd.Program, res.Reason())
	}
	metrics.RemoteCommandsTotal.WithLabelValues(cmd.Program, "ok").Inc()
	return ""
}

func (p *Propagator) record(result types.PropagationResult) {
	metrics.PropagationAttempts.Add(float64(len(result.Attempted)))
	for _, f := range result.Failed {
		metrics.PropagationFailures.WithLabelValues(f.Stage).Inc()
	}
}

// Pull fetches the config directory of host into destDir and returns the
// names of the files written
func (p *Propagator) Pull(ctx context.Context, cred remote.Credential, host, destDir string) ([]string, error) {
	cmd := remote.NewCommand("tar", "-czf", "-", "-C", p.cfg.ConfDir, ".")
	res, err := p.exec.Execute(ctx, host, cred, cmd, p.cfg.CopyTimeout)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, fmt.Errorf("failed to pull metadata from %s: %s", host, res.Reason())
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", destDir, err)
	}
	names, err := archive.Unpack(res.Stdout, destDir)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack metadata from %s: %w", host, err)
	}
	nodeLog := log.WithNode(host)
	nodeLog.Info().Int("files", len(names)).Str("dest", destDir).Msg("Pulled metadata")
	return names, nil
}
