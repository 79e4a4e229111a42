package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cuemby/swiftfleet/pkg/config"
	"github.com/cuemby/swiftfleet/pkg/deploy"
	"github.com/cuemby/swiftfleet/pkg/log"
	"github.com/cuemby/swiftfleet/pkg/metrics"
	"github.com/cuemby/swiftfleet/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// DefaultConfigPath is read when --config is not given
const DefaultConfigPath = "/etc/delta/swift.ini"

// Process exit codes
const (
	ExitOK      = 0
	ExitUsage   = 1
	ExitPartial = 2
	ExitAborted = 3
)

// errPartial is returned by commands whose generation reached only part of
// the fleet
var errPartial = errors.New("propagation incomplete")

var (
	params    *config.Params
	logCloser io.Closer

	// started is set once configuration and logging are up; errors before
	// that point are usage errors
	started bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if logCloser != nil {
		logCloser.Close()
	}
	code := exitCode(err, started)
	if err != nil && !errors.Is(err, errPartial) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(code)
}

// exitCode maps a command error onto the process exit status
func exitCode(err error, started bool) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, errPartial):
		return ExitPartial
	case errors.Is(err, deploy.ErrUsage), !started:
		return ExitUsage
	default:
		return ExitAborted
	}
}

var rootCmd = &cobra.Command{
	Use:   "swiftfleet",
	Short: "swiftfleet - swift storage fleet orchestrator",
	Long: `swiftfleet builds the account, container and object rings of a swift
storage cluster, pushes each metadata generation to every proxy and storage
node, and brings storage node disks up to the current generation.

Exit status: 0 success, 1 usage error, 2 partial propagation (failed nodes
are printed one per line), 3 aborted.`,
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"swiftfleet version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", deploy.ErrUsage, err)
	})

	rootCmd.PersistentFlags().String("config", DefaultConfigPath, "Fleet configuration file (INI)")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level (debug, info, warn, error)")
}

// setup loads the configuration and opens the log file
func setup(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	p, err := config.Load(path)
	if err != nil {
		return err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		p.LogLevel = lvl
	}

	if logCloser != nil {
		logCloser.Close()
	}
	closer, err := log.Init(log.Config{
		Level:      log.ParseLevel(p.LogLevel),
		JSONOutput: p.LogJSON,
		File:       p.LogFile(),
	})
	logCloser = closer
	if err != nil {
		log.Logger.Warn().Err(err).Msg("Logging to stderr only")
	}

	params = p
	started = true
	return nil
}

// openStore opens the fleet registry. Lifecycle commands keep working
// without it, so failures are only logged.
func openStore() storage.Store {
	store, err := storage.NewBoltStore(params.DBFile)
	if err != nil {
		log.Logger.Warn().Err(err).Str("path", params.DBFile).Msg("Fleet registry unavailable")
		return nil
	}
	return store
}

func closeStore(store storage.Store) {
	if store != nil {
		store.Close()
	}
}

// finish prints the failed nodes, persists the report and the metrics
// textfile and turns partial propagation into errPartial
func finish(out io.Writer, report *deploy.Report, store storage.Store) error {
	for _, node := range report.FailedNodes() {
		fmt.Fprintln(out, node)
	}

	if store != nil {
		metrics.NewCollector(store).Collect()
	}
	if path, err := writeReport(params.ReportDir, report); err != nil {
		log.Logger.Warn().Err(err).Msg("Failed to write report")
	} else {
		log.Logger.Debug().Str("path", path).Msg("Report written")
	}
	if err := writeMetrics(params.ReportDir); err != nil {
		log.Logger.Warn().Err(err).Msg("Failed to write metrics textfile")
	}

	if len(report.Result.Failed) > 0 {
		return fmt.Errorf("%w: %d of %d nodes failed", errPartial, len(report.Result.Failed), len(report.Result.Attempted))
	}
	return nil
}

// writeReport stores the report as <dir>/<operation>-<unix>.json and as
// <dir>/<operation>-latest.json
func writeReport(dir string, report *deploy.Report) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	data = append(data, '\n')

	stamp := report.FinishedAt
	if stamp.IsZero() {
		stamp = time.Now()
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%d.json", report.Operation, stamp.Unix()))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	latest := filepath.Join(dir, report.Operation+"-latest.json")
	if err := os.WriteFile(latest, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

func writeMetrics(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return metrics.WriteTextfile(filepath.Join(dir, "swiftfleet.prom"))
}
