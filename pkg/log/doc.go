/*
Package log provides structured logging for swiftfleet using zerolog.

The package wraps a single package-level zerolog.Logger that is configured
once by the CLI from the [log] section of the fleet configuration. Components
derive child loggers carrying a component, node or operation field so that a
fleet-wide push can be followed node by node in the log file.

# Usage

Initializing the Logger:

	closer, err := log.Init(log.Config{
		Level:      log.ParseLevel(params.LogLevel),
		JSONOutput: params.LogJSON,
		File:       params.LogFile(),
	})
	defer closer.Close()

Component Loggers:

	logger := log.WithComponent("propagate")
	logger.Info().Str("node", ip).Msg("Metadata copied")

	nodeLog := log.WithNode("172.16.229.34")
	nodeLog.Warn().Str("stage", "verify").Msg("Ring file missing after copy")

Levels:
  - debug: every remote command and its exit code
  - info: operation start/end, generation numbers, per-node success
  - warn: per-node failures that were recorded and skipped
  - error: failures that abort the operation
*/
package log
