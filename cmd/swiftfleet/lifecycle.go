package main

import (
	"fmt"

	"github.com/cuemby/swiftfleet/pkg/deploy"
	"github.com/cuemby/swiftfleet/pkg/disk"
	"github.com/cuemby/swiftfleet/pkg/remote"
	"github.com/spf13/cobra"
)

var deployProxyCmd = &cobra.Command{
	Use:   "deploy-proxy [JSON]",
	Short: "Create the rings and deploy them to proxies and storage nodes",
	Long: `Create the account, container and object rings from scratch, add every
device of the given storage nodes, rebalance once and push the generation
to every proxy and storage node.

Examples:
  swiftfleet deploy-proxy '{"proxies":["10.0.0.1"],"storage":[{"ip":"10.0.0.11","zid":1},{"ip":"10.0.0.12","zid":2}]}'
  swiftfleet deploy-proxy -f fleet.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req deploy.DeployProxyRequest
		if err := readRequest(cmd, args, &req); err != nil {
			return err
		}
		store := openStore()
		defer closeStore(store)

		orch := deploy.NewOrchestrator(params, remote.NewSSHExecutor(), store, nil, nil)
		report, err := orch.DeployProxy(cmd.Context(), req.Proxies, req.Storage, replicas(params, req.Replicas), deviceSpec(params, req.Device))
		if err != nil {
			return err
		}
		return finish(cmd.OutOrStdout(), report, store)
	},
}

var deployStorageCmd = &cobra.Command{
	Use:   "deploy-storage [JSON]",
	Short: "Pull the current generation and bring the local disks up to it",
	Long: `Run on a storage node. Pull the metadata from a proxy, then remount the
swift devices if their stamps match the pulled generation, or format and
stamp them again if they do not.

Examples:
  swiftfleet deploy-storage '{"proxy":"10.0.0.1"}'`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req deploy.DeployStorageRequest
		if err := readRequest(cmd, args, &req); err != nil {
			return err
		}
		orch := deploy.NewOrchestrator(params, remote.NewSSHExecutor(), nil, localDisks(), nil)
		report, err := orch.DeployStorage(cmd.Context(), req.Proxy, deviceSpec(params, req.Device))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d devices at version %d\n", report.DiskAction, report.Devices, report.Version.Version)
		return finish(cmd.OutOrStdout(), report, nil)
	},
}

var addStorageCmd = &cobra.Command{
	Use:   "add-storage [JSON]",
	Short: "Add storage nodes to the rings",
	Long: `Add every device of the given storage nodes to the rings with a single
rebalance and push the generation to the whole fleet.

Examples:
  swiftfleet add-storage '{"storage":[{"ip":"10.0.0.13","zid":3}]}'`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req deploy.AddStorageRequest
		if err := readRequest(cmd, args, &req); err != nil {
			return err
		}
		store := openStore()
		defer closeStore(store)

		orch := deploy.NewOrchestrator(params, remote.NewSSHExecutor(), store, nil, nil)
		report, err := orch.AddStorage(cmd.Context(), req.Storage, deviceSpec(params, req.Device))
		if err != nil {
			return err
		}
		return finish(cmd.OutOrStdout(), report, store)
	},
}

var removeStorageCmd = &cobra.Command{
	Use:   "remove-storage [JSON]",
	Short: "Remove storage nodes from the rings",
	Long: `Take every device of the given storage nodes out of the rings with a
single rebalance and push the generation to the remaining fleet.

Examples:
  swiftfleet remove-storage '{"storage":["10.0.0.13"]}'`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req deploy.RemoveStorageRequest
		if err := readRequest(cmd, args, &req); err != nil {
			return err
		}
		store := openStore()
		defer closeStore(store)

		orch := deploy.NewOrchestrator(params, remote.NewSSHExecutor(), store, nil, nil)
		report, err := orch.RemoveStorage(cmd.Context(), req.Storage)
		if err != nil {
			return err
		}
		return finish(cmd.OutOrStdout(), report, store)
	},
}

var spreadCmd = &cobra.Command{
	Use:   "spread [NODE...]",
	Short: "Push the current generation again",
	Long: `Push the current metadata generation to the given nodes, or to the whole
fleet when none are given. Use it to retry the nodes printed by a partial
deploy-proxy, add-storage or remove-storage.

Examples:
  swiftfleet spread 10.0.0.12
  swiftfleet spread`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := openStore()
		defer closeStore(store)

		orch := deploy.NewOrchestrator(params, remote.NewSSHExecutor(), store, nil, nil)
		report, err := orch.Spread(cmd.Context(), args)
		if err != nil {
			return err
		}
		return finish(cmd.OutOrStdout(), report, store)
	},
}

var cleanMetadataCmd = &cobra.Command{
	Use:   "clean-metadata",
	Short: "Erase the stamps of every swift disk on this node",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		orch := deploy.NewOrchestrator(params, remote.NewLocalExecutor(), nil, localDisks(), nil)
		cleaned, err := orch.CleanMetadata(cmd.Context())
		for _, d := range cleaned {
			fmt.Fprintln(cmd.OutOrStdout(), d)
		}
		return err
	},
}

func init() {
	for _, cmd := range []*cobra.Command{deployProxyCmd, deployStorageCmd, addStorageCmd, removeStorageCmd} {
		addFileFlag(cmd)
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(spreadCmd)
	rootCmd.AddCommand(cleanMetadataCmd)
}

// localDisks versions the disks of this host
func localDisks() *disk.Versioning {
	host := disk.NewExecHost(remote.NewLocalExecutor(), params.SSHTimeout, params.DevicesDir)
	return disk.NewVersioning(host, params.DevicesDir)
}
