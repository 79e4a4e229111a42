package main

import (
	"fmt"

	"github.com/cuemby/swiftfleet/pkg/lock"
	"github.com/spf13/cobra"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Remove a fleet lock left behind by a crashed operation",
	Long: `Remove the fleet lock file. Only use this after making sure the
operation that holds it is no longer running on this node.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		holder, err := lock.Inspect(params.LockFile)
		if err != nil {
			return err
		}
		if holder == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Fleet is not locked")
			return nil
		}
		if holder.Operation != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Lock held by %s (pid %d on %s since %s)\n",
				holder.Operation, holder.PID, holder.Hostname, holder.AcquiredAt.Format("2006-01-02 15:04:05"))
		}
		if err := lock.Clear(params.LockFile); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Lock removed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(unlockCmd)
}
