package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cuemby/swiftfleet/pkg/backlog"
	"github.com/cuemby/swiftfleet/pkg/deploy"
	"github.com/cuemby/swiftfleet/pkg/storage"
	"github.com/cuemby/swiftfleet/pkg/types"
	"github.com/spf13/cobra"
)

var backlogCmd = &cobra.Command{
	Use:   "backlog",
	Short: "Manage the maintenance backlog",
	Long: `The maintenance backlog records fleet-health events (node_missing,
disk_replace) reported by monitoring for an operator to act on.`,
}

var backlogAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record a maintenance task",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eventType, _ := cmd.Flags().GetString("type")
		target, _ := cmd.Flags().GetString("target")
		reserve, _ := cmd.Flags().GetStringSlice("reserve")
		replace, _ := cmd.Flags().GetStringSlice("replace")
		if eventType == "" || target == "" {
			return fmt.Errorf("%w: --type and --target are required", deploy.ErrUsage)
		}

		return withBacklog(func(b *backlog.Backlog) error {
			task, err := b.AddTask(types.EventType(eventType), target, reserve, replace)
			if errors.Is(err, backlog.ErrInvalidTask) {
				return fmt.Errorf("%w: %v", deploy.ErrUsage, err)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), task.ID)
			return nil
		})
	},
}

var backlogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every maintenance task",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pending, _ := cmd.Flags().GetBool("pending")
		return withBacklog(func(b *backlog.Backlog) error {
			tasks, err := b.ListAll()
			if err != nil {
				return err
			}
			printTasks(cmd.OutOrStdout(), tasks, pending)
			return nil
		})
	},
}

var backlogQueryCmd = &cobra.Command{
	Use:   "query TARGET",
	Short: "List the maintenance tasks of one target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBacklog(func(b *backlog.Backlog) error {
			tasks, err := b.QueryByTarget(args[0])
			if err != nil {
				return err
			}
			printTasks(cmd.OutOrStdout(), tasks, false)
			return nil
		})
	},
}

var backlogResolveCmd = &cobra.Command{
	Use:   "resolve ID",
	Short: "Mark a maintenance task as handled",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBacklog(func(b *backlog.Backlog) error {
			task, err := b.Resolve(args[0])
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: no task %s", deploy.ErrUsage, args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s resolved at %s\n", task.ID, task.ResolvedAt.Format("2006-01-02 15:04:05"))
			return nil
		})
	},
}

func init() {
	backlogAddCmd.Flags().String("type", "", "Event type (node_missing, disk_replace)")
	backlogAddCmd.Flags().String("target", "", "Hostname or address the event is about")
	backlogAddCmd.Flags().StringSlice("reserve", nil, "Disks kept in reserve")
	backlogAddCmd.Flags().StringSlice("replace", nil, "Disks to replace")

	backlogListCmd.Flags().Bool("pending", false, "Only list unresolved tasks")

	backlogCmd.AddCommand(backlogAddCmd)
	backlogCmd.AddCommand(backlogListCmd)
	backlogCmd.AddCommand(backlogQueryCmd)
	backlogCmd.AddCommand(backlogResolveCmd)
	rootCmd.AddCommand(backlogCmd)
}

// withBacklog opens the fleet database for fn. Unlike the lifecycle
// commands, the backlog cannot work without it.
func withBacklog(fn func(b *backlog.Backlog) error) error {
	store, err := storage.NewBoltStore(params.DBFile)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(backlog.New(store))
}

func printTasks(out io.Writer, tasks []*types.MaintenanceTask, pendingOnly bool) {
	for _, t := range tasks {
		if pendingOnly && t.Resolved {
			continue
		}
		state := "pending"
		if t.Resolved {
			state = "resolved"
		}
		fmt.Fprintf(out, "%s  %-12s  %-16s  %-8s  %s  reserve=%s replace=%s\n",
			t.ID, t.EventType, t.Target, state,
			t.CreatedAt.Format("2006-01-02 15:04:05"),
			strings.Join(t.ReserveDisks, ","), strings.Join(t.ReplaceDisks, ","))
	}
}
