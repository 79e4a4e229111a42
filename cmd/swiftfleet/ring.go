package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/cuemby/swiftfleet/pkg/ring"
	"github.com/spf13/cobra"
)

var ringCmd = &cobra.Command{
	Use:   "ring",
	Short: "Inspect the rings",
}

var ringShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current generation and the device load of each ring",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m := ring.NewManager(params.MetadataDir, nil)
		if err := m.Load(); err != nil {
			return err
		}
		summary := m.Summary()

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		}
		printSummary(cmd.OutOrStdout(), summary, m.Fingerprint())
		return nil
	},
}

func init() {
	ringShowCmd.Flags().Bool("json", false, "Print the summary as JSON")
	ringCmd.AddCommand(ringShowCmd)
	rootCmd.AddCommand(ringCmd)
}

func printSummary(out io.Writer, s ring.Summary, fingerprint string) {
	fmt.Fprintf(out, "Version:     %d\n", s.Version.Version)
	if !s.Version.CreatedAt.IsZero() {
		fmt.Fprintf(out, "Created:     %s\n", s.Version.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(out, "Fingerprint: %s\n", fingerprint)

	for _, r := range s.Rings {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "%s: %d partitions, %d replicas, %d devices\n", r.Kind, r.Partitions, r.Replicas, r.Devices)

		zones := make([]int, 0, len(r.Zones))
		for z := range r.Zones {
			zones = append(zones, z)
		}
		sort.Ints(zones)
		for _, z := range zones {
			fmt.Fprintf(out, "  zone %d: %d devices\n", z, r.Zones[z])
		}

		devices := make([]string, 0, len(r.Load))
		for d := range r.Load {
			devices = append(devices, d)
		}
		sort.Strings(devices)
		for _, d := range devices {
			fmt.Fprintf(out, "  %-24s %d\n", d, r.Load[d])
		}
	}
}
