package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"shark-etcher/internal/device"
)

func listCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List detected block devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := device.List(cmd.Context(), !all)
			if err != nil {
				return fmt.Errorf("failed to list devices: %w", err)
			}
			if len(devices) == 0 {
				fmt.Println("No devices detected")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			for _, dev := range devices {
				removable := ""
				if dev.Removable {
					removable = " (removable)"
				}
				mounts := "--"
				if dev.Mounted() {
					mounts = strings.Join(dev.Mountpoints, ", ")
				}
				fmt.Fprintf(w, "%s\t%s\t%s%s\tMounted: %s\n",
					dev.Path, device.FormatSize(dev.SizeBytes), dev.Description(), removable, mounts)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include non-removable devices")
	return cmd
}
