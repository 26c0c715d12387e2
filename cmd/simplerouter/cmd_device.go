package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/newtron-network/simplerouter/pkg/cli"
	"github.com/newtron-network/simplerouter/pkg/router"
)

var counterCmd = &cobra.Command{
	Use:   "counter <name> <index>",
	Short: "Read a device counter",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid counter index %q", args[1])
		}
		return withEngine(cmd.Context(), false, false, func(ctx context.Context, r *router.Router) error {
			c, err := r.QueryCounter(ctx, args[0], uint32(index))
			if err != nil {
				return err
			}
			t := cli.NewTable(cmd.OutOrStdout(), "COUNTER", "INDEX", "PACKETS", "BYTES")
			t.Row(args[0], index, c.Packets, c.Bytes)
			t.Flush()
			return nil
		})
	},
}

var pushForce bool

func init() {
	pushConfigCmd.Flags().BoolVar(&pushForce, "force", false, "Push even when another controller is bound")
}

var pushConfigCmd = &cobra.Command{
	Use:   "push-config <file>",
	Short: "Replace the device forwarding pipeline",
	Long: `Push a compiled pipeline configuration to the device.

The device drops every installed table entry. A running controller keeps its
recorded handles, which no longer refer to anything; restart it to reinstall.
The push is refused while another controller holds the device binding unless
--force is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		buf, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading pipeline config: %w", err)
		}
		return withEngine(cmd.Context(), true, pushForce, func(ctx context.Context, r *router.Router) error {
			if err := r.UpdateConfig(ctx, buf); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s pushed %d bytes of pipeline config\n", cli.Green("ok"), len(buf))
			return nil
		})
	},
}
