package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/simplerouter/pkg/cli"
	"github.com/newtron-network/simplerouter/pkg/router"
)

var stateJSON bool

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the running controller's tables",
	Long: `Fetch the engine state from the running controller's management API
(listen.api) and print interfaces, routes, neighbors and pending queues.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, raw, err := fetchState(cmd.Context(), "http://"+cfg.Listen.API+"/api/v1/state")
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if stateJSON {
			_, err := out.Write(raw)
			return err
		}

		assigned := cli.Red("no")
		if st.Assigned {
			assigned = cli.Green("yes")
		}
		fmt.Fprintf(out, "Device: %s  Assigned: %s\n", cli.Bold(st.Device), assigned)

		fmt.Fprintln(out, "\nInterfaces:")
		t := cli.NewTable(out, "PORT", "IP", "MAC", "HANDLE").WithPrefix("  ").WithEmpty("(none)")
		for _, i := range st.Interfaces {
			t.Row(i.Port, i.IP, i.MAC, cli.HandleString(uint64(i.Handle)))
		}
		t.Flush()

		fmt.Fprintln(out, "\nRoutes:")
		t = cli.NewTable(out, "PREFIX", "NEXT HOP", "PORT", "HANDLE").WithPrefix("  ").WithEmpty("(none)")
		for _, r := range st.Routes {
			t.Row(r.Prefix, r.NextHop, r.Port, cli.HandleString(uint64(r.Handle)))
		}
		t.Flush()

		fmt.Fprintln(out, "\nNeighbors:")
		t = cli.NewTable(out, "IP", "MAC", "HANDLE").WithPrefix("  ").WithEmpty("(none)")
		for _, n := range st.Neighbors {
			t.Row(n.IP, n.MAC, cli.HandleString(uint64(n.Handle)))
		}
		t.Flush()

		fmt.Fprintln(out, "\nPending:")
		t = cli.NewTable(out, "NEXT HOP", "PORT", "STATE", "PACKETS").WithPrefix("  ").WithEmpty("(none)")
		for _, p := range st.Pending {
			t.Row(p.NextHop, p.Port, p.State, p.Packets)
		}
		t.Flush()
		return nil
	},
}

func fetchState(ctx context.Context, url string) (*router.State, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("querying controller: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading state: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("controller returned %s: %s", resp.Status, raw)
	}
	var st router.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, nil, fmt.Errorf("decoding state: %w", err)
	}
	return &st, raw, nil
}

func init() {
	stateCmd.Flags().BoolVar(&stateJSON, "json", false, "Output JSON")
}
