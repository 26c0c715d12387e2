package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newtron-network/simplerouter/pkg/cli"
)

var showConfigCmd = &cobra.Command{
	Use:   "show-config",
	Short: "Print the parsed configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "Device: %s\n", cli.Bold(cfg.Device.Name))
		if s := cfg.Device.SSH; s != nil {
			remote := s.Remote
			if remote == "" {
				remote = "127.0.0.1:6379"
			}
			fmt.Fprintf(out, "  Redis: %s via ssh %s@%s\n", remote, s.User, s.Host)
		} else {
			fmt.Fprintf(out, "  Redis: %s\n", cfg.Device.RedisAddr)
		}
		fmt.Fprintf(out, "  Holder: %s\n", holder(cfg))
		fmt.Fprintf(out, "  Update mode: %s\n", cfg.UpdateMode)
		fmt.Fprintf(out, "  API: %s\n", cfg.Listen.API)
		if cfg.Listen.Metrics != "" {
			fmt.Fprintf(out, "  Metrics: %s\n", cfg.Listen.Metrics)
		}
		if cfg.AuditLog != "" {
			fmt.Fprintf(out, "  Audit log: %s\n", cfg.AuditLog)
		}

		fmt.Fprintln(out, "\nInterfaces:")
		t := cli.NewTable(out, "PORT", "IP", "MAC").WithPrefix("  ").WithEmpty("(none)")
		for _, i := range cfg.Interfaces {
			t.Row(i.Port, i.IP, i.MAC)
		}
		t.Flush()

		fmt.Fprintln(out, "\nRoutes:")
		t = cli.NewTable(out, "PREFIX", "NEXT HOP", "PORT").WithPrefix("  ").WithEmpty("(none)")
		for _, r := range cfg.Routes {
			t.Row(r.Prefix, r.NextHop, r.Port)
		}
		t.Flush()
		return nil
	},
}
