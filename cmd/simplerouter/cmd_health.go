package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/simplerouter/pkg/cli"
	"github.com/newtron-network/simplerouter/pkg/device"
	"github.com/newtron-network/simplerouter/pkg/health"
)

var (
	healthCheckName string
	healthJSON      bool
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the device and its controller binding",
	Long: `Run the device and binding health checks directly against the device.
Engine checks need a running controller; query its /api/v1/health instead.

Examples:
  simplerouter health
  simplerouter health --check binding`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		dev, err := device.Dial(ctx, deviceOptions(cfg))
		if err != nil {
			return err
		}
		defer dev.Close()

		target := health.Target{Name: cfg.Device.Name, Holder: holder(cfg), Device: dev}
		checker := health.NewChecker()
		out := cmd.OutOrStdout()

		if healthCheckName != "" {
			result, err := checker.RunCheck(ctx, target, healthCheckName)
			if err != nil {
				return err
			}
			if healthJSON {
				return json.NewEncoder(out).Encode(result)
			}
			fmt.Fprintf(out, "%s: %s %s\n", cli.Bold(result.Check), formatStatus(result.Status), result.Message)
			return nil
		}

		report := checker.Run(ctx, target)
		if healthJSON {
			return json.NewEncoder(out).Encode(report)
		}
		fmt.Fprintf(out, "Health Report for %s\n\n", cli.Bold(report.Device))
		t := cli.NewTable(out, "CHECK", "STATUS", "MESSAGE", "DURATION")
		for _, r := range report.Results {
			t.Row(r.Check, formatStatus(r.Status), r.Message, r.Duration.Round(time.Microsecond))
		}
		t.Flush()
		fmt.Fprintf(out, "\nOverall Status: %s\n", formatStatus(report.Overall))
		return nil
	},
}

func formatStatus(status health.Status) string {
	switch status {
	case health.StatusOK:
		return cli.Green("OK")
	case health.StatusWarning:
		return cli.Yellow("WARNING")
	case health.StatusCritical:
		return cli.Red("CRITICAL")
	default:
		return string(status)
	}
}

func init() {
	healthCmd.Flags().StringVar(&healthCheckName, "check", "", "Run one check (device, binding)")
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "Output JSON")
}
