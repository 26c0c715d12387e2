package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/simplerouter/pkg/audit"
	"github.com/newtron-network/simplerouter/pkg/cli"
)

var (
	auditOperation string
	auditLast       string
	auditLimit      int
	auditFailures   bool
	auditJSON       bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List changes recorded by the management API",
	Long: `List the interface, route, default-entry and pipeline changes made
through the management API, read from the configured audit_log.

Examples:
  simplerouter audit --last 24h
  simplerouter audit --operation route.add --failures`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.AuditLog == "" {
			return fmt.Errorf("audit_log is not set in %s", configPath)
		}

		filter := audit.Filter{
			Device:      cfg.Device.Name,
			Operation:   auditOperation,
			Limit:       auditLimit,
			FailureOnly: auditFailures,
		}
		if auditLast != "" {
			d, err := time.ParseDuration(auditLast)
			if err != nil {
				return fmt.Errorf("invalid duration: %s", auditLast)
			}
			filter.StartTime = time.Now().Add(-d)
		}

		events, err := audit.ReadFile(cfg.AuditLog, filter)
		if err != nil {
			return fmt.Errorf("reading audit log: %w", err)
		}
		if auditJSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(events)
		}

		t := cli.NewTable(cmd.OutOrStdout(), "TIMESTAMP", "CLIENT", "OPERATION", "TARGET", "STATUS").
			WithEmpty("No audit events found")
		for _, e := range events {
			status := cli.Green("ok")
			if !e.Success {
				status = cli.Red("failed: " + e.Error)
			}
			t.Row(e.Timestamp.Format("2006-01-02 15:04:05"), e.ClientIP, e.Operation, e.Target, status)
		}
		t.Flush()
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditOperation, "operation", "", "Filter by operation (interface.add, route.add, defaults.set, pipeline.update)")
	auditCmd.Flags().StringVar(&auditLast, "last", "", "Show events from the last duration (e.g. 24h)")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum events to show")
	auditCmd.Flags().BoolVar(&auditFailures, "failures", false, "Show only failed operations")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "Output JSON")
}
