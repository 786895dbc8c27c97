package main

import (
	"fmt"
	"time"

	"collectbook/internal/core"
	"collectbook/internal/ports"

	"github.com/spf13/cobra"
)

func anomalyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anomaly",
		Short: "Check a period's collection total against its baselines",
		Long: `Compare the total collected in a month with the prior month and the
same month of the prior year.

Without --customer or --site the overall total is checked. With --scan every
customer and site is checked and only anomalies are printed.`,
		Args: cobra.NoArgs,
		RunE: runAnomaly,
	}

	now := time.Now()
	cmd.Flags().Int("year", now.Year(), "year of the period")
	cmd.Flags().Int("month", int(now.Month()), "month of the period (1-12)")
	cmd.Flags().Int64("customer", 0, "limit to one customer id")
	cmd.Flags().Int64("site", 0, "limit to one site id")
	cmd.Flags().Bool("record", false, "store an alert when the result is an anomaly")
	cmd.Flags().Bool("scan", false, "check every customer and site, recording alerts")

	return cmd
}

func runAnomaly(cmd *cobra.Command, _ []string) error {
	year, _ := cmd.Flags().GetInt("year")
	month, _ := cmd.Flags().GetInt("month")
	customerID, _ := cmd.Flags().GetInt64("customer")
	siteID, _ := cmd.Flags().GetInt64("site")
	record, _ := cmd.Flags().GetBool("record")
	scan, _ := cmd.Flags().GetBool("scan")

	period := core.Period{Year: year, Month: month}
	if err := period.Validate(); err != nil {
		return err
	}
	if scan && (customerID != 0 || siteID != 0) {
		return fmt.Errorf("--scan cannot be combined with --customer or --site")
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if scan {
		reports, err := a.anomalies.ScanPeriod(ctx, period)
		if err != nil {
			return fmt.Errorf("scan %s: %w", period, err)
		}
		return printJSON(cmd.OutOrStdout(), reports)
	}

	scope := ports.Scope{CustomerID: customerID, SiteID: siteID}
	check := a.anomalies.Check
	if record {
		check = a.anomalies.CheckAndRecord
	}
	report, err := check(ctx, scope, period)
	if err != nil {
		return fmt.Errorf("check %s: %w", period, err)
	}
	return printJSON(cmd.OutOrStdout(), report)
}
