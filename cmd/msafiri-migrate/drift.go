package main

import (
	"fmt"

	"github.com/spf13/cobra"

	migrator "github.com/enockabere/msafiri-visitor-api-sub004"
)

var checkDriftFail bool

var checkDriftCmd = &cobra.Command{
	Use:   "check-drift",
	Short: "Compare the live schema with the applied revisions",
	Long: `Inspect the live database schema and compare it with the schema the applied
revisions declare. Discrepancies are reported; the command fails with exit
code 10 only with --fail-on-drift (or drift.fail_on_drift in config).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, cleanup, err := openManager(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		report, err := m.CheckDrift(cmd.Context())
		if err != nil {
			return err
		}
		printDrift(report)

		if resolveBool(checkDriftFail, cfg.Drift.FailOnDrift) {
			return report.Err()
		}
		return nil
	},
}

func init() {
	checkDriftCmd.Flags().BoolVar(&checkDriftFail, "fail-on-drift", false, "exit with code 10 when drift is found")
}

func printDrift(report *migrator.DriftReport) {
	if quiet {
		return
	}
	if !report.HasDrift() {
		fmt.Printf("%s live schema matches %s\n", styleApplied.Render("ok"), formatHeads(report.Applied))
		return
	}

	fmt.Printf("%s %d discrepancies against %s\n",
		styleError.Render("drift"), len(report.Discrepancies), formatHeads(report.Applied))
	for _, d := range report.Discrepancies {
		fmt.Printf("  %s\n", d)
	}
}
