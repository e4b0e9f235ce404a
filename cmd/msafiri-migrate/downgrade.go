package main

import (
	"github.com/spf13/cobra"

	migrator "github.com/enockabere/msafiri-visitor-api-sub004"
)

var downgradeDryRun bool

var downgradeCmd = &cobra.Command{
	Use:   "downgrade <target>",
	Short: "Undo revisions down to target",
	Long: `Undo applied revisions in reverse order until only target and its ancestors
remain applied.

target is an applied revision id or prefix, base (undo everything) or -N
(undo the last N revisions). Nothing runs when an irreversible revision is on
the path.`,
	Example: `  # Undo the last revision
  msafiri-migrate downgrade -- -1

  # Undo everything
  msafiri-migrate downgrade base`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, cleanup, err := openManager(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if downgradeDryRun {
			planned, err := m.Plan(cmd.Context(), migrator.DirectionDowngrade, args[0])
			if err != nil {
				return err
			}
			printPlan(planned)
			return nil
		}

		result, err := m.Downgrade(cmd.Context(), args[0])
		printResult(result)
		return err
	},
}

func init() {
	downgradeCmd.Flags().BoolVar(&downgradeDryRun, "dry-run", false, "print SQL without applying")
}
