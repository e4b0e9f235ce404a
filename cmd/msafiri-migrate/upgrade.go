package main

import (
	"fmt"

	"github.com/spf13/cobra"

	migrator "github.com/enockabere/msafiri-visitor-api-sub004"
)

var upgradeDryRun bool

var upgradeCmd = &cobra.Command{
	Use:   "upgrade [target]",
	Short: "Apply revisions up to target (default: head)",
	Long: `Apply every revision between the applied state and target.

target is head (the single head of the graph), heads (every head), a revision
id or a unique id prefix. Each revision runs in its own transaction together
with the applied-state marker update.`,
	Example: `  # Upgrade to the single head
  msafiri-migrate upgrade

  # Upgrade every branch when the graph has several heads
  msafiri-migrate upgrade heads

  # Print SQL without applying
  msafiri-migrate upgrade 003a --dry-run`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := migrator.TargetHead
		if len(args) == 1 {
			target = args[0]
		}

		m, cleanup, err := openManager(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if upgradeDryRun {
			planned, err := m.Plan(cmd.Context(), migrator.DirectionUpgrade, target)
			if err != nil {
				return err
			}
			printPlan(planned)
			return nil
		}

		result, err := m.Upgrade(cmd.Context(), target)
		printResult(result)
		return err
	},
}

func init() {
	upgradeCmd.Flags().BoolVar(&upgradeDryRun, "dry-run", false, "print SQL without applying")
}

func printPlan(planned []migrator.PlannedRevision) {
	if len(planned) == 0 {
		fmt.Println("-- nothing to do")
		return
	}
	for _, p := range planned {
		fmt.Printf("-- %s %s\n", p.Direction, p.Revision)
		for _, statement := range p.Statements {
			fmt.Printf("%s;\n", statement)
		}
		fmt.Println()
	}
}
