package main

import (
	"github.com/spf13/cobra"
)

var stampCmd = &cobra.Command{
	Use:   "stamp <target>",
	Short: "Set the applied-state marker without running operations",
	Long: `Record target as the applied state without executing any operation.
Use it after restoring a backup or reverting a revision by hand.`,
	Example: `  # Adopt an existing database at revision 002
  msafiri-migrate stamp 002

  # Forget every applied revision
  msafiri-migrate stamp base`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, cleanup, err := openManager(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		result, err := m.Stamp(cmd.Context(), args[0])
		printResult(result)
		return err
	},
}
