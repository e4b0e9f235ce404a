package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	migrator "github.com/enockabere/msafiri-visitor-api-sub004"
)

var currentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the applied heads of the database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, cleanup, err := openManager(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		graph, _, err := m.Graph()
		if err != nil {
			return err
		}
		current, err := m.Current(cmd.Context())
		if err != nil {
			return err
		}
		if len(current) == 0 {
			fmt.Println(styleMuted.Render(migrator.TargetBase + " (nothing applied)"))
			return nil
		}

		heads := make(map[string]bool)
		for _, id := range graph.Heads() {
			heads[id] = true
		}
		for _, id := range current {
			r, ok := graph.Revision(id)
			if !ok {
				return fmt.Errorf("applied-state marker names revision %q which is not in the loaded revision set: %w", id, migrator.ErrUnknownRevision)
			}
			var tags []string
			if heads[id] {
				tags = append(tags, "head")
			}
			fmt.Println(revisionLine(r, tags...))
		}
		return nil
	},
}

var headsCmd = &cobra.Command{
	Use:   "heads",
	Short: "Show the heads of the revision graph",
	Long:  `Show revisions without children. More than one head means a merge revision is missing.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, cleanup, err := openManager(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		heads, err := m.Heads()
		if err != nil {
			return err
		}
		for _, r := range heads {
			fmt.Println(revisionLine(r, "head"))
		}
		if len(heads) > 1 && !quiet {
			fmt.Println(stylePending.Render(fmt.Sprintf("%d heads: add a merge revision listing them as parents", len(heads))))
		}
		return nil
	},
}

var (
	historyGraph  bool
	historyEvents int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List revisions in application order",
	Example: `  # Revisions with applied marks
  msafiri-migrate history

  # Show parents of every revision
  msafiri-migrate history --graph

  # Last 20 entries of the run log
  msafiri-migrate history --events 20`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, cleanup, err := openManager(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if historyEvents > 0 {
			events, err := m.Events(cmd.Context(), historyEvents)
			if err != nil {
				return err
			}
			printEvents(events)
			return nil
		}

		entries, err := m.History(cmd.Context())
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Println(historyLine(e, historyGraph))
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().BoolVar(&historyGraph, "graph", false, "show parents of every revision")
	historyCmd.Flags().IntVar(&historyEvents, "events", 0, "show the last N entries of the run log instead")
}

func historyLine(e migrator.HistoryEntry, withParents bool) string {
	mark := stylePending.Render("[ ]")
	if e.Applied {
		mark = styleApplied.Render("[x]")
	}

	var tags []string
	if e.Current {
		tags = append(tags, "current")
	}
	if e.Head {
		tags = append(tags, "head")
	}
	if e.Revision.Irreversible {
		tags = append(tags, "irreversible")
	}

	line := mark + " " + revisionLine(e.Revision, tags...)
	if withParents {
		parents := migrator.TargetBase
		if len(e.Revision.Parents) > 0 {
			parents = strings.Join(e.Revision.Parents, ", ")
		}
		line += "\n      " + styleMuted.Render("<- "+parents)
	}
	return line
}

func printEvents(events []migrator.Event) {
	if len(events) == 0 {
		fmt.Println(styleMuted.Render("run log is empty"))
		return
	}
	for _, e := range events {
		state := styleApplied.Render(e.State)
		if e.Error != "" {
			state = styleError.Render(e.State)
		}
		fmt.Printf("%s  %-9s %-8s %s %s\n",
			e.ExecutedOn.Format(time.RFC3339),
			e.Direction, state, styleID.Render(e.Revision),
			styleMuted.Render(fmt.Sprintf("%s run %s", e.Duration, e.RunID)),
		)
		if e.Error != "" {
			fmt.Printf("    %s\n", e.Error)
		}
	}
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the revision graph without touching the database",
	Long: `Load every revision file and check the graph: duplicate ids, unknown
parents, cycles and invalid definitions. Multiple heads are reported but do
not fail validation.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, cleanup, err := openManager(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		graph, validation, err := m.Graph()
		if err != nil {
			return err
		}
		if quiet {
			return nil
		}

		fmt.Printf("Revision graph is valid: %d revisions\n", graph.Len())
		fmt.Printf("  bases:  %s\n", strings.Join(validation.Bases, ", "))
		fmt.Printf("  heads:  %s\n", strings.Join(validation.Heads, ", "))
		if len(validation.Merges) > 0 {
			fmt.Printf("  merges: %s\n", strings.Join(validation.Merges, ", "))
		}
		if validation.MultipleHeads != nil {
			fmt.Println(stylePending.Render(validation.MultipleHeads.Error()))
		}
		return nil
	},
}
