package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	migrator "github.com/enockabere/msafiri-visitor-api-sub004"
)

var (
	styleID      = lipgloss.NewStyle().Bold(true)
	styleApplied = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	stylePending = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleMuted   = lipgloss.NewStyle().Faint(true)
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

// revisionLine - строка ревизии для вывода: идентификатор, метка и пометки.
func revisionLine(r *migrator.Revision, tags ...string) string {
	var b strings.Builder
	b.WriteString(styleID.Render(r.ID))
	if r.Label != "" {
		b.WriteString(" ")
		b.WriteString(r.Label)
	}
	if len(r.Parents) > 1 {
		tags = append(tags, "merge "+strings.Join(r.Parents, ", "))
	}
	if len(tags) > 0 {
		b.WriteString(" ")
		b.WriteString(styleMuted.Render("(" + strings.Join(tags, ", ") + ")"))
	}
	return b.String()
}

func formatHeads(heads []string) string {
	if len(heads) == 0 {
		return migrator.TargetBase
	}
	return strings.Join(heads, ", ")
}

func printResult(result *migrator.Result) {
	if quiet || result == nil {
		return
	}
	if len(result.Revisions) == 0 {
		fmt.Printf("Nothing to %s, database is at %s\n", result.Direction, formatHeads(result.To))
		return
	}
	for _, id := range result.Revisions {
		fmt.Printf("  %s %s\n", styleApplied.Render(string(result.Direction)), id)
	}
	fmt.Printf("%s -> %s\n", formatHeads(result.From), styleID.Render(formatHeads(result.To)))
}
