package main

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Задаются через ldflags при сборке.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var versionShort bool

type buildInfo struct {
	Version   string
	Commit    string
	Date      string
	Modified  bool
	GoVersion string
}

// currentBuild дополняет значения из ldflags тем, что go build записал о модуле и VCS.
func currentBuild() buildInfo {
	b := buildInfo{Version: version, Commit: commit, Date: date, GoVersion: runtime.Version()}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	if b.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "unknown" {
				b.Commit = s.Value[:min(len(s.Value), 12)]
			}
		case "vcs.time":
			if b.Date == "unknown" {
				b.Date = s.Value
			}
		case "vcs.modified":
			b.Modified = s.Value == "true"
		}
	}
	return b
}

func (b buildInfo) String() string {
	rev := b.Commit
	if b.Modified {
		rev += "-dirty"
	}
	return fmt.Sprintf("msafiri-migrate %s (commit %s, built %s, %s)", b.Version, rev, b.Date, b.GoVersion)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		b := currentBuild()
		if versionShort {
			fmt.Fprintln(cmd.OutOrStdout(), b.Version)
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), b)
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "print only the version")
}
