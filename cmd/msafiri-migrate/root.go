package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/enockabere/msafiri-visitor-api-sub004/internal/cli"
)

var (
	// заполняются в PersistentPreRunE
	cfg        *cli.Config
	configPath string
	logger     = zap.NewNop()

	// общие флаги
	cfgFile      string
	dbFlag       string
	revisionsDir string
	quiet        bool
)

var rootCmd = &cobra.Command{
	Use:   "msafiri-migrate",
	Short: "Schema migrations for the msafiri visitor API",
	Long: `msafiri-migrate - schema migrations for the msafiri visitor API

Revisions form a graph: every revision names its parents, branches are joined
by merge revisions. The tool applies and undoes revisions in dependency order,
one transaction per revision, under an exclusive lock.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, configPath, err = cli.LoadConfig(cfgFile)
		if err != nil {
			return cli.ConfigError("loading configuration", err)
		}

		logger, err = cli.NewLogger(cfg.Log)
		if err != nil {
			return cli.ConfigError("building logger", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

const (
	groupMigrate = "migrate"
	groupInspect = "inspect"
	groupUtility = "utility"
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: auto-discover msafiri-migrate.yaml)")
	pf.StringVar(&dbFlag, "db", "", "database URL (postgres) or file path (sqlite), overrides config")
	pf.StringVar(&revisionsDir, "revisions-dir", "", "directory with revision files, overrides config")
	pf.BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupMigrate, Title: "Migrate:"},
		&cobra.Group{ID: groupInspect, Title: "Inspect:"},
		&cobra.Group{ID: groupUtility, Title: "Utility:"},
	)

	upgradeCmd.GroupID = groupMigrate
	downgradeCmd.GroupID = groupMigrate
	stampCmd.GroupID = groupMigrate
	rootCmd.AddCommand(upgradeCmd, downgradeCmd, stampCmd)

	currentCmd.GroupID = groupInspect
	headsCmd.GroupID = groupInspect
	historyCmd.GroupID = groupInspect
	checkDriftCmd.GroupID = groupInspect
	validateCmd.GroupID = groupInspect
	rootCmd.AddCommand(currentCmd, headsCmd, historyCmd, checkDriftCmd, validateCmd)

	configCmd.GroupID = groupUtility
	versionCmd.GroupID = groupUtility
	rootCmd.AddCommand(configCmd, versionCmd)
}

// Execute запускает корневую команду. SIGINT и SIGTERM отменяют контекст: текущая ревизия
// откатывается, маркер остается на последней зафиксированной.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		cli.ExitWithError(err)
	}
}

// resolveString возвращает первое непустое значение: флаг > конфигурация > значение по умолчанию.
func resolveString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// resolveBool возвращает true, если хотя бы одно значение true.
func resolveBool(values ...bool) bool {
	for _, v := range values {
		if v {
			return true
		}
	}
	return false
}
