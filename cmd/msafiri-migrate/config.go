package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	migrator "github.com/enockabere/msafiri-visitor-api-sub004"
	"github.com/enockabere/msafiri-visitor-api-sub004/internal/cli"
)

var (
	configShowSource bool
	configShowFormat = "yaml"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	Long: `Show the configuration msafiri-migrate runs with: defaults merged with the config file
and MSAFIRI_MIGRATE_* environment variables. Passwords are masked.

With --source the config file and the lock that will guard migration runs are
printed to stderr, so stdout stays valid yaml or json.`,
	Example: `  msafiri-migrate config show
  msafiri-migrate config show --source --format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configShowSource {
			source := configPath
			if source == "" {
				source = "(none, defaults and environment only)"
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "config file: %s\nlock: %s\n", source, describeLock(cfg))
		}

		var (
			out []byte
			err error
		)
		switch configShowFormat {
		case "yaml":
			out, err = yaml.Marshal(cfg.Redacted())
		case "json":
			out, err = json.MarshalIndent(cfg.Redacted(), "", "  ")
			out = append(out, '\n')
		default:
			return cli.ConfigError("config show", fmt.Errorf("unknown format %q, expected yaml or json", configShowFormat))
		}
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

// describeLock - блокировка, под которой пойдут запуски при такой конфигурации.
func describeLock(c *cli.Config) string {
	switch c.Lock.Backend {
	case "redis":
		return fmt.Sprintf("redis %s, key %q, ttl %s", c.Lock.Redis.Addr, c.Lock.Key, c.Lock.Redis.TTL)
	case "local":
		return fmt.Sprintf("in-process only, key %q", c.Lock.Key)
	}
	if c.Database.Driver == "sqlite" {
		return "lock file " + migrator.NewSQLiteLock(c.Database.Path).LockFile(c.Lock.Key)
	}
	return fmt.Sprintf("postgres advisory lock, key %q", c.Lock.Key)
}

func init() {
	configShowCmd.Flags().BoolVar(&configShowSource, "source", false, "print the config file and lock to stderr")
	configShowCmd.Flags().StringVar(&configShowFormat, "format", configShowFormat, "output format: yaml or json")
	configCmd.AddCommand(configShowCmd)
}
