package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	migrator "github.com/enockabere/msafiri-visitor-api-sub004"
	"github.com/enockabere/msafiri-visitor-api-sub004/internal/cli"
)

var testRevisions = map[string]string{
	"001.yaml": `
id: "001"
label: create tenants
created_at: 2024-03-04
upgrade:
  - op: create_table
    table: tenants
    columns:
      - {name: id, type: integer, primary_key: true}
      - {name: name, type: varchar(255)}
`,
	"002.yaml": `
id: "002"
parents: "001"
created_at: 2024-03-11
upgrade:
  - op: add_column
    table: tenants
    column: {name: country, type: varchar(100), nullable: true}
`,
	"003.yaml": `
id: "003"
parents: "002"
created_at: 2024-06-18
upgrade:
  - op: sql
    sql: UPDATE tenants SET country = 'KE'
irreversible: true
irreversible_reason: data backfill
`,
}

type project struct {
	config string
	db     string
}

func newProject(t *testing.T, revisions map[string]string) project {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "revisions")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, content := range revisions {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	p := project{config: filepath.Join(root, "msafiri-migrate.yaml"), db: filepath.Join(root, "msafiri.db")}
	config := "revisions_dir: " + dir + "\n" +
		"database:\n  driver: sqlite\n  path: " + p.db + "\n" +
		"lock:\n  backend: local\n  timeout: 2s\n" +
		"log:\n  level: error\n"
	require.NoError(t, os.WriteFile(p.config, []byte(config), 0o644))
	return p
}

// run выполняет команду с чистыми значениями флагов: cobra не сбрасывает их между запусками.
func (p project) run(t *testing.T, args ...string) error {
	t.Helper()
	upgradeDryRun, downgradeDryRun, checkDriftFail = false, false, false
	historyGraph, historyEvents, configShowSource = false, 0, false
	configShowFormat, versionShort = "yaml", false
	dbFlag, revisionsDir = "", ""
	quiet = true

	rootCmd.SetArgs(append([]string{"--config", p.config}, args...))
	return rootCmd.ExecuteContext(context.Background())
}

func (p project) current(t *testing.T) []string {
	t.Helper()
	m, err := migrator.NewMigrationsManagerWithDialector(sqlite.Open(p.db))
	require.NoError(t, err)
	defer m.Close()
	current, err := m.Current(context.Background())
	require.NoError(t, err)
	return current
}

func TestCommands(t *testing.T) {
	p := newProject(t, testRevisions)

	require.NoError(t, p.run(t, "validate"))
	require.NoError(t, p.run(t, "heads"))

	require.NoError(t, p.run(t, "upgrade", "--dry-run"))
	assert.Empty(t, p.current(t))

	require.NoError(t, p.run(t, "upgrade", "002"))
	assert.Equal(t, []string{"002"}, p.current(t))

	require.NoError(t, p.run(t, "current"))
	require.NoError(t, p.run(t, "history", "--graph"))
	require.NoError(t, p.run(t, "history", "--events", "5"))
	require.NoError(t, p.run(t, "check-drift", "--fail-on-drift"))

	require.NoError(t, p.run(t, "downgrade", "--", "-1"))
	assert.Equal(t, []string{"001"}, p.current(t))

	require.NoError(t, p.run(t, "upgrade"))
	assert.Equal(t, []string{"003"}, p.current(t))

	err := p.run(t, "downgrade", "base")
	assert.Equal(t, cli.ExitIrreversible, cli.ExitCodeFor(err))
	assert.Equal(t, []string{"003"}, p.current(t))

	require.NoError(t, p.run(t, "stamp", "001"))
	assert.Equal(t, []string{"001"}, p.current(t))

	// таблица уже содержит колонку country, а маркер говорит о 001
	require.NoError(t, p.run(t, "check-drift"))
	err = p.run(t, "check-drift", "--fail-on-drift")
	assert.Equal(t, cli.ExitDriftDetected, cli.ExitCodeFor(err))

	require.NoError(t, p.run(t, "config", "show", "--source"))
	require.NoError(t, p.run(t, "config", "show", "--format", "json"))
	err = p.run(t, "config", "show", "--format", "toml")
	assert.Equal(t, cli.ExitConfig, cli.ExitCodeFor(err))
	require.NoError(t, p.run(t, "version", "--short"))
}

func TestDescribeLock(t *testing.T) {
	c := &cli.Config{
		Database: cli.DatabaseConfig{Driver: "sqlite", Path: "/var/lib/msafiri/msafiri.db"},
		Lock:     cli.LockConfig{Backend: "database", Key: "msafiri-schema-migrations"},
	}
	assert.Equal(t, "lock file /var/lib/msafiri/msafiri.db.msafiri-schema-migrations.lock", describeLock(c))

	c.Database.Driver = "postgres"
	assert.Equal(t, `postgres advisory lock, key "msafiri-schema-migrations"`, describeLock(c))

	c.Lock.Backend = "redis"
	c.Lock.Redis = cli.RedisConfig{Addr: "redis:6379", TTL: 30 * time.Second}
	assert.Equal(t, `redis redis:6379, key "msafiri-schema-migrations", ttl 30s`, describeLock(c))
}

func TestBuildInfo(t *testing.T) {
	b := buildInfo{Version: "v1.4.0", Commit: "3f2a9c1d0e7b", Date: "2026-03-02T09:00:00Z", GoVersion: "go1.24.4"}
	assert.Equal(t, "msafiri-migrate v1.4.0 (commit 3f2a9c1d0e7b, built 2026-03-02T09:00:00Z, go1.24.4)", b.String())

	b.Modified = true
	assert.Contains(t, b.String(), "commit 3f2a9c1d0e7b-dirty")

	assert.NotEmpty(t, currentBuild().GoVersion)
}

func TestCommands_GraphErrors(t *testing.T) {
	cases := map[string]struct {
		revisions map[string]string
		code      int
	}{
		"cycle": {
			revisions: map[string]string{
				"a.yaml": "id: a\nparents: b\n",
				"b.yaml": "id: b\nparents: a\n",
			},
			code: cli.ExitCyclicGraph,
		},
		"dangling parent": {
			revisions: map[string]string{"a.yaml": "id: a\nparents: missing\n"},
			code:      cli.ExitDanglingParent,
		},
		"duplicate": {
			revisions: map[string]string{
				"a.yaml":      "id: a\nlabel: one\n",
				"a_copy.yaml": "id: a\nlabel: two\n",
			},
			code: cli.ExitDuplicateRevision,
		},
		"multiple heads": {
			revisions: map[string]string{
				"a.yaml": "id: a\n",
				"b.yaml": "id: b\nparents: a\n",
				"c.yaml": "id: c\nparents: a\n",
			},
			code: cli.ExitMultipleHeads,
		},
		"broken file": {
			revisions: map[string]string{"a.yaml": "id: a\nupgrade:\n  - op: nope\n"},
			code:      cli.ExitConfig,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			p := newProject(t, tc.revisions)
			err := p.run(t, "upgrade")
			require.Error(t, err)
			assert.Equal(t, tc.code, cli.ExitCodeFor(err))

			_, statErr := os.Stat(p.db)
			assert.True(t, os.IsNotExist(statErr), "database must not be touched")
		})
	}
}

func TestCommands_MissingConfig(t *testing.T) {
	rootCmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "current"})
	err := rootCmd.ExecuteContext(context.Background())
	assert.Equal(t, cli.ExitConfig, cli.ExitCodeFor(err))
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "flag", resolveString("flag", "config"))
	assert.Equal(t, "config", resolveString("", "config"))
	assert.Equal(t, "", resolveString("", ""))
	assert.True(t, resolveBool(false, true))
	assert.False(t, resolveBool(false, false))
}

func TestFormatHeads(t *testing.T) {
	assert.Equal(t, "base", formatHeads(nil))
	assert.Equal(t, "003a, 003b", formatHeads([]string{"003a", "003b"}))
}
