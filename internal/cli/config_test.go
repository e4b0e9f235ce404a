package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// chdir меняет рабочий каталог до конца теста, как testing.T.Chdir.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Setenv("PWD", dir)
	t.Cleanup(func() {
		require.NoError(t, os.Chdir(prev))
	})
}

// isolate переходит в пустой каталог проекта, чтобы поиск конфигурации не вышел за его пределы.
func isolate(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	chdir(t, root)
	return root
}

func TestLoadConfig_Defaults(t *testing.T) {
	isolate(t)

	cfg, path, err := LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, path)

	assert.Equal(t, "migrations/revisions", cfg.RevisionsDir)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "prefer", cfg.Database.SSLMode)
	assert.Equal(t, "database", cfg.Lock.Backend)
	assert.Equal(t, "msafiri-schema-migrations", cfg.Lock.Key)
	assert.Equal(t, 30*time.Second, cfg.Lock.Timeout)
	assert.Equal(t, "localhost:6379", cfg.Lock.Redis.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "msafiri-migrate", cfg.Metrics.Job)
	assert.False(t, cfg.Drift.FailOnDrift)
}

func TestLoadConfig_FileDiscovery(t *testing.T) {
	root := isolate(t)
	writeFile(t, filepath.Join(root, "msafiri-migrate.yaml"), `
revisions_dir: db/revisions
database:
  driver: sqlite
  path: visitors.db
lock:
  backend: local
  timeout: 5s
drift:
  fail_on_drift: true
  ignore_tables: [alembic_version, spatial_ref_sys]
`)
	nested := filepath.Join(root, "app", "api")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	chdir(t, nested)

	cfg, path, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "msafiri-migrate.yaml"), path)
	assert.Equal(t, "db/revisions", cfg.RevisionsDir)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "visitors.db", cfg.Database.Path)
	assert.Equal(t, "local", cfg.Lock.Backend)
	assert.Equal(t, 5*time.Second, cfg.Lock.Timeout)
	assert.True(t, cfg.Drift.FailOnDrift)
	assert.Equal(t, []string{"alembic_version", "spatial_ref_sys"}, cfg.Drift.IgnoreTables)
}

func TestLoadConfig_StopsAtRepositoryRoot(t *testing.T) {
	outer := t.TempDir()
	writeFile(t, filepath.Join(outer, "msafiri-migrate.yml"), "revisions_dir: outer\n")
	project := filepath.Join(outer, "project")
	require.NoError(t, os.MkdirAll(filepath.Join(project, ".git"), 0o755))
	chdir(t, project)

	cfg, path, err := LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, "migrations/revisions", cfg.RevisionsDir)
}

func TestLoadConfig_OtherFormats(t *testing.T) {
	root := isolate(t)
	writeFile(t, filepath.Join(root, "msafiri-migrate.json"), `{"revisions_dir": "db/revisions", "lock": {"backend": "local"}}`)

	cfg, path, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "msafiri-migrate.json"), path)
	assert.Equal(t, "db/revisions", cfg.RevisionsDir)
	assert.Equal(t, "local", cfg.Lock.Backend)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	root := isolate(t)
	writeFile(t, filepath.Join(root, "custom.yaml"), "log:\n  level: warn\nlock:\n  timeout: 5s\n")

	t.Setenv("MSAFIRI_MIGRATE_LOG_LEVEL", "debug")
	t.Setenv("MSAFIRI_MIGRATE_LOCK_TIMEOUT", "2m")
	t.Setenv("MSAFIRI_MIGRATE_DATABASE_URL", "postgres://msafiri:secret@db:5432/msafiri")

	cfg, path, err := LoadConfig(filepath.Join(root, "custom.yaml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "custom.yaml"), path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 2*time.Minute, cfg.Lock.Timeout)
	assert.Equal(t, "postgres://msafiri:secret@db:5432/msafiri", cfg.Database.URL)
}

func TestLoadConfig_Errors(t *testing.T) {
	root := isolate(t)

	_, _, err := LoadConfig(filepath.Join(root, "missing.yaml"))
	assert.ErrorContains(t, err, "config file not found")

	writeFile(t, filepath.Join(root, "broken.yaml"), "database: [\n")
	_, _, err = LoadConfig(filepath.Join(root, "broken.yaml"))
	assert.ErrorContains(t, err, "reading config file")

	writeFile(t, filepath.Join(root, "mysql.yaml"), "database:\n  driver: mysql\n")
	_, _, err = LoadConfig(filepath.Join(root, "mysql.yaml"))
	assert.ErrorContains(t, err, "database.driver")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Database: DatabaseConfig{Driver: "postgres"},
			Lock:     LockConfig{Backend: "database", Timeout: time.Second},
			Log:      LogConfig{Format: "console"},
		}
	}
	base := valid()
	require.NoError(t, base.Validate())

	cases := map[string]func(c *Config){
		"lock backend": func(c *Config) { c.Lock.Backend = "etcd" },
		"lock.timeout": func(c *Config) { c.Lock.Timeout = 0 },
		"log.format":   func(c *Config) { c.Log.Format = "xml" },
	}
	for contains, mutate := range cases {
		c := valid()
		mutate(&c)
		assert.ErrorContains(t, c.Validate(), contains)
	}
}

func TestConfig_DSN(t *testing.T) {
	c := Config{Database: DatabaseConfig{
		Host: "db.msafiri.internal", Port: 5432, Name: "msafiri", User: "api", Password: `p@ss wo'rd`, SSLMode: "require",
	}}
	dsn, err := c.DSN()
	require.NoError(t, err)
	assert.Equal(t, `host=db.msafiri.internal port=5432 dbname=msafiri user=api password='p@ss wo\'rd' sslmode=require`, dsn)

	parsed, err := pgconn.ParseConfig(dsn)
	require.NoError(t, err)
	assert.Equal(t, "db.msafiri.internal", parsed.Host)
	assert.Equal(t, uint16(5432), parsed.Port)
	assert.Equal(t, "msafiri", parsed.Database)
	assert.Equal(t, `p@ss wo'rd`, parsed.Password)

	c.Database.URL = "postgres://other@localhost/x"
	dsn, err = c.DSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://other@localhost/x", dsn)

	c.Database.URL = "postgres://other@localhost:notaport/x"
	_, err = c.DSN()
	assert.ErrorContains(t, err, "database connection settings")

	for field, db := range map[string]DatabaseConfig{
		"database.host": {Name: "msafiri", User: "api"},
		"database.name": {Host: "db", User: "api"},
		"database.user": {Host: "db", Name: "msafiri"},
	} {
		_, err := (&Config{Database: db}).DSN()
		assert.ErrorContains(t, err, field)
	}
}

func TestConfig_Dialector(t *testing.T) {
	sqliteCfg := Config{Database: DatabaseConfig{Driver: "sqlite", Path: "msafiri.db"}}
	d, err := sqliteCfg.Dialector("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())

	sqliteCfg.Database.Path = ""
	_, err = sqliteCfg.Dialector("")
	assert.ErrorContains(t, err, "database.path")

	pgCfg := Config{Database: DatabaseConfig{Driver: "postgres"}}
	_, err = pgCfg.Dialector("")
	assert.ErrorContains(t, err, "database.host")

	d, err = pgCfg.Dialector("postgres://api@localhost/msafiri")
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())
}

func TestConfig_Redacted(t *testing.T) {
	c := Config{
		Database: DatabaseConfig{URL: "postgres://api:secret@db:5432/msafiri", Password: "secret"},
		Lock:     LockConfig{Redis: RedisConfig{Password: "redis-secret"}},
		Drift:    DriftConfig{IgnoreTables: []string{"alembic_version"}},
	}

	r := c.Redacted()
	assert.Equal(t, "********", r.Database.Password)
	assert.Equal(t, "********", r.Lock.Redis.Password)
	assert.NotContains(t, r.Database.URL, "secret")
	assert.Contains(t, r.Database.URL, "api:")

	r.Drift.IgnoreTables[0] = "changed"
	assert.Equal(t, "alembic_version", c.Drift.IgnoreTables[0])
	assert.Equal(t, "secret", c.Database.Password)
}
