package cli

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	configName = "msafiri-migrate"
	envPrefix  = "MSAFIRI_MIGRATE"
)

// Config - конфигурация msafiri-migrate из msafiri-migrate.yaml.
type Config struct {
	RevisionsDir string `mapstructure:"revisions_dir" json:"revisions_dir"`
	LegacySQLDir string `mapstructure:"legacy_sql_dir" json:"legacy_sql_dir"`

	Database DatabaseConfig `mapstructure:"database" json:"database"`
	Lock     LockConfig     `mapstructure:"lock" json:"lock"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics" json:"metrics"`
	Drift    DriftConfig    `mapstructure:"drift" json:"drift"`
}

type DatabaseConfig struct {
	// Driver - postgres или sqlite.
	Driver   string `mapstructure:"driver" json:"driver"`
	URL      string `mapstructure:"url" json:"url"`
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	Name     string `mapstructure:"name" json:"name"`
	User     string `mapstructure:"user" json:"user"`
	Password string `mapstructure:"password" json:"password"`
	SSLMode  string `mapstructure:"sslmode" json:"sslmode"`
	// Path - файл базы для sqlite.
	Path string `mapstructure:"path" json:"path"`
}

type LockConfig struct {
	// Backend - database (advisory lock postgres или файловая блокировка sqlite), redis или local.
	Backend string        `mapstructure:"backend" json:"backend"`
	Key     string        `mapstructure:"key" json:"key"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
	Redis   RedisConfig   `mapstructure:"redis" json:"redis"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr" json:"addr"`
	Password string        `mapstructure:"password" json:"password"`
	DB       int           `mapstructure:"db" json:"db"`
	TTL      time.Duration `mapstructure:"ttl" json:"ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" json:"pushgateway_url"`
	Job            string `mapstructure:"job" json:"job"`
}

type DriftConfig struct {
	FailOnDrift  bool     `mapstructure:"fail_on_drift" json:"fail_on_drift"`
	IgnoreTables []string `mapstructure:"ignore_tables" json:"ignore_tables"`
}

// LoadConfig ищет и загружает конфигурацию с приоритетом: флаги > env > файл > значения по умолчанию.
// Возвращает конфигурацию и путь к файлу (пустой, если файл не найден).
func LoadConfig(explicitConfigPath string) (*Config, string, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitConfigPath != "" {
		if _, err := os.Stat(explicitConfigPath); err != nil {
			return nil, "", fmt.Errorf("config file not found: %s", explicitConfigPath)
		}
		v.SetConfigFile(explicitConfigPath)
	} else {
		dirs, err := searchDirs()
		if err != nil {
			return nil, "", err
		}
		v.SetConfigName(configName)
		for _, dir := range dirs {
			v.AddConfigPath(dir)
		}
	}

	var configPath string
	var notFound viper.ConfigFileNotFoundError
	switch err := v.ReadInConfig(); {
	case errors.As(err, &notFound):
	case err != nil:
		return nil, v.ConfigFileUsed(), fmt.Errorf("reading config file: %w", err)
	default:
		configPath = v.ConfigFileUsed()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, configPath, err
	}

	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("revisions_dir", "migrations/revisions")
	v.SetDefault("legacy_sql_dir", "")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "prefer")
	v.SetDefault("database.path", "msafiri.db")

	v.SetDefault("lock.backend", "database")
	v.SetDefault("lock.key", "msafiri-schema-migrations")
	v.SetDefault("lock.timeout", 30*time.Second)
	v.SetDefault("lock.redis.addr", "localhost:6379")
	v.SetDefault("lock.redis.password", "")
	v.SetDefault("lock.redis.db", 0)
	v.SetDefault("lock.redis.ttl", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "msafiri-migrate")

	v.SetDefault("drift.fail_on_drift", false)
	v.SetDefault("drift.ignore_tables", []string{})
}

// searchDirs возвращает каталоги поиска msafiri-migrate.{yaml,yml,json,...}: от cwd вверх
// до корня репозитория (каталога с .git) включительно.
func searchDirs() ([]string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting cwd: %w", err)
	}

	var dirs []string
	for {
		dirs = append(dirs, dir)
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dirs, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dirs, nil
		}
		dir = parent
	}
}

// Validate проверяет значения, которые нельзя исправить значениями по умолчанию.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}

	switch c.Lock.Backend {
	case "database", "redis", "local":
	default:
		return fmt.Errorf("lock.backend must be database, redis or local, got %q", c.Lock.Backend)
	}
	if c.Lock.Timeout <= 0 {
		return fmt.Errorf("lock.timeout must be positive, got %s", c.Lock.Timeout)
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}

	return nil
}

// DSN возвращает строку подключения к PostgreSQL: database.url как есть или строку key=value
// из отдельных полей. Строка разбирается pgconn, поэтому ошибка в настройках видна до подключения.
func (c *Config) DSN() (string, error) {
	db := c.Database
	dsn := db.URL
	if dsn == "" {
		for _, required := range []struct{ field, value string }{
			{"database.host", db.Host},
			{"database.name", db.Name},
			{"database.user", db.User},
		} {
			if required.value == "" {
				return "", fmt.Errorf("%s is required when database.url is not set", required.field)
			}
		}

		settings := []string{"host=" + dsnValue(db.Host)}
		if db.Port != 0 {
			settings = append(settings, "port="+strconv.Itoa(db.Port))
		}
		settings = append(settings, "dbname="+dsnValue(db.Name), "user="+dsnValue(db.User))
		if db.Password != "" {
			settings = append(settings, "password="+dsnValue(db.Password))
		}
		if db.SSLMode != "" {
			settings = append(settings, "sslmode="+dsnValue(db.SSLMode))
		}
		dsn = strings.Join(settings, " ")
	}

	if _, err := pgconn.ParseConfig(dsn); err != nil {
		return "", fmt.Errorf("database connection settings: %w", err)
	}
	return dsn, nil
}

var dsnEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// dsnValue берет значение в кавычки, если без них pgconn разберет его иначе.
func dsnValue(s string) string {
	if s != "" && !strings.ContainsAny(s, ` '\`) {
		return s
	}
	return "'" + dsnEscaper.Replace(s) + "'"
}

// Dialector возвращает gorm-диалектор для настроенной базы. dsnOverride (флаг --db) имеет приоритет.
func (c *Config) Dialector(dsnOverride string) (gorm.Dialector, error) {
	switch c.Database.Driver {
	case "sqlite":
		path := dsnOverride
		if path == "" {
			path = c.Database.Path
		}
		if path == "" {
			return nil, fmt.Errorf("database.path is required for sqlite")
		}
		return sqlite.Open(path), nil
	default:
		dsn := dsnOverride
		if dsn == "" {
			var err error
			if dsn, err = c.DSN(); err != nil {
				return nil, err
			}
		}
		return postgres.New(postgres.Config{DSN: dsn, PreferSimpleProtocol: true}), nil
	}
}

// Redacted возвращает копию конфигурации без паролей для вывода.
func (c *Config) Redacted() Config {
	out := *c
	if out.Database.Password != "" {
		out.Database.Password = "********"
	}
	if out.Lock.Redis.Password != "" {
		out.Lock.Redis.Password = "********"
	}
	if out.Database.URL != "" {
		if u, err := url.Parse(out.Database.URL); err == nil && u.User != nil {
			if _, ok := u.User.Password(); ok {
				u.User = url.UserPassword(u.User.Username(), "********")
				out.Database.URL = u.String()
			}
		}
	}
	out.Drift.IgnoreTables = append([]string(nil), c.Drift.IgnoreTables...)
	return out
}
