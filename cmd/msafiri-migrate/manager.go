package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"

	migrator "github.com/enockabere/msafiri-visitor-api-sub004"
	"github.com/enockabere/msafiri-visitor-api-sub004/internal/cli"
)

// loadRevisions читает legacy SQL-цепочку (если настроена) и YAML-ревизии.
func loadRevisions() ([]*migrator.Revision, error) {
	var revisions []*migrator.Revision

	if cfg.LegacySQLDir != "" {
		legacy, err := migrator.LoadSQLDir(cfg.LegacySQLDir)
		if err != nil {
			return nil, cli.ConfigError("loading legacy sql migrations", err)
		}
		revisions = append(revisions, legacy...)
	}

	dir := resolveString(revisionsDir, cfg.RevisionsDir)
	loaded, err := migrator.LoadDir(dir)
	if err != nil {
		return nil, cli.ConfigError("loading revisions", err)
	}
	return append(revisions, loaded...), nil
}

// openManager собирает менеджер по конфигурации. cleanup закрывает соединения и отправляет
// метрики в pushgateway; вызывать его нужно и при ошибке команды.
func openManager(ctx context.Context) (m *migrator.MigrationManager, cleanup func(), err error) {
	revisions, err := loadRevisions()
	if err != nil {
		return nil, nil, err
	}

	dialector, err := cfg.Dialector(dbFlag)
	if err != nil {
		return nil, nil, cli.ConfigError("database configuration", err)
	}

	locker, closeLocker, err := cli.NewLocker(ctx, cfg.Lock, logger)
	if err != nil {
		return nil, nil, cli.ConfigError("lock configuration", err)
	}

	registry := prometheus.NewRegistry()
	opts := []migrator.ManagerOption{
		migrator.WithLogger(logger),
		migrator.WithLockKey(cfg.Lock.Key),
		migrator.WithLockTimeout(cfg.Lock.Timeout),
		migrator.WithMetrics(migrator.NewMetrics(registry)),
		migrator.WithIgnoreTables(cfg.Drift.IgnoreTables...),
	}
	if locker != nil {
		opts = append(opts, migrator.WithLocker(locker))
	}

	m, err = migrator.NewMigrationsManagerWithDialector(dialector, opts...)
	if err != nil {
		_ = closeLocker()
		return nil, nil, cli.ConfigError("creating migrator", err)
	}
	m.Register(revisions...)

	cleanup = func() {
		if err := m.Close(); err != nil {
			logger.Warn("closing database connection", zap.Error(err))
		}
		if err := closeLocker(); err != nil {
			logger.Warn("closing lock backend", zap.Error(err))
		}
		pushMetrics(registry)
	}
	return m, cleanup, nil
}

func pushMetrics(registry *prometheus.Registry) {
	if cfg.Metrics.PushgatewayURL == "" {
		return
	}
	err := push.New(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job).
		Gatherer(registry).
		Push()
	if err != nil {
		logger.Warn("pushing metrics", zap.String("url", cfg.Metrics.PushgatewayURL), zap.Error(err))
	}
}
