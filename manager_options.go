package db_migrator

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ManagerOption func(*MigrationManager)

func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *MigrationManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithLocker заменяет блокировку по умолчанию (advisory lock для PostgreSQL, файловая блокировка для SQLite).
func WithLocker(locker Locker) ManagerOption {
	return func(m *MigrationManager) {
		m.locker = locker
	}
}

func WithLockKey(key string) ManagerOption {
	return func(m *MigrationManager) {
		if key != "" {
			m.lockKey = key
		}
	}
}

// WithLockTimeout ограничивает ожидание блокировки. По истечении возвращается LockTimeoutError.
func WithLockTimeout(timeout time.Duration) ManagerOption {
	return func(m *MigrationManager) {
		if timeout > 0 {
			m.lockTimeout = timeout
		}
	}
}

func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *MigrationManager) {
		m.metrics = metrics
	}
}

func WithTracerProvider(provider trace.TracerProvider) ManagerOption {
	return func(m *MigrationManager) {
		if provider != nil {
			m.tracer = provider.Tracer(instrumentationName)
		}
	}
}

// WithIgnoreTables исключает таблицы из проверки дрейфа (например, таблицы, которыми управляет не мигратор).
func WithIgnoreTables(tables ...string) ManagerOption {
	return func(m *MigrationManager) {
		m.ignoreTables = append(m.ignoreTables, tables...)
	}
}
