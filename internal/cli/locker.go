package cli

import (
	"context"
	"fmt"

	migrator "github.com/enockabere/msafiri-visitor-api-sub004"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewLocker возвращает блокировку для lock.backend. Для database возвращает nil:
// менеджер сам выберет advisory lock PostgreSQL или файловую блокировку SQLite.
// closeFn освобождает клиент redis и всегда не nil.
func NewLocker(ctx context.Context, cfg LockConfig, logger *zap.Logger) (locker migrator.Locker, closeFn func() error, err error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case "", "database":
		return nil, noop, nil
	case "local":
		return migrator.NewLocalLock(), noop, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("connect to redis %s: %w", cfg.Redis.Addr, err)
		}
		return migrator.NewRedisLock(client, cfg.Redis.TTL).WithLogger(logger), client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}
