package db_migrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisLockPrefix     = "schema-migrator:lock:"
	defaultRedisLockTTL = 30 * time.Second
)

// снимаем блокировку, только если она все еще наша
var redisReleaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

var redisExtendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// RedisLock - блокировка через SET NX PX для операторов, запускающих миграции с разных машин.
// Пока блокировка удерживается, ее TTL периодически продлевается.
type RedisLock struct {
	client       redis.UniversalClient
	ttl          time.Duration
	pollInterval time.Duration
	logger       *zap.Logger
}

func NewRedisLock(client redis.UniversalClient, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = defaultRedisLockTTL
	}
	return &RedisLock{client: client, ttl: ttl, pollInterval: defaultLockPollInterval, logger: zap.NewNop()}
}

// WithLogger задает логгер для сбоев продления TTL.
func (l *RedisLock) WithLogger(logger *zap.Logger) *RedisLock {
	if logger != nil {
		l.logger = logger
	}
	return l
}

func (l *RedisLock) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := redisLockPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		acquired, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("acquire redis lock %s: %w", key, err)
		}
		if acquired {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.keepAlive(redisKey, token, stop)
	}()

	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() {
			close(stop)
			wg.Wait()
			_ = redisReleaseScript.Run(context.Background(), l.client, []string{redisKey}, token).Err()
		})
	}
	return release, nil
}

func (l *RedisLock) keepAlive(redisKey, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			extended, err := redisExtendScript.Run(
				context.Background(), l.client, []string{redisKey}, token, l.ttl.Milliseconds(),
			).Int64()
			switch {
			case err != nil:
				l.logger.Warn("Failed to extend redis lock, it expires unless the next attempt succeeds",
					zap.String("key", redisKey), zap.Duration("ttl", l.ttl), zap.Error(err))
			case extended == 0:
				// ключ истек или перезаписан, продлевать больше нечего
				l.logger.Error("Redis lock was lost while migrations are running, another runner may take it",
					zap.String("key", redisKey))
				return
			}
		}
	}
}
