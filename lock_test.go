package db_migrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gofrs/flock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLocalLock(t *testing.T) {
	lock := NewLocalLock()
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "schema")
	require.NoError(t, err)

	// другой ключ не блокируется
	other, err := lock.Acquire(ctx, "other")
	require.NoError(t, err)
	other()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = lock.Acquire(waitCtx, "schema")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()

	again, err := lock.Acquire(ctx, "schema")
	require.NoError(t, err)
	again()
}

func TestLocalLock_WaitsForRelease(t *testing.T) {
	lock := NewLocalLock()
	release, err := lock.Acquire(context.Background(), "schema")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := lock.Acquire(context.Background(), "schema")
		if err == nil {
			r()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock was not handed over after release")
	}
}

func TestLocalLock_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocalLock().Acquire(ctx, "schema")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSQLiteLock_SharedByPath(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "msafiri.db")

	first, second := NewSQLiteLock(path), NewSQLiteLock(path)
	release, err := first.Acquire(ctx, DefaultLockKey)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = second.Acquire(waitCtx, DefaultLockKey)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// другой ключ и другая база не конкурируют
	releaseOther, err := second.Acquire(ctx, "tenant-schema")
	require.NoError(t, err)
	releaseOther()
	releaseElsewhere, err := NewSQLiteLock(filepath.Join(t.TempDir(), "other.db")).Acquire(ctx, DefaultLockKey)
	require.NoError(t, err)
	releaseElsewhere()

	release()
	release()
	releaseSecond, err := second.Acquire(ctx, DefaultLockKey)
	require.NoError(t, err)
	releaseSecond()
}

func TestSQLiteLock_HoldsLockFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msafiri.db")
	lock := NewSQLiteLock(path)
	assert.Equal(t, path+".msafiri-schema-migrations.lock", lock.LockFile(DefaultLockKey))
	assert.Equal(t, path+".a_b.lock", lock.LockFile("a/b"))

	release, err := lock.Acquire(context.Background(), DefaultLockKey)
	require.NoError(t, err)

	// отдельный дескриптор ведет себя как другой процесс
	other := flock.New(lock.LockFile(DefaultLockKey))
	locked, err := other.TryLock()
	require.NoError(t, err)
	assert.False(t, locked)

	release()
	locked, err = other.TryLock()
	require.NoError(t, err)
	assert.True(t, locked)
	require.NoError(t, other.Unlock())
}

func TestSQLiteLock_InMemory(t *testing.T) {
	lock := NewSQLiteLock("")
	release, err := lock.Acquire(context.Background(), "in-memory")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = NewSQLiteLock("").Acquire(ctx, "in-memory")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	release()
}

func TestHashLockKey(t *testing.T) {
	a := hashLockKey(DefaultLockKey)
	assert.Equal(t, a, hashLockKey(DefaultLockKey))
	assert.GreaterOrEqual(t, a, int64(0))
	assert.NotEqual(t, a, hashLockKey("another-service"))
}

func newMockLock(t *testing.T) (*PostgresLock, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	lock := NewPostgresLock(db)
	lock.pollInterval = time.Millisecond
	return lock, mock
}

func TestPostgresLock_PollsUntilAcquired(t *testing.T) {
	lock, mock := newMockLock(t)
	id := hashLockKey(DefaultLockKey)

	mock.ExpectQuery("SELECT pg_try_advisory_lock($1)").WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))
	mock.ExpectQuery("SELECT pg_try_advisory_lock($1)").WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock($1)").WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	release, err := lock.Acquire(context.Background(), DefaultLockKey)
	require.NoError(t, err)

	release()
	release()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLock_Timeout(t *testing.T) {
	lock, mock := newMockLock(t)
	lock.pollInterval = time.Hour

	mock.ExpectQuery("SELECT pg_try_advisory_lock($1)").WithArgs(hashLockKey("schema")).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := lock.Acquire(ctx, "schema")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLock_QueryError(t *testing.T) {
	lock, mock := newMockLock(t)

	mock.ExpectQuery("SELECT pg_try_advisory_lock($1)").WithArgs(hashLockKey("schema")).
		WillReturnError(assert.AnError)

	_, err := lock.Acquire(context.Background(), "schema")
	assert.ErrorIs(t, err, assert.AnError)
	assert.ErrorContains(t, err, "acquire lock for schema")
}

func newRedisLock(t *testing.T) (*RedisLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	lock := NewRedisLock(client, time.Minute)
	lock.pollInterval = 5 * time.Millisecond
	return lock, mr
}

func TestRedisLock(t *testing.T) {
	lock, mr := newRedisLock(t)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "schema")
	require.NoError(t, err)
	assert.True(t, mr.Exists(redisLockPrefix+"schema"))
	assert.Equal(t, time.Minute, mr.TTL(redisLockPrefix+"schema"))

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = lock.Acquire(waitCtx, "schema")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()
	assert.False(t, mr.Exists(redisLockPrefix+"schema"))

	again, err := lock.Acquire(ctx, "schema")
	require.NoError(t, err)
	again()
}

func TestRedisLock_ReleaseKeepsForeignLock(t *testing.T) {
	lock, mr := newRedisLock(t)

	release, err := lock.Acquire(context.Background(), "schema")
	require.NoError(t, err)

	// блокировка истекла и ее взял другой процесс
	require.NoError(t, mr.Set(redisLockPrefix+"schema", "someone-else"))
	release()

	got, err := mr.Get(redisLockPrefix + "schema")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLock_WaitsForExpiry(t *testing.T) {
	lock, mr := newRedisLock(t)
	require.NoError(t, mr.Set(redisLockPrefix+"schema", "stale"))

	acquired := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		release, err := lock.Acquire(ctx, "schema")
		if err == nil {
			release()
		}
		acquired <- err
	}()

	time.Sleep(20 * time.Millisecond)
	mr.Del(redisLockPrefix + "schema")
	assert.NoError(t, <-acquired)
}

func TestRedisLock_ReportsLostLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	core, logs := observer.New(zap.WarnLevel)
	lock := NewRedisLock(client, 30*time.Millisecond).WithLogger(zap.New(core))

	release, err := lock.Acquire(context.Background(), "schema")
	require.NoError(t, err)
	defer release()

	require.NoError(t, mr.Set(redisLockPrefix+"schema", "someone-else"))
	assert.Eventually(t, func() bool {
		return logs.FilterMessageSnippet("Redis lock was lost").Len() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRedisLock_ReportsFailedExtension(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	core, logs := observer.New(zap.WarnLevel)
	lock := NewRedisLock(client, 30*time.Millisecond).WithLogger(zap.New(core))

	release, err := lock.Acquire(context.Background(), "schema")
	require.NoError(t, err)
	defer release()

	mr.SetError("LOADING server is restarting")
	assert.Eventually(t, func() bool {
		return logs.FilterMessageSnippet("Failed to extend redis lock").Len() > 0
	}, time.Second, 5*time.Millisecond)
	mr.SetError("")
}

func TestNewRedisLock_DefaultTTL(t *testing.T) {
	lock := NewRedisLock(redis.NewClient(&redis.Options{Addr: "localhost:0"}), 0)
	assert.Equal(t, defaultRedisLockTTL, lock.ttl)
}
