package db_migrator

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// DefaultLockKey - ключ блокировки, под которым выполняются все изменения схемы.
const DefaultLockKey = "msafiri-schema-migrations"

const defaultLockPollInterval = 250 * time.Millisecond

// Locker обеспечивает взаимное исключение запусков миграций.
// Acquire блокируется до получения блокировки или отмены ctx; release обязан быть вызван
// и безопасен при повторном вызове.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// PostgresLock - сессионная advisory-блокировка PostgreSQL. Блокировка живет на выделенном
// соединении, поэтому и захват, и освобождение выполняются через один *sql.Conn.
type PostgresLock struct {
	db           *sql.DB
	pollInterval time.Duration
}

func NewPostgresLock(db *sql.DB) *PostgresLock {
	return &PostgresLock{db: db, pollInterval: defaultLockPollInterval}
}

func (l *PostgresLock) Acquire(ctx context.Context, key string) (func(), error) {
	lockID := hashLockKey(key)

	conn, err := l.db.Conn(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("acquire lock connection for %s: %w", key, err)
	}

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		var acquired bool
		err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired)
		if err != nil {
			_ = conn.Close()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("acquire lock for %s: %w", key, err)
		}
		if acquired {
			break
		}

		select {
		case <-ctx.Done():
			_ = conn.Close()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() {
			// ctx вызывающего к этому моменту может быть отменен
			_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", lockID)
			_ = conn.Close()
		})
	}
	return release, nil
}

// LocalLock - блокировка в пределах одного экземпляра LocalLock. Запуски, которым нужно
// исключать друг друга, должны использовать общий экземпляр.
type LocalLock struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocalLock() *LocalLock {
	return &LocalLock{slots: make(map[string]chan struct{})}
}

func (l *LocalLock) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[key] = s
	}
	return s
}

func (l *LocalLock) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := l.slot(key)
	select {
	case s <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var releaseOnce sync.Once
	return func() {
		releaseOnce.Do(func() { <-s })
	}, nil
}

// sqliteProcessLocks исключает менеджеры одного процесса, работающие с одной базой SQLite.
var sqliteProcessLocks = NewLocalLock()

var lockFileReplacer = strings.NewReplacer("/", "_", "\\", "_")

// SQLiteLock - блокировка базы SQLite. Файловая блокировка рядом с файлом базы исключает
// другие процессы, общий реестр процесса исключает другие менеджеры этого процесса.
// Для базы в памяти (пустой путь) действует только реестр процесса.
// Файл блокировки после освобождения остается на месте.
type SQLiteLock struct {
	path         string
	pollInterval time.Duration
}

func NewSQLiteLock(databasePath string) *SQLiteLock {
	return &SQLiteLock{path: databasePath, pollInterval: 100 * time.Millisecond}
}

// LockFile возвращает путь к файлу блокировки для ключа.
func (l *SQLiteLock) LockFile(key string) string {
	return l.path + "." + lockFileReplacer.Replace(key) + ".lock"
}

func (l *SQLiteLock) Acquire(ctx context.Context, key string) (func(), error) {
	releaseLocal, err := sqliteProcessLocks.Acquire(ctx, l.path+"\x00"+key)
	if err != nil {
		return nil, err
	}
	if l.path == "" {
		return releaseLocal, nil
	}

	fileLock := flock.New(l.LockFile(key))
	locked, err := fileLock.TryLockContext(ctx, l.pollInterval)
	if err != nil || !locked {
		releaseLocal()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("acquire lock file %s: %w", fileLock.Path(), err)
	}

	var releaseOnce sync.Once
	return func() {
		releaseOnce.Do(func() {
			_ = fileLock.Unlock()
			releaseLocal()
		})
	}, nil
}

// hashLockKey переводит строковый ключ в неотрицательный int64 для pg_advisory_lock (FNV-1a).
func hashLockKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF) //nolint:gosec // знаковый бит сброшен
}
