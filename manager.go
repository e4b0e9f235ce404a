package db_migrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/enockabere/msafiri-visitor-api-sub004/internal/models"
	"github.com/enockabere/msafiri-visitor-api-sub004/internal/repository"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	instrumentationName = "github.com/enockabere/msafiri-visitor-api-sub004"
	defaultLockTimeout  = 30 * time.Second
)

// NewMigrationsManager создает экземпляр управляющего миграциями (выступает в качестве фасада) для PostgreSQL.
// Подключение к базе откладывается до первой операции, которой оно нужно.
func NewMigrationsManager(dsn string, opts ...ManagerOption) (*MigrationManager, error) {
	return NewMigrationsManagerWithDialector(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), opts...)
}

// NewMigrationsManagerWithDialector создает менеджер поверх произвольного gorm-диалектора
// (postgres или sqlite).
func NewMigrationsManagerWithDialector(dialector gorm.Dialector, opts ...ManagerOption) (*MigrationManager, error) {
	if dialector == nil {
		return nil, errors.New("gorm dialector is required")
	}
	dialect, err := dialectFor(dialector.Name())
	if err != nil {
		return nil, err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}

	manager := MigrationManager{
		dialector:   dialector,
		dialect:     dialect,
		logger:      logger,
		lockKey:     DefaultLockKey,
		lockTimeout: defaultLockTimeout,
		tracer:      otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(&manager)
	}
	manager.logger = manager.logger.With(zap.String("component", "migrator"))

	return &manager, nil
}

type MigrationManager struct {
	dialector gorm.Dialector
	dialect   Dialect
	db        *gorm.DB

	logger  *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer

	locker      Locker
	lockKey     string
	lockTimeout time.Duration

	ignoreTables []string

	registeredRevisions []*Revision
	graph               *Graph
	validation          *Validation
}

// Register сохраняет ревизии в память. Проверка графа откладывается до первой операции,
// поэтому ошибки определения возвращаются оттуда, а не паникой.
func (m *MigrationManager) Register(revisions ...*Revision) {
	m.registeredRevisions = append(m.registeredRevisions, revisions...)
	m.graph = nil
	m.validation = nil
}

// Dialect возвращает диалект, которым менеджер рендерит операции.
func (m *MigrationManager) Dialect() Dialect {
	return m.dialect
}

// Graph строит и проверяет граф зарегистрированных ревизий. База данных не используется.
func (m *MigrationManager) Graph() (*Graph, *Validation, error) {
	if m.graph != nil {
		return m.graph, m.validation, nil
	}

	graph, err := NewGraph(m.registeredRevisions...)
	if err != nil {
		return nil, nil, err
	}
	validation, err := graph.Validate()
	if err != nil {
		return nil, nil, err
	}
	if validation.MultipleHeads != nil {
		m.logger.Warn("revision graph has multiple heads", zap.Strings("heads", validation.Heads))
	}

	m.graph, m.validation = graph, validation
	return graph, validation, nil
}

// Heads возвращает головы графа в порядке линеаризации.
func (m *MigrationManager) Heads() ([]*Revision, error) {
	graph, validation, err := m.Graph()
	if err != nil {
		return nil, err
	}

	heads := make([]*Revision, 0, len(validation.Heads))
	for _, id := range validation.Heads {
		r, _ := graph.Revision(id)
		heads = append(heads, r)
	}
	return heads, nil
}

// Current возвращает головы примененного состояния. Системные таблицы не создаются:
// для чистой базы результат пустой.
func (m *MigrationManager) Current(ctx context.Context) ([]string, error) {
	db, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}

	marker, err := m.readMarker(db.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return marker.Heads, nil
}

// HistoryEntry - ревизия графа вместе с ее состоянием в базе.
type HistoryEntry struct {
	Revision *Revision
	Applied  bool
	// Current означает, что ревизия является одной из примененных голов.
	Current bool
	// Head означает, что у ревизии нет потомков в графе.
	Head bool
}

// History возвращает все ревизии графа в порядке линеаризации с отметками о применении.
func (m *MigrationManager) History(ctx context.Context) ([]HistoryEntry, error) {
	graph, validation, err := m.Graph()
	if err != nil {
		return nil, err
	}

	current, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.checkMarker(graph, current); err != nil {
		return nil, err
	}

	order, err := graph.Linearize(nil)
	if err != nil {
		return nil, err
	}

	applied := graph.Ancestors(current...)
	currentSet := toSet(current)
	headSet := toSet(validation.Heads)

	entries := make([]HistoryEntry, 0, len(order))
	for _, r := range order {
		entries = append(entries, HistoryEntry{
			Revision: r,
			Applied:  applied[r.ID],
			Current:  currentSet[r.ID],
			Head:     headSet[r.ID],
		})
	}
	return entries, nil
}

// Event - запись журнала применений.
type Event struct {
	RunID      string
	Revision   string
	Direction  Direction
	State      string
	Label      string
	Checksum   string
	ExecutedOn time.Time
	Duration   time.Duration
	Error      string
}

// Events возвращает последние limit записей журнала, новые первыми. limit <= 0 - весь журнал.
func (m *MigrationManager) Events(ctx context.Context, limit int) ([]Event, error) {
	db, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	db = db.WithContext(ctx)

	if !repository.HasMigrationsTable(db) {
		return nil, nil
	}

	rows, err := repository.GetMigrationsSorted(db, repository.OrderDESC, limit)
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, Event{
			RunID:      row.RunId,
			Revision:   row.Revision,
			Direction:  Direction(row.Direction),
			State:      string(row.State),
			Label:      row.Label,
			Checksum:   row.Checksum,
			ExecutedOn: row.ExecutedOn,
			Duration:   time.Duration(row.DurationMs) * time.Millisecond,
			Error:      row.Error,
		})
	}
	return events, nil
}

// CheckFulfillment проверяет, что база приведена к головам графа и последний запуск не завершился сбоем.
// reasonErr объясняет, почему база не в актуальном состоянии.
func (m *MigrationManager) CheckFulfillment(ctx context.Context) (reasonErr error, ok bool, err error) {
	hasForthcoming, err := m.HasForthcomingMigrations(ctx)
	if err != nil {
		return nil, false, err
	}
	if hasForthcoming {
		return ErrHasForthcomingMigrations, false, nil
	}

	hasFailedMigrations, err := m.HasFailedMigrations(ctx)
	if err != nil {
		return nil, false, err
	}
	if hasFailedMigrations {
		return ErrHasFailedMigrations, false, nil
	}

	return nil, true, nil
}

// HasForthcomingMigrations проверяет, есть ли ревизии графа, еще не примененные к базе.
func (m *MigrationManager) HasForthcomingMigrations(ctx context.Context) (bool, error) {
	graph, validation, err := m.Graph()
	if err != nil {
		return false, err
	}

	current, err := m.Current(ctx)
	if err != nil {
		return false, err
	}
	if err := m.checkMarker(graph, current); err != nil {
		return false, err
	}

	path, err := graph.UpgradePath(current, validation.Heads)
	if err != nil {
		return false, err
	}
	return len(path) > 0, nil
}

// HasFailedMigrations определяет, завершился ли последний запуск сбоем.
func (m *MigrationManager) HasFailedMigrations(ctx context.Context) (bool, error) {
	events, err := m.Events(ctx, 1)
	if err != nil {
		return false, err
	}
	return len(events) > 0 && events[0].State == string(models.StateFailed), nil
}

// Close закрывает соединение с базой, если оно было открыто.
func (m *MigrationManager) Close() error {
	if m.db == nil {
		return nil
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	m.db = nil
	return sqlDB.Close()
}

func (m *MigrationManager) connect(ctx context.Context) (*gorm.DB, error) {
	if m.db != nil {
		return m.db, nil
	}

	db, err := gorm.Open(m.dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, &ConnectionError{Dialect: m.dialect.Name(), Err: err}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, &ConnectionError{Dialect: m.dialect.Name(), Err: err}
	}
	// у SQLite один писатель, а транзакция ревизии должна видеть все свои изменения
	if m.dialect.Name() == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, &ConnectionError{Dialect: m.dialect.Name(), Err: err}
	}

	m.logger.Debug("connected to database", zap.String("dialect", m.dialect.Name()))
	m.db = db
	return db, nil
}

// acquireLock ждет эксклюзивную блокировку не дольше lockTimeout.
func (m *MigrationManager) acquireLock(ctx context.Context, db *gorm.DB) (func(), error) {
	locker := m.locker
	if locker == nil {
		switch m.dialect.Name() {
		case "postgres":
			sqlDB, err := db.DB()
			if err != nil {
				return nil, err
			}
			locker = NewPostgresLock(sqlDB)
		default:
			path, err := sqliteDatabaseFile(ctx, db)
			if err != nil {
				return nil, fmt.Errorf("locate sqlite database file: %w", err)
			}
			locker = NewSQLiteLock(path)
		}
	}

	lockCtx, cancel := context.WithTimeout(ctx, m.lockTimeout)
	defer cancel()

	started := time.Now()
	release, err := locker.Acquire(lockCtx, m.lockKey)
	m.metrics.observeLockWait(time.Since(started))
	if err != nil {
		// отмена вызывающим - не таймаут блокировки
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &LockTimeoutError{Key: m.lockKey, Timeout: m.lockTimeout}
		}
		return nil, fmt.Errorf("acquire migration lock: %w", err)
	}

	m.logger.Debug("migration lock acquired", zap.String("key", m.lockKey), zap.Duration("waited", time.Since(started)))
	return release, nil
}

func (m *MigrationManager) initSystemTables(db *gorm.DB) error {
	if !repository.HasMarkerTable(db) {
		m.logger.Info("Table revision_marker not found, creating")
		if err := repository.CreateMarkerTable(db); err != nil {
			return err
		}
	}

	if !repository.HasMigrationsTable(db) {
		m.logger.Info("Table revision_history not found, creating")
		if err := repository.CreateMigrationsTable(db); err != nil {
			return err
		}
	}

	return repository.EnsureMarkerRow(db)
}

// readMarker читает маркер; отсутствие таблицы или строки означает пустое состояние.
func (m *MigrationManager) readMarker(db *gorm.DB) (repository.Marker, error) {
	if !repository.HasMarkerTable(db) {
		return repository.Marker{}, nil
	}

	marker, err := repository.GetMarker(db)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.Marker{}, nil
	}
	return marker, err
}

// checkMarker проверяет, что маркер ссылается только на известные ревизии.
func (m *MigrationManager) checkMarker(graph *Graph, heads []string) error {
	for _, id := range heads {
		if _, ok := graph.Revision(id); !ok {
			return fmt.Errorf(
				"applied-state marker names revision %q which is not in the loaded revision set: %w",
				id, ErrUnknownRevision,
			)
		}
	}
	return nil
}

func (m *MigrationManager) systemTables() []string {
	tables := []string{
		models.MarkerModel{}.TableName(),
		models.MigrationModel{}.TableName(),
		EnumCatalogTable,
	}
	return append(tables, m.ignoreTables...)
}

func newRunID() string {
	return uuid.NewString()
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
