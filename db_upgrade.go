package db_migrator

import (
	"context"
	"errors"
	"time"

	"github.com/enockabere/msafiri-visitor-api-sub004/internal/models"
	"github.com/enockabere/msafiri-visitor-api-sub004/internal/repository"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Result описывает итог запуска: из какого состояния в какое перешла база и какие ревизии обработаны.
// При ошибке Result содержит прогресс, зафиксированный до сбоя.
type Result struct {
	RunID     string
	Direction Direction
	From      []string
	To        []string
	Revisions []string
}

// runSession - состояние одного запуска под блокировкой.
type runSession struct {
	id         string
	graph      *Graph
	db         *gorm.DB
	from       []string
	applied    map[string]bool
	generation int64
	processed  []string
}

func (s *runSession) heads() []string {
	return s.graph.HeadsOf(s.applied)
}

func (s *runSession) result(direction Direction) *Result {
	return &Result{
		RunID:     s.id,
		Direction: direction,
		From:      s.from,
		To:        s.heads(),
		Revisions: append([]string(nil), s.processed...),
	}
}

// Upgrade применяет ревизии до target (head, heads, идентификатор или его префикс).
// Каждая ревизия выполняется в своей транзакции вместе с продвижением маркера. Если target уже
// применен, ничего не выполняется.
func (m *MigrationManager) Upgrade(ctx context.Context, target string) (result *Result, err error) {
	ctx, span := m.startSpan(ctx, "migrator.upgrade", target)
	defer func() { endSpan(span, err) }()

	m.logger.Info("Preparing upgrade execution", zap.String("target", target))

	graph, _, err := m.Graph()
	if err != nil {
		return nil, err
	}
	targetHeads, err := graph.ResolveTarget(target)
	if err != nil {
		return nil, err
	}

	session, release, err := m.beginSession(ctx, graph)
	if err != nil {
		return nil, err
	}
	defer release()

	plan, err := m.planUpgrade(session, targetHeads)
	if err != nil {
		return session.result(DirectionUpgrade), err
	}
	if plan.IsEmpty() {
		m.logger.Info("Nothing to upgrade, database is already at target", zap.Strings("heads", session.heads()))
		return session.result(DirectionUpgrade), nil
	}

	m.logger.Info("Upgrade planned", zap.Int("revisions", plan.Len()), zap.String("run_id", session.id))
	for !plan.IsEmpty() {
		if err := ctx.Err(); err != nil {
			return session.result(DirectionUpgrade), err
		}
		if err := m.executeRevision(ctx, session, plan.PopFirst(), DirectionUpgrade); err != nil {
			return session.result(DirectionUpgrade), err
		}
	}

	m.logger.Info("Upgrade completed, database is at target", zap.Strings("heads", session.heads()))
	return session.result(DirectionUpgrade), nil
}

func (m *MigrationManager) planUpgrade(session *runSession, target []string) (migrationsPlan, error) {
	planner := upgradePlanner{
		graph:   session.graph,
		applied: session.heads(),
		target:  target,
	}
	return planner.MakePlan()
}

// beginSession подключается к базе, берет блокировку, создает системные таблицы и читает маркер.
// Возвращаемую функцию освобождения нужно вызвать всегда.
func (m *MigrationManager) beginSession(ctx context.Context, graph *Graph) (*runSession, func(), error) {
	db, err := m.connect(ctx)
	if err != nil {
		return nil, nil, err
	}

	release, err := m.acquireLock(ctx, db)
	if err != nil {
		return nil, nil, err
	}

	db = db.WithContext(ctx)
	if err := m.initSystemTables(db); err != nil {
		release()
		return nil, nil, err
	}

	marker, err := m.readMarker(db)
	if err != nil {
		release()
		return nil, nil, err
	}
	if err := m.checkMarker(graph, marker.Heads); err != nil {
		release()
		return nil, nil, err
	}

	session := &runSession{
		id:         newRunID(),
		graph:      graph,
		db:         db,
		from:       marker.Heads,
		applied:    graph.Ancestors(marker.Heads...),
		generation: marker.Generation,
	}
	return session, release, nil
}

// executeRevision выполняет операции ревизии, продвигает маркер и пишет журнал в одной транзакции.
// При ошибке транзакция откатывается целиком, запись о сбое пишется уже вне ее.
func (m *MigrationManager) executeRevision(ctx context.Context, session *runSession, revision *Revision, direction Direction) (err error) {
	ctx, span := m.startSpan(ctx, "migrator.revision", revision.ID)
	defer func() { endSpan(span, err) }()

	ops := revision.Upgrade
	state := models.StateApplied
	next := make(map[string]bool, len(session.applied)+1)
	for id := range session.applied {
		next[id] = true
	}
	if direction == DirectionDowngrade {
		ops, err = revision.DowngradeOperations()
		if err != nil {
			return err
		}
		state = models.StateUndone
		delete(next, revision.ID)
	} else {
		next[revision.ID] = true
	}
	heads := session.graph.HeadsOf(next)

	logger := m.logger.With(
		zap.String("revision", revision.ID),
		zap.String("direction", string(direction)),
		zap.String("run_id", session.id),
	)
	logger.Info("Executing revision", zap.String("label", revision.Label), zap.Int("operations", len(ops)))

	failedOperation, failedStatement := -1, ""
	var marker repository.Marker
	started := time.Now()

	err = session.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, op := range ops {
			statements, err := m.dialect.Render(op)
			if err != nil {
				failedOperation = i
				return err
			}
			for _, statement := range statements {
				if err := tx.Exec(statement).Error; err != nil {
					failedOperation, failedStatement = i, statement
					return err
				}
			}
		}

		var err error
		marker, err = repository.SaveMarker(tx, heads, session.generation)
		if errors.Is(err, repository.ErrStaleMarker) {
			return ErrMarkerConflict
		}
		if err != nil {
			return err
		}

		_, err = repository.SaveMigration(tx, repository.SaveMigrationRequest{
			RunId:     session.id,
			Revision:  revision.ID,
			Direction: string(direction),
			State:     state,
			Label:     revision.Label,
			Checksum:  revision.Checksum(),
			Duration:  time.Since(started),
		})
		return err
	})
	elapsed := time.Since(started)

	if err != nil {
		m.metrics.observeRevision(direction, "failed", elapsed)
		failure := &MigrationFailedError{
			Revision:  revision.ID,
			Direction: direction,
			Operation: failedOperation,
			Statement: failedStatement,
			SQLState:  sqlState(err),
			Err:       err,
		}
		logger.Error("Revision failed, transaction rolled back", zap.Error(failure))

		// ctx мог быть отменен, запись о сбое все равно нужна
		_, logErr := repository.SaveMigration(session.db.WithContext(context.Background()), repository.SaveMigrationRequest{
			RunId:     session.id,
			Revision:  revision.ID,
			Direction: string(direction),
			State:     models.StateFailed,
			Label:     revision.Label,
			Checksum:  revision.Checksum(),
			Duration:  elapsed,
			Error:     err.Error(),
		})
		if logErr != nil {
			logger.Warn("could not record failed revision", zap.Error(logErr))
		}
		return failure
	}

	session.applied = next
	session.generation = marker.Generation
	session.processed = append(session.processed, revision.ID)
	m.metrics.observeRevision(direction, "success", elapsed)
	m.metrics.setMarkerGeneration(marker.Generation)

	logger.Info("Revision complete", zap.Duration("duration", elapsed), zap.Strings("heads", heads))
	return nil
}

// sqlState извлекает код SQLSTATE из ошибки PostgreSQL.
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
