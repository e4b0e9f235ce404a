package db_migrator

import (
	"context"
	"errors"

	"github.com/enockabere/msafiri-visitor-api-sub004/internal/models"
	"github.com/enockabere/msafiri-visitor-api-sub004/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Stamp записывает target в маркер, не выполняя операций. Используется, когда схема уже приведена
// к нужному состоянию вручную или восстановлена из резервной копии.
func (m *MigrationManager) Stamp(ctx context.Context, target string) (result *Result, err error) {
	ctx, span := m.startSpan(ctx, "migrator.stamp", target)
	defer func() { endSpan(span, err) }()

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

	stamped := targetHeads
	if len(stamped) == 0 {
		stamped = []string{TargetBase}
	}

	var marker repository.Marker
	err = session.db.Transaction(func(tx *gorm.DB) error {
		var err error
		marker, err = repository.SaveMarker(tx, targetHeads, session.generation)
		if errors.Is(err, repository.ErrStaleMarker) {
			return ErrMarkerConflict
		}
		if err != nil {
			return err
		}

		for _, id := range stamped {
			request := repository.SaveMigrationRequest{
				RunId:     session.id,
				Revision:  id,
				Direction: string(DirectionStamp),
				State:     models.StateStamped,
			}
			if r, ok := graph.Revision(id); ok {
				request.Label = r.Label
				request.Checksum = r.Checksum()
			}
			if _, err := repository.SaveMigration(tx, request); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return session.result(DirectionStamp), err
	}

	session.applied = graph.Ancestors(targetHeads...)
	session.generation = marker.Generation
	session.processed = append(session.processed, stamped...)
	m.metrics.setMarkerGeneration(marker.Generation)

	m.logger.Info("Marker stamped", zap.Strings("from", session.from), zap.Strings("to", targetHeads))
	return session.result(DirectionStamp), nil
}
