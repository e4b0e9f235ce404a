package db_migrator

import (
	"context"

	"go.uber.org/zap"
)

// Downgrade отменяет ревизии в обратном порядке, пока примененным не останется состояние target.
// target - идентификатор (или префикс) примененной ревизии, base или относительный шаг -N.
// Если на пути есть необратимая ревизия, ничего не выполняется и возвращается IrreversibleRevisionError.
func (m *MigrationManager) Downgrade(ctx context.Context, target string) (result *Result, err error) {
	ctx, span := m.startSpan(ctx, "migrator.downgrade", target)
	defer func() { endSpan(span, err) }()

	m.logger.Info("Preparing downgrade execution", zap.String("target", target))

	graph, _, err := m.Graph()
	if err != nil {
		return nil, err
	}

	steps, relative, err := parseRelative(target)
	if err != nil {
		return nil, err
	}
	var targetHeads []string
	if !relative {
		targetHeads, err = graph.ResolveTarget(target)
		if err != nil {
			return nil, err
		}
	}

	session, release, err := m.beginSession(ctx, graph)
	if err != nil {
		return nil, err
	}
	defer release()

	if relative {
		targetHeads, err = graph.StepsBack(session.heads(), steps)
		if err != nil {
			return session.result(DirectionDowngrade), err
		}
	}

	plan, err := m.planDowngrade(session, targetHeads)
	if err != nil {
		return session.result(DirectionDowngrade), err
	}
	if plan.IsEmpty() {
		m.logger.Info("Nothing to downgrade, database is already at target", zap.Strings("heads", session.heads()))
		return session.result(DirectionDowngrade), nil
	}

	m.logger.Info("Downgrade planned", zap.Int("revisions", plan.Len()), zap.String("run_id", session.id))
	for !plan.IsEmpty() {
		if err := ctx.Err(); err != nil {
			return session.result(DirectionDowngrade), err
		}
		if err := m.executeRevision(ctx, session, plan.PopFirst(), DirectionDowngrade); err != nil {
			return session.result(DirectionDowngrade), err
		}
	}

	m.logger.Info("Downgrade completed", zap.Strings("heads", session.heads()))
	return session.result(DirectionDowngrade), nil
}

func (m *MigrationManager) planDowngrade(session *runSession, target []string) (migrationsPlan, error) {
	planner := downgradePlanner{
		graph:   session.graph,
		applied: session.heads(),
		target:  target,
	}
	return planner.MakePlan()
}
