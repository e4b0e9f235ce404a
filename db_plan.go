package db_migrator

import (
	"context"
	"fmt"
)

// PlannedRevision - ревизия плана вместе с SQL, который будет выполнен.
type PlannedRevision struct {
	Revision   *Revision
	Direction  Direction
	Statements []string
}

// Plan строит план без выполнения (dry run). Блокировка не берется, системные таблицы не создаются.
func (m *MigrationManager) Plan(ctx context.Context, direction Direction, target string) (planned []PlannedRevision, err error) {
	ctx, span := m.startSpan(ctx, "migrator.plan", target)
	defer func() { endSpan(span, err) }()

	graph, _, err := m.Graph()
	if err != nil {
		return nil, err
	}

	steps, relative, err := parseRelative(target)
	if err != nil {
		return nil, err
	}
	if relative && direction != DirectionDowngrade {
		return nil, fmt.Errorf("relative target %q is only valid for downgrade", target)
	}

	var targetHeads []string
	if !relative {
		if targetHeads, err = graph.ResolveTarget(target); err != nil {
			return nil, err
		}
	}

	current, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.checkMarker(graph, current); err != nil {
		return nil, err
	}
	current = graph.HeadsOf(graph.Ancestors(current...))

	var plan migrationsPlan
	switch direction {
	case DirectionUpgrade:
		planner := upgradePlanner{graph: graph, applied: current, target: targetHeads}
		plan, err = planner.MakePlan()
	case DirectionDowngrade:
		if relative {
			if targetHeads, err = graph.StepsBack(current, steps); err != nil {
				return nil, err
			}
		}
		planner := downgradePlanner{graph: graph, applied: current, target: targetHeads}
		plan, err = planner.MakePlan()
	default:
		return nil, fmt.Errorf("cannot plan direction %q", direction)
	}
	if err != nil {
		return nil, err
	}

	for _, revision := range plan.Revisions() {
		statements, err := RenderRevision(m.dialect, revision, direction)
		if err != nil {
			return nil, err
		}
		planned = append(planned, PlannedRevision{
			Revision:   revision,
			Direction:  direction,
			Statements: statements,
		})
	}
	return planned, nil
}
