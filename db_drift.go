package db_migrator

import (
	"context"

	"go.uber.org/zap"
)

// CheckDrift сравнивает живую схему базы со схемой, которую описывают примененные ревизии.
// Системные таблицы мигратора и таблицы из WithIgnoreTables не учитываются. Расхождения
// только сообщаются; превратить их в ошибку можно через DriftReport.Err.
func (m *MigrationManager) CheckDrift(ctx context.Context) (report *DriftReport, err error) {
	ctx, span := m.startSpan(ctx, "migrator.check_drift", "")
	defer func() { endSpan(span, err) }()

	graph, _, err := m.Graph()
	if err != nil {
		return nil, err
	}

	db, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	db = db.WithContext(ctx)

	marker, err := m.readMarker(db)
	if err != nil {
		return nil, err
	}
	if err := m.checkMarker(graph, marker.Heads); err != nil {
		return nil, err
	}

	live, err := m.dialect.Inspect(ctx, db)
	if err != nil {
		return nil, err
	}
	for _, table := range m.systemTables() {
		delete(live.Tables, table)
	}

	report, err = NewDriftDetector(graph, marker.Heads).Report(live)
	if err != nil {
		return nil, err
	}
	m.metrics.setDrift(report.Discrepancies)

	if report.HasDrift() {
		m.logger.Warn("live schema drifted from applied revisions",
			zap.Strings("applied", report.Applied),
			zap.Int("discrepancies", len(report.Discrepancies)),
		)
	} else {
		m.logger.Info("live schema matches applied revisions", zap.Strings("applied", report.Applied))
	}
	return report, nil
}
