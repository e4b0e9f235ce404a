package db_migrator

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func (m *MigrationManager) startSpan(ctx context.Context, name, target string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("migrator.target", target),
			attribute.String("db.system", m.dialect.Name()),
		))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
