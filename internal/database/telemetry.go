package database

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/irfndi/flashloan-arb-go/internal/database"

// TracedDB wraps a DatabasePool and records one span per statement.
type TracedDB struct {
	pool   DatabasePool
	tracer trace.Tracer
}

var _ DatabasePool = (*TracedDB)(nil)

// NewTracedDB wraps pool using the global tracer provider.
func NewTracedDB(pool DatabasePool) *TracedDB {
	return NewTracedDBWithTracer(pool, otel.Tracer(tracerName))
}

func NewTracedDBWithTracer(pool DatabasePool, tracer trace.Tracer) *TracedDB {
	return &TracedDB{pool: pool, tracer: tracer}
}

func (db *TracedDB) start(ctx context.Context, op, sql string) (context.Context, trace.Span) {
	return db.tracer.Start(ctx, "db."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", statementVerb(sql)),
			attribute.String("db.statement", sql),
		),
	)
}

// Query executes a query returning rows.
func (db *TracedDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, span := db.start(ctx, "query", sql)
	defer span.End()

	rows, err := db.pool.Query(ctx, sql, args...)
	RecordDatabaseError(span, err)
	return rows, err
}

// QueryRow executes a query returning at most one row. Scan errors surface
// to the caller and are not recorded on the span.
func (db *TracedDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	ctx, span := db.start(ctx, "query_row", sql)
	defer span.End()
	return db.pool.QueryRow(ctx, sql, args...)
}

// Exec executes a statement without returning rows.
func (db *TracedDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ctx, span := db.start(ctx, "exec", sql)
	defer span.End()

	tag, err := db.pool.Exec(ctx, sql, args...)
	RecordDatabaseError(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int64("db.rows_affected", tag.RowsAffected()))
	}
	return tag, err
}

// RecordDatabaseError marks span as failed when err is non-nil.
func RecordDatabaseError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func statementVerb(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}
