// Package postgres implements backend.Store over Postgres with raw SQL.
// Writes are announced on the realtime broker so every API instance can
// push them to open views.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mentorship/internal/apperr"
	"mentorship/internal/backend"
	"mentorship/internal/realtime"
)

// Store persists rows in Postgres.
type Store struct {
	db     *sql.DB
	broker realtime.Broker
	log    *zap.Logger
	tracer trace.Tracer
}

// New creates a store.
func New(db *sql.DB, broker realtime.Broker, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		db:     db,
		broker: broker,
		log:    log,
		tracer: otel.Tracer("mentorship/backend/postgres"),
	}
}

func (s *Store) span(ctx context.Context, op, table string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "backend."+op, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", table),
	))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Query runs a filtered read.
func (s *Store) Query(ctx context.Context, table string, q backend.Query) (rows []backend.Record, err error) {
	ctx, span := s.span(ctx, "query", table)
	defer func() { finish(span, err) }()

	text, args, cols, joinCols, err := buildSelect(table, q)
	if err != nil {
		return nil, err
	}
	res, err := s.db.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer res.Close()

	for res.Next() {
		dest := holders(cols)
		joinDest := holders(joinCols)
		if err := res.Scan(append(dest, joinDest...)...); err != nil {
			return nil, err
		}
		rec, err := record(cols, dest)
		if err != nil {
			return nil, err
		}
		if q.Join != nil {
			nested, err := record(joinCols, joinDest)
			if err != nil {
				return nil, err
			}
			if allNil(nested) {
				nested = nil
			}
			rec[q.Join.As] = nested
		}
		rows = append(rows, rec)
	}
	return rows, translate(res.Err())
}

// Get returns the first matching row.
func (s *Store) Get(ctx context.Context, table string, q backend.Query) (backend.Record, error) {
	q.Limit = 1
	rows, err := s.Query(ctx, table, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.ErrNotFound
	}
	return rows[0], nil
}

// Insert writes rec and returns the stored row including defaults.
func (s *Store) Insert(ctx context.Context, table string, rec backend.Record) (out backend.Record, err error) {
	ctx, span := s.span(ctx, "insert", table)
	defer func() { finish(span, err) }()

	text, args, err := buildInsert(table, rec)
	if err != nil {
		return nil, err
	}
	rows, err := s.returning(ctx, table, text, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert into %s returned no row", table)
	}
	s.publish(ctx, table, backend.EventInsert, rows)
	return rows[0], nil
}

// Update patches matching rows.
func (s *Store) Update(ctx context.Context, table string, filters []backend.Filter, patch backend.Record) (n int64, err error) {
	ctx, span := s.span(ctx, "update", table)
	defer func() { finish(span, err) }()

	text, args, err := buildUpdate(table, filters, patch)
	if err != nil {
		return 0, err
	}
	rows, err := s.returning(ctx, table, text, args)
	if err != nil {
		return 0, err
	}
	s.publish(ctx, table, backend.EventUpdate, rows)
	return int64(len(rows)), nil
}

// Delete removes matching rows. Deletes are not announced on the broker.
func (s *Store) Delete(ctx context.Context, table string, filters []backend.Filter) (n int64, err error) {
	ctx, span := s.span(ctx, "delete", table)
	defer func() { finish(span, err) }()

	text, args, err := buildDelete(table, filters)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, text, args...)
	if err != nil {
		return 0, translate(err)
	}
	return res.RowsAffected()
}

// Subscribe listens on the table's realtime topic.
func (s *Store) Subscribe(ctx context.Context, table string, opts backend.SubscribeOptions) (*backend.Subscription, error) {
	if _, ok := tables[table]; !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	if s.broker == nil {
		return nil, errors.New("realtime broker not configured")
	}
	return backend.SubscribeFeed(ctx, s.broker, table, opts)
}

func (s *Store) returning(ctx context.Context, table, text string, args []any) ([]backend.Record, error) {
	cols := tables[table]
	res, err := s.db.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer res.Close()
	var rows []backend.Record
	for res.Next() {
		dest := holders(cols)
		if err := res.Scan(dest...); err != nil {
			return nil, err
		}
		rec, err := record(cols, dest)
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}
	return rows, translate(res.Err())
}

func (s *Store) publish(ctx context.Context, table string, kind backend.EventKind, rows []backend.Record) {
	for _, row := range rows {
		if err := backend.PublishChange(ctx, s.broker, table, kind, row); err != nil {
			s.log.Warn("realtime publish failed", zap.String("table", table), zap.String("kind", string(kind)), zap.Error(err))
		}
	}
}

func holders(cols []column) []any {
	dest := make([]any, len(cols))
	for i, c := range cols {
		switch c.kind {
		case kTime:
			dest[i] = new(sql.NullTime)
		case kBool:
			dest[i] = new(sql.NullBool)
		case kFloat:
			dest[i] = new(sql.NullFloat64)
		case kInt:
			dest[i] = new(sql.NullInt64)
		case kJSON:
			dest[i] = new([]byte)
		default:
			dest[i] = new(sql.NullString)
		}
	}
	return dest
}

func record(cols []column, dest []any) (backend.Record, error) {
	rec := make(backend.Record, len(cols))
	for i, c := range cols {
		var v any
		switch d := dest[i].(type) {
		case *sql.NullString:
			if d.Valid {
				v = d.String
			}
		case *sql.NullTime:
			if d.Valid {
				v = d.Time.UTC()
			}
		case *sql.NullBool:
			if d.Valid {
				v = d.Bool
			}
		case *sql.NullFloat64:
			if d.Valid {
				v = d.Float64
			}
		case *sql.NullInt64:
			if d.Valid {
				v = d.Int64
			}
		case *[]byte:
			if *d != nil {
				if err := json.Unmarshal(*d, &v); err != nil {
					return nil, fmt.Errorf("decode %s: %w", c.name, err)
				}
			}
		}
		rec[c.name] = v
	}
	return rec, nil
}

func allNil(rec backend.Record) bool {
	for _, v := range rec {
		if v != nil {
			return false
		}
	}
	return true
}

// translate maps constraint violations onto the error taxonomy.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", apperr.ErrDuplicateRequest, pgErr.ConstraintName)
		case "22P02": // invalid_text_representation, e.g. a malformed uuid
			return fmt.Errorf("%w: %s", apperr.ErrNotFound, pgErr.Message)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", apperr.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}
