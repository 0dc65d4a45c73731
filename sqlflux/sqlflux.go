// Package sqlflux turns database/sql queries into flux sequences.
//
// A query runs on the first pull and its rows are scanned one per pull. The
// *sql.Rows are closed when the rows are exhausted, when scanning fails and
// when the sequence is closed or cancelled early.
package sqlflux

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/flux/errors"
	"github.com/kbukum/flux/flux"
	"github.com/kbukum/flux/logger"
	"github.com/kbukum/flux/observability"
	"github.com/kbukum/flux/resilience"
	"github.com/kbukum/flux/validation"
)

// Scanner converts the current row into a value.
type Scanner[T any] func(*sql.Rows) (T, error)

// Queryer runs a query. *sql.DB, *sql.Tx and *sql.Conn implement it.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Execer runs a statement. *sql.DB, *sql.Tx and *sql.Conn implement it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Option configures Query.
type Option func(*options)

type options struct {
	retry *resilience.RetryConfig
}

// WithRetry retries starting the query on retryable errors.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(o *options) { o.retry = &cfg }
}

// Query returns a sequence of the rows of query, converted by scan.
//
// The query starts on the first pull. It lives until the rows are released,
// independently of the context of that pull; trace context is kept. A
// blank query or a nil scan fails the first pull with INVALID_INPUT.
func Query[T any](db Queryer, query string, scan Scanner[T], args []any, opts ...Option) *flux.Sequence[T] {
	if err := validation.New().
		Custom(strings.TrimSpace(query) != "", "query", "is required").
		Custom(scan != nil, "scan", "is required").
		Err(); err != nil {
		return flux.Fail[T](err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return flux.FromStream(func(ctx context.Context) (flux.Reader[T], error) {
		return open(ctx, db, query, scan, args, o)
	})
}

func open[T any](ctx context.Context, db Queryer, query string, scan Scanner[T], args []any, o options) (flux.Reader[T], error) {
	queryCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	queryCtx, span := observability.StartSpan(queryCtx, observability.SpanSQLQuery,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.statement", query)))

	run := func(ctx context.Context, _ int) (*sql.Rows, error) {
		return db.QueryContext(ctx, query, args...)
	}
	var rows *sql.Rows
	var err error
	if o.retry != nil {
		rows, err = resilience.Retry(queryCtx, *o.retry, run)
	} else {
		rows, err = run(queryCtx, 1)
	}
	if err != nil {
		err = errors.ExternalSource("sql", err)
		observability.SetSpanError(queryCtx, err)
		span.End()
		cancel()
		return nil, err
	}
	return &rowReader[T]{
		rows:   rows,
		scan:   scan,
		span:   span,
		ctx:    queryCtx,
		cancel: cancel,
		start:  time.Now(),
	}, nil
}

type rowReader[T any] struct {
	rows   *sql.Rows
	scan   Scanner[T]
	span   trace.Span
	ctx    context.Context
	cancel context.CancelFunc
	start  time.Time
	count  int
}

func (r *rowReader[T]) Read(ctx context.Context) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return zero, false, errors.ExternalSource("sql", err)
		}
		return zero, false, nil
	}
	v, err := r.scan(r.rows)
	if err != nil {
		return zero, false, errors.ExternalSource("sql", err).WithDetail("row", r.count)
	}
	r.count++
	return v, true, nil
}

func (r *rowReader[T]) Release() error {
	err := r.rows.Close()
	r.span.SetAttributes(attribute.Int("db.rows", r.count))
	if err != nil {
		observability.SetSpanError(r.ctx, err)
	}
	r.span.End()
	r.cancel()

	if log := logger.Get("sqlflux"); log.DebugEnabled() {
		log.Debug("rows released", logger.Fields("rows", r.count, logger.FieldDuration, time.Since(r.start).Milliseconds()))
	}
	if err != nil {
		return errors.ExternalSource("sql", err)
	}
	return nil
}

// ExecResult is the outcome of one statement.
type ExecResult struct {
	LastInsertID int64
	RowsAffected int64
}

// Exec returns a mapper that runs query once per value, with arguments from
// bind. Use it with flux.Map or flux.FlatMapAsync.
func Exec[T any](db Execer, query string, bind func(T) []any) func(context.Context, T) (ExecResult, error) {
	return func(ctx context.Context, v T) (ExecResult, error) {
		res, err := db.ExecContext(ctx, query, bind(v)...)
		if err != nil {
			return ExecResult{}, errors.ExternalSource("sql", err)
		}
		id, _ := res.LastInsertId()
		n, _ := res.RowsAffected()
		return ExecResult{LastInsertID: id, RowsAffected: n}, nil
	}
}
