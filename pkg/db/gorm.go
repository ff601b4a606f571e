package db

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Compile-time interface check.
var _ Adapter = (*gormAdapter)(nil)

// gormAdapter implements Adapter over a gorm connection. Both drivers share
// it and differ only in how the connection is opened.
type gormAdapter struct {
	log     logrus.FieldLogger
	db      *gorm.DB
	timeout time.Duration
}

// withTimeout bounds ctx by the adapter's per-statement timeout, if any.
func (a *gormAdapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, a.timeout)
}

func (a *gormAdapter) Execute(ctx context.Context, script string) error {
	// Statements are sent one at a time so a remote server never sees a
	// multi-statement request.
	for _, stmt := range SplitStatements(script) {
		a.log.WithField("sql", summarize(stmt)).Trace("Executing statement")

		if err := a.exec(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

func (a *gormAdapter) exec(ctx context.Context, stmt string) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	return a.db.WithContext(ctx).Exec(stmt).Error
}

func (a *gormAdapter) QueryOne(
	ctx context.Context, dest any, query string, args ...any,
) (bool, error) {
	rows, err := a.query(ctx, query, args...)
	if err != nil {
		return false, err
	}

	if len(rows) == 0 {
		return false, nil
	}

	return true, decodeRows(rows[:1], dest)
}

func (a *gormAdapter) QueryAll(
	ctx context.Context, dest any, query string, args ...any,
) error {
	rows, err := a.query(ctx, query, args...)
	if err != nil {
		return err
	}

	return decodeRows(rows, dest)
}

func (a *gormAdapter) Run(
	ctx context.Context, query string, args ...any,
) (Result, error) {
	a.log.WithField("sql", summarize(query)).Trace("Running statement")

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	res, err := a.db.WithContext(ctx).ConnPool.ExecContext(ctx, query, normalizeArgs(args)...)
	if err != nil {
		return Result{}, err
	}

	var out Result

	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID = id
	}

	if n, err := res.RowsAffected(); err == nil {
		out.RowsChanged = n
	}

	return out, nil
}

func (a *gormAdapter) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

func (a *gormAdapter) query(
	ctx context.Context, query string, args ...any,
) ([]Row, error) {
	a.log.WithField("sql", summarize(query)).Trace("Querying")

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	rows, err := a.db.WithContext(ctx).Raw(query, normalizeArgs(args)...).Rows()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row

	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))

		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}

		out = append(out, row)
	}

	return out, rows.Err()
}
