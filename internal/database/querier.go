package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Querier is implemented by both the gateway and the transactions it opens.
// Statements use ? placeholders regardless of engine.
type Querier interface {
	QueryMany(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryOne(ctx context.Context, query string, args ...any) *sql.Row
	Execute(ctx context.Context, query string, args ...any) (Result, error)
	Dialect() Dialect
}

// Result reports the outcome of Execute.
type Result struct {
	LastInsertID int64
	RowsAffected int64
}

// runner is satisfied by *sql.DB and *sql.Tx.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type conn struct {
	r       runner
	dialect Dialect
}

func (c conn) Dialect() Dialect {
	return c.dialect
}

func (c conn) QueryMany(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.r.QueryContext(ctx, c.dialect.Rebind(query), args...)
}

func (c conn) QueryOne(ctx context.Context, query string, args ...any) *sql.Row {
	return c.r.QueryRowContext(ctx, c.dialect.Rebind(query), args...)
}

func (c conn) Execute(ctx context.Context, query string, args ...any) (Result, error) {
	if c.dialect == Postgres && needsReturning(query) {
		var id int64
		err := c.r.QueryRowContext(ctx, c.dialect.Rebind(withReturningID(query)), args...).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return Result{}, nil
		}
		if err != nil {
			return Result{}, err
		}
		return Result{LastInsertID: id, RowsAffected: 1}, nil
	}

	res, err := c.r.ExecContext(ctx, c.dialect.Rebind(query), args...)
	if err != nil {
		return Result{}, err
	}

	var out Result
	if out.RowsAffected, err = res.RowsAffected(); err != nil {
		return Result{}, fmt.Errorf("rows affected: %w", err)
	}
	if c.dialect == SQLite {
		if out.LastInsertID, err = res.LastInsertId(); err != nil {
			return Result{}, fmt.Errorf("last insert id: %w", err)
		}
	}
	return out, nil
}
