// Package db executes single-statement requests against PostgreSQL through
// per-session connection pools, classifying every failure for the gateway's
// error taxonomy.
package db

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"

	"github.com/afpsql/afpsql/internal/config"
)

// Outcome is a successful execution: either collected rows or the affected
// count of a statement with no output columns.
type Outcome struct {
	Rows      []json.RawMessage
	Affected  int64
	IsCommand bool
}

// Executor runs one request against a named session.
type Executor interface {
	Execute(ctx context.Context, sessionName string, sessionCfg config.Session, sql string, params []json.RawMessage, opts config.Resolved) (Outcome, error)
}

// Postgres is the pgx-backed executor. One instance serves all sessions.
type Postgres struct {
	pools   *registry
	stmtSeq atomic.Uint64
}

// NewPostgres creates an executor with an empty pool registry.
func NewPostgres() *Postgres {
	return &Postgres{pools: newRegistry()}
}

// Close releases every session pool.
func (p *Postgres) Close() {
	p.pools.Close()
}

// Execute runs one statement in its own transaction: apply per-query
// settings, prepare, coerce parameters, then either report the affected
// count or collect rows through the to_jsonb wrapper.
func (p *Postgres) Execute(ctx context.Context, sessionName string, sessionCfg config.Session, sql string, params []json.RawMessage, opts config.Resolved) (Outcome, error) {
	pool, err := p.pools.get(ctx, sessionName, sessionCfg)
	if err != nil {
		return Outcome{}, err
	}
	c, err := pool.Acquire(ctx)
	if err != nil {
		return Outcome{}, connectf("get connection failed: %v", err)
	}
	defer c.Release()

	tx, err := c.Begin(ctx)
	if err != nil {
		return Outcome{}, classify(err)
	}
	defer tx.Rollback(ctx) // no-op once committed

	if err := applyQuerySettings(ctx, tx, opts); err != nil {
		return Outcome{}, err
	}

	stmtName := fmt.Sprintf("afpsql_s%d", p.stmtSeq.Add(1))
	sd, err := tx.Prepare(ctx, stmtName, sql)
	if err != nil {
		return Outcome{}, classify(err)
	}
	// Protocol-level statements survive the transaction; close them before
	// the connection goes back to the pool or the server-side set grows for
	// the life of the connection.
	defer func() { _ = c.Conn().Deallocate(context.WithoutCancel(ctx), stmtName) }()
	if err := validateParamCount(len(sd.ParamOIDs), len(params)); err != nil {
		return Outcome{}, err
	}
	args, err := buildParams(params, sd.ParamOIDs)
	if err != nil {
		return Outcome{}, err
	}

	if len(sd.Fields) == 0 {
		tag, err := tx.Exec(ctx, stmtName, args...)
		if err != nil {
			return Outcome{}, classify(err)
		}
		if err := tx.Commit(ctx); err != nil {
			return Outcome{}, classify(err)
		}
		return Outcome{IsCommand: true, Affected: tag.RowsAffected()}, nil
	}

	// Primary row path: CTE + to_jsonb preserves PostgreSQL's own type
	// serialization for SELECT and RETURNING-style statements.
	if _, err := tx.Exec(ctx, "savepoint afpsql_wrap", pgx.QueryExecModeSimpleProtocol); err != nil {
		return Outcome{}, classify(err)
	}

	rows, wrapErr := p.queryWrapped(ctx, tx, sql, params)
	switch {
	case wrapErr == nil:
		if _, err := tx.Exec(ctx, "release savepoint afpsql_wrap", pgx.QueryExecModeSimpleProtocol); err != nil {
			return Outcome{}, classify(err)
		}
	case IsInvalidParams(wrapErr):
		// The caller's intent was unambiguous; do not fall back.
		if err := unwindSavepoint(ctx, tx); err != nil {
			return Outcome{}, err
		}
		return Outcome{}, wrapErr
	default:
		// Some utility statements (e.g. SHOW) cannot appear in a CTE. Roll
		// back the wrapper failure and retry the original statement with
		// per-type decoding.
		if err := unwindSavepoint(ctx, tx); err != nil {
			return Outcome{}, err
		}
		direct, err := tx.Query(ctx, stmtName, args...)
		if err != nil {
			return Outcome{}, classify(err)
		}
		rows, err = collectFallbackRows(direct)
		if err != nil {
			return Outcome{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Outcome{}, classify(err)
	}
	return Outcome{Rows: rows}, nil
}

func (p *Postgres) queryWrapped(ctx context.Context, tx pgx.Tx, sql string, params []json.RawMessage) ([]json.RawMessage, error) {
	wrapped := "with __afpsql_rows as (" + sql + ") select to_jsonb(__afpsql_rows) as row_json from __afpsql_rows"

	name := fmt.Sprintf("afpsql_w%d", p.stmtSeq.Add(1))
	sd, err := tx.Prepare(ctx, name, wrapped)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = tx.Conn().Deallocate(context.WithoutCancel(ctx), name) }()
	// The wrapper's declared types may differ from the original's; validate
	// and re-coerce against the wrapped statement.
	if err := validateParamCount(len(sd.ParamOIDs), len(params)); err != nil {
		return nil, err
	}
	args, err := buildParams(params, sd.ParamOIDs)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, name, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var raw json.RawMessage
		if err := rows.Scan(&raw); err != nil {
			return nil, classify(err)
		}
		if raw == nil {
			out = append(out, jsonNull)
			continue
		}
		out = append(out, json.RawMessage(append([]byte(nil), raw...)))
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func unwindSavepoint(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, "rollback to savepoint afpsql_wrap", pgx.QueryExecModeSimpleProtocol); err != nil {
		return classify(err)
	}
	if _, err := tx.Exec(ctx, "release savepoint afpsql_wrap", pgx.QueryExecModeSimpleProtocol); err != nil {
		return classify(err)
	}
	return nil
}

func applyQuerySettings(ctx context.Context, tx pgx.Tx, opts config.Resolved) error {
	if _, err := tx.Exec(ctx, "select set_config('statement_timeout', $1, true)", fmt.Sprintf("%dms", opts.StatementTimeoutMS)); err != nil {
		return classify(err)
	}
	if _, err := tx.Exec(ctx, "select set_config('lock_timeout', $1, true)", fmt.Sprintf("%dms", opts.LockTimeoutMS)); err != nil {
		return classify(err)
	}
	if opts.ReadOnly {
		if _, err := tx.Exec(ctx, "set local transaction read only", pgx.QueryExecModeSimpleProtocol); err != nil {
			return classify(err)
		}
	}
	return nil
}
