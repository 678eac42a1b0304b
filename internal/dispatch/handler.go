package dispatch

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/afpsql/afpsql/internal/config"
	"github.com/afpsql/afpsql/internal/conn"
	"github.com/afpsql/afpsql/internal/db"
	"github.com/afpsql/afpsql/internal/event"
)

// ExecuteQuery runs one request end to end: resolve the session against a
// config snapshot, execute, then shape the outcome into output events. It
// emits exactly one terminal event unless ctx is cancelled first.
func ExecuteQuery(ctx context.Context, app *App, id, session *string, sql string, params []json.RawMessage, options config.QueryOptions) {
	start := time.Now()
	cfg := app.ConfigSnapshot()
	resolvedSession := conn.ResolveSessionName(&cfg, session)
	opts := cfg.Resolve(options)

	app.Metrics.RequestStarted(resolvedSession)
	defer func() {
		app.Metrics.RequestFinished(resolvedSession, time.Since(start))
	}()

	sessionCfg, ok := cfg.Sessions[resolvedSession]
	if !ok {
		trace := event.DurationOnly(elapsedMS(start))
		app.Metrics.ErrorEmitted("connect_failed")
		app.emit(ctx, event.NewError(id, "connect_failed", "unknown session: "+resolvedSession, true, trace))
		app.emitLog(ctx, "query.error", id, &resolvedSession, strp("connect_failed"), nil, trace)
		return
	}

	outcome, err := app.Executor.Execute(ctx, resolvedSession, sessionCfg, sql, params, opts)
	if err != nil {
		emitExecError(ctx, app, id, resolvedSession, start, err)
		return
	}

	if outcome.IsCommand {
		tag := "EXECUTE " + strconv.FormatInt(outcome.Affected, 10)
		zero := 0
		trace := event.Trace{DurationMS: elapsedMS(start), RowCount: &zero, PayloadBytes: &zero}
		app.emit(ctx, event.NewResult(id, &resolvedSession, tag, nil, nil, trace))
		app.emitLog(ctx, "query.result", id, &resolvedSession, nil, strp("EXECUTE"), trace)
		return
	}

	app.Metrics.RowsReturned(resolvedSession, len(outcome.Rows))
	trace, tooLarge := emitRows(ctx, app, id, resolvedSession, outcome.Rows, start, opts)
	if tooLarge {
		app.Metrics.ErrorEmitted("result_too_large")
		app.emitLog(ctx, "query.error", id, &resolvedSession, strp("result_too_large"), nil, trace)
		return
	}
	app.emitLog(ctx, "query.result", id, &resolvedSession, nil, strp("SELECT"), trace)
}

func emitExecError(ctx context.Context, app *App, id *string, session string, start time.Time, err error) {
	trace := event.DurationOnly(elapsedMS(start))
	e, ok := db.AsExecError(err)
	if !ok {
		e = &db.ExecError{Kind: db.KindInternal, Message: err.Error()}
	}

	switch e.Kind {
	case db.KindConnect:
		app.Metrics.ErrorEmitted("connect_failed")
		app.emit(ctx, event.NewError(id, "connect_failed", e.Message, true, trace))
		app.emitLog(ctx, "query.error", id, &session, strp("connect_failed"), nil, trace)
	case db.KindInvalidParams:
		app.Metrics.ErrorEmitted("invalid_params")
		app.emit(ctx, event.NewError(id, "invalid_params", e.Message, false, trace))
		app.emitLog(ctx, "query.error", id, &session, strp("invalid_params"), nil, trace)
	case db.KindSQL:
		app.Metrics.ErrorEmitted(e.SQLState)
		app.emit(ctx, event.NewSQLError(id, &session, e.SQLState, e.Message, e.Detail, e.Hint, e.Position, trace))
		app.emitLog(ctx, "query.sql_error", id, &session, strp(e.SQLState), nil, trace)
	default:
		app.Metrics.ErrorEmitted("invalid_request")
		app.emit(ctx, event.NewError(id, "invalid_request", e.Message, false, trace))
		app.emitLog(ctx, "query.error", id, &session, strp("invalid_request"), nil, trace)
	}
}

func elapsedMS(start time.Time) uint64 {
	return uint64(time.Since(start).Milliseconds())
}

func strp(s string) *string {
	return &s
}
