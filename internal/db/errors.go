package db

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies an execution failure for the error taxonomy.
type Kind int

const (
	// KindConnect covers resolver, pool, and acquisition failures. Retryable.
	KindConnect Kind = iota + 1
	// KindInvalidParams covers parameter count and coercion failures.
	KindInvalidParams
	// KindSQL is a database-reported error carrying a SQLSTATE.
	KindSQL
	// KindInternal is any other driver failure.
	KindInternal
)

// ExecError is the classified outcome of a failed execution step.
type ExecError struct {
	Kind    Kind
	Message string

	// Populated only for KindSQL.
	SQLState string
	Detail   *string
	Hint     *string
	Position *string
}

func (e *ExecError) Error() string {
	if e.Kind == KindSQL {
		return fmt.Sprintf("%s: %s", e.SQLState, e.Message)
	}
	return e.Message
}

func connectf(format string, args ...any) *ExecError {
	return &ExecError{Kind: KindConnect, Message: fmt.Sprintf(format, args...)}
}

func invalidParamsf(format string, args ...any) *ExecError {
	return &ExecError{Kind: KindInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// classify maps a driver error to the taxonomy: database errors keep their
// SQLSTATE and optional detail/hint/position, everything else is internal.
func classify(err error) *ExecError {
	var pg *pgconn.PgError
	if errors.As(err, &pg) {
		e := &ExecError{
			Kind:     KindSQL,
			Message:  pg.Message,
			SQLState: pg.Code,
		}
		if pg.Detail != "" {
			d := pg.Detail
			e.Detail = &d
		}
		if pg.Hint != "" {
			h := pg.Hint
			e.Hint = &h
		}
		if pg.Position > 0 {
			p := strconv.Itoa(int(pg.Position))
			e.Position = &p
		} else if pg.InternalPosition > 0 {
			p := strconv.Itoa(int(pg.InternalPosition))
			e.Position = &p
		}
		return e
	}
	return &ExecError{Kind: KindInternal, Message: err.Error()}
}

// AsExecError extracts the classified error, if any.
func AsExecError(err error) (*ExecError, bool) {
	var e *ExecError
	ok := errors.As(err, &e)
	return e, ok
}

// IsInvalidParams reports whether err classified as a parameter failure.
func IsInvalidParams(err error) bool {
	e, ok := AsExecError(err)
	return ok && e.Kind == KindInvalidParams
}
