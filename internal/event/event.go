// Package event defines the line-delimited wire events exchanged with the
// caller. Every event carries a "code" discriminator; absent optionals are
// omitted from the JSON, never emitted as null.
package event

import (
	"encoding/json"

	"github.com/afpsql/afpsql/internal/config"
)

// Input codes accepted on the request stream.
const (
	CodeQuery  = "query"
	CodeConfig = "config"
	CodeCancel = "cancel"
	CodePing   = "ping"
	CodeClose  = "close"
)

// Envelope carries just the discriminator so the dispatcher can pick the
// concrete shape to decode.
type Envelope struct {
	Code string `json:"code"`
}

// Query is a request to execute one SQL statement.
type Query struct {
	ID      string              `json:"id"`
	Session *string             `json:"session,omitempty"`
	SQL     string              `json:"sql"`
	Params  []json.RawMessage   `json:"params"`
	Options config.QueryOptions `json:"options"`
}

// Cancel targets an in-flight query by id.
type Cancel struct {
	ID string `json:"id"`
}

// Output is one event on the response stream.
type Output interface {
	outputEvent()
}

// ColumnInfo describes one result column.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Trace carries timing and, when measurable, size accounting.
type Trace struct {
	DurationMS   uint64 `json:"duration_ms"`
	RowCount     *int   `json:"row_count,omitempty"`
	PayloadBytes *int   `json:"payload_bytes,omitempty"`
}

// DurationOnly builds a trace with no row or byte accounting.
func DurationOnly(ms uint64) Trace {
	return Trace{DurationMS: ms}
}

// Result is a complete inline result.
type Result struct {
	Code       string            `json:"code"`
	ID         *string           `json:"id,omitempty"`
	Session    *string           `json:"session,omitempty"`
	CommandTag string            `json:"command_tag"`
	Columns    []ColumnInfo      `json:"columns"`
	Rows       []json.RawMessage `json:"rows"`
	RowCount   int               `json:"row_count"`
	Trace      Trace             `json:"trace"`
}

// ResultStart opens a streamed result.
type ResultStart struct {
	Code    string       `json:"code"`
	ID      string       `json:"id"`
	Session *string      `json:"session,omitempty"`
	Columns []ColumnInfo `json:"columns"`
}

// ResultRows is one batch of a streamed result.
type ResultRows struct {
	Code           string            `json:"code"`
	ID             string            `json:"id"`
	Rows           []json.RawMessage `json:"rows"`
	RowsBatchCount int               `json:"rows_batch_count"`
}

// ResultEnd closes a streamed result.
type ResultEnd struct {
	Code       string  `json:"code"`
	ID         string  `json:"id"`
	Session    *string `json:"session,omitempty"`
	CommandTag string  `json:"command_tag"`
	Trace      Trace   `json:"trace"`
}

// SQLError is a database-originated failure, identified by SQLSTATE.
type SQLError struct {
	Code     string  `json:"code"`
	ID       *string `json:"id,omitempty"`
	Session  *string `json:"session,omitempty"`
	SQLState string  `json:"sqlstate"`
	Message  string  `json:"message"`
	Detail   *string `json:"detail,omitempty"`
	Hint     *string `json:"hint,omitempty"`
	Position *string `json:"position,omitempty"`
	Trace    Trace   `json:"trace"`
}

// Error is a gateway-originated failure.
type Error struct {
	Code      string  `json:"code"`
	ID        *string `json:"id,omitempty"`
	ErrorCode string  `json:"error_code"`
	Message   string  `json:"error"`
	Retryable bool    `json:"retryable"`
	Trace     Trace   `json:"trace"`
}

// ConfigSnapshot echoes the full runtime configuration after a patch.
type ConfigSnapshot struct {
	Code string `json:"code"`
	config.Runtime
}

// PongTrace is the payload of a pong event.
type PongTrace struct {
	UptimeS       uint64 `json:"uptime_s"`
	RequestsTotal uint64 `json:"requests_total"`
	InFlight      int    `json:"in_flight"`
}

// Pong answers a ping.
type Pong struct {
	Code  string    `json:"code"`
	Trace PongTrace `json:"trace"`
}

// CloseTrace is the payload of the final close event.
type CloseTrace struct {
	UptimeS       uint64 `json:"uptime_s"`
	RequestsTotal uint64 `json:"requests_total"`
}

// Close is the last event on the stream.
type Close struct {
	Code    string     `json:"code"`
	Message string     `json:"message"`
	Trace   CloseTrace `json:"trace"`
}

// Log is an in-band diagnostic event, gated by the config log filters.
type Log struct {
	Code       string  `json:"code"`
	Event      string  `json:"event"`
	RequestID  *string `json:"request_id,omitempty"`
	Session    *string `json:"session,omitempty"`
	ErrorCode  *string `json:"error_code,omitempty"`
	CommandTag *string `json:"command_tag,omitempty"`
	Trace      Trace   `json:"trace"`
}

func (Result) outputEvent()         {}
func (ResultStart) outputEvent()    {}
func (ResultRows) outputEvent()     {}
func (ResultEnd) outputEvent()      {}
func (SQLError) outputEvent()       {}
func (Error) outputEvent()          {}
func (ConfigSnapshot) outputEvent() {}
func (Pong) outputEvent()           {}
func (Close) outputEvent()          {}
func (Log) outputEvent()            {}

// NewResult fills the discriminator and keeps columns/rows non-nil so they
// serialize as empty arrays.
func NewResult(id, session *string, tag string, columns []ColumnInfo, rows []json.RawMessage, trace Trace) Result {
	if columns == nil {
		columns = []ColumnInfo{}
	}
	if rows == nil {
		rows = []json.RawMessage{}
	}
	return Result{
		Code:       "result",
		ID:         id,
		Session:    session,
		CommandTag: tag,
		Columns:    columns,
		Rows:       rows,
		RowCount:   len(rows),
		Trace:      trace,
	}
}

// NewResultStart fills the discriminator and keeps columns non-nil.
func NewResultStart(id string, session *string, columns []ColumnInfo) ResultStart {
	if columns == nil {
		columns = []ColumnInfo{}
	}
	return ResultStart{Code: "result_start", ID: id, Session: session, Columns: columns}
}

// NewResultRows fills the discriminator.
func NewResultRows(id string, rows []json.RawMessage) ResultRows {
	return ResultRows{Code: "result_rows", ID: id, Rows: rows, RowsBatchCount: len(rows)}
}

// NewResultEnd fills the discriminator.
func NewResultEnd(id string, session *string, tag string, trace Trace) ResultEnd {
	return ResultEnd{Code: "result_end", ID: id, Session: session, CommandTag: tag, Trace: trace}
}

// NewError fills the discriminator.
func NewError(id *string, code, message string, retryable bool, trace Trace) Error {
	return Error{Code: "error", ID: id, ErrorCode: code, Message: message, Retryable: retryable, Trace: trace}
}

// NewSQLError fills the discriminator.
func NewSQLError(id, session *string, sqlstate, message string, detail, hint, position *string, trace Trace) SQLError {
	return SQLError{
		Code:     "sql_error",
		ID:       id,
		Session:  session,
		SQLState: sqlstate,
		Message:  message,
		Detail:   detail,
		Hint:     hint,
		Position: position,
		Trace:    trace,
	}
}

// NewConfigSnapshot fills the discriminator around a config clone.
func NewConfigSnapshot(cfg config.Runtime) ConfigSnapshot {
	return ConfigSnapshot{Code: "config", Runtime: cfg}
}

// NewPong fills the discriminator.
func NewPong(trace PongTrace) Pong {
	return Pong{Code: "pong", Trace: trace}
}

// NewClose fills the discriminator.
func NewClose(message string, trace CloseTrace) Close {
	return Close{Code: "close", Message: message, Trace: trace}
}

// NewLog fills the discriminator.
func NewLog(evt string, requestID, session, errorCode, commandTag *string, trace Trace) Log {
	return Log{
		Code:       "log",
		Event:      evt,
		RequestID:  requestID,
		Session:    session,
		ErrorCode:  errorCode,
		CommandTag: commandTag,
		Trace:      trace,
	}
}
