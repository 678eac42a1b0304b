package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/afpsql/afpsql/internal/config"
	"github.com/afpsql/afpsql/internal/event"
)

// emitRows delivers a row-producing outcome, inline or streamed, enforcing
// the resolved size policy. It reports the trace it attached to the terminal
// event and whether the inline ceiling rejected the result.
func emitRows(ctx context.Context, app *App, id *string, session string, rows []json.RawMessage, start time.Time, opts config.Resolved) (event.Trace, bool) {
	if opts.StreamRows {
		return streamRows(ctx, app, id, session, rows, start, opts), false
	}

	columns := inferColumns(rows)
	payloadBytes := 0
	for _, row := range rows {
		payloadBytes += len(row)
	}

	if len(rows) > opts.InlineMaxRows || payloadBytes > opts.InlineMaxBytes {
		rowCount := len(rows)
		trace := event.Trace{DurationMS: elapsedMS(start), RowCount: &rowCount, PayloadBytes: &payloadBytes}
		app.emit(ctx, event.NewError(id, "result_too_large",
			"result exceeds inline limits; retry with stream_rows=true", false, trace))
		return trace, true
	}

	rowCount := len(rows)
	trace := event.Trace{DurationMS: elapsedMS(start), RowCount: &rowCount, PayloadBytes: &payloadBytes}
	app.emit(ctx, event.NewResult(id, &session, "ROWS "+strconv.Itoa(rowCount), columns, rows, trace))
	return trace, false
}

// streamRows cuts batches on row count or byte budget, whichever trips
// first, then closes the stream with the total tag.
func streamRows(ctx context.Context, app *App, id *string, session string, rows []json.RawMessage, start time.Time, opts config.Resolved) event.Trace {
	reqID := "cli"
	if id != nil {
		reqID = *id
	}

	app.emit(ctx, event.NewResultStart(reqID, &session, inferColumns(rows)))

	var batch []json.RawMessage
	batchBytes := 0
	totalBytes := 0
	for _, row := range rows {
		sz := len(row)
		batchBytes += sz
		totalBytes += sz
		batch = append(batch, row)

		if len(batch) >= opts.BatchRows || batchBytes >= opts.BatchBytes {
			app.emit(ctx, event.NewResultRows(reqID, batch))
			batch = nil
			batchBytes = 0
		}
	}
	if len(batch) > 0 {
		app.emit(ctx, event.NewResultRows(reqID, batch))
	}

	rowCount := len(rows)
	trace := event.Trace{DurationMS: elapsedMS(start), RowCount: &rowCount, PayloadBytes: &totalBytes}
	app.emit(ctx, event.NewResultEnd(reqID, &session, "ROWS "+strconv.Itoa(rowCount), trace))
	return trace
}

// inferColumns reads the first row: a JSON object yields one column per key
// in the object's own order, anything else yields no columns.
func inferColumns(rows []json.RawMessage) []event.ColumnInfo {
	if len(rows) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(rows[0]))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil
	}

	var cols []event.ColumnInfo
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil
		}
		cols = append(cols, event.ColumnInfo{Name: key, Type: "json"})
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil
		}
	}
	return cols
}
