package dispatch

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/afpsql/afpsql/internal/config"
	"github.com/afpsql/afpsql/internal/event"
)

// drainDeadline bounds the total wait for in-flight workers at shutdown.
var drainDeadline = 5 * time.Second

// maxLineBytes bounds a single input line; large statements and inline
// params fit comfortably, runaway lines do not.
const maxLineBytes = 16 << 20

// Run reads line-delimited input events until close or EOF, then drains
// in-flight workers and emits the final close event. Malformed lines produce
// one error event each and never abort the loop. The caller owns app.Out and
// closes it once every producer has stopped.
func Run(ctx context.Context, app *App, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

loop:
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var env event.Envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			emitParseError(app, err.Error())
			continue
		}

		switch env.Code {
		case event.CodeQuery:
			var q event.Query
			if err := json.Unmarshal([]byte(line), &q); err != nil {
				emitParseError(app, err.Error())
				break
			}
			spawnQuery(ctx, app, q)
		case event.CodeConfig:
			var p config.Patch
			if err := json.Unmarshal([]byte(line), &p); err != nil {
				emitParseError(app, err.Error())
				break
			}
			app.Out <- event.NewConfigSnapshot(app.ApplyPatch(p))
		case event.CodeCancel:
			var c event.Cancel
			if err := json.Unmarshal([]byte(line), &c); err != nil {
				emitParseError(app, err.Error())
				break
			}
			cancelQuery(app, c.ID)
		case event.CodePing:
			app.Out <- event.NewPong(event.PongTrace{
				UptimeS:       app.UptimeSeconds(),
				RequestsTotal: app.RequestsTotal(),
				InFlight:      app.InFlightCount(),
			})
		case event.CodeClose:
			break loop
		default:
			emitParseError(app, "unknown input code "+strconv.Quote(env.Code))
		}

		app.sweep()
	}

	Drain(app)

	app.Out <- event.NewClose("shutdown", event.CloseTrace{
		UptimeS:       app.UptimeSeconds(),
		RequestsTotal: app.RequestsTotal(),
	})
}

// spawnQuery registers the worker before it can emit anything, so a cancel
// arriving immediately after the query line always finds the handle.
func spawnQuery(ctx context.Context, app *App, q event.Query) {
	wctx, cancel := context.WithCancel(ctx)
	w := &worker{cancel: cancel, done: make(chan struct{})}
	app.track(q.ID, w)
	app.CountRequest()

	id := q.ID
	go func() {
		defer close(w.done)
		defer cancel()
		ExecuteQuery(wctx, app, &id, q.Session, q.SQL, q.Params, q.Options)
	}()
}

func cancelQuery(app *App, id string) {
	w := app.remove(id)
	if w == nil {
		app.Out <- event.NewError(&id, "invalid_request", "no in-flight query with this id", false, event.DurationOnly(0))
		return
	}
	w.cancel()
	app.Out <- event.NewError(&id, "cancelled", "query cancelled", false, event.DurationOnly(0))
}

// Drain waits for remaining workers up to the shared deadline. Workers still
// running when the deadline expires get their contexts cancelled so their
// late completions go silent instead of writing to a dead stream.
func Drain(app *App) {
	handles := app.drainHandles()
	deadline := time.Now().Add(drainDeadline)
	for i, w := range handles {
		remain := time.Until(deadline)
		if remain <= 0 {
			cancelRemaining(handles[i:])
			return
		}
		select {
		case <-w.done:
		case <-time.After(remain):
			cancelRemaining(handles[i:])
			return
		}
	}
}

func cancelRemaining(handles []*worker) {
	for _, w := range handles {
		w.cancel()
	}
}

func emitParseError(app *App, detail string) {
	app.Out <- event.NewError(nil, "invalid_request", "parse error: "+detail, false, event.DurationOnly(0))
}
