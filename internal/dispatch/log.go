package dispatch

import (
	"context"
	"strings"

	"github.com/afpsql/afpsql/internal/event"
)

// emitLog sends one in-band log event if the live filters enable it.
func (a *App) emitLog(ctx context.Context, evt string, requestID, session, errorCode, commandTag *string, trace event.Trace) {
	a.cfgMu.RLock()
	enabled := logEnabled(a.cfg.Log, evt)
	a.cfgMu.RUnlock()
	if !enabled {
		return
	}
	a.emit(ctx, event.NewLog(evt, requestID, session, errorCode, commandTag, trace))
}

// logEnabled matches a normalized filter list against a dotted event name:
// wildcard, exact, or the segment before the first dot.
func logEnabled(filters []string, evt string) bool {
	if len(filters) == 0 {
		return false
	}
	prefix, _, _ := strings.Cut(evt, ".")
	for _, f := range filters {
		if f == "all" || f == "*" || f == evt || f == prefix {
			return true
		}
	}
	return false
}
