// Package dispatch owns the concurrent request lifecycle: one worker per
// query id, cancel-by-id, live configuration, and the bounded output stream
// every front-end consumes.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/afpsql/afpsql/internal/config"
	"github.com/afpsql/afpsql/internal/db"
	"github.com/afpsql/afpsql/internal/event"
	"github.com/afpsql/afpsql/internal/metrics"
)

// OutputChannelCapacity bounds the shared output stream; writers block when
// the consumer falls behind.
const OutputChannelCapacity = 4096

// worker is the in-flight handle for one query.
type worker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (w *worker) finished() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// App is the shared state of the gateway: live configuration, the executor,
// the output stream, and in-flight accounting. The configuration is written
// only through ApplyPatch; workers read snapshots.
type App struct {
	Executor db.Executor
	Out      chan event.Output
	Metrics  *metrics.Collector

	cfgMu sync.RWMutex
	cfg   config.Runtime

	flightMu sync.Mutex
	inFlight map[string]*worker

	closing   chan struct{}
	closeOnce sync.Once

	requestsTotal atomic.Uint64
	start         time.Time
}

// NewApp builds the shared state around an initial configuration.
func NewApp(cfg config.Runtime, exec db.Executor, capacity int) *App {
	if capacity <= 0 {
		capacity = OutputChannelCapacity
	}
	return &App{
		Executor: exec,
		Out:      make(chan event.Output, capacity),
		cfg:      cfg,
		inFlight: make(map[string]*worker),
		closing:  make(chan struct{}),
		start:    time.Now(),
	}
}

// Shutdown silences emit permanently. Called once the session has ended and
// no consumer remains, so a worker that outlived the drain deadline cannot
// send into a stream nobody reads.
func (a *App) Shutdown() {
	a.closeOnce.Do(func() { close(a.closing) })
}

// ConfigSnapshot returns a deep copy of the live configuration.
func (a *App) ConfigSnapshot() config.Runtime {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg.Clone()
}

// ApplyPatch merges a patch into the live configuration and returns a
// snapshot of the result.
func (a *App) ApplyPatch(p config.Patch) config.Runtime {
	a.cfgMu.Lock()
	a.cfg.Apply(p)
	out := a.cfg.Clone()
	a.cfgMu.Unlock()
	a.Metrics.ConfigReloaded()
	return out
}

// emit sends one event, blocking on backpressure. A cancelled worker context
// or a shut-down app suppresses the send: the canceller's terminal error
// stays the last event for that id, and nothing is sent after the session
// has been torn down.
func (a *App) emit(ctx context.Context, ev event.Output) {
	if ctx.Err() != nil {
		return
	}
	select {
	case <-a.closing:
		return
	default:
	}
	select {
	case a.Out <- ev:
	case <-ctx.Done():
	case <-a.closing:
	}
}

// track registers a worker handle. A duplicate id replaces the previous
// handle, matching the at-most-one-worker-per-id invariant; the replaced
// worker keeps running untracked until it finishes.
func (a *App) track(id string, w *worker) {
	a.flightMu.Lock()
	a.inFlight[id] = w
	a.flightMu.Unlock()
}

// remove detaches and returns the worker for id, if any.
func (a *App) remove(id string) *worker {
	a.flightMu.Lock()
	defer a.flightMu.Unlock()
	w := a.inFlight[id]
	delete(a.inFlight, id)
	return w
}

// sweep drops finished workers from the in-flight table.
func (a *App) sweep() {
	a.flightMu.Lock()
	for id, w := range a.inFlight {
		if w.finished() {
			delete(a.inFlight, id)
		}
	}
	a.flightMu.Unlock()
}

// drainHandles empties the in-flight table and returns the handles.
func (a *App) drainHandles() []*worker {
	a.flightMu.Lock()
	defer a.flightMu.Unlock()
	out := make([]*worker, 0, len(a.inFlight))
	for id, w := range a.inFlight {
		out = append(out, w)
		delete(a.inFlight, id)
	}
	return out
}

// InFlightCount reports the number of tracked workers.
func (a *App) InFlightCount() int {
	a.flightMu.Lock()
	defer a.flightMu.Unlock()
	return len(a.inFlight)
}

// RequestsTotal reports the number of admitted query requests.
func (a *App) RequestsTotal() uint64 {
	return a.requestsTotal.Load()
}

// CountRequest increments the request counter.
func (a *App) CountRequest() {
	a.requestsTotal.Add(1)
}

// UptimeSeconds reports whole seconds since the app was built.
func (a *App) UptimeSeconds() uint64 {
	return uint64(time.Since(a.start).Seconds())
}
