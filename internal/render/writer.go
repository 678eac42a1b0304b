package render

import (
	"bufio"
	"io"
	"log/slog"

	"github.com/afpsql/afpsql/internal/event"
)

// WriteEvents renders events to w, one per line, flushing after each so a
// consumer reading the pipe sees events as they happen. It returns when the
// channel closes, or, once stop is closed, after flushing whatever is still
// buffered. A nil stop never fires.
func WriteEvents(w io.Writer, f Format, in <-chan event.Output, stop <-chan struct{}) {
	bw := bufio.NewWriter(w)
	for {
		select {
		case ev, ok := <-in:
			if !ok {
				return
			}
			writeEvent(bw, f, ev)
		case <-stop:
			for {
				select {
				case ev, ok := <-in:
					if !ok {
						return
					}
					writeEvent(bw, f, ev)
				default:
					return
				}
			}
		}
	}
}

func writeEvent(bw *bufio.Writer, f Format, ev event.Output) {
	line, err := Render(ev, f)
	if err != nil {
		slog.Warn("render event failed", "error", err)
		return
	}
	if _, err := bw.WriteString(line); err != nil {
		slog.Warn("write event failed", "error", err)
		return
	}
	_ = bw.WriteByte('\n')
	_ = bw.Flush()
}
