package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/afpsql/afpsql/internal/event"
)

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"json":  FormatJSON,
		"yaml":  FormatYAML,
		"plain": FormatPlain,
		"JSON":  FormatJSON,
		" yaml": FormatYAML,
	}
	for in, want := range cases {
		got, err := ParseFormat(in)
		if err != nil {
			t.Fatalf("ParseFormat(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseFormat(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseFormat("bad"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestRenderJSON(t *testing.T) {
	ev := event.NewPong(event.PongTrace{UptimeS: 3, RequestsTotal: 9, InFlight: 1})
	got, err := Render(ev, FormatJSON)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := `{"code":"pong","trace":{"uptime_s":3,"requests_total":9,"in_flight":1}}`
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestRenderYAMLKeepsFieldOrder(t *testing.T) {
	ev := event.NewClose("shutdown", event.CloseTrace{UptimeS: 1, RequestsTotal: 2})
	got, err := Render(ev, FormatYAML)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.HasPrefix(got, "---\n") {
		t.Fatalf("yaml event must start a new document: %q", got)
	}
	if !strings.Contains(got, "code: \"close\"") && !strings.Contains(got, "code: close") {
		t.Fatalf("missing code field in %q", got)
	}
	codeIdx := strings.Index(got, "code:")
	traceIdx := strings.Index(got, "trace:")
	if codeIdx < 0 || traceIdx < 0 || codeIdx > traceIdx {
		t.Fatalf("field order not preserved in %q", got)
	}
}

func TestWriteEventsFlushesOnStop(t *testing.T) {
	in := make(chan event.Output, 4)
	in <- event.NewPong(event.PongTrace{UptimeS: 1})
	in <- event.NewClose("shutdown", event.CloseTrace{UptimeS: 1})

	stop := make(chan struct{})
	close(stop)

	var buf bytes.Buffer
	WriteEvents(&buf, FormatJSON, in, stop)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("buffered events not flushed: %q", buf.String())
	}
	if !strings.Contains(lines[1], `"code":"close"`) {
		t.Fatalf("close event missing: %q", lines[1])
	}
}

func TestWriteEventsReturnsOnClose(t *testing.T) {
	in := make(chan event.Output, 1)
	in <- event.NewPong(event.PongTrace{})
	close(in)

	var buf bytes.Buffer
	WriteEvents(&buf, FormatJSON, in, nil)
	if !strings.Contains(buf.String(), `"code":"pong"`) {
		t.Fatalf("event not written: %q", buf.String())
	}
}

func TestRenderPlain(t *testing.T) {
	ev := event.NewError(nil, "invalid_request", "parse error: boom", false, event.DurationOnly(0))
	got, err := Render(ev, FormatPlain)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.HasPrefix(got, "code=error ") {
		t.Fatalf("plain output should lead with code: %q", got)
	}
	if !strings.Contains(got, "error_code=invalid_request") {
		t.Fatalf("missing error_code in %q", got)
	}
	if !strings.Contains(got, "error=parse error: boom") {
		t.Fatalf("missing message in %q", got)
	}
	if !strings.Contains(got, `trace={"duration_ms":0}`) {
		t.Fatalf("nested values should stay JSON in %q", got)
	}
}
