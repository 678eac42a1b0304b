package event

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/afpsql/afpsql/internal/config"
)

func marshal(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestErrorOmitsAbsentID(t *testing.T) {
	out := marshal(t, NewError(nil, "invalid_request", "parse error: boom", false, DurationOnly(0)))
	if strings.Contains(out, `"id"`) {
		t.Fatalf("absent id must be omitted, got %s", out)
	}
	for _, want := range []string{`"code":"error"`, `"error_code":"invalid_request"`, `"retryable":false`, `"duration_ms":0`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}

func TestResultSerializesEmptyCollections(t *testing.T) {
	id := "q1"
	out := marshal(t, NewResult(&id, nil, "EXECUTE 3", nil, nil, Trace{DurationMS: 1}))
	if !strings.Contains(out, `"columns":[]`) || !strings.Contains(out, `"rows":[]`) {
		t.Fatalf("empty collections must serialize as [], got %s", out)
	}
	if !strings.Contains(out, `"row_count":0`) {
		t.Fatalf("row_count missing: %s", out)
	}
	if strings.Contains(out, `"session"`) {
		t.Fatalf("absent session must be omitted: %s", out)
	}
}

func TestTraceOmitsUnknownCounts(t *testing.T) {
	out := marshal(t, DurationOnly(12))
	if strings.Contains(out, "row_count") || strings.Contains(out, "payload_bytes") {
		t.Fatalf("unknown counts must be omitted: %s", out)
	}

	n, b := 2, 34
	out = marshal(t, Trace{DurationMS: 12, RowCount: &n, PayloadBytes: &b})
	if !strings.Contains(out, `"row_count":2`) || !strings.Contains(out, `"payload_bytes":34`) {
		t.Fatalf("counts missing: %s", out)
	}
}

func TestConfigSnapshotInlinesRuntime(t *testing.T) {
	out := marshal(t, NewConfigSnapshot(config.Default()))
	for _, want := range []string{`"code":"config"`, `"default_session":"default"`, `"inline_max_rows":1000`, `"log":[]`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}

func TestConfigSnapshotRoundTrip(t *testing.T) {
	cfg := config.Default()
	host := "db.internal"
	cfg.Apply(config.Patch{
		Sessions: map[string]config.SessionPatch{"default": {Host: &host}},
	})

	var back config.Runtime
	if err := json.Unmarshal([]byte(marshal(t, NewConfigSnapshot(cfg))), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.DefaultSession != cfg.DefaultSession || back.InlineMaxBytes != cfg.InlineMaxBytes {
		t.Fatalf("round trip mismatch: %+v vs %+v", back, cfg)
	}
	s := back.Sessions["default"]
	if s.Host == nil || *s.Host != "db.internal" {
		t.Fatalf("session lost in round trip: %+v", s)
	}
}

func TestQueryDecodesWithDefaults(t *testing.T) {
	var q Query
	line := `{"code":"query","id":"q1","sql":"select 1","params":[40,2],"options":{"stream_rows":true,"batch_rows":2}}`
	if err := json.Unmarshal([]byte(line), &q); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if q.ID != "q1" || q.SQL != "select 1" || len(q.Params) != 2 {
		t.Fatalf("bad decode: %+v", q)
	}
	if !q.Options.StreamRows || q.Options.BatchRows == nil || *q.Options.BatchRows != 2 {
		t.Fatalf("options not decoded: %+v", q.Options)
	}
	if q.Options.BatchBytes != nil {
		t.Fatal("absent option must stay nil")
	}
}
