package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func strp(s string) *string   { return &s }
func intp(n int) *int         { return &n }
func u64p(n uint64) *uint64   { return &n }
func u16p(n uint16) *uint16   { return &n }
func boolp(b bool) *bool      { return &b }
func logp(v []string) *[]string { return &v }

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.DefaultSession != "default" {
		t.Fatalf("default session = %q", cfg.DefaultSession)
	}
	if _, ok := cfg.Sessions["default"]; !ok {
		t.Fatal("default session entry missing")
	}
	if cfg.InlineMaxRows != 1000 || cfg.InlineMaxBytes != 1_048_576 {
		t.Fatalf("inline limits = %d/%d", cfg.InlineMaxRows, cfg.InlineMaxBytes)
	}
	if cfg.StatementTimeoutMS != 30_000 || cfg.LockTimeoutMS != 5_000 {
		t.Fatalf("timeouts = %d/%d", cfg.StatementTimeoutMS, cfg.LockTimeoutMS)
	}
}

func TestApplyScalarsAndLog(t *testing.T) {
	cfg := Default()
	cfg.Apply(Patch{
		InlineMaxRows:      intp(5),
		InlineMaxBytes:     intp(2048),
		StatementTimeoutMS: u64p(100),
		LockTimeoutMS:      u64p(200),
		Log:                logp([]string{" Query ", "", "query", "ALL"}),
	})
	if cfg.InlineMaxRows != 5 || cfg.InlineMaxBytes != 2048 {
		t.Fatalf("inline limits not applied: %d/%d", cfg.InlineMaxRows, cfg.InlineMaxBytes)
	}
	if cfg.StatementTimeoutMS != 100 || cfg.LockTimeoutMS != 200 {
		t.Fatalf("timeouts not applied: %d/%d", cfg.StatementTimeoutMS, cfg.LockTimeoutMS)
	}
	want := []string{"query", "all"}
	if !reflect.DeepEqual(cfg.Log, want) {
		t.Fatalf("log filters = %v, want %v", cfg.Log, want)
	}
}

func TestApplyMergesSessionsFieldByField(t *testing.T) {
	cfg := Default()
	cfg.Apply(Patch{
		Sessions: map[string]SessionPatch{
			"default": {Host: strp("db1"), Port: u16p(6543)},
		},
	})
	cfg.Apply(Patch{
		Sessions: map[string]SessionPatch{
			"default": {User: strp("roger")},
		},
	})

	s := cfg.Sessions["default"]
	if s.Host == nil || *s.Host != "db1" {
		t.Fatalf("host lost on second patch: %+v", s)
	}
	if s.Port == nil || *s.Port != 6543 {
		t.Fatalf("port lost on second patch: %+v", s)
	}
	if s.User == nil || *s.User != "roger" {
		t.Fatalf("user not merged: %+v", s)
	}
}

func TestApplyInsertsMissingDefaultSession(t *testing.T) {
	cfg := Default()
	cfg.Apply(Patch{DefaultSession: strp("prod")})
	if _, ok := cfg.Sessions["prod"]; !ok {
		t.Fatal("default session not inserted after rename")
	}
}

func TestResolveDefaultsAndFloors(t *testing.T) {
	cfg := Default()

	r := cfg.Resolve(QueryOptions{})
	if r.BatchRows != 1000 || r.BatchBytes != 262_144 {
		t.Fatalf("batch defaults = %d/%d", r.BatchRows, r.BatchBytes)
	}
	if r.StatementTimeoutMS != 30_000 || r.LockTimeoutMS != 5_000 {
		t.Fatalf("timeout defaults = %d/%d", r.StatementTimeoutMS, r.LockTimeoutMS)
	}
	if r.ReadOnly || r.StreamRows {
		t.Fatal("read_only/stream_rows should default to false")
	}

	r = cfg.Resolve(QueryOptions{BatchRows: intp(0), BatchBytes: intp(1)})
	if r.BatchRows != 1 {
		t.Fatalf("batch_rows floor = %d, want 1", r.BatchRows)
	}
	if r.BatchBytes != 1024 {
		t.Fatalf("batch_bytes floor = %d, want 1024", r.BatchBytes)
	}

	r = cfg.Resolve(QueryOptions{
		StreamRows:     true,
		InlineMaxRows:  intp(7),
		InlineMaxBytes: intp(4096),
		ReadOnly:       boolp(true),
	})
	if !r.StreamRows || !r.ReadOnly {
		t.Fatal("overrides not applied")
	}
	if r.InlineMaxRows != 7 || r.InlineMaxBytes != 4096 {
		t.Fatalf("inline overrides = %d/%d", r.InlineMaxRows, r.InlineMaxBytes)
	}
}

func TestNormalizeLogFilters(t *testing.T) {
	got := NormalizeLogFilters([]string{"  Query.Result ", "*", "", "query.result", "All"})
	want := []string{"query.result", "*", "all"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("normalize = %v, want %v", got, want)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := Default()
	snap := cfg.Clone()
	cfg.Apply(Patch{
		Sessions: map[string]SessionPatch{"extra": {Host: strp("db")}},
	})
	if _, ok := snap.Sessions["extra"]; ok {
		t.Fatal("snapshot shares the sessions map")
	}
}

func TestRedactedMasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.Apply(Patch{
		Sessions: map[string]SessionPatch{
			"default": {DSNSecret: strp("postgresql://u:pw@h/d"), PasswordSecret: strp("pw")},
		},
	})
	red := cfg.Redacted()
	s := red.Sessions["default"]
	if *s.DSNSecret != "***REDACTED***" || *s.PasswordSecret != "***REDACTED***" {
		t.Fatalf("secrets not masked: %+v", s)
	}
	// original untouched
	if *cfg.Sessions["default"].DSNSecret != "postgresql://u:pw@h/d" {
		t.Fatal("redaction mutated the live config")
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "afpsql.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "s3cret")
	path := writeTemp(t, `
default_session: main
inline_max_rows: 50
log: [query, "ALL"]
sessions:
  main:
    host: db.internal
    port: 6432
    user: agent
    dbname: appdb
    password_secret: ${TEST_DB_PASSWORD}
`)

	p, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	cfg := Default()
	cfg.Apply(p)

	if cfg.DefaultSession != "main" {
		t.Fatalf("default_session = %q", cfg.DefaultSession)
	}
	if cfg.InlineMaxRows != 50 {
		t.Fatalf("inline_max_rows = %d", cfg.InlineMaxRows)
	}
	if !reflect.DeepEqual(cfg.Log, []string{"query", "all"}) {
		t.Fatalf("log = %v", cfg.Log)
	}
	s := cfg.Sessions["main"]
	if s.PasswordSecret == nil || *s.PasswordSecret != "s3cret" {
		t.Fatalf("env substitution failed: %+v", s)
	}
	if s.Port == nil || *s.Port != 6432 {
		t.Fatalf("port = %+v", s.Port)
	}
	// untouched defaults survive the partial file
	if cfg.StatementTimeoutMS != 30_000 {
		t.Fatalf("statement timeout changed: %d", cfg.StatementTimeoutMS)
	}
}

func TestLoadFileRejectsBadValues(t *testing.T) {
	path := writeTemp(t, "inline_max_rows: -1\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected validation error")
	}

	path = writeTemp(t, "sessions:\n  s1:\n    dsn_secret: \"\"\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected empty dsn_secret to be rejected")
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected read error")
	}
}
