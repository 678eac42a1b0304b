package config

import "strings"

// Version is reported by the tool-server handshake and the version flag.
const Version = "0.1.0"

// Session holds the connection settings for one named session. Every field
// is optional; absent fields fall back to the AFPSQL_* environment and then
// to built-in defaults at resolution time.
type Session struct {
	DSNSecret      *string `json:"dsn_secret,omitempty" yaml:"dsn_secret,omitempty"`
	ConninfoSecret *string `json:"conninfo_secret,omitempty" yaml:"conninfo_secret,omitempty"`
	Host           *string `json:"host,omitempty" yaml:"host,omitempty"`
	Port           *uint16 `json:"port,omitempty" yaml:"port,omitempty"`
	User           *string `json:"user,omitempty" yaml:"user,omitempty"`
	DBName         *string `json:"dbname,omitempty" yaml:"dbname,omitempty"`
	PasswordSecret *string `json:"password_secret,omitempty" yaml:"password_secret,omitempty"`
}

// IsZero reports whether no field of the session is set.
func (s Session) IsZero() bool {
	return s.DSNSecret == nil && s.ConninfoSecret == nil && s.Host == nil &&
		s.Port == nil && s.User == nil && s.DBName == nil && s.PasswordSecret == nil
}

// Redacted returns a copy of the session with secret-bearing fields masked.
func (s Session) Redacted() Session {
	c := s
	mask := func(p *string) *string {
		if p == nil {
			return nil
		}
		v := "***REDACTED***"
		return &v
	}
	c.DSNSecret = mask(c.DSNSecret)
	c.ConninfoSecret = mask(c.ConninfoSecret)
	c.PasswordSecret = mask(c.PasswordSecret)
	return c
}

// Runtime is the process-wide live configuration. It is mutated only by the
// dispatcher applying patches; workers read snapshots.
type Runtime struct {
	DefaultSession     string             `json:"default_session"`
	Sessions           map[string]Session `json:"sessions"`
	InlineMaxRows      int                `json:"inline_max_rows"`
	InlineMaxBytes     int                `json:"inline_max_bytes"`
	StatementTimeoutMS uint64             `json:"statement_timeout_ms"`
	LockTimeoutMS      uint64             `json:"lock_timeout_ms"`
	Log                []string           `json:"log"`
}

// Default returns the built-in runtime configuration with a single empty
// "default" session.
func Default() Runtime {
	return Runtime{
		DefaultSession:     "default",
		Sessions:           map[string]Session{"default": {}},
		InlineMaxRows:      1000,
		InlineMaxBytes:     1_048_576,
		StatementTimeoutMS: 30_000,
		LockTimeoutMS:      5_000,
		Log:                []string{},
	}
}

// Clone returns a deep copy suitable as a per-request snapshot.
func (c Runtime) Clone() Runtime {
	out := c
	out.Sessions = make(map[string]Session, len(c.Sessions))
	for k, v := range c.Sessions {
		out.Sessions[k] = v
	}
	out.Log = append([]string(nil), c.Log...)
	return out
}

// Redacted returns a copy with every session's secrets masked.
func (c Runtime) Redacted() Runtime {
	out := c.Clone()
	for k, v := range out.Sessions {
		out.Sessions[k] = v.Redacted()
	}
	return out
}

// SessionPatch is a per-field-optional delta for one session.
type SessionPatch struct {
	DSNSecret      *string `json:"dsn_secret,omitempty" yaml:"dsn_secret,omitempty"`
	ConninfoSecret *string `json:"conninfo_secret,omitempty" yaml:"conninfo_secret,omitempty"`
	Host           *string `json:"host,omitempty" yaml:"host,omitempty"`
	Port           *uint16 `json:"port,omitempty" yaml:"port,omitempty"`
	User           *string `json:"user,omitempty" yaml:"user,omitempty"`
	DBName         *string `json:"dbname,omitempty" yaml:"dbname,omitempty"`
	PasswordSecret *string `json:"password_secret,omitempty" yaml:"password_secret,omitempty"`
}

// Patch is a sparse update of the runtime configuration. Absent fields leave
// the live value untouched.
type Patch struct {
	DefaultSession     *string                 `json:"default_session,omitempty" yaml:"default_session,omitempty"`
	Sessions           map[string]SessionPatch `json:"sessions,omitempty" yaml:"sessions,omitempty"`
	InlineMaxRows      *int                    `json:"inline_max_rows,omitempty" yaml:"inline_max_rows,omitempty"`
	InlineMaxBytes     *int                    `json:"inline_max_bytes,omitempty" yaml:"inline_max_bytes,omitempty"`
	StatementTimeoutMS *uint64                 `json:"statement_timeout_ms,omitempty" yaml:"statement_timeout_ms,omitempty"`
	LockTimeoutMS      *uint64                 `json:"lock_timeout_ms,omitempty" yaml:"lock_timeout_ms,omitempty"`
	Log                *[]string               `json:"log,omitempty" yaml:"log,omitempty"`
}

// Apply merges a patch into the live configuration. Session patches merge
// field by field into the existing session, creating it if absent. After the
// merge the default session is guaranteed to exist.
func (c *Runtime) Apply(p Patch) {
	if p.DefaultSession != nil {
		c.DefaultSession = *p.DefaultSession
	}
	if p.InlineMaxRows != nil {
		c.InlineMaxRows = *p.InlineMaxRows
	}
	if p.InlineMaxBytes != nil {
		c.InlineMaxBytes = *p.InlineMaxBytes
	}
	if p.StatementTimeoutMS != nil {
		c.StatementTimeoutMS = *p.StatementTimeoutMS
	}
	if p.LockTimeoutMS != nil {
		c.LockTimeoutMS = *p.LockTimeoutMS
	}
	if p.Log != nil {
		c.Log = NormalizeLogFilters(*p.Log)
	}
	for name, sp := range p.Sessions {
		entry := c.Sessions[name]
		if sp.DSNSecret != nil {
			entry.DSNSecret = sp.DSNSecret
		}
		if sp.ConninfoSecret != nil {
			entry.ConninfoSecret = sp.ConninfoSecret
		}
		if sp.Host != nil {
			entry.Host = sp.Host
		}
		if sp.Port != nil {
			entry.Port = sp.Port
		}
		if sp.User != nil {
			entry.User = sp.User
		}
		if sp.DBName != nil {
			entry.DBName = sp.DBName
		}
		if sp.PasswordSecret != nil {
			entry.PasswordSecret = sp.PasswordSecret
		}
		c.Sessions[name] = entry
	}
	if _, ok := c.Sessions[c.DefaultSession]; !ok {
		c.Sessions[c.DefaultSession] = Session{}
	}
}

// NormalizeLogFilters lowercases, trims, dedupes, and drops empty log
// category filters. The wildcard tokens "all" and "*" pass through.
func NormalizeLogFilters(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, f := range in {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
