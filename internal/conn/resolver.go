// Package conn turns a session configuration into a connection string the
// driver can consume. Precedence: DSN, then key=value conninfo, then
// discrete fields with AFPSQL_* environment fallback.
package conn

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/afpsql/afpsql/internal/config"
)

// Environment variables consulted when session fields are absent.
const (
	EnvDSNSecret      = "AFPSQL_DSN_SECRET"
	EnvConninfoSecret = "AFPSQL_CONNINFO_SECRET"
	EnvHost           = "AFPSQL_HOST"
	EnvPort           = "AFPSQL_PORT"
	EnvUser           = "AFPSQL_USER"
	EnvDBName         = "AFPSQL_DBNAME"
	EnvPasswordSecret = "AFPSQL_PASSWORD_SECRET"
)

// ResolveSessionName picks the requested session name, or the configured
// default when the request omits one.
func ResolveSessionName(cfg *config.Runtime, requested *string) string {
	if requested != nil {
		return *requested
	}
	return cfg.DefaultSession
}

// ResolveConnString produces the connection string for a session. The first
// non-empty source wins: DSN verbatim, conninfo re-emitted as a URL,
// discrete fields with environment fallback.
func ResolveConnString(s config.Session) (string, error) {
	if dsn, ok := stringOrEnv(s.DSNSecret, EnvDSNSecret); ok {
		return dsn, nil
	}

	if conninfo, ok := stringOrEnv(s.ConninfoSecret, EnvConninfoSecret); ok {
		kv, err := parseConninfo(conninfo)
		if err != nil {
			return "", fmt.Errorf("invalid conninfo: %w", err)
		}
		return conninfoToURL(kv), nil
	}

	host, ok := stringOrEnv(s.Host, EnvHost)
	if !ok {
		host = "127.0.0.1"
	}
	port := portOrEnv(s.Port)
	user, ok := stringOrEnv(s.User, EnvUser)
	if !ok {
		user = "postgres"
	}
	dbname, ok := stringOrEnv(s.DBName, EnvDBName)
	if !ok {
		dbname = "postgres"
	}
	password, hasPassword := stringOrEnv(s.PasswordSecret, EnvPasswordSecret)

	// A Unix-socket host cannot be expressed in URL authority form; emit
	// key=value conninfo so the path survives.
	if strings.HasPrefix(host, "/") {
		out := fmt.Sprintf("host=%s port=%d user=%s dbname=%s", host, port, user, dbname)
		if hasPassword {
			out += " password=" + password
		}
		return out, nil
	}

	auth := user
	if hasPassword {
		auth = user + ":" + password
	}
	return fmt.Sprintf("postgresql://%s@%s:%d/%s", auth, host, port, dbname), nil
}

// conninfoToURL re-emits parsed conninfo settings as a URL. A Unix-socket
// host is replaced with 127.0.0.1; URL form cannot carry the path.
func conninfoToURL(kv map[string]string) string {
	host := kv["host"]
	if host == "" || strings.HasPrefix(host, "/") {
		host = "127.0.0.1"
	}
	port := kv["port"]
	if port == "" {
		port = "5432"
	}
	user := kv["user"]
	if user == "" {
		user = "postgres"
	}
	dbname := kv["dbname"]
	if dbname == "" {
		dbname = "postgres"
	}

	auth := user
	if pw := kv["password"]; pw != "" {
		auth = user + ":" + pw
	}
	return fmt.Sprintf("postgresql://%s@%s:%s/%s", auth, host, port, dbname)
}

// parseConninfo scans a libpq key=value settings string. Values may be
// single-quoted and use backslash escapes. The scan is deliberately free of
// environment or OS-user defaulting so the URL re-emission stays
// deterministic.
func parseConninfo(s string) (map[string]string, error) {
	kv := make(map[string]string)
	i := 0
	for i < len(s) {
		if s[i] == ' ' || s[i] == '\t' || s[i] == '\n' {
			i++
			continue
		}

		start := i
		for i < len(s) && s[i] != '=' && s[i] != ' ' {
			i++
		}
		key := s[start:i]
		for i < len(s) && s[i] == ' ' {
			i++
		}
		if i >= len(s) || s[i] != '=' {
			return nil, fmt.Errorf("missing \"=\" after %q", key)
		}
		if key == "" {
			return nil, fmt.Errorf("missing key before \"=\"")
		}
		i++ // consume '='
		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}

		var val strings.Builder
		if i < len(s) && s[i] == '\'' {
			i++
			closed := false
			for i < len(s) {
				switch s[i] {
				case '\\':
					i++
					if i < len(s) {
						val.WriteByte(s[i])
						i++
					}
				case '\'':
					i++
					closed = true
				default:
					val.WriteByte(s[i])
					i++
				}
				if closed {
					break
				}
			}
			if !closed {
				return nil, fmt.Errorf("unterminated quoted string")
			}
		} else {
			for i < len(s) && s[i] != ' ' && s[i] != '\t' && s[i] != '\n' {
				if s[i] == '\\' {
					i++
					if i >= len(s) {
						return nil, fmt.Errorf("trailing backslash")
					}
				}
				val.WriteByte(s[i])
				i++
			}
		}
		kv[key] = val.String()
	}
	return kv, nil
}

// stringOrEnv reports a field's value and whether any source supplied one.
// An explicitly set field wins verbatim, even when empty; only an absent
// field consults the environment.
func stringOrEnv(v *string, key string) (string, bool) {
	if v != nil {
		return *v, true
	}
	if ev := os.Getenv(key); ev != "" {
		return ev, true
	}
	return "", false
}

func portOrEnv(v *uint16) uint16 {
	if v != nil {
		return *v
	}
	if raw := os.Getenv(EnvPort); raw != "" {
		if p, err := strconv.ParseUint(raw, 10, 16); err == nil {
			return uint16(p)
		}
	}
	return 5432
}
