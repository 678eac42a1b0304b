// Package cli parses the command line into an invocation: a one-shot query,
// a pipe-protocol session, or the JSON-RPC tool server. A psql compatibility
// translator maps the common psql flags onto a one-shot query.
package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/afpsql/afpsql/internal/config"
	"github.com/afpsql/afpsql/internal/render"
)

// Mode selects the front-end.
type Mode int

const (
	ModeOneShot Mode = iota
	ModePipe
	ModeMCP
)

// Request is a one-shot query synthesized from arguments.
type Request struct {
	SQL     string
	Params  []json.RawMessage
	Options config.QueryOptions
}

// Invocation is the parsed command line.
type Invocation struct {
	Mode    Mode
	Output  render.Format
	Session config.Session
	Log     []string

	// ConfigFile and APIAddr only apply to the long-lived modes.
	ConfigFile string
	APIAddr    string

	// Request is set for ModeOneShot.
	Request *Request
}

type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

// Parse interprets args (without the program name). psql translation kicks
// in when --mode psql appears anywhere on the line.
func Parse(args []string) (*Invocation, error) {
	if psqlModeRequested(args) {
		return parsePsqlMode(args)
	}

	fs := flag.NewFlagSet("afpsql", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	sqlText := fs.String("sql", "", "SQL statement to execute")
	sqlFile := fs.String("sql-file", "", "file containing the SQL statement")
	var params multiFlag
	fs.Var(&params, "param", "positional parameter as N=value (repeatable)")
	streamRows := fs.Bool("stream-rows", false, "stream results in batches")
	batchRows := fs.Int("batch-rows", 0, "rows per streamed batch")
	batchBytes := fs.Int("batch-bytes", 0, "byte budget per streamed batch")
	statementTimeout := fs.Uint64("statement-timeout-ms", 0, "statement timeout in milliseconds")
	lockTimeout := fs.Uint64("lock-timeout-ms", 0, "lock timeout in milliseconds")
	inlineMaxRows := fs.Int("inline-max-rows", 0, "inline result row ceiling")
	inlineMaxBytes := fs.Int("inline-max-bytes", 0, "inline result byte ceiling")
	readOnly := fs.Bool("read-only", false, "run the transaction read only")

	dsnSecret := fs.String("dsn-secret", "", "connection DSN")
	conninfoSecret := fs.String("conninfo-secret", "", "key=value conninfo string")
	host := fs.String("host", "", "database host")
	port := fs.Uint("port", 0, "database port")
	user := fs.String("user", "", "database user")
	dbname := fs.String("dbname", "", "database name")
	passwordSecret := fs.String("password-secret", "", "database password")

	output := fs.String("output", "json", "output format: json, yaml, or plain")
	var logEntries multiFlag
	fs.Var(&logEntries, "log", "log categories, comma separated (repeatable)")
	mode := fs.String("mode", "cli", "runtime mode: cli, pipe, or mcp")
	configFile := fs.String("config", "", "YAML configuration file (pipe and mcp modes)")
	apiAddr := fs.String("api-addr", "", "admin API listen address (pipe mode)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	format, err := render.ParseFormat(*output)
	if err != nil {
		return nil, err
	}
	if *port > 65535 {
		return nil, fmt.Errorf("invalid port %d", *port)
	}

	inv := &Invocation{
		Output:     format,
		Log:        splitLogEntries(logEntries),
		ConfigFile: *configFile,
		APIAddr:    *apiAddr,
		Session: sessionFromFlags(
			optStr(*dsnSecret), optStr(*conninfoSecret), optStr(*host),
			optPort(*port, set["port"]), optStr(*user), optStr(*dbname), optStr(*passwordSecret),
		),
	}

	switch *mode {
	case "pipe":
		inv.Mode = ModePipe
		return inv, nil
	case "mcp":
		inv.Mode = ModeMCP
		return inv, nil
	case "cli":
	default:
		return nil, fmt.Errorf("unknown mode %q (expected cli, pipe, mcp, or psql)", *mode)
	}

	sql, err := loadSQL(*sqlText, *sqlFile)
	if err != nil {
		return nil, err
	}
	parsed, err := ParseParams(params)
	if err != nil {
		return nil, err
	}

	opts := config.QueryOptions{StreamRows: *streamRows}
	if set["batch-rows"] {
		opts.BatchRows = batchRows
	}
	if set["batch-bytes"] {
		opts.BatchBytes = batchBytes
	}
	if set["statement-timeout-ms"] {
		opts.StatementTimeoutMS = statementTimeout
	}
	if set["lock-timeout-ms"] {
		opts.LockTimeoutMS = lockTimeout
	}
	if set["inline-max-rows"] {
		opts.InlineMaxRows = inlineMaxRows
	}
	if set["inline-max-bytes"] {
		opts.InlineMaxBytes = inlineMaxBytes
	}
	if *readOnly {
		t := true
		opts.ReadOnly = &t
	}

	inv.Mode = ModeOneShot
	inv.Request = &Request{SQL: sql, Params: parsed, Options: opts}
	return inv, nil
}

func loadSQL(sql, sqlFile string) (string, error) {
	switch {
	case sql != "" && sqlFile != "":
		return "", fmt.Errorf("--sql and --sql-file are mutually exclusive")
	case sql != "":
		return sql, nil
	case sqlFile != "":
		data, err := os.ReadFile(sqlFile)
		if err != nil {
			return "", fmt.Errorf("read --sql-file failed: %v", err)
		}
		return string(data), nil
	}
	return "", fmt.Errorf("one of --sql or --sql-file is required")
}

// ParseParams turns N=value entries into a contiguous positional list.
// Values are sniffed: null, true, false, integer, float, else string.
func ParseParams(entries []string) ([]json.RawMessage, error) {
	byIndex := make(map[int]json.RawMessage, len(entries))
	for _, entry := range entries {
		left, right, found := strings.Cut(entry, "=")
		if !found {
			return nil, fmt.Errorf("invalid param '%s', expected N=value", entry)
		}
		idx, err := strconv.Atoi(left)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("invalid param index in '%s'", entry)
		}
		if idx == 0 {
			return nil, fmt.Errorf("param index must start at 1")
		}
		byIndex[idx] = sniffParamValue(right)
	}
	if len(byIndex) == 0 {
		return nil, nil
	}

	indexes := make([]int, 0, len(byIndex))
	for i := range byIndex {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	max := indexes[len(indexes)-1]

	out := make([]json.RawMessage, 0, max)
	for i := 1; i <= max; i++ {
		v, ok := byIndex[i]
		if !ok {
			return nil, fmt.Errorf("missing parameter index %d", i)
		}
		out = append(out, v)
	}
	return out, nil
}

func sniffParamValue(v string) json.RawMessage {
	switch v {
	case "null", "true", "false":
		return json.RawMessage(v)
	}
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return json.RawMessage(v)
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		if raw, err := json.Marshal(f); err == nil {
			return raw
		}
	}
	raw, _ := json.Marshal(v)
	return raw
}

func splitLogEntries(entries []string) []string {
	var out []string
	for _, e := range entries {
		for _, part := range strings.Split(e, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return config.NormalizeLogFilters(out)
}

func sessionFromFlags(dsn, conninfo, host *string, port *uint16, user, dbname, password *string) config.Session {
	return config.Session{
		DSNSecret:      dsn,
		ConninfoSecret: conninfo,
		Host:           host,
		Port:           port,
		User:           user,
		DBName:         dbname,
		PasswordSecret: password,
	}
}

func optStr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func optPort(v uint, isSet bool) *uint16 {
	if !isSet {
		return nil
	}
	p := uint16(v)
	return &p
}
