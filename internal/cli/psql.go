package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/afpsql/afpsql/internal/render"
)

// psqlModeRequested scans the raw arguments for --mode psql before any
// other interpretation; the translator accepts flags the normal parser
// rejects.
func psqlModeRequested(args []string) bool {
	for i := 0; i < len(args); i++ {
		if args[i] == "--mode" || args[i] == "-mode" {
			if i+1 < len(args) {
				return args[i+1] == "psql"
			}
			return false
		}
		if args[i] == "--mode=psql" || args[i] == "-mode=psql" {
			return true
		}
	}
	return false
}

// parsePsqlMode translates the psql flag surface (-c, -f, -h, -p, -U, -d,
// -v) into a one-shot query. A positional postgresql:// DSN is accepted the
// way psql accepts one; everything else is rejected.
func parsePsqlMode(args []string) (*Invocation, error) {
	var sql, sqlFile, host, user, dbname, dsnSecret, conninfoSecret string
	var port *uint16
	var paramsKV []string
	output := render.FormatJSON
	var logEntries []string

	next := func(i int, what string) (string, error) {
		if i >= len(args) {
			return "", fmt.Errorf("%s", what)
		}
		return args[i], nil
	}

	i := 0
	for i < len(args) {
		switch arg := args[i]; arg {
		case "--mode":
			v, err := next(i+1, "--mode requires value")
			if err != nil {
				return nil, err
			}
			if v != "psql" {
				return nil, fmt.Errorf("unsupported psql-mode argument: --mode %s; only --mode psql is allowed with psql translation", v)
			}
			i += 2
		case "--mode=psql":
			i++
		case "-c":
			v, err := next(i+1, "-c requires SQL")
			if err != nil {
				return nil, err
			}
			sql = v
			i += 2
		case "-f":
			v, err := next(i+1, "-f requires file path")
			if err != nil {
				return nil, err
			}
			sqlFile = v
			i += 2
		case "-h":
			v, err := next(i+1, "-h requires value")
			if err != nil {
				return nil, err
			}
			host = v
			i += 2
		case "-p":
			v, err := next(i+1, "-p requires value")
			if err != nil {
				return nil, err
			}
			n, perr := strconv.ParseUint(v, 10, 16)
			if perr != nil {
				return nil, fmt.Errorf("invalid -p port")
			}
			p := uint16(n)
			port = &p
			i += 2
		case "-U":
			v, err := next(i+1, "-U requires value")
			if err != nil {
				return nil, err
			}
			user = v
			i += 2
		case "-d":
			v, err := next(i+1, "-d requires value")
			if err != nil {
				return nil, err
			}
			dbname = v
			i += 2
		case "--dsn-secret":
			v, err := next(i+1, "--dsn-secret requires value")
			if err != nil {
				return nil, err
			}
			dsnSecret = v
			i += 2
		case "--conninfo-secret":
			v, err := next(i+1, "--conninfo-secret requires value")
			if err != nil {
				return nil, err
			}
			conninfoSecret = v
			i += 2
		case "-v":
			v, err := next(i+1, "-v requires N=value")
			if err != nil {
				return nil, err
			}
			paramsKV = append(paramsKV, v)
			i += 2
		case "--output":
			v, err := next(i+1, "--output requires value")
			if err != nil {
				return nil, err
			}
			f, ferr := render.ParseFormat(v)
			if ferr != nil {
				return nil, ferr
			}
			output = f
			i += 2
		case "--log":
			v, err := next(i+1, "--log requires value")
			if err != nil {
				return nil, err
			}
			logEntries = append(logEntries, v)
			i += 2
		default:
			if strings.HasPrefix(arg, "postgresql://") || strings.HasPrefix(arg, "postgres://") {
				// positional DSN, the way psql takes one
				dsnSecret = arg
				i++
				continue
			}
			return nil, fmt.Errorf("unsupported psql-mode argument: %s; only --mode psql, -c/-f/-h/-p/-U/-d/-v/--dsn-secret/--conninfo-secret/--output/--log are supported", arg)
		}
	}

	loaded, err := loadSQL(sql, sqlFile)
	if err != nil {
		return nil, err
	}
	params, err := ParseParams(paramsKV)
	if err != nil {
		return nil, err
	}

	return &Invocation{
		Mode:   ModeOneShot,
		Output: output,
		Log:    splitLogEntries(logEntries),
		Session: sessionFromFlags(
			optStr(dsnSecret), optStr(conninfoSecret), optStr(host),
			port, optStr(user), optStr(dbname), nil,
		),
		Request: &Request{SQL: loaded, Params: params},
	}, nil
}
