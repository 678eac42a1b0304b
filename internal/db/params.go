package db

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// validateParamCount checks the provided value count against the prepared
// statement's placeholder count.
func validateParamCount(expected, actual int) error {
	if expected == actual {
		return nil
	}
	return invalidParamsf("placeholder count mismatch: sql requires %d, params provided %d", expected, actual)
}

// buildParams coerces positional JSON values into bind arguments whose Go
// type matches each placeholder's declared type. Positions in error
// messages are 1-indexed. A slot past the declared types coerces as text.
func buildParams(values []json.RawMessage, oids []uint32) ([]any, error) {
	args := make([]any, 0, len(values))
	for idx, raw := range values {
		var oid uint32 = pgtype.TextOID
		if idx < len(oids) {
			oid = oids[idx]
		}
		pos := idx + 1

		k := jsonKind(raw)
		if k == kindNull {
			// typed NULL: nil binds as SQL NULL for any declared type
			args = append(args, nil)
			continue
		}

		switch oid {
		case pgtype.JSONOID, pgtype.JSONBOID:
			args = append(args, json.RawMessage(raw))
		case pgtype.BoolOID:
			v, err := parseBoolParam(raw, k, pos)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		case pgtype.Int2OID:
			n, err := parseIntParam(raw, k, pos)
			if err != nil {
				return nil, err
			}
			if n < -32768 || n > 32767 {
				return nil, invalidParamsf("param $%d out of range for int2", pos)
			}
			args = append(args, int16(n))
		case pgtype.Int4OID:
			n, err := parseIntParam(raw, k, pos)
			if err != nil {
				return nil, err
			}
			if n < -2147483648 || n > 2147483647 {
				return nil, invalidParamsf("param $%d out of range for int4", pos)
			}
			args = append(args, int32(n))
		case pgtype.Int8OID:
			n, err := parseIntParam(raw, k, pos)
			if err != nil {
				return nil, err
			}
			args = append(args, n)
		case pgtype.Float4OID:
			f, err := parseFloatParam(raw, k, pos)
			if err != nil {
				return nil, err
			}
			args = append(args, float32(f))
		case pgtype.Float8OID, pgtype.NumericOID:
			f, err := parseFloatParam(raw, k, pos)
			if err != nil {
				return nil, err
			}
			args = append(args, f)
		default:
			args = append(args, textParam(raw, k))
		}
	}
	return args, nil
}

type valueKind int

const (
	kindNull valueKind = iota
	kindBool
	kindNumber
	kindString
	kindComposite // array or object
)

func jsonKind(raw json.RawMessage) valueKind {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case 'n':
			return kindNull
		case 't', 'f':
			return kindBool
		case '"':
			return kindString
		case '{', '[':
			return kindComposite
		default:
			return kindNumber
		}
	}
	return kindNull
}

func parseBoolParam(raw json.RawMessage, k valueKind, pos int) (bool, error) {
	switch k {
	case kindBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			return b, nil
		}
	case kindString:
		switch unquote(raw) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, invalidParamsf("param $%d cannot parse as bool", pos)
}

func parseIntParam(raw json.RawMessage, k valueKind, pos int) (int64, error) {
	switch k {
	case kindNumber:
		s := strings.TrimSpace(string(raw))
		n, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return n, nil
		}
		// a valid u64 beyond i64 is a range failure, not a parse failure
		if _, uerr := strconv.ParseUint(s, 10, 64); uerr == nil {
			return 0, invalidParamsf("param $%d out of range for int8", pos)
		}
	case kindString:
		if n, err := strconv.ParseInt(unquote(raw), 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, invalidParamsf("param $%d cannot parse as int8", pos)
}

func parseFloatParam(raw json.RawMessage, k valueKind, pos int) (float64, error) {
	switch k {
	case kindNumber:
		if f, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64); err == nil {
			return f, nil
		}
	case kindString:
		if f, err := strconv.ParseFloat(unquote(raw), 64); err == nil {
			return f, nil
		}
	}
	return 0, invalidParamsf("param $%d cannot parse as float8", pos)
}

// textParam renders any JSON value as text: strings unquoted, everything
// else in canonical JSON form.
func textParam(raw json.RawMessage, k valueKind) string {
	if k == kindString {
		return unquote(raw)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return buf.String()
}

func unquote(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return s
}
