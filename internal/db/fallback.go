package db

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// collectFallbackRows decodes rows from a statement executed without the
// to_jsonb wrapper (utility statements such as SHOW). Each row becomes a
// JSON object keyed by column name, in column order.
func collectFallbackRows(rows pgx.Rows) ([]json.RawMessage, error) {
	defer rows.Close()

	fds := rows.FieldDescriptions()
	var tm *pgtype.Map
	if c := rows.Conn(); c != nil {
		tm = c.TypeMap()
	}

	var out []json.RawMessage
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, classify(err)
		}
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, fd := range fds {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(fd.Name)
			buf.Write(key)
			buf.WriteByte(':')
			var v any
			if i < len(vals) {
				v = vals[i]
			}
			buf.Write(fallbackValue(fd.DataTypeOID, v, tm))
		}
		buf.WriteByte('}')
		out = append(out, json.RawMessage(buf.Bytes()))
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

var jsonNull = json.RawMessage("null")

// fallbackValue converts one driver-decoded column value to JSON. The types
// the wrapper would have serialized natively are recognized directly; every
// other type goes through a text rendering, then integer, then float, with
// an unhandled-type marker as the last resort.
func fallbackValue(oid uint32, v any, tm *pgtype.Map) json.RawMessage {
	if v == nil {
		return jsonNull
	}

	switch oid {
	case pgtype.BoolOID, pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID,
		pgtype.Float4OID, pgtype.Float8OID, pgtype.JSONOID, pgtype.JSONBOID:
		if raw := marshalKnown(v); raw != nil {
			return raw
		}
	}

	switch vv := v.(type) {
	case string:
		return mustMarshal(vv)
	case []byte:
		return mustMarshal(string(vv))
	case bool, int16, int32, int64:
		return mustMarshal(vv)
	case float32:
		return marshalFloat(float64(vv))
	case float64:
		return marshalFloat(vv)
	case time.Time:
		return mustMarshal(vv.Format(time.RFC3339Nano))
	case pgtype.Numeric:
		if dv, err := vv.Value(); err == nil {
			if s, ok := dv.(string); ok {
				return mustMarshal(s)
			}
		}
	}

	if raw, err := json.Marshal(v); err == nil {
		return raw
	}
	return mustMarshal(fmt.Sprintf("<unhandled_type:%s>", typeName(oid, tm)))
}

func marshalKnown(v any) json.RawMessage {
	switch vv := v.(type) {
	case bool, int16, int32, int64:
		return mustMarshal(vv)
	case float32:
		return marshalFloat(float64(vv))
	case float64:
		return marshalFloat(vv)
	default:
		// json/jsonb columns decode to any JSON-shaped Go value
		if raw, err := json.Marshal(v); err == nil {
			return raw
		}
	}
	return nil
}

func marshalFloat(f float64) json.RawMessage {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return jsonNull
	}
	return mustMarshal(f)
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return jsonNull
	}
	return raw
}

func typeName(oid uint32, tm *pgtype.Map) string {
	if tm != nil {
		if t, ok := tm.TypeForOID(oid); ok {
			return t.Name
		}
	}
	return fmt.Sprintf("oid%d", oid)
}
