package db

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"
)

func TestFallbackValueNull(t *testing.T) {
	tm := pgtype.NewMap()
	require.Equal(t, "null", string(fallbackValue(pgtype.TextOID, nil, tm)))
}

func TestFallbackValueKnownScalars(t *testing.T) {
	tm := pgtype.NewMap()
	cases := []struct {
		oid  uint32
		v    any
		want string
	}{
		{pgtype.BoolOID, true, "true"},
		{pgtype.Int2OID, int16(7), "7"},
		{pgtype.Int4OID, int32(-12), "-12"},
		{pgtype.Int8OID, int64(9000000000), "9000000000"},
		{pgtype.Float4OID, float32(1.5), "1.5"},
		{pgtype.Float8OID, 2.25, "2.25"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, string(fallbackValue(c.oid, c.v, tm)))
	}
}

func TestFallbackValueJSONColumns(t *testing.T) {
	tm := pgtype.NewMap()
	got := fallbackValue(pgtype.JSONBOID, map[string]any{"a": float64(1)}, tm)
	require.JSONEq(t, `{"a":1}`, string(got))
}

func TestFallbackValueNonFiniteFloatsBecomeNull(t *testing.T) {
	tm := pgtype.NewMap()
	require.Equal(t, "null", string(fallbackValue(pgtype.Float8OID, math.NaN(), tm)))
	require.Equal(t, "null", string(fallbackValue(pgtype.Float8OID, math.Inf(1), tm)))
}

func TestFallbackValueTextAndBytes(t *testing.T) {
	tm := pgtype.NewMap()
	require.Equal(t, `"on"`, string(fallbackValue(pgtype.TextOID, "on", tm)))
	require.Equal(t, `"raw"`, string(fallbackValue(pgtype.ByteaOID, []byte("raw"), tm)))
}

func TestFallbackValueTime(t *testing.T) {
	tm := pgtype.NewMap()
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	var got string
	require.NoError(t, json.Unmarshal(fallbackValue(pgtype.TimestamptzOID, ts, tm), &got))
	require.Equal(t, "2024-03-01T12:30:00Z", got)
}

func TestFallbackValueNumeric(t *testing.T) {
	tm := pgtype.NewMap()
	var n pgtype.Numeric
	require.NoError(t, n.Scan("12.34"))
	require.Equal(t, `"12.34"`, string(fallbackValue(pgtype.NumericOID, n, tm)))
}

func TestFallbackValueUnhandledTypeMarker(t *testing.T) {
	tm := pgtype.NewMap()
	got := fallbackValue(pgtype.PointOID, func() {}, tm)
	require.Equal(t, `"<unhandled_type:point>"`, string(got))
}
