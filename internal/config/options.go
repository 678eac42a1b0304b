package config

// QueryOptions are the request-scoped overrides carried on a query event.
type QueryOptions struct {
	StreamRows         bool    `json:"stream_rows"`
	BatchRows          *int    `json:"batch_rows,omitempty"`
	BatchBytes         *int    `json:"batch_bytes,omitempty"`
	StatementTimeoutMS *uint64 `json:"statement_timeout_ms,omitempty"`
	LockTimeoutMS      *uint64 `json:"lock_timeout_ms,omitempty"`
	ReadOnly           *bool   `json:"read_only,omitempty"`
	InlineMaxRows      *int    `json:"inline_max_rows,omitempty"`
	InlineMaxBytes     *int    `json:"inline_max_bytes,omitempty"`
}

// Resolved is a fully-populated option set: query values where present,
// else live config, else engine defaults, with floors applied.
type Resolved struct {
	StreamRows         bool
	BatchRows          int
	BatchBytes         int
	StatementTimeoutMS uint64
	LockTimeoutMS      uint64
	ReadOnly           bool
	InlineMaxRows      int
	InlineMaxBytes     int
}

const (
	defaultBatchRows  = 1000
	defaultBatchBytes = 262_144
	minBatchRows      = 1
	minBatchBytes     = 1024
)

// Resolve derives the effective options for one request from the live
// configuration and the request's overrides.
func (c *Runtime) Resolve(q QueryOptions) Resolved {
	r := Resolved{
		StreamRows:         q.StreamRows,
		BatchRows:          defaultBatchRows,
		BatchBytes:         defaultBatchBytes,
		StatementTimeoutMS: c.StatementTimeoutMS,
		LockTimeoutMS:      c.LockTimeoutMS,
		InlineMaxRows:      c.InlineMaxRows,
		InlineMaxBytes:     c.InlineMaxBytes,
	}
	if q.BatchRows != nil {
		r.BatchRows = *q.BatchRows
	}
	if q.BatchBytes != nil {
		r.BatchBytes = *q.BatchBytes
	}
	if q.StatementTimeoutMS != nil {
		r.StatementTimeoutMS = *q.StatementTimeoutMS
	}
	if q.LockTimeoutMS != nil {
		r.LockTimeoutMS = *q.LockTimeoutMS
	}
	if q.ReadOnly != nil {
		r.ReadOnly = *q.ReadOnly
	}
	if q.InlineMaxRows != nil {
		r.InlineMaxRows = *q.InlineMaxRows
	}
	if q.InlineMaxBytes != nil {
		r.InlineMaxBytes = *q.InlineMaxBytes
	}
	if r.BatchRows < minBatchRows {
		r.BatchRows = minBatchRows
	}
	if r.BatchBytes < minBatchBytes {
		r.BatchBytes = minBatchBytes
	}
	return r
}
