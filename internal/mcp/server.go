// Package mcp is the JSON-RPC tool-server front-end. It speaks the Model
// Context Protocol over stdio and exposes the gateway as two tools:
// psql_query and psql_config.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/afpsql/afpsql/internal/config"
	"github.com/afpsql/afpsql/internal/dispatch"
	"github.com/afpsql/afpsql/internal/event"
)

const (
	// OutputChannelCapacity bounds the event buffer a tool call drains.
	OutputChannelCapacity = 1024

	protocolVersion = "2024-11-05"
)

// Server handles one JSON-RPC session over a line-delimited stream.
type Server struct {
	app *dispatch.App
	in  io.Reader
	out io.Writer
}

// New builds a server around shared gateway state.
func New(app *dispatch.App, in io.Reader, out io.Writer) *Server {
	return &Server{app: app, in: in, out: out}
}

// Run reads requests until exit or EOF, then emits the closing
// notification.
func (s *Server) Run(ctx context.Context) {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)

loop:
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req struct {
			Method string          `json:"method"`
			ID     json.RawMessage `json:"id"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			s.writeError(nil, -32700, "parse error: "+err.Error())
			continue
		}

		switch req.Method {
		case "initialize":
			if req.ID != nil {
				s.writeResult(req.ID, map[string]any{
					"protocolVersion": protocolVersion,
					"serverInfo":      map[string]any{"name": "afpsql", "version": config.Version},
					"capabilities":    map[string]any{"tools": map[string]any{"listChanged": false}},
				})
			}
		case "notifications/initialized":
		case "ping":
			if req.ID != nil {
				// in_flight is reported as 0 here: tool calls run to
				// completion before the response is written
				s.writeResult(req.ID, map[string]any{
					"trace": event.PongTrace{
						UptimeS:       s.app.UptimeSeconds(),
						RequestsTotal: s.app.RequestsTotal(),
						InFlight:      0,
					},
				})
			}
		case "tools/list":
			if req.ID != nil {
				s.writeResult(req.ID, toolsList())
			}
		case "tools/call":
			if req.ID != nil {
				s.writeResult(req.ID, s.handleToolCall(ctx, req.Params))
			}
		case "shutdown":
			if req.ID != nil {
				s.writeResult(req.ID, map[string]any{})
			}
		case "exit":
			break loop
		default:
			if req.ID != nil {
				s.writeError(req.ID, -32601, "method not found: "+req.Method)
			}
		}
	}

	s.write(map[string]any{
		"jsonrpc": "2.0",
		"method":  "afpsql/closed",
		"params": map[string]any{
			"message": "shutdown",
			"trace": event.CloseTrace{
				UptimeS:       s.app.UptimeSeconds(),
				RequestsTotal: s.app.RequestsTotal(),
			},
		},
	})
}

func (s *Server) handleToolCall(ctx context.Context, params json.RawMessage) map[string]any {
	var call struct {
		Name      string                     `json:"name"`
		Arguments map[string]json.RawMessage `json:"arguments"`
	}
	if params != nil {
		if err := json.Unmarshal(params, &call); err != nil {
			return toolError("invalid tool call: " + err.Error())
		}
	}
	if call.Name == "" {
		return toolError("missing tool name")
	}

	switch call.Name {
	case "psql_query":
		return s.runQueryTool(ctx, call.Arguments)
	case "psql_config":
		return s.runConfigTool(call.Arguments)
	default:
		return toolError("unknown tool: " + call.Name)
	}
}

func (s *Server) runQueryTool(ctx context.Context, args map[string]json.RawMessage) map[string]any {
	sql, ok := argString(args, "sql")
	if !ok {
		return toolError("missing required argument: sql")
	}

	queryID := "mcp"
	if v, ok := argString(args, "id"); ok {
		queryID = v
	}
	var session *string
	if v, ok := argString(args, "session"); ok {
		session = &v
	}
	var queryParams []json.RawMessage
	if raw, ok := args["params"]; ok {
		// non-array params are ignored, matching the loose argument reads
		_ = json.Unmarshal(raw, &queryParams)
	}

	opts := config.QueryOptions{}
	if v, ok := argBool(args, "stream_rows"); ok {
		opts.StreamRows = v
	}
	if v, ok := argInt(args, "batch_rows"); ok {
		opts.BatchRows = &v
	}
	if v, ok := argInt(args, "batch_bytes"); ok {
		opts.BatchBytes = &v
	}
	if v, ok := argUint64(args, "statement_timeout_ms"); ok {
		opts.StatementTimeoutMS = &v
	}
	if v, ok := argUint64(args, "lock_timeout_ms"); ok {
		opts.LockTimeoutMS = &v
	}
	if v, ok := argBool(args, "read_only"); ok {
		opts.ReadOnly = &v
	}
	if v, ok := argInt(args, "inline_max_rows"); ok {
		opts.InlineMaxRows = &v
	}
	if v, ok := argInt(args, "inline_max_bytes"); ok {
		opts.InlineMaxBytes = &v
	}

	dispatch.ExecuteQuery(ctx, s.app, &queryID, session, sql, queryParams, opts)

	return toolOK(map[string]any{"events": s.drainOutputs()})
}

func (s *Server) runConfigTool(args map[string]json.RawMessage) map[string]any {
	raw, err := json.Marshal(args)
	if err != nil {
		return toolError("invalid config patch: " + err.Error())
	}
	var patch config.Patch
	if err := json.Unmarshal(raw, &patch); err != nil {
		return toolError("invalid config patch: " + err.Error())
	}

	var cfg config.Runtime
	if len(args) > 0 {
		cfg = s.app.ApplyPatch(patch)
	} else {
		cfg = s.app.ConfigSnapshot()
	}
	return toolOK(map[string]any{"config": cfg})
}

// drainOutputs empties the buffered event channel without blocking.
func (s *Server) drainOutputs() []json.RawMessage {
	var out []json.RawMessage
	for {
		select {
		case ev := <-s.app.Out:
			raw, err := json.Marshal(ev)
			if err != nil {
				raw = json.RawMessage("null")
			}
			out = append(out, raw)
		default:
			if out == nil {
				out = []json.RawMessage{}
			}
			return out
		}
	}
}

func toolsList() map[string]any {
	return map[string]any{
		"tools": []map[string]any{
			{
				"name":        "psql_query",
				"description": "Execute one SQL statement with positional bind parameters.",
				"inputSchema": map[string]any{
					"type":     "object",
					"required": []string{"sql"},
					"properties": map[string]any{
						"id":                   map[string]any{"type": "string"},
						"session":              map[string]any{"type": "string"},
						"sql":                  map[string]any{"type": "string"},
						"params":               map[string]any{"type": "array"},
						"stream_rows":          map[string]any{"type": "boolean"},
						"batch_rows":           map[string]any{"type": "integer"},
						"batch_bytes":          map[string]any{"type": "integer"},
						"statement_timeout_ms": map[string]any{"type": "integer"},
						"lock_timeout_ms":      map[string]any{"type": "integer"},
						"read_only":            map[string]any{"type": "boolean"},
						"inline_max_rows":      map[string]any{"type": "integer"},
						"inline_max_bytes":     map[string]any{"type": "integer"},
					},
				},
			},
			{
				"name":        "psql_config",
				"description": "Read/update runtime config.",
				"inputSchema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"default_session":      map[string]any{"type": "string"},
						"sessions":             map[string]any{"type": "object"},
						"inline_max_rows":      map[string]any{"type": "integer"},
						"inline_max_bytes":     map[string]any{"type": "integer"},
						"statement_timeout_ms": map[string]any{"type": "integer"},
						"lock_timeout_ms":      map[string]any{"type": "integer"},
						"log":                  map[string]any{"type": "array"},
					},
				},
			},
		},
	}
}

func toolOK(value any) map[string]any {
	text, err := json.Marshal(value)
	if err != nil {
		text = []byte("null")
	}
	return map[string]any{
		"content":           []map[string]any{{"type": "text", "text": string(text)}},
		"structuredContent": value,
		"isError":           false,
	}
}

func toolError(message string) map[string]any {
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": message}},
		"isError": true,
	}
}

func (s *Server) writeResult(id json.RawMessage, result any) {
	s.write(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func (s *Server) writeError(id json.RawMessage, code int, message string) {
	resp := map[string]any{
		"jsonrpc": "2.0",
		"error":   map[string]any{"code": code, "message": message},
	}
	if id != nil {
		resp["id"] = id
	}
	s.write(resp)
}

func (s *Server) write(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(s.out, "%s\n", raw)
}

func argString(args map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := args[key]
	if !ok {
		return "", false
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return v, true
}

func argBool(args map[string]json.RawMessage, key string) (bool, bool) {
	raw, ok := args[key]
	if !ok {
		return false, false
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, false
	}
	return v, true
}

func argInt(args map[string]json.RawMessage, key string) (int, bool) {
	raw, ok := args[key]
	if !ok {
		return 0, false
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

func argUint64(args map[string]json.RawMessage, key string) (uint64, bool) {
	raw, ok := args[key]
	if !ok {
		return 0, false
	}
	var v uint64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}
