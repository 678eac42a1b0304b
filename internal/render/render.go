// Package render turns output events into their wire text: JSON (the
// default), YAML, or a flat key=value plain form.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format selects the output rendering.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
	FormatPlain
)

// ParseFormat accepts the --output flag values.
func ParseFormat(v string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "json":
		return FormatJSON, nil
	case "yaml":
		return FormatYAML, nil
	case "plain":
		return FormatPlain, nil
	}
	return FormatJSON, fmt.Errorf("unknown output format %q (expected json, yaml, or plain)", v)
}

func (f Format) String() string {
	switch f {
	case FormatYAML:
		return "yaml"
	case FormatPlain:
		return "plain"
	default:
		return "json"
	}
}

// Render serializes one event. Every format derives from the event's JSON
// form so field names and order match the wire protocol.
func Render(ev any, f Format) (string, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	switch f {
	case FormatYAML:
		return renderYAML(raw)
	case FormatPlain:
		return renderPlain(raw)
	default:
		return string(raw), nil
	}
}

// renderYAML re-reads the JSON as a YAML document; JSON is valid YAML, and
// the node tree keeps the original field order. Each event is its own
// document so a stream of multi-line events stays parseable.
func renderYAML(raw []byte) (string, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return "", err
	}
	out, err := yaml.Marshal(&node)
	if err != nil {
		return "", err
	}
	return "---\n" + strings.TrimRight(string(out), "\n"), nil
}

// renderPlain flattens the top level to key=value pairs in field order.
// Nested values stay in compact JSON.
func renderPlain(raw []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return string(raw), nil
	}

	var b strings.Builder
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return "", err
		}
		key, ok := keyTok.(string)
		if !ok {
			return "", fmt.Errorf("unexpected token %v", keyTok)
		}
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return "", err
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(plainValue(val))
	}
	return b.String(), nil
}

func plainValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
