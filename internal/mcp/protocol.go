// Package mcp implements the line-oriented JSON protocol spoken between an
// agent process and its data-serving child.
//
// Each request and each response is exactly one JSON object on one line.
// The client correlates responses to requests by arrival order, so the
// server must answer every request with exactly one line, in order.
package mcp

import (
	"encoding/json"
	"fmt"
)

// Error codes carried in the "error" field of failed responses.
const (
	CodeInvalidJSON = "invalid_json"
	CodeUnknownCmd  = "unknown_cmd"
)

// Request is one command object. The "cmd" field selects the handler; the
// remaining fields are command specific.
type Request map[string]any

// Cmd returns the command name, or "" when the field is missing or not a string.
func (r Request) Cmd() string {
	cmd, _ := r["cmd"].(string)
	return cmd
}

// Int reads a numeric field, falling back to def when absent or not a number.
func (r Request) Int(key string, def int) int {
	switch v := r[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

// Response is one reply object. It always carries "ok".
type Response map[string]any

// OK reports whether the response signals success.
func (r Response) OK() bool {
	ok, _ := r["ok"].(bool)
	return ok
}

// ErrorCode returns the "error" field of a failed response.
func (r Response) ErrorCode() string {
	msg, _ := r["error"].(string)
	return msg
}

// Malformed reports whether the response stands in for an output line
// that was not valid JSON.
func (r Response) Malformed() bool {
	return !r.OK() && r.ErrorCode() == CodeInvalidJSON
}

// Err converts a failed response into a *RemoteError and returns nil for
// successful ones.
func (r Response) Err() error {
	if r.OK() {
		return nil
	}
	trace, _ := r["trace"].(string)
	raw, _ := r["raw"].(string)
	return &RemoteError{Code: r.ErrorCode(), Trace: trace, Raw: raw}
}

// Decode re-encodes the value under key into out, for typed access to
// success payloads such as "data".
func (r Response) Decode(key string, out any) error {
	v, ok := r[key]
	if !ok {
		return fmt.Errorf("mcp: response has no %q field", key)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("mcp: re-encode %q: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("mcp: decode %q: %w", key, err)
	}
	return nil
}

// Success builds an ok response carrying fields.
func Success(fields map[string]any) Response {
	resp := Response{"ok": true}
	for k, v := range fields {
		resp[k] = v
	}
	return resp
}

// Failure builds an error response.
func Failure(code string) Response {
	return Response{"ok": false, "error": code}
}

// invalidLine is the response reported for an unparseable line.
func invalidLine(raw string) Response {
	return Response{"ok": false, "error": CodeInvalidJSON, "raw": raw}
}

// parseResponse decodes one output line. Anything that is not a JSON
// object is reported as invalid_json rather than dropped.
func parseResponse(line string) Response {
	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil || resp == nil {
		return invalidLine(line)
	}
	return resp
}
