package httpclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"
)

// Descriptor describes one gateway call. Build a fresh one per call; Send never mutates it.
type Descriptor struct {
	Method  string // GET, POST, PUT, DELETE (HEAD accepted); empty means GET
	Path    string // absolute URL, or a path appended to BaseURL
	Body    any    // JSON-encoded unless string or []byte; dropped for GET/HEAD
	BaseURL string // overrides the executor default when set
	Headers map[string]string
	Token   string // explicit credential for this call, bypassing the session
	// Anonymous sends no credential even when the session holds one.
	Anonymous bool
}

// Get builds a GET descriptor.
func Get(path string) Descriptor { return Descriptor{Method: "GET", Path: path} }

// Post builds a POST descriptor.
func Post(path string, body any) Descriptor { return Descriptor{Method: "POST", Path: path, Body: body} }

// Put builds a PUT descriptor.
func Put(path string, body any) Descriptor { return Descriptor{Method: "PUT", Path: path, Body: body} }

// Delete builds a DELETE descriptor; body is optional.
func Delete(path string, body any) Descriptor {
	return Descriptor{Method: "DELETE", Path: path, Body: body}
}

func (d Descriptor) method() string {
	if d.Method == "" {
		return "GET"
	}
	return strings.ToUpper(d.Method)
}

// resolveURL returns Path unchanged when it is already absolute, else base+Path.
func (d Descriptor) resolveURL(defaultBase string) string {
	if u, err := url.Parse(d.Path); err == nil && u.IsAbs() && u.Host != "" {
		return d.Path
	}
	base := d.BaseURL
	if base == "" {
		base = defaultBase
	}
	return base + d.Path
}

// encodeBody returns the wire payload, or nil when the method carries no body.
func (d Descriptor) encodeBody() ([]byte, error) {
	m := d.method()
	if d.Body == nil || m == "GET" || m == "HEAD" {
		return nil, nil
	}
	switch b := d.Body.(type) {
	case string:
		return []byte(b), nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	}
	data, err := json.Marshal(d.Body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return data, nil
}

// Envelope is the parsed body of a successful gateway response.
//
// JSON objects are split into the conventional fields plus the raw top-level
// map; any other JSON value lands in Data; non-JSON bodies land in Text.
type Envelope struct {
	MsgCode *int
	Message string
	Data    json.RawMessage
	Fields  map[string]json.RawMessage
	Text    string
}

// IsJSON reports whether the body was decoded as JSON.
func (e *Envelope) IsJSON() bool { return e.Text == "" && (e.Fields != nil || e.Data != nil) }

// HasData reports whether the payload field is present and not JSON null/false/""/0.
func (e *Envelope) HasData() bool {
	return truthy(e.Data)
}

// Decode unmarshals the payload into out.
func (e *Envelope) Decode(out any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("response has no data")
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

// Field returns a top-level field of a JSON object body.
func (e *Envelope) Field(name string) (json.RawMessage, bool) {
	raw, ok := e.Fields[name]
	return raw, ok
}

// StringField returns a top-level string field, or "" when absent or not a string.
func (e *Envelope) StringField(name string) string {
	raw, ok := e.Fields[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// parseEnvelope decodes a JSON body. ok is false when the body is not valid JSON.
func parseEnvelope(body []byte) (*Envelope, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, false
	}

	env := &Envelope{}
	if trimmed[0] != '{' {
		env.Data = json.RawMessage(trimmed)
		return env, true
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, false
	}
	env.Fields = fields
	env.Data = fields["data"]
	env.Message = firstString(fields, "message", "msg")

	if raw, ok := fields["msgCode"]; ok {
		if code, ok := numericCode(raw); ok {
			env.MsgCode = &code
		}
	}
	return env, true
}

// bodyCode returns "code" or, failing that, "msgCode" as an int.
func bodyCode(fields map[string]json.RawMessage) int {
	for _, k := range []string{"code", "msgCode"} {
		if raw, ok := fields[k]; ok {
			if n, ok := numericCode(raw); ok && n != 0 {
				return n
			}
		}
	}
	return 0
}

func firstString(fields map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

// truthy mirrors the gateway's loose presence checks: null, false, "", 0 are absent.
func truthy(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 {
		return false
	}
	switch string(t) {
	case "null", "false", `""`, "0":
		return false
	}
	return true
}

// numericCode reads a JSON number that holds an integral value, so 401 and
// 401.0 are the same code.
func numericCode(raw json.RawMessage) (int, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}
