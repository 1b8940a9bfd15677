// Package normalize validates fetched payloads and exposes them as generic
// JSON value trees.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Value is a decoded JSON document: map[string]any, []any, string,
// json.Number, bool or nil. Numbers keep their literal text so identifiers
// beyond 2^53 survive decoding.
type Value = any

// InvalidResponseError reports a response that does not carry structured
// content, such as an HTML error page served with a 200 status.
type InvalidResponseError struct {
	URL    string
	Reason string
	Err    error
}

func (e *InvalidResponseError) Error() string {
	msg := fmt.Sprintf("invalid response from %s: %s", e.URL, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidResponseError) Unwrap() error {
	return e.Err
}

// Normalize decodes body as JSON. Anything that is not a single well-formed
// JSON document yields an *InvalidResponseError.
func Normalize(url string, body []byte) (Value, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &InvalidResponseError{URL: url, Reason: "empty body"}
	}
	if trimmed[0] == '<' {
		return nil, &InvalidResponseError{URL: url, Reason: "markup instead of JSON"}
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v Value
	if err := dec.Decode(&v); err != nil {
		return nil, &InvalidResponseError{URL: url, Reason: "decode JSON", Err: err}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, &InvalidResponseError{URL: url, Reason: "trailing data after JSON document", Err: err}
	}
	return v, nil
}

// UnwrapSingleton returns the first element when v is a sequence and v itself
// otherwise. Several sources wrap single detail objects in a one-element list
// inconsistently. An empty sequence unwraps to nil.
func UnwrapSingleton(v Value) Value {
	list, ok := v.([]any)
	if !ok {
		return v
	}
	if len(list) == 0 {
		return nil
	}
	return list[0]
}

// Object asserts v is a JSON object.
func Object(v Value) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// Field looks up key in obj, falling back to a case-insensitive match.
func Field(obj map[string]any, key string) (Value, bool) {
	if v, ok := obj[key]; ok {
		return v, true
	}
	for k, v := range obj {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
