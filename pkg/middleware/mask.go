package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MaskedValue replaces sensitive body fields in audit records
const MaskedValue = "***MASKED***"

const redactedHeader = "[REDACTED]"

// ErrNotJSONObject is returned by MaskBody for bodies that are not one JSON object
var ErrNotJSONObject = errors.New("body is not a JSON object")

var sensitiveHeaders = map[string]bool{
	"Authorization":       true,
	"Proxy-Authorization": true,
	"Cookie":              true,
	"Set-Cookie":          true,
	"X-Api-Key":           true,
}

var sensitiveHeaderPatterns = []string{"token", "secret", "password"}

// MaskBody rewrites a JSON object body for logging. Every top-level key whose
// lowercased name contains "password" gets MaskedValue; every other key keeps
// its textual value, strings unquoted and anything else as compact JSON text.
// Key order is preserved. Nested objects are not inspected.
func MaskBody(body []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotJSONObject, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return "", ErrNotJSONObject
	}

	var out bytes.Buffer
	enc := json.NewEncoder(&out)
	enc.SetEscapeHTML(false)

	out.WriteByte('{')
	first := true
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNotJSONObject, err)
		}
		key, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return "", fmt.Errorf("%w: %v", ErrNotJSONObject, err)
		}

		value := MaskedValue
		if !strings.Contains(strings.ToLower(key), "password") {
			value = textOf(raw)
		}

		if !first {
			out.WriteByte(',')
		}
		first = false
		writeString(enc, &out, key)
		out.WriteByte(':')
		writeString(enc, &out, value)
	}

	if _, err := dec.Token(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotJSONObject, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return "", fmt.Errorf("%w: trailing data", ErrNotJSONObject)
	}

	out.WriteByte('}')
	return out.String(), nil
}

// MaskBodyOrRaw masks body, falling back to the raw text when it is not a JSON object
func MaskBodyOrRaw(body []byte) (string, bool) {
	masked, err := MaskBody(body)
	if err != nil {
		return string(body), false
	}
	return masked, true
}

func textOf(raw json.RawMessage) string {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// writeString appends s as a JSON string without the encoder's trailing newline
func writeString(enc *json.Encoder, out *bytes.Buffer, s string) {
	_ = enc.Encode(s)
	out.Truncate(out.Len() - 1)
}

// MaskHeaders returns a copy of h with credential values redacted
func MaskHeaders(h http.Header) http.Header {
	if h == nil {
		return nil
	}
	masked := make(http.Header, len(h))
	for key, values := range h {
		if isSensitiveHeader(key) {
			masked[key] = []string{redactedHeader}
			continue
		}
		masked[key] = append([]string(nil), values...)
	}
	return masked
}

func isSensitiveHeader(key string) bool {
	if sensitiveHeaders[http.CanonicalHeaderKey(key)] {
		return true
	}
	lower := strings.ToLower(key)
	for _, p := range sensitiveHeaderPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
