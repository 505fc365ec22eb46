// Package jsonrepair turns near-valid JSON emitted by language models into
// parseable structured data.
package jsonrepair

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	repairlib "github.com/kaptinlin/jsonrepair"
)

// MalformedOutputError reports that no plausible JSON value could be
// reconstructed from a model completion.
type MalformedOutputError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *MalformedOutputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed model output: %s: %v", e.Reason, e.Err)
	}
	return "malformed model output: " + e.Reason
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\s*\\n?(.*?)\\n?```")

// Parse repairs raw and decodes it. Numbers are kept as json.Number so that
// re-serialising a value does not change its textual form.
func Parse(raw string) (any, error) {
	fixed, err := Repair(raw)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(strings.NewReader(fixed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &MalformedOutputError{Reason: "repaired text is not valid JSON", Raw: raw, Err: err}
	}
	return v, nil
}

// Canonical serialises a parsed value. Object keys come out sorted.
func Canonical(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("serialise value: %w", err)
	}
	return string(b), nil
}

// Repair returns a syntactically valid JSON document built from raw.
func Repair(raw string) (string, error) {
	text := stripFences(raw)
	if !strings.ContainsAny(text, "{[") {
		return "", &MalformedOutputError{Reason: "no JSON object or array found", Raw: raw}
	}

	// a well-formed value, possibly wrapped in prose, is passed through untouched.
	// Only the outermost candidates are tried so that a truncated document is
	// never mistaken for one of its complete children.
	obj := strings.IndexByte(text, '{')
	arr := strings.IndexByte(text, '[')
	objNested := arr >= 0 && obj > arr && !strings.Contains(text[arr:obj], "]")
	for _, i := range []int{arr, obj} {
		if i < 0 || (i == arr && obj >= 0 && obj < arr) || (i == obj && objNested) {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var first json.RawMessage
		if err := dec.Decode(&first); err == nil {
			return string(first), nil
		}
	}

	start := obj
	if start < 0 || (arr >= 0 && arr < start) {
		start = arr
	}
	body := text[start:]
	candidates := []string{body}
	// trailing prose after the last closer is cut before the document is repaired
	if end := strings.LastIndexAny(body, "}]"); end > 0 && strings.TrimSpace(body[end+1:]) != "" {
		candidates = []string{body[:end+1], body}
	}
	var lastErr error
	for _, c := range candidates {
		fixed, err := repairlib.JSONRepair(c)
		if err != nil {
			lastErr = err
			continue
		}
		if json.Valid([]byte(fixed)) {
			return fixed, nil
		}
	}
	return "", &MalformedOutputError{Reason: "could not balance structure", Raw: raw, Err: lastErr}
}

func stripFences(s string) string {
	if m := fencedBlock.FindStringSubmatch(s); len(m) > 1 {
		if inner := strings.TrimSpace(m[1]); strings.ContainsAny(inner, "{[") {
			return inner
		}
	}
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "```") {
		// unterminated fence: drop the opening line
		if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 {
			return trimmed[nl+1:]
		}
	}
	return s
}
