// Package envelope digs payloads out of loosely shaped upstream responses.
//
// The Tebra proxy has wrapped its results in a varying number of "body"
// layers across versions and sometimes returns JSON documents encoded as
// strings. Everything that guesses at that shape lives here so callers can
// ask for an ordered list of candidate paths and take the first hit.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// DefaultWrappers are the envelope keys seen around proxy payloads.
var DefaultWrappers = []string{"body", "data", "result"}

// MaxDepth is the deepest envelope nesting searched by Candidates.
const MaxDepth = 3

// ErrNotScalar is returned by Text for maps and slices.
var ErrNotScalar = errors.New("envelope: value is not a scalar")

// Decode parses a response body. A body that decodes to a JSON string is
// parsed one more time.
func Decode(data []byte) (any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("envelope: empty payload")
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("envelope: decode payload: %w", err)
	}
	if s, ok := doc.(string); ok {
		inner, ok := parseText(s)
		if !ok {
			return nil, errors.New("envelope: string payload is not JSON")
		}
		return inner, nil
	}
	return doc, nil
}

// Candidates expands each suffix into paths prefixed by zero to MaxDepth
// wrapper keys, shallowest first.
func Candidates(wrappers []string, suffixes ...string) []string {
	if wrappers == nil {
		wrappers = DefaultWrappers
	}
	prefixes := []string{""}
	level := []string{""}
	for depth := 1; depth <= MaxDepth; depth++ {
		next := make([]string, 0, len(level)*len(wrappers))
		for _, p := range level {
			for _, w := range wrappers {
				next = append(next, p+w+".")
			}
		}
		prefixes = append(prefixes, next...)
		level = next
	}

	out := make([]string, 0, len(prefixes)*len(suffixes))
	for _, prefix := range prefixes {
		for _, suffix := range suffixes {
			out = append(out, prefix+suffix)
		}
	}
	return out
}

// Lookup returns the value at the first path that resolves. Paths are
// dot-separated keys; keys match exactly first and case-insensitively
// second. String values met along the way are parsed as JSON once.
func Lookup(doc any, paths ...string) (any, bool) {
	for _, path := range paths {
		if v, ok := lookupPath(doc, path); ok {
			return v, true
		}
	}
	return nil, false
}

// List coerces v into a slice: arrays pass through, a single object becomes
// a one-element slice, JSON text is parsed once. Anything else, including
// empty objects, yields nil.
func List(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case map[string]any:
		if len(t) == 0 {
			return nil
		}
		return []any{t}
	case string:
		inner, ok := parseText(t)
		if !ok {
			return nil
		}
		if _, isString := inner.(string); isString {
			return nil
		}
		return List(inner)
	default:
		return nil
	}
}

// Object returns v as a map when it is one.
func Object(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// Text renders a scalar as a trimmed string. nil yields "".
func Text(v any) (string, error) {
	switch v.(type) {
	case nil:
		return "", nil
	case map[string]any, []any:
		return "", ErrNotScalar
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("envelope: %w", err)
	}
	return strings.TrimSpace(s), nil
}

// FirstText returns the first non-empty scalar found at paths.
func FirstText(doc any, paths ...string) string {
	for _, path := range paths {
		v, ok := lookupPath(doc, path)
		if !ok {
			continue
		}
		if s, err := Text(v); err == nil && s != "" {
			return s
		}
	}
	return ""
}

// Field reports whether m holds key, matching exactly first and
// case-insensitively second. Unlike Lookup, a null value counts as present.
func Field(m map[string]any, key string) (any, bool) {
	return getKey(m, key)
}

func lookupPath(doc any, path string) (any, bool) {
	cur := doc
	for _, key := range strings.Split(path, ".") {
		if key == "" {
			continue
		}
		if s, ok := cur.(string); ok {
			parsed, ok := parseText(s)
			if !ok {
				return nil, false
			}
			cur = parsed
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := getKey(m, key)
		if !ok {
			return nil, false
		}
		cur = next
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

func getKey(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func parseText(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" || (s[0] != '{' && s[0] != '[' && s[0] != '"') {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}
