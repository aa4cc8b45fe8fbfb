// Package feature turns open customer attribute maps into the fixed,
// schema-aligned numeric vectors the trained models expect.
//
// A Profile is whatever the caller sent: a flat key/value map with numbers,
// strings, and booleans in no particular order, possibly missing half the
// fields the model was trained on and carrying extras it never saw. The
// Schema is the ground truth: the exact ordered column list a model artifact
// was trained against. Normalize is the only bridge between the two; nothing
// downstream of it ever sees the open map again.
package feature

import (
	"math"
	"strconv"
	"strings"
)

// Profile is one customer's behavioral/demographic snapshot as received at
// the request boundary. Values are whatever JSON decoding produced.
// Profiles are read-only once received.
type Profile map[string]any

// Number looks up a profile value and coerces it to a finite float64.
// Returns false for missing keys, unparseable strings, NaN, and infinities.
func (p Profile) Number(key string) (float64, bool) {
	raw, ok := p[key]
	if !ok {
		return 0, false
	}
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int32:
		v = float64(n)
	case int64:
		v = float64(n)
	case bool:
		if n {
			v = 1
		}
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		v = parsed
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Flag reads a profile value as a boolean. Nonzero numbers and the strings
// "true"/"yes"/"y" count as set. Missing or malformed values read as false.
func (p Profile) Flag(key string) bool {
	if v, ok := p.Number(key); ok {
		return v != 0
	}
	if s, ok := p[key].(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "y":
			return true
		}
	}
	return false
}

// Text reads a profile value as a lowercased, trimmed string.
// Non-string values read as empty.
func (p Profile) Text(key string) string {
	s, ok := p[key].(string)
	if !ok {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// Has reports whether the key is present at all.
func (p Profile) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Vector is a schema-aligned numeric feature vector: index i corresponds to
// the schema's column i, always, regardless of what the source profile held.
type Vector []float64
