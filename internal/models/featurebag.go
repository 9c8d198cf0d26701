// Package models holds the shared types that flow through the decision
// cascade: the feature bag, rules, list entries, and decision records.
package models

import (
	"encoding/json"
	"strconv"
)

// FeatureBag is an opaque attribute bag describing a single withdrawal
// attempt. Keys are looked up by name throughout the cascade and by rule
// expressions; a missing key is always treated as the neutral zero value,
// never as a reason to fail (spec invariant: absence is not grounds for a
// rejection).
type FeatureBag map[string]any

// NewFeatureBag wraps a raw map (as decoded from a risk_features row) in a
// FeatureBag, normalizing nil to an empty bag.
func NewFeatureBag(raw map[string]any) FeatureBag {
	if raw == nil {
		return FeatureBag{}
	}
	return FeatureBag(raw)
}

// Get returns the raw value and whether the key was present and non-nil.
func (b FeatureBag) Get(key string) (any, bool) {
	v, ok := b[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// GetAny looks up the first present key among alternates, matching the
// ingress adapter's "user_code or userCode" style alternate-name lookups.
func (b FeatureBag) GetAny(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := b.Get(k); ok {
			return v, true
		}
	}
	return nil, false
}

// Set stores a value, used by the derived-feature enrichment stage to write
// back computed features into the bag before it is snapshotted.
func (b FeatureBag) Set(key string, value any) {
	b[key] = value
}

// Bool reads a feature as a boolean; absent or unparseable is false.
func (b FeatureBag) Bool(key string) bool {
	v, ok := b.Get(key)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		parsed, err := strconv.ParseBool(t)
		return err == nil && parsed
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	}
	return false
}

// Float reads a feature as a float64; absent or unparseable is 0.
func (b FeatureBag) Float(key string) float64 {
	v, ok := b.Get(key)
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return f
	case bool:
		if t {
			return 1
		}
		return 0
	}
	return 0
}

// Int reads a feature as an int64; absent or unparseable is 0.
func (b FeatureBag) Int(key string) int64 {
	return int64(b.Float(key))
}

// String reads a feature as a string; absent is "".
func (b FeatureBag) String(key string) string {
	v, ok := b.Get(key)
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// Clone returns a shallow copy of the bag; later Set calls on either copy
// do not affect the other.
func (b FeatureBag) Clone() FeatureBag {
	out := make(FeatureBag, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// MarshalSnapshot serializes the bag for the decision record's
// features_snapshot column.
func (b FeatureBag) MarshalSnapshot() (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
