// Package ingress adapts the two request shapes spec.md §4.1 names — a
// CDC batch envelope and a plain HTTP request — into the (user_code,
// txn_id) pair the rest of the engine operates on. Generalized from
// original_source/index.py's handler, which mixes both shapes behind one
// entrypoint; here they're split into ParseCDCEnvelope and HandleHTTP so
// each can be exercised independently (the CDC shape by internal/worker
// too, via the same decode-fallback helper).
package ingress

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
)

// ExtractedKey is the (user_code, txn_id) pair pulled from either
// envelope shape.
type ExtractedKey struct {
	UserCode string
	TxnID    string
}

// canalDoc is the CDC document shape: {type, data:[row, ...]}.
type canalDoc struct {
	Type string           `json:"type"`
	Data []map[string]any `json:"data"`
}

type cdcRecord struct {
	Value json.RawMessage `json:"value"`
}

// ParseCDCEnvelope parses one CDC batch (a JSON array of {value: ...}
// records) and extracts the key from the first record's first data row.
// The second return value is a SKIPPED_* reason code when no key could be
// extracted; it is empty when key extraction succeeded.
func ParseCDCEnvelope(raw []byte) (*ExtractedKey, string, error) {
	row, reason, err := ParseCDCRow(raw)
	if err != nil || row == nil {
		return nil, reason, err
	}

	userCode := firstNonEmptyString(row, "user_code", "userCode")
	if userCode == "" {
		return nil, "SKIPPED_NO_USER_CODE", nil
	}
	txnID := firstNonEmptyString(row, "code", "transaction_id", "id")

	return &ExtractedKey{UserCode: userCode, TxnID: txnID}, "", nil
}

// ParseCDCRow parses one CDC batch and returns the first record's first
// data row verbatim (as a generic field map), so callers other than the
// key extractor — internal/worker, which also needs chain/address — can
// read their own fields out of it without re-implementing the envelope
// decode-fallback sequence.
func ParseCDCRow(raw []byte) (map[string]any, string, error) {
	var records []cdcRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, "", fmt.Errorf("ingress: invalid CDC envelope: %w", err)
	}
	if len(records) == 0 {
		return nil, "SKIPPED_EMPTY_ENVELOPE", nil
	}

	doc, reason := decodeCanalValue(records[0].Value)
	if doc == nil {
		return nil, reason, nil
	}

	if doc.Type != "" && doc.Type != "INSERT" {
		return nil, "SKIPPED_NON_INSERT", nil
	}
	if len(doc.Data) == 0 {
		return nil, "SKIPPED_EMPTY_DATA", nil
	}

	return doc.Data[0], "", nil
}

// decodeCanalValue decodes a CDC record's `value` field, which is either
// already an object or a string holding base64-encoded JSON, falling back
// to plain JSON when the base64 decode fails — exactly the two-step
// fallback original_source/index.py performs.
func decodeCanalValue(raw json.RawMessage) (*canalDoc, string) {
	if len(raw) == 0 {
		return nil, "SKIPPED_INVALID_VALUE"
	}

	var doc canalDoc
	if err := json.Unmarshal(raw, &doc); err == nil && (doc.Type != "" || len(doc.Data) > 0) {
		return &doc, ""
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err != nil {
		return nil, "SKIPPED_INVALID_VALUE"
	}

	if decoded, err := base64.StdEncoding.DecodeString(asString); err == nil {
		if err := json.Unmarshal(decoded, &doc); err == nil {
			return &doc, ""
		}
	}

	if err := json.Unmarshal([]byte(asString), &doc); err == nil {
		return &doc, ""
	}

	log.Printf("[INGRESS] failed to decode CDC value (neither base64 nor plain JSON)")
	return nil, "SKIPPED_INVALID_VALUE"
}

func firstNonEmptyString(row map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := row[k]; ok {
			if s := toStringValue(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func toStringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return trimFloatString(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func trimFloatString(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// ExtractHTTPKey pulls the (user_code, txn_id) pair out of an already
// decoded HTTP-style payload map, trying every alternate key name spec.md
// §4.1 lists for the HTTP envelope.
func ExtractHTTPKey(payload map[string]any) (*ExtractedKey, error) {
	userCode := normalizeUserCode(firstNonEmptyString(payload, "user_code"))
	if userCode == "" {
		return nil, fmt.Errorf("Missing user_code")
	}
	txnID := firstNonEmptyString(payload, "txn_id", "txnId", "code", "id")
	return &ExtractedKey{UserCode: userCode, TxnID: txnID}, nil
}

// DecodePayload turns a raw HTTP body into a key/value payload map. When
// isBase64 is set the body is base64-decoded first (an invalid base64 body
// is an error, with no fallback); the result is then parsed as JSON, and
// failing that as form-urlencoded.
func DecodePayload(body []byte, isBase64 bool) (map[string]any, error) {
	raw := body
	if isBase64 && len(body) > 0 {
		decoded, err := base64.StdEncoding.DecodeString(string(body))
		if err != nil {
			return nil, fmt.Errorf("ingress: invalid base64 body: %w", err)
		}
		raw = decoded
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err == nil {
		return payload, nil
	}

	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, fmt.Errorf("ingress: body is neither valid JSON nor form-urlencoded: %w", err)
	}
	payload = make(map[string]any, len(values))
	for k, v := range values {
		if len(v) > 0 {
			payload[k] = v[0]
		}
	}
	return payload, nil
}

// normalizeUserCode trims surrounding whitespace a form post may carry.
func normalizeUserCode(s string) string {
	return strings.TrimSpace(s)
}
