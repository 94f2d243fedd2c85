package fetcher

import (
	"bytes"
	"encoding/json"
)

// ToRecords splits a feed response into JSON lines records. An array yields
// one record per element and an object yields a single record. Any other
// JSON value is wrapped as {"_value": v}; a body that is not JSON at all is
// kept as {"_raw": "..."}.
func ToRecords(body []byte) []json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		return []json.RawMessage{wrap("_raw", string(body))}
	}
	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return []json.RawMessage{wrap("_raw", string(body))}
		}
		out := make([]json.RawMessage, 0, len(items))
		for _, item := range items {
			out = append(out, compact(item))
		}
		return out
	case '{':
		return []json.RawMessage{compact(trimmed)}
	}
	return []json.RawMessage{wrap("_value", json.RawMessage(trimmed))}
}

// EncodeJSONLines joins records with newlines, terminating the last one.
func EncodeJSONLines(records []json.RawMessage) []byte {
	var buf bytes.Buffer
	for _, r := range records {
		buf.Write(r)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func compact(raw []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return json.RawMessage(raw)
	}
	return buf.Bytes()
}

func wrap(key string, v any) json.RawMessage {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// a string or a valid raw message always encodes
	_ = enc.Encode(map[string]any{key: v})
	return bytes.TrimRight(buf.Bytes(), "\n")
}
