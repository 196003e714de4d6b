package feed

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Item is one feed entry (a beacon). Beyond id, author and timestamp the
// payload is opaque: the raw JSON is kept verbatim and round-tripped, so
// fields the client does not model survive untouched.
type Item struct {
	ID        string
	Author    string
	Timestamp int64 // unix milliseconds

	raw json.RawMessage
}

// UnmarshalJSON captures id/author/timestamp and retains the full payload.
// IDs may arrive as numbers or strings; timestamps as unix milliseconds or
// RFC 3339 strings.
func (it *Item) UnmarshalJSON(data []byte) error {
	var probe struct {
		ID        json.RawMessage `json:"id"`
		Author    string          `json:"author"`
		Timestamp json.RawMessage `json:"timestamp"`
		CreatedAt string          `json:"created_at"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	it.ID = scalarString(probe.ID)
	it.Author = probe.Author
	it.Timestamp = parseTimestamp(probe.Timestamp)
	if it.Timestamp == 0 && probe.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, probe.CreatedAt); err == nil {
			it.Timestamp = t.UnixMilli()
		}
	}
	it.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON emits the original payload when one was captured.
func (it Item) MarshalJSON() ([]byte, error) {
	if it.raw != nil {
		return it.raw, nil
	}
	return json.Marshal(map[string]interface{}{
		"id":        it.ID,
		"author":    it.Author,
		"timestamp": it.Timestamp,
	})
}

// Equal reports whether two items carry the same content, comparing the
// JSON-normalized payloads rather than pointer or field identity.
func (it Item) Equal(other Item) bool {
	a, err := normalizeJSON(it)
	if err != nil {
		return false
	}
	b, err := normalizeJSON(other)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

func normalizeJSON(v interface{}) ([]byte, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var norm interface{}
	if err := json.Unmarshal(encoded, &norm); err != nil {
		return nil, err
	}
	return json.Marshal(norm)
}

// itemsEqual compares two feed lists by content, in order.
func itemsEqual(a, b []Item) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func maxTimestamp(items []Item) int64 {
	var max int64
	for _, it := range items {
		if it.Timestamp > max {
			max = it.Timestamp
		}
	}
	return max
}

// scalarString renders a raw JSON scalar as a string, stripping quotes.
func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}

// parseTimestamp accepts unix milliseconds (number) or RFC 3339 (string).
func parseTimestamp(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int64(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UnixMilli()
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
