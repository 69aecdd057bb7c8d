package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Spec is one labelled product attribute such as "RAM: 2 GB".
type Spec struct {
	Key   string
	Value string
}

// Specs is an insertion-ordered string map. Keys are unique.
type Specs []Spec

// Get returns the value stored under key.
func (s Specs) Get(key string) (string, bool) {
	for _, item := range s {
		if item.Key == key {
			return item.Value, true
		}
	}
	return "", false
}

// Set replaces the value of an existing key or appends a new entry.
func (s Specs) Set(key, value string) Specs {
	for i := range s {
		if s[i].Key == key {
			s[i].Value = value
			return s
		}
	}
	return append(s, Spec{Key: key, Value: value})
}

// SetDefault stores value only when key is absent.
func (s Specs) SetDefault(key, value string) Specs {
	if _, ok := s.Get(key); ok {
		return s
	}
	return append(s, Spec{Key: key, Value: value})
}

// Delete removes key, keeping the order of the remaining entries.
func (s Specs) Delete(key string) Specs {
	out := s[:0:0]
	for _, item := range s {
		if item.Key != key {
			out = append(out, item)
		}
	}
	return out
}

// DeleteFold removes every key equal to key under case folding.
func (s Specs) DeleteFold(key string) Specs {
	out := s[:0:0]
	for _, item := range s {
		if !strings.EqualFold(item.Key, key) {
			out = append(out, item)
		}
	}
	return out
}

// Clone returns an independent copy.
func (s Specs) Clone() Specs {
	if s == nil {
		return nil
	}
	out := make(Specs, len(s))
	copy(out, s)
	return out
}

// Equal compares keys, values and order.
func (s Specs) Equal(other Specs) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// MarshalJSON writes the entries as a JSON object in insertion order.
func (s Specs) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, item := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(item.Key)
		if err != nil {
			return nil, fmt.Errorf("encode spec key: %w", err)
		}
		value, err := json.Marshal(item.Value)
		if err != nil {
			return nil, fmt.Errorf("encode spec value: %w", err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, keeping the document order.
func (s *Specs) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*s = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode specs: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("decode specs: expected object")
	}
	out := Specs{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode specs key: %w", err)
		}
		key, _ := keyTok.(string)
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("decode specs value: %w", err)
		}
		switch v := raw.(type) {
		case string:
			out = out.Set(key, v)
		case nil:
		default:
			out = out.Set(key, fmt.Sprint(v))
		}
	}
	*s = out
	return nil
}
