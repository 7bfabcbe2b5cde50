package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Field is one key/value pair of a record.
type Field struct {
	Key   string
	Value any
}

// Fields is an insertion-ordered map. It encodes to a JSON object with keys in
// insertion order.
type Fields struct {
	items []Field
	index map[string]int
}

func NewFields() *Fields {
	return &Fields{index: make(map[string]int)}
}

// Set stores value under key. An existing key keeps its position.
func (f *Fields) Set(key string, value any) {
	if i, ok := f.index[key]; ok {
		f.items[i].Value = value
		return
	}
	f.index[key] = len(f.items)
	f.items = append(f.items, Field{Key: key, Value: value})
}

func (f *Fields) Get(key string) (any, bool) {
	i, ok := f.index[key]
	if !ok {
		return nil, false
	}
	return f.items[i].Value, true
}

// Text returns the value under key formatted as a string, or "" if absent.
func (f *Fields) Text(key string) string {
	v, ok := f.Get(key)
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (f *Fields) Keys() []string {
	keys := make([]string, len(f.items))
	for i, it := range f.items {
		keys[i] = it.Key
	}
	return keys
}

func (f *Fields) Len() int { return len(f.items) }

// Items returns a copy of the pairs in order.
func (f *Fields) Items() []Field {
	out := make([]Field, len(f.items))
	copy(out, f.items)
	return out
}

func (f *Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, it := range f.items {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := marshalRaw(it.Key)
		if err != nil {
			return nil, err
		}
		v, err := marshalRaw(it.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", it.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalRaw encodes v without HTML escaping.
func marshalRaw(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("fields: expected JSON object")
	}
	f.items = nil
	f.index = make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("fields: unexpected key token %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		f.Set(key, value)
	}
	_, err = dec.Token()
	return err
}
