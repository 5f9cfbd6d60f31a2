package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Property is one custom property. Value holds the exact JSON the client
// sent; the engine never interprets it.
type Property struct {
	Key   string
	Value json.RawMessage
}

// Properties is an ordered key/value bag. Key order and value bytes survive
// a decode/encode round trip.
type Properties []Property

// Get returns the raw value for key.
func (p Properties) Get(key string) (json.RawMessage, bool) {
	for _, prop := range p {
		if prop.Key == key {
			return prop.Value, true
		}
	}
	return nil, false
}

// Keys returns the property keys in order.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for _, prop := range p {
		keys = append(keys, prop.Key)
	}
	return keys
}

// Set replaces the value of key, or appends it when absent.
func (p Properties) Set(key string, value json.RawMessage) Properties {
	for i := range p {
		if p[i].Key == key {
			p[i].Value = value
			return p
		}
	}
	return append(p, Property{Key: key, Value: value})
}

// Select returns the subset of p whose keys are listed, in p's order.
// Keys not present in p are ignored.
func (p Properties) Select(keys []string) Properties {
	if len(keys) == 0 {
		return nil
	}
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	var out Properties
	for _, prop := range p {
		if _, ok := want[prop.Key]; ok {
			out = append(out, Property{Key: prop.Key, Value: append(json.RawMessage(nil), prop.Value...)})
		}
	}
	return out
}

// Merge returns p with every property of other set on top of it.
func (p Properties) Merge(other Properties) Properties {
	out := append(Properties(nil), p...)
	for _, prop := range other {
		out = out.Set(prop.Key, prop.Value)
	}
	return out
}

func (p Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, prop := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(prop.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if len(prop.Value) == 0 {
			buf.WriteString("null")
			continue
		}
		buf.Write(prop.Value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p *Properties) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("custom properties: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("custom properties: expected object")
	}

	var out Properties
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("custom properties: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("custom properties: expected string key")
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("custom properties %q: %w", key, err)
		}
		out = out.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("custom properties: %w", err)
	}

	*p = out
	return nil
}
