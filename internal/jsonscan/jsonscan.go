package jsonscan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
)

// MaxDepth bounds how far DeepFind descends into nested payloads.
const MaxDepth = 32

// maxNesting rejects pathological payloads before the decoder recurses into them.
const maxNesting = 10000

// Fields is a decoded JSON object that keeps its members in document order.
// Repeated keys keep their first position and their last value.
type Fields struct {
	keys   []string
	values map[string]any
}

// Keys returns the member names in document order.
func (f *Fields) Keys() []string {
	if f == nil {
		return nil
	}
	return slices.Clone(f.keys)
}

// Get returns the member stored under key.
func (f *Fields) Get(key string) (any, bool) {
	if f == nil {
		return nil, false
	}
	value, ok := f.values[key]
	return value, ok
}

// Len reports the number of distinct members.
func (f *Fields) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}

func (f *Fields) set(key string, value any) {
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

// MarshalJSON writes the members back in document order.
func (f *Fields) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	buf.WriteByte('{')
	for i, key := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := enc.Encode(key); err != nil {
			return nil, err
		}
		buf.Truncate(buf.Len() - 1)
		buf.WriteByte(':')
		if err := enc.Encode(f.values[key]); err != nil {
			return nil, err
		}
		buf.Truncate(buf.Len() - 1)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Decode parses raw JSON into a generic value tree. Objects become *Fields so
// lookups can follow document order; numbers are preserved as json.Number so
// status codes survive without float formatting.
func Decode(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	value, err := decodeValue(dec, 0)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode payload: trailing data after top-level value")
	}
	return value, nil
}

func decodeValue(dec *json.Decoder, depth int) (any, error) {
	if depth > maxNesting {
		return nil, errors.New("payload nested too deeply")
	}
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		obj := &Fields{values: make(map[string]any)}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected object key %v", keyTok)
			}
			value, err := decodeValue(dec, depth+1)
			if err != nil {
				return nil, err
			}
			obj.set(key, value)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		items := []any{}
		for dec.More() {
			value, err := decodeValue(dec, depth+1)
			if err != nil {
				return nil, err
			}
			items = append(items, value)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return items, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %q", delim)
	}
}

// DecodeObject parses raw JSON and requires the top-level value to be an object.
func DecodeObject(raw []byte) (*Fields, error) {
	value, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	obj, ok := value.(*Fields)
	if !ok {
		return nil, errors.New("payload is not a JSON object")
	}
	return obj, nil
}

// DeepFind walks data depth-first in document order and returns every value
// stored under one of keys. A member that matches is reported before anything
// nested inside it.
func DeepFind(data any, keys ...string) []any {
	want := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		want[key] = struct{}{}
	}
	var found []any
	deepFind(data, want, 0, &found)
	return found
}

func deepFind(data any, keys map[string]struct{}, depth int, found *[]any) {
	if depth > MaxDepth {
		return
	}
	switch node := data.(type) {
	case *Fields:
		if node == nil {
			return
		}
		for _, key := range node.keys {
			value := node.values[key]
			if _, ok := keys[key]; ok {
				*found = append(*found, value)
			}
			deepFind(value, keys, depth+1, found)
		}
	case []any:
		for _, item := range node {
			deepFind(item, keys, depth+1, found)
		}
	}
}

// FirstString returns the first value that is a non-blank string, trimmed.
func FirstString(values []any) string {
	for _, value := range values {
		if s, ok := value.(string); ok {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

// FindString is shorthand for FirstString(DeepFind(data, keys...)).
func FindString(data any, keys ...string) string {
	return FirstString(DeepFind(data, keys...))
}

// Object returns data as an object, or nil when it is not one.
func Object(data any) *Fields {
	obj, _ := data.(*Fields)
	return obj
}

// Array returns data as an array, or nil when it is not one.
func Array(data any) []any {
	arr, _ := data.([]any)
	return arr
}

// Path follows object keys from data and returns the value found, if any.
func Path(data any, keys ...string) (any, bool) {
	current := data
	for _, key := range keys {
		obj := Object(current)
		if obj == nil {
			return nil, false
		}
		next, ok := obj.Get(key)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// String returns data when it is a string.
func String(data any) (string, bool) {
	s, ok := data.(string)
	return s, ok
}

// Scalar renders strings, numbers, and booleans as text. Other kinds yield "".
func Scalar(data any) string {
	switch v := data.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Snippet collapses whitespace in content and truncates it for diagnostics.
func Snippet(content string, limit int) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "<empty>"
	}
	clean := strings.Join(strings.Fields(trimmed), " ")
	runes := []rune(clean)
	if limit > 0 && len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
