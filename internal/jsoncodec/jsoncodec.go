// Package jsoncodec wraps sonic so every package encodes JSON the same way.
package jsoncodec

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

// canonicalConfig sorts object keys, keeps numbers as written and leaves
// <, > and & alone so equal documents always encode to equal bytes.
var canonicalConfig = sonic.Config{
	SortMapKeys: true,
	UseNumber:   true,
	EscapeHTML:  false,
}.Froze()

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}

func Decode(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	return dec.Decode(v)
}

// Canonical re-encodes a JSON document with sorted object keys.
// Empty input and JSON null both canonicalise to "null".
func Canonical(data []byte) ([]byte, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []byte("null"), nil
	}
	var v any
	if err := canonicalConfig.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return canonicalConfig.Marshal(v)
}

// CanonicalValue encodes any Go value canonically.
func CanonicalValue(v any) ([]byte, error) {
	raw, err := canonicalConfig.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Canonical(raw)
}

// IsObject reports whether data holds a JSON object.
func IsObject(data json.RawMessage) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && data[0] == '{'
}
