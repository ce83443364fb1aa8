// Package json centralizes JSON (de)serialization on bytedance/sonic so the
// rest of the codebase never imports encoding/json directly. Sonic is
// API-compatible for the subset we use and considerably faster on the hot
// event-forwarding path.
package json

import (
	"io"

	"github.com/bytedance/sonic"
)

var config = sonic.ConfigStd

// Marshal serializes v into JSON bytes.
func Marshal(v interface{}) ([]byte, error) {
	return config.Marshal(v)
}

// MarshalIndent serializes v into indented JSON bytes.
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return config.MarshalIndent(v, prefix, indent)
}

// Unmarshal parses JSON bytes into v.
func Unmarshal(data []byte, v interface{}) error {
	return config.Unmarshal(data, v)
}

// NewEncoder returns a streaming encoder writing to w.
func NewEncoder(w io.Writer) sonic.Encoder {
	return config.NewEncoder(w)
}

// NewDecoder returns a streaming decoder reading from r.
func NewDecoder(r io.Reader) sonic.Decoder {
	return config.NewDecoder(r)
}
