// Package codec selects the JSON implementation at build time.
// The default build uses goccy/go-json; `-tags sonic` switches to
// bytedance/sonic on platforms it supports.
package codec

// Encoder writes JSON values to a stream.
type Encoder interface {
	Encode(v any) error
}

// Decoder reads JSON values from a stream.
type Decoder interface {
	Decode(v any) error
}
