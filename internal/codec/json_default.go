//go:build !sonic

package codec

import (
	"io"

	"github.com/goccy/go-json"
)

var (
	JSONMarshal   = json.Marshal
	JSONUnmarshal = json.Unmarshal
)

func NewJSONEncoder(w io.Writer) Encoder {
	return json.NewEncoder(w)
}

func NewJSONDecoder(r io.Reader) Decoder {
	return json.NewDecoder(r)
}
