//go:build sonic

package codec

import (
	"io"

	"github.com/bytedance/sonic"
)

var (
	JSONMarshal   = sonic.Marshal
	JSONUnmarshal = sonic.Unmarshal
)

func NewJSONEncoder(w io.Writer) Encoder {
	return sonic.ConfigDefault.NewEncoder(w)
}

func NewJSONDecoder(r io.Reader) Decoder {
	return sonic.ConfigDefault.NewDecoder(r)
}
