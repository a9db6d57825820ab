package messages

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// Encode serializes a wire frame to JSON bytes
func Encode(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// Decode parses JSON bytes into a wire frame
func Decode(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

// Raw marshals a value into a raw JSON fragment for embedding in a frame.
// Panics only on unmarshalable values (none of our wire types are).
func Raw(v any) json.RawMessage {
	b, err := sonic.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return json.RawMessage(b)
}
