// Package connect provides the Connect RPC control API.
package connect

import (
	"connectrpc.com/connect"
	json "github.com/goccy/go-json"
)

// jsonCodec serializes plain Go messages as JSON.
type jsonCodec struct {
	name string
}

var _ connect.Codec = (*jsonCodec)(nil)

// Name returns the codec name.
func (c *jsonCodec) Name() string {
	return c.name
}

// Marshal serializes msg to JSON.
func (c *jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

// Unmarshal deserializes JSON into msg. An empty body leaves msg untouched.
func (c *jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, msg)
}

// NewJSONCodec creates the JSON codec.
func NewJSONCodec() connect.Codec {
	return &jsonCodec{name: "json"}
}

// WithJSONCodec returns a handler option that replaces the protobuf JSON
// codecs with the plain JSON codec.
func WithJSONCodec() connect.HandlerOption {
	return connect.WithHandlerOptions(
		connect.WithCodec(NewJSONCodec()),
		connect.WithCodec(&jsonCodec{name: "json; charset=utf-8"}),
	)
}
