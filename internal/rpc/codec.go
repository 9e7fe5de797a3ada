// Package rpc exposes the identity and dataset access services over Connect.
//
// Messages are plain Go structs encoded as JSON; there is no protobuf schema.
// Handlers and clients must both be built with the options returned by
// HandlerOptions and ClientOptions so they agree on the codec.
package rpc

import (
	"encoding/json"
	"fmt"

	"connectrpc.com/connect"
)

// codecName replaces Connect's protobuf JSON codec under the same name, so the
// wire content type stays application/json.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Name() string { return codecName }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}

// HandlerOptions returns the options every handler is built with, followed by extra.
func HandlerOptions(extra ...connect.HandlerOption) []connect.HandlerOption {
	return append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, extra...)
}

// ClientOptions returns the options every client is built with, followed by extra.
func ClientOptions(extra ...connect.ClientOption) []connect.ClientOption {
	return append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, extra...)
}
