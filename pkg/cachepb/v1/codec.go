package cachepbv1

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype this package registers, selected
// per-call via grpc.CallContentSubtype(codecName). Using a JSON codec
// instead of protobuf wire encoding is what lets this package use
// google.golang.org/grpc without a protoc-generated message type or a
// dependency on google.golang.org/protobuf's message runtime.
const codecName = "json"

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := jsonAPI.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cachepb: marshal: %w", err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := jsonAPI.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cachepb: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
