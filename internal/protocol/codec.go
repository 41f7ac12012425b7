package protocol

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype the service speaks. "proto" is the
// default subtype of every stock gRPC client, so unmodified speaker
// firmware connects without negotiating anything.
const CodecName = "proto"

// wireCodec marshals the RPC messages in the protobuf wire format defined
// by proto/alpha_speaker.proto.
type wireCodec struct{}

// Codec returns the codec the gRPC server is forced to use.
func Codec() encoding.Codec {
	return wireCodec{}
}

func (wireCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("cannot marshal %T: not a wire message", v)
	}
	return m.marshalWire(nil), nil
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("cannot unmarshal into %T: not a wire message", v)
	}
	if err := m.unmarshalWire(data); err != nil {
		return fmt.Errorf("failed to unmarshal %T: %w", v, err)
	}
	return nil
}

func (wireCodec) Name() string {
	return CodecName
}
