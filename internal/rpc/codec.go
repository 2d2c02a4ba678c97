package rpc

import "fmt"

// Codec encodes middleware messages in the protobuf binary format. It is
// forced on both ends of the channel with grpc.ForceCodec and
// grpc.ForceServerCodec, so the process-wide proto codec is left alone.
// String fields are not checked for valid UTF-8, which lets binary bodies
// cross the channel unchanged; generated message types would reject them.
type Codec struct{}

// Name reports "proto" so peers see the standard application/grpc+proto
// content subtype.
func (Codec) Name() string { return "proto" }

func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(message)
	if !ok {
		return nil, fmt.Errorf("rpc codec: cannot marshal %T", v)
	}
	return m.marshal(), nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(message)
	if !ok {
		return fmt.Errorf("rpc codec: cannot unmarshal into %T", v)
	}
	if err := m.unmarshal(data); err != nil {
		return fmt.Errorf("rpc codec: %T: %w", v, err)
	}
	return nil
}
