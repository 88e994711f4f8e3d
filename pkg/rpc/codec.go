package rpc

import "encoding/json"

const codecName = "json"

// jsonCodec implements encoding.Codec (grpc-go's Marshal/Unmarshal/Name
// contract) so every message on this service's wire is plain JSON instead
// of protobuf wire format: the single tagged-union Call method carries the
// same Command idea pkg/types already uses for the Raft log out to the
// network, with no generated message types.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}
