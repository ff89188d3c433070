package admin

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype the admin API speaks
// (application/grpc+json).
const CodecName = "json"

// jsonCodec carries plain Go structs over gRPC, so the admin API needs no
// generated protobuf code. Clients opt in with grpc.CallContentSubtype.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
