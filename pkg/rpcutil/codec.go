// Package rpcutil provides the gRPC transport scaffolding shared by the 2PC
// and Raft cores: a JSON message codec (the retrieval pack carries no
// protoc-generated stubs for this domain), dial/server option builders, and
// a logging interceptor. Individual services still declare their own
// grpc.ServiceDesc and message types; this package only supplies the plumbing
// every one of them needs.
package rpcutil

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype negotiated for this codec. The wire
// content-type ends up "application/grpc+json".
const codecName = "json"

// jsonCodec implements encoding.Codec by round-tripping through
// encoding/json instead of protobuf wire format.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// CodecName is the content-subtype callers must select with
// grpc.CallContentSubtype(CodecName) when dialing.
const CodecName = codecName
