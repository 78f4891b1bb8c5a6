// Package api is the wire contract of envvault.VaultService: the request and
// response messages, the JSON codec they travel with and the gRPC service
// descriptor shared by the server and the remote client.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype the client must request.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec encodes messages as JSON. Decoding rejects unknown fields.
type Codec struct{}

func (Codec) Name() string { return CodecName }

func (Codec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json codec: marshal %T: %w", v, err)
	}
	return b, nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("json codec: unmarshal %T: %w", v, err)
	}
	return nil
}
