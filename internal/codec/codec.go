// Package codec encodes stored result payloads as zstd-compressed JSON.
package codec

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"cityflow/internal/types"
)

// Codec compresses JSON documents. It is safe for concurrent use.
type Codec struct {
	encoder *zstd.Encoder

	// decoderPool provides reusable zstd decoders to avoid repeated allocations.
	decoderPool sync.Pool
}

// New creates a codec using the default compression level.
func New() *Codec {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		// This should never fail with nil output and default options.
		panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
	}
	return &Codec{
		encoder: enc,
		decoderPool: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				if err != nil {
					panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
				}
				return d
			},
		},
	}
}

// Encode marshals v and compresses the result.
func (c *Codec) Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalCodec, "failed to marshal payload", err)
	}
	return c.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// Decompress returns the JSON document held in data.
func (c *Codec) Decompress(data []byte) (json.RawMessage, error) {
	decoder := c.decoderPool.Get().(*zstd.Decoder)
	defer c.decoderPool.Put(decoder)

	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalCodec, "failed to decompress payload", err)
	}
	return raw, nil
}

// Decode decompresses data and unmarshals it into v.
func (c *Codec) Decode(data []byte, v any) error {
	raw, err := c.Decompress(data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return types.NewAppError(types.ErrCodeInternalCodec, "failed to unmarshal payload", err)
	}
	return nil
}
