package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compressor wraps a zstd encoder/decoder pair, grounded on the pack's
// dictionary-free single-threaded Zstandard usage: audit blobs are written
// once and read rarely, so encoder concurrency buys nothing here.
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor builds a Compressor with default Zstandard speed settings.
func NewCompressor() (*Compressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("audit: create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("audit: create zstd decoder: %w", err)
	}
	return &Compressor{encoder: enc, decoder: dec}, nil
}

// Compress returns data encoded as a standalone zstd frame.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	return c.encoder.EncodeAll(data, nil), nil
}

// Decompress reverses Compress.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	return c.decoder.DecodeAll(data, nil)
}

// digest returns a short hex digest of buf for the explorer's host list,
// which reads digests rather than full buffers (§4.13).
func digest(buf []byte) string {
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])[:16]
}
