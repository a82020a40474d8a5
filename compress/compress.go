// Package compress provides the value compressors used by the cache.
//
// Zstd is the default: good ratio on JSON-like metadata. S2 trades ratio
// for speed. Both are stateless from the caller's point of view and safe
// for concurrent use.
package compress

import (
	"fmt"
	"strings"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Compressor compresses and decompresses whole payloads.
type Compressor interface {
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
	Name() string
}

// Zstd compresses with github.com/klauspost/compress/zstd.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstd builds a reusable zstd compressor. EncodeAll/DecodeAll are safe
// for concurrent use on a shared encoder/decoder.
func NewZstd() (*Zstd, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("compress: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("compress: zstd decoder: %w", err)
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

// Compress implements Compressor.
func (z *Zstd) Compress(src []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}

// Decompress implements Compressor.
func (z *Zstd) Decompress(src []byte) ([]byte, error) {
	out, err := z.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("compress: zstd decode: %w", err)
	}
	return out, nil
}

// Name implements Compressor.
func (*Zstd) Name() string { return "zstd" }

// S2 compresses with github.com/klauspost/compress/s2.
type S2 struct{}

// Compress implements Compressor.
func (S2) Compress(src []byte) ([]byte, error) { return s2.Encode(nil, src), nil }

// Decompress implements Compressor.
func (S2) Decompress(src []byte) ([]byte, error) {
	out, err := s2.Decode(nil, src)
	if err != nil {
		return nil, fmt.Errorf("compress: s2 decode: %w", err)
	}
	return out, nil
}

// Name implements Compressor.
func (S2) Name() string { return "s2" }

// ByName returns the compressor for "zstd" (also the empty string) or "s2".
func ByName(name string) (Compressor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "zstd":
		return NewZstd()
	case "s2":
		return S2{}, nil
	default:
		return nil, fmt.Errorf("compress: unknown compressor %q", name)
	}
}
