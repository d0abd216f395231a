// Package zblob frames blobs with optional zstd compression.
//
// A compressed blob is a plain zstd frame; the frame magic number is the marker that tells
// Decode which path was used. Decode always attempts safe decompression first and hands the
// raw bytes back untouched when they are not a valid frame.
package zblob

import (
	"bytes"
	"errors"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// MaxDecodedSize caps decompressed output so a corrupt or hostile frame cannot balloon memory.
const MaxDecodedSize = 16 << 20

var frameMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	encOnce sync.Once
	enc     *zstd.Encoder
	decOnce sync.Once
	dec     *zstd.Decoder
)

func encoder() *zstd.Encoder {
	encOnce.Do(func() {
		// nil writer: only EncodeAll is used, which is safe for concurrent use.
		enc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return enc
}

func decoder() *zstd.Decoder {
	decOnce.Do(func() {
		dec, _ = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecoderMaxMemory(MaxDecodedSize),
		)
	})
	return dec
}

// Compress returns src as a single zstd frame.
func Compress(src []byte) []byte {
	return encoder().EncodeAll(src, make([]byte, 0, len(src)/2+16))
}

// IsCompressed reports whether b starts with a zstd frame header.
func IsCompressed(b []byte) bool {
	return len(b) >= len(frameMagic) && bytes.Equal(b[:len(frameMagic)], frameMagic)
}

// ErrNotCompressed is returned by Decompress when b is not a zstd frame.
var ErrNotCompressed = errors.New("zblob: not a zstd frame")

// Decompress decodes a zstd frame.
func Decompress(b []byte) ([]byte, error) {
	if !IsCompressed(b) {
		return nil, ErrNotCompressed
	}
	out, err := decoder().DecodeAll(b, nil)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Encode frames src, compressing it when compress is true.
func Encode(src []byte, compress bool) []byte {
	if !compress {
		out := make([]byte, len(src))
		copy(out, src)
		return out
	}
	return Compress(src)
}

// Decode returns the payload of b. It tries decompression first and falls back to the raw
// bytes on any failure; compressed reports which path produced the payload.
func Decode(b []byte) (payload []byte, compressed bool) {
	if out, err := Decompress(b); err == nil {
		return out, true
	}
	return b, false
}
