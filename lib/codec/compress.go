// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression names a frame compression a push client can negotiate.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// ParseCompression maps a client-supplied name to a Compression. The
// empty string selects none.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionZstd:
		return CompressionZstd, nil
	case CompressionLZ4:
		return CompressionLZ4, nil
	default:
		return "", fmt.Errorf("unknown compression %q (want none, zstd, or lz4)", name)
	}
}

// maxDecompressedSize bounds Decompress output. A full snapshot of
// every subsystem is a few kilobytes; anything near this limit is a
// corrupt or hostile frame.
const maxDecompressedSize = 16 << 20

// zstd encoders and decoders are safe for concurrent EncodeAll and
// DecodeAll, so one of each serves every push worker.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecompressedSize))
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress compresses data with the given algorithm. CompressionNone
// returns data unchanged.
//
// LZ4 output is prefixed with the uncompressed length as a 4-byte
// big-endian integer, since the block format does not record it. Data
// that lz4 cannot shrink is stored raw behind a zero length prefix.
func Compress(algorithm Compression, data []byte) ([]byte, error) {
	switch algorithm {
	case CompressionNone, "":
		return data, nil

	case CompressionZstd:
		return zstdEncoder.EncodeAll(data, nil), nil

	case CompressionLZ4:
		destination := make([]byte, 4+lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination[4:], nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 || written >= len(data) {
			stored := make([]byte, 4+len(data))
			copy(stored[4:], data)
			return stored, nil
		}
		binary.BigEndian.PutUint32(destination, uint32(len(data)))
		return destination[:4+written], nil

	default:
		return nil, fmt.Errorf("codec: unsupported compression %q", algorithm)
	}
}

// Decompress reverses Compress.
func Decompress(algorithm Compression, data []byte) ([]byte, error) {
	switch algorithm {
	case CompressionNone, "":
		return data, nil

	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil

	case CompressionLZ4:
		if len(data) < 4 {
			return nil, errors.New("lz4 decompress: frame shorter than length prefix")
		}
		size := binary.BigEndian.Uint32(data)
		if size == 0 {
			return data[4:], nil
		}
		if size > maxDecompressedSize {
			return nil, fmt.Errorf("lz4 decompress: declared size %d exceeds limit", size)
		}
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(data[4:], destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != int(size) {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return destination, nil

	default:
		return nil, fmt.Errorf("codec: unsupported compression %q", algorithm)
	}
}
