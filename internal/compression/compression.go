// Package compression provides the codecs used for WAL record bodies.
//
// Each logical WAL record is stored with a 1-byte compression type followed
// by the (possibly) compressed body, so a log written with one codec stays
// readable after the codec option changes.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type represents a compression algorithm.
type Type uint8

const (
	// NoCompression indicates no compression.
	NoCompression Type = 0x0

	// SnappyCompression uses Google Snappy compression.
	SnappyCompression Type = 0x1

	// LZ4Compression uses LZ4 frame compression.
	LZ4Compression Type = 0x4

	// ZstdCompression uses Zstandard compression.
	ZstdCompression Type = 0x7
)

// String returns the human-readable name of the compression type.
func (t Type) String() string {
	switch t {
	case NoCompression:
		return "NoCompression"
	case SnappyCompression:
		return "Snappy"
	case LZ4Compression:
		return "LZ4"
	case ZstdCompression:
		return "ZSTD"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// IsSupported returns true if the compression type is supported.
func (t Type) IsSupported() bool {
	switch t {
	case NoCompression, SnappyCompression, LZ4Compression, ZstdCompression:
		return true
	default:
		return false
	}
}

// Parse converts an option string ("none", "snappy", "lz4", "zstd") to a Type.
func Parse(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "nocompression", "":
		return NoCompression, nil
	case "snappy":
		return SnappyCompression, nil
	case "lz4":
		return LZ4Compression, nil
	case "zstd":
		return ZstdCompression, nil
	default:
		return NoCompression, fmt.Errorf("unknown compression type %q", s)
	}
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

// zstdCodec returns the shared encoder/decoder pair. Both are safe for
// concurrent EncodeAll/DecodeAll.
func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// Compress compresses data using the specified compression type.
func Compress(t Type, data []byte) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil

	case SnappyCompression:
		return snappy.Encode(nil, data), nil

	case LZ4Compression:
		return compressLZ4(data)

	case ZstdCompression:
		enc, _, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		return enc.EncodeAll(data, nil), nil

	default:
		return nil, fmt.Errorf("unsupported compression type: %s", t)
	}
}

// compressLZ4 compresses data using the LZ4 frame format.
func compressLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(lz4.Fast)); err != nil {
		return nil, fmt.Errorf("lz4 apply level: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress decompresses data using the specified compression type.
func Decompress(t Type, data []byte) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil

	case SnappyCompression:
		return snappy.Decode(nil, data)

	case LZ4Compression:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))

	case ZstdCompression:
		_, dec, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		return dec.DecodeAll(data, nil)

	default:
		return nil, fmt.Errorf("unsupported compression type: %s", t)
	}
}
