// Package encoding provides the binary primitives used by the write batch,
// the transaction write index and the WAL record body.
//
// Fixed-width integers are little-endian. Varints use 7-bit groups with the
// MSB as continuation bit. Length-prefixed slices are [varint32 len][bytes].
package encoding

import (
	"encoding/binary"
	"errors"
)

// MaxVarint32Length is the maximum number of bytes a varint32 can occupy.
const MaxVarint32Length = 5

var (
	// ErrBufferTooSmall is returned when the buffer doesn't have enough bytes.
	ErrBufferTooSmall = errors.New("encoding: buffer too small")

	// ErrVarintOverflow is returned when a varint exceeds 32 bits.
	ErrVarintOverflow = errors.New("encoding: varint overflow")

	// ErrVarintTermination is returned when a varint doesn't terminate.
	ErrVarintTermination = errors.New("encoding: varint not terminated")
)

// DecodeFixed16 decodes a uint16 from a 2-byte little-endian buffer.
func DecodeFixed16(src []byte) uint16 {
	return binary.LittleEndian.Uint16(src)
}

// EncodeFixed32 encodes a uint32 into a 4-byte little-endian buffer.
// REQUIRES: dst has at least 4 bytes.
func EncodeFixed32(dst []byte, value uint32) {
	binary.LittleEndian.PutUint32(dst, value)
}

// DecodeFixed32 decodes a uint32 from a 4-byte little-endian buffer.
func DecodeFixed32(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

// AppendFixed32 appends a little-endian uint32 to dst.
func AppendFixed32(dst []byte, value uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, value)
}

// AppendFixed64 appends a little-endian uint64 to dst.
func AppendFixed64(dst []byte, value uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, value)
}

// DecodeFixed64 decodes a uint64 from an 8-byte little-endian buffer.
func DecodeFixed64(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// AppendVarint32 appends a uint32 as a varint to dst and returns the extended slice.
func AppendVarint32(dst []byte, value uint32) []byte {
	const B = 128
	for value >= B {
		dst = append(dst, byte(value&(B-1))|B)
		value >>= 7
	}
	return append(dst, byte(value))
}

// DecodeVarint32 decodes a varint32 from src.
// Returns the decoded value and the number of bytes consumed.
func DecodeVarint32(src []byte) (value uint32, bytesRead int, err error) {
	var result uint32
	for shift := uint(0); shift < 32; shift += 7 {
		if bytesRead >= len(src) {
			return 0, 0, ErrVarintTermination
		}
		b := src[bytesRead]
		bytesRead++
		if b < 128 {
			result |= uint32(b) << shift
			return result, bytesRead, nil
		}
		result |= uint32(b&0x7f) << shift
	}
	return 0, 0, ErrVarintOverflow
}

// AppendLengthPrefixedSlice appends [varint32 length][bytes] to dst.
func AppendLengthPrefixedSlice(dst []byte, value []byte) []byte {
	dst = AppendVarint32(dst, uint32(len(value)))
	return append(dst, value...)
}

// DecodeLengthPrefixedSlice decodes a length-prefixed slice from src.
// Returns the slice (pointing into src), bytes consumed, and any error.
func DecodeLengthPrefixedSlice(src []byte) (value []byte, bytesRead int, err error) {
	length, n, err := DecodeVarint32(src)
	if err != nil {
		return nil, 0, err
	}
	bytesRead = n
	if bytesRead+int(length) > len(src) {
		return nil, 0, ErrBufferTooSmall
	}
	value = src[bytesRead : bytesRead+int(length)]
	bytesRead += int(length)
	return value, bytesRead, nil
}
