// Package checksum provides the XXH3 checksums used for WAL records and
// memtable values.
//
// Record checksums are the low 32 bits of XXH3-64 over the record type byte
// followed by the payload, masked the way the log format has always masked
// its CRCs so that a checksum of data containing embedded checksums stays
// well distributed.
package checksum

import "github.com/zeebo/xxh3"

const maskDelta = 0xa282ead8

// Type represents the checksum algorithm stored alongside data.
type Type uint8

const (
	// TypeNoChecksum means no checksum is used.
	TypeNoChecksum Type = 0
	// TypeXXH3 is the XXH3-64 checksum.
	TypeXXH3 Type = 4
)

// String returns a human-readable name for the checksum type.
func (t Type) String() string {
	switch t {
	case TypeNoChecksum:
		return "NoChecksum"
	case TypeXXH3:
		return "XXH3"
	default:
		return "Unknown"
	}
}

// Sum64 returns the XXH3-64 hash of data.
func Sum64(data []byte) uint64 {
	return xxh3.Hash(data)
}

// Sum64String returns the XXH3-64 hash of s.
func Sum64String(s string) uint64 {
	return xxh3.HashString(s)
}

// RecordChecksum computes the masked 32-bit checksum of a record type byte
// followed by its payload.
func RecordChecksum(recordType byte, payload []byte) uint32 {
	h := xxh3.New()
	_, _ = h.Write([]byte{recordType})
	_, _ = h.Write(payload)
	return Mask(uint32(h.Sum64()))
}

// Mask returns a masked representation of a checksum.
func Mask(c uint32) uint32 {
	return ((c >> 15) | (c << 17)) + maskDelta
}

// Unmask returns the checksum that was masked by Mask.
func Unmask(masked uint32) uint32 {
	rot := masked - maskDelta
	return (rot >> 17) | (rot << 15)
}
