// Package dbformat defines sequence numbers and record value types shared by
// the memtable, write batch and WAL.
//
// A committed batch consumes one sequence number per record. A read at
// sequence S observes every record whose sequence is <= S and nothing newer.
package dbformat

import "fmt"

// SequenceNumber orders every committed record in the database.
type SequenceNumber uint64

// MaxSequenceNumber is the largest valid sequence number (2^56 - 1).
const MaxSequenceNumber SequenceNumber = (1 << 56) - 1

// ValueType is the kind of a stored record.
// These values are embedded in the WAL and MUST NOT change.
type ValueType uint8

const (
	TypeDeletion ValueType = 0x00
	TypeValue    ValueType = 0x01
	TypeMerge    ValueType = 0x02
)

// String returns the record kind name.
func (t ValueType) String() string {
	switch t {
	case TypeDeletion:
		return "Deletion"
	case TypeValue:
		return "Value"
	case TypeMerge:
		return "Merge"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// IsValueType reports whether t can be stored in a memtable.
func IsValueType(t ValueType) bool {
	return t <= TypeMerge
}

// PackSequenceAndType packs a sequence number and value type into a 64-bit value.
// The sequence number occupies the upper 56 bits, the type the lower 8 bits.
func PackSequenceAndType(seq SequenceNumber, t ValueType) uint64 {
	return (uint64(seq) << 8) | uint64(t)
}

// UnpackSequenceAndType extracts the sequence number and value type from a packed value.
func UnpackSequenceAndType(packed uint64) (SequenceNumber, ValueType) {
	return SequenceNumber(packed >> 8), ValueType(packed & 0xFF)
}
