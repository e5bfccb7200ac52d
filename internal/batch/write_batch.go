// Package batch implements the WriteBatch format for atomic writes.
//
// WriteBatch Format:
//
//	Header (12 bytes):
//	  - 8 bytes: sequence number (little-endian uint64)
//	  - 4 bytes: count (little-endian uint32)
//	Records (repeated):
//	  - 1 byte: tag (record type)
//	  - For ColumnFamily variants: varint32 column_family_id
//	  - length-prefixed key
//	  - (for Put/Merge): length-prefixed value
//
// A batch also carries a stack of savepoints. A savepoint records the data
// size and record count at the time it was set; rolling back to it truncates
// the batch to exactly that prefix.
package batch

import (
	"encoding/binary"
	"errors"

	"github.com/aalhour/rockyardtxn/internal/encoding"
)

// HeaderSize is the size in bytes of the WriteBatch header (8 bytes sequence + 4 bytes count).
const HeaderSize = 12

// Record types for WriteBatch entries.
const (
	TypeDeletion             byte = 0x00
	TypeValue                byte = 0x01
	TypeMerge                byte = 0x02
	TypeColumnFamilyDeletion byte = 0x04
	TypeColumnFamilyValue    byte = 0x05
	TypeColumnFamilyMerge    byte = 0x06
	TypeNoop                 byte = 0x0D
)

var (
	// ErrCorrupted indicates a malformed WriteBatch.
	ErrCorrupted = errors.New("batch: corrupted write batch")

	// ErrTooSmall indicates the batch is smaller than the header.
	ErrTooSmall = errors.New("batch: too small")

	// ErrNoSavePoint is returned when rolling back or popping with an empty savepoint stack.
	ErrNoSavePoint = errors.New("batch: no savepoint set")
)

// position identifies a prefix of a batch.
type position struct {
	size  int
	count uint32
}

// WriteBatch represents a collection of writes to be applied atomically.
type WriteBatch struct {
	data       []byte // The raw batch data including header
	savePoints []position
}

// New creates a new empty WriteBatch.
func New() *WriteBatch {
	return &WriteBatch{
		data: make([]byte, HeaderSize),
	}
}

// NewFromData creates a WriteBatch from existing data.
func NewFromData(data []byte) (*WriteBatch, error) {
	if len(data) < HeaderSize {
		return nil, ErrTooSmall
	}
	return &WriteBatch{data: data}, nil
}

// Clear resets the batch to empty state and drops all savepoints.
func (wb *WriteBatch) Clear() {
	wb.data = wb.data[:HeaderSize]
	binary.LittleEndian.PutUint32(wb.data[8:12], 0)
	wb.savePoints = nil
}

// Data returns the raw batch data.
func (wb *WriteBatch) Data() []byte {
	return wb.data
}

// Count returns the number of records in the batch.
func (wb *WriteBatch) Count() uint32 {
	return binary.LittleEndian.Uint32(wb.data[8:12])
}

// SetCount sets the count field.
func (wb *WriteBatch) SetCount(count uint32) {
	binary.LittleEndian.PutUint32(wb.data[8:12], count)
}

// Sequence returns the sequence number of the batch.
func (wb *WriteBatch) Sequence() uint64 {
	return binary.LittleEndian.Uint64(wb.data[0:8])
}

// SetSequence sets the sequence number of the batch.
func (wb *WriteBatch) SetSequence(seq uint64) {
	binary.LittleEndian.PutUint64(wb.data[0:8], seq)
}

// Put adds a Put record. cfID 0 is the default column family.
func (wb *WriteBatch) Put(cfID uint32, key, value []byte) {
	if cfID == 0 {
		wb.putRecord(TypeValue, 0, key, value)
		return
	}
	wb.putRecord(TypeColumnFamilyValue, cfID, key, value)
}

// Delete adds a Delete record.
func (wb *WriteBatch) Delete(cfID uint32, key []byte) {
	if cfID == 0 {
		wb.deleteRecord(TypeDeletion, 0, key)
		return
	}
	wb.deleteRecord(TypeColumnFamilyDeletion, cfID, key)
}

// Merge adds a Merge record.
func (wb *WriteBatch) Merge(cfID uint32, key, value []byte) {
	if cfID == 0 {
		wb.putRecord(TypeMerge, 0, key, value)
		return
	}
	wb.putRecord(TypeColumnFamilyMerge, cfID, key, value)
}

// SetSavePoint records the current end of the batch on the savepoint stack.
func (wb *WriteBatch) SetSavePoint() {
	wb.savePoints = append(wb.savePoints, position{size: len(wb.data), count: wb.Count()})
}

// RollbackToSavePoint truncates the batch to the most recent savepoint and
// pops it. Returns ErrNoSavePoint if the stack is empty.
func (wb *WriteBatch) RollbackToSavePoint() error {
	n := len(wb.savePoints)
	if n == 0 {
		return ErrNoSavePoint
	}
	sp := wb.savePoints[n-1]
	wb.savePoints = wb.savePoints[:n-1]
	wb.data = wb.data[:sp.size]
	wb.SetCount(sp.count)
	return nil
}

// PopSavePoint discards the most recent savepoint without touching the data.
func (wb *WriteBatch) PopSavePoint() error {
	n := len(wb.savePoints)
	if n == 0 {
		return ErrNoSavePoint
	}
	wb.savePoints = wb.savePoints[:n-1]
	return nil
}

// putRecord adds a key-value record to the batch.
func (wb *WriteBatch) putRecord(tag byte, cfID uint32, key, value []byte) {
	wb.data = append(wb.data, tag)
	if tag == TypeColumnFamilyValue || tag == TypeColumnFamilyMerge {
		wb.data = encoding.AppendVarint32(wb.data, cfID)
	}
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, key)
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, value)
	wb.SetCount(wb.Count() + 1)
}

// deleteRecord adds a delete record to the batch.
func (wb *WriteBatch) deleteRecord(tag byte, cfID uint32, key []byte) {
	wb.data = append(wb.data, tag)
	if tag == TypeColumnFamilyDeletion {
		wb.data = encoding.AppendVarint32(wb.data, cfID)
	}
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, key)
	wb.SetCount(wb.Count() + 1)
}

// Handler is called for each record in the batch during iteration.
// Keys and values alias the batch buffer and must be copied to be retained.
type Handler interface {
	Put(cfID uint32, key, value []byte) error
	Delete(cfID uint32, key []byte) error
	Merge(cfID uint32, key, value []byte) error
}

// Iterate calls the handler for each record in the batch.
func (wb *WriteBatch) Iterate(handler Handler) error {
	if len(wb.data) < HeaderSize {
		return ErrTooSmall
	}

	data := wb.data[HeaderSize:]
	for len(data) > 0 {
		tag := data[0]
		data = data[1:]

		var cfID uint32
		var key, value []byte
		var err error

		switch tag {
		case TypeColumnFamilyValue, TypeColumnFamilyMerge:
			cfID, data, err = decodeVarint32(data)
			if err != nil {
				return err
			}
			fallthrough
		case TypeValue, TypeMerge:
			key, data, err = decodeLengthPrefixed(data)
			if err != nil {
				return err
			}
			value, data, err = decodeLengthPrefixed(data)
			if err != nil {
				return err
			}
			if tag == TypeValue || tag == TypeColumnFamilyValue {
				err = handler.Put(cfID, key, value)
			} else {
				err = handler.Merge(cfID, key, value)
			}
			if err != nil {
				return err
			}

		case TypeColumnFamilyDeletion:
			cfID, data, err = decodeVarint32(data)
			if err != nil {
				return err
			}
			fallthrough
		case TypeDeletion:
			key, data, err = decodeLengthPrefixed(data)
			if err != nil {
				return err
			}
			if err := handler.Delete(cfID, key); err != nil {
				return err
			}

		case TypeNoop:

		default:
			return ErrCorrupted
		}
	}

	return nil
}

func decodeVarint32(data []byte) (uint32, []byte, error) {
	v, n, err := encoding.DecodeVarint32(data)
	if err != nil {
		return 0, nil, ErrCorrupted
	}
	return v, data[n:], nil
}

func decodeLengthPrefixed(data []byte) ([]byte, []byte, error) {
	if len(data) == 0 {
		return nil, nil, ErrCorrupted
	}
	value, n, err := encoding.DecodeLengthPrefixedSlice(data)
	if err != nil {
		return nil, nil, ErrCorrupted
	}
	return value, data[n:], nil
}
