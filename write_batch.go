// write_batch.go implements the public WriteBatch API for atomic writes.
//
// Reference: RocksDB v10.7.5 include/rocksdb/write_batch.h
package rockyardtxn

import (
	"slices"

	"github.com/aalhour/rockyardtxn/internal/batch"
)

// WriteBatch holds a collection of writes to be applied atomically.
// Keys and values are copied, so you can modify them after calling Put/Delete.
// A nil column family selects the default one.
//
// A WriteBatch can be reused by calling Clear() after Write().
//
// Example:
//
//	wb := rockyardtxn.NewWriteBatch()
//	wb.Put(nil, []byte("key1"), []byte("value1"))
//	wb.Put(users, []byte("key2"), []byte("value2"))
//	wb.Delete(nil, []byte("key3"))
//	err := db.Write(nil, wb)
//	wb.Clear() // Reuse the batch
type WriteBatch struct {
	internal *batch.WriteBatch
	// handles holds each distinct non-nil handle passed in, so Write can
	// check that they belong to the target DB.
	handles []ColumnFamilyHandle
	// handleMarks holds len(handles) at each savepoint.
	handleMarks []int
}

// NewWriteBatch creates a new empty WriteBatch.
func NewWriteBatch() *WriteBatch {
	return &WriteBatch{internal: batch.New()}
}

// cfID returns the ID to record for cf and remembers the handle.
func (wb *WriteBatch) cfID(cf ColumnFamilyHandle) uint32 {
	if cf == nil {
		return DefaultColumnFamilyID
	}
	if !slices.Contains(wb.handles, cf) {
		wb.handles = append(wb.handles, cf)
	}
	return cf.ID()
}

// Put adds a key-value pair to the batch.
func (wb *WriteBatch) Put(cf ColumnFamilyHandle, key, value []byte) {
	wb.internal.Put(wb.cfID(cf), key, value)
}

// Delete adds a deletion for the key to the batch.
func (wb *WriteBatch) Delete(cf ColumnFamilyHandle, key []byte) {
	wb.internal.Delete(wb.cfID(cf), key)
}

// Merge adds a merge operand for the key to the batch.
func (wb *WriteBatch) Merge(cf ColumnFamilyHandle, key, operand []byte) {
	wb.internal.Merge(wb.cfID(cf), key, operand)
}

// SetSavePoint records the current end of the batch.
func (wb *WriteBatch) SetSavePoint() {
	wb.internal.SetSavePoint()
	wb.handleMarks = append(wb.handleMarks, len(wb.handles))
}

// RollbackToSavePoint drops the records added since the last savepoint.
func (wb *WriteBatch) RollbackToSavePoint() error {
	if err := wb.internal.RollbackToSavePoint(); err != nil {
		return ErrNoSavepoint
	}
	last := len(wb.handleMarks) - 1
	wb.handles = wb.handles[:wb.handleMarks[last]]
	wb.handleMarks = wb.handleMarks[:last]
	return nil
}

// Clear resets the batch to empty, allowing it to be reused.
func (wb *WriteBatch) Clear() {
	wb.internal.Clear()
	wb.handles = wb.handles[:0]
	wb.handleMarks = wb.handleMarks[:0]
}

// Count returns the number of operations in the batch.
func (wb *WriteBatch) Count() uint32 {
	return wb.internal.Count()
}

// Data returns the raw batch data (for advanced use only).
func (wb *WriteBatch) Data() []byte {
	return wb.internal.Data()
}
