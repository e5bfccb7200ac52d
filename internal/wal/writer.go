// writer.go implements WAL log file writing.
//
// Writer provides an append-only abstraction for writing data, fragmenting
// records across block boundaries.
package wal

import (
	"io"

	"github.com/pkg/errors"

	"github.com/aalhour/rockyardtxn/internal/checksum"
	"github.com/aalhour/rockyardtxn/internal/encoding"
)

// Writer writes records to a WAL file.
//
// Writer is not safe for concurrent use; the DB serializes appends under its
// write mutex.
type Writer struct {
	dest        io.Writer
	blockOffset int // Current offset within the current block

	// Reusable header buffer
	headerBuf [HeaderSize]byte
}

// NewWriter creates a new WAL writer that writes to dest. blockOffset is the
// position within the current block, which is non-zero when reopening an
// existing log for append.
func NewWriter(dest io.Writer, blockOffset int) *Writer {
	return &Writer{
		dest:        dest,
		blockOffset: blockOffset % BlockSize,
	}
}

// AddRecord writes a complete logical record to the log.
// The record may be split into multiple physical records if it doesn't fit
// in the current block.
//
// Returns the number of bytes written (including headers) and any error.
func (w *Writer) AddRecord(data []byte) (int, error) {
	ptr := data
	left := len(data)
	totalWritten := 0
	begin := true

	// Even if data is empty, we emit a single zero-length record.
	for {
		leftover := BlockSize - w.blockOffset

		// Not enough space for a header: pad and move to the next block.
		if leftover < HeaderSize {
			if leftover > 0 {
				padding := make([]byte, leftover)
				n, err := w.dest.Write(padding)
				totalWritten += n
				if err != nil {
					return totalWritten, errors.Wrap(err, "wal: write padding")
				}
			}
			w.blockOffset = 0
		}

		// Invariant: we never leave < HeaderSize bytes in a block
		avail := BlockSize - w.blockOffset - HeaderSize
		fragmentLength := min(left, avail)

		end := left == fragmentLength
		var recordType RecordType
		switch {
		case begin && end:
			recordType = FullType
		case begin:
			recordType = FirstType
		case end:
			recordType = LastType
		default:
			recordType = MiddleType
		}

		n, err := w.emitPhysicalRecord(recordType, ptr[:fragmentLength])
		totalWritten += n
		if err != nil {
			return totalWritten, err
		}

		ptr = ptr[fragmentLength:]
		left -= fragmentLength
		begin = false

		if left == 0 {
			break
		}
	}

	return totalWritten, nil
}

// emitPhysicalRecord writes a single physical record.
func (w *Writer) emitPhysicalRecord(t RecordType, payload []byte) (int, error) {
	n := len(payload)
	if n > 0xFFFF {
		panic("wal: record payload too large") //nolint:forbidigo // precondition violation
	}

	w.headerBuf[4] = byte(n & 0xFF)
	w.headerBuf[5] = byte(n >> 8)
	w.headerBuf[6] = byte(t)
	encoding.EncodeFixed32(w.headerBuf[:4], checksum.RecordChecksum(byte(t), payload))

	totalWritten := 0
	written, err := w.dest.Write(w.headerBuf[:])
	totalWritten += written
	if err != nil {
		return totalWritten, errors.Wrap(err, "wal: write header")
	}

	written, err = w.dest.Write(payload)
	totalWritten += written
	if err != nil {
		return totalWritten, errors.Wrap(err, "wal: write payload")
	}

	w.blockOffset += HeaderSize + n
	return totalWritten, nil
}

// BlockOffset returns the current offset within the current block.
func (w *Writer) BlockOffset() int {
	return w.blockOffset
}

// Sync flushes the underlying writer if it supports it.
func (w *Writer) Sync() error {
	if syncer, ok := w.dest.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			return errors.Wrap(err, "wal: sync")
		}
	}
	return nil
}
