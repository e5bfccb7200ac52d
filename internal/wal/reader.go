// reader.go implements WAL log file reading.
//
// Reader reads records from a log file, reassembling fragmented records that
// span block boundaries.
package wal

import (
	"errors"
	"io"

	"github.com/aalhour/rockyardtxn/internal/checksum"
	"github.com/aalhour/rockyardtxn/internal/encoding"
)

var (
	// ErrCorruptedRecord indicates a record with an invalid checksum.
	ErrCorruptedRecord = errors.New("wal: corrupted record (bad checksum)")

	// ErrShortRecord indicates a record that is shorter than expected.
	ErrShortRecord = errors.New("wal: short record")

	// ErrInvalidRecordType indicates an unrecognized record type.
	ErrInvalidRecordType = errors.New("wal: invalid record type")

	// ErrUnexpectedEOF indicates a fragmented record cut off by end of file.
	ErrUnexpectedEOF = errors.New("wal: unexpected end of file")

	// ErrUnexpectedMiddleRecord indicates a middle record without a first record.
	ErrUnexpectedMiddleRecord = errors.New("wal: unexpected middle record")

	// ErrUnexpectedLastRecord indicates a last record without a first record.
	ErrUnexpectedLastRecord = errors.New("wal: unexpected last record")

	// ErrUnexpectedFirstRecord indicates a first record while already in a fragmented record.
	ErrUnexpectedFirstRecord = errors.New("wal: unexpected first record")
)

// Reporter is called when corruption is detected.
type Reporter interface {
	Corruption(bytes int, err error)
}

// Reader reads records from a WAL file.
type Reader struct {
	src          io.Reader
	reporter     Reporter
	checksum     bool
	backingStore []byte // Buffer for reading blocks
	buffer       []byte // Current unconsumed data in backingStore
	eof          bool

	fragments          []byte
	inFragmentedRecord bool
}

// NewReader creates a new WAL reader. reporter may be nil.
func NewReader(src io.Reader, reporter Reporter, verifyChecksum bool) *Reader {
	return &Reader{
		src:          src,
		reporter:     reporter,
		checksum:     verifyChecksum,
		backingStore: make([]byte, BlockSize),
	}
}

// ReadRecord reads the next logical record from the log.
// Returns nil and io.EOF when no more records are available.
//
// The returned slice is owned by the caller.
func (r *Reader) ReadRecord() ([]byte, error) {
	r.fragments = r.fragments[:0]
	r.inFragmentedRecord = false

	for {
		recordType, fragment, err := r.readPhysicalRecord()
		if err != nil {
			if errors.Is(err, io.EOF) && r.inFragmentedRecord {
				r.reportCorruption(len(r.fragments), ErrUnexpectedEOF)
				return nil, ErrUnexpectedEOF
			}
			return nil, err
		}

		switch recordType {
		case FullType:
			if r.inFragmentedRecord {
				r.reportCorruption(len(r.fragments), ErrUnexpectedFirstRecord)
			}
			return fragment, nil

		case FirstType:
			if r.inFragmentedRecord {
				r.reportCorruption(len(r.fragments), ErrUnexpectedFirstRecord)
			}
			r.fragments = append(r.fragments[:0], fragment...)
			r.inFragmentedRecord = true

		case MiddleType:
			if !r.inFragmentedRecord {
				r.reportCorruption(len(fragment), ErrUnexpectedMiddleRecord)
				continue
			}
			r.fragments = append(r.fragments, fragment...)

		case LastType:
			if !r.inFragmentedRecord {
				r.reportCorruption(len(fragment), ErrUnexpectedLastRecord)
				continue
			}
			r.fragments = append(r.fragments, fragment...)
			r.inFragmentedRecord = false
			result := make([]byte, len(r.fragments))
			copy(result, r.fragments)
			return result, nil

		default:
			r.reportCorruption(len(fragment), ErrInvalidRecordType)
		}
	}
}

// readPhysicalRecord reads a single physical record from the log.
func (r *Reader) readPhysicalRecord() (RecordType, []byte, error) {
	for {
		if len(r.buffer) < HeaderSize {
			if r.eof {
				return 0, nil, io.EOF
			}

			n, err := io.ReadFull(r.src, r.backingStore)
			if err != nil {
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					r.eof = true
					if n == 0 {
						return 0, nil, io.EOF
					}
				} else {
					return 0, nil, err
				}
			}
			r.buffer = r.backingStore[:n]
			continue
		}

		header := r.buffer[:HeaderSize]
		crcStored := encoding.DecodeFixed32(header[0:4])
		length := int(encoding.DecodeFixed16(header[4:6]))
		recordType := RecordType(header[6])

		if len(r.buffer) < HeaderSize+length {
			// A torn tail write leaves a truncated record at the end of the
			// file. Treat it as end of log.
			if r.eof {
				r.buffer = nil
				return 0, nil, io.EOF
			}
			r.reportCorruption(len(r.buffer), ErrShortRecord)
			r.buffer = nil
			continue
		}

		// Block trailer padding.
		if recordType == ZeroType && length == 0 {
			r.buffer = nil
			continue
		}

		payload := r.buffer[HeaderSize : HeaderSize+length]
		r.buffer = r.buffer[HeaderSize+length:]

		if r.checksum && checksum.RecordChecksum(byte(recordType), payload) != crcStored {
			r.reportCorruption(HeaderSize+length, ErrCorruptedRecord)
			continue
		}

		result := make([]byte, len(payload))
		copy(result, payload)
		return recordType, result, nil
	}
}

func (r *Reader) reportCorruption(bytes int, err error) {
	if r.reporter != nil {
		r.reporter.Corruption(bytes, err)
	}
}
