// record.go implements the logical record envelope.
//
// Envelope Format:
//
//	+----------+-----------------+------------------------+
//	| Kind(1B) | Compression(1B) | Body (maybe compressed) |
//	+----------+-----------------+------------------------+
//
// Batch bodies are a serialized write batch. Column family bodies are a
// varint32 ID followed by a length-prefixed name.
package wal

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/aalhour/rockyardtxn/internal/compression"
	"github.com/aalhour/rockyardtxn/internal/encoding"
)

// Kind identifies what a logical record holds.
type Kind uint8

const (
	// KindBatch holds a serialized write batch with its sequence number.
	KindBatch Kind = 1
	// KindCreateColumnFamily records a column family creation.
	KindCreateColumnFamily Kind = 2
	// KindDropColumnFamily records a column family drop.
	KindDropColumnFamily Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindBatch:
		return "Batch"
	case KindCreateColumnFamily:
		return "CreateColumnFamily"
	case KindDropColumnFamily:
		return "DropColumnFamily"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// ErrBadEnvelope indicates a logical record that cannot be decoded.
var ErrBadEnvelope = errors.New("wal: bad record envelope")

// EncodeRecord wraps body in an envelope, compressing it with ctype.
func EncodeRecord(kind Kind, ctype compression.Type, body []byte) ([]byte, error) {
	return AppendRecord(nil, kind, ctype, body)
}

// AppendRecord appends the envelope of body to dst.
func AppendRecord(dst []byte, kind Kind, ctype compression.Type, body []byte) ([]byte, error) {
	compressed, err := compression.Compress(ctype, body)
	if err != nil {
		return dst, errors.Wrapf(err, "wal: compress %s record", kind)
	}
	dst = append(dst, byte(kind), byte(ctype))
	return append(dst, compressed...), nil
}

// DecodeRecord unwraps an envelope produced by EncodeRecord.
func DecodeRecord(data []byte) (Kind, []byte, error) {
	if len(data) < 2 {
		return 0, nil, ErrBadEnvelope
	}
	kind := Kind(data[0])
	if kind < KindBatch || kind > KindDropColumnFamily {
		return 0, nil, errors.Wrapf(ErrBadEnvelope, "unknown kind %d", data[0])
	}
	ctype := compression.Type(data[1])
	if !ctype.IsSupported() {
		return 0, nil, errors.Wrapf(ErrBadEnvelope, "unknown compression %d", data[1])
	}
	body, err := compression.Decompress(ctype, data[2:])
	if err != nil {
		return 0, nil, errors.Wrap(ErrBadEnvelope, err.Error())
	}
	return kind, body, nil
}

// EncodeColumnFamily encodes a column family change body.
func EncodeColumnFamily(id uint32, name string) []byte {
	buf := encoding.AppendVarint32(nil, id)
	return encoding.AppendLengthPrefixedSlice(buf, []byte(name))
}

// DecodeColumnFamily decodes a body produced by EncodeColumnFamily.
func DecodeColumnFamily(body []byte) (uint32, string, error) {
	id, n, err := encoding.DecodeVarint32(body)
	if err != nil {
		return 0, "", errors.Wrap(ErrBadEnvelope, err.Error())
	}
	name, _, err := encoding.DecodeLengthPrefixedSlice(body[n:])
	if err != nil {
		return 0, "", errors.Wrap(ErrBadEnvelope, err.Error())
	}
	return id, string(name), nil
}
