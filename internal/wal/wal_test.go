package wal

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aalhour/rockyardtxn/internal/compression"
)

type corruptionCounter struct {
	errs []error
}

func (c *corruptionCounter) Corruption(_ int, err error) {
	c.errs = append(c.errs, err)
}

func readAll(t *testing.T, r *Reader) [][]byte {
	t.Helper()
	var out [][]byte
	for {
		rec, err := r.ReadRecord()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestRecordTypeString(t *testing.T) {
	require.Equal(t, "FullType", FullType.String())
	require.Equal(t, "LastType", LastType.String())
	require.Equal(t, "UnknownType", RecordType(99).String())
}

func TestWriteReadSmallRecords(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)
	records := []string{"", "a", "hello", strings.Repeat("x", 1000)}
	for _, r := range records {
		_, err := w.AddRecord([]byte(r))
		require.NoError(t, err)
	}

	got := readAll(t, NewReader(bytes.NewReader(buf.Bytes()), nil, true))
	require.Len(t, got, len(records))
	for i, r := range records {
		require.Equal(t, r, string(got[i]))
	}
}

func TestWriteReadFragmentedRecord(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)
	big := bytes.Repeat([]byte("0123456789"), 10000) // spans several blocks
	_, err := w.AddRecord([]byte("before"))
	require.NoError(t, err)
	_, err = w.AddRecord(big)
	require.NoError(t, err)
	_, err = w.AddRecord([]byte("after"))
	require.NoError(t, err)

	got := readAll(t, NewReader(bytes.NewReader(buf.Bytes()), nil, true))
	require.Len(t, got, 3)
	require.Equal(t, big, got[1])
	require.Equal(t, "after", string(got[2]))
}

func TestBlockTrailerPadding(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)
	// Leave fewer than HeaderSize bytes in the first block.
	first := make([]byte, BlockSize-HeaderSize-3)
	_, err := w.AddRecord(first)
	require.NoError(t, err)
	_, err = w.AddRecord([]byte("next"))
	require.NoError(t, err)
	require.Equal(t, HeaderSize+4, w.BlockOffset())

	got := readAll(t, NewReader(bytes.NewReader(buf.Bytes()), nil, true))
	require.Len(t, got, 2)
	require.Equal(t, "next", string(got[1]))
}

func TestChecksumMismatchIsReported(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)
	_, err := w.AddRecord([]byte("first"))
	require.NoError(t, err)
	_, err = w.AddRecord([]byte("second"))
	require.NoError(t, err)

	data := buf.Bytes()
	data[HeaderSize] ^= 0xff // flip a payload byte of the first record

	rep := &corruptionCounter{}
	got := readAll(t, NewReader(bytes.NewReader(data), rep, true))
	require.Len(t, got, 1)
	require.Equal(t, "second", string(got[0]))
	require.Len(t, rep.errs, 1)
	require.ErrorIs(t, rep.errs[0], ErrCorruptedRecord)

	// Without verification the flipped record is returned as-is.
	got = readAll(t, NewReader(bytes.NewReader(data), nil, false))
	require.Len(t, got, 2)
}

func TestTornTailIsEndOfLog(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)
	_, err := w.AddRecord([]byte("complete"))
	require.NoError(t, err)
	_, err = w.AddRecord([]byte("torn-record-payload"))
	require.NoError(t, err)

	data := buf.Bytes()[:buf.Len()-5]
	got := readAll(t, NewReader(bytes.NewReader(data), nil, true))
	require.Len(t, got, 1)
	require.Equal(t, "complete", string(got[0]))
}

type syncBuffer struct {
	bytes.Buffer
	synced bool
	err    error
}

func (s *syncBuffer) Sync() error {
	s.synced = true
	return s.err
}

func TestWriterSync(t *testing.T) {
	var plain bytes.Buffer
	require.NoError(t, NewWriter(&plain, 0).Sync())

	sb := &syncBuffer{}
	require.NoError(t, NewWriter(sb, 0).Sync())
	require.True(t, sb.synced)

	sb.err = errors.New("disk gone")
	err := NewWriter(sb, 0).Sync()
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk gone")
}

func TestEnvelopeRoundTrip(t *testing.T) {
	body := bytes.Repeat([]byte("batch-body"), 50)
	for _, ct := range []compression.Type{
		compression.NoCompression,
		compression.SnappyCompression,
		compression.LZ4Compression,
		compression.ZstdCompression,
	} {
		rec, err := EncodeRecord(KindBatch, ct, body)
		require.NoError(t, err)
		kind, got, err := DecodeRecord(rec)
		require.NoError(t, err, ct.String())
		require.Equal(t, KindBatch, kind)
		require.Equal(t, body, got)
	}
}

func TestAppendRecordKeepsPrefix(t *testing.T) {
	dst := make([]byte, 0, 64)
	dst = append(dst, "xx"...)
	rec, err := AppendRecord(dst, KindBatch, compression.SnappyCompression, []byte("body"))
	require.NoError(t, err)
	require.Equal(t, "xx", string(rec[:2]))

	kind, got, err := DecodeRecord(rec[2:])
	require.NoError(t, err)
	require.Equal(t, KindBatch, kind)
	require.Equal(t, "body", string(got))
}

func TestEnvelopeRejectsGarbage(t *testing.T) {
	_, _, err := DecodeRecord([]byte{1})
	require.ErrorIs(t, err, ErrBadEnvelope)
	_, _, err = DecodeRecord([]byte{9, 0, 1})
	require.ErrorIs(t, err, ErrBadEnvelope)
	_, _, err = DecodeRecord([]byte{1, 3, 1})
	require.ErrorIs(t, err, ErrBadEnvelope)
}

func TestColumnFamilyBody(t *testing.T) {
	body := EncodeColumnFamily(7, "users")
	id, name, err := DecodeColumnFamily(body)
	require.NoError(t, err)
	require.Equal(t, uint32(7), id)
	require.Equal(t, "users", name)

	_, _, err = DecodeColumnFamily(body[:2])
	require.ErrorIs(t, err, ErrBadEnvelope)
}
