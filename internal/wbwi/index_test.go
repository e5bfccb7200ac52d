package wbwi

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aalhour/rockyardtxn/internal/batch"
)

func TestPutDeleteOverwrite(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Put(0, []byte("k"), []byte("v1")))
	require.NoError(t, idx.Put(0, []byte("k"), []byte("v2")))

	e, ok, err := idx.Get(0, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, BaseValue, e.Base)
	require.Equal(t, "v2", string(e.Value))

	require.NoError(t, idx.Delete(0, []byte("k")))
	e, ok, err = idx.Get(0, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, BaseDeleted, e.Base)

	_, ok, err = idx.Get(0, []byte("missing"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMergeStacksOperands(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Merge(0, []byte("m"), []byte("a")))
	require.NoError(t, idx.Merge(0, []byte("m"), []byte("b")))

	e, ok, err := idx.Get(0, []byte("m"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, BaseNone, e.Base)
	require.Equal(t, [][]byte{[]byte("a"), []byte("b")}, e.Operands)

	require.NoError(t, idx.Put(0, []byte("p"), []byte("base")))
	require.NoError(t, idx.Merge(0, []byte("p"), []byte("x")))
	e, _, err = idx.Get(0, []byte("p"))
	require.NoError(t, err)
	require.Equal(t, BaseValue, e.Base)
	require.Equal(t, "base", string(e.Value))
	require.Equal(t, [][]byte{[]byte("x")}, e.Operands)

	// A Put after merges discards the operands.
	require.NoError(t, idx.Put(0, []byte("p"), []byte("fresh")))
	e, _, err = idx.Get(0, []byte("p"))
	require.NoError(t, err)
	require.Empty(t, e.Operands)
}

func TestColumnFamiliesAreSeparate(t *testing.T) {
	idx := New()
	require.NoError(t, idx.Put(1, []byte("k"), []byte("cf1")))
	require.NoError(t, idx.Put(2, []byte("k"), []byte("cf2")))

	e, _, err := idx.Get(1, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, "cf1", string(e.Value))
	_, ok, err := idx.Get(0, []byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 2, idx.Len())

	first, ok := idx.First(2)
	require.True(t, ok)
	require.Equal(t, "k", string(first))
	_, ok = idx.First(3)
	require.False(t, ok)
}

func TestCeilFloor(t *testing.T) {
	idx := New()
	for _, k := range []string{"b", "d", "f"} {
		require.NoError(t, idx.Put(5, []byte(k), nil))
	}
	require.NoError(t, idx.Put(4, []byte("a"), nil))
	require.NoError(t, idx.Put(6, []byte("z"), nil))

	str := func(k []byte, ok bool) string {
		if !ok {
			return "<none>"
		}
		return string(k)
	}

	require.Equal(t, "b", str(idx.Ceil(5, []byte("a"), false)))
	require.Equal(t, "d", str(idx.Ceil(5, []byte("d"), false)))
	require.Equal(t, "f", str(idx.Ceil(5, []byte("d"), true)))
	require.Equal(t, "<none>", str(idx.Ceil(5, []byte("f"), true)))

	require.Equal(t, "f", str(idx.Floor(5, []byte("y"), false)))
	require.Equal(t, "d", str(idx.Floor(5, []byte("d"), false)))
	require.Equal(t, "d", str(idx.Floor(5, []byte("e"), false)))
	require.Equal(t, "b", str(idx.Floor(5, []byte("d"), true)))
	require.Equal(t, "<none>", str(idx.Floor(5, []byte("b"), true)))

	require.Equal(t, "b", str(idx.First(5)))
	require.Equal(t, "f", str(idx.Last(5)))
}

func TestRebuildFromBatch(t *testing.T) {
	wb := batch.New()
	wb.Put(0, []byte("a"), []byte("1"))
	wb.SetSavePoint()
	wb.Put(0, []byte("b"), []byte("2"))
	wb.Merge(0, []byte("a"), []byte("+"))

	idx, err := Build(wb)
	require.NoError(t, err)
	require.Equal(t, 2, idx.Len())
	e, _, err := idx.Get(0, []byte("a"))
	require.NoError(t, err)
	require.Len(t, e.Operands, 1)

	_, err = wb.RollbackToSavePoint()
	require.NoError(t, err)
	require.NoError(t, idx.Rebuild(wb))
	require.Equal(t, 1, idx.Len())
	e, _, err = idx.Get(0, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(e.Value))
	require.Empty(t, e.Operands)

	idx.Reset()
	require.Equal(t, 0, idx.Len())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := decodeEntry([]byte{9, 0})
	require.ErrorIs(t, err, ErrCorruptEntry)
	_, err = decodeEntry([]byte{byte(BaseValue), 0, 5, 'a'})
	require.ErrorIs(t, err, ErrCorruptEntry)
	_, err = decodeEntry(nil)
	require.ErrorIs(t, err, ErrCorruptEntry)
}
