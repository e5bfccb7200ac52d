package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	inputs := map[string][]byte{
		"empty":      {},
		"short":      []byte("x"),
		"repetitive": bytes.Repeat([]byte("hello world "), 200),
		"binary":     {0x00, 0xff, 0x10, 0x00, 0x00, 0x7f},
	}

	for _, typ := range []Type{NoCompression, SnappyCompression, LZ4Compression, ZstdCompression} {
		for name, data := range inputs {
			t.Run(typ.String()+"/"+name, func(t *testing.T) {
				compressed, err := Compress(typ, data)
				require.NoError(t, err)

				got, err := Decompress(typ, compressed)
				require.NoError(t, err)
				require.Equal(t, len(data), len(got))
				if len(data) > 0 {
					require.Equal(t, data, got)
				}
			})
		}
	}
}

func TestCompressionShrinksRepetitiveData(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 1024)
	for _, typ := range []Type{SnappyCompression, LZ4Compression, ZstdCompression} {
		compressed, err := Compress(typ, data)
		require.NoError(t, err)
		require.Less(t, len(compressed), len(data), typ.String())
	}
}

func TestUnsupportedType(t *testing.T) {
	_, err := Compress(Type(0x3), []byte("data"))
	require.Error(t, err)
	_, err = Decompress(Type(0x3), []byte("data"))
	require.Error(t, err)
	require.False(t, Type(0x3).IsSupported())
	require.True(t, ZstdCompression.IsSupported())
}

func TestParse(t *testing.T) {
	cases := map[string]Type{
		"none":   NoCompression,
		"":       NoCompression,
		"Snappy": SnappyCompression,
		"lz4":    LZ4Compression,
		" zstd ": ZstdCompression,
	}
	for in, want := range cases {
		got, err := Parse(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := Parse("brotli")
	require.Error(t, err)
}

func TestSnappyRejectsGarbage(t *testing.T) {
	_, err := Decompress(SnappyCompression, []byte{0xff, 0xff, 0xff, 0xff, 0xff})
	require.Error(t, err)
}
