package shuffle

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCodec(t *testing.T) {
	tests := map[string]Codec{
		"":     CodecNone,
		"none": CodecNone,
		"LZ4":  CodecLZ4,
		"zstd": CodecZSTD,
	}
	for in, want := range tests {
		got, err := ParseCodec(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseCodec("snappy")
	assert.Error(t, err)

	assert.Equal(t, "zstd", CodecZSTD.String())
	assert.Equal(t, "codec(9)", Codec(9).String())
}

func TestBlock_RoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("hello shuffle! "), 1000)

	for _, codec := range []Codec{CodecNone, CodecLZ4, CodecZSTD} {
		t.Run(codec.String(), func(t *testing.T) {
			block, err := encodeBlock(data, codec)
			require.NoError(t, err)
			if codec != CodecNone {
				assert.Less(t, len(block), len(data)/2)
			}

			got, err := readBlock(bytes.NewReader(block), codec)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestBlock_Incompressible(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i * 17 % 256)
	}

	block, err := encodeBlock(data, CodecLZ4)
	require.NoError(t, err)

	got, err := readBlock(bytes.NewReader(block), CodecLZ4)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestBlock_Corrupt(t *testing.T) {
	block, err := encodeBlock(bytes.Repeat([]byte("x"), 100), CodecZSTD)
	require.NoError(t, err)

	_, err = readBlock(bytes.NewReader(block[:len(block)-1]), CodecZSTD)
	assert.ErrorIs(t, err, errCorruptBlock)

	_, err = readBlock(bytes.NewReader(block[:3]), CodecZSTD)
	assert.ErrorIs(t, err, errCorruptBlock)

	_, err = readBlock(bytes.NewReader(nil), CodecZSTD)
	assert.ErrorIs(t, err, io.EOF)
}

func TestBlockWriter(t *testing.T) {
	var buf bytes.Buffer
	w := newBlockWriter(&buf, CodecLZ4, 1024)

	data := bytes.Repeat([]byte("test data for compression "), 100)
	n, err := w.Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	require.NoError(t, w.Flush())
	require.NoError(t, w.Flush())
	assert.Equal(t, int64(buf.Len()), w.written)

	var got []byte
	r := bytes.NewReader(buf.Bytes())
	blocks := 0
	for {
		block, err := readBlock(r, CodecLZ4)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.LessOrEqual(t, len(block), 1024)
		got = append(got, block...)
		blocks++
	}
	assert.Equal(t, data, got)
	assert.Equal(t, 3, blocks)
}
