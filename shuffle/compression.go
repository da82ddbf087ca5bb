package shuffle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec is the compression applied to shuffle blocks.
type Codec uint8

const (
	// CodecNone stores blocks uncompressed.
	CodecNone Codec = 0
	// CodecLZ4 uses LZ4 block compression (fast).
	CodecLZ4 Codec = 1
	// CodecZSTD uses ZSTD (better ratio).
	CodecZSTD Codec = 2
)

// ParseCodec parses none, lz4 or zstd.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZSTD, nil
	default:
		return CodecNone, fmt.Errorf("unknown shuffle codec %q", s)
	}
}

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

var errCorruptBlock = errors.New("shuffle: corrupt block")

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Block layout: [uncompressed uint32][compressed uint32][data].
// A compressed size of 0 means the data is stored as is.
const blockHeaderSize = 8

// encodeBlock frames data as one block, compressed when that saves at
// least 10%.
func encodeBlock(data []byte, codec Codec) ([]byte, error) {
	var compressed []byte

	switch codec {
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case CodecZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		out := make([]byte, blockHeaderSize+len(data))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		copy(out[blockHeaderSize:], data)
		return out, nil
	}

	out := make([]byte, blockHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[blockHeaderSize:], compressed)
	return out, nil
}

// readBlock reads and decodes the next block from r. It returns io.EOF at a
// clean block boundary.
func readBlock(r io.Reader, codec Codec) ([]byte, error) {
	var hdr [blockHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errCorruptBlock
		}
		return nil, err
	}

	size := binary.LittleEndian.Uint32(hdr[0:])
	csize := binary.LittleEndian.Uint32(hdr[4:])

	if csize == 0 {
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, errCorruptBlock
		}
		return data, nil
	}

	compressed := make([]byte, csize)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, errCorruptBlock
	}

	out := make([]byte, size)
	switch codec {
	case CodecLZ4:
		n, err := lz4.UncompressBlock(compressed, out)
		if err != nil {
			return nil, err
		}
		if uint32(n) != size {
			return nil, errors.New("shuffle: decompressed size mismatch")
		}
		return out, nil
	case CodecZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)

		decoded, err := dec.DecodeAll(compressed, out[:0])
		if err != nil {
			return nil, err
		}
		if uint32(len(decoded)) != size {
			return nil, errors.New("shuffle: decompressed size mismatch")
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("%w: compressed block with codec %s", errCorruptBlock, codec)
	}
}

// blockWriter frames everything written to it into blocks of blockSize
// uncompressed bytes.
type blockWriter struct {
	w         io.Writer
	codec     Codec
	blockSize int
	buf       []byte
	written   int64

	encodeTime time.Duration
}

func newBlockWriter(w io.Writer, codec Codec, blockSize int) *blockWriter {
	if blockSize <= 0 {
		blockSize = 256 * 1024
	}
	return &blockWriter{
		w:         w,
		codec:     codec,
		blockSize: blockSize,
		buf:       make([]byte, 0, blockSize),
	}
}

func (b *blockWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if len(b.buf) == b.blockSize {
			if err := b.Flush(); err != nil {
				return total, err
			}
		}
		n := min(len(p), b.blockSize-len(b.buf))
		b.buf = append(b.buf, p[:n]...)
		total += n
		p = p[n:]
	}
	return total, nil
}

// Flush writes the pending block, if any.
func (b *blockWriter) Flush() error {
	if len(b.buf) == 0 {
		return nil
	}
	start := time.Now()
	block, err := encodeBlock(b.buf, b.codec)
	b.encodeTime += time.Since(start)
	if err != nil {
		return err
	}
	n, err := b.w.Write(block)
	b.written += int64(n)
	if err != nil {
		return err
	}
	b.buf = b.buf[:0]
	return nil
}
