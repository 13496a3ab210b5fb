package render

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrUnknownCompression is returned for unrecognized compression names.
var ErrUnknownCompression = errors.New("unknown compression")

// Compression names a payload compression algorithm.
type Compression string

const (
	// CompressionNone sends bytes as-is.
	CompressionNone Compression = "none"

	// CompressionLZ4 is LZ4 block compression.
	CompressionLZ4 Compression = "lz4"

	// CompressionZstd is zstd at the default level.
	CompressionZstd Compression = "zstd"

	// CompressionBG4LZ4 groups the bytes of 4-byte elements by position
	// before LZ4. Neighbouring float32 values tend to share exponent bytes,
	// which then compress well.
	CompressionBG4LZ4 Compression = "bg4_lz4"
)

// ParseCompression validates a compression name.
func ParseCompression(name string) (Compression, error) {
	switch c := Compression(name); c {
	case CompressionNone, CompressionLZ4, CompressionZstd, CompressionBG4LZ4:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCompression, name)
}

// Payload is a possibly compressed byte buffer.
type Payload struct {
	Compression Compression `cbor:"compression"`
	Size        int         `cbor:"size"`
	Data        []byte      `cbor:"data"`
}

var errIncompressible = errors.New("data is incompressible")

// Compress packs data with c. elemSize is the element width; byte grouping
// only applies to 4-byte elements and degrades to plain LZ4 otherwise.
// Data that does not shrink is sent uncompressed.
func Compress(data []byte, c Compression, elemSize int) (Payload, error) {
	if c == CompressionBG4LZ4 && elemSize != 4 {
		c = CompressionLZ4
	}

	var out []byte
	var err error
	switch c {
	case CompressionNone:
		out = data
	case CompressionLZ4:
		out, err = compressLZ4(data)
	case CompressionZstd:
		out, err = compressZstd(data)
	case CompressionBG4LZ4:
		out, err = compressLZ4(bg4Transpose(data))
	default:
		return Payload{}, fmt.Errorf("%w: %q", ErrUnknownCompression, c)
	}

	if errors.Is(err, errIncompressible) {
		return Payload{Compression: CompressionNone, Size: len(data), Data: data}, nil
	}
	if err != nil {
		return Payload{}, err
	}
	return Payload{Compression: c, Size: len(data), Data: out}, nil
}

// Decompress returns the original bytes of p.
func Decompress(p Payload) ([]byte, error) {
	switch p.Compression {
	case CompressionNone, "":
		if len(p.Data) != p.Size {
			return nil, fmt.Errorf("uncompressed payload: size %d does not match expected %d", len(p.Data), p.Size)
		}
		return p.Data, nil
	case CompressionLZ4:
		return decompressLZ4(p.Data, p.Size)
	case CompressionZstd:
		return decompressZstd(p.Data, p.Size)
	case CompressionBG4LZ4:
		grouped, err := decompressLZ4(p.Data, p.Size)
		if err != nil {
			return nil, err
		}
		return bg4Untranspose(grouped), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, p.Compression)
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(data) {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(compressed, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if n != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, size)
	}
	return dst, nil
}

// zstd encoders and decoders are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("render: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("render: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	out := zstdEncoder.EncodeAll(data, nil)
	if len(out) >= len(data) {
		return nil, errIncompressible
	}
	return out, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(out) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
	}
	return out, nil
}

// bg4Transpose writes all byte-0s of each 4-byte group first, then all
// byte-1s, and so on. Trailing bytes are copied unchanged.
func bg4Transpose(data []byte) []byte {
	groups := len(data) / 4
	out := make([]byte, len(data))
	for i := 0; i < groups; i++ {
		out[i] = data[i*4]
		out[groups+i] = data[i*4+1]
		out[groups*2+i] = data[i*4+2]
		out[groups*3+i] = data[i*4+3]
	}
	copy(out[groups*4:], data[groups*4:])
	return out
}

func bg4Untranspose(data []byte) []byte {
	groups := len(data) / 4
	out := make([]byte, len(data))
	for i := 0; i < groups; i++ {
		out[i*4] = data[i]
		out[i*4+1] = data[groups+i]
		out[i*4+2] = data[groups*2+i]
		out[i*4+3] = data[groups*3+i]
	}
	copy(out[groups*4:], data[groups*4:])
	return out
}
