// Package decode converts raw little-endian element buffers to numeric
// values and back.
package decode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/x448/float16"

	"github.com/dshills/debugmate/internal/model"
)

// ErrSizeMismatch is returned when a buffer does not match its layout.
var ErrSizeMismatch = errors.New("buffer size does not match layout")

// Decode converts data into one float64 per scalar.
func Decode(data []byte, layout model.Layout) ([]float64, error) {
	if !layout.Depth.Valid() {
		return nil, fmt.Errorf("decode: invalid depth %d", layout.Depth)
	}
	if len(data) != layout.ByteSize() {
		return nil, fmt.Errorf("decode %d bytes as %d x %s[%d]: %w",
			len(data), layout.Count, layout.Depth, layout.Channels, ErrSizeMismatch)
	}

	size := layout.Depth.Size()
	out := make([]float64, layout.Scalars())
	for i := range out {
		out[i] = scalar(data[i*size:], layout.Depth)
	}
	return out, nil
}

func scalar(b []byte, d model.Depth) float64 {
	le := binary.LittleEndian
	switch d {
	case model.U8:
		return float64(b[0])
	case model.S8:
		return float64(int8(b[0]))
	case model.U16:
		return float64(le.Uint16(b))
	case model.S16:
		return float64(int16(le.Uint16(b)))
	case model.S32:
		return float64(int32(le.Uint32(b)))
	case model.F32:
		return float64(math.Float32frombits(le.Uint32(b)))
	case model.F64:
		return math.Float64frombits(le.Uint64(b))
	case model.F16:
		return float64(float16.Frombits(le.Uint16(b)).Float32())
	}
	return 0
}

// Encode converts values to little-endian scalars of depth. Integer depths
// round and saturate the way OpenCV's saturate_cast does.
func Encode(values []float64, depth model.Depth) ([]byte, error) {
	if !depth.Valid() {
		return nil, fmt.Errorf("encode: invalid depth %d", depth)
	}

	size := depth.Size()
	out := make([]byte, len(values)*size)
	le := binary.LittleEndian
	for i, v := range values {
		b := out[i*size:]
		switch depth {
		case model.U8:
			b[0] = uint8(saturate(v, 0, math.MaxUint8))
		case model.S8:
			b[0] = uint8(int8(saturate(v, math.MinInt8, math.MaxInt8)))
		case model.U16:
			le.PutUint16(b, uint16(saturate(v, 0, math.MaxUint16)))
		case model.S16:
			le.PutUint16(b, uint16(int16(saturate(v, math.MinInt16, math.MaxInt16))))
		case model.S32:
			le.PutUint32(b, uint32(int32(saturate(v, math.MinInt32, math.MaxInt32))))
		case model.F32:
			le.PutUint32(b, math.Float32bits(float32(v)))
		case model.F64:
			le.PutUint64(b, math.Float64bits(v))
		case model.F16:
			le.PutUint16(b, float16.Fromfloat32(float32(v)).Bits())
		}
	}
	return out, nil
}

func saturate(v, lo, hi float64) int64 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.RoundToEven(v)
	if v < lo {
		return int64(lo)
	}
	if v > hi {
		return int64(hi)
	}
	return int64(v)
}

// ParseValue parses one scalar as printed by a debugger. GDB prints chars
// with their glyph ("65 'A'"), MSVC may append a hex form, and non-finite
// floats come out as inf, nan or -nan(0x8000000000000).
func ParseValue(s string, depth model.Depth) (float64, error) {
	v := strings.TrimSpace(s)
	if i := strings.IndexAny(v, " '{"); i > 0 {
		v = v[:i]
	}
	lower := strings.ToLower(v)

	switch {
	case strings.HasPrefix(lower, "-nan"), strings.HasPrefix(lower, "nan"), strings.HasPrefix(lower, "1.#qnan"):
		return math.NaN(), nil
	case lower == "inf", lower == "+inf", lower == "1.#inf":
		return math.Inf(1), nil
	case lower == "-inf", lower == "-1.#inf":
		return math.Inf(-1), nil
	}

	if depth.IsFloat() && depth != model.F16 {
		return strconv.ParseFloat(strings.TrimSuffix(lower, "f"), 64)
	}
	if strings.HasPrefix(lower, "0x") {
		n, err := strconv.ParseUint(lower[2:], 16, 64)
		return float64(n), err
	}
	n, err := strconv.ParseInt(lower, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(lower, 64)
		if ferr != nil {
			return 0, fmt.Errorf("parse %q: %w", s, err)
		}
		return f, nil
	}
	if depth == model.F16 {
		// Half floats are read through their unsigned short bit pattern.
		return float64(float16.Frombits(uint16(n)).Float32()), nil
	}
	return float64(n), nil
}

// Point3 is one decoded 3-D point.
type Point3 struct {
	X, Y, Z float64
}

// Points groups decoded scalars into points. Trailing scalars that do not
// form a full point are ignored.
func Points(values []float64) []Point3 {
	pts := make([]Point3, len(values)/3)
	for i := range pts {
		pts[i] = Point3{values[3*i], values[3*i+1], values[3*i+2]}
	}
	return pts
}

// Bounds returns the axis-aligned box around the points with all three
// coordinates finite. ok is false when there is none.
func Bounds(pts []Point3) (lo, hi Point3, ok bool) {
	for _, p := range pts {
		if !finite(p.X) || !finite(p.Y) || !finite(p.Z) {
			continue
		}
		if !ok {
			lo, hi, ok = p, p, true
			continue
		}
		lo = Point3{math.Min(lo.X, p.X), math.Min(lo.Y, p.Y), math.Min(lo.Z, p.Z)}
		hi = Point3{math.Max(hi.X, p.X), math.Max(hi.Y, p.Y), math.Max(hi.Z, p.Z)}
	}
	return lo, hi, ok
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Stats returns the smallest and largest finite value. ok is false when no
// finite value exists.
func Stats(values []float64) (lo, hi float64, ok bool) {
	for _, v := range values {
		if !finite(v) {
			continue
		}
		if !ok {
			lo, hi, ok = v, v, true
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi, ok
}
