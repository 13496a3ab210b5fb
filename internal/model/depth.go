package model

import "fmt"

// Depth is the scalar element type of a matrix, sequence or point set. The
// numeric values match OpenCV's depth codes.
type Depth int

const (
	U8 Depth = iota
	S8
	U16
	S16
	S32
	F32
	F64
	F16
)

var depthInfo = [...]struct {
	name  string
	ctype string
	size  int
}{
	U8:  {"8U", "unsigned char", 1},
	S8:  {"8S", "signed char", 1},
	U16: {"16U", "unsigned short", 2},
	S16: {"16S", "short", 2},
	S32: {"32S", "int", 4},
	F32: {"32F", "float", 4},
	F64: {"64F", "double", 8},
	F16: {"16F", "unsigned short", 2},
}

// DepthFromCode converts an OpenCV depth code (flags & 7).
func DepthFromCode(code int) (Depth, error) {
	if code < 0 || code >= len(depthInfo) {
		return 0, fmt.Errorf("invalid depth code %d", code)
	}
	return Depth(code), nil
}

// Valid reports whether d is a known depth.
func (d Depth) Valid() bool {
	return d >= 0 && int(d) < len(depthInfo)
}

// Size returns the size in bytes of one scalar.
func (d Depth) Size() int {
	if !d.Valid() {
		return 0
	}
	return depthInfo[d].size
}

// IsFloat reports whether the depth is a floating point type.
func (d Depth) IsFloat() bool {
	return d == F32 || d == F64 || d == F16
}

// CType returns the C type used to address one scalar in an expression.
// Half floats are read through their bit pattern.
func (d Depth) CType() string {
	if !d.Valid() {
		return ""
	}
	return depthInfo[d].ctype
}

func (d Depth) String() string {
	if !d.Valid() {
		return fmt.Sprintf("Depth(%d)", int(d))
	}
	return depthInfo[d].name
}
