package model

import "fmt"

// ShapeKind names a Shape variant.
type ShapeKind int

const (
	KindUnsupported ShapeKind = iota
	KindMatrix
	KindSequence
	KindPointCloud
	KindEmpty
	KindUninitialized
)

func (k ShapeKind) String() string {
	switch k {
	case KindMatrix:
		return "Matrix"
	case KindSequence:
		return "Sequence"
	case KindPointCloud:
		return "PointCloud"
	case KindEmpty:
		return "Empty"
	case KindUninitialized:
		return "Uninitialized"
	default:
		return "Unsupported"
	}
}

// Family is the container family a declared type belongs to.
type Family int

const (
	FamilyNone Family = iota
	FamilyMat
	FamilyMatTemplate
	FamilyMatx
	FamilyVector
	FamilyPointVector
)

func (f Family) String() string {
	switch f {
	case FamilyMat:
		return "cv::Mat"
	case FamilyMatTemplate:
		return "cv::Mat_"
	case FamilyMatx:
		return "cv::Matx"
	case FamilyVector:
		return "std::vector"
	case FamilyPointVector:
		return "std::vector<cv::Point3>"
	default:
		return "none"
	}
}

// IsMatrix reports whether the family stores a 2-D matrix header.
func (f Family) IsMatrix() bool {
	return f == FamilyMat || f == FamilyMatTemplate || f == FamilyMatx
}

// Shape is the classification result of a variable. It is one of Matrix,
// Sequence, PointCloud, Empty, Uninitialized or Unsupported.
type Shape interface {
	Kind() ShapeKind
	fmt.Stringer
	shape()
}

// SmallMatrixLimit is the element count at or below which a matrix is
// flagged Small for display.
const SmallMatrixLimit = 100

// Matrix is a rows x cols image or matrix with interleaved channels.
type Matrix struct {
	Rows     int
	Cols     int
	Channels int
	Depth    Depth
	Family   Family
	Small    bool
}

// NewMatrix builds a Matrix and sets the Small display hint.
func NewMatrix(rows, cols, channels int, depth Depth, fam Family) Matrix {
	return Matrix{
		Rows:     rows,
		Cols:     cols,
		Channels: channels,
		Depth:    depth,
		Family:   fam,
		Small:    rows*cols <= SmallMatrixLimit,
	}
}

// Layout returns the element layout of the matrix data.
func (m Matrix) Layout() Layout {
	return Layout{Depth: m.Depth, Channels: m.Channels, Count: m.Rows * m.Cols}
}

func (Matrix) Kind() ShapeKind { return KindMatrix }
func (Matrix) shape()          {}

func (m Matrix) String() string {
	return fmt.Sprintf("Matrix{%dx%d C%d %s}", m.Rows, m.Cols, m.Channels, m.Depth)
}

// Sequence is a flat run of single-channel scalars.
type Sequence struct {
	Element Depth
	Count   int
	Family  Family
}

// Layout returns the element layout of the sequence data.
func (s Sequence) Layout() Layout {
	return Layout{Depth: s.Element, Channels: 1, Count: s.Count}
}

func (Sequence) Kind() ShapeKind { return KindSequence }
func (Sequence) shape()          {}

func (s Sequence) String() string {
	return fmt.Sprintf("Sequence{%s x%d}", s.Element, s.Count)
}

// PointCloud is a run of 3-D points. Wide points hold doubles, otherwise
// floats.
type PointCloud struct {
	Count int
	Wide  bool
}

// Layout returns the element layout of the point data.
func (p PointCloud) Layout() Layout {
	d := F32
	if p.Wide {
		d = F64
	}
	return Layout{Depth: d, Channels: 3, Count: p.Count}
}

func (PointCloud) Kind() ShapeKind { return KindPointCloud }
func (PointCloud) shape()          {}

func (p PointCloud) String() string {
	return fmt.Sprintf("PointCloud{%d wide=%t}", p.Count, p.Wide)
}

// Empty is a valid shape with a zero dimension or count.
type Empty struct {
	Evidence string
}

func (Empty) Kind() ShapeKind { return KindEmpty }
func (Empty) shape()          {}

func (e Empty) String() string {
	return "Empty{" + e.Evidence + "}"
}

// Uninitialized marks a variable whose value matched a sentinel or poison
// pattern, or reported a suspicious dimension. Its memory must not be read.
type Uninitialized struct {
	Evidence string
}

func (Uninitialized) Kind() ShapeKind { return KindUninitialized }
func (Uninitialized) shape()          {}

func (u Uninitialized) String() string {
	return "Uninitialized{" + u.Evidence + "}"
}

// Unsupported is returned when no signature matches.
type Unsupported struct {
	Reason string
}

func (Unsupported) Kind() ShapeKind { return KindUnsupported }
func (Unsupported) shape()          {}

func (u Unsupported) String() string {
	return "Unsupported{" + u.Reason + "}"
}

// LayoutOf returns the data layout of a readable shape.
func LayoutOf(s Shape) (Layout, bool) {
	switch v := s.(type) {
	case Matrix:
		return v.Layout(), true
	case Sequence:
		return v.Layout(), true
	case PointCloud:
		return v.Layout(), true
	default:
		return Layout{}, false
	}
}

// DefaultView returns the panel type a shape is shown in.
func DefaultView(s Shape) ViewKind {
	switch s.(type) {
	case Sequence:
		return ViewPlot
	case PointCloud:
		return ViewPointCloud
	default:
		return ViewMat
	}
}

// FamilyOf returns the container family a readable shape came from.
func FamilyOf(s Shape) Family {
	switch v := s.(type) {
	case Matrix:
		return v.Family
	case Sequence:
		return v.Family
	case PointCloud:
		return FamilyPointVector
	default:
		return FamilyNone
	}
}
