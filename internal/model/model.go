// Package model holds the value types shared by the extraction pipeline:
// variable handles, classified shapes, element layouts and panel keys.
package model

import (
	"fmt"
	"strconv"
)

// Handle identifies a debuggee variable for the lifetime of one
// visualization request.
type Handle struct {
	SessionID          string
	FrameID            int
	Expression         string
	DeclaredType       string
	Value              string
	IsPointer          bool
	BaseType           string
	VariablesReference int
}

// Key returns the variable key used for panel and cache identity.
func (h Handle) Key() string {
	return h.Expression
}

// Deref is a dereferenced view of a pointer variable. Classification runs on
// Target while panels stay keyed by the original variable.
type Deref struct {
	Original   Handle
	Expression string
	BaseType   string
}

// NewDeref builds the dereferenced wrapper for a pointer handle.
func NewDeref(h Handle) Deref {
	return Deref{
		Original:   h,
		Expression: "*(" + h.Expression + ")",
		BaseType:   h.BaseType,
	}
}

// Key returns the original variable key.
func (d Deref) Key() string {
	return d.Original.Key()
}

// Target returns a handle describing the pointee.
func (d Deref) Target() Handle {
	return Handle{
		SessionID:    d.Original.SessionID,
		FrameID:      d.Original.FrameID,
		Expression:   d.Expression,
		DeclaredType: d.BaseType,
	}
}

// Address is a resolved debuggee address. Zero is never valid.
type Address uint64

// Valid reports whether the address is non-null.
func (a Address) Valid() bool {
	return a != 0
}

func (a Address) String() string {
	return "0x" + strconv.FormatUint(uint64(a), 16)
}

// Add returns the address offset by n bytes.
func (a Address) Add(n int) Address {
	return a + Address(n)
}

// Layout describes the scalar element layout of a buffer.
type Layout struct {
	Depth    Depth
	Channels int
	Count    int // elements (pixels, points, values), each Channels scalars wide
}

// ElementSize returns the size in bytes of one element.
func (l Layout) ElementSize() int {
	return l.Depth.Size() * l.Channels
}

// Scalars returns the number of scalars in the buffer.
func (l Layout) Scalars() int {
	return l.Count * l.Channels
}

// ByteSize returns the total size in bytes.
func (l Layout) ByteSize() int {
	return l.ElementSize() * l.Count
}

// RawBuffer is the undecoded content of a read. It is not retained after
// decoding.
type RawBuffer struct {
	Data    []byte
	Address Address
	Layout  Layout
}

// ViewKind selects the panel type a variable is shown in.
type ViewKind string

const (
	ViewMat        ViewKind = "mat"
	ViewPlot       ViewKind = "plot"
	ViewPointCloud ViewKind = "pointcloud"
)

// PanelKey is the primary identity of a panel.
type PanelKey struct {
	View        ViewKind
	SessionID   string
	VariableKey string
}

func (k PanelKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.View, k.SessionID, k.VariableKey)
}
