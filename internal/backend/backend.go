// Package backend describes the capabilities that differ between the
// supported debugger backends: expression syntax for reaching container
// internals, evaluation context, invalid-value sentinels and whether type
// strings need a second introspection query.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/debugmate/internal/debug/dap"
	"github.com/dshills/debugmate/internal/model"
)

// Kind identifies a debugger backend.
type Kind string

const (
	// GDB is cppdbg driving GDB through the MI interpreter.
	GDB Kind = "gdb"
	// LLDB covers CodeLLDB and lldb-dap.
	LLDB Kind = "lldb"
	// VSDBG is the Microsoft C++ debugger (cppvsdbg).
	VSDBG Kind = "vsdbg"
	// Unknown is any other adapter; it is served by the GDB rules.
	Unknown Kind = "unknown"
)

// Detect maps a DAP adapter type, as found in a launch configuration, to a
// backend kind.
func Detect(adapterType string) Kind {
	switch strings.ToLower(strings.TrimSpace(adapterType)) {
	case "cppdbg", "gdb":
		return GDB
	case "lldb", "lldb-dap", "lldb-vscode", "codelldb":
		return LLDB
	case "cppvsdbg", "vsdbg":
		return VSDBG
	default:
		return Unknown
	}
}

// Evaluator is the expression evaluation capability of a debug session.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*dap.EvaluateResponseBody, error)
}

// Backend is implemented once per debugger backend. Classification and
// address resolution depend only on this interface.
type Backend interface {
	Kind() Kind

	// EvaluateContext is the DAP evaluate context used for all probes.
	EvaluateContext() string

	// AddressCandidates returns expressions yielding the address of the first
	// scalar element, in the order they should be tried.
	AddressCandidates(fam model.Family, expr string) []string

	// SizeCandidates returns expressions yielding a container element count.
	SizeCandidates(expr string) []string

	// MatFieldExpression returns an expression for a cv::Mat header field.
	MatFieldExpression(expr, field string) string

	// ElementExpression returns an expression reading scalar index of type
	// ctype from addr.
	ElementExpression(addr model.Address, ctype string, index int) string

	// Sentinels lists value strings the backend prints for unreadable or
	// unavailable values.
	Sentinels() []string

	// NeedsTypeProbe reports whether declared type strings may be
	// abbreviated and need one extra introspection query.
	NeedsTypeProbe() bool

	// TypeProbeExpression returns the introspection expression for expr.
	TypeProbeExpression(expr string) string

	// MemoryReference returns the readMemory token for addr.
	MemoryReference(addr model.Address) string
}

// For returns the backend implementation for kind.
func For(kind Kind) Backend {
	switch kind {
	case GDB:
		return gdb{}
	case LLDB:
		return lldb{}
	case VSDBG:
		return vsdbg{}
	default:
		return Generic{}
	}
}

// member returns expr.field, parenthesizing expr when it is not a plain
// access path.
func member(expr, field string) string {
	if isAccessPath(expr) {
		return expr + "." + field
	}
	return "(" + expr + ")." + field
}

func isAccessPath(expr string) bool {
	if expr == "" {
		return false
	}
	for _, r := range expr {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '.', r == ':', r == '[', r == ']':
		default:
			return false
		}
	}
	return true
}

func elementExpression(addr model.Address, ctype string, index int) string {
	return fmt.Sprintf("((%s*)%s)[%d]", ctype, addr, index)
}

// Common container internals, one list per standard library.
var (
	libstdcxxStart = []string{"_M_impl._M_start"}
	libcxxStart    = []string{"__begin_"}
	msvcStart      = []string{"_Mypair._Myval2._Myfirst"}
)

func vectorData(expr string, paths ...[]string) []string {
	var out []string
	for _, p := range paths {
		for _, field := range p {
			out = append(out, member(expr, field))
		}
	}
	return out
}
