package backend

import (
	"github.com/dshills/debugmate/internal/model"
)

// gdb covers cppdbg. Values are printed GDB style, e.g.
// `(uchar *) 0x5555557a0c10 "\377..."`.
type gdb struct{}

func (gdb) Kind() Kind              { return GDB }
func (gdb) EvaluateContext() string { return "watch" }

func (gdb) AddressCandidates(fam model.Family, expr string) []string {
	if fam.IsMatrix() {
		if fam == model.FamilyMatx {
			return []string{
				"&" + member(expr, "val") + "[0]",
				"(long long)" + member(expr, "val"),
				member(expr, "val"),
			}
		}
		return []string{
			"(long long)" + member(expr, "data"),
			member(expr, "data"),
			"(void*)" + member(expr, "data"),
			"&" + member(expr, "data") + "[0]",
		}
	}
	out := []string{"(long long)" + member(expr, "_M_impl._M_start")}
	out = append(out, vectorData(expr, libstdcxxStart, libcxxStart)...)
	return append(out, "&("+expr+")[0]", member(expr, "data()"))
}

func (gdb) SizeCandidates(expr string) []string {
	return []string{
		member(expr, "size()"),
		member(expr, "_M_impl._M_finish") + " - " + member(expr, "_M_impl._M_start"),
		member(expr, "__end_") + " - " + member(expr, "__begin_"),
	}
}

func (gdb) MatFieldExpression(expr, field string) string {
	return member(expr, field)
}

func (gdb) ElementExpression(addr model.Address, ctype string, index int) string {
	return elementExpression(addr, ctype, index)
}

func (gdb) Sentinels() []string {
	return []string{"Cannot access memory", "<optimized out>", "<error reading variable", "<unavailable>"}
}

func (gdb) NeedsTypeProbe() bool                  { return false }
func (gdb) TypeProbeExpression(expr string) string { return "&(" + expr + ")" }

func (gdb) MemoryReference(addr model.Address) string {
	return addr.String()
}

// Generic serves adapters that are not recognized. It follows the GDB rules,
// which are the most permissive about cast syntax.
type Generic struct {
	gdb
}

func (Generic) Kind() Kind { return Unknown }
