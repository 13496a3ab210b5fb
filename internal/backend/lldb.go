package backend

import (
	"github.com/dshills/debugmate/internal/model"
)

// lldb covers CodeLLDB and lldb-dap. LLDB prints typedef names unexpanded
// ("Mat", "Point3f"), so classification may need a probe.
type lldb struct{}

func (lldb) Kind() Kind              { return LLDB }
func (lldb) EvaluateContext() string { return "watch" }

func (lldb) AddressCandidates(fam model.Family, expr string) []string {
	if fam.IsMatrix() {
		if fam == model.FamilyMatx {
			return []string{
				"&" + member(expr, "val") + "[0]",
				"(uintptr_t)" + member(expr, "val"),
				"(long long)" + member(expr, "val"),
			}
		}
		return []string{
			"(uintptr_t)" + member(expr, "data"),
			"(long long)" + member(expr, "data"),
			member(expr, "data"),
			"&" + member(expr, "data") + "[0]",
		}
	}
	out := []string{"(uintptr_t)" + member(expr, "__begin_")}
	out = append(out, vectorData(expr, libcxxStart, libstdcxxStart)...)
	return append(out, "&("+expr+")[0]", member(expr, "data()"))
}

func (lldb) SizeCandidates(expr string) []string {
	return []string{
		member(expr, "size()"),
		member(expr, "__end_") + " - " + member(expr, "__begin_"),
		member(expr, "_M_impl._M_finish") + " - " + member(expr, "_M_impl._M_start"),
	}
}

func (lldb) MatFieldExpression(expr, field string) string {
	return member(expr, field)
}

func (lldb) ElementExpression(addr model.Address, ctype string, index int) string {
	return elementExpression(addr, ctype, index)
}

func (lldb) Sentinels() []string {
	return []string{"<invalid address>", "<parent is NULL>", "<unavailable>", "error: "}
}

func (lldb) NeedsTypeProbe() bool { return true }

// TypeProbeExpression takes the address of the variable; LLDB reports the
// canonical pointee type for it.
func (lldb) TypeProbeExpression(expr string) string { return "&(" + expr + ")" }

func (lldb) MemoryReference(addr model.Address) string {
	return addr.String()
}
