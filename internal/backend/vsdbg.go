package backend

import (
	"github.com/dshills/debugmate/internal/model"
)

// vsdbg covers cppvsdbg against the MSVC standard library.
type vsdbg struct{}

func (vsdbg) Kind() Kind              { return VSDBG }
func (vsdbg) EvaluateContext() string { return "watch" }

func (vsdbg) AddressCandidates(fam model.Family, expr string) []string {
	if fam.IsMatrix() {
		if fam == model.FamilyMatx {
			return []string{
				"&" + member(expr, "val") + "[0]",
				"(__int64)" + member(expr, "val"),
				member(expr, "val"),
			}
		}
		return []string{
			"(__int64)" + member(expr, "data"),
			"(long long)" + member(expr, "data"),
			member(expr, "data"),
			"&" + member(expr, "data") + "[0]",
		}
	}
	out := []string{"(__int64)" + member(expr, "_Mypair._Myval2._Myfirst")}
	out = append(out, vectorData(expr, msvcStart)...)
	return append(out, "&("+expr+")[0]", member(expr, "data()"))
}

func (vsdbg) SizeCandidates(expr string) []string {
	return []string{
		member(expr, "size()"),
		member(expr, "_Mypair._Myval2._Mylast") + " - " + member(expr, "_Mypair._Myval2._Myfirst"),
	}
}

func (vsdbg) MatFieldExpression(expr, field string) string {
	return member(expr, field)
}

func (vsdbg) ElementExpression(addr model.Address, ctype string, index int) string {
	return elementExpression(addr, ctype, index)
}

func (vsdbg) Sentinels() []string {
	return []string{"<Unable to read memory>", "Unable to read memory", "<Error reading", "<Information not available"}
}

func (vsdbg) NeedsTypeProbe() bool                  { return false }
func (vsdbg) TypeProbeExpression(expr string) string { return "&(" + expr + ")" }

func (vsdbg) MemoryReference(addr model.Address) string {
	return addr.String()
}
