package classify

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dshills/debugmate/internal/backend"
	"github.com/dshills/debugmate/internal/model"
)

// Signature is the result of matching a declared type string.
type Signature struct {
	Family     model.Family
	Depth      model.Depth
	DepthKnown bool // false for cv::Mat, whose depth lives in its flags
	Channels   int
	Wide       bool
	Rows       int // Matx only
	Cols       int // Matx only
	Matched    bool
}

var (
	abiNamespace = regexp.MustCompile(`std::__(?:1|cxx11|ndk1)::`)
	spaces       = regexp.MustCompile(`\s+`)
	punctSpace   = regexp.MustCompile(`\s*([<>,*&:])\s*`)

	matTypedef  = regexp.MustCompile(`^cv::Mat([1-4])([bswifd])$`)
	matxTypedef = regexp.MustCompile(`^cv::Matx([1-6])([1-6])([fd])$`)
	vecTypedef  = regexp.MustCompile(`^cv::Vec([2346])([bswifd])$`)
	pt3Typedef  = regexp.MustCompile(`^cv::Point3([ifd])$`)
)

var scalarTypes = map[string]model.Depth{
	"unsignedchar":     model.U8,
	"uchar":            model.U8,
	"uint8_t":          model.U8,
	"unsigned__int8":   model.U8,
	"signedchar":       model.S8,
	"schar":            model.S8,
	"char":             model.S8,
	"int8_t":           model.S8,
	"unsignedshort":    model.U16,
	"unsignedshortint": model.U16,
	"ushort":           model.U16,
	"uint16_t":         model.U16,
	"short":            model.S16,
	"shortint":         model.S16,
	"int16_t":          model.S16,
	"int":              model.S32,
	"int32_t":          model.S32,
	"float":            model.F32,
	"double":           model.F64,
	"cv::float16_t":    model.F16,
	"cv::hfloat":       model.F16,
	"cv::float16":      model.F16,
	"float16_t":        model.F16,
	"_Float16":         model.F16,
	"__fp16":           model.F16,
	"unsigned__int16":  model.U16,
	"__int16":          model.S16,
	"__int32":          model.S32,
	"signedshort":      model.S16,
	"signed":           model.S32,
	"signedint":        model.S32,
}

// typedef suffix letters used by OpenCV: b=uchar s=short w=ushort i=int
// f=float d=double.
var suffixDepth = map[string]model.Depth{
	"b": model.U8,
	"s": model.S16,
	"w": model.U16,
	"i": model.S32,
	"f": model.F32,
	"d": model.F64,
}

// Normalize rewrites a declared type into the canonical spelling used for
// matching: qualifiers, references and class-key prefixes removed, inline
// ABI namespaces collapsed, allocator arguments dropped.
func Normalize(typeStr string) string {
	s := strings.TrimSpace(typeStr)
	s = abiNamespace.ReplaceAllString(s, "std::")
	s = spaces.ReplaceAllString(s, " ")
	s = punctSpace.ReplaceAllString(s, "$1")

	for _, prefix := range []string{"const ", "volatile ", "class ", "struct "} {
		for strings.HasPrefix(s, prefix) {
			s = strings.TrimPrefix(s, prefix)
		}
	}
	s = strings.TrimSuffix(s, " const")
	s = strings.TrimRight(s, "&")
	s = strings.TrimSuffix(s, " const")

	name, args, ok := splitTemplate(s)
	if !ok {
		return s
	}
	for i := range args {
		args[i] = Normalize(args[i])
	}
	if name == "std::vector" && len(args) == 2 && strings.HasPrefix(args[1], "std::allocator<") {
		args = args[:1]
	}
	return name + "<" + strings.Join(args, ",") + ">"
}

// splitTemplate splits "name<a,b<c,d>>" into name and top-level arguments.
func splitTemplate(s string) (string, []string, bool) {
	open := strings.IndexByte(s, '<')
	if open <= 0 || !strings.HasSuffix(s, ">") {
		return s, nil, false
	}

	var args []string
	depth := 0
	start := open + 1
	for i := open + 1; i < len(s)-1; i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			depth--
			if depth < 0 {
				return s, nil, false
			}
		case ',':
			if depth == 0 {
				args = append(args, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return s, nil, false
	}
	args = append(args, s[start:len(s)-1])
	return s[:open], args, true
}

// Match maps a declared type to a container signature. It is a pure
// function of its arguments. LLDB may print OpenCV names without the cv
// namespace, so for LLDB unqualified names are accepted as well.
func Match(declaredType string, kind backend.Kind) Signature {
	s := Normalize(declaredType)
	if kind == backend.LLDB {
		s = qualify(s)
	}

	if s == "cv::Mat" {
		return Signature{Family: model.FamilyMat, Matched: true}
	}

	if m := matTypedef.FindStringSubmatch(s); m != nil {
		ch, _ := strconv.Atoi(m[1])
		return Signature{Family: model.FamilyMatTemplate, Depth: suffixDepth[m[2]], DepthKnown: true, Channels: ch, Matched: true}
	}
	if m := matxTypedef.FindStringSubmatch(s); m != nil {
		rows, _ := strconv.Atoi(m[1])
		cols, _ := strconv.Atoi(m[2])
		return Signature{Family: model.FamilyMatx, Depth: suffixDepth[m[3]], DepthKnown: true, Channels: 1, Rows: rows, Cols: cols, Matched: true}
	}

	name, args, ok := splitTemplate(s)
	if !ok {
		return Signature{}
	}

	switch name {
	case "cv::Mat_":
		if len(args) != 1 {
			return Signature{}
		}
		depth, ch, ok := element(args[0])
		if !ok {
			return Signature{}
		}
		return Signature{Family: model.FamilyMatTemplate, Depth: depth, DepthKnown: true, Channels: ch, Matched: true}

	case "cv::Matx":
		if len(args) != 3 {
			return Signature{}
		}
		depth, ok := scalar(args[0])
		rows, err1 := strconv.Atoi(args[1])
		cols, err2 := strconv.Atoi(args[2])
		if !ok || err1 != nil || err2 != nil {
			return Signature{}
		}
		return Signature{Family: model.FamilyMatx, Depth: depth, DepthKnown: true, Channels: 1, Rows: rows, Cols: cols, Matched: true}

	case "std::vector":
		if len(args) != 1 {
			return Signature{}
		}
		if depth, ok := scalar(args[0]); ok {
			return Signature{Family: model.FamilyVector, Depth: depth, DepthKnown: true, Channels: 1, Matched: true}
		}
		if depth, ok := point3(args[0]); ok && (depth == model.F32 || depth == model.F64) {
			return Signature{Family: model.FamilyPointVector, Depth: depth, DepthKnown: true, Channels: 3, Wide: depth == model.F64, Matched: true}
		}
	}
	return Signature{}
}

// qualify prefixes known OpenCV names that appear without their namespace.
func qualify(s string) string {
	name, args, ok := splitTemplate(s)
	if ok {
		for i := range args {
			args[i] = qualify(args[i])
		}
		return qualifyName(name) + "<" + strings.Join(args, ",") + ">"
	}
	return qualifyName(s)
}

func qualifyName(s string) string {
	if strings.Contains(s, "::") {
		return s
	}
	switch {
	case s == "Mat", s == "Mat_", s == "Matx", s == "Vec", s == "Point3_",
		matTypedef.MatchString("cv::" + s),
		matxTypedef.MatchString("cv::" + s),
		vecTypedef.MatchString("cv::" + s),
		pt3Typedef.MatchString("cv::" + s):
		return "cv::" + s
	case s == "vector":
		return "std::vector"
	}
	return s
}

func scalar(s string) (model.Depth, bool) {
	d, ok := scalarTypes[strings.ReplaceAll(s, " ", "")]
	return d, ok
}

// element resolves a matrix element type: a scalar or a cv::Vec.
func element(s string) (model.Depth, int, bool) {
	if d, ok := scalar(s); ok {
		return d, 1, true
	}
	if m := vecTypedef.FindStringSubmatch(s); m != nil {
		ch, _ := strconv.Atoi(m[1])
		return suffixDepth[m[2]], ch, true
	}
	name, args, ok := splitTemplate(s)
	if !ok || name != "cv::Vec" || len(args) != 2 {
		return 0, 0, false
	}
	d, ok := scalar(args[0])
	ch, err := strconv.Atoi(args[1])
	if !ok || err != nil {
		return 0, 0, false
	}
	return d, ch, true
}

// point3 resolves cv::Point3_<T> and its typedefs, plus 3-element cv::Vec.
func point3(s string) (model.Depth, bool) {
	if m := pt3Typedef.FindStringSubmatch(s); m != nil {
		return suffixDepth[m[1]], true
	}
	name, args, ok := splitTemplate(s)
	if ok && name == "cv::Point3_" && len(args) == 1 {
		return scalar(args[0])
	}
	if d, ch, ok := element(s); ok && ch == 3 && strings.HasPrefix(s, "cv::Vec") {
		return d, true
	}
	return 0, false
}
