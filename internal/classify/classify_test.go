package classify

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dshills/debugmate/internal/backend"
	"github.com/dshills/debugmate/internal/debugtest"
	"github.com/dshills/debugmate/internal/model"
)

// Mat flags for a continuous 2-D header: MAGIC_VAL | CONTINUOUS_FLAG | type.
func matFlags(depth model.Depth, channels int) string {
	flags := uint32(0x42FF0000) | 0x4000 | uint32(depth) | uint32(channels-1)<<3
	return itoa(int64(int32(flags)))
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func mat(d *debugtest.Debugger, expr string, rows, cols int, depth model.Depth, channels int) {
	d.Set(expr+".flags", matFlags(depth, channels))
	d.Set(expr+".dims", "2")
	d.Set(expr+".rows", itoa(int64(rows)))
	d.Set(expr+".cols", itoa(int64(cols)))
}

func handle(expr, typ string) model.Handle {
	return model.Handle{SessionID: "s1", FrameID: 1000, Expression: expr, DeclaredType: typ}
}

func TestClassifyMatrix(t *testing.T) {
	d := debugtest.New()
	mat(d, "img", 480, 640, model.U8, 3)
	mat(d, "gray", 3, 3, model.U8, 1)
	mat(d, "row", 1, 50, model.F32, 1)
	mat(d, "col", 10, 1, model.F64, 1)
	mat(d, "rgba", 2, 2, model.U8, 4)
	mat(d, "two", 4, 4, model.F32, 2)
	mat(d, "empty", 0, 0, model.U8, 1)

	c := New(d)
	b := backend.For(backend.GDB)

	tests := []struct {
		name string
		expr string
		want model.Shape
	}{
		{"color image", "img", model.NewMatrix(480, 640, 3, model.U8, model.FamilyMat)},
		{"small single channel stays matrix", "gray", model.Matrix{Rows: 3, Cols: 3, Channels: 1, Depth: model.U8, Family: model.FamilyMat, Small: true}},
		{"row vector becomes sequence", "row", model.Sequence{Element: model.F32, Count: 50, Family: model.FamilyMat}},
		{"column vector becomes sequence", "col", model.Sequence{Element: model.F64, Count: 10, Family: model.FamilyMat}},
		{"four channels", "rgba", model.NewMatrix(2, 2, 4, model.U8, model.FamilyMat)},
		{"two channels unsupported", "two", model.Unsupported{Reason: "2 channels"}},
		{"zero size is empty", "empty", model.Empty{Evidence: "rows = 0, cols = 0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(context.Background(), handle(tt.expr, "cv::Mat"), b)
			if got != tt.want {
				t.Errorf("Classify(%s) = %v, expected %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestClassifyMatTemplate(t *testing.T) {
	d := debugtest.New()
	mat(d, "m", 100, 100, model.F32, 3)

	got := New(d).Classify(context.Background(), handle("m", "cv::Mat_<cv::Vec<float, 3> >"), backend.For(backend.GDB))
	want := model.NewMatrix(100, 100, 3, model.F32, model.FamilyMatTemplate)
	if got != want {
		t.Errorf("Classify = %v, expected %v", got, want)
	}
}

func TestClassifyMatx(t *testing.T) {
	d := debugtest.New()
	got := New(d).Classify(context.Background(), handle("K", "cv::Matx<float, 3, 3>"), backend.For(backend.GDB))
	want := model.NewMatrix(3, 3, 1, model.F32, model.FamilyMatx)
	if got != want {
		t.Errorf("Classify = %v, expected %v", got, want)
	}
	if d.Evaluations() != 0 {
		t.Errorf("Matx needs no queries, got %d", d.Evaluations())
	}
}

func TestClassifyEmptyMat(t *testing.T) {
	d := debugtest.New()
	d.Set("m.flags", "1124007936") // MAGIC_VAL only
	d.Set("m.dims", "0")
	d.Set("m.rows", "0")
	d.Set("m.cols", "0")

	got := New(d).Classify(context.Background(), handle("m", "cv::Mat"), backend.For(backend.GDB))
	if got.Kind() != model.KindEmpty {
		t.Errorf("Classify = %v, expected Empty", got)
	}
}

func TestClassifyVector(t *testing.T) {
	tests := []struct {
		name  string
		kind  backend.Kind
		typ   string
		setup func(d *debugtest.Debugger)
		want  model.Shape
	}{
		{
			name:  "libstdc++ floats",
			kind:  backend.GDB,
			typ:   "std::vector<float, std::allocator<float> >",
			setup: func(d *debugtest.Debugger) { d.Set("v.size()", "100") },
			want:  model.Sequence{Element: model.F32, Count: 100, Family: model.FamilyVector},
		},
		{
			name: "size() unavailable falls back to member arithmetic",
			kind: backend.GDB,
			typ:  "std::vector<double>",
			setup: func(d *debugtest.Debugger) {
				d.Fail("v.size()", errors.New("Cannot evaluate function -- may be inlined"))
				d.Set("v._M_impl._M_finish - v._M_impl._M_start", "7")
			},
			want: model.Sequence{Element: model.F64, Count: 7, Family: model.FamilyVector},
		},
		{
			name:  "libc++ points",
			kind:  backend.LLDB,
			typ:   "std::__1::vector<cv::Point3_<float>, std::__1::allocator<cv::Point3_<float> > >",
			setup: func(d *debugtest.Debugger) { d.Set("v.size()", "1000") },
			want:  model.PointCloud{Count: 1000},
		},
		{
			name:  "MSVC wide points",
			kind:  backend.VSDBG,
			typ:   "class std::vector<class cv::Point3_<double>,class std::allocator<class cv::Point3_<double> > >",
			setup: func(d *debugtest.Debugger) { d.Set("v.size()", "5") },
			want:  model.PointCloud{Count: 5, Wide: true},
		},
		{
			name:  "size zero is empty",
			kind:  backend.GDB,
			typ:   "std::vector<float>",
			setup: func(d *debugtest.Debugger) { d.Set("v.size()", "0") },
			want:  model.Empty{Evidence: "size = 0"},
		},
		{
			name:  "huge size is suspicious",
			kind:  backend.GDB,
			typ:   "std::vector<float>",
			setup: func(d *debugtest.Debugger) { d.Set("v.size()", "18446744073709551") },
			want:  model.Uninitialized{Evidence: "suspicious dimension size = 18446744073709551"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := debugtest.New()
			tt.setup(d)
			got := New(d).Classify(context.Background(), handle("v", tt.typ), backend.For(tt.kind))
			if got != tt.want {
				t.Errorf("Classify = %v, expected %v", got, tt.want)
			}
		})
	}
}

func TestClassifyAllSizeCandidatesFail(t *testing.T) {
	d := debugtest.New()
	got := New(d).Classify(context.Background(), handle("v", "std::vector<float>"), backend.For(backend.GDB))
	if got.Kind() != model.KindUnsupported {
		t.Errorf("Classify = %v, expected Unsupported", got)
	}
	if n := d.Evaluations(); n != len(backend.For(backend.GDB).SizeCandidates("v")) {
		t.Errorf("evaluations = %d, expected one per size candidate", n)
	}
}

func TestClassifyPoisonValueSkipsQueries(t *testing.T) {
	d := debugtest.New()
	d.Set("v.size()", "3")

	h := handle("v", "std::vector<float>")
	h.Value = "{_M_impl = {_M_start = 0xcdcdcdcdcdcdcdcd, _M_finish = 0xcdcdcdcdcdcdcdcd}}"

	got := New(d).Classify(context.Background(), h, backend.For(backend.GDB))
	u, ok := got.(model.Uninitialized)
	if !ok {
		t.Fatalf("Classify = %v, expected Uninitialized", got)
	}
	if !strings.Contains(u.Evidence, "0xcdcdcdcd") {
		t.Errorf("evidence %q does not name the pattern", u.Evidence)
	}
	if d.Evaluations() != 0 {
		t.Errorf("expected no debugger queries, got %d", d.Evaluations())
	}
}

func TestClassifySentinelValue(t *testing.T) {
	h := handle("img", "cv::Mat")
	h.Value = "<Unable to read memory>"

	d := debugtest.New()
	got := New(d).Classify(context.Background(), h, backend.For(backend.VSDBG))
	u, ok := got.(model.Uninitialized)
	if !ok {
		t.Fatalf("Classify = %v, expected Uninitialized", got)
	}
	if !strings.Contains(u.Evidence, "Unable to read memory") {
		t.Errorf("evidence %q does not name the sentinel", u.Evidence)
	}
}

func TestClassifyPoisonedDimension(t *testing.T) {
	d := debugtest.New()
	d.Set("img.flags", "-842150451")
	d.Set("img.dims", "-842150451")
	d.Set("img.rows", "-842150451")
	d.Set("img.cols", "-842150451")

	got := New(d).Classify(context.Background(), handle("img", "cv::Mat"), backend.For(backend.VSDBG))
	u, ok := got.(model.Uninitialized)
	if !ok {
		t.Fatalf("Classify = %v, expected Uninitialized", got)
	}
	if !strings.Contains(u.Evidence, "img.flags") || !strings.Contains(u.Evidence, "0xcdcdcdcd") {
		t.Errorf("evidence %q should name the field and pattern", u.Evidence)
	}
}

func TestClassifySuspiciousDimension(t *testing.T) {
	d := debugtest.New()
	mat(d, "img", 3, 1<<24, model.U8, 1)

	got := New(d, WithLimits(1<<20, 1<<28)).Classify(context.Background(), handle("img", "cv::Mat"), backend.For(backend.GDB))
	want := model.Uninitialized{Evidence: "suspicious dimension cols = 16777216"}
	if got != want {
		t.Errorf("Classify = %v, expected %v", got, want)
	}
}

func TestClassifyBadMagic(t *testing.T) {
	d := debugtest.New()
	d.Set("img.flags", "12345")
	d.Set("img.dims", "2")
	d.Set("img.rows", "3")
	d.Set("img.cols", "3")

	got := New(d).Classify(context.Background(), handle("img", "cv::Mat"), backend.For(backend.GDB))
	if got.Kind() != model.KindUninitialized {
		t.Errorf("Classify = %v, expected Uninitialized", got)
	}
}

func TestClassifyPointer(t *testing.T) {
	d := debugtest.New()
	mat(d, "(*(p))", 4, 4, model.U8, 3)

	h := model.Handle{
		SessionID:    "s1",
		Expression:   "p",
		DeclaredType: "cv::Mat *",
		Value:        "0x7ffc0010",
		IsPointer:    true,
	}

	got := New(d).Classify(context.Background(), h, backend.For(backend.GDB))
	want := model.NewMatrix(4, 4, 3, model.U8, model.FamilyMat)
	if got != want {
		t.Errorf("Classify = %v, expected %v", got, want)
	}
}

func TestClassifyNullPointer(t *testing.T) {
	for _, value := range []string{"0x0", "(cv::Mat *) 0x0000000000000000", "nullptr", "NULL", "0"} {
		d := debugtest.New()
		h := model.Handle{Expression: "p", DeclaredType: "cv::Mat *", Value: value, IsPointer: true}

		got := New(d).Classify(context.Background(), h, backend.For(backend.GDB))
		if got != (model.Unsupported{Reason: "null pointer"}) {
			t.Errorf("value %q: Classify = %v, expected null pointer", value, got)
		}
		if d.Evaluations() != 0 {
			t.Errorf("value %q: expected no queries, got %d", value, d.Evaluations())
		}
	}
}

func TestClassifyTypeProbe(t *testing.T) {
	d := debugtest.New()
	d.SetValue("&(cloud)", debugtest.Value{Result: "0x1000", Type: "std::vector<cv::Point3_<float> > *"})
	d.Set("cloud.size()", "12")

	got := New(d).Classify(context.Background(), handle("cloud", "PointList"), backend.For(backend.LLDB))
	want := model.PointCloud{Count: 12}
	if got != want {
		t.Errorf("Classify = %v, expected %v", got, want)
	}
}

func TestClassifyTypeProbeTimeout(t *testing.T) {
	d := debugtest.New()
	d.SetValue("&(cloud)", debugtest.Value{Type: "std::vector<float> *", Delay: time.Second})

	start := time.Now()
	got := New(d, WithProbeTimeout(20*time.Millisecond)).Classify(context.Background(), handle("cloud", "PointList"), backend.For(backend.LLDB))
	if got.Kind() != model.KindUnsupported {
		t.Errorf("Classify = %v, expected Unsupported", got)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("probe was not bounded: %v", elapsed)
	}
}

func TestClassifyNoProbeForGDB(t *testing.T) {
	d := debugtest.New()
	got := New(d).Classify(context.Background(), handle("x", "MyType"), backend.For(backend.GDB))
	if got.Kind() != model.KindUnsupported {
		t.Errorf("Classify = %v, expected Unsupported", got)
	}
	if d.Evaluations() != 0 {
		t.Errorf("GDB should not probe, got %d evaluations", d.Evaluations())
	}
}

func TestClassifyIdempotent(t *testing.T) {
	d := debugtest.New()
	mat(d, "img", 10, 20, model.F32, 1)

	c := New(d)
	b := backend.For(backend.GDB)
	first := c.Classify(context.Background(), handle("img", "cv::Mat"), b)
	for i := 0; i < 5; i++ {
		if got := c.Classify(context.Background(), handle("img", "cv::Mat"), b); got != first {
			t.Fatalf("call %d: Classify = %v, expected %v", i, got, first)
		}
	}
}
