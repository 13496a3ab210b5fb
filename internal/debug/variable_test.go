package debug

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/debugmate/internal/debug/dap"
)

type fakeSource struct {
	scopes    []dap.Scope
	variables map[int][]dap.Variable
	frames    map[int][]dap.StackFrame
	calls     int
}

func (f *fakeSource) GetScopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	return f.scopes, nil
}

func (f *fakeSource) GetVariables(ctx context.Context, ref int) ([]dap.Variable, error) {
	f.calls++
	vars, ok := f.variables[ref]
	if !ok {
		return nil, errors.New("invalid variables reference")
	}
	return vars, nil
}

func (f *fakeSource) GetStackTrace(ctx context.Context, threadID, start, levels int) ([]dap.StackFrame, int, error) {
	frames := f.frames[threadID]
	return frames, len(frames), nil
}

func TestFindVariable(t *testing.T) {
	src := &fakeSource{
		scopes: []dap.Scope{
			{Name: "Locals", VariablesReference: 1},
			{Name: "Registers", VariablesReference: 2, Expensive: true},
			{Name: "Globals", VariablesReference: 3},
		},
		variables: map[int][]dap.Variable{
			1: {{Name: "img", Type: "cv::Mat", Value: "{flags=1124024320, dims=2}"}},
			3: {{Name: "g_points", Type: "std::vector<cv::Point3f>"}},
		},
	}
	vi := NewVariableInspector(src)
	ctx := context.Background()

	v, err := vi.FindVariable(ctx, 1000, "g_points")
	if err != nil {
		t.Fatalf("FindVariable: %v", err)
	}
	if v.Type != "std::vector<cv::Point3f>" {
		t.Errorf("type = %q", v.Type)
	}

	if _, err := vi.FindVariable(ctx, 1000, "missing"); err == nil {
		t.Error("expected error for missing variable")
	}

	calls := src.calls
	vi.FindVariable(ctx, 1000, "img")
	if src.calls != calls {
		t.Errorf("cached scope fetched again: %d calls", src.calls-calls)
	}
	vi.Clear()
	vi.FindVariable(ctx, 1000, "img")
	if src.calls == calls {
		t.Error("Clear did not drop the cache")
	}
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name    string
		v       dap.Variable
		expr    string
		pointer bool
		base    string
	}{
		{
			name: "value",
			v:    dap.Variable{Name: "img", Type: "cv::Mat", Value: "{...}"},
			expr: "img",
		},
		{
			name:    "pointer",
			v:       dap.Variable{Name: "p", Type: "std::vector<float> *", Value: "0x602000001000"},
			expr:    "p",
			pointer: true,
			base:    "std::vector<float>",
		},
		{
			name:    "const pointer without space",
			v:       dap.Variable{Name: "m", Type: "cv::Mat* const", Value: "0x7ffe0000"},
			expr:    "m",
			pointer: true,
			base:    "cv::Mat",
		},
		{
			name: "pointer to pointer",
			v:    dap.Variable{Name: "pp", Type: "float **"},
			expr: "pp",
		},
		{
			name: "function pointer",
			v:    dap.Variable{Name: "fn", Type: "int (*)(int)"},
			expr: "fn",
		},
		{
			name: "evaluate name wins",
			v:    dap.Variable{Name: "[0]", EvaluateName: "mats[0]", Type: "cv::Mat"},
			expr: "mats[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Handle("s1", 1000, tt.v)
			if h.Expression != tt.expr {
				t.Errorf("Expression = %q, expected %q", h.Expression, tt.expr)
			}
			if h.IsPointer != tt.pointer {
				t.Errorf("IsPointer = %v, expected %v", h.IsPointer, tt.pointer)
			}
			if h.BaseType != tt.base {
				t.Errorf("BaseType = %q, expected %q", h.BaseType, tt.base)
			}
			if h.SessionID != "s1" || h.FrameID != 1000 {
				t.Errorf("handle = %+v", h)
			}
		})
	}
}

func TestFrameTracker(t *testing.T) {
	src := &fakeSource{frames: map[int][]dap.StackFrame{
		1: {
			{ID: 1000, Name: "process", Line: 118, Source: &dap.Source{Name: "main.cpp"}},
			{ID: 1001, Name: "main", Line: 200},
		},
	}}
	tr := NewFrameTracker(src)
	ctx := context.Background()

	if tr.FrameID() != 0 {
		t.Errorf("FrameID() = %d before refresh, expected 0", tr.FrameID())
	}

	changed, err := tr.Refresh(ctx, 1)
	if err != nil || !changed {
		t.Fatalf("first Refresh = (%v, %v), expected change", changed, err)
	}
	if tr.FrameID() != 1000 {
		t.Errorf("FrameID() = %d, expected 1000", tr.FrameID())
	}

	changed, _ = tr.Refresh(ctx, 1)
	if changed {
		t.Error("same frame reported as a change")
	}

	// Stepping moves the line within the same frame.
	src.frames[1][0].Line = 119
	if changed, _ := tr.Refresh(ctx, 1); !changed {
		t.Error("line change not reported")
	}

	if changed, _ := tr.Select(1); !changed {
		t.Error("selecting the caller not reported")
	}
	if _, f := tr.Current(); f.FormatLocation() != "<unknown>:200" {
		t.Errorf("location = %q", f.FormatLocation())
	}
	if _, err := tr.Select(5); err == nil {
		t.Error("expected error for out of range frame")
	}
	if len(tr.Frames()) != 2 {
		t.Errorf("frames = %d, expected 2", len(tr.Frames()))
	}

	// Another thread stopped in an identical frame is still a change.
	src.frames[2] = []dap.StackFrame{{ID: 1001, Name: "main", Line: 200}}
	if changed, _ := tr.Refresh(ctx, 2); !changed {
		t.Error("thread switch not reported")
	}
	if th, _ := tr.Current(); th != 2 {
		t.Errorf("thread = %d, expected 2", th)
	}

	if _, err := tr.Refresh(ctx, 42); err == nil {
		t.Error("expected error for thread without frames")
	}

	tr.Reset()
	if tr.FrameID() != 0 {
		t.Error("Reset kept the selection")
	}
}
