package decode

import (
	"errors"
	"math"
	"testing"

	"github.com/dshills/debugmate/internal/model"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		depth   model.Depth
		values  []float64
		epsilon float64
	}{
		{model.U8, []float64{0, 1, 127, 128, 255}, 0},
		{model.S8, []float64{-128, -1, 0, 1, 127}, 0},
		{model.U16, []float64{0, 1, 40000, 65535}, 0},
		{model.S16, []float64{-32768, -1, 0, 32767}, 0},
		{model.S32, []float64{math.MinInt32, -1, 0, 1, math.MaxInt32}, 0},
		{model.F32, []float64{-1.5, 0, 0.1, 3.14159, 1e30}, 1e-6},
		{model.F64, []float64{-1.5, 0, 0.1, math.Pi, 1e300}, 0},
		{model.F16, []float64{-2, 0, 0.5, 1.0009765625, 65504}, 1e-3},
	}

	for _, tt := range tests {
		t.Run(tt.depth.String(), func(t *testing.T) {
			data, err := Encode(tt.values, tt.depth)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if len(data) != len(tt.values)*tt.depth.Size() {
				t.Fatalf("encoded %d bytes, expected %d", len(data), len(tt.values)*tt.depth.Size())
			}

			got, err := Decode(data, model.Layout{Depth: tt.depth, Channels: 1, Count: len(tt.values)})
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			for i, want := range tt.values {
				diff := math.Abs(got[i] - want)
				if tt.epsilon == 0 && diff != 0 {
					t.Errorf("value %d = %v, expected exactly %v", i, got[i], want)
				}
				if tt.epsilon > 0 && diff > tt.epsilon*math.Max(1, math.Abs(want)) {
					t.Errorf("value %d = %v, expected %v within %g", i, got[i], want, tt.epsilon)
				}
			}
		})
	}
}

func TestDecodeChannels(t *testing.T) {
	// Two BGR pixels.
	data := []byte{1, 2, 3, 4, 5, 6}
	got, err := Decode(data, model.Layout{Depth: model.U8, Channels: 3, Count: 2})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for i, want := range []float64{1, 2, 3, 4, 5, 6} {
		if got[i] != want {
			t.Errorf("scalar %d = %v, expected %v", i, got[i], want)
		}
	}
}

func TestDecodeSizeMismatch(t *testing.T) {
	_, err := Decode(make([]byte, 7), model.Layout{Depth: model.F32, Channels: 1, Count: 2})
	if !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("expected ErrSizeMismatch, got %v", err)
	}
}

func TestEncodeSaturates(t *testing.T) {
	data, err := Encode([]float64{-5, 300, 1.5, 2.5, math.NaN()}, model.U8)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0, 255, 2, 2, 0}
	for i := range want {
		if data[i] != want[i] {
			t.Errorf("byte %d = %d, expected %d", i, data[i], want[i])
		}
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in    string
		depth model.Depth
		want  float64
	}{
		{"65 'A'", model.U8, 65},
		{"255 '\\377'", model.U8, 255},
		{"-1 '\\377'", model.S8, -1},
		{"0x2a", model.S32, 42},
		{"1.5", model.F32, 1.5},
		{"-2.5e+10", model.F64, -2.5e10},
		{"3.0f", model.F32, 3},
		{"inf", model.F32, math.Inf(1)},
		{"-inf", model.F64, math.Inf(-1)},
		{"15360", model.F16, 1},
	}

	for _, tt := range tests {
		got, err := ParseValue(tt.in, tt.depth)
		if err != nil {
			t.Errorf("ParseValue(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseValue(%q) = %v, expected %v", tt.in, got, tt.want)
		}
	}

	for _, in := range []string{"nan", "-nan(0x8000000000000)", "1.#QNAN"} {
		got, err := ParseValue(in, model.F32)
		if err != nil || !math.IsNaN(got) {
			t.Errorf("ParseValue(%q) = %v, %v; expected NaN", in, got, err)
		}
	}

	if _, err := ParseValue("<error>", model.S32); err == nil {
		t.Error("expected error for unparsable value")
	}
}

func TestPoints(t *testing.T) {
	pts := Points([]float64{1, 2, 3, 4, 5, 6, 7})
	if len(pts) != 2 {
		t.Fatalf("len = %d, expected 2", len(pts))
	}
	if pts[1] != (Point3{4, 5, 6}) {
		t.Errorf("point 1 = %+v", pts[1])
	}
}

func TestBounds(t *testing.T) {
	pts := Points([]float64{
		1, -2, 3,
		math.NaN(), 100, 100,
		-4, 5, 0.5,
		0, math.Inf(-1), 0,
	})
	lo, hi, ok := Bounds(pts)
	if !ok {
		t.Fatal("Bounds reported no finite point")
	}
	if lo != (Point3{-4, -2, 0.5}) {
		t.Errorf("lo = %+v, expected {-4 -2 0.5}", lo)
	}
	if hi != (Point3{1, 5, 3}) {
		t.Errorf("hi = %+v, expected {1 5 3}", hi)
	}
	if _, _, ok := Bounds(Points([]float64{math.NaN(), 0, 0})); ok {
		t.Error("expected ok=false with no finite point")
	}
	if _, _, ok := Bounds(nil); ok {
		t.Error("expected ok=false for no points")
	}
}

func TestStats(t *testing.T) {
	lo, hi, ok := Stats([]float64{math.NaN(), 3, -1, math.Inf(1), 7})
	if !ok || lo != -1 || hi != 7 {
		t.Errorf("Stats = (%v, %v, %v), expected (-1, 7, true)", lo, hi, ok)
	}
	if _, _, ok := Stats([]float64{math.NaN()}); ok {
		t.Error("expected ok=false with no finite values")
	}
}
