package resolve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/debugmate/internal/backend"
	"github.com/dshills/debugmate/internal/chain"
	"github.com/dshills/debugmate/internal/debugtest"
	"github.com/dshills/debugmate/internal/model"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		value   string
		want    model.Address
		wantErr bool
	}{
		{"0x5555557a0c10", 0x5555557a0c10, false},
		{`(uchar *) 0x5555557a0c10 "\377\377"`, 0x5555557a0c10, false},
		{"(float *) 0x7ffe00001000", 0x7ffe00001000, false},
		{"0x000001f2c3a04e80 {1.0, 2.0}", 0x1f2c3a04e80, false},
		{"93824994379792", 93824994379792, false},
		{" 4096 ", 4096, false},
		{"0x0", 0, true},
		{"0", 0, true},
		{"(uchar *) 0x0", 0, true},
		{"<optimized out>", 0, true},
		{"-12", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := ParseAddress(tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseAddress(%q) = %v, expected error", tt.value, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q): %v", tt.value, err)
			}
			if got != tt.want {
				t.Errorf("ParseAddress(%q) = %v, expected %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestResolveFirstCandidate(t *testing.T) {
	d := debugtest.New()
	d.Set("(long long)img.data", "93824994379792")

	r := New(d)
	addr, err := r.Resolve(context.Background(), model.Handle{Expression: "img"}, model.FamilyMat, backend.For(backend.GDB))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if addr != model.Address(93824994379792) {
		t.Errorf("address = %d, expected 93824994379792", addr)
	}
	if d.Evaluations() != 1 {
		t.Errorf("evaluations = %d, expected 1", d.Evaluations())
	}
}

func TestResolveFallsThrough(t *testing.T) {
	tests := []struct {
		name  string
		kind  backend.Kind
		setup func(d *debugtest.Debugger)
		want  model.Address
	}{
		{
			name: "libc++ vector under gdb",
			kind: backend.GDB,
			setup: func(d *debugtest.Debugger) {
				d.Set("v.__begin_", "(float *) 0x602000001000")
			},
			want: 0x602000001000,
		},
		{
			name: "null candidate is skipped",
			kind: backend.GDB,
			setup: func(d *debugtest.Debugger) {
				d.Set("(long long)v._M_impl._M_start", "0")
				d.Set("v._M_impl._M_start", "(float *) 0x0")
				d.Set("&(v)[0]", "(float *) 0x602000002000")
			},
			want: 0x602000002000,
		},
		{
			name: "MSVC vector",
			kind: backend.VSDBG,
			setup: func(d *debugtest.Debugger) {
				d.Fail("(__int64)v._Mypair._Myval2._Myfirst", errors.New("cast not supported"))
				d.Set("v._Mypair._Myval2._Myfirst", "0x000001f2c3a04e80 {x=1.0 y=2.0 z=3.0}")
			},
			want: 0x1f2c3a04e80,
		},
		{
			name: "timed out candidate is a strategy failure",
			kind: backend.LLDB,
			setup: func(d *debugtest.Debugger) {
				d.SetValue("(uintptr_t)v.__begin_", debugtest.Value{Result: "0x1000", Delay: time.Second})
				d.Set("v.__begin_", "0x602000003000")
			},
			want: 0x602000003000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := debugtest.New()
			tt.setup(d)

			r := New(d, WithAttemptTimeout(20*time.Millisecond))
			addr, err := r.Resolve(context.Background(), model.Handle{Expression: "v"}, model.FamilyVector, backend.For(tt.kind))
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if addr != tt.want {
				t.Errorf("address = %v, expected %v", addr, tt.want)
			}
		})
	}
}

func TestResolveExhausted(t *testing.T) {
	d := debugtest.New()
	d.Set("(long long)img.data", "0")

	b := backend.For(backend.GDB)
	_, err := New(d).Resolve(context.Background(), model.Handle{Expression: "img"}, model.FamilyMat, b)
	if !errors.Is(err, ErrResolutionFailed) {
		t.Fatalf("expected ErrResolutionFailed, got %v", err)
	}
	if !errors.Is(err, chain.ErrExhausted) {
		t.Errorf("expected wrapped ErrExhausted, got %v", err)
	}
	if got, want := d.Evaluations(), len(b.AddressCandidates(model.FamilyMat, "img")); got != want {
		t.Errorf("evaluations = %d, expected %d", got, want)
	}
}

func TestResolveCancelled(t *testing.T) {
	d := debugtest.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(d).Resolve(ctx, model.Handle{Expression: "img"}, model.FamilyMat, backend.For(backend.GDB))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrResolutionFailed) {
		t.Error("cancellation should not be reported as a resolution failure")
	}
}
