package panel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshills/debugmate/internal/freshness"
	"github.com/dshills/debugmate/internal/model"
)

type fakeResumer struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (f *fakeResumer) Resume(ctx context.Context) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.calls.Add(1)
	return f.err
}

func addr(a model.Address) *model.Address { return &a }

func TestGetOrCreateIdempotent(t *testing.T) {
	r := NewRegistry()

	p1, created := r.GetOrCreate(model.ViewMat, "img", "s1", "img", true, nil)
	if !created {
		t.Fatal("first call did not create a panel")
	}
	p2, created := r.GetOrCreate(model.ViewMat, "img", "s1", "img", true, nil)
	if created || p2 != p1 {
		t.Error("second call did not return the existing panel")
	}
	if p1.Reveals() != 2 {
		t.Errorf("reveals = %d, expected 2", p1.Reveals())
	}
	if p1.ID == "" {
		t.Error("panel has no ID")
	}

	// No reveal requested.
	r.GetOrCreate(model.ViewMat, "img", "s1", "img", false, nil)
	if p1.Reveals() != 2 {
		t.Errorf("reveals = %d after silent lookup, expected 2", p1.Reveals())
	}
}

func TestSessionsDoNotCollide(t *testing.T) {
	r := NewRegistry()
	a, _ := r.GetOrCreate(model.ViewMat, "img", "s1", "img", false, addr(0x1000))
	b, created := r.GetOrCreate(model.ViewMat, "img", "s2", "img", false, addr(0x1000))
	if !created || a == b {
		t.Error("same variable in two sessions shared a panel")
	}
	if a.ID == b.ID {
		t.Error("panel IDs collide")
	}
	if got, _ := r.LookupAddress("s2", 0x1000); got != b {
		t.Error("address lookup crossed sessions")
	}
}

func TestPointerAndPointeeShareOnePanel(t *testing.T) {
	res := &fakeResumer{}
	r := NewRegistry(WithResumer(res))

	p, _ := r.GetOrCreate(model.ViewPlot, "p", "s1", "p", true, addr(0x602000001000))
	deref, created := r.GetOrCreate(model.ViewPlot, "*p", "s1", "*(p)", true, addr(0x602000001000))
	if created || deref != p {
		t.Fatal("pointer and pointee did not share a panel")
	}
	if len(p.Keys()) != 2 {
		t.Errorf("keys = %v, expected owner plus one alias", p.Keys())
	}

	if !r.Dispose(context.Background(), deref) {
		t.Fatal("Dispose reported already disposed")
	}
	for _, v := range []string{"p", "*(p)"} {
		if _, ok := r.Lookup(model.PanelKey{View: model.ViewPlot, SessionID: "s1", VariableKey: v}); ok {
			t.Errorf("key %q still registered after disposal", v)
		}
	}
	if _, ok := r.LookupAddress("s1", 0x602000001000); ok {
		t.Error("address link survived disposal")
	}
	if _, ok := r.Get(p.ID); ok {
		t.Error("ID lookup survived disposal")
	}
	if !p.Disposed() {
		t.Error("panel not marked disposed")
	}

	r.Wait()
	if res.calls.Load() != 1 {
		t.Errorf("resume calls = %d, expected 1", res.calls.Load())
	}
	if r.Dispose(context.Background(), p) {
		t.Error("second Dispose reported success")
	}
}

func TestDifferentViewsDoNotAlias(t *testing.T) {
	r := NewRegistry()
	a, _ := r.GetOrCreate(model.ViewMat, "img", "s1", "img", false, addr(0x1000))
	b, created := r.GetOrCreate(model.ViewPlot, "row", "s1", "row", false, addr(0x1000))
	if !created || a == b {
		t.Error("panels of different views were aliased")
	}
}

func TestPurgeAddressesOnStep(t *testing.T) {
	r := NewRegistry()
	p, _ := r.GetOrCreate(model.ViewMat, "a", "s1", "a", false, addr(0x1000))
	r.GetOrCreate(model.ViewMat, "b", "s1", "b", false, addr(0x1000))
	other, _ := r.GetOrCreate(model.ViewMat, "a", "s2", "a", false, addr(0x1000))

	if n := r.PurgeAddresses("s1"); n != 1 {
		t.Errorf("PurgeAddresses = %d, expected 1", n)
	}
	if _, ok := r.LookupAddress("s1", 0x1000); ok {
		t.Error("address link survived step")
	}
	if _, ok := r.LookupAddress("s2", 0x1000); !ok {
		t.Error("other session's link was purged")
	}
	if _, ok := p.Address(); ok {
		t.Error("panel still reports its old address")
	}

	// The alias is gone; "b" at the reused address gets its own panel.
	b, created := r.GetOrCreate(model.ViewMat, "b", "s1", "b", false, nil)
	if !created || b == p {
		t.Error("stale alias reused after step")
	}
	if got, _ := r.Lookup(model.PanelKey{View: model.ViewMat, SessionID: "s1", VariableKey: "a"}); got != p {
		t.Error("owner key lost on step")
	}
	if other.Disposed() {
		t.Error("other session panel disposed")
	}
}

func TestAttachMovesLink(t *testing.T) {
	r := NewRegistry()
	p, _ := r.GetOrCreate(model.ViewMat, "a", "s1", "a", false, addr(0x1000))
	r.Attach(p, 0x2000)

	if _, ok := r.LookupAddress("s1", 0x1000); ok {
		t.Error("old link kept after Attach")
	}
	if got, ok := r.LookupAddress("s1", 0x2000); !ok || got != p {
		t.Error("new link missing after Attach")
	}
	if a, _ := p.Address(); a != 0x2000 {
		t.Errorf("address = %v, expected 0x2000", a)
	}
}

func TestDisposeDoesNotBlockOnResume(t *testing.T) {
	res := &fakeResumer{delay: 200 * time.Millisecond, err: errors.New("not stopped")}
	r := NewRegistry(WithResumer(res), WithResumeTimeout(time.Second))
	p, _ := r.GetOrCreate(model.ViewMat, "img", "s1", "img", false, nil)

	start := time.Now()
	r.Dispose(context.Background(), p)
	if time.Since(start) > 100*time.Millisecond {
		t.Errorf("Dispose blocked for %v", time.Since(start))
	}
	if _, ok := r.Lookup(p.Key); ok {
		t.Error("entry not removed synchronously")
	}
	r.Wait()
	if res.calls.Load() != 1 {
		t.Errorf("resume calls = %d, expected 1", res.calls.Load())
	}
}

func TestDisposeSession(t *testing.T) {
	res := &fakeResumer{}
	r := NewRegistry(WithResumer(res))
	r.GetOrCreate(model.ViewMat, "a", "s1", "a", false, addr(0x10))
	r.GetOrCreate(model.ViewPlot, "b", "s1", "b", false, nil)
	keep, _ := r.GetOrCreate(model.ViewMat, "a", "s2", "a", false, nil)

	gone := r.DisposeSession("s1")
	if len(gone) != 2 {
		t.Errorf("disposed %d panels, expected 2", len(gone))
	}
	if panels := r.Panels(); len(panels) != 1 || panels[0] != keep {
		t.Errorf("remaining panels = %v, expected only s2", panels)
	}
	r.Wait()
	if res.calls.Load() != 0 {
		t.Errorf("resume calls = %d, expected none on session end", res.calls.Load())
	}
}

func TestPanelToken(t *testing.T) {
	r := NewRegistry()
	p, _ := r.GetOrCreate(model.ViewMat, "img", "s1", "img", false, nil)
	if _, ok := p.Token(); ok {
		t.Error("new panel has a token")
	}
	tok := freshness.NewToken(4, 0x10, []byte{1, 2})
	p.SetToken(tok)
	if got, ok := p.Token(); !ok || got != tok {
		t.Error("token not stored")
	}
}

func TestConcurrentGetOrCreate(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	panels := make([]*Panel, 16)
	for i := range panels {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			panels[i], _ = r.GetOrCreate(model.ViewMat, "img", "s1", "img", true, addr(0x1000))
		}(i)
	}
	wg.Wait()

	for i, p := range panels {
		if p != panels[0] {
			t.Errorf("goroutine %d got a different panel", i)
		}
	}
	if panels[0].Reveals() != 16 {
		t.Errorf("reveals = %d, expected 16", panels[0].Reveals())
	}
}

func TestKeysConvergingOnOneAddressMerge(t *testing.T) {
	var merged [][2]*Panel
	res := &fakeResumer{}
	r := NewRegistry(WithResumer(res), WithOnMerge(func(from, into *Panel) {
		merged = append(merged, [2]*Panel{from, into})
	}))

	a, _ := r.GetOrCreate(model.ViewMat, "a", "s1", "a", false, addr(0x1000))
	b, _ := r.GetOrCreate(model.ViewMat, "b", "s1", "b", false, addr(0x2000))
	if a == b {
		t.Fatal("distinct addresses shared a panel")
	}
	r.PurgeAddresses("s1")

	a2, _ := r.GetOrCreate(model.ViewMat, "a", "s1", "a", false, addr(0x3000))
	b2, created := r.GetOrCreate(model.ViewMat, "b", "s1", "b", true, addr(0x3000))
	if created || a2 != a || b2 != a {
		t.Fatalf("a2 == b2 is %v, expected both keys on panel %s", a2 == b2, a.ID)
	}
	n := 0
	for _, p := range r.Panels() {
		if got, _ := p.Address(); got == 0x3000 {
			n++
		}
	}
	if n != 1 {
		t.Errorf("%d panels at 0x3000, expected 1", n)
	}
	if !b.Disposed() {
		t.Error("merged panel not disposed")
	}
	if _, ok := r.Get(b.ID); ok {
		t.Error("merged panel still registered by ID")
	}
	if got, _ := r.Lookup(model.PanelKey{View: model.ViewMat, SessionID: "s1", VariableKey: "b"}); got != a {
		t.Error("key b does not point at the surviving panel")
	}
	if len(a.Keys()) != 2 {
		t.Errorf("keys = %v, expected a plus alias b", a.Keys())
	}
	if a.Reveals() != 1 {
		t.Errorf("reveals = %d, expected 1", a.Reveals())
	}
	if len(merged) != 1 || merged[0][0] != b || merged[0][1] != a {
		t.Errorf("merge callback = %v, expected one (b, a)", merged)
	}
	r.Wait()
	if res.calls.Load() != 0 {
		t.Errorf("resume calls = %d, expected none on merge", res.calls.Load())
	}
}
