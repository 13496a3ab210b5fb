package viewsync

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	states map[string][]ViewState
}

func newRecorder() *recorder {
	return &recorder{states: make(map[string][]ViewState)}
}

func (r *recorder) apply(key string, s ViewState) {
	r.mu.Lock()
	r.states[key] = append(r.states[key], s)
	r.mu.Unlock()
}

func (r *recorder) get(key string) []ViewState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ViewState(nil), r.states[key]...)
}

func TestJoinInheritsGroupState(t *testing.T) {
	rec := newRecorder()
	b := New(rec.apply)
	defer b.Close()

	if _, inherit := b.Join("G", "B"); inherit {
		t.Error("joining an empty group inherited a state")
	}
	b.OnViewChanged("B", ViewState{Zoom: 2.5, OffsetX: 10}, true)

	state, inherit := b.Join("G", "A")
	if !inherit {
		t.Fatal("A did not inherit the group state")
	}
	want := ViewState{Zoom: 2.5, OffsetX: 10}
	if !state.Equal(want) {
		t.Errorf("inherited state = %+v, expected %+v", state, want)
	}
	got := rec.get("A")
	if len(got) != 1 || !got[0].Equal(want) {
		t.Errorf("A received %+v, expected exactly one %+v", got, want)
	}
}

func TestJoinQueriesMemberWithoutState(t *testing.T) {
	rec := newRecorder()
	var asked []string
	b := New(rec.apply, WithQuerier(func(key string) { asked = append(asked, key) }))
	defer b.Close()

	b.Join("G", "c")
	if len(asked) != 0 {
		t.Errorf("queried %v when joining an empty group", asked)
	}
	b.Join("G", "b")
	if len(asked) != 1 || asked[0] != "c" {
		t.Fatalf("queried %v, expected [c]", asked)
	}
	b.Join("G", "a")
	if len(asked) != 2 || asked[1] != "b" {
		t.Fatalf("queried %v, expected the smallest other member b", asked)
	}

	// The answer arrives as an ordinary change and reaches the joiners.
	b.OnViewChanged("b", ViewState{Zoom: 1.5}, true)
	for _, k := range []string{"a", "c"} {
		if got := rec.get(k); len(got) != 1 || got[0].Zoom != 1.5 {
			t.Errorf("%s received %+v, expected zoom 1.5", k, got)
		}
	}

	// Once the group has a state, joiners adopt it without a query.
	b.Join("G", "d")
	if len(asked) != 2 {
		t.Errorf("queried %v after the group had a state", asked)
	}
}

func TestOriginatorExcluded(t *testing.T) {
	rec := newRecorder()
	b := New(rec.apply)
	defer b.Close()

	for _, k := range []string{"a", "b", "c"} {
		b.Join("G", k)
	}
	b.OnViewChanged("a", ViewState{Zoom: 3}, true)

	if len(rec.get("a")) != 0 {
		t.Error("originator received its own broadcast")
	}
	for _, k := range []string{"b", "c"} {
		if got := rec.get(k); len(got) != 1 || got[0].Zoom != 3 {
			t.Errorf("%s received %+v, expected zoom 3", k, got)
		}
	}
}

func TestThrottledDragConverges(t *testing.T) {
	rec := newRecorder()
	b := New(rec.apply, WithInterval(30*time.Millisecond))
	defer b.Close()

	b.Join("G", "a")
	b.Join("G", "b")

	const moves = 50
	for i := 1; i <= moves; i++ {
		b.OnViewChanged("a", ViewState{Zoom: 1, OffsetX: float64(i)}, false)
		time.Sleep(time.Millisecond)
	}
	b.OnViewChanged("a", ViewState{Zoom: 1, OffsetX: 999}, true)

	// Let any in-flight leading edge land.
	time.Sleep(60 * time.Millisecond)

	got := rec.get("b")
	if len(got) == 0 || len(got) >= moves {
		t.Fatalf("b received %d updates, expected throttling below %d", len(got), moves)
	}
	if last := got[len(got)-1]; last.OffsetX != 999 {
		t.Errorf("final state = %+v, expected offset 999", last)
	}
	if s, _ := b.State("G"); s.OffsetX != 999 {
		t.Errorf("group state = %+v, expected offset 999", s)
	}
}

func TestJoinDuringThrottleSeesLatest(t *testing.T) {
	b := New(nil, WithInterval(time.Hour))
	defer b.Close()

	b.Join("G", "a")
	b.OnViewChanged("a", ViewState{Zoom: 1}, false)
	b.OnViewChanged("a", ViewState{Zoom: 4}, false)

	state, ok := b.Join("G", "late")
	if !ok || state.Zoom != 4 {
		t.Errorf("late joiner got %+v, expected zoom 4", state)
	}
}

func TestLeaveDeletesEmptyGroup(t *testing.T) {
	b := New(nil)
	b.Join("G", "a")
	b.Join("G", "b")
	b.OnViewChanged("a", ViewState{Zoom: 2}, true)

	b.Leave("a")
	if m := b.Members("G"); len(m) != 1 || m[0] != "b" {
		t.Errorf("members = %v, expected [b]", m)
	}
	b.Leave("b")
	if m := b.Members("G"); m != nil {
		t.Errorf("members = %v after last leave, expected nil", m)
	}
	if _, ok := b.State("G"); ok {
		t.Error("state survived the group")
	}

	// A new group under the same ID starts clean.
	if _, inherit := b.Join("G", "c"); inherit {
		t.Error("recreated group inherited old state")
	}
}

func TestJoinMovesBetweenGroups(t *testing.T) {
	b := New(nil)
	b.Join("G1", "a")
	b.Join("G2", "a")

	if g, _ := b.GroupOf("a"); g != "G2" {
		t.Errorf("GroupOf = %q, expected G2", g)
	}
	if m := b.Members("G1"); m != nil {
		t.Errorf("G1 members = %v, expected none", m)
	}
}

func TestChangeOutsideGroupIgnored(t *testing.T) {
	var calls atomic.Int32
	b := New(func(string, ViewState) { calls.Add(1) })
	b.OnViewChanged("loner", ViewState{Zoom: 2}, true)
	if calls.Load() != 0 {
		t.Errorf("apply called %d times, expected 0", calls.Load())
	}
}

func TestCameraState(t *testing.T) {
	rec := newRecorder()
	b := New(rec.apply)
	defer b.Close()

	b.Join("G", "cloud_f")
	b.Join("G", "cloud_d")
	cam := &Camera{Position: [3]float64{0, 0, 5}, Up: [3]float64{0, 1, 0}, FOV: 60}
	b.OnViewChanged("cloud_f", ViewState{Zoom: 1, Camera: cam}, true)

	got := rec.get("cloud_d")
	if len(got) != 1 || got[0].Camera == nil || got[0].Camera.Position[2] != 5 {
		t.Errorf("cloud_d received %+v, expected the camera", got)
	}
}

func TestThrottler(t *testing.T) {
	var calls atomic.Int32
	th := NewThrottler(40*time.Millisecond, func() { calls.Add(1) })

	th.Call() // leading
	for i := 0; i < 10; i++ {
		th.Call()
	}
	if !th.Pending() {
		t.Error("no trailing call pending")
	}
	time.Sleep(100 * time.Millisecond)
	if n := calls.Load(); n != 2 {
		t.Errorf("calls = %d, expected leading plus trailing", n)
	}

	th.Call()
	time.Sleep(5 * time.Millisecond)
	th.Call()
	th.Cancel()
	time.Sleep(80 * time.Millisecond)
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d after Cancel, expected 3", n)
	}
}
