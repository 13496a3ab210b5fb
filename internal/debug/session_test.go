package debug

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dshills/debugmate/internal/backend"
	"github.com/dshills/debugmate/internal/debug/dap"
)

// mockTransport implements dap.Transport for testing. Every request is
// answered by respond; events returned alongside are delivered before the
// response.
type mockTransport struct {
	mu       sync.Mutex
	sent     []dap.Request
	recvChan chan *dap.Message
	closed   bool
	respond  func(req dap.Request) (body interface{}, events []dap.Event)
}

func newMockTransport(respond func(req dap.Request) (interface{}, []dap.Event)) *mockTransport {
	return &mockTransport{
		recvChan: make(chan *dap.Message, 32),
		respond:  respond,
	}
}

func (t *mockTransport) Send(msg *dap.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return io.ErrClosedPipe
	}

	var req dap.Request
	json.Unmarshal(msg.Content, &req)
	t.sent = append(t.sent, req)

	var body interface{}
	var events []dap.Event
	if t.respond != nil {
		body, events = t.respond(req)
	}
	for _, e := range events {
		e.Type = "event"
		t.push(e)
	}
	raw, _ := json.Marshal(body)
	t.push(dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Type: "response"},
		RequestSeq:      req.Seq,
		Success:         true,
		Command:         req.Command,
		Body:            raw,
	})
	return nil
}

func (t *mockTransport) push(v interface{}) {
	content, _ := json.Marshal(v)
	t.recvChan <- &dap.Message{ContentLength: len(content), Content: content}
}

// emit delivers an event outside any request.
func (t *mockTransport) emit(name string, body interface{}) {
	raw, _ := json.Marshal(body)
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.push(dap.Event{ProtocolMessage: dap.ProtocolMessage{Type: "event"}, Event: name, Body: raw})
	}
}

func (t *mockTransport) Receive() (*dap.Message, error) {
	msg, ok := <-t.recvChan
	if !ok {
		return nil, io.EOF
	}
	return msg, nil
}

func (t *mockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.recvChan)
	}
	return nil
}

func (t *mockTransport) commands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.sent))
	for i, r := range t.sent {
		out[i] = r.Command
	}
	return out
}

func event(name string, body interface{}) dap.Event {
	raw, _ := json.Marshal(body)
	return dap.Event{Event: name, Body: raw}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestSession(t *testing.T, adapter string, respond func(dap.Request) (interface{}, []dap.Event)) (*Session, *mockTransport) {
	t.Helper()
	mt := newMockTransport(respond)
	s := NewSession(dap.NewClient(mt), adapter)
	t.Cleanup(func() { s.Close() })
	return s, mt
}

func TestSessionStateString(t *testing.T) {
	tests := []struct {
		state SessionState
		want  string
	}{
		{StateInitializing, "initializing"},
		{StateConnected, "connected"},
		{StateConfiguring, "configuring"},
		{StateRunning, "running"},
		{StateStopped, "stopped"},
		{StateTerminated, "terminated"},
		{StateDisconnected, "disconnected"},
		{SessionState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("SessionState(%d).String() = %q, expected %q", tt.state, got, tt.want)
		}
	}
}

func TestSessionBackend(t *testing.T) {
	tests := []struct {
		adapter string
		want    backend.Kind
	}{
		{"cppdbg", backend.GDB},
		{"lldb", backend.LLDB},
		{"lldb-dap", backend.LLDB},
		{"cppvsdbg", backend.VSDBG},
		{"python", backend.Unknown},
	}

	for _, tt := range tests {
		s, _ := newTestSession(t, tt.adapter, nil)
		if s.Backend() != tt.want {
			t.Errorf("Backend() for %q = %v, expected %v", tt.adapter, s.Backend(), tt.want)
		}
		if s.ID() == "" {
			t.Error("session has no ID")
		}
	}
}

func TestSessionInitializeCapabilities(t *testing.T) {
	s, _ := newTestSession(t, "cppdbg", func(req dap.Request) (interface{}, []dap.Event) {
		if req.Command == "initialize" {
			return dap.Capabilities{SupportsReadMemoryRequest: true, SupportsConfigurationDoneRequest: true}, nil
		}
		return nil, nil
	})

	if s.SupportsReadMemory() {
		t.Error("readMemory supported before initialize")
	}
	if err := s.Initialize(testContext(t), DefaultSessionConfig()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !s.SupportsReadMemory() {
		t.Error("readMemory capability not recorded")
	}
	if s.State() != StateConfiguring {
		t.Errorf("state = %v, expected configuring", s.State())
	}
}

func TestSessionStart(t *testing.T) {
	s, mt := newTestSession(t, "cppdbg", func(req dap.Request) (interface{}, []dap.Event) {
		switch req.Command {
		case "launch":
			return nil, []dap.Event{event("initialized", nil)}
		case "setBreakpoints":
			return dap.SetBreakpointsResponseBody{Breakpoints: []dap.Breakpoint{{Verified: true, Line: 118}}}, nil
		case "configurationDone":
			return nil, []dap.Event{event("stopped", dap.StoppedEventBody{Reason: "breakpoint", ThreadID: 1})}
		}
		return nil, nil
	})

	ctx := testContext(t)
	err := s.Start(ctx, "launch", map[string]interface{}{"program": "./a.out"}, func(ctx context.Context) error {
		bps, err := s.SetBreakpoints(ctx, "main.cpp", []int{118})
		if err != nil {
			return err
		}
		if len(bps) != 1 || !bps[0].Verified {
			t.Errorf("breakpoints = %+v", bps)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := s.WaitForState(ctx, StateStopped); err != nil {
		t.Fatalf("WaitForState: %v", err)
	}
	want := []string{"launch", "setBreakpoints", "configurationDone"}
	got := mt.commands()
	if len(got) != len(want) {
		t.Fatalf("commands = %v, expected %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command %d = %s, expected %s", i, got[i], want[i])
		}
	}
	if s.StopReason() != "breakpoint" || s.CurrentThread() != 1 {
		t.Errorf("stop = %q on thread %d", s.StopReason(), s.CurrentThread())
	}
}

func TestSessionStartRejectsUnknownRequest(t *testing.T) {
	s, _ := newTestSession(t, "cppdbg", nil)
	if err := s.Start(testContext(t), "restart", nil, nil); err == nil {
		t.Error("expected error for unknown request")
	}
}

func TestSessionGeneration(t *testing.T) {
	s, mt := newTestSession(t, "lldb", nil)

	var mu sync.Mutex
	var stops []string
	terminated := make(chan struct{})
	s.SetHandlers(SessionHandlers{
		OnStopped: func(reason string, threadID int, allStopped bool) {
			mu.Lock()
			stops = append(stops, reason)
			mu.Unlock()
		},
		OnTerminated: func() { close(terminated) },
	})

	ctx := testContext(t)
	g0 := s.Generation()
	mt.emit("stopped", dap.StoppedEventBody{Reason: "step", ThreadID: 3})
	if _, err := s.WaitForState(ctx, StateStopped); err != nil {
		t.Fatal(err)
	}
	g1 := s.Generation()
	if g1 <= g0 {
		t.Errorf("generation did not advance on stop: %d -> %d", g0, g1)
	}

	mt.emit("continued", dap.ContinuedEventBody{ThreadID: 3})
	if _, err := s.WaitForState(ctx, StateRunning); err != nil {
		t.Fatal(err)
	}
	if s.Generation() <= g1 {
		t.Error("generation did not advance on continue")
	}

	mt.emit("terminated", dap.TerminatedEventBody{})
	select {
	case <-terminated:
	case <-ctx.Done():
		t.Fatal("terminated handler not called")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(stops) != 1 || stops[0] != "step" {
		t.Errorf("stops = %v, expected [step]", stops)
	}
}

func TestSessionResume(t *testing.T) {
	tests := []struct {
		reason     string
		wantResume bool
	}{
		{"pause", true},
		{"breakpoint", false},
		{"step", false},
		{"exception", false},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			s, mt := newTestSession(t, "cppdbg", nil)
			ctx := testContext(t)

			mt.emit("stopped", dap.StoppedEventBody{Reason: tt.reason, ThreadID: 7})
			if _, err := s.WaitForState(ctx, StateStopped); err != nil {
				t.Fatal(err)
			}
			if err := s.Resume(ctx); err != nil {
				t.Fatalf("Resume: %v", err)
			}

			resumed := false
			for _, c := range mt.commands() {
				if c == "continue" {
					resumed = true
				}
			}
			if resumed != tt.wantResume {
				t.Errorf("continue sent = %v, expected %v", resumed, tt.wantResume)
			}
		})
	}
}

func TestSessionResumeWhileRunning(t *testing.T) {
	s, mt := newTestSession(t, "cppdbg", nil)
	if err := s.Resume(testContext(t)); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if len(mt.commands()) != 0 {
		t.Errorf("commands = %v, expected none", mt.commands())
	}
}

func TestSessionReadMemory(t *testing.T) {
	s, mt := newTestSession(t, "cppdbg", func(req dap.Request) (interface{}, []dap.Event) {
		if req.Command == "readMemory" {
			return dap.ReadMemoryResponseBody{Address: "0x1000", Data: "AQID"}, nil
		}
		return nil, nil
	})

	resp, err := s.ReadMemory(testContext(t), "0x1000", 16, 3)
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if resp.Data != "AQID" {
		t.Errorf("data = %q, expected AQID", resp.Data)
	}

	mt.mu.Lock()
	defer mt.mu.Unlock()
	var args dap.ReadMemoryArguments
	json.Unmarshal(mt.sent[0].Arguments, &args)
	if args.MemoryReference != "0x1000" || args.Offset != 16 || args.Count != 3 {
		t.Errorf("arguments = %+v", args)
	}
}

func TestSessionCapabilitiesEvent(t *testing.T) {
	s, mt := newTestSession(t, "lldb", nil)
	mt.emit("capabilities", dap.CapabilitiesEventBody{Capabilities: dap.Capabilities{SupportsReadMemoryRequest: true}})

	deadline := time.Now().Add(time.Second)
	for !s.SupportsReadMemory() {
		if time.Now().After(deadline) {
			t.Fatal("capabilities event not applied")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWaitForStateTimeout(t *testing.T) {
	s, _ := newTestSession(t, "cppdbg", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.WaitForState(ctx, StateStopped); err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}
