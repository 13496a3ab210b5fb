package debug

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dshills/debugmate/internal/backend"
	"github.com/dshills/debugmate/internal/debug/dap"
)

// ErrNotStopped is returned by operations that need a stopped debuggee.
var ErrNotStopped = errors.New("debuggee is not stopped")

// SessionState represents the current state of a debug session.
type SessionState int

const (
	// StateInitializing is the initial state before connection.
	StateInitializing SessionState = iota
	// StateConnected is after transport is established.
	StateConnected
	// StateConfiguring is after initialize but before configurationDone.
	StateConfiguring
	// StateRunning is when the debuggee is running.
	StateRunning
	// StateStopped is when the debuggee is stopped (breakpoint, exception, etc).
	StateStopped
	// StateTerminated is when the debuggee has exited.
	StateTerminated
	// StateDisconnected is when the debug adapter has disconnected.
	StateDisconnected
)

// String returns a string representation of the state.
func (s SessionState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateConnected:
		return "connected"
	case StateConfiguring:
		return "configuring"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateTerminated:
		return "terminated"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// SessionHandlers contains callbacks for session events.
type SessionHandlers struct {
	// OnStateChanged is called when the session state changes.
	OnStateChanged func(old, new SessionState)

	// OnStopped is called when the debuggee stops.
	OnStopped func(reason string, threadID int, allStopped bool)

	// OnOutput is called when the debuggee produces output.
	OnOutput func(category, output string)

	// OnInvalidated is called when the adapter invalidates fetched state.
	OnInvalidated func(areas []string)

	// OnTerminated is called when the debuggee terminates.
	OnTerminated func()
}

// SessionConfig configures a debug session.
type SessionConfig struct {
	// AdapterID is the debug adapter identifier.
	AdapterID string

	// ClientID is this client's identifier.
	ClientID string

	// ClientName is this client's name.
	ClientName string
}

// DefaultSessionConfig returns a default session configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		AdapterID:  "cppdbg",
		ClientID:   "debugmate",
		ClientName: "debugmate",
	}
}

// Session is one debug session with a debug adapter.
type Session struct {
	id      string
	client  *dap.Client
	backend backend.Kind
	logger  *slog.Logger

	capabilities atomic.Pointer[dap.Capabilities]

	stateMu       sync.RWMutex
	state         SessionState
	stopReason    string
	currentThread int
	stateChanged  chan struct{}

	// generation advances whenever previously fetched frame data becomes
	// invalid: stops, continues and termination.
	generation atomic.Uint64

	initOnce    sync.Once
	initialized chan struct{}

	handlers   SessionHandlers
	handlersMu sync.RWMutex

	// Adapter command (for stdio transport)
	cmd *exec.Cmd
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the session logger.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = l
	}
}

// WithSessionID overrides the generated session ID.
func WithSessionID(id string) SessionOption {
	return func(s *Session) {
		s.id = id
	}
}

// WithCommand records the adapter process so Close can reap it.
func WithCommand(cmd *exec.Cmd) SessionOption {
	return func(s *Session) {
		s.cmd = cmd
	}
}

// NewSession creates a session over client. adapterType is the launch
// configuration type ("cppdbg", "lldb", "cppvsdbg", ...) and selects the
// debugger backend.
func NewSession(client *dap.Client, adapterType string, opts ...SessionOption) *Session {
	s := &Session{
		id:           uuid.New().String(),
		client:       client,
		backend:      backend.Detect(adapterType),
		state:        StateConnected,
		stateChanged: make(chan struct{}),
		initialized:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.capabilities.Store(&dap.Capabilities{})

	client.OnInitialized(s.onInitialized)
	client.OnStopped(s.onStopped)
	client.OnContinued(s.onContinued)
	client.OnExited(s.onExited)
	client.OnTerminated(s.onTerminated)
	client.OnOutput(s.onOutput)
	client.OnCapabilities(s.onCapabilities)
	client.OnInvalidated(s.onInvalidated)

	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Backend returns the debugger backend behind the adapter.
func (s *Session) Backend() backend.Kind {
	return s.backend
}

// SetHandlers sets the session event handlers.
func (s *Session) SetHandlers(handlers SessionHandlers) {
	s.handlersMu.Lock()
	s.handlers = handlers
	s.handlersMu.Unlock()
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// StopReason returns the reason of the last stop.
func (s *Session) StopReason() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.stopReason
}

// CurrentThread returns the thread of the last stop.
func (s *Session) CurrentThread() int {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.currentThread
}

// Generation returns a counter that changes whenever frame data fetched
// earlier may no longer be valid.
func (s *Session) Generation() uint64 {
	return s.generation.Load()
}

func (s *Session) setState(state SessionState) {
	s.stateMu.Lock()
	old := s.state
	s.state = state
	close(s.stateChanged)
	s.stateChanged = make(chan struct{})
	s.stateMu.Unlock()

	s.logger.Debug("session state", "session", s.id, "state", state.String())

	s.handlersMu.RLock()
	handler := s.handlers.OnStateChanged
	s.handlersMu.RUnlock()

	if handler != nil {
		handler(old, state)
	}
}

// WaitForState blocks until the session enters one of the given states and
// returns it.
func (s *Session) WaitForState(ctx context.Context, states ...SessionState) (SessionState, error) {
	for {
		s.stateMu.RLock()
		cur, ch := s.state, s.stateChanged
		s.stateMu.RUnlock()

		for _, st := range states {
			if cur == st {
				return cur, nil
			}
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return cur, ctx.Err()
		}
	}
}

// Capabilities returns the debug adapter capabilities.
func (s *Session) Capabilities() *dap.Capabilities {
	return s.capabilities.Load()
}

// SupportsReadMemory reports whether the adapter serves readMemory.
func (s *Session) SupportsReadMemory() bool {
	return s.capabilities.Load().SupportsReadMemoryRequest
}

// Initialize initializes the debug session.
func (s *Session) Initialize(ctx context.Context, config SessionConfig) error {
	args := dap.InitializeRequestArguments{
		ClientID:                 config.ClientID,
		ClientName:               config.ClientName,
		AdapterID:                config.AdapterID,
		LinesStartAt1:            true,
		ColumnsStartAt1:          true,
		PathFormat:               "path",
		SupportsVariableType:     true,
		SupportsMemoryReferences: true,
		SupportsInvalidatedEvent: true,
	}

	caps, err := s.client.Initialize(ctx, args)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	s.capabilities.Store(caps)
	s.setState(StateConfiguring)
	return nil
}

// Start sends a launch or attach request and completes the configuration
// handshake. Adapters answer the launch request only after
// configurationDone, so the request runs concurrently: once the adapter
// reports initialized, configure runs (set breakpoints here), then
// configurationDone is sent and the launch response is awaited.
func (s *Session) Start(ctx context.Context, request string, args interface{}, configure func(context.Context) error) error {
	if request != "launch" && request != "attach" {
		return fmt.Errorf("unknown start request %q", request)
	}

	done := make(chan error, 1)
	go func() {
		if request == "attach" {
			done <- s.client.Attach(ctx, args)
			return
		}
		done <- s.client.Launch(ctx, args)
	}()

	select {
	case <-s.initialized:
	case err := <-done:
		// Some adapters reply to launch before sending initialized.
		if err != nil {
			return fmt.Errorf("%s: %w", request, err)
		}
		select {
		case <-s.initialized:
		case <-ctx.Done():
			return ctx.Err()
		}
		done <- nil
	case <-ctx.Done():
		return ctx.Err()
	}

	if configure != nil {
		if err := configure(ctx); err != nil {
			return err
		}
	}
	if err := s.ConfigurationDone(ctx); err != nil {
		return err
	}

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s: %w", request, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConfigurationDone signals that configuration is complete.
func (s *Session) ConfigurationDone(ctx context.Context) error {
	if err := s.client.ConfigurationDone(ctx); err != nil {
		return fmt.Errorf("configurationDone: %w", err)
	}

	// The debuggee may already have stopped on entry.
	if s.State() != StateStopped {
		s.setState(StateRunning)
	}
	return nil
}

// Disconnect disconnects from the debug adapter.
func (s *Session) Disconnect(ctx context.Context, terminate bool) error {
	args := dap.DisconnectArguments{
		TerminateDebuggee: terminate,
	}

	if err := s.client.Disconnect(ctx, args); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}

	s.setState(StateDisconnected)
	return nil
}

// Close closes the session and underlying client.
func (s *Session) Close() error {
	s.setState(StateDisconnected)
	err := s.client.Close()
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Wait()
	}
	return err
}

// SetBreakpoints sets line breakpoints in a source file.
func (s *Session) SetBreakpoints(ctx context.Context, path string, lines []int) ([]dap.Breakpoint, error) {
	breakpoints := make([]dap.SourceBreakpoint, len(lines))
	for i, line := range lines {
		breakpoints[i] = dap.SourceBreakpoint{Line: line}
	}

	args := dap.SetBreakpointsArguments{
		Source:      dap.Source{Path: path},
		Breakpoints: breakpoints,
	}
	return s.client.SetBreakpoints(ctx, args)
}

// Continue resumes execution.
func (s *Session) Continue(ctx context.Context, threadID int) error {
	if _, err := s.client.Continue(ctx, dap.ContinueArguments{ThreadID: threadID}); err != nil {
		return err
	}

	s.generation.Add(1)
	s.setState(StateRunning)
	return nil
}

// Resume continues the debuggee if it sits in a pause the user did not ask
// for, such as one requested by a tool while evaluating. Stops at
// breakpoints, steps and exceptions are left alone.
func (s *Session) Resume(ctx context.Context) error {
	s.stateMu.RLock()
	state, reason, thread := s.state, s.stopReason, s.currentThread
	s.stateMu.RUnlock()

	if state != StateStopped || reason != "pause" {
		return nil
	}
	s.logger.Debug("resuming paused debuggee", "session", s.id, "thread", thread)
	return s.Continue(ctx, thread)
}

// Pause pauses execution.
func (s *Session) Pause(ctx context.Context, threadID int) error {
	return s.client.Pause(ctx, dap.PauseArguments{ThreadID: threadID})
}

// GetThreads retrieves the current threads.
func (s *Session) GetThreads(ctx context.Context) ([]dap.Thread, error) {
	return s.client.Threads(ctx)
}

// GetStackTrace retrieves the stack trace for a thread.
func (s *Session) GetStackTrace(ctx context.Context, threadID int, startFrame, levels int) ([]dap.StackFrame, int, error) {
	args := dap.StackTraceArguments{
		ThreadID:   threadID,
		StartFrame: startFrame,
		Levels:     levels,
	}

	result, err := s.client.StackTrace(ctx, args)
	if err != nil {
		return nil, 0, err
	}
	return result.StackFrames, result.TotalFrames, nil
}

// GetScopes retrieves the scopes for a stack frame.
func (s *Session) GetScopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	return s.client.Scopes(ctx, dap.ScopesArguments{FrameID: frameID})
}

// GetVariables retrieves variables from a scope or variable reference.
func (s *Session) GetVariables(ctx context.Context, variablesRef int) ([]dap.Variable, error) {
	return s.client.Variables(ctx, dap.VariablesArguments{VariablesReference: variablesRef})
}

// Evaluate evaluates an expression in a frame.
func (s *Session) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*dap.EvaluateResponseBody, error) {
	args := dap.EvaluateArguments{
		Expression: expression,
		FrameID:    frameID,
		Context:    evalContext,
	}
	return s.client.Evaluate(ctx, args)
}

// ReadMemory reads count bytes at offset from memoryReference.
func (s *Session) ReadMemory(ctx context.Context, memoryReference string, offset int64, count int) (*dap.ReadMemoryResponseBody, error) {
	args := dap.ReadMemoryArguments{
		MemoryReference: memoryReference,
		Offset:          offset,
		Count:           count,
	}
	return s.client.ReadMemory(ctx, args)
}

// Event handlers

func (s *Session) onInitialized() {
	s.initOnce.Do(func() { close(s.initialized) })
	s.setState(StateConfiguring)
}

func (s *Session) onStopped(body dap.StoppedEventBody) {
	s.stateMu.Lock()
	s.currentThread = body.ThreadID
	s.stopReason = body.Reason
	s.stateMu.Unlock()

	s.generation.Add(1)
	s.setState(StateStopped)

	s.handlersMu.RLock()
	handler := s.handlers.OnStopped
	s.handlersMu.RUnlock()

	if handler != nil {
		handler(body.Reason, body.ThreadID, body.AllThreadsStopped)
	}
}

func (s *Session) onContinued(body dap.ContinuedEventBody) {
	s.generation.Add(1)
	s.setState(StateRunning)
}

func (s *Session) onExited(body dap.ExitedEventBody) {
	s.logger.Info("debuggee exited", "session", s.id, "exit_code", body.ExitCode)
	s.setState(StateTerminated)
}

func (s *Session) onTerminated(body dap.TerminatedEventBody) {
	s.generation.Add(1)
	s.setState(StateTerminated)

	s.handlersMu.RLock()
	handler := s.handlers.OnTerminated
	s.handlersMu.RUnlock()

	if handler != nil {
		handler()
	}
}

func (s *Session) onOutput(body dap.OutputEventBody) {
	s.handlersMu.RLock()
	handler := s.handlers.OnOutput
	s.handlersMu.RUnlock()

	if handler != nil {
		handler(body.Category, body.Output)
	}
}

func (s *Session) onCapabilities(body dap.CapabilitiesEventBody) {
	caps := body.Capabilities
	s.capabilities.Store(&caps)
}

func (s *Session) onInvalidated(body dap.InvalidatedEventBody) {
	s.generation.Add(1)

	s.handlersMu.RLock()
	handler := s.handlers.OnInvalidated
	s.handlersMu.RUnlock()

	if handler != nil {
		handler(body.Areas)
	}
}
