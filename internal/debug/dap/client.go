package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tidwall/gjson"
)

// ErrRequestFailed is wrapped by every RequestError.
var ErrRequestFailed = errors.New("dap request failed")

// RequestError is returned when the adapter answers a request with
// success=false.
type RequestError struct {
	Command string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Command, e.Message)
}

func (e *RequestError) Unwrap() error {
	return ErrRequestFailed
}

// Client is a DAP client that communicates with a debug adapter.
type Client struct {
	transport Transport
	seq       int64
	pending   map[int]*pendingRequest
	pendingMu sync.Mutex
	handlers  eventHandlers
	handlerMu sync.RWMutex
	done      chan struct{}
	closeOnce sync.Once
	err       error
	errMu     sync.RWMutex
}

// pendingRequest tracks a pending request awaiting response.
type pendingRequest struct {
	done      chan struct{}
	closeOnce sync.Once
	response  *Response
	err       error
}

func (p *pendingRequest) close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

type eventHandlers struct {
	onInitialized  func()
	onStopped      func(StoppedEventBody)
	onContinued    func(ContinuedEventBody)
	onExited       func(ExitedEventBody)
	onTerminated   func(TerminatedEventBody)
	onThread       func(ThreadEventBody)
	onOutput       func(OutputEventBody)
	onCapabilities func(CapabilitiesEventBody)
	onInvalidated  func(InvalidatedEventBody)
	onMemory       func(MemoryEventBody)
	onAny          func(Event)
}

// NewClient creates a new DAP client with the given transport.
func NewClient(transport Transport) *Client {
	c := &Client{
		transport: transport,
		pending:   make(map[int]*pendingRequest),
		done:      make(chan struct{}),
	}
	go c.receiveLoop()
	return c
}

// Close closes the client and underlying transport.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return c.transport.Close()
}

// Error returns any error that occurred during receive.
func (c *Client) Error() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.err
}

func (c *Client) receiveLoop() {
	for {
		msg, err := c.transport.Receive()

		select {
		case <-c.done:
			return
		default:
		}

		if err != nil {
			c.errMu.Lock()
			c.err = err
			c.errMu.Unlock()

			c.pendingMu.Lock()
			for _, req := range c.pending {
				req.err = err
				req.close()
			}
			c.pending = make(map[int]*pendingRequest)
			c.pendingMu.Unlock()
			return
		}

		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg *Message) {
	switch gjson.GetBytes(msg.Content, "type").String() {
	case "response":
		c.handleResponse(msg.Content)
	case "event":
		c.handleEvent(msg.Content)
	}
}

func (c *Client) handleResponse(content []byte) {
	var resp Response
	if err := json.Unmarshal(content, &resp); err != nil {
		return
	}

	c.pendingMu.Lock()
	req, ok := c.pending[resp.RequestSeq]
	if ok {
		delete(c.pending, resp.RequestSeq)
	}
	c.pendingMu.Unlock()

	if ok {
		req.response = &resp
		req.close()
	}
}

// dispatch decodes body into T and hands it to fn when fn is set.
func dispatch[T any](body json.RawMessage, fn func(T)) {
	if fn == nil {
		return
	}
	var v T
	if len(body) > 0 {
		if err := json.Unmarshal(body, &v); err != nil {
			return
		}
	}
	fn(v)
}

func (c *Client) handleEvent(content []byte) {
	var evt Event
	if err := json.Unmarshal(content, &evt); err != nil {
		return
	}

	c.handlerMu.RLock()
	h := c.handlers
	c.handlerMu.RUnlock()

	switch evt.Event {
	case "initialized":
		if h.onInitialized != nil {
			h.onInitialized()
		}
	case "stopped":
		dispatch(evt.Body, h.onStopped)
	case "continued":
		dispatch(evt.Body, h.onContinued)
	case "exited":
		dispatch(evt.Body, h.onExited)
	case "terminated":
		dispatch(evt.Body, h.onTerminated)
	case "thread":
		dispatch(evt.Body, h.onThread)
	case "output":
		dispatch(evt.Body, h.onOutput)
	case "capabilities":
		dispatch(evt.Body, h.onCapabilities)
	case "invalidated":
		dispatch(evt.Body, h.onInvalidated)
	case "memory":
		dispatch(evt.Body, h.onMemory)
	}

	if h.onAny != nil {
		h.onAny(evt)
	}
}

// sendRequest sends a request and waits for the response.
func (c *Client) sendRequest(ctx context.Context, command string, args interface{}) (*Response, error) {
	seq := int(atomic.AddInt64(&c.seq, 1))

	var argsJSON json.RawMessage
	if args != nil {
		var err error
		argsJSON, err = json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("marshal arguments: %w", err)
		}
	}

	content, err := json.Marshal(Request{
		ProtocolMessage: ProtocolMessage{Seq: seq, Type: "request"},
		Command:         command,
		Arguments:       argsJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	pending := &pendingRequest{done: make(chan struct{})}

	c.pendingMu.Lock()
	c.pending[seq] = pending
	c.pendingMu.Unlock()

	if err := c.transport.Send(&Message{ContentLength: len(content), Content: content}); err != nil {
		c.forget(seq)
		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case <-ctx.Done():
		c.forget(seq)
		return nil, ctx.Err()
	case <-pending.done:
		if pending.err != nil {
			return nil, pending.err
		}
		return pending.response, nil
	}
}

func (c *Client) forget(seq int) {
	c.pendingMu.Lock()
	delete(c.pending, seq)
	c.pendingMu.Unlock()
}

// failure builds the RequestError for an unsuccessful response. Adapters put
// the useful text either in message or in body.error.format.
func failure(resp *Response) error {
	msg := resp.Message
	if detail := gjson.GetBytes(resp.Body, "error.format"); detail.Exists() && detail.String() != "" {
		if msg == "" || msg == "error" {
			msg = detail.String()
		} else {
			msg = msg + ": " + detail.String()
		}
	}
	return &RequestError{Command: resp.Command, Message: msg}
}

// call performs command and decodes the response body into T.
func call[T any](ctx context.Context, c *Client, command string, args interface{}) (*T, error) {
	resp, err := c.sendRequest(ctx, command, args)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		if resp.Command == "" {
			resp.Command = command
		}
		return nil, failure(resp)
	}

	var body T
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			return nil, fmt.Errorf("unmarshal %s response: %w", command, err)
		}
	}
	return &body, nil
}

// exec performs command and discards the response body.
func (c *Client) exec(ctx context.Context, command string, args interface{}) error {
	_, err := call[json.RawMessage](ctx, c, command, args)
	return err
}

// OnInitialized sets the handler for the initialized event.
func (c *Client) OnInitialized(handler func()) {
	c.handlerMu.Lock()
	c.handlers.onInitialized = handler
	c.handlerMu.Unlock()
}

// OnStopped sets the handler for the stopped event.
func (c *Client) OnStopped(handler func(StoppedEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onStopped = handler
	c.handlerMu.Unlock()
}

// OnContinued sets the handler for the continued event.
func (c *Client) OnContinued(handler func(ContinuedEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onContinued = handler
	c.handlerMu.Unlock()
}

// OnExited sets the handler for the exited event.
func (c *Client) OnExited(handler func(ExitedEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onExited = handler
	c.handlerMu.Unlock()
}

// OnTerminated sets the handler for the terminated event.
func (c *Client) OnTerminated(handler func(TerminatedEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onTerminated = handler
	c.handlerMu.Unlock()
}

// OnThread sets the handler for the thread event.
func (c *Client) OnThread(handler func(ThreadEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onThread = handler
	c.handlerMu.Unlock()
}

// OnOutput sets the handler for the output event.
func (c *Client) OnOutput(handler func(OutputEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onOutput = handler
	c.handlerMu.Unlock()
}

// OnCapabilities sets the handler for the capabilities event.
func (c *Client) OnCapabilities(handler func(CapabilitiesEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onCapabilities = handler
	c.handlerMu.Unlock()
}

// OnInvalidated sets the handler for the invalidated event.
func (c *Client) OnInvalidated(handler func(InvalidatedEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onInvalidated = handler
	c.handlerMu.Unlock()
}

// OnMemory sets the handler for the memory event.
func (c *Client) OnMemory(handler func(MemoryEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onMemory = handler
	c.handlerMu.Unlock()
}

// OnAnyEvent sets a handler for all events.
func (c *Client) OnAnyEvent(handler func(Event)) {
	c.handlerMu.Lock()
	c.handlers.onAny = handler
	c.handlerMu.Unlock()
}

// Initialize sends the initialize request.
func (c *Client) Initialize(ctx context.Context, args InitializeRequestArguments) (*Capabilities, error) {
	return call[Capabilities](ctx, c, "initialize", args)
}

// ConfigurationDone sends the configurationDone request.
func (c *Client) ConfigurationDone(ctx context.Context) error {
	return c.exec(ctx, "configurationDone", nil)
}

// Launch sends the launch request. args is adapter specific and is usually
// raw JSON taken from a launch configuration.
func (c *Client) Launch(ctx context.Context, args interface{}) error {
	return c.exec(ctx, "launch", args)
}

// Attach sends the attach request.
func (c *Client) Attach(ctx context.Context, args interface{}) error {
	return c.exec(ctx, "attach", args)
}

// Disconnect sends the disconnect request.
func (c *Client) Disconnect(ctx context.Context, args DisconnectArguments) error {
	return c.exec(ctx, "disconnect", args)
}

// SetBreakpoints sends the setBreakpoints request.
func (c *Client) SetBreakpoints(ctx context.Context, args SetBreakpointsArguments) ([]Breakpoint, error) {
	body, err := call[SetBreakpointsResponseBody](ctx, c, "setBreakpoints", args)
	if err != nil {
		return nil, err
	}
	return body.Breakpoints, nil
}

// Continue sends the continue request.
func (c *Client) Continue(ctx context.Context, args ContinueArguments) (*ContinueResponseBody, error) {
	return call[ContinueResponseBody](ctx, c, "continue", args)
}

// Pause sends the pause request.
func (c *Client) Pause(ctx context.Context, args PauseArguments) error {
	return c.exec(ctx, "pause", args)
}

// Threads sends the threads request.
func (c *Client) Threads(ctx context.Context) ([]Thread, error) {
	body, err := call[ThreadsResponseBody](ctx, c, "threads", nil)
	if err != nil {
		return nil, err
	}
	return body.Threads, nil
}

// StackTrace sends the stackTrace request.
func (c *Client) StackTrace(ctx context.Context, args StackTraceArguments) (*StackTraceResponseBody, error) {
	return call[StackTraceResponseBody](ctx, c, "stackTrace", args)
}

// Scopes sends the scopes request.
func (c *Client) Scopes(ctx context.Context, args ScopesArguments) ([]Scope, error) {
	body, err := call[ScopesResponseBody](ctx, c, "scopes", args)
	if err != nil {
		return nil, err
	}
	return body.Scopes, nil
}

// Variables sends the variables request.
func (c *Client) Variables(ctx context.Context, args VariablesArguments) ([]Variable, error) {
	body, err := call[VariablesResponseBody](ctx, c, "variables", args)
	if err != nil {
		return nil, err
	}
	return body.Variables, nil
}

// Evaluate sends the evaluate request.
func (c *Client) Evaluate(ctx context.Context, args EvaluateArguments) (*EvaluateResponseBody, error) {
	return call[EvaluateResponseBody](ctx, c, "evaluate", args)
}

// ReadMemory sends the readMemory request.
func (c *Client) ReadMemory(ctx context.Context, args ReadMemoryArguments) (*ReadMemoryResponseBody, error) {
	return call[ReadMemoryResponseBody](ctx, c, "readMemory", args)
}
