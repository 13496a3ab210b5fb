// Package debugtest provides an in-memory debugger for tests. It answers
// evaluate requests from a table and readMemory requests from byte regions,
// with injectable latency and failures.
package debugtest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/debugmate/internal/backend"
	"github.com/dshills/debugmate/internal/debug/dap"
	"github.com/dshills/debugmate/internal/model"
)

// ErrNoSuchExpression is returned for expressions missing from the table.
var ErrNoSuchExpression = errors.New("no symbol in current context")

// Value is a canned evaluate result.
type Value struct {
	Result string
	Type   string
	Err    error
	Delay  time.Duration
}

// Debugger is a fake debug session.
type Debugger struct {
	mu          sync.Mutex
	values      map[string]Value
	regions     map[model.Address][]byte
	readDelay   time.Duration
	failOffsets map[int64]error
	slowOffsets map[int64]time.Duration
	noReadMem   bool
	id          string
	kind        backend.Kind
	readHook    func(offset int64)

	generation  atomic.Uint64
	evaluations atomic.Int64
	reads       atomic.Int64
	resumes     atomic.Int64
	maxInFlight atomic.Int64
	inFlight    atomic.Int64

	evalLog []string
}

// New returns an empty fake debugger with readMemory support.
func New() *Debugger {
	return &Debugger{
		values:      make(map[string]Value),
		regions:     make(map[model.Address][]byte),
		failOffsets: make(map[int64]error),
		slowOffsets: make(map[int64]time.Duration),
		id:          "session-1",
		kind:        backend.GDB,
	}
}

// WithSession sets the session ID and backend the fake reports.
func (d *Debugger) WithSession(id string, kind backend.Kind) *Debugger {
	d.mu.Lock()
	d.id = id
	d.kind = kind
	d.mu.Unlock()
	return d
}

// ID returns the session ID.
func (d *Debugger) ID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

// Backend returns the backend kind.
func (d *Debugger) Backend() backend.Kind {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.kind
}

// Generation returns the step generation.
func (d *Debugger) Generation() uint64 { return d.generation.Load() }

// Step simulates a step boundary by advancing the generation.
func (d *Debugger) Step() uint64 { return d.generation.Add(1) }

// Set registers the result of an expression.
func (d *Debugger) Set(expr, result string) *Debugger {
	return d.SetValue(expr, Value{Result: result})
}

// SetValue registers a full canned value.
func (d *Debugger) SetValue(expr string, v Value) *Debugger {
	d.mu.Lock()
	d.values[expr] = v
	d.mu.Unlock()
	return d
}

// Fail makes an expression fail with err.
func (d *Debugger) Fail(expr string, err error) *Debugger {
	return d.SetValue(expr, Value{Err: err})
}

// Map places data at addr.
func (d *Debugger) Map(addr model.Address, data []byte) *Debugger {
	d.mu.Lock()
	d.regions[addr] = data
	d.mu.Unlock()
	return d
}

// Write overwrites bytes inside a mapped region.
func (d *Debugger) Write(addr model.Address, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for base, region := range d.regions {
		if addr >= base && int(addr-base)+len(data) <= len(region) {
			copy(region[addr-base:], data)
			return
		}
	}
}

// SetReadDelay delays every readMemory response.
func (d *Debugger) SetReadDelay(delay time.Duration) {
	d.mu.Lock()
	d.readDelay = delay
	d.mu.Unlock()
}

// FailReadAt fails the readMemory request starting at offset bytes past the
// requested reference.
func (d *Debugger) FailReadAt(offset int64, err error) {
	d.mu.Lock()
	d.failOffsets[offset] = err
	d.mu.Unlock()
}

// DelayReadAt adds delay to the readMemory request starting at offset, on
// top of any global read delay.
func (d *Debugger) DelayReadAt(offset int64, delay time.Duration) {
	d.mu.Lock()
	d.slowOffsets[offset] = delay
	d.mu.Unlock()
}

// OnRead registers a hook called at the start of every readMemory request.
func (d *Debugger) OnRead(hook func(offset int64)) {
	d.mu.Lock()
	d.readHook = hook
	d.mu.Unlock()
}

// DisableReadMemory makes the debugger report no readMemory support.
func (d *Debugger) DisableReadMemory() {
	d.mu.Lock()
	d.noReadMem = true
	d.mu.Unlock()
}

// Evaluations returns the number of evaluate calls.
func (d *Debugger) Evaluations() int { return int(d.evaluations.Load()) }

// Reads returns the number of readMemory calls.
func (d *Debugger) Reads() int { return int(d.reads.Load()) }

// Resumes returns the number of Resume calls.
func (d *Debugger) Resumes() int { return int(d.resumes.Load()) }

// MaxConcurrentReads returns the highest number of overlapping reads seen.
func (d *Debugger) MaxConcurrentReads() int { return int(d.maxInFlight.Load()) }

// Evaluated returns the evaluated expressions in call order.
func (d *Debugger) Evaluated() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.evalLog...)
}

// Evaluate answers from the value table.
func (d *Debugger) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*dap.EvaluateResponseBody, error) {
	d.evaluations.Add(1)

	d.mu.Lock()
	d.evalLog = append(d.evalLog, expression)
	v, ok := d.values[expression]
	d.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("evaluate %s: %w", expression, ErrNoSuchExpression)
	}
	if err := sleep(ctx, v.Delay); err != nil {
		return nil, err
	}
	if v.Err != nil {
		return nil, v.Err
	}
	return &dap.EvaluateResponseBody{Result: v.Result, Type: v.Type}, nil
}

// SupportsReadMemory reports readMemory support.
func (d *Debugger) SupportsReadMemory() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.noReadMem
}

// ReadMemory serves bytes from the mapped regions. Bytes outside any region
// are reported as unreadable.
func (d *Debugger) ReadMemory(ctx context.Context, memoryReference string, offset int64, count int) (*dap.ReadMemoryResponseBody, error) {
	d.reads.Add(1)
	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		peak := d.maxInFlight.Load()
		if n <= peak || d.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	d.mu.Lock()
	delay := d.readDelay + d.slowOffsets[offset]
	failErr := d.failOffsets[offset]
	hook := d.readHook
	d.mu.Unlock()

	if hook != nil {
		hook(offset)
	}

	if err := sleep(ctx, delay); err != nil {
		return nil, err
	}
	if failErr != nil {
		return nil, failErr
	}

	base, err := strconv.ParseUint(strings.TrimPrefix(memoryReference, "0x"), 16, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid memory reference %q", memoryReference)
	}
	addr := model.Address(base).Add(int(offset))

	d.mu.Lock()
	defer d.mu.Unlock()
	for start, region := range d.regions {
		if addr < start || addr >= start.Add(len(region)) {
			continue
		}
		off := int(addr - start)
		end := off + count
		unreadable := 0
		if end > len(region) {
			unreadable = end - len(region)
			end = len(region)
		}
		return &dap.ReadMemoryResponseBody{
			Address:         addr.String(),
			Data:            base64.StdEncoding.EncodeToString(region[off:end]),
			UnreadableBytes: unreadable,
		}, nil
	}
	return &dap.ReadMemoryResponseBody{Address: addr.String(), UnreadableBytes: count}, nil
}

// Resume records a resume request.
func (d *Debugger) Resume(ctx context.Context) error {
	d.resumes.Add(1)
	return nil
}

func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
