package debug

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/debugmate/internal/debug/dap"
)

// StackFrame is a stack frame with its display location.
type StackFrame struct {
	// ID is the unique frame identifier.
	ID int

	// Name is the function name.
	Name string

	// Source is the source file information.
	Source *dap.Source

	// Line is the current line in the source.
	Line int

	// Column is the current column in the source.
	Column int
}

// FormatLocation returns a formatted location string like "main.cpp:42".
func (f *StackFrame) FormatLocation() string {
	if f.Source == nil || f.Source.Name == "" {
		return fmt.Sprintf("<unknown>:%d", f.Line)
	}
	return fmt.Sprintf("%s:%d", f.Source.Name, f.Line)
}

// FrameSource fetches stack traces.
type FrameSource interface {
	GetStackTrace(ctx context.Context, threadID int, startFrame, levels int) ([]dap.StackFrame, int, error)
}

// FrameTracker remembers the selected thread and frame. Selecting a
// different frame, or the same frame after the debuggee moved, is a step
// boundary for anything cached against the old frame.
type FrameTracker struct {
	source FrameSource
	mu     sync.RWMutex

	threadID int
	frame    *StackFrame
	frames   []*StackFrame

	// Maximum frames to fetch per request
	maxFrames int
}

// NewFrameTracker creates a tracker over source.
func NewFrameTracker(source FrameSource) *FrameTracker {
	return &FrameTracker{source: source, maxFrames: 20}
}

// Refresh fetches the stack of threadID and selects its top frame. It
// reports whether the selection changed.
func (t *FrameTracker) Refresh(ctx context.Context, threadID int) (bool, error) {
	frames, _, err := t.source.GetStackTrace(ctx, threadID, 0, t.maxFrames)
	if err != nil {
		return false, fmt.Errorf("get stack trace: %w", err)
	}
	if len(frames) == 0 {
		return false, fmt.Errorf("thread %d has no frames", threadID)
	}

	stack := make([]*StackFrame, len(frames))
	for i, f := range frames {
		stack[i] = &StackFrame{ID: f.ID, Name: f.Name, Source: f.Source, Line: f.Line, Column: f.Column}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = stack
	return t.selectLocked(threadID, stack[0]), nil
}

// Select selects the frame at index of the last fetched stack and reports
// whether the selection changed.
func (t *FrameTracker) Select(index int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.frames) {
		return false, fmt.Errorf("frame index %d out of range [0, %d)", index, len(t.frames))
	}
	return t.selectLocked(t.threadID, t.frames[index]), nil
}

func (t *FrameTracker) selectLocked(threadID int, f *StackFrame) bool {
	prev, prevThread := t.frame, t.threadID
	t.threadID = threadID
	t.frame = f
	if prev == nil || prevThread != threadID {
		return true
	}
	return prev.ID != f.ID || prev.Line != f.Line || prev.Column != f.Column
}

// Current returns the selected thread and frame.
func (t *FrameTracker) Current() (threadID int, frame *StackFrame) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.threadID, t.frame
}

// FrameID returns the ID of the selected frame, or 0 when none is selected.
func (t *FrameTracker) FrameID() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.frame == nil {
		return 0
	}
	return t.frame.ID
}

// Frames returns the last fetched stack, top first.
func (t *FrameTracker) Frames() []*StackFrame {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*StackFrame(nil), t.frames...)
}

// Reset forgets the selection.
func (t *FrameTracker) Reset() {
	t.mu.Lock()
	t.threadID = 0
	t.frame = nil
	t.frames = nil
	t.mu.Unlock()
}
