package render

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrFrameTooLarge is returned when a stream frame exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame too large")

// MaxFrameSize bounds a single stream frame.
const MaxFrameSize = 1 << 30

// Host receives messages for the rendering front end.
type Host interface {
	Post(ctx context.Context, e Envelope) error
}

// Send wraps m and posts it to h.
func Send(ctx context.Context, h Host, m Message) error {
	e, err := Wrap(m)
	if err != nil {
		return err
	}
	return h.Post(ctx, e)
}

// StreamHost writes envelopes as frames: a 4-byte big-endian length
// followed by the CBOR envelope.
//
// StreamHost is safe for concurrent use.
type StreamHost struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStreamHost creates a host writing to w.
func NewStreamHost(w io.Writer) *StreamHost {
	return &StreamHost{w: w}
}

// Post writes one frame.
func (h *StreamHost) Post(ctx context.Context, e Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Marshal(e)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := h.w.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame written by StreamHost. It returns io.EOF at a
// clean end of stream.
func ReadFrame(r io.Reader) (Envelope, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return Envelope{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return Envelope{}, fmt.Errorf("read frame: %w", err)
	}
	var e Envelope
	if err := Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return e, nil
}

// Recorder keeps posted envelopes in memory.
type Recorder struct {
	mu        sync.Mutex
	envelopes []Envelope
}

// Post records e.
func (r *Recorder) Post(ctx context.Context, e Envelope) error {
	r.mu.Lock()
	r.envelopes = append(r.envelopes, e)
	r.mu.Unlock()
	return nil
}

// Envelopes returns the recorded envelopes in order.
func (r *Recorder) Envelopes() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.envelopes...)
}

// Messages decodes every recorded envelope.
func (r *Recorder) Messages() ([]Message, error) {
	envs := r.Envelopes()
	out := make([]Message, 0, len(envs))
	for _, e := range envs {
		m, err := e.Open()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Reset drops all recorded envelopes.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.envelopes = nil
	r.mu.Unlock()
}
