// Package memory reads debuggee memory ranges through a debug session.
//
// The fast path splits a range into fixed-size chunks and issues a bounded
// number of readMemory requests concurrently, writing each chunk at its
// offset so the result is in address order regardless of completion order.
// Adapters without readMemory are served by evaluating one scalar per
// expression in small concurrent batches.
package memory

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/debugmate/internal/backend"
	"github.com/dshills/debugmate/internal/debug/dap"
	"github.com/dshills/debugmate/internal/model"
)

var (
	// ErrReadFailed is returned when a range could not be read completely.
	ErrReadFailed = errors.New("memory read failed")

	// ErrReadMemoryUnsupported is returned by ReadRange when the adapter
	// lacks the readMemory request.
	ErrReadMemoryUnsupported = errors.New("adapter does not support readMemory")

	// ErrShortRead is returned when a chunk came back with fewer bytes than
	// requested or with unreadable bytes.
	ErrShortRead = errors.New("short read")

	// ErrTooLarge is returned for reads above the configured limit.
	ErrTooLarge = errors.New("read exceeds size limit")
)

// Target is the debug session capability set the reader needs.
type Target interface {
	backend.Evaluator
	ReadMemory(ctx context.Context, memoryReference string, offset int64, count int) (*dap.ReadMemoryResponseBody, error)
	SupportsReadMemory() bool
}

// ProgressFunc receives completed and total units (chunks or batches).
// Calls never overlap and done grows by one with each call.
type ProgressFunc func(done, total int)

// progress serializes ProgressFunc calls from concurrent workers.
type progress struct {
	mu    sync.Mutex
	done  int
	total int
	fn    ProgressFunc
}

func newProgress(fn ProgressFunc, total int) *progress {
	return &progress{fn: fn, total: total}
}

// step records one completed unit.
func (p *progress) step() {
	if p.fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	p.fn(p.done, p.total)
}

// Config holds reader tunables.
type Config struct {
	ChunkSize      int
	MaxConcurrency int // 0 means min(GOMAXPROCS, DefaultConcurrencyCap)
	FallbackBatch  int
	RequestTimeout time.Duration
	MaxBytes       int

	// TolerateElementFailures substitutes zero for elements the fallback
	// path could not evaluate instead of failing the read.
	TolerateElementFailures bool
}

// DefaultConcurrencyCap bounds parallel chunk requests when the
// configuration does not.
const DefaultConcurrencyCap = 6

// DefaultConfig returns the default reader configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:      1 << 20,
		FallbackBatch:  16,
		RequestTimeout: 5 * time.Second,
		MaxBytes:       512 << 20,
	}
}

// Reader reads memory ranges.
type Reader struct {
	target Target
	config Config
	logger *slog.Logger
}

// NewReader creates a reader. A nil logger discards.
func NewReader(target Target, config Config, logger *slog.Logger) *Reader {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultConfig().ChunkSize
	}
	if config.FallbackBatch <= 0 {
		config.FallbackBatch = DefaultConfig().FallbackBatch
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = DefaultConfig().MaxBytes
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reader{target: target, config: config, logger: logger}
}

// Concurrency returns the effective number of parallel requests.
func (r *Reader) Concurrency() int {
	limit := r.config.MaxConcurrency
	if limit <= 0 {
		limit = DefaultConcurrencyCap
	}
	return max(1, min(runtime.GOMAXPROCS(0), limit))
}

// Read reads the data described by layout at addr, using readMemory when the
// adapter supports it and element-wise evaluation otherwise.
func (r *Reader) Read(ctx context.Context, addr model.Address, layout model.Layout, b backend.Backend, progress ProgressFunc) (*model.RawBuffer, error) {
	var data []byte
	var err error
	if r.target.SupportsReadMemory() {
		data, err = r.ReadRange(ctx, addr, layout.ByteSize(), b, progress)
	} else {
		r.logger.Debug("readMemory unsupported, evaluating elements", "address", addr, "scalars", layout.Scalars())
		data, err = r.ReadElements(ctx, addr, layout, b, progress)
	}
	if err != nil {
		return nil, err
	}
	return &model.RawBuffer{Data: data, Address: addr, Layout: layout}, nil
}

// ReadRange reads total bytes at addr. Any failing or short chunk fails the
// whole read; no partial buffer is returned.
func (r *Reader) ReadRange(ctx context.Context, addr model.Address, total int, b backend.Backend, fn ProgressFunc) ([]byte, error) {
	if !r.target.SupportsReadMemory() {
		return nil, ErrReadMemoryUnsupported
	}
	if total < 0 || total > r.config.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, total, r.config.MaxBytes)
	}
	if total == 0 {
		return []byte{}, nil
	}

	chunk := r.config.ChunkSize
	chunks := (total + chunk - 1) / chunk
	buf := make([]byte, total)
	ref := b.MemoryReference(addr)

	progress := newProgress(fn, chunks)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Concurrency())

	for i := 0; i < chunks; i++ {
		offset := i * chunk
		count := min(chunk, total-offset)

		g.Go(func() error {
			if err := r.readChunk(gctx, ref, offset, buf[offset:offset+count]); err != nil {
				return fmt.Errorf("chunk %d/%d at %s: %w", i+1, chunks, addr.Add(offset), err)
			}
			progress.step()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		r.logger.Warn("memory read failed", "address", addr, "bytes", total, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	return buf, nil
}

func (r *Reader) readChunk(ctx context.Context, ref string, offset int, dst []byte) error {
	cctx, cancel := context.WithTimeout(ctx, r.config.RequestTimeout)
	defer cancel()

	resp, err := r.target.ReadMemory(cctx, ref, int64(offset), len(dst))
	if err != nil {
		return err
	}
	if resp.UnreadableBytes > 0 {
		return fmt.Errorf("%w: %d unreadable bytes", ErrShortRead, resp.UnreadableBytes)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data)
	if err != nil {
		return fmt.Errorf("decode chunk: %w", err)
	}
	if len(data) != len(dst) {
		return fmt.Errorf("%w: got %d of %d bytes", ErrShortRead, len(data), len(dst))
	}
	copy(dst, data)
	return nil
}
