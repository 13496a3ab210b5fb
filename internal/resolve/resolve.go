// Package resolve turns a classified variable into the address of its first
// scalar element.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/debugmate/internal/backend"
	"github.com/dshills/debugmate/internal/chain"
	"github.com/dshills/debugmate/internal/model"
)

// ErrResolutionFailed is returned when every address candidate failed.
var ErrResolutionFailed = errors.New("address resolution failed")

var (
	hexAddress = regexp.MustCompile(`0[xX][0-9a-fA-F]+`)
	decAddress = regexp.MustCompile(`^\s*(\d+)\s*$`)
)

// ParseAddress extracts an address from an evaluate result. GDB prints
// pointers with their type and pointee, e.g. `(uchar *) 0x5555557a0c10 "\377"`,
// so the first hex token anywhere in the value is taken. Casts to integer
// types print plain decimal. Null is rejected.
func ParseAddress(value string) (model.Address, error) {
	var n uint64
	var err error

	if h := hexAddress.FindString(value); h != "" {
		n, err = strconv.ParseUint(h[2:], 16, 64)
	} else if m := decAddress.FindStringSubmatch(value); m != nil {
		n, err = strconv.ParseUint(m[1], 10, 64)
	} else {
		return 0, fmt.Errorf("no address in %q", value)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid address in %q: %w", value, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("null address in %q", value)
	}
	return model.Address(n), nil
}

// Resolver resolves data addresses through a debug session.
type Resolver struct {
	eval    backend.Evaluator
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAttemptTimeout bounds each candidate expression.
func WithAttemptTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// New creates a Resolver evaluating through eval.
func New(eval backend.Evaluator, opts ...Option) *Resolver {
	r := &Resolver{
		eval:    eval,
		timeout: 1500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	return r
}

// Resolve tries the backend's address candidates for fam in order and
// returns the first valid, non-null address.
func (r *Resolver) Resolve(ctx context.Context, h model.Handle, fam model.Family, b backend.Backend) (model.Address, error) {
	candidates := b.AddressCandidates(fam, h.Expression)
	attempts := chain.Values(candidates, func(ctx context.Context, expr string) (model.Address, error) {
		resp, err := r.eval.Evaluate(ctx, expr, h.FrameID, b.EvaluateContext())
		if err != nil {
			return 0, err
		}
		if strings.TrimSpace(resp.Result) == "" {
			return 0, fmt.Errorf("%s: empty result", expr)
		}
		return ParseAddress(resp.Result)
	})

	addr, idx, err := chain.FirstSuccess(ctx, r.timeout, attempts...)
	if err != nil {
		if ctx.Err() != nil {
			return 0, err
		}
		r.logger.Warn("address resolution failed", "variable", h.Expression, "backend", b.Kind(), "candidates", len(candidates))
		return 0, fmt.Errorf("%s: %w: %w", h.Expression, ErrResolutionFailed, err)
	}

	r.logger.Debug("address resolved", "variable", h.Expression, "candidate", candidates[idx], "address", addr)
	return addr, nil
}
