package memory

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/debugmate/internal/backend"
	"github.com/dshills/debugmate/internal/decode"
	"github.com/dshills/debugmate/internal/model"
)

// maxFallbackScalars bounds element-wise reads. Each scalar is one debugger
// round trip.
const maxFallbackScalars = 1 << 16

// ReadElements reads layout at addr by evaluating one scalar expression per
// element, in batches of FallbackBatch with up to Concurrency batches in
// flight. By default any element failure fails the read, matching
// ReadRange. With TolerateElementFailures set, failed elements read as zero.
func (r *Reader) ReadElements(ctx context.Context, addr model.Address, layout model.Layout, b backend.Backend, fn ProgressFunc) ([]byte, error) {
	n := layout.Scalars()
	if n > maxFallbackScalars {
		return nil, fmt.Errorf("%w: %d scalars without readMemory (limit %d)", ErrTooLarge, n, maxFallbackScalars)
	}

	values := make([]float64, n)
	batch := r.config.FallbackBatch
	batches := (n + batch - 1) / batch
	ctype := layout.Depth.CType()

	progress := newProgress(fn, batches)
	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Concurrency())

	for start := 0; start < n; start += batch {
		end := min(start+batch, n)

		g.Go(func() error {
			for i := start; i < end; i++ {
				v, err := r.element(gctx, addr, ctype, i, layout.Depth, b)
				if err != nil {
					if !r.config.TolerateElementFailures || gctx.Err() != nil {
						return fmt.Errorf("element %d at %s: %w", i, addr, err)
					}
					failed.Add(1)
					continue
				}
				values[i] = v
			}
			progress.step()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		r.logger.Warn("element read failed", "address", addr, "scalars", n, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	if f := failed.Load(); f > 0 {
		r.logger.Warn("substituted zero for unreadable elements", "address", addr, "failed", f, "scalars", n)
	}
	return decode.Encode(values, layout.Depth)
}

func (r *Reader) element(ctx context.Context, addr model.Address, ctype string, index int, depth model.Depth, b backend.Backend) (float64, error) {
	ectx, cancel := context.WithTimeout(ctx, r.config.RequestTimeout)
	defer cancel()

	resp, err := r.target.Evaluate(ectx, b.ElementExpression(addr, ctype, index), 0, b.EvaluateContext())
	if err != nil {
		return 0, err
	}
	return decode.ParseValue(resp.Result, depth)
}
