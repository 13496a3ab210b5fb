// Package chain runs ordered fallback strategies, stopping at the first one
// that succeeds.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned when every attempt failed.
var ErrExhausted = errors.New("all strategies failed")

// Attempt is one fallible strategy.
type Attempt[T any] func(ctx context.Context) (T, error)

// FirstSuccess runs attempts strictly in order. Each attempt gets its own
// timeout; a timed out attempt counts as a failed strategy and the next one
// runs. It returns the first successful value and its index. If every
// attempt fails the error wraps ErrExhausted and each attempt's error.
// Cancelling ctx stops the chain.
func FirstSuccess[T any](ctx context.Context, timeout time.Duration, attempts ...Attempt[T]) (T, int, error) {
	var zero T
	errs := []error{ErrExhausted}

	for i, attempt := range attempts {
		if err := ctx.Err(); err != nil {
			return zero, -1, err
		}

		v, err := run(ctx, timeout, attempt)
		if err == nil {
			return v, i, nil
		}
		if ctx.Err() != nil {
			return zero, -1, ctx.Err()
		}
		errs = append(errs, fmt.Errorf("attempt %d: %w", i, err))
	}

	return zero, -1, errors.Join(errs...)
}

func run[T any](ctx context.Context, timeout time.Duration, attempt Attempt[T]) (T, error) {
	if timeout <= 0 {
		return attempt(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return attempt(actx)
}

// Values builds one attempt per input by applying fn.
func Values[In, T any](inputs []In, fn func(ctx context.Context, in In) (T, error)) []Attempt[T] {
	attempts := make([]Attempt[T], len(inputs))
	for i, in := range inputs {
		attempts[i] = func(ctx context.Context) (T, error) {
			return fn(ctx, in)
		}
	}
	return attempts
}
