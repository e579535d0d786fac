package service

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"
)

// RetryPolicy bounds the local retries of a store or price lookup before the
// failure surfaces as risk.ErrSystemUnavailable.
type RetryPolicy struct {
	// Retries is the number of attempts after the first one.
	Retries int
	Backoff time.Duration
}

func (p RetryPolicy) do(ctx context.Context, fn func(context.Context) error) error {
	return retry(ctx, p.Retries+1, p.Backoff, fn)
}

// permanentError ends a retry loop without further attempts
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// permanent marks err as not worth retrying
func permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// retry calls fn up to attempts times, sleeping with exponential backoff
// between failures. It stops early when ctx is done or fn returns an error
// marked permanent, which is returned unwrapped.
func retry(ctx context.Context, attempts int, base time.Duration, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	b := &backoff.Backoff{Min: base, Max: 10 * base, Factor: 2}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		var stop *permanentError
		if errors.As(err, &stop) {
			return stop.err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return err
}
