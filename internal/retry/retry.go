// Package retry runs calls to flaky upstreams with capped, jittered backoff.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// PermanentError marks a failure that another attempt cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Policy.Do returns it without retrying.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Policy bounds the attempts made by Do.
type Policy struct {
	Attempts  int           // total calls, at least 1
	BaseDelay time.Duration // wait before the second call; doubles after
	MaxDelay  time.Duration // cap on a single wait; 0 means uncapped

	// OnRetry, if set, sees each failure that will be retried.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Do calls fn until it succeeds, returns a permanent error, the attempts
// run out, or ctx ends. Waits carry +-25% jitter. The last error is
// returned unwrapped from any PermanentError.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	delay := p.BaseDelay

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if attempt >= attempts {
			return err
		}

		wait := p.jittered(delay)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
	}
}

func (p Policy) jittered(d time.Duration) time.Duration {
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	jitter := d / 4
	return d - jitter + time.Duration(rand.Int64N(int64(2*jitter+1)))
}
