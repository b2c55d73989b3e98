// Package retry is the single bounded-retry primitive shared by adapter
// bring-up and calls to external services.
package retry

import (
	"context"
	"errors"
	"time"
)

type Policy struct {
	// Attempts is the total number of tries, including the first one.
	Attempts int
	// Delay is waited between attempts.
	Delay time.Duration
	// Backoff multiplies Delay after every failed attempt; <= 1 keeps it fixed.
	Backoff float64
	// MaxDelay caps the grown delay when Backoff > 1. Zero means no cap.
	MaxDelay time.Duration
}

// Fixed returns a policy with a constant delay between attempts.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: delay}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do runs fn until it succeeds, returns a permanent error, the attempts
// are exhausted or ctx is done. attempt starts at 1. The last error is
// returned (unwrapped from Permanent).
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := p.Delay

	var err error
	for i := 1; i <= attempts; i++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = fn(ctx, i)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if i == attempts {
			break
		}
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if p.Backoff > 1 {
			delay = time.Duration(float64(delay) * p.Backoff)
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
	}
	return err
}
