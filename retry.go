package ddns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how often and for how long a recoverable write is repeated.
type RetryPolicy struct {
	// MaxAttempts counts the first attempt; values below 1 mean a single attempt.
	MaxAttempts int
	// BaseDelay is the wait after the first failed attempt.
	BaseDelay time.Duration
	// Multiplier grows the delay after every further failure.
	Multiplier float64
	// MaxDelay caps a single wait.
	MaxDelay time.Duration
	// MaxElapsed caps the total time spent on one write including waits; 0 disables the cap.
	// Attempts run with a deadline at the end of this budget, so one in flight cannot overshoot it.
	MaxElapsed time.Duration
}

// DefaultRetryPolicy is used when no policy is given to New.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
	Multiplier:  2,
	MaxDelay:    10 * time.Second,
	MaxElapsed:  30 * time.Second,
}

// Clock abstracts time so tests can run retries without waiting.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Delays returns the waits between attempts, len(delays) == MaxAttempts-1.
func (p RetryPolicy) Delays() []time.Duration {
	n := p.attempts() - 1
	if n <= 0 {
		return nil
	}
	b := p.backOff()
	delays := make([]time.Duration, n)
	for i := range delays {
		delays[i] = b.NextBackOff()
	}
	return delays
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxDelay,
	}
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(1<<63 - 1)
	}
	b.Reset()
	return b
}

// do runs op until it succeeds, returns an error that is not recoverable,
// or the policy is exhausted.
// notify, if not nil, is called before each wait.
func (p RetryPolicy) do(ctx context.Context, clock Clock, op func(context.Context) error, notify func(attempt int, err error, wait time.Duration)) error {
	b := p.backOff()
	maxAttempts := p.attempts()
	start := clock.Now()

	for attempt := 1; ; attempt++ {
		err := p.try(ctx, clock, start, op)
		if err == nil || !IsRecoverable(err) {
			return err
		}
		if attempt >= maxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}
		wait := b.NextBackOff()
		if p.MaxElapsed > 0 && clock.Now().Sub(start)+wait >= p.MaxElapsed {
			return fmt.Errorf("giving up after %d attempts, retry time limit %s reached: %w", attempt, p.MaxElapsed, err)
		}
		if notify != nil {
			notify(attempt, err, wait)
		}
		if serr := clock.Sleep(ctx, wait); serr != nil {
			return fmt.Errorf("retry interrupted after %d attempts: %w", attempt, errors.Join(serr, err))
		}
	}
}

// try runs a single attempt bounded by what is left of MaxElapsed.
func (p RetryPolicy) try(ctx context.Context, clock Clock, start time.Time, op func(context.Context) error) error {
	if p.MaxElapsed <= 0 {
		return op(ctx)
	}
	left := p.MaxElapsed - clock.Now().Sub(start)
	if left <= 0 {
		return fmt.Errorf("retry time limit %s reached: %w", p.MaxElapsed, context.DeadlineExceeded)
	}
	ctx, cancel := context.WithTimeout(ctx, left)
	defer cancel()
	return op(ctx)
}
