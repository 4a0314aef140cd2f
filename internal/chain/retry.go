package chain

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Linear waits Step, 2*Step, 3*Step ... between attempts.
type Linear struct {
	Step time.Duration
	n    int
}

func (l *Linear) NextBackOff() time.Duration {
	l.n++
	return l.Step * time.Duration(l.n)
}

func (l *Linear) Reset() { l.n = 0 }

// RetryPolicy bounds how often a whole operation is repeated.
type RetryPolicy struct {
	MaxAttempts int
	Step        time.Duration
}

func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// BackOff returns a fresh schedule for one Do call.
func (p RetryPolicy) BackOff(ctx context.Context) backoff.BackOffContext {
	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(&Linear{Step: p.Step}, uint64(retries)), ctx)
}

// Budget is the worst-case time spent sleeping between attempts.
func (p RetryPolicy) Budget() time.Duration {
	var total time.Duration
	l := &Linear{Step: p.Step}
	for a := 1; a < p.MaxAttempts; a++ {
		total += l.NextBackOff()
	}
	return total
}

// Do runs op until it succeeds, returns a Permanent error, the context ends,
// or MaxAttempts is reached. The last error from op is returned.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	attempt := 0
	var last error
	err := backoff.Retry(func() error {
		attempt++
		last = op(ctx, attempt)
		return last
	}, p.BackOff(ctx))
	if err != nil && last != nil {
		return last
	}
	return err
}
