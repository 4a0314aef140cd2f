package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"VoteCredit/internal/metrics"

	"github.com/cenkalti/backoff/v4"
)

var ErrNoEndpoints = errors.New("rpc endpoints is empty")

// Pool is an ordered list of interchangeable endpoints for one network.
// The first entry is preferred; later entries are fallbacks.
type Pool struct {
	Name      string
	Endpoints []string
	Timeout   time.Duration
}

func NewPool(name string, endpoints []string, timeout time.Duration) (*Pool, error) {
	list := SanitizeEndpoints(endpoints)
	if len(list) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrNoEndpoints)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Pool{Name: name, Endpoints: list, Timeout: timeout}, nil
}

// Call runs fn against each endpoint in order and returns the first success.
// Each attempt gets its own timeout. A Permanent error stops the walk.
func Call[T any](ctx context.Context, p *Pool, fn func(ctx context.Context, endpoint string) (T, error)) (T, error) {
	var zero T
	var errs []error
	for _, ep := range p.Endpoints {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		callCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		out, err := fn(callCtx, ep)
		cancel()
		if err == nil {
			metrics.RPCRequestsTotal.WithLabelValues(p.Name, "ok").Inc()
			return out, nil
		}
		if IsPermanent(err) {
			metrics.RPCRequestsTotal.WithLabelValues(p.Name, "permanent").Inc()
			return zero, err
		}
		metrics.RPCRequestsTotal.WithLabelValues(p.Name, "error").Inc()
		errs = append(errs, fmt.Errorf("%s: %w", ep, err))
	}
	return zero, &ExhaustedError{Pool: p.Name, Errs: errs}
}

// ExhaustedError reports that every endpoint in a pool failed.
type ExhaustedError struct {
	Pool string
	Errs []error
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("%s: all endpoints failed: %s", e.Pool, strings.Join(parts, "; "))
}

func (e *ExhaustedError) Unwrap() []error {
	return e.Errs
}

// Permanent marks err as not worth retrying on another endpoint or attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

func SanitizeEndpoints(endpoints []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		ep = strings.TrimRight(ep, "/")
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
