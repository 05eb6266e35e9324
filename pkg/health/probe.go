package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cuemby/brainbox/pkg/types"
)

// ProbeConfig bounds a readiness probe
type ProbeConfig struct {
	// Interval is the initial delay between attempts; it grows exponentially up to MaxInterval
	Interval time.Duration

	// MaxInterval caps the delay between attempts
	MaxInterval time.Duration

	// Timeout is the overall deadline for the instance to become ready
	Timeout time.Duration

	// Retries is the number of failed attempts tolerated after the first one
	Retries int
}

// DefaultProbeConfig returns the readiness defaults used for decider containers
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Interval:    time.Second,
		MaxInterval: 5 * time.Second,
		Timeout:     60 * time.Second,
		Retries:     30,
	}
}

// WaitReady polls checker until it reports healthy. It fails once Retries
// attempts after the first have failed or Timeout elapses; a deadline is
// reported as types.ErrTimeout.
func WaitReady(ctx context.Context, checker Checker, cfg ProbeConfig) error {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.Interval
	policy.MaxInterval = cfg.MaxInterval
	if policy.MaxInterval < policy.InitialInterval {
		policy.MaxInterval = policy.InitialInterval
	}
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	var last Result
	attempt := func() error {
		last = checker.Check(ctx)
		if last.Healthy {
			return nil
		}
		return errors.New(last.Message)
	}

	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s probe not ready after %v: %w (last: %s)", checker.Type(), cfg.Timeout, types.ErrTimeout, last.Message)
	}
	return fmt.Errorf("%s probe failed after %d retries: %w", checker.Type(), retries, err)
}
