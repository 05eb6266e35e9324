package health

import (
	"context"
	"fmt"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
	CheckTypeGRPC CheckType = "grpc"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is implemented by every readiness and liveness probe
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result
	// Type returns the type of health check
	Type() CheckType
}

func newResult(start time.Time, healthy bool, format string, args ...any) Result {
	return Result{
		Healthy:   healthy,
		Message:   fmt.Sprintf(format, args...),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Liveness tracks consecutive check outcomes of one warm instance. An
// instance turns unhealthy only after Threshold failures in a row; any
// success resets the count.
type Liveness struct {
	// Threshold is the number of consecutive failures tolerated minus one; values below 1 mean 1
	Threshold int

	failures int
	last     Result
}

// NewLiveness creates a tracker that fails after threshold consecutive failures
func NewLiveness(threshold int) *Liveness {
	return &Liveness{Threshold: threshold}
}

// Observe records a result and reports whether the instance is still healthy
func (l *Liveness) Observe(r Result) bool {
	l.last = r
	if r.Healthy {
		l.failures = 0
		return true
	}
	l.failures++
	return l.failures < max(l.Threshold, 1)
}

// Failures returns the current run of consecutive failures
func (l *Liveness) Failures() int {
	return l.failures
}

// Last returns the most recent observed result
func (l *Liveness) Last() Result {
	return l.last
}
