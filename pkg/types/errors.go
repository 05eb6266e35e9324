package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by stores when a record does not exist
	ErrNotFound = errors.New("not found")

	// ErrTimeout marks an operation that exceeded its deadline
	ErrTimeout = errors.New("timeout")

	// ErrInstanceBusy is returned when an invocation is already in flight on an instance
	ErrInstanceBusy = errors.New("instance busy")

	// ErrInvalidTransition is returned for a state change the state machine forbids
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrDependencyFailed marks a job failed because a prerequisite failed
	ErrDependencyFailed = errors.New("prerequisite failed")

	// ErrInterrupted marks a job that was in flight when the process stopped
	ErrInterrupted = errors.New("interrupted")
)

// Job error kinds
const (
	KindInstall           = "InstallError"
	KindConfiguration     = "ConfigurationError"
	KindInstanceStart     = "InstanceStartError"
	KindTimeout           = "TimeoutError"
	KindDeciderInvocation = "DeciderInvocationError"
	KindDependencyFailed  = "DependencyFailed"
	KindInterrupted       = "Interrupted"
	KindUnknownDecider    = "UnknownDeciderError"
)

// InstallError is returned when a decider image could not be built or verified
type InstallError struct {
	Decider string
	Err     error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install %s: %v", e.Decider, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// ConfigurationError is returned when run parameters are incompatible with a controller
type ConfigurationError struct {
	Decider string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration for %s: %s", e.Decider, e.Reason)
}

// TaskGraphError is returned when a submitted task graph is malformed or cyclic
type TaskGraphError struct {
	TaskID string
	Reason string
}

func (e *TaskGraphError) Error() string {
	if e.TaskID == "" {
		return "task graph: " + e.Reason
	}
	return fmt.Sprintf("task graph: task %q: %s", e.TaskID, e.Reason)
}

// UnknownDeciderError is returned when no controller is registered under a name
type UnknownDeciderError struct {
	Decider string
}

func (e *UnknownDeciderError) Error() string {
	return fmt.Sprintf("unknown decider %q", e.Decider)
}

// InstanceStartError is returned when a container failed to become ready
type InstanceStartError struct {
	Key InstanceKey
	Err error
}

func (e *InstanceStartError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Key, e.Err)
}

func (e *InstanceStartError) Unwrap() error { return e.Err }

// DeciderInvocationError is raised by a decider call or its malformed output
type DeciderInvocationError struct {
	Decider   string
	Method    string
	Arguments []any
	Err       error
}

func (e *DeciderInvocationError) Error() string {
	return fmt.Sprintf("%s.%s%s: %v", e.Decider, e.Method, formatArguments(e.Arguments), e.Err)
}

func (e *DeciderInvocationError) Unwrap() error { return e.Err }

func formatArguments(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprintf("%v", a)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// ErrorKind maps an error onto the job error taxonomy
func ErrorKind(err error) string {
	var (
		installErr *InstallError
		configErr  *ConfigurationError
		startErr   *InstanceStartError
		unknownErr *UnknownDeciderError
	)
	switch {
	case errors.Is(err, ErrDependencyFailed):
		return KindDependencyFailed
	case errors.Is(err, ErrInterrupted):
		return KindInterrupted
	case errors.As(err, &installErr):
		return KindInstall
	case errors.As(err, &configErr):
		return KindConfiguration
	case errors.As(err, &startErr):
		return KindInstanceStart
	case errors.As(err, &unknownErr):
		return KindUnknownDecider
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	default:
		return KindDeciderInvocation
	}
}

// NewJobError captures err against the call a job describes
func NewJobError(job *Job, err error) *JobError {
	return &JobError{
		Kind:      ErrorKind(err),
		Decider:   job.Decider,
		Method:    job.Method,
		Arguments: append([]any(nil), job.Arguments...),
		Message:   err.Error(),
	}
}
