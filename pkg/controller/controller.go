package controller

import (
	"context"
	"fmt"

	"github.com/cuemby/brainbox/pkg/types"
)

// Mode selects when the runner starts and stops a decider's containers
type Mode string

const (
	// ModeWebService keeps a long-lived container and calls it over HTTP per task
	ModeWebService Mode = "web-service"

	// ModeOnDemand runs a one-shot container per invocation
	ModeOnDemand Mode = "on-demand"
)

// Controller owns the lifecycle of one decider type's instances. Operations on
// different instances may run concurrently; operations on the same instance
// are serialized by the controller itself.
type Controller interface {
	// Name is the decider name tasks refer to
	Name() string

	// Mode reports the execution mode
	Mode() Mode

	// Install builds or verifies the decider image; it is idempotent
	Install(ctx context.Context) error

	// RunConfiguration produces the configuration for an instance serving
	// parameter, or a ConfigurationError when the parameter is not accepted
	RunConfiguration(parameter string) (types.RunConfiguration, error)

	// Start brings up a new instance and returns it Warm. On failure the
	// returned instance is Failed and must be discarded with Stop.
	Start(ctx context.Context, rc types.RunConfiguration) (types.Instance, error)

	// Stop tears an instance down and forgets it
	Stop(ctx context.Context, instanceID string) error

	// Acquire moves a Warm instance to Busy
	Acquire(instanceID string) error

	// Release moves a Busy instance back to Warm and records activity
	Release(instanceID string) error

	// MarkFailed moves an instance to Failed
	MarkFailed(instanceID string, reason string) error

	// CheckInstance runs the instance health check once; an unhealthy
	// instance is marked Failed and an error is returned
	CheckInstance(ctx context.Context, instanceID string) error

	// Instances returns a snapshot of the known instances
	Instances() []types.Instance

	// CreateAPI returns a client bound to a running instance
	CreateAPI(instanceID string) (DeciderAPI, error)
}

// Call is one method invocation on a decider
type Call struct {
	Method       string         `json:"method"`
	Arguments    []any          `json:"arguments"`
	Dependencies map[string]any `json:"dependencies,omitempty"` // Prerequisite results keyed by task id
}

// DeciderAPI is the contract every decider satisfies over its transport
type DeciderAPI interface {
	Warmup(ctx context.Context, parameter string) error
	Cooldown(ctx context.Context, parameter string) error
	Invoke(ctx context.Context, call Call) (any, error)
}

// invocationError wraps err with the call context needed to reproduce it
func invocationError(decider string, call Call, err error) error {
	return &types.DeciderInvocationError{
		Decider:   decider,
		Method:    call.Method,
		Arguments: call.Arguments,
		Err:       err,
	}
}

// containerName derives a runtime-safe container name for an instance
func containerName(decider, instanceID string) string {
	short := instanceID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("brainbox-%s-%s", decider, short)
}
