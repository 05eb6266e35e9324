package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cuemby/brainbox/pkg/runtime"
	"github.com/cuemby/brainbox/pkg/types"
	"github.com/google/uuid"
)

// OnDemandAPI runs one container per invocation. The call is written to the
// container's stdin as JSON and the envelope is read back from stdout.
type OnDemandAPI struct {
	decider string
	rt      runtime.Runtime
	rc      types.RunConfiguration
}

// Warmup is a no-op: there is nothing to keep loaded between runs
func (a *OnDemandAPI) Warmup(ctx context.Context, parameter string) error { return nil }

// Cooldown is a no-op
func (a *OnDemandAPI) Cooldown(ctx context.Context, parameter string) error { return nil }

// Invoke runs the decider container once for call
func (a *OnDemandAPI) Invoke(ctx context.Context, call Call) (any, error) {
	if call.Arguments == nil {
		call.Arguments = []any{}
	}
	stdin, err := json.Marshal(call)
	if err != nil {
		return nil, invocationError(a.decider, call, fmt.Errorf("failed to encode call: %w", err))
	}

	name := containerName(a.decider, uuid.New().String())
	out, err := a.rt.RunOnce(ctx, name, a.rc, stdin)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w: %v", types.ErrTimeout, err)
		}
		return nil, invocationError(a.decider, call, err)
	}

	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}
	var env envelope
	if err := json.Unmarshal(out, &env); err != nil {
		return nil, invocationError(a.decider, call, fmt.Errorf("malformed output: %w", err))
	}
	if env.Error != "" {
		return nil, invocationError(a.decider, call, errors.New(env.Error))
	}
	return env.Result, nil
}
