package controller

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sort"
	"sync"

	"github.com/cuemby/brainbox/pkg/log"
	"github.com/cuemby/brainbox/pkg/types"
	"github.com/rs/zerolog"
)

// Handler implements one decider method
type Handler func(ctx context.Context, args []any, deps map[string]any) (any, error)

// Decider is an in-process decider. Methods are bound by name when the
// decider is registered; hooks left nil succeed immediately.
type Decider struct {
	Name       string
	Singleton  bool
	Parameters []string // Allowed parameters; empty accepts any
	Methods    map[string]Handler

	InstallFunc  func(ctx context.Context) error
	StartFunc    func(ctx context.Context, parameter string) error
	CheckFunc    func(ctx context.Context, parameter string) error
	WarmupFunc   func(ctx context.Context, parameter string) error
	CooldownFunc func(ctx context.Context, parameter string) error
}

// MethodNames returns the bound method names in order
func (d Decider) MethodNames() []string {
	names := make([]string, 0, len(d.Methods))
	for name := range d.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DeciderController runs a Decider inside the orchestrator process
type DeciderController struct {
	decider Decider
	table   *instanceTable
	logger  zerolog.Logger

	mu      sync.Mutex
	running map[string]int // instance id -> handlers still executing
}

// NewDeciderController creates a controller over an in-process decider
func NewDeciderController(d Decider) *DeciderController {
	return &DeciderController{
		decider: d,
		table:   newInstanceTable(),
		logger:  log.WithDecider(d.Name),
		running: make(map[string]int),
	}
}

// OnInstanceChange registers an observer for instance transitions
func (c *DeciderController) OnInstanceChange(fn func(types.Instance)) {
	c.table.onChange = fn
}

// Name returns the decider name
func (c *DeciderController) Name() string { return c.decider.Name }

// Mode reports web-service: the decider stays loaded between calls
func (c *DeciderController) Mode() Mode { return ModeWebService }

// Install runs the decider's install hook
func (c *DeciderController) Install(ctx context.Context) error {
	if c.decider.InstallFunc == nil {
		return nil
	}
	if err := c.decider.InstallFunc(ctx); err != nil {
		return &types.InstallError{Decider: c.decider.Name, Err: err}
	}
	return nil
}

// RunConfiguration validates parameter against the decider's contract
func (c *DeciderController) RunConfiguration(parameter string) (types.RunConfiguration, error) {
	if c.decider.Singleton && parameter != "" {
		return types.RunConfiguration{}, &types.ConfigurationError{
			Decider: c.decider.Name,
			Reason:  fmt.Sprintf("parameter must be empty for a singleton decider, got %q", parameter),
		}
	}
	if len(c.decider.Parameters) > 0 && parameter != "" && !slices.Contains(c.decider.Parameters, parameter) {
		return types.RunConfiguration{}, &types.ConfigurationError{
			Decider: c.decider.Name,
			Reason:  fmt.Sprintf("parameter %q is not one of %v", parameter, c.decider.Parameters),
		}
	}
	return types.RunConfiguration{
		Parameter: parameter,
		Entry:     types.EntryDocument{Version: types.EntryVersion, Decider: c.decider.Name, Parameter: parameter},
	}, nil
}

// Start brings up an in-process instance
func (c *DeciderController) Start(ctx context.Context, rc types.RunConfiguration) (types.Instance, error) {
	e := c.table.create(c.decider.Name, rc)
	defer e.op.Unlock()

	if c.decider.StartFunc != nil {
		if err := c.decider.StartFunc(ctx, rc.Parameter); err != nil {
			inst, _ := c.table.fail(e.inst.ID, err.Error())
			return inst, &types.InstanceStartError{Key: inst.Key, Err: err}
		}
	}
	return c.table.transition(e.inst.ID, types.InstanceWarm)
}

// Stop cools a Warm instance down and forgets it, or discards a Failed one
func (c *DeciderController) Stop(ctx context.Context, instanceID string) error {
	e, err := c.table.entry(instanceID)
	if err != nil {
		return err
	}
	e.op.Lock()
	defer e.op.Unlock()

	inst, err := c.table.get(instanceID)
	if err != nil {
		return err
	}
	if inst.State != types.InstanceFailed {
		if _, err := c.table.transition(instanceID, types.InstanceCoolingDown); err != nil {
			return err
		}
		if _, err := c.table.transition(instanceID, types.InstanceInstalled); err != nil {
			return err
		}
	}
	c.table.remove(instanceID)
	return nil
}

// Acquire moves a Warm instance to Busy. An instance still executing an
// abandoned handler is refused with ErrInstanceBusy.
func (c *DeciderController) Acquire(instanceID string) error {
	if n := c.inFlight(instanceID); n > 0 {
		return fmt.Errorf("instance %s: %d abandoned call(s) still running: %w", instanceID, n, types.ErrInstanceBusy)
	}
	return c.table.acquire(instanceID)
}

func (c *DeciderController) enter(instanceID string) {
	c.mu.Lock()
	c.running[instanceID]++
	c.mu.Unlock()
}

func (c *DeciderController) leave(instanceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running[instanceID]--
	if c.running[instanceID] <= 0 {
		delete(c.running, instanceID)
	}
}

// inFlight returns the number of handlers executing on an instance
func (c *DeciderController) inFlight(instanceID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running[instanceID]
}

// Release moves a Busy instance back to Warm
func (c *DeciderController) Release(instanceID string) error {
	return c.table.release(instanceID)
}

// MarkFailed moves an instance to Failed
func (c *DeciderController) MarkFailed(instanceID, reason string) error {
	_, err := c.table.fail(instanceID, reason)
	return err
}

// CheckInstance runs the decider's check hook. Outside of an invocation no
// handler may be executing; one that is was abandoned after a timeout and
// fails the instance.
func (c *DeciderController) CheckInstance(ctx context.Context, instanceID string) error {
	e, err := c.table.entry(instanceID)
	if err != nil {
		return err
	}
	e.op.Lock()
	defer e.op.Unlock()

	inst, err := c.table.get(instanceID)
	if err != nil {
		return err
	}
	if inst.State.Terminal() {
		return fmt.Errorf("instance %s is %s: %s", instanceID, inst.State, inst.Reason)
	}
	if n := c.inFlight(instanceID); n > 0 {
		reason := fmt.Sprintf("%d abandoned call(s) still running", n)
		_, _ = c.table.fail(instanceID, reason)
		c.logger.Warn().Str("instance_id", instanceID).Int("running", n).Msg("Instance failed with abandoned calls")
		return fmt.Errorf("instance %s: %s", instanceID, reason)
	}
	if c.decider.CheckFunc == nil {
		return nil
	}
	if err := c.decider.CheckFunc(ctx, inst.Key.Parameter); err != nil {
		_, _ = c.table.fail(instanceID, err.Error())
		return err
	}
	return nil
}

// Instances returns a snapshot of the controller's instances
func (c *DeciderController) Instances() []types.Instance {
	return c.table.list()
}

// CreateAPI returns a client that calls the decider's handlers directly
func (c *DeciderController) CreateAPI(instanceID string) (DeciderAPI, error) {
	if _, err := c.table.get(instanceID); err != nil {
		return nil, err
	}
	return &inProcessAPI{ctrl: c, instanceID: instanceID, decider: &c.decider, logger: c.logger}, nil
}

type inProcessAPI struct {
	ctrl       *DeciderController
	instanceID string
	decider    *Decider
	logger     zerolog.Logger
}

func (a *inProcessAPI) Warmup(ctx context.Context, parameter string) error {
	if a.decider.WarmupFunc == nil {
		return nil
	}
	return a.decider.WarmupFunc(ctx, parameter)
}

func (a *inProcessAPI) Cooldown(ctx context.Context, parameter string) error {
	if a.decider.CooldownFunc == nil {
		return nil
	}
	return a.decider.CooldownFunc(ctx, parameter)
}

// Invoke dispatches to the bound handler. A handler that overruns ctx is
// abandoned and the call fails with ErrTimeout. It keeps counting against
// the instance until it returns. A panicking handler becomes an invocation
// error.
func (a *inProcessAPI) Invoke(ctx context.Context, call Call) (any, error) {
	handler, ok := a.decider.Methods[call.Method]
	if !ok {
		return nil, invocationError(a.decider.Name, call, fmt.Errorf("unknown method %q", call.Method))
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	a.ctrl.enter(a.instanceID)
	go func() {
		defer a.ctrl.leave(a.instanceID)
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error().Interface("panic", r).Str("method", call.Method).Str("stack", string(debug.Stack())).Msg("Decider method panicked")
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := handler(ctx, call.Arguments, call.Dependencies)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, invocationError(a.decider.Name, call, out.err)
		}
		return out.result, nil
	case <-ctx.Done():
		err := ctx.Err()
		if err == context.DeadlineExceeded {
			err = fmt.Errorf("%w: %v", types.ErrTimeout, err)
		}
		return nil, invocationError(a.decider.Name, call, err)
	}
}
