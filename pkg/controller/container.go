package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/cuemby/brainbox/pkg/health"
	"github.com/cuemby/brainbox/pkg/log"
	"github.com/cuemby/brainbox/pkg/network"
	"github.com/cuemby/brainbox/pkg/runtime"
	"github.com/cuemby/brainbox/pkg/types"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Readiness describes how a web-service container proves it is ready
type Readiness struct {
	// Type is http, tcp, grpc or none
	Type string

	// Path is the HTTP path probed for the http type (default: /health)
	Path string

	Probe health.ProbeConfig

	// FailureThreshold is the number of consecutive failed liveness checks
	// before a warm instance is discarded (default: 1)
	FailureThreshold int
}

// ContainerSpec is the declarative description of a containerized decider
type ContainerSpec struct {
	Name          string
	Mode          Mode
	Image         string
	Build         *types.BuildSpec
	ContainerPort int
	HostPort      int // Defaults to ContainerPort; parameter i of Parameters gets HostPort+i
	Singleton     bool
	Parameters    []string // Allowed parameters; empty accepts any
	Env           map[string]string
	Command       []string
	Readiness     Readiness
	StopTimeout   time.Duration
}

// ContainerController runs a decider as a container on a Runtime
type ContainerController struct {
	spec   ContainerSpec
	rt     runtime.Runtime
	table  *instanceTable
	client *http.Client
	ports  *network.HostPorts
	logger zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	liveness map[string]*health.Liveness
}

// NewContainerController creates a controller for spec on rt
func NewContainerController(spec ContainerSpec, rt runtime.Runtime) *ContainerController {
	if spec.Mode == "" {
		spec.Mode = ModeWebService
	}
	if spec.HostPort == 0 {
		spec.HostPort = spec.ContainerPort
	}
	if spec.StopTimeout == 0 {
		spec.StopTimeout = runtime.DefaultStopTimeout
	}
	if spec.Readiness.Probe == (health.ProbeConfig{}) {
		spec.Readiness.Probe = health.DefaultProbeConfig()
	}
	return &ContainerController{
		spec:     spec,
		rt:       rt,
		table:    newInstanceTable(),
		client:   &http.Client{},
		logger:   log.WithDecider(spec.Name),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		liveness: make(map[string]*health.Liveness),
	}
}

// WithHostPorts makes instances reserve their published ports in a table
// shared with other controllers
func (c *ContainerController) WithHostPorts(p *network.HostPorts) *ContainerController {
	c.ports = p
	return c
}

// OnInstanceChange registers an observer for instance transitions
func (c *ContainerController) OnInstanceChange(fn func(types.Instance)) {
	c.table.onChange = fn
}

// Name returns the decider name
func (c *ContainerController) Name() string { return c.spec.Name }

// Mode returns the execution mode
func (c *ContainerController) Mode() Mode { return c.spec.Mode }

// Install makes the decider image available on the runtime
func (c *ContainerController) Install(ctx context.Context) error {
	c.logger.Info().Str("image", c.spec.Image).Msg("Installing decider image")
	if err := c.rt.EnsureImage(ctx, c.spec.Image, c.spec.Build); err != nil {
		return &types.InstallError{Decider: c.spec.Name, Err: err}
	}
	return nil
}

// RunConfiguration validates parameter and derives ports and the entry document
func (c *ContainerController) RunConfiguration(parameter string) (types.RunConfiguration, error) {
	if c.spec.Singleton && parameter != "" {
		return types.RunConfiguration{}, &types.ConfigurationError{
			Decider: c.spec.Name,
			Reason:  fmt.Sprintf("parameter must be empty for a singleton decider, got %q", parameter),
		}
	}

	offset := 0
	if len(c.spec.Parameters) > 0 && parameter != "" {
		offset = slices.Index(c.spec.Parameters, parameter)
		if offset < 0 {
			return types.RunConfiguration{}, &types.ConfigurationError{
				Decider: c.spec.Name,
				Reason:  fmt.Sprintf("parameter %q is not one of %v", parameter, c.spec.Parameters),
			}
		}
	}

	rc := types.RunConfiguration{
		Parameter: parameter,
		Image:     c.spec.Image,
		Env:       c.spec.Env,
		Command:   c.spec.Command,
		Entry: types.EntryDocument{
			Version:   types.EntryVersion,
			Decider:   c.spec.Name,
			Parameter: parameter,
		},
	}

	if c.spec.Mode == ModeWebService {
		if c.spec.ContainerPort <= 0 {
			return types.RunConfiguration{}, &types.ConfigurationError{
				Decider: c.spec.Name,
				Reason:  "web-service decider needs a container port",
			}
		}
		rc.PublishPorts = map[int]int{c.spec.HostPort + offset: c.spec.ContainerPort}
		rc.Entry.Port = c.spec.ContainerPort
	}
	return rc, nil
}

// Start creates an instance for rc. Web-service instances get a container and
// a readiness probe; on-demand instances only reserve a slot.
func (c *ContainerController) Start(ctx context.Context, rc types.RunConfiguration) (types.Instance, error) {
	e := c.table.create(c.spec.Name, rc)
	defer e.op.Unlock()
	id := e.inst.ID

	if c.spec.Mode == ModeOnDemand {
		return c.table.transition(id, types.InstanceWarm)
	}

	logger := c.logger.With().Str("instance_id", id).Str("parameter", rc.Parameter).Logger()
	logger.Info().Msg("Starting decider container")

	if c.ports != nil {
		if err := c.ports.Publish(id, rc.PublishPorts); err != nil {
			return c.startFailed(id, err)
		}
	}

	handle, err := c.rt.StartContainer(ctx, containerName(c.spec.Name, id), rc)
	if err != nil {
		return c.startFailed(id, err)
	}
	c.table.setHandle(id, handle)

	if checker := c.checker(handle); checker != nil {
		if err := health.WaitReady(ctx, checker, c.spec.Readiness.Probe); err != nil {
			return c.startFailed(id, err)
		}
	}

	inst, err := c.table.transition(id, types.InstanceWarm)
	if err != nil {
		return inst, err
	}
	logger.Info().Str("container_id", handle.ContainerID).Str("address", handle.Address).Msg("Decider instance is warm")
	return inst, nil
}

func (c *ContainerController) startFailed(id string, cause error) (types.Instance, error) {
	inst, ferr := c.table.fail(id, cause.Error())
	if ferr != nil {
		inst, _ = c.table.get(id)
	}
	c.logger.Warn().Err(cause).Str("instance_id", id).Msg("Decider instance failed to start")
	return inst, &types.InstanceStartError{Key: inst.Key, Err: cause}
}

func (c *ContainerController) unpublish(id string) {
	if c.ports != nil {
		c.ports.Unpublish(id)
	}
}

// checker builds the readiness checker for a started container
func (c *ContainerController) checker(h types.Handle) health.Checker {
	if h.Address == "" {
		return nil
	}
	switch c.spec.Readiness.Type {
	case "", "http":
		path := c.spec.Readiness.Path
		if path == "" {
			path = "/health"
		}
		return health.NewHTTPChecker("http://" + h.Address + path)
	case "tcp":
		return health.NewTCPChecker(h.Address)
	case "grpc":
		return health.NewGRPCChecker(h.Address)
	default:
		return nil
	}
}

// Stop cools a Warm instance down and removes it, or discards a Failed one
func (c *ContainerController) Stop(ctx context.Context, instanceID string) error {
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

	failed := inst.State == types.InstanceFailed
	if !failed {
		if inst, err = c.table.transition(instanceID, types.InstanceCoolingDown); err != nil {
			return err
		}
	}

	var stopErr error
	if id := inst.Handle.ContainerID; id != "" {
		if err := c.rt.StopContainer(ctx, id, c.spec.StopTimeout); err != nil {
			stopErr = err
		}
		if err := c.rt.RemoveContainer(ctx, id); err != nil && stopErr == nil {
			stopErr = err
		}
	}

	if !failed {
		if stopErr != nil {
			_, _ = c.table.fail(instanceID, stopErr.Error())
		} else {
			_, _ = c.table.transition(instanceID, types.InstanceInstalled)
		}
	}
	c.table.remove(instanceID)
	c.forget(instanceID)
	c.unpublish(instanceID)

	if stopErr != nil {
		return fmt.Errorf("stop instance %s: %w", instanceID, stopErr)
	}
	c.logger.Info().Str("instance_id", instanceID).Msg("Decider instance stopped")
	return nil
}

// Acquire moves a Warm instance to Busy
func (c *ContainerController) Acquire(instanceID string) error {
	return c.table.acquire(instanceID)
}

// Release moves a Busy instance back to Warm
func (c *ContainerController) Release(instanceID string) error {
	return c.table.release(instanceID)
}

// MarkFailed moves an instance to Failed
func (c *ContainerController) MarkFailed(instanceID, reason string) error {
	_, err := c.table.fail(instanceID, reason)
	return err
}

// CheckInstance verifies the container is alive and still passes its readiness check
func (c *ContainerController) CheckInstance(ctx context.Context, instanceID string) error {
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
	if c.spec.Mode == ModeOnDemand || inst.Handle.ContainerID == "" {
		return nil
	}

	reason := ""
	if !c.rt.IsRunning(ctx, inst.Handle.ContainerID) {
		reason = "container is not running"
	} else if checker := c.checker(inst.Handle); checker != nil {
		res := checker.Check(ctx)
		live := c.livenessOf(instanceID)
		if !live.Observe(res) {
			reason = "health check failed: " + res.Message
		} else if !res.Healthy {
			c.logger.Debug().Str("instance_id", instanceID).Int("failures", live.Failures()).
				Str("result", res.Message).Msg("Tolerating failed health check")
		}
	}
	if reason == "" {
		return nil
	}

	c.logger.Warn().Str("instance_id", instanceID).Str("reason", reason).Msg("Decider instance is unhealthy")
	if _, err := c.table.fail(instanceID, reason); err != nil {
		return err
	}
	return errors.New(reason)
}

// Instances returns a snapshot of the controller's instances
func (c *ContainerController) Instances() []types.Instance {
	return c.table.list()
}

// CreateAPI returns the transport-specific client of an instance
func (c *ContainerController) CreateAPI(instanceID string) (DeciderAPI, error) {
	e, err := c.table.entry(instanceID)
	if err != nil {
		return nil, err
	}
	inst, err := c.table.get(instanceID)
	if err != nil {
		return nil, err
	}

	if c.spec.Mode == ModeOnDemand {
		return &OnDemandAPI{
			decider: c.spec.Name,
			rt:      c.rt,
			rc:      e.rc,
		}, nil
	}

	if inst.Handle.Address == "" {
		return nil, fmt.Errorf("instance %s has no address", instanceID)
	}
	return NewWebServiceAPI(c.spec.Name, "http://"+inst.Handle.Address, c.client, c.breaker(instanceID)), nil
}

func (c *ContainerController) breaker(instanceID string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[instanceID]; ok {
		return cb
	}
	cb := newBreaker(c.spec.Name+"/"+instanceID, c.logger)
	c.breakers[instanceID] = cb
	return cb
}

func (c *ContainerController) livenessOf(instanceID string) *health.Liveness {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.liveness[instanceID]
	if !ok {
		l = health.NewLiveness(c.spec.Readiness.FailureThreshold)
		c.liveness[instanceID] = l
	}
	return l
}

// forget drops per-instance call and health state
func (c *ContainerController) forget(instanceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.breakers, instanceID)
	delete(c.liveness, instanceID)
}
