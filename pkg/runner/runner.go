package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/brainbox/pkg/controller"
	"github.com/cuemby/brainbox/pkg/events"
	"github.com/cuemby/brainbox/pkg/log"
	"github.com/cuemby/brainbox/pkg/planner"
	"github.com/cuemby/brainbox/pkg/storage"
	"github.com/cuemby/brainbox/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxActionsPerCycle bounds one planning cycle
const maxActionsPerCycle = 1000

// ErrStopped is returned by Submit once the runner is shutting down
var ErrStopped = errors.New("runner is stopped")

// Config holds runner timing parameters
type Config struct {
	// InvocationTimeout bounds a decider call unless the task sets its own
	InvocationTimeout time.Duration

	// TickInterval wakes the loop to re-plan even without new work, so idle
	// timeouts are honoured
	TickInterval time.Duration

	// CheckTimeout bounds the health check of an instance whose call timed out
	CheckTimeout time.Duration

	// DrainTimeout bounds how long Stop spends cooling instances down
	DrainTimeout time.Duration
}

// DefaultConfig returns the default runner configuration
func DefaultConfig() Config {
	return Config{
		InvocationTimeout: 5 * time.Minute,
		TickInterval:      time.Second,
		CheckTimeout:      30 * time.Second,
		DrainTimeout:      30 * time.Second,
	}
}

// instanceObserver is implemented by controllers that report instance transitions
type instanceObserver interface {
	OnInstanceChange(fn func(types.Instance))
}

// Runner owns the job queue and drives the planning loop. Planning happens on
// a single goroutine under the runner lock; starting, invoking and stopping
// instances run on their own goroutines and report back under the same lock.
type Runner struct {
	cfg      Config
	registry *controller.Registry
	planner  planner.Planner
	store    storage.Store
	broker   *events.Broker
	logger   zerolog.Logger
	now      func() time.Time

	mu         sync.Mutex
	jobs       map[string]*types.Job
	done       map[string]chan struct{} // Closed when the job is terminal
	pending    map[string]*types.Job    // Received jobs not yet assigned
	dependents map[string][]string

	// In-flight operations, overlaid on controller state when planning
	warming  map[types.InstanceKey]bool
	stopping map[string]bool
	invoking map[string]bool

	// startErr is the last warm-up failure per key; keepWarm lists keys the
	// startup policy keeps running
	startErr map[types.InstanceKey]error
	keepWarm map[types.InstanceKey]bool

	opCtx     context.Context
	cancelOps context.CancelFunc
	ops       sync.WaitGroup

	wakeCh   chan struct{}
	stopCh   chan struct{}
	loopDone chan struct{}
	started  bool
	stopped  bool
}

// New creates a runner. Deciders must be registered before New so their
// instance transitions are published. broker may be nil.
func New(cfg Config, registry *controller.Registry, p planner.Planner, store storage.Store, broker *events.Broker) *Runner {
	defaults := DefaultConfig()
	if cfg.InvocationTimeout <= 0 {
		cfg.InvocationTimeout = defaults.InvocationTimeout
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaults.TickInterval
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = defaults.CheckTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaults.DrainTimeout
	}

	opCtx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		cfg:        cfg,
		registry:   registry,
		planner:    p,
		store:      store,
		broker:     broker,
		logger:     log.WithComponent("runner"),
		now:        time.Now,
		jobs:       make(map[string]*types.Job),
		done:       make(map[string]chan struct{}),
		pending:    make(map[string]*types.Job),
		dependents: make(map[string][]string),
		warming:    make(map[types.InstanceKey]bool),
		stopping:   make(map[string]bool),
		invoking:   make(map[string]bool),
		startErr:   make(map[types.InstanceKey]error),
		keepWarm:   make(map[types.InstanceKey]bool),
		opCtx:      opCtx,
		cancelOps:  cancel,
		wakeCh:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		loopDone:   make(chan struct{}),
	}

	for _, ctrl := range registry.Controllers() {
		if o, ok := ctrl.(instanceObserver); ok {
			o.OnInstanceChange(r.instanceChanged)
		}
	}
	if registry.OnStatusChange == nil {
		registry.OnStatusChange = r.installChanged
	}
	return r
}

// Start recovers persisted jobs, applies the planner's startup actions and
// begins the planning loop. Jobs that were in flight when the process last
// stopped are failed as interrupted.
func (r *Runner) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.started || r.stopped {
		r.mu.Unlock()
		return fmt.Errorf("runner already started")
	}
	r.started = true

	if err := r.recoverJobs(); err != nil {
		r.mu.Unlock()
		return err
	}

	if sp, ok := r.planner.(planner.StartupPlanner); ok {
		for _, a := range sp.StartupActions() {
			if a.Kind == planner.ActionWarmUp {
				r.startWarmUp(a.Key)
			}
		}
	}
	r.mu.Unlock()

	r.logger.Info().Str("planner", r.planner.Name()).Msg("Runner started")
	go r.run()
	return nil
}

// Stop halts planning, lets in-flight operations finish until ctx expires,
// stops every remaining instance and fails the jobs left waiting.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.loopDone
	}

	drained := make(chan struct{})
	go func() {
		r.ops.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		r.logger.Warn().Msg("Cancelling in-flight operations")
		r.cancelOps()
		<-drained
	}
	r.cancelOps()

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.DrainTimeout)
	defer cancel()
	for _, ctrl := range r.registry.Controllers() {
		for _, inst := range ctrl.Instances() {
			if inst.State == types.InstanceWarm {
				if api, err := ctrl.CreateAPI(inst.ID); err == nil {
					if err := api.Cooldown(drainCtx, inst.Key.Parameter); err != nil {
						r.logger.Warn().Err(err).Str("instance_id", inst.ID).Msg("Cooldown failed during shutdown")
					}
				}
			}
			if err := ctrl.Stop(drainCtx, inst.ID); err != nil {
				r.logger.Warn().Err(err).Str("instance_id", inst.ID).Msg("Failed to stop instance during shutdown")
			}
		}
	}

	r.mu.Lock()
	for _, job := range r.jobs {
		if !job.Status.Terminal() {
			r.failJob(job, types.ErrInterrupted)
		}
	}
	r.mu.Unlock()

	r.logger.Info().Msg("Runner stopped")
	return nil
}

// Wake asks the loop to plan again, for example after an instance failed
func (r *Runner) Wake() {
	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
}

// PendingCount returns the number of jobs waiting for an instance
func (r *Runner) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// run is the main planning loop
func (r *Runner) run() {
	defer close(r.loopDone)

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		r.schedule()

		select {
		case <-r.wakeCh:
		case <-ticker.C:
		case <-r.stopCh:
			return
		}
	}
}

// recoverJobs loads persisted jobs; the caller holds r.mu
func (r *Runner) recoverJobs() error {
	jobs, err := r.store.ListJobs()
	if err != nil {
		return fmt.Errorf("failed to load jobs: %w", err)
	}

	for _, job := range jobs {
		r.jobs[job.TaskID] = job
		r.done[job.TaskID] = make(chan struct{})
		for _, p := range job.Prerequisites {
			r.dependents[p] = append(r.dependents[p], job.TaskID)
		}
	}

	var unfinished []*types.Job
	for _, job := range jobs {
		if job.Status.Terminal() {
			close(r.done[job.TaskID])
		} else {
			unfinished = append(unfinished, job)
		}
	}

	for _, job := range unfinished {
		// Earlier failures may already have cascaded here
		if !job.Status.Terminal() {
			r.failJob(job, types.ErrInterrupted)
		}
	}
	interrupted := len(unfinished)

	if len(jobs) > 0 {
		r.logger.Info().Int("jobs", len(jobs)).Int("interrupted", interrupted).Msg("Recovered jobs")
	}
	return nil
}

func (r *Runner) instanceChanged(inst types.Instance) {
	var typ events.EventType
	switch inst.State {
	case types.InstanceStarting:
		typ = events.EventInstanceStarting
	case types.InstanceWarm:
		typ = events.EventInstanceWarm
	case types.InstanceBusy:
		typ = events.EventInstanceBusy
	case types.InstanceCoolingDown:
		typ = events.EventInstanceCoolingDown
	case types.InstanceInstalled:
		typ = events.EventInstanceStopped
	case types.InstanceFailed:
		typ = events.EventInstanceFailed
	default:
		return
	}

	snap := inst
	r.publish(&events.Event{
		Type:     typ,
		Message:  fmt.Sprintf("instance %s of %s is %s", inst.ID, inst.Key, inst.State),
		Metadata: map[string]string{"decider": inst.Key.Decider, "instance_id": inst.ID},
		Instance: &snap,
	})
}

func (r *Runner) installChanged(name string, status types.InstallationStatus, err error) {
	ev := &events.Event{Metadata: map[string]string{"decider": name}}
	switch status {
	case types.Installed:
		ev.Type = events.EventDeciderInstalled
		ev.Message = fmt.Sprintf("decider %s installed", name)
	case types.InstallFailed:
		ev.Type = events.EventDeciderInstallFailed
		ev.Message = fmt.Sprintf("decider %s failed to install: %v", name, err)
	default:
		return
	}
	r.publish(ev)
}

func (r *Runner) publish(ev *events.Event) {
	if r.broker == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	r.broker.Publish(ev)
}
