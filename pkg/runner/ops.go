package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/brainbox/pkg/controller"
	"github.com/cuemby/brainbox/pkg/log"
	"github.com/cuemby/brainbox/pkg/metrics"
	"github.com/cuemby/brainbox/pkg/planner"
	"github.com/cuemby/brainbox/pkg/types"
)

// schedule performs one planning cycle: it asks the planner for actions
// until it says Wait, applying each before asking again
func (r *Runner) schedule() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingCycleDuration)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}

	r.discardFailed()
	r.failStranded()

	for i := 0; i < maxActionsPerCycle; i++ {
		action := r.planner.NextAction(r.snapshot())
		if action.Kind == planner.ActionWait {
			return
		}
		metrics.PlannerActions.WithLabelValues(string(action.Kind)).Inc()
		r.logger.Debug().Str("action", action.String()).Msg("Applying planner action")

		if !r.apply(action) {
			return
		}
	}
	r.logger.Warn().Int("actions", maxActionsPerCycle).Msg("Planning cycle reached its action limit")
}

// snapshot builds the planner input. Keys with a warm-up in flight appear as
// one Starting instance and instances being stopped appear as CoolingDown,
// whatever their controller currently reports.
func (r *Runner) snapshot() planner.Snapshot {
	snap := planner.Snapshot{Now: r.now()}

	for _, job := range r.pending {
		if r.eligible(job) {
			snap.Pending = append(snap.Pending, planner.JobView{
				TaskID:     job.TaskID,
				Key:        job.Key(),
				ReceivedAt: job.ReceivedAt,
			})
		}
	}

	for _, ctrl := range r.registry.Controllers() {
		for _, inst := range ctrl.Instances() {
			if r.warming[inst.Key] {
				continue
			}
			state := inst.State
			if r.stopping[inst.ID] {
				state = types.InstanceCoolingDown
			}
			snap.Instances = append(snap.Instances, planner.InstanceView{
				ID:           inst.ID,
				Key:          inst.Key,
				State:        state,
				LastActivity: inst.LastActivity,
			})
		}
	}

	for key := range r.warming {
		snap.Instances = append(snap.Instances, planner.InstanceView{
			ID:           "warming/" + key.String(),
			Key:          key,
			State:        types.InstanceStarting,
			LastActivity: snap.Now,
		})
	}
	return snap
}

// apply starts executing an action. It returns false when the action could
// not change any state, which ends the cycle.
func (r *Runner) apply(a planner.Action) bool {
	switch a.Kind {
	case planner.ActionWarmUp:
		if r.warming[a.Key] {
			return false
		}
		r.startWarmUp(a.Key)
		return true

	case planner.ActionAssign:
		return r.assign(a)

	case planner.ActionCoolDown:
		if r.stopping[a.InstanceID] {
			return false
		}
		ctrl, err := r.registry.Get(a.Key.Decider)
		if err != nil {
			r.logger.Error().Err(err).Msg("Cool-down for unknown decider")
			return false
		}
		r.startStop(ctrl, a.InstanceID, a.Key, true)
		return true

	default:
		r.logger.Error().Str("action", a.String()).Msg("Unsupported planner action")
		return false
	}
}

func (r *Runner) assign(a planner.Action) bool {
	job, ok := r.pending[a.TaskID]
	if !ok {
		r.logger.Error().Str("task_id", a.TaskID).Msg("Planner assigned a job that is not pending")
		return false
	}

	ctrl, err := r.registry.Get(a.Key.Decider)
	if err != nil {
		r.failJob(job, err)
		return true
	}
	if err := ctrl.Acquire(a.InstanceID); err != nil {
		// Most likely failed by a health check since the snapshot; the next
		// cycle discards it
		r.logger.Warn().Err(err).Str("instance_id", a.InstanceID).Msg("Failed to acquire instance")
		return false
	}

	r.assignJob(job, a.InstanceID)
	r.invoking[a.InstanceID] = true

	call := controller.Call{
		Method:       job.Method,
		Arguments:    append([]any(nil), job.Arguments...),
		Dependencies: r.dependencies(job),
	}
	timeout := r.cfg.InvocationTimeout
	if job.Timeout > 0 {
		timeout = job.Timeout
	}

	r.ops.Add(1)
	go r.invoke(ctrl, job.TaskID, a.InstanceID, call, timeout)
	return true
}

// invoke runs one decider call on an acquired instance
func (r *Runner) invoke(ctrl controller.Controller, taskID, instanceID string, call controller.Call, timeout time.Duration) {
	defer r.ops.Done()

	logger := log.WithJobID(taskID).With().
		Str("decider", ctrl.Name()).
		Str("method", call.Method).
		Str("instance_id", instanceID).
		Logger()

	result, err := r.call(ctrl, taskID, instanceID, call, timeout)
	if err != nil && r.opCtx.Err() != nil {
		err = fmt.Errorf("%w: %v", types.ErrInterrupted, err)
	}

	if errors.Is(err, types.ErrTimeout) {
		// A hung decider must not get the next job if it is no longer healthy
		ctx, cancel := context.WithTimeout(r.opCtx, r.cfg.CheckTimeout)
		if cerr := ctrl.CheckInstance(ctx, instanceID); cerr != nil {
			logger.Warn().Err(cerr).Msg("Instance unhealthy after invocation timeout")
		}
		cancel()
	}

	r.mu.Lock()
	if job, ok := r.jobs[taskID]; ok {
		if err != nil {
			logger.Warn().Err(err).Msg("Job failed")
			r.failJob(job, err)
		} else {
			logger.Debug().Msg("Job finished")
			r.finishJob(job, result)
		}
	}
	if rerr := ctrl.Release(instanceID); rerr != nil {
		// A failed instance is discarded by the next planning cycle
		logger.Debug().Err(rerr).Msg("Instance not released")
	}
	delete(r.invoking, instanceID)
	r.mu.Unlock()

	r.Wake()
}

func (r *Runner) call(ctrl controller.Controller, taskID, instanceID string, call controller.Call, timeout time.Duration) (any, error) {
	api, err := ctrl.CreateAPI(instanceID)
	if err != nil {
		return nil, &types.DeciderInvocationError{Decider: ctrl.Name(), Method: call.Method, Arguments: call.Arguments, Err: err}
	}

	r.mu.Lock()
	accepted := r.acceptJob(taskID)
	r.mu.Unlock()
	if !accepted {
		return nil, types.ErrInterrupted
	}

	ctx, cancel := context.WithTimeout(r.opCtx, timeout)
	defer cancel()
	return api.Invoke(ctx, call)
}

// startWarmUp launches the warm-up of key; the caller holds r.mu
func (r *Runner) startWarmUp(key types.InstanceKey) {
	if r.stopped || r.warming[key] {
		return
	}
	r.warming[key] = true
	r.ops.Add(1)
	go r.warmUp(key)
}

func (r *Runner) warmUp(key types.InstanceKey) {
	defer r.ops.Done()

	logger := log.WithDecider(key.Decider).With().Str("parameter", key.Parameter).Logger()
	logger.Info().Msg("Warming up decider instance")
	timer := metrics.NewTimer()

	inst, err := r.startInstance(key)

	outcome := "ok"
	if err != nil {
		outcome = "failed"
		logger.Warn().Err(err).Msg("Warm-up failed")
	} else {
		logger.Info().Str("instance_id", inst.ID).Dur("duration", timer.Duration()).Msg("Decider instance ready")
	}
	metrics.WarmupsTotal.WithLabelValues(key.Decider, outcome).Inc()
	timer.ObserveDurationVec(metrics.WarmupDuration, key.Decider)

	r.mu.Lock()
	delete(r.warming, key)
	if err != nil {
		r.startErr[key] = err
		for _, job := range r.pending {
			if job.Key() == key && r.eligible(job) {
				r.failJob(job, err)
			}
		}
	} else {
		delete(r.startErr, key)
		if _, ok := r.planner.(planner.StartupPlanner); ok {
			r.keepWarm[key] = true
		}
	}
	r.mu.Unlock()

	r.Wake()
}

// startInstance installs, starts and warms an instance of key. Instances that
// fail on the way are discarded before returning.
func (r *Runner) startInstance(key types.InstanceKey) (types.Instance, error) {
	ctx := r.opCtx

	ctrl, err := r.registry.Get(key.Decider)
	if err != nil {
		return types.Instance{}, err
	}
	if err := r.registry.EnsureInstalled(ctx, key.Decider); err != nil {
		return types.Instance{}, err
	}
	rc, err := ctrl.RunConfiguration(key.Parameter)
	if err != nil {
		return types.Instance{}, err
	}

	inst, err := ctrl.Start(ctx, rc)
	if err != nil {
		if inst.ID != "" {
			r.discard(ctx, ctrl, inst.ID)
		}
		return inst, err
	}

	api, err := ctrl.CreateAPI(inst.ID)
	if err == nil {
		err = api.Warmup(ctx, key.Parameter)
	}
	if err != nil {
		_ = ctrl.MarkFailed(inst.ID, "warmup: "+err.Error())
		r.discard(ctx, ctrl, inst.ID)
		return inst, &types.InstanceStartError{Key: key, Err: err}
	}
	return inst, nil
}

func (r *Runner) discard(ctx context.Context, ctrl controller.Controller, instanceID string) {
	if err := ctrl.Stop(ctx, instanceID); err != nil {
		r.logger.Warn().Err(err).Str("instance_id", instanceID).Msg("Failed to discard instance")
	}
}

// startStop launches the teardown of an instance; the caller holds r.mu
func (r *Runner) startStop(ctrl controller.Controller, instanceID string, key types.InstanceKey, cool bool) {
	if r.stopped || r.stopping[instanceID] {
		return
	}
	r.stopping[instanceID] = true
	r.ops.Add(1)
	go r.stopInstance(ctrl, instanceID, key, cool)
}

// stopInstance cools a Warm instance down and stops it, or discards a Failed
// one. Keys the startup policy keeps warm are started again after a discard.
func (r *Runner) stopInstance(ctrl controller.Controller, instanceID string, key types.InstanceKey, cool bool) {
	defer r.ops.Done()

	logger := log.WithInstanceID(instanceID).With().Str("decider", key.Decider).Logger()
	ctx := r.opCtx

	if cool {
		logger.Info().Msg("Cooling down decider instance")
		if api, err := ctrl.CreateAPI(instanceID); err == nil {
			if err := api.Cooldown(ctx, key.Parameter); err != nil {
				logger.Warn().Err(err).Msg("Cooldown call failed")
			}
		}
		metrics.CooldownsTotal.WithLabelValues(key.Decider).Inc()
	} else {
		logger.Info().Msg("Discarding failed decider instance")
	}
	r.discard(ctx, ctrl, instanceID)

	r.mu.Lock()
	delete(r.stopping, instanceID)
	if !cool && r.keepWarm[key] && !r.hasLiveInstance(key) {
		r.startWarmUp(key)
	}
	r.mu.Unlock()

	r.Wake()
}

// discardFailed stops Failed instances nobody is using; the caller holds r.mu
func (r *Runner) discardFailed() {
	for _, ctrl := range r.registry.Controllers() {
		for _, inst := range ctrl.Instances() {
			if inst.State != types.InstanceFailed || r.stopping[inst.ID] || r.invoking[inst.ID] || r.warming[inst.Key] {
				continue
			}
			r.startStop(ctrl, inst.ID, inst.Key, false)
		}
	}
}

// failStranded fails eligible jobs that a startup policy can no longer
// serve: their key failed to warm and nothing is running or starting for
// it. The caller holds r.mu.
func (r *Runner) failStranded() {
	if _, ok := r.planner.(planner.StartupPlanner); !ok || len(r.startErr) == 0 {
		return
	}
	for _, job := range r.pending {
		key := job.Key()
		err, failed := r.startErr[key]
		if !failed || r.warming[key] || r.hasLiveInstance(key) || !r.eligible(job) {
			continue
		}
		r.failJob(job, err)
	}
}

func (r *Runner) hasLiveInstance(key types.InstanceKey) bool {
	ctrl, err := r.registry.Get(key.Decider)
	if err != nil {
		return false
	}
	for _, inst := range ctrl.Instances() {
		if inst.Key == key && inst.State.Live() {
			return true
		}
	}
	return false
}
