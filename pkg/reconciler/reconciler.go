package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/brainbox/pkg/controller"
	"github.com/cuemby/brainbox/pkg/log"
	"github.com/cuemby/brainbox/pkg/metrics"
	"github.com/cuemby/brainbox/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultInterval is the time between two health sweeps
const DefaultInterval = 10 * time.Second

// ControllerSource lists the controllers whose instances are swept
type ControllerSource interface {
	Controllers() []controller.Controller
}

// Waker is notified when a sweep failed an instance so it can replan
type Waker interface {
	Wake()
}

// Reconciler periodically health checks idle instances. Busy instances are
// left alone; the runner checks those itself when an invocation times out.
type Reconciler struct {
	source       ControllerSource
	waker        Waker
	interval     time.Duration
	checkTimeout time.Duration
	logger       zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewReconciler creates a new reconciler. waker may be nil.
func NewReconciler(source ControllerSource, waker Waker) *Reconciler {
	return &Reconciler{
		source:       source,
		waker:        waker,
		interval:     DefaultInterval,
		checkTimeout: 5 * time.Second,
		logger:       log.WithComponent("reconciler"),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// SetInterval changes the sweep interval; call before Start
func (r *Reconciler) SetInterval(d time.Duration) {
	if d > 0 {
		r.interval = d
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler and waits for a running sweep to end
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

// run is the main reconciliation loop
func (r *Reconciler) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Reconcile(context.Background())
		case <-r.stopCh:
			return
		}
	}
}

// Reconcile performs one sweep and returns the number of instances found
// unhealthy
func (r *Reconciler) Reconcile(ctx context.Context) int {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

	r.mu.Lock()
	defer r.mu.Unlock()

	unhealthy := 0
	for _, ctrl := range r.source.Controllers() {
		for _, inst := range ctrl.Instances() {
			if inst.State != types.InstanceWarm {
				continue
			}
			if r.check(ctx, ctrl, inst) {
				continue
			}
			unhealthy++
			metrics.UnhealthyInstances.WithLabelValues(ctrl.Name()).Inc()
		}
	}

	if unhealthy > 0 {
		r.logger.Warn().Int("unhealthy", unhealthy).Msg("Sweep found unhealthy instances")
		if r.waker != nil {
			r.waker.Wake()
		}
	}
	return unhealthy
}

// check reports whether inst passed its health check
func (r *Reconciler) check(ctx context.Context, ctrl controller.Controller, inst types.Instance) bool {
	ctx, cancel := context.WithTimeout(ctx, r.checkTimeout)
	defer cancel()

	err := ctrl.CheckInstance(ctx, inst.ID)
	if err == nil {
		return true
	}

	// The instance may have been acquired or stopped since the snapshot
	current, ok := findInstance(ctrl, inst.ID)
	if !ok || current.State != types.InstanceFailed {
		r.logger.Debug().Err(err).Str("instance_id", inst.ID).Msg("Check skipped, instance changed")
		return true
	}

	logger := log.WithInstanceID(inst.ID)
	logger.Warn().
		Err(err).
		Str("decider", ctrl.Name()).
		Str("key", inst.Key.String()).
		Msg("Instance failed health check")
	return false
}

func findInstance(ctrl controller.Controller, id string) (types.Instance, bool) {
	for _, inst := range ctrl.Instances() {
		if inst.ID == id {
			return inst, true
		}
	}
	return types.Instance{}, false
}
