package reconciler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/brainbox/pkg/controller"
	"github.com/cuemby/brainbox/pkg/metrics"
	"github.com/cuemby/brainbox/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingWaker struct {
	wakes atomic.Int32
}

func (w *countingWaker) Wake() { w.wakes.Add(1) }

// newController registers an in-process decider whose check fails for the
// parameters in unhealthy
func newController(t *testing.T, name string, unhealthy map[string]bool) (*controller.Registry, *controller.DeciderController) {
	t.Helper()

	ctrl := controller.NewDeciderController(controller.Decider{
		Name: name,
		Methods: map[string]controller.Handler{
			"noop": func(ctx context.Context, args []any, deps map[string]any) (any, error) { return nil, nil },
		},
		CheckFunc: func(ctx context.Context, parameter string) error {
			if unhealthy[parameter] {
				return errors.New("not responding")
			}
			return nil
		},
	})
	registry := controller.NewRegistry()
	require.NoError(t, registry.Register(ctrl))
	return registry, ctrl
}

func start(t *testing.T, ctrl *controller.DeciderController, parameter string) types.Instance {
	t.Helper()

	rc, err := ctrl.RunConfiguration(parameter)
	require.NoError(t, err)
	inst, err := ctrl.Start(context.Background(), rc)
	require.NoError(t, err)
	require.Equal(t, types.InstanceWarm, inst.State)
	return inst
}

func stateOf(ctrl controller.Controller, id string) types.InstanceState {
	inst, ok := findInstance(ctrl, id)
	if !ok {
		return ""
	}
	return inst.State
}

func TestReconcile_FailsUnhealthyWarmInstances(t *testing.T) {
	registry, ctrl := newController(t, "sweep-a", map[string]bool{"bad": true})
	good := start(t, ctrl, "good")
	bad := start(t, ctrl, "bad")

	waker := &countingWaker{}
	r := NewReconciler(registry, waker)
	before := testutil.ToFloat64(metrics.UnhealthyInstances.WithLabelValues("sweep-a"))

	assert.Equal(t, 1, r.Reconcile(context.Background()))
	assert.Equal(t, types.InstanceWarm, stateOf(ctrl, good.ID))
	assert.Equal(t, types.InstanceFailed, stateOf(ctrl, bad.ID))
	assert.Equal(t, int32(1), waker.wakes.Load())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.UnhealthyInstances.WithLabelValues("sweep-a")))

	// Failed instances are left for the runner to discard
	assert.Equal(t, 0, r.Reconcile(context.Background()))
	assert.Equal(t, int32(1), waker.wakes.Load())
}

func TestReconcile_SkipsBusyInstances(t *testing.T) {
	registry, ctrl := newController(t, "sweep-b", map[string]bool{"": true})
	inst := start(t, ctrl, "")
	require.NoError(t, ctrl.Acquire(inst.ID))

	r := NewReconciler(registry, nil)
	assert.Equal(t, 0, r.Reconcile(context.Background()))
	assert.Equal(t, types.InstanceBusy, stateOf(ctrl, inst.ID))
}

func TestReconciler_StartStop(t *testing.T) {
	registry, ctrl := newController(t, "sweep-c", map[string]bool{"bad": true})
	inst := start(t, ctrl, "bad")

	waker := &countingWaker{}
	r := NewReconciler(registry, waker)
	r.SetInterval(10 * time.Millisecond)
	r.Start()

	assert.Eventually(t, func() bool {
		return stateOf(ctrl, inst.ID) == types.InstanceFailed
	}, 2*time.Second, 10*time.Millisecond)

	r.Stop()
	assert.GreaterOrEqual(t, waker.wakes.Load(), int32(1))
}
