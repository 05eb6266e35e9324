package controller

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cuemby/brainbox/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func arithmetic() Decider {
	return Decider{
		Name:       "arith",
		Parameters: []string{"int", "float"},
		Methods: map[string]Handler{
			"sum": func(ctx context.Context, args []any, deps map[string]any) (any, error) {
				total := 0.0
				for _, a := range args {
					f, ok := a.(float64)
					if !ok {
						return nil, fmt.Errorf("not a number: %v", a)
					}
					total += f
				}
				for _, d := range deps {
					if f, ok := d.(float64); ok {
						total += f
					}
				}
				return total, nil
			},
			"panic": func(ctx context.Context, args []any, deps map[string]any) (any, error) {
				panic("index out of range")
			},
			"hang": func(ctx context.Context, args []any, deps map[string]any) (any, error) {
				time.Sleep(time.Second)
				return nil, nil
			},
		},
	}
}

func startDecider(t *testing.T, c *DeciderController, parameter string) (types.Instance, DeciderAPI) {
	t.Helper()
	rc, err := c.RunConfiguration(parameter)
	require.NoError(t, err)
	inst, err := c.Start(context.Background(), rc)
	require.NoError(t, err)
	api, err := c.CreateAPI(inst.ID)
	require.NoError(t, err)
	return inst, api
}

func TestDeciderController_Invoke(t *testing.T) {
	c := NewDeciderController(arithmetic())
	_, api := startDecider(t, c, "float")

	res, err := api.Invoke(context.Background(), Call{
		Method:       "sum",
		Arguments:    []any{1.0, 2.0},
		Dependencies: map[string]any{"prev": 4.0},
	})
	require.NoError(t, err)
	assert.Equal(t, 7.0, res)
	assert.Equal(t, []string{"hang", "panic", "sum"}, arithmetic().MethodNames())
}

func TestDeciderController_InvocationFailures(t *testing.T) {
	c := NewDeciderController(arithmetic())
	_, api := startDecider(t, c, "")
	ctx := context.Background()

	tests := []struct {
		name string
		call Call
		kind string
		msg  string
	}{
		{"handler error", Call{Method: "sum", Arguments: []any{"x"}}, types.KindDeciderInvocation, "not a number"},
		{"unknown method", Call{Method: "divide"}, types.KindDeciderInvocation, "unknown method"},
		{"panic", Call{Method: "panic"}, types.KindDeciderInvocation, "panic: index out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := api.Invoke(ctx, tt.call)
			require.Error(t, err)
			assert.Equal(t, tt.kind, types.ErrorKind(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	t.Run("timeout", func(t *testing.T) {
		tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := api.Invoke(tctx, Call{Method: "hang"})
		assert.ErrorIs(t, err, types.ErrTimeout)
		assert.Equal(t, types.KindTimeout, types.ErrorKind(err))
	})
}

func TestDeciderController_AbandonedCallBlocksInstance(t *testing.T) {
	unblock := make(chan struct{})
	d := arithmetic()
	d.Methods["stuck"] = func(ctx context.Context, args []any, deps map[string]any) (any, error) {
		<-unblock
		return nil, nil
	}
	c := NewDeciderController(d)
	inst, api := startDecider(t, c, "")

	require.NoError(t, c.Acquire(inst.ID))
	tctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	_, err := api.Invoke(tctx, Call{Method: "stuck"})
	cancel()
	require.ErrorIs(t, err, types.ErrTimeout)
	require.NoError(t, c.Release(inst.ID))

	assert.ErrorIs(t, c.Acquire(inst.ID), types.ErrInstanceBusy)
	require.Error(t, c.CheckInstance(context.Background(), inst.ID))
	assert.Equal(t, types.InstanceFailed, c.Instances()[0].State)

	close(unblock)
	assert.Eventually(t, func() bool { return c.inFlight(inst.ID) == 0 }, time.Second, 5*time.Millisecond)

	// A fresh instance is unaffected once the stray call returned
	fresh, _ := startDecider(t, c, "float")
	assert.NoError(t, c.Acquire(fresh.ID))
}

func TestDeciderController_Configuration(t *testing.T) {
	c := NewDeciderController(arithmetic())
	_, err := c.RunConfiguration("complex")
	var cfgErr *types.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	d := arithmetic()
	d.Singleton = true
	d.Parameters = nil
	_, err = NewDeciderController(d).RunConfiguration("int")
	assert.ErrorAs(t, err, &cfgErr)
}

func TestDeciderController_StartAndCheckHooks(t *testing.T) {
	d := arithmetic()
	d.StartFunc = func(ctx context.Context, parameter string) error {
		if parameter == "int" {
			return errors.New("cuda out of memory")
		}
		return nil
	}
	d.CheckFunc = func(ctx context.Context, parameter string) error {
		return errors.New("unresponsive")
	}
	c := NewDeciderController(d)

	rc, _ := c.RunConfiguration("int")
	inst, err := c.Start(context.Background(), rc)
	var startErr *types.InstanceStartError
	require.ErrorAs(t, err, &startErr)
	assert.Equal(t, types.InstanceFailed, inst.State)
	require.NoError(t, c.Stop(context.Background(), inst.ID))

	ok, _ := startDecider(t, c, "float")
	require.Error(t, c.CheckInstance(context.Background(), ok.ID))
	assert.ErrorIs(t, c.Acquire(ok.ID), types.ErrInvalidTransition)
}

func TestDeciderController_InstallError(t *testing.T) {
	d := arithmetic()
	d.InstallFunc = func(ctx context.Context) error { return errBoom }
	err := NewDeciderController(d).Install(context.Background())

	var installErr *types.InstallError
	require.ErrorAs(t, err, &installErr)
	assert.ErrorIs(t, err, errBoom)
}
