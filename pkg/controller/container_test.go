package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/brainbox/pkg/health"
	"github.com/cuemby/brainbox/pkg/network"
	"github.com/cuemby/brainbox/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deciderServer emulates a web-service decider container
func deciderServer(t *testing.T, healthy *atomic.Bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if healthy != nil && !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /warmup", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /cooldown", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /invoke/{method}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Arguments []any `json:"arguments"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch r.PathValue("method") {
		case "echo":
			_ = json.NewEncoder(w).Encode(map[string]any{"result": body.Arguments[0]})
		case "fail":
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "speaker not enrolled"})
		case "crash":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("Traceback (most recent call last)"))
		case "garbage":
			_, _ = w.Write([]byte("<html>"))
		case "slow":
			time.Sleep(500 * time.Millisecond)
			_ = json.NewEncoder(w).Encode(map[string]any{"result": "late"})
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func fastReadiness() Readiness {
	return Readiness{
		Type: "http",
		Probe: health.ProbeConfig{
			Interval:    5 * time.Millisecond,
			MaxInterval: 10 * time.Millisecond,
			Timeout:     time.Second,
			Retries:     5,
		},
	}
}

func webSpec() ContainerSpec {
	return ContainerSpec{
		Name:          "resemblyzer",
		Mode:          ModeWebService,
		Image:         "brainbox/resemblyzer:latest",
		ContainerPort: 8084,
		HostPort:      20100,
		Parameters:    []string{"en", "de"},
		Env:           map[string]string{"DEVICE": "cpu"},
		Readiness:     fastReadiness(),
	}
}

func TestContainerController_RunConfiguration(t *testing.T) {
	c := NewContainerController(webSpec(), newFakeRuntime(""))

	rc, err := c.RunConfiguration("de")
	require.NoError(t, err)
	assert.Equal(t, map[int]int{20101: 8084}, rc.PublishPorts)
	assert.Equal(t, "brainbox/resemblyzer:latest", rc.Image)
	assert.Equal(t, types.EntryDocument{Version: 1, Decider: "resemblyzer", Parameter: "de", Port: 8084}, rc.Entry)

	rc, err = c.RunConfiguration("")
	require.NoError(t, err)
	assert.Equal(t, map[int]int{20100: 8084}, rc.PublishPorts)

	_, err = c.RunConfiguration("fr")
	var cfgErr *types.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	single := webSpec()
	single.Singleton = true
	single.Parameters = nil
	_, err = NewContainerController(single, newFakeRuntime("")).RunConfiguration("en")
	assert.ErrorAs(t, err, &cfgErr)

	noPort := webSpec()
	noPort.ContainerPort = 0
	_, err = NewContainerController(noPort, newFakeRuntime("")).RunConfiguration("")
	assert.ErrorAs(t, err, &cfgErr)
}

func TestContainerController_Install(t *testing.T) {
	rt := newFakeRuntime("")
	c := NewContainerController(webSpec(), rt)
	require.NoError(t, c.Install(context.Background()))

	rt.imageErr = errBoom
	err := c.Install(context.Background())
	var installErr *types.InstallError
	require.ErrorAs(t, err, &installErr)
	assert.Equal(t, "resemblyzer", installErr.Decider)
}

func TestContainerController_WebServiceLifecycle(t *testing.T) {
	srv := deciderServer(t, nil)
	rt := newFakeRuntime(strings.TrimPrefix(srv.URL, "http://"))
	c := NewContainerController(webSpec(), rt)
	ctx := context.Background()

	var states []types.InstanceState
	c.OnInstanceChange(func(inst types.Instance) { states = append(states, inst.State) })

	rc, err := c.RunConfiguration("en")
	require.NoError(t, err)

	inst, err := c.Start(ctx, rc)
	require.NoError(t, err)
	assert.Equal(t, types.InstanceWarm, inst.State)
	assert.NotEmpty(t, inst.Handle.ContainerID)

	api, err := c.CreateAPI(inst.ID)
	require.NoError(t, err)
	require.NoError(t, api.Warmup(ctx, "en"))

	require.NoError(t, c.Acquire(inst.ID))
	assert.ErrorIs(t, c.Acquire(inst.ID), types.ErrInstanceBusy)

	res, err := api.Invoke(ctx, Call{Method: "echo", Arguments: []any{"hello"}})
	require.NoError(t, err)
	assert.Equal(t, "hello", res)
	require.NoError(t, c.Release(inst.ID))

	require.NoError(t, c.CheckInstance(ctx, inst.ID))

	require.NoError(t, api.Cooldown(ctx, "en"))
	require.NoError(t, c.Stop(ctx, inst.ID))
	assert.Empty(t, c.Instances())

	assert.Equal(t, []types.InstanceState{
		types.InstanceStarting,
		types.InstanceWarm,
		types.InstanceBusy,
		types.InstanceWarm,
		types.InstanceCoolingDown,
		types.InstanceInstalled,
	}, states)

	calls := rt.Calls()
	require.Len(t, calls, 3)
	assert.True(t, strings.HasPrefix(calls[0], "start brainbox-resemblyzer-"))
	assert.True(t, strings.HasPrefix(calls[1], "stop "))
	assert.True(t, strings.HasPrefix(calls[2], "rm "))
}

func TestContainerController_StartFailures(t *testing.T) {
	t.Run("runtime error", func(t *testing.T) {
		rt := newFakeRuntime("127.0.0.1:1")
		rt.startErr = errBoom
		c := NewContainerController(webSpec(), rt)

		rc, _ := c.RunConfiguration("en")
		inst, err := c.Start(context.Background(), rc)

		var startErr *types.InstanceStartError
		require.ErrorAs(t, err, &startErr)
		assert.Equal(t, types.InstanceKey{Decider: "resemblyzer", Parameter: "en"}, startErr.Key)
		assert.Equal(t, types.InstanceFailed, inst.State)

		// Failed instances are discarded, never resurrected
		assert.ErrorIs(t, c.Acquire(inst.ID), types.ErrInvalidTransition)
		require.NoError(t, c.Stop(context.Background(), inst.ID))
		assert.Empty(t, c.Instances())
	})

	t.Run("readiness timeout", func(t *testing.T) {
		var healthy atomic.Bool
		srv := deciderServer(t, &healthy)
		rt := newFakeRuntime(strings.TrimPrefix(srv.URL, "http://"))
		spec := webSpec()
		spec.Readiness.Probe.Timeout = 50 * time.Millisecond
		spec.Readiness.Probe.Retries = 1000
		c := NewContainerController(spec, rt)

		rc, _ := c.RunConfiguration("en")
		inst, err := c.Start(context.Background(), rc)

		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrTimeout)
		assert.Equal(t, types.KindInstanceStart, types.ErrorKind(err))
		assert.Equal(t, types.InstanceFailed, inst.State)

		require.NoError(t, c.Stop(context.Background(), inst.ID))
		calls := rt.Calls()
		assert.True(t, strings.HasPrefix(calls[len(calls)-1], "rm "), "failed container is removed on discard")
	})
}

func TestContainerController_CheckInstanceMarksFailed(t *testing.T) {
	srv := deciderServer(t, nil)
	rt := newFakeRuntime(strings.TrimPrefix(srv.URL, "http://"))
	c := NewContainerController(webSpec(), rt)

	rc, _ := c.RunConfiguration("")
	inst, err := c.Start(context.Background(), rc)
	require.NoError(t, err)

	rt.kill(inst.Handle.ContainerID)
	err = c.CheckInstance(context.Background(), inst.ID)
	require.Error(t, err)

	got := c.Instances()
	require.Len(t, got, 1)
	assert.Equal(t, types.InstanceFailed, got[0].State)
	assert.Equal(t, "container is not running", got[0].Reason)
}

func TestContainerController_CheckInstanceToleratesFailures(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := deciderServer(t, &healthy)
	rt := newFakeRuntime(strings.TrimPrefix(srv.URL, "http://"))

	spec := webSpec()
	spec.Readiness.FailureThreshold = 2
	c := NewContainerController(spec, rt)

	rc, _ := c.RunConfiguration("")
	inst, err := c.Start(context.Background(), rc)
	require.NoError(t, err)

	healthy.Store(false)
	require.NoError(t, c.CheckInstance(context.Background(), inst.ID), "first failure is tolerated")
	assert.Equal(t, types.InstanceWarm, c.Instances()[0].State)

	healthy.Store(true)
	require.NoError(t, c.CheckInstance(context.Background(), inst.ID))

	healthy.Store(false)
	require.NoError(t, c.CheckInstance(context.Background(), inst.ID), "success reset the count")
	err = c.CheckInstance(context.Background(), inst.ID)
	require.Error(t, err)

	got := c.Instances()
	require.Len(t, got, 1)
	assert.Equal(t, types.InstanceFailed, got[0].State)
	assert.Equal(t, "health check failed: HTTP 503", got[0].Reason)
}

func TestContainerController_InvocationErrors(t *testing.T) {
	srv := deciderServer(t, nil)
	rt := newFakeRuntime(strings.TrimPrefix(srv.URL, "http://"))
	c := NewContainerController(webSpec(), rt)
	ctx := context.Background()

	rc, _ := c.RunConfiguration("")
	inst, err := c.Start(ctx, rc)
	require.NoError(t, err)
	api, err := c.CreateAPI(inst.ID)
	require.NoError(t, err)

	for _, method := range []string{"fail", "crash", "garbage"} {
		t.Run(method, func(t *testing.T) {
			_, err := api.Invoke(ctx, Call{Method: method, Arguments: []any{"wav-1"}})
			var invErr *types.DeciderInvocationError
			require.ErrorAs(t, err, &invErr)
			assert.Equal(t, "resemblyzer", invErr.Decider)
			assert.Equal(t, method, invErr.Method)
			assert.Equal(t, []any{"wav-1"}, invErr.Arguments)
			assert.Equal(t, types.KindDeciderInvocation, types.ErrorKind(err))
		})
	}

	t.Run("timeout", func(t *testing.T) {
		tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := api.Invoke(tctx, Call{Method: "slow"})
		assert.ErrorIs(t, err, types.ErrTimeout)
		assert.Equal(t, types.KindTimeout, types.ErrorKind(err))
	})
}

func TestContainerController_OnDemand(t *testing.T) {
	rt := newFakeRuntime("")
	rt.output = []byte(`{"result": {"temperature": 21}}` + "\n")
	spec := ContainerSpec{Name: "weather", Mode: ModeOnDemand, Image: "brainbox/weather:1"}
	c := NewContainerController(spec, rt)
	ctx := context.Background()

	rc, err := c.RunConfiguration("")
	require.NoError(t, err)
	assert.Empty(t, rc.PublishPorts)

	inst, err := c.Start(ctx, rc)
	require.NoError(t, err)
	assert.Equal(t, types.InstanceWarm, inst.State)
	assert.Empty(t, inst.Handle.ContainerID, "on-demand instances hold no container")

	api, err := c.CreateAPI(inst.ID)
	require.NoError(t, err)

	res, err := api.Invoke(ctx, Call{Method: "forecast", Arguments: []any{"Berlin"}, Dependencies: map[string]any{"geo": "52.5,13.4"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"temperature": float64(21)}, res)

	require.Len(t, rt.stdin, 1)
	assert.JSONEq(t, `{"method":"forecast","arguments":["Berlin"],"dependencies":{"geo":"52.5,13.4"}}`, string(rt.stdin[0]))

	rt.output = []byte(`{"error": "no such city"}`)
	_, err = api.Invoke(ctx, Call{Method: "forecast", Arguments: []any{"Atlantis"}})
	var invErr *types.DeciderInvocationError
	require.ErrorAs(t, err, &invErr)
	assert.Contains(t, err.Error(), "no such city")

	rt.output = []byte("not json")
	_, err = api.Invoke(ctx, Call{Method: "forecast"})
	assert.ErrorAs(t, err, &invErr)

	require.NoError(t, c.Stop(ctx, inst.ID))
	assert.Equal(t, []string{"run brainbox/weather:1", "run brainbox/weather:1", "run brainbox/weather:1"}, rt.Calls())
}

func TestContainerController_HostPortCollision(t *testing.T) {
	srv := deciderServer(t, nil)
	address := strings.TrimPrefix(srv.URL, "http://")
	ports := network.NewHostPorts(false)
	ctx := context.Background()

	first := NewContainerController(webSpec(), newFakeRuntime(address)).WithHostPorts(ports)
	overlapping := webSpec()
	overlapping.Name = "other"
	overlapping.HostPort = 20099 // its "de" instance publishes 20100, like "en" of the first
	second := NewContainerController(overlapping, newFakeRuntime(address)).WithHostPorts(ports)

	rc, err := first.RunConfiguration("en")
	require.NoError(t, err)
	inst, err := first.Start(ctx, rc)
	require.NoError(t, err)
	assert.Equal(t, []int{20100}, ports.Published(inst.ID))

	rc, err = second.RunConfiguration("de")
	require.NoError(t, err)
	failed, err := second.Start(ctx, rc)
	var startErr *types.InstanceStartError
	require.ErrorAs(t, err, &startErr)
	assert.ErrorIs(t, err, network.ErrPortInUse)
	assert.Equal(t, types.InstanceFailed, failed.State)
	require.NoError(t, second.Stop(ctx, failed.ID))

	require.NoError(t, first.Stop(ctx, inst.ID))
	assert.Empty(t, ports.Published(inst.ID))

	rc, err = second.RunConfiguration("de")
	require.NoError(t, err)
	inst, err = second.Start(ctx, rc)
	require.NoError(t, err)
	require.NoError(t, second.Stop(ctx, inst.ID))
}
