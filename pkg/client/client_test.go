package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/brainbox/pkg/api"
	"github.com/cuemby/brainbox/pkg/bus"
	"github.com/cuemby/brainbox/pkg/controller"
	"github.com/cuemby/brainbox/pkg/planner"
	"github.com/cuemby/brainbox/pkg/runner"
	"github.com/cuemby/brainbox/pkg/storage"
	"github.com/cuemby/brainbox/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	registry := controller.NewRegistry()
	require.NoError(t, registry.Register(controller.NewDeciderController(controller.Decider{
		Name: "greeter",
		Methods: map[string]controller.Handler{
			"greet": func(ctx context.Context, args []any, deps map[string]any) (any, error) {
				return "hello " + args[0].(string), nil
			},
		},
	})))

	p, err := planner.New(planner.Config{})
	require.NoError(t, err)
	store := storage.NewMemoryStore()
	r := runner.New(runner.Config{TickInterval: 10 * time.Millisecond}, registry, p, store, nil)
	require.NoError(t, r.Start(context.Background()))

	srv := httptest.NewServer(api.NewServer(api.Config{}, r, registry, bus.New(store)).Handler())
	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = c.Close()
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Stop(ctx)
	})
	return c
}

func TestNewClient(t *testing.T) {
	c, err := NewClient("localhost:8080")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", c.baseURL)

	c, err = NewClient("https://brainbox.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "https://brainbox.example.com", c.baseURL)

	_, err = NewClient("http://")
	assert.Error(t, err)
}

func TestClient_Bus(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Heartbit(ctx))

	id, err := c.Push(ctx, "chat", "say", map[string]string{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	id, err = c.Push(ctx, "chat", "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)

	msgs, err := c.Updates(ctx, "chat", 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"text":"hi"}`, string(msgs[0].Payload))
	assert.Equal(t, json.RawMessage("null"), msgs[1].Payload)
	assert.Equal(t, "chat", msgs[0].Session)

	msgs, err = c.Updates(ctx, "chat", 2, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestClient_Jobs(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	ids, err := c.Submit(ctx, api.TaskRequest{ID: "g1", Decider: "greeter", Method: "greet", Arguments: []any{"bob"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, ids)

	job, err := c.GetJob(ctx, "g1", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFinished, job.Status)
	assert.Equal(t, "hello bob", job.Result)

	jobs, err := c.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	_, err = c.GetJob(ctx, "nope", 0)
	assert.True(t, IsNotFound(err))

	_, err = c.Submit(ctx, api.TaskRequest{Decider: "ghost", Method: "greet"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, types.KindUnknownDecider, apiErr.Kind)
}

func TestClient_Deciders(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	statuses, err := c.ListDeciders(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "greeter", statuses[0].Name)

	resp, err := c.Install(ctx, "greeter")
	require.NoError(t, err)
	assert.Equal(t, types.Installed, resp.Status)

	_, err = c.Install(ctx, "ghost")
	assert.True(t, IsNotFound(err))
}
