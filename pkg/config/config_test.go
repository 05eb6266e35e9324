package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/brainbox/pkg/controller"
	"github.com/cuemby/brainbox/pkg/health"
	"github.com/cuemby/brainbox/pkg/planner"
	"github.com/cuemby/brainbox/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
version: 1
server:
  addr: 0.0.0.0:9000
  rate_limit: 10
  burst: 20
log:
  level: debug
  json: true
store:
  driver: sqlite
  path: /tmp/brainbox.db
runtime:
  driver: docker
  docker_host: ssh://gpu-box
  stop_timeout: 5s
planner:
  policy: always-on
runner:
  invocation_timeout: 2m
deciders:
  - name: whisper
    image: brainbox/whisper:latest
    build:
      context: ./deciders/whisper
      dockerfile: Dockerfile
    container_port: 8000
    host_port: 18000
    parameters: [small, large]
    env:
      DEVICE: cuda
    readiness:
      type: http
      path: /ready
      interval: 2s
      retries: 10
      failure_threshold: 3
    keep_warm: [small]
    self_test:
      - method: transcribe
        arguments: ["hello.wav"]
        expect: "hello"
  - name: resize
    mode: on-demand
    image: brainbox/resize:latest
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, 10.0, cfg.Server.RateLimit)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "ssh://gpu-box", cfg.Runtime.DockerHost)
	assert.Equal(t, 5*time.Second, cfg.Runtime.StopTimeout)
	assert.Equal(t, "/run/containerd/containerd.sock", cfg.Runtime.ContainerdSocket, "unset keys keep their defaults")
	require.Len(t, cfg.Deciders, 2)

	rc := cfg.RunnerConfig()
	assert.Equal(t, 2*time.Minute, rc.InvocationTimeout)
	assert.Equal(t, time.Second, rc.TickInterval)

	pc := cfg.PlannerConfig()
	assert.Equal(t, planner.PolicyAlwaysOn, pc.Policy)
	assert.Equal(t, []types.InstanceKey{{Decider: "whisper", Parameter: "small"}}, pc.Keys)

	whisper, ok := cfg.Decider("whisper")
	require.True(t, ok)
	require.Len(t, whisper.SelfTest, 1)
	assert.Equal(t, "transcribe", whisper.SelfTest[0].Method)
	assert.Equal(t, []any{"hello.wav"}, whisper.SelfTest[0].Arguments)

	spec := whisper.ContainerSpec(cfg.Runtime.StopTimeout)
	assert.Equal(t, 8000, spec.ContainerPort)
	assert.Equal(t, 18000, spec.HostPort)
	assert.Equal(t, []string{"small", "large"}, spec.Parameters)
	assert.Equal(t, "./deciders/whisper", spec.Build.Context)
	assert.Equal(t, "/ready", spec.Readiness.Path)
	assert.Equal(t, 2*time.Second, spec.Readiness.Probe.Interval)
	assert.Equal(t, 10, spec.Readiness.Probe.Retries)
	assert.Equal(t, 3, spec.Readiness.FailureThreshold)
	assert.Equal(t, health.DefaultProbeConfig().Timeout, spec.Readiness.Probe.Timeout)
	assert.Equal(t, 5*time.Second, spec.StopTimeout)

	resize, ok := cfg.Decider("resize")
	require.True(t, ok)
	assert.Equal(t, controller.ModeOnDemand, resize.ContainerSpec(0).Mode)
	assert.Equal(t, ReadinessHTTP, resize.ContainerSpec(0).Readiness.Type)

	_, ok = cfg.Decider("missing")
	assert.False(t, ok)
}

func TestParse_EmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("version: 1\nservre:\n  addr: x\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "version",
			mutate:  func(c *Config) { c.Version = 2 },
			wantErr: "unsupported config version",
		},
		{
			name:    "store driver",
			mutate:  func(c *Config) { c.Store.Driver = "postgres" },
			wantErr: "unknown driver",
		},
		{
			name:    "runtime driver",
			mutate:  func(c *Config) { c.Runtime.Driver = "podman" },
			wantErr: "runtime: unknown driver",
		},
		{
			name:    "planner policy",
			mutate:  func(c *Config) { c.Planner.Policy = "greedy" },
			wantErr: "unknown planner policy",
		},
		{
			name:    "log level",
			mutate:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: "unknown level",
		},
		{
			name: "duplicate decider",
			mutate: func(c *Config) {
				d := DeciderConfig{Name: "a", Image: "img", ContainerPort: 80}
				c.Deciders = []DeciderConfig{d, d}
			},
			wantErr: "duplicate decider",
		},
		{
			name: "missing image",
			mutate: func(c *Config) {
				c.Deciders = []DeciderConfig{{Name: "a", ContainerPort: 80}}
			},
			wantErr: "image is required",
		},
		{
			name: "web service without port",
			mutate: func(c *Config) {
				c.Deciders = []DeciderConfig{{Name: "a", Image: "img"}}
			},
			wantErr: "container_port is required",
		},
		{
			name: "singleton keep warm",
			mutate: func(c *Config) {
				c.Deciders = []DeciderConfig{{Name: "a", Image: "img", ContainerPort: 80, Singleton: true, KeepWarm: []string{"x"}}}
			},
			wantErr: "singleton decider",
		},
		{
			name: "keep warm outside parameters",
			mutate: func(c *Config) {
				c.Deciders = []DeciderConfig{{Name: "a", Image: "img", ContainerPort: 80, Parameters: []string{"x"}, KeepWarm: []string{"y"}}}
			},
			wantErr: "is not in parameters",
		},
		{
			name: "readiness type",
			mutate: func(c *Config) {
				c.Deciders = []DeciderConfig{{Name: "a", Image: "img", ContainerPort: 80, Readiness: ReadinessConfig{Type: "udp"}}}
			},
			wantErr: "unknown readiness type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brainbox.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Deciders, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
