package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/cuemby/brainbox/pkg/controller"
	"github.com/cuemby/brainbox/pkg/health"
	"github.com/cuemby/brainbox/pkg/log"
	"github.com/cuemby/brainbox/pkg/planner"
	"github.com/cuemby/brainbox/pkg/runner"
	"github.com/cuemby/brainbox/pkg/runtime"
	"github.com/cuemby/brainbox/pkg/storage"
	"github.com/cuemby/brainbox/pkg/types"
	"gopkg.in/yaml.v3"
)

// Version is the configuration file version this build reads
const Version = 1

// Runtime drivers
const (
	RuntimeDocker     = "docker"
	RuntimeContainerd = "containerd"
)

// Readiness probe types
const (
	ReadinessHTTP = "http"
	ReadinessTCP  = "tcp"
	ReadinessGRPC = "grpc"
	ReadinessNone = "none"
)

// Config is the orchestrator configuration file
type Config struct {
	Version  int             `yaml:"version"`
	Server   ServerConfig    `yaml:"server"`
	Log      LogConfig       `yaml:"log"`
	Store    StoreConfig     `yaml:"store"`
	Runtime  RuntimeConfig   `yaml:"runtime"`
	Planner  PlannerConfig   `yaml:"planner"`
	Runner   RunnerConfig    `yaml:"runner"`
	Deciders []DeciderConfig `yaml:"deciders"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr      string  `yaml:"addr"`
	RateLimit float64 `yaml:"rate_limit"` // Bus writes per second
	Burst     int     `yaml:"burst"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StoreConfig selects the job and bus store
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// RuntimeConfig selects the container runtime
type RuntimeConfig struct {
	Driver           string        `yaml:"driver"`
	DockerHost       string        `yaml:"docker_host"`
	ContainerdSocket string        `yaml:"containerd_socket"`
	StopTimeout      time.Duration `yaml:"stop_timeout"`
}

// PlannerConfig selects the scheduling policy
type PlannerConfig struct {
	Policy       string        `yaml:"policy"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	MaxInstances int           `yaml:"max_instances"`
}

// RunnerConfig tunes the job runner
type RunnerConfig struct {
	InvocationTimeout time.Duration `yaml:"invocation_timeout"`
	TickInterval      time.Duration `yaml:"tick_interval"`
}

// ReadinessConfig describes how a container proves it is ready
type ReadinessConfig struct {
	Type             string        `yaml:"type"`
	Path             string        `yaml:"path"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	Retries          int           `yaml:"retries"`
	FailureThreshold int           `yaml:"failure_threshold"` // Consecutive failed liveness checks before discard
}

// DeciderConfig declares one containerized decider
type DeciderConfig struct {
	Name          string                `yaml:"name"`
	Mode          string                `yaml:"mode"`
	Image         string                `yaml:"image"`
	Build         *types.BuildSpec      `yaml:"build"`
	ContainerPort int                   `yaml:"container_port"`
	HostPort      int                   `yaml:"host_port"`
	Singleton     bool                  `yaml:"singleton"`
	Parameters    []string              `yaml:"parameters"`
	Env           map[string]string     `yaml:"env"`
	Command       []string              `yaml:"command"`
	Readiness     ReadinessConfig       `yaml:"readiness"`
	KeepWarm      []string              `yaml:"keep_warm"` // Parameters the always-on policy keeps warm; "" for a singleton
	SelfTest      []controller.TestCase `yaml:"self_test"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	rc := runner.DefaultConfig()
	return &Config{
		Version: Version,
		Server: ServerConfig{
			Addr:      "127.0.0.1:8080",
			RateLimit: 50,
			Burst:     100,
		},
		Log: LogConfig{Level: string(log.InfoLevel)},
		Store: StoreConfig{
			Driver: storage.DriverBolt,
			Path:   "./brainbox-data",
		},
		Runtime: RuntimeConfig{
			Driver:           RuntimeDocker,
			ContainerdSocket: "/run/containerd/containerd.sock",
			StopTimeout:      runtime.DefaultStopTimeout,
		},
		Planner: PlannerConfig{Policy: planner.PolicySimple},
		Runner: RunnerConfig{
			InvocationTimeout: rc.InvocationTimeout,
			TickInterval:      rc.TickInterval,
		},
	}
}

// Load reads and validates the configuration file at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a configuration document over the defaults and validates it.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem in the configuration
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Version != Version {
		add("unsupported config version %d (want %d)", c.Version, Version)
	}
	if c.Server.RateLimit < 0 || c.Server.Burst < 0 {
		add("server: rate_limit and burst must not be negative")
	}
	switch log.Level(c.Log.Level) {
	case log.DebugLevel, log.InfoLevel, log.WarnLevel, log.ErrorLevel:
	default:
		add("log: unknown level %q", c.Log.Level)
	}
	switch c.Store.Driver {
	case storage.DriverBolt, storage.DriverSQLite:
		if c.Store.Path == "" {
			add("store: path is required for the %s driver", c.Store.Driver)
		}
	case storage.DriverMemory:
	default:
		add("store: unknown driver %q", c.Store.Driver)
	}
	switch c.Runtime.Driver {
	case RuntimeDocker, RuntimeContainerd:
	default:
		add("runtime: unknown driver %q", c.Runtime.Driver)
	}
	if _, err := planner.New(c.PlannerConfig()); err != nil {
		add("planner: %v", err)
	}
	if c.Runner.InvocationTimeout < 0 || c.Runner.TickInterval < 0 {
		add("runner: durations must not be negative")
	}

	seen := make(map[string]bool)
	for i := range c.Deciders {
		d := &c.Deciders[i]
		if d.Name == "" {
			add("deciders[%d]: name is required", i)
			continue
		}
		if seen[d.Name] {
			add("deciders[%d]: duplicate decider %q", i, d.Name)
		}
		seen[d.Name] = true
		for _, err := range d.validate() {
			errs = append(errs, fmt.Errorf("decider %s: %w", d.Name, err))
		}
	}

	return errors.Join(errs...)
}

func (d *DeciderConfig) validate() []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if d.Image == "" {
		add("image is required")
	}
	mode := controller.Mode(d.Mode)
	switch mode {
	case "", controller.ModeWebService:
		if d.ContainerPort <= 0 {
			add("container_port is required for web-service deciders")
		}
	case controller.ModeOnDemand:
		if len(d.KeepWarm) > 0 {
			add("keep_warm is not supported for on-demand deciders")
		}
	default:
		add("unknown mode %q", d.Mode)
	}
	if d.ContainerPort < 0 || d.HostPort < 0 {
		add("ports must not be negative")
	}
	switch d.Readiness.Type {
	case "", ReadinessHTTP, ReadinessTCP, ReadinessGRPC, ReadinessNone:
	default:
		add("unknown readiness type %q", d.Readiness.Type)
	}
	if d.Readiness.Retries < 0 || d.Readiness.FailureThreshold < 0 {
		add("readiness retries and failure_threshold must not be negative")
	}
	for _, p := range d.KeepWarm {
		if d.Singleton && p != "" {
			add("singleton decider keeps only the empty parameter warm, got %q", p)
		}
		if len(d.Parameters) > 0 && p != "" && !slices.Contains(d.Parameters, p) {
			add("keep_warm parameter %q is not in parameters", p)
		}
	}
	for i, tc := range d.SelfTest {
		if tc.Method == "" {
			add("self_test[%d]: method is required", i)
		}
	}
	return errs
}

// Decider returns the decider named name
func (c *Config) Decider(name string) (*DeciderConfig, bool) {
	for i := range c.Deciders {
		if c.Deciders[i].Name == name {
			return &c.Deciders[i], true
		}
	}
	return nil, false
}

// PlannerConfig returns the planner settings; the always-on keys are the
// keep_warm parameters of every decider
func (c *Config) PlannerConfig() planner.Config {
	pc := planner.Config{
		Policy:       c.Planner.Policy,
		IdleTimeout:  c.Planner.IdleTimeout,
		MaxInstances: c.Planner.MaxInstances,
	}
	for _, d := range c.Deciders {
		for _, p := range d.KeepWarm {
			pc.Keys = append(pc.Keys, types.InstanceKey{Decider: d.Name, Parameter: p})
		}
	}
	return pc
}

// RunnerConfig returns the runner settings, defaults filled in
func (c *Config) RunnerConfig() runner.Config {
	rc := runner.DefaultConfig()
	if c.Runner.InvocationTimeout > 0 {
		rc.InvocationTimeout = c.Runner.InvocationTimeout
	}
	if c.Runner.TickInterval > 0 {
		rc.TickInterval = c.Runner.TickInterval
	}
	return rc
}

// LogConfig returns the logger settings
func (c *Config) LogConfig() log.Config {
	return log.Config{Level: log.ParseLevel(c.Log.Level), JSONOutput: c.Log.JSON}
}

// ContainerSpec converts the entry into a controller spec
func (d *DeciderConfig) ContainerSpec(stopTimeout time.Duration) controller.ContainerSpec {
	return controller.ContainerSpec{
		Name:          d.Name,
		Mode:          controller.Mode(d.Mode),
		Image:         d.Image,
		Build:         d.Build,
		ContainerPort: d.ContainerPort,
		HostPort:      d.HostPort,
		Singleton:     d.Singleton,
		Parameters:    append([]string(nil), d.Parameters...),
		Env:           d.Env,
		Command:       append([]string(nil), d.Command...),
		Readiness:     d.Readiness.toController(),
		StopTimeout:   stopTimeout,
	}
}

func (r ReadinessConfig) toController() controller.Readiness {
	probe := health.DefaultProbeConfig()
	if r.Interval > 0 {
		probe.Interval = r.Interval
		if probe.MaxInterval < r.Interval {
			probe.MaxInterval = r.Interval
		}
	}
	if r.Timeout > 0 {
		probe.Timeout = r.Timeout
	}
	if r.Retries > 0 {
		probe.Retries = r.Retries
	}

	typ := r.Type
	if typ == "" {
		typ = ReadinessHTTP
	}
	return controller.Readiness{Type: typ, Path: r.Path, Probe: probe, FailureThreshold: r.FailureThreshold}
}
