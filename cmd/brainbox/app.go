package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/brainbox/pkg/api"
	"github.com/cuemby/brainbox/pkg/bus"
	"github.com/cuemby/brainbox/pkg/config"
	"github.com/cuemby/brainbox/pkg/controller"
	"github.com/cuemby/brainbox/pkg/events"
	"github.com/cuemby/brainbox/pkg/executor"
	"github.com/cuemby/brainbox/pkg/log"
	"github.com/cuemby/brainbox/pkg/metrics"
	"github.com/cuemby/brainbox/pkg/network"
	"github.com/cuemby/brainbox/pkg/planner"
	"github.com/cuemby/brainbox/pkg/reconciler"
	"github.com/cuemby/brainbox/pkg/runner"
	"github.com/cuemby/brainbox/pkg/runtime"
	"github.com/cuemby/brainbox/pkg/storage"
)

// installConcurrency bounds image builds running at startup
const installConcurrency = 2

// app is the assembled orchestrator
type app struct {
	cfg        *config.Config
	store      storage.Store
	rt         runtime.Runtime
	registry   *controller.Registry
	broker     *events.Broker
	runner     *runner.Runner
	bus        *bus.Bus
	relay      *bus.Relay
	collector  *metrics.Collector
	reconciler *reconciler.Reconciler
	server     *api.Server
}

// openRuntime connects to the container engine selected by cfg
func openRuntime(cfg config.RuntimeConfig) (runtime.Runtime, error) {
	switch cfg.Driver {
	case config.RuntimeContainerd:
		return runtime.NewContainerdRuntime(cfg.ContainerdSocket)
	default:
		return runtime.NewDockerRuntime(executor.NewLocalExecutor()).WithHost(cfg.DockerHost), nil
	}
}

// newRegistry registers a container controller per configured decider. The
// controllers share one host port table; ports are probed on this host only
// when the containers run here.
func newRegistry(cfg *config.Config, rt runtime.Runtime) (*controller.Registry, error) {
	registry := controller.NewRegistry()
	ports := network.NewHostPorts(cfg.Runtime.DockerHost == "")
	for i := range cfg.Deciders {
		spec := cfg.Deciders[i].ContainerSpec(cfg.Runtime.StopTimeout)
		ctrl := controller.NewContainerController(spec, rt).WithHostPorts(ports)
		if err := registry.Register(ctrl); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// newApp opens the store and runtime and wires every component
func newApp(cfg *config.Config) (*app, error) {
	metrics.SetVersion(Version)
	metrics.SetCriticalComponents(metrics.ComponentStore, metrics.ComponentRuntime, metrics.ComponentAPI)

	store, err := storage.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		metrics.RegisterComponent(metrics.ComponentStore, false, err.Error())
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	metrics.RegisterComponent(metrics.ComponentStore, true, cfg.Store.Driver)

	rt, err := openRuntime(cfg.Runtime)
	if err != nil {
		metrics.RegisterComponent(metrics.ComponentRuntime, false, err.Error())
		_ = store.Close()
		return nil, fmt.Errorf("failed to open runtime: %w", err)
	}
	metrics.RegisterComponent(metrics.ComponentRuntime, true, cfg.Runtime.Driver)

	registry, err := newRegistry(cfg, rt)
	if err != nil {
		_ = rt.Close()
		_ = store.Close()
		return nil, err
	}

	p, err := planner.New(cfg.PlannerConfig())
	if err != nil {
		_ = rt.Close()
		_ = store.Close()
		return nil, err
	}

	broker := events.NewBroker()
	r := runner.New(cfg.RunnerConfig(), registry, p, store, broker)
	b := bus.New(store)

	a := &app{
		cfg:        cfg,
		store:      store,
		rt:         rt,
		registry:   registry,
		broker:     broker,
		runner:     r,
		bus:        b,
		relay:      bus.NewRelay(b, broker),
		collector:  metrics.NewCollector(registry, r),
		reconciler: reconciler.NewReconciler(registry, r),
		server: api.NewServer(api.Config{
			RateLimit: cfg.Server.RateLimit,
			Burst:     cfg.Server.Burst,
		}, r, registry, b),
	}
	metrics.RegisterComponent(metrics.ComponentAPI, false, "not started")
	metrics.RegisterComponent(metrics.ComponentRunner, false, "not started")
	metrics.RegisterComponent(metrics.ComponentDeciders, true, fmt.Sprintf("%d registered", len(cfg.Deciders)))
	return a, nil
}

// start brings up the background components; the API is served by the caller
func (a *app) start(ctx context.Context) error {
	a.broker.Start()
	a.relay.Start()

	if err := a.runner.Start(ctx); err != nil {
		metrics.UpdateComponent(metrics.ComponentRunner, false, err.Error())
		return fmt.Errorf("failed to start runner: %w", err)
	}
	metrics.UpdateComponent(metrics.ComponentRunner, true, "planner "+a.cfg.PlannerConfig().Policy)

	a.collector.Start()
	a.reconciler.Start()
	return nil
}

// installAll installs every decider in the background; failures are
// recorded by the registry and reported on /deciders
func (a *app) installAll(ctx context.Context) {
	logger := log.WithComponent("install")
	if err := a.registry.InstallAll(ctx, installConcurrency); err != nil {
		logger.Warn().Err(err).Msg("Not every decider could be installed")
		metrics.UpdateComponent(metrics.ComponentDeciders, false, err.Error())
		return
	}
	logger.Info().Int("deciders", len(a.registry.Names())).Msg("Deciders installed")
}

// stop shuts every component down in reverse dependency order
func (a *app) stop(ctx context.Context) error {
	var errs []error

	a.reconciler.Stop()
	a.collector.Stop()
	if err := a.runner.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("runner: %w", err))
	}
	a.relay.Stop()
	a.broker.Stop()
	if err := a.rt.Close(); err != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	return errors.Join(errs...)
}

// shutdownTimeout bounds the drain of in-flight work on exit
const shutdownTimeout = 60 * time.Second
