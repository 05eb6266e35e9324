/*
Package controller owns the lifecycle of decider instances.

A Controller wraps one decider type. It installs the decider's image,
validates run parameters, starts and stops instances, health-checks them and
hands out a DeciderAPI bound to a running instance. The runner and the
planner observe instance state; only the controller changes it.

# Instance State Machine

	Installed ──► Starting ──► Warm ◄──► Busy
	                  │          │         │
	                  ▼          ▼         ▼
	               Failed ◄── CoolingDown ─┘(fail)
	                             │
	                             ▼
	                         Installed (instance forgotten)

Failed is terminal. A failed instance is discarded with Stop and a fresh one
is started; it is never resurrected. Every transition is validated
(ErrInvalidTransition) and start, stop and health checks on the same
instance are serialized by a per-instance lock, so a misbehaving caller
cannot overlap them.

# Controllers

ContainerController runs a decider image on a runtime.Runtime in one of two
modes:

  - web-service: Start runs a long-lived container, publishes its port and
    waits for the readiness probe (http, tcp or grpc) with bounded retries.
    The DeciderAPI speaks JSON over HTTP and sits behind a circuit breaker
    per instance; failures the decider reports itself do not trip it.
  - on-demand: Start only reserves an instance. Every Invoke runs a one-shot
    container with the call on stdin and reads the result from stdout.

DeciderController runs a Go Decider in process. Its methods are bound by
name when the decider is constructed:

	ctrl := controller.NewDeciderController(controller.Decider{
		Name: "weather",
		Methods: map[string]controller.Handler{
			"forecast": forecast,
		},
	})

# Registry

The Registry maps names to controllers and tracks installation status.
EnsureInstalled is idempotent, shares one install between concurrent
callers and never retries a recorded failure; Reinstall clears it.

	registry := controller.NewRegistry()
	registry.Register(ctrl)
	if err := registry.InstallAll(ctx, 4); err != nil {
		logger.Warn().Err(err).Msg("Some deciders failed to install")
	}

# Self-Test

RunSelfTest drives install, start, warmup, a list of calls with expected
results, cooldown and stop, and returns a TestReport with one step per
stage.
*/
package controller
