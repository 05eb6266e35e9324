/*
Package health implements readiness and liveness checks for decider instances.

A decider container is not usable the moment it starts: the model inside has
to load first. Controllers therefore probe a freshly started instance until it
answers, and the reconciler keeps probing warm instances so an unresponsive
container is discarded instead of being handed new jobs.

# Checkers

Every checker implements Checker:
  - HTTPChecker: GET a health URL, ready on a 2xx status
  - TCPChecker: ready when the published port accepts connections
  - GRPCChecker: calls grpc.health.v1.Health/Check, ready on SERVING

# Readiness

WaitReady retries a checker with exponential backoff. The number of retries
and the overall deadline are both bounded (ProbeConfig); exhausting the
deadline yields an error wrapping types.ErrTimeout, which the controller
reports as an InstanceStartError.

	err := health.WaitReady(ctx, health.NewHTTPChecker(url), health.ProbeConfig{
		Interval: time.Second,
		Timeout:  time.Minute,
		Retries:  30,
	})

# Liveness

Liveness counts consecutive failures of a warm instance; it turns unhealthy
only after Threshold failures in a row, so a single slow answer from a busy
GPU does not throw away a loaded model.
*/
package health
