/*
Package metrics provides Prometheus metrics and health endpoints for BrainBox.

All metrics are registered with the default Prometheus registry at package
init and exposed by Handler on /metrics. Components update them directly:
the runner records job outcomes and planner actions, the API middleware
records requests, the bus counts appended messages and the reconciler times
its health sweeps. Gauges that describe current state (instances by decider
and state, installation status, pending jobs) are refreshed by a Collector
that polls the decider registry every 15 seconds.

# Metrics Catalog

Jobs:

	brainbox_jobs_total{decider,status}          counter   terminal jobs
	brainbox_jobs_submitted_total                counter   admitted jobs
	brainbox_jobs_pending                        gauge     received, not yet assigned
	brainbox_job_duration_seconds{decider}       histogram received to terminal
	brainbox_job_queue_seconds{decider}          histogram received to assigned

Instances:

	brainbox_instances{decider,state}            gauge
	brainbox_warmups_total{decider,result}       counter   result is ok or failed
	brainbox_warmup_duration_seconds{decider}    histogram install, start and warmup
	brainbox_cooldowns_total{decider}            counter
	brainbox_decider_installation{decider,status} gauge    1 for the current status

Bus, API and loops:

	brainbox_bus_messages_total{type}                 counter
	brainbox_api_requests_total{route,status}         counter
	brainbox_api_request_duration_seconds{route}      histogram
	brainbox_api_rate_limited_total                   counter
	brainbox_scheduling_cycle_seconds                 histogram
	brainbox_planner_actions_total{kind}              counter
	brainbox_reconciliation_duration_seconds          histogram
	brainbox_unhealthy_instances_total{decider}       counter

# Timing

Timer wraps the common "measure and observe" pattern:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingCycleDuration)

# Health

Components report their state with RegisterComponent. /health is unhealthy
(503) only when a critical component fails and degraded otherwise; /ready
waits until the critical components (store, runtime and api by default) are
registered and healthy.

	metrics.RegisterComponent(metrics.ComponentStore, true, "bolt")
	mux.Handle("GET /health", metrics.HealthHandler())
	mux.Handle("GET /ready", metrics.ReadyHandler())
*/
package metrics
