/*
Package reconciler detects instances that stopped answering while idle.

The runner only learns about a broken decider when it invokes it. An
instance kept warm for minutes between jobs could die unnoticed and fail the
next job that lands on it. The reconciler closes that gap with a periodic
sweep, every 10 seconds by default:

	for each controller
	    for each Warm instance
	        CheckInstance  (marks the instance Failed when unhealthy)
	if any instance failed: runner.Wake()

Busy instances are skipped. Starting and CoolingDown instances belong to an
operation already in flight. A Failed instance is not touched again: the
runner's next planning cycle discards it, and for always-on deciders starts a
replacement.

A check that fails because the instance was acquired or stopped between the
snapshot and the check is not counted. Each counted failure increments
brainbox_unhealthy_instances_total{decider}; the sweep duration is recorded in
brainbox_reconciliation_duration_seconds.

# Usage

	rec := reconciler.NewReconciler(registry, runner)
	rec.Start()
	defer rec.Stop()
*/
package reconciler
