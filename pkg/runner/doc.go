/*
Package runner executes tasks on decider instances.

The runner owns the job table and a single planning loop. Submit validates a
batch of tasks (known deciders, accepted parameters, an acyclic prerequisite
graph checked with toposort) and records one Received job per task. The loop
wakes on submissions, on completed operations and on a ticker, builds a
planner.Snapshot of the eligible jobs and the controllers' instances, and
applies planner actions until the planner says Wait.

Applying an action never blocks the loop:

	WarmUp     install (once), start and warm an instance on a goroutine
	AssignJob  acquire the instance, mark the job Assigned, invoke on a goroutine
	CoolDown   call cooldown and stop the instance on a goroutine

While an operation is in flight its effect is overlaid on the snapshot, so a
key being warmed counts as Starting and an instance being stopped counts as
CoolingDown. This keeps at most one warm-up per key and at most one
invocation per instance.

A job becomes eligible once all its prerequisites finished; their results are
passed to the decider as call dependencies. A failed job fails every
dependent, transitively, before any of them is accepted. Start failures fail
the eligible jobs of their key; invocation errors and timeouts fail only the
job. After a timeout the instance is health checked and discarded when
unhealthy. Failed instances are always stopped by the next cycle.

Every transition is saved to the store and published on the event broker.
On Start, jobs that were left unfinished by a previous process are failed as
interrupted.
*/
package runner
