/*
Package planner decides what the runner does next.

A planner is a pure function from a Snapshot (the current time, the eligible
pending jobs and the known decider instances) to a single Action:

	Wait       nothing to do until the state changes
	WarmUp     start an instance for a decider and parameter
	AssignJob  hand a pending job to a Warm instance
	CoolDown   stop a Warm instance

The runner applies one action at a time and asks again. Because planners keep
no state of their own, replaying a snapshot always gives the same action, and
ties are broken by received time and then task id.

Two policies are provided. SimplePlanner warms instances on demand and cools
them down once no eligible job needs them, optionally after an idle timeout
and under a cap on live instances. AlwaysOnPlanner warms a fixed set of keys
at startup and only assigns afterwards; jobs for other keys are not admitted.
*/
package planner
