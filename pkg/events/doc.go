/*
Package events provides an in-memory event broker for BrainBox job and
instance lifecycle events.

The runner publishes an event for every job transition and every instance
state change; the bus relay, the metrics collector and CLI watchers consume
them. Publishing is asynchronous: events enter a buffered channel (100) and a
single loop broadcasts them to subscriber channels (50 each).

# Delivery

	Publisher → eventCh (100) → broadcast loop ─┬─► Subscribe()         lossy
	                                             └─► SubscribeReliable() blocking

A lossy subscriber whose buffer is full misses the event. That is fine for
dashboards and logs, never for result delivery: the bus relay turns
job.finished and job.failed events into client-visible messages, so it uses
SubscribeReliable, which holds the broadcast loop until the event is taken.

# Event Types

	job.received  job.assigned  job.accepted  job.finished  job.failed
	instance.starting  instance.warm  instance.cooling_down
	instance.stopped   instance.failed
	decider.installed  decider.install_failed

Job events carry a snapshot of the job record; instance events carry a
snapshot of the instance.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.SubscribeReliable()
	defer broker.Unsubscribe(sub)

	for {
		select {
		case ev := <-sub:
			if ev.Type.Terminal() {
				deliver(ev.Job)
			}
		case <-ctx.Done():
			return
		}
	}
*/
package events
