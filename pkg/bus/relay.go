package bus

import (
	"github.com/cuemby/brainbox/pkg/events"
	"github.com/cuemby/brainbox/pkg/log"
	"github.com/rs/zerolog"
)

// MessageJobResult is the type of messages carrying a terminal job record
const MessageJobResult = "job_result"

// Relay delivers terminal job records to the bus session named by their task
type Relay struct {
	bus    *Bus
	broker *events.Broker
	sub    events.Subscriber
	logger zerolog.Logger
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRelay creates a relay from broker to bus
func NewRelay(bus *Bus, broker *events.Broker) *Relay {
	return &Relay{
		bus:    bus,
		broker: broker,
		logger: log.WithComponent("relay"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start subscribes to the broker. The subscription is reliable: a result is
// never skipped because the bus was slow.
func (r *Relay) Start() {
	r.sub = r.broker.SubscribeReliable()
	go r.run()
}

// Stop unsubscribes and waits for the relay to exit
func (r *Relay) Stop() {
	close(r.stopCh)
	r.broker.Unsubscribe(r.sub)
	<-r.doneCh
}

func (r *Relay) run() {
	defer close(r.doneCh)

	for {
		select {
		case ev := <-r.sub:
			r.handle(ev)
		case <-r.stopCh:
			return
		}
	}
}

func (r *Relay) handle(ev *events.Event) {
	if ev == nil || !ev.Type.Terminal() || ev.Job == nil || ev.Job.Session == "" {
		return
	}
	id, err := r.bus.PushValue(ev.Job.Session, MessageJobResult, ev.Job)
	if err != nil {
		r.logger.Error().Err(err).Str("task_id", ev.Job.TaskID).Str("session", ev.Job.Session).Msg("Failed to deliver job result")
		return
	}
	r.logger.Debug().Str("task_id", ev.Job.TaskID).Str("session", ev.Job.Session).Int64("id", id).Msg("Job result delivered")
}
