package events

import (
	"sync"
	"time"

	"github.com/cuemby/brainbox/pkg/types"
)

// EventType represents the type of event
type EventType string

const (
	EventJobReceived          EventType = "job.received"
	EventJobAssigned          EventType = "job.assigned"
	EventJobAccepted          EventType = "job.accepted"
	EventJobFinished          EventType = "job.finished"
	EventJobFailed            EventType = "job.failed"
	EventInstanceStarting     EventType = "instance.starting"
	EventInstanceWarm         EventType = "instance.warm"
	EventInstanceBusy         EventType = "instance.busy"
	EventInstanceCoolingDown  EventType = "instance.cooling_down"
	EventInstanceStopped      EventType = "instance.stopped"
	EventInstanceFailed       EventType = "instance.failed"
	EventDeciderInstalled     EventType = "decider.installed"
	EventDeciderInstallFailed EventType = "decider.install_failed"
)

// Terminal reports whether the event carries a job's final record
func (t EventType) Terminal() bool {
	return t == EventJobFinished || t == EventJobFailed
}

// Event represents an orchestrator event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string

	// Job is a snapshot of the job for job.* events
	Job *types.Job

	// Instance is a snapshot of the instance for instance.* events
	Instance *types.Instance
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

type subscription struct {
	reliable bool
	done     chan struct{}
}

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]*subscription
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]*subscription),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a lossy subscription: events are dropped while its buffer is full
func (b *Broker) Subscribe() Subscriber {
	return b.subscribe(false)
}

// SubscribeReliable creates a subscription that is never skipped. A slow
// reader applies back-pressure to the broker instead of losing events. The
// channel is not closed by Unsubscribe; the reader stops on its own signal.
func (b *Broker) SubscribeReliable() Subscriber {
	return b.subscribe(true)
}

func (b *Broker) subscribe(reliable bool) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = &subscription{reliable: reliable, done: make(chan struct{})}
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	s, ok := b.subscribers[sub]
	delete(b.subscribers, sub)
	b.mu.Unlock()

	if !ok {
		return
	}
	close(s.done)
	if !s.reliable {
		close(sub)
	}
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	// Set timestamp if not set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	type pending struct {
		ch   Subscriber
		done chan struct{}
	}
	var reliable []pending

	b.mu.RLock()
	for sub, s := range b.subscribers {
		if s.reliable {
			reliable = append(reliable, pending{ch: sub, done: s.done})
			continue
		}
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
	b.mu.RUnlock()

	// Reliable sends happen outside the lock so a slow reader can still unsubscribe
	for _, p := range reliable {
		select {
		case p.ch <- event:
		case <-p.done:
		case <-b.stopCh:
			return
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
