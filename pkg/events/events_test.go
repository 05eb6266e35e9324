package events

import (
	"testing"
	"time"

	"github.com/cuemby/brainbox/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBroker_PublishSubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())

	b.Publish(&Event{Type: EventJobFinished, Job: &types.Job{TaskID: "t1"}})

	ev := receive(t, sub)
	assert.Equal(t, EventJobFinished, ev.Type)
	assert.Equal(t, "t1", ev.Job.TaskID)
	assert.False(t, ev.Timestamp.IsZero())

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())
	_, open := <-sub
	assert.False(t, open)
}

func TestBroker_ReliableNeverDrops(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	lossy := b.Subscribe()
	reliable := b.SubscribeReliable()

	const n = 300
	go func() {
		for i := 0; i < n; i++ {
			b.Publish(&Event{Type: EventJobReceived, Metadata: map[string]string{"i": "x"}})
		}
	}()

	// Let the lossy buffer overflow before anyone reads
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < n; i++ {
		receive(t, reliable)
	}

	dropped := n - len(lossy)
	assert.Greater(t, dropped, 0, "lossy subscriber should have missed events")
}

func TestBroker_UnsubscribeReliableUnblocks(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	reliable := b.SubscribeReliable()
	lossy := b.Subscribe()

	// Fill the reliable buffer so the broadcast loop blocks on it
	for i := 0; i < 51; i++ {
		b.Publish(&Event{Type: EventJobReceived})
	}
	time.Sleep(20 * time.Millisecond)

	b.Unsubscribe(reliable)

	// The lossy buffer holds the first 50 events; drain it before the probe
	for i := 0; i < 50; i++ {
		receive(t, lossy)
	}

	b.Publish(&Event{Type: EventJobFailed})
	ev := receive(t, lossy)
	require.Equal(t, EventJobFailed, ev.Type, "broadcast loop stayed blocked after unsubscribe")
}

func TestEventType_Terminal(t *testing.T) {
	assert.True(t, EventJobFinished.Terminal())
	assert.True(t, EventJobFailed.Terminal())
	assert.False(t, EventJobAccepted.Terminal())
	assert.False(t, EventInstanceFailed.Terminal())
}
