package run

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEnvelope(t *testing.T, kind EventKind) Envelope {
	env, err := NewEnvelope(kind, time.Now().UTC(), map[string]string{"x": "y"})
	require.NoError(t, err)
	return env
}

func TestBroadcaster_PublishSubscribe_NoGapsNoDupes(t *testing.T) {
	b := NewBroadcaster()

	first := b.Publish(mustEnvelope(t, EventNotification))
	sub, backlog := b.Subscribe(0)
	require.Len(t, backlog, 1)
	assert.Equal(t, first.Seq, backlog[0].Seq)

	second := b.Publish(mustEnvelope(t, EventNotification))
	select {
	case got := <-sub.Events():
		assert.Equal(t, second.Seq, got.Seq)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live event")
	}
}

func TestBroadcaster_SubscribeAfterSeq_OnlyNewerBacklog(t *testing.T) {
	b := NewBroadcaster()
	e1 := b.Publish(mustEnvelope(t, EventNotification))
	e2 := b.Publish(mustEnvelope(t, EventNotification))

	_, backlog := b.Subscribe(e1.Seq)
	require.Len(t, backlog, 1)
	assert.Equal(t, e2.Seq, backlog[0].Seq)
}

func TestBroadcaster_SlowSubscriberIsDropped(t *testing.T) {
	b := NewBroadcaster()
	sub, _ := b.Subscribe(0)

	for i := 0; i < subscriberQueueDepth+8; i++ {
		b.Publish(mustEnvelope(t, EventNotification))
	}

	assert.True(t, sub.Dropped())
	// Events queued before the drop stay readable; drain them first.
	for range sub.Events() {
	}
	_, open := <-sub.Events()
	assert.False(t, open, "channel should be closed once the subscriber is dropped")
}

func TestBroadcaster_LastTerminalKind(t *testing.T) {
	b := NewBroadcaster()
	_, ok := b.LastTerminalKind()
	assert.False(t, ok)

	b.Publish(mustEnvelope(t, EventRunPaused))
	_, ok = b.LastTerminalKind()
	assert.False(t, ok, "paused must not count as a terminal marker")

	b.Publish(mustEnvelope(t, EventRunCompleted))
	kind, ok := b.LastTerminalKind()
	require.True(t, ok)
	assert.Equal(t, EventRunCompleted, kind)
}

func TestBroadcaster_CloseDisconnectsSubscribers(t *testing.T) {
	b := NewBroadcaster()
	sub, _ := b.Subscribe(0)
	b.Close()

	_, open := <-sub.Events()
	assert.False(t, open)

	sub2, _ := b.Subscribe(0)
	_, open = <-sub2.Events()
	assert.False(t, open, "subscribing after Close should return an already-closed channel")
}

func TestBroadcaster_RingBufferBounded(t *testing.T) {
	b := NewBroadcaster()
	for i := 0; i < broadcastBacklog+50; i++ {
		b.Publish(mustEnvelope(t, EventNotification))
	}
	_, backlog := b.Subscribe(0)
	assert.Len(t, backlog, broadcastBacklog)
}
