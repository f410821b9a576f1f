package run

import (
	"sync"
	"sync/atomic"
	"time"
)

// broadcastBacklog bounds how many recent envelopes a Broadcaster keeps in
// memory to hand new subscribers a gap-free bridge between their replay
// read of the on-disk log and the first live event. It is not the
// system-of-record: events.jsonl is.
const broadcastBacklog = 256

// subscriberQueueDepth bounds the per-subscriber channel. A subscriber that
// cannot keep up is disconnected rather than allowed to stall the
// publisher; the publisher must never block on a slow reader.
const subscriberQueueDepth = 128

// Broadcaster fans out one run's events to any number of live subscribers
// and tracks the most recent terminal-category event, so late subscribers
// can tell whether the stream has already ended without re-scanning the
// whole log.
type Broadcaster struct {
	mu          sync.Mutex
	seq         uint64
	ring        []Envelope
	subscribers map[*Subscription]struct{}
	lastKind    EventKind
	lastKindSet bool
	closed      bool
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[*Subscription]struct{})}
}

// Subscription is a live handle to a Broadcaster's event stream.
type Subscription struct {
	b       *Broadcaster
	ch      chan Envelope
	dropped bool
	once    sync.Once
}

// Events returns the channel of events live-forwarded to this subscriber.
// It is closed when the subscriber is disconnected, either explicitly via
// Close or because it fell too far behind.
func (s *Subscription) Events() <-chan Envelope { return s.ch }

// Dropped reports whether the subscription was disconnected for falling
// behind, as opposed to a clean Close.
func (s *Subscription) Dropped() bool {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return s.dropped
}

// Close unregisters the subscription.
func (s *Subscription) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.removeLocked(s)
}

func (b *Broadcaster) removeLocked(s *Subscription) {
	if _, ok := b.subscribers[s]; !ok {
		return
	}
	delete(b.subscribers, s)
	s.once.Do(func() { close(s.ch) })
}

// ReserveSeq hands out the next sequence number without publishing
// anything. Callers that must stamp a sequence onto a record before it is
// durably persisted (so the persisted copy and the broadcast copy agree)
// reserve one here, then pass it to PublishWithSeq.
func (b *Broadcaster) ReserveSeq() uint64 {
	return atomic.AddUint64(&b.seq, 1)
}

// Publish assigns the next sequence number to e, appends it to the replay
// backlog, and fans it out to every live subscriber. It never blocks: a
// subscriber whose queue is full is disconnected instead.
func (b *Broadcaster) Publish(e Envelope) Envelope {
	return b.PublishWithSeq(e, b.ReserveSeq())
}

// PublishWithSeq is Publish for a sequence number already reserved via
// ReserveSeq, used when the caller needs the same number on a persisted
// record and the broadcast envelope.
func (b *Broadcaster) PublishWithSeq(e Envelope, seq uint64) Envelope {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Seq = seq

	b.mu.Lock()
	defer b.mu.Unlock()

	b.ring = append(b.ring, e)
	if len(b.ring) > broadcastBacklog {
		b.ring = b.ring[len(b.ring)-broadcastBacklog:]
	}
	if e.Kind.IsTerminalMarker() {
		b.lastKind = e.Kind
		b.lastKindSet = true
	}

	for s := range b.subscribers {
		select {
		case s.ch <- e:
		default:
			s.dropped = true
			b.removeLocked(s)
		}
	}
	return e
}

// Subscribe registers a new subscriber and returns it along with a snapshot
// of the backlog held after the given sequence number (0 means "everything
// currently buffered"). The snapshot and the subscription are taken
// atomically under the same lock, so no event can be published in the gap
// between them and silently skipped.
func (b *Broadcaster) Subscribe(afterSeq uint64) (*Subscription, []Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var backlog []Envelope
	for _, e := range b.ring {
		if e.Seq > afterSeq {
			backlog = append(backlog, e)
		}
	}

	s := &Subscription{b: b, ch: make(chan Envelope, subscriberQueueDepth)}
	if !b.closed {
		b.subscribers[s] = struct{}{}
	} else {
		close(s.ch)
	}
	return s, backlog
}

// LastTerminalKind returns the most recently published terminal-category
// event kind, if any. Used to decide whether a replay-only SSE request
// should end immediately rather than wait on a stream that already closed.
func (b *Broadcaster) LastTerminalKind() (EventKind, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastKind, b.lastKindSet
}

// Close disconnects every subscriber and marks the broadcaster closed;
// further Subscribe calls return an already-closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for s := range b.subscribers {
		s.once.Do(func() { close(s.ch) })
	}
	b.subscribers = make(map[*Subscription]struct{})
}
