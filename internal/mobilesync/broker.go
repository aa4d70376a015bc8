package mobilesync

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// subscriberQueueDepth mirrors state_cache.rs's broadcast::channel(512)
// capacity.
const subscriberQueueDepth = 512

// Broker is the in-process snapshot/event hub mobile clients sync against.
// It holds the latest SnapshotV1, a monotonic sequence counter, and fans out
// every published event to subscribed WebSocket connections.
//
// Go's standard library has no broadcast-channel primitive equivalent to
// Rust's tokio::sync::broadcast, so fan-out is implemented explicitly here:
// each subscriber gets its own buffered channel, and a send that would block
// on a full subscriber queue is dropped with an explicit lag signal instead
// of blocking the publisher or the other subscribers, matching
// state_cache.rs's publish_event (which ignores send errors rather than
// backpressuring the publisher).
type Broker struct {
	sequence         atomic.Uint64
	enabled          atomic.Bool
	connectedClients atomic.Int64

	snapshotMu sync.RWMutex
	snapshot   *SnapshotV1

	subsMu sync.Mutex
	subs   map[int]*subscriber
	nextID int
}

type subscriber struct {
	ch     chan EventEnvelopeV1
	lagged chan struct{}
}

// NewBroker returns a Broker with sync disabled until SetEnabled(true) is
// called (typically once the config + store layers confirm mobile sync is
// turned on).
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]*subscriber)}
}

func (b *Broker) SetEnabled(enabled bool) { b.enabled.Store(enabled) }
func (b *Broker) IsEnabled() bool         { return b.enabled.Load() }

func (b *Broker) CurrentSequence() uint64 { return b.sequence.Load() }

func (b *Broker) nextSequence() uint64 { return b.sequence.Add(1) }

func (b *Broker) IncrementClients() int64 { return b.connectedClients.Add(1) }
func (b *Broker) DecrementClients() int64 { return b.connectedClients.Add(-1) }
func (b *Broker) ConnectedClients() int64 { return b.connectedClients.Load() }

// LatestSnapshot returns the most recently published snapshot, or nil if
// none has been published yet.
func (b *Broker) LatestSnapshot() *SnapshotV1 {
	b.snapshotMu.RLock()
	defer b.snapshotMu.RUnlock()
	return b.snapshot
}

// PublishSnapshot stores state as the latest snapshot and emits a
// snapshot.updated event carrying {sequence}, mirroring state_cache.rs's
// publish_snapshot.
func (b *Broker) PublishSnapshot(state json.RawMessage) (SnapshotV1, EventEnvelopeV1) {
	seq := b.nextSequence()
	snap := SnapshotV1{
		Version:     ProtocolVersion,
		Sequence:    seq,
		GeneratedAt: nowRFC3339(),
		State:       state,
	}
	b.snapshotMu.Lock()
	b.snapshot = &snap
	b.snapshotMu.Unlock()

	payload, _ := json.Marshal(map[string]uint64{"sequence": seq})
	env := b.PublishEvent("snapshot.updated", payload)
	return snap, env
}

// PublishEvent allocates the next sequence number, builds an envelope, and
// fans it out to every current subscriber.
func (b *Broker) PublishEvent(eventType string, payload json.RawMessage) EventEnvelopeV1 {
	seq := b.nextSequence()
	return b.broadcast(eventType, payload, seq)
}

// broadcast builds an envelope for the given, already-allocated sequence
// number and fans it out to every current subscriber. Callers mint seq via
// nextSequence (PublishEvent) rather than passing in a reused value, so
// every envelope gets its own sequence slot.
func (b *Broker) broadcast(eventType string, payload json.RawMessage, seq uint64) EventEnvelopeV1 {
	env := EventEnvelopeV1{
		Version:     ProtocolVersion,
		Sequence:    seq,
		EventType:   eventType,
		GeneratedAt: nowRFC3339(),
		Payload:     payload,
	}

	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- env:
		default:
			// Subscriber's queue is full; signal lag instead of blocking.
			select {
			case sub.lagged <- struct{}{}:
			default:
			}
		}
	}
	return env
}

// Subscribe registers a new subscriber and returns its event channel, lag
// signal channel, and an unsubscribe function the caller must defer.
func (b *Broker) Subscribe() (events <-chan EventEnvelopeV1, lagged <-chan struct{}, unsubscribe func()) {
	sub := &subscriber{
		ch:     make(chan EventEnvelopeV1, subscriberQueueDepth),
		lagged: make(chan struct{}, 1),
	}

	b.subsMu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.subsMu.Unlock()

	return sub.ch, sub.lagged, func() {
		b.subsMu.Lock()
		delete(b.subs, id)
		b.subsMu.Unlock()
	}
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
