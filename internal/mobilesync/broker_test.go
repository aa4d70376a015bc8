package mobilesync

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPublishSnapshotAdvancesSequenceAndStoresLatest(t *testing.T) {
	b := NewBroker()
	state, _ := json.Marshal(map[string]string{"tabs": "none"})

	snap, env := b.PublishSnapshot(state)
	if snap.Sequence != 1 {
		t.Fatalf("expected snapshot to take sequence 1, got %d", snap.Sequence)
	}
	if env.Sequence != 2 {
		t.Fatalf("expected snapshot.updated envelope to take the next sequence (2), got %d", env.Sequence)
	}
	if env.EventType != "snapshot.updated" {
		t.Fatalf("eventType = %q", env.EventType)
	}
	var envPayload struct {
		Sequence uint64 `json:"sequence"`
	}
	if err := json.Unmarshal(env.Payload, &envPayload); err != nil {
		t.Fatalf("unmarshal envelope payload: %v", err)
	}
	if envPayload.Sequence != snap.Sequence {
		t.Fatalf("envelope payload sequence = %d, want the snapshot's own sequence %d", envPayload.Sequence, snap.Sequence)
	}
	if b.LatestSnapshot().Sequence != 1 {
		t.Fatalf("expected latest snapshot to be retained")
	}
	if b.CurrentSequence() != 2 {
		t.Fatalf("CurrentSequence() = %d, want 2 after snapshot (1) + envelope (2)", b.CurrentSequence())
	}
}

func TestPublishEventFansOutToSubscribers(t *testing.T) {
	b := NewBroker()
	events, _, unsubscribe := b.Subscribe()
	defer unsubscribe()

	payload, _ := json.Marshal(map[string]string{"hello": "world"})
	b.PublishEvent("mobile.action.requested", payload)

	select {
	case env := <-events:
		if env.EventType != "mobile.action.requested" {
			t.Fatalf("eventType = %q", env.EventType)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fanned-out event")
	}
}

func TestSubscriberLagSignalsInsteadOfBlocking(t *testing.T) {
	b := NewBroker()
	_, lagged, unsubscribe := b.Subscribe()
	defer unsubscribe()

	for i := 0; i < subscriberQueueDepth+5; i++ {
		b.PublishEvent("tick", nil)
	}

	select {
	case <-lagged:
	default:
		t.Fatal("expected a lag signal once the subscriber queue overflowed")
	}
}

func TestConnectedClientsTracksIncrementsAndDecrements(t *testing.T) {
	b := NewBroker()
	if got := b.IncrementClients(); got != 1 {
		t.Fatalf("IncrementClients() = %d", got)
	}
	b.IncrementClients()
	if got := b.DecrementClients(); got != 1 {
		t.Fatalf("DecrementClients() = %d", got)
	}
	if b.ConnectedClients() != 1 {
		t.Fatalf("ConnectedClients() = %d", b.ConnectedClients())
	}
}

func TestUnsubscribeStopsFurtherDelivery(t *testing.T) {
	b := NewBroker()
	events, _, unsubscribe := b.Subscribe()
	unsubscribe()

	b.PublishEvent("tick", nil)

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected no further delivery after unsubscribe")
		}
	default:
	}
}
