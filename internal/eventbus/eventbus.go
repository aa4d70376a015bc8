// Package eventbus is the process-wide event channel fan-out described in
// spec §6 "Event channels (to UI)", generalized from the teacher's
// internal/agent/stream.go channel-per-consumer pattern into a named-topic
// pub/sub usable by both the Agent Process Supervisor and the PTY Session
// Manager.
package eventbus

import "sync"

// Bus fans out named events to any number of subscribers. One instance is
// typically shared process-wide; callers needing isolation construct their
// own via New.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]chan any
}

func New() *Bus {
	return &Bus{subs: make(map[string][]chan any)}
}

// Subscribe returns a buffered channel that receives every Emit to topic
// until Unsubscribe is called. Buffer size matches the teacher's
// generic-channel-without-backpressure-guarantee design: a slow consumer
// drops events rather than blocking the emitter.
func (b *Bus) Subscribe(topic string) chan any {
	ch := make(chan any, 256)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes ch from topic and closes it.
func (b *Bus) Unsubscribe(topic string, ch chan any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, s := range subs {
		if s == ch {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Emit sends payload to every current subscriber of topic. Non-blocking: a
// full subscriber channel drops the event rather than stalling the caller,
// matching spec §5's "no backpressure guarantee" for agent output channels.
func (b *Bus) Emit(topic string, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[topic] {
		select {
		case ch <- payload:
		default:
		}
	}
}
