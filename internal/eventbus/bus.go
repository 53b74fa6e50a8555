// Package eventbus delivers the two cluster-wide streams described in
// spec.md §4.7: a patch stream (clusterstate JSON deltas) and an event
// stream (coarse-grained named events). Delivery is best-effort, ordered
// per producer, and never blocks the producer — generalized directly from
// internal/websocket.MonitorHub's register/unregister/broadcast channel
// idiom.
package eventbus

import (
	"log"
	"sync"
	"time"

	"svcorb/internal/clusterstate"
)

// DefaultQueueSize is the bounded per-subscriber queue depth from spec.md
// §4.7; on overflow the subscriber is disconnected and must resync.
const DefaultQueueSize = 512

// Event is one coarse-grained named event with a payload map, per
// spec.md §6's event record shape.
type Event struct {
	NodeName string                 `json:"nodename"`
	Kind     string                 `json:"kind"` // "event" | "patch"
	Ts       float64                `json:"ts"`
	Name     string                 `json:"name,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// PatchMessage wraps a clusterstate.Patch with its producer and gen, ready
// for fanout to peers (C4) and local subscribers (C8).
type PatchMessage struct {
	NodeName string
	Gen      int64
	Patch    clusterstate.Patch
}

// Subscriber is a bounded, disconnectable sink for both streams.
type Subscriber struct {
	ID      uint64
	Events  chan Event
	Patches chan PatchMessage
	closed  bool
	mu      sync.Mutex
}

// Close marks the subscriber disconnected and closes its channels. Safe to
// call multiple times.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.Events)
	close(s.Patches)
}

// Bus fans out patches and events to registered Subscribers without ever
// blocking the producer: a full subscriber queue causes disconnection
// rather than backpressure, per spec.md §4.7.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*Subscriber
	nextID      uint64
	nodeName    string
	queueSize   int
}

// New returns a Bus that tags emitted events/patches with nodeName.
func New(nodeName string) *Bus {
	return &Bus{
		subscribers: make(map[uint64]*Subscriber),
		nodeName:    nodeName,
		queueSize:   DefaultQueueSize,
	}
}

// Subscribe registers a new bounded subscriber and returns it. The caller
// must range over Events/Patches until Close, then issue a re-sync request
// (a full clusterstate snapshot) before resubscribing.
func (b *Bus) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscriber{
		ID:      b.nextID,
		Events:  make(chan Event, b.queueSize),
		Patches: make(chan PatchMessage, b.queueSize),
	}
	b.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes and closes a subscriber.
func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	if ok {
		sub.Close()
	}
}

// PublishEvent broadcasts a named event to every subscriber, non-blocking.
func (b *Bus) PublishEvent(name string, data map[string]interface{}) {
	ev := Event{
		NodeName: b.nodeName,
		Kind:     "event",
		Ts:       float64(time.Now().UnixNano()) / 1e9,
		Name:     name,
		Data:     data,
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subscribers {
		select {
		case sub.Events <- ev:
		default:
			log.Printf("eventbus: subscriber %d event queue full, disconnecting", id)
			go b.Unsubscribe(id)
		}
	}
}

// PublishPatch broadcasts a patch produced by clusterstate, non-blocking.
func (b *Bus) PublishPatch(msg PatchMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subscribers {
		select {
		case sub.Patches <- msg:
		default:
			log.Printf("eventbus: subscriber %d patch queue full, disconnecting", id)
			go b.Unsubscribe(id)
		}
	}
}

// SubscriberCount reports the current number of live subscribers, used by
// /metrics-style operational probes.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
