// Package store provides the change-notification hub that gives the document
// store its "subscribe for changes" semantics: repositories publish a tick on
// a topic after every committed write, and subscribers re-query the store to
// obtain a full current snapshot.
//
// Delivery is coalescing: each subscriber channel has capacity one, so a
// burst of writes between two reads collapses into a single wakeup. That is
// exactly the contract the engine needs: every change eventually produces a
// fresh snapshot, and a snapshot always reflects all writes before it.
package store

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Well-known topic builders. Presence, typing, and chat topics are scoped per
// resource key; TopicChatAll additionally receives a tick for every chat
// write on any resource (unread aggregation subscribes there).
const (
	TopicFiles    = "files"
	TopicProjects = "projects"
	TopicChatAll  = "chat:*"
)

// TopicPresence returns the presence topic for a resource key.
func TopicPresence(key string) string { return "presence:" + key }

// TopicTyping returns the typing topic for a resource key.
func TopicTyping(key string) string { return "typing:" + key }

// TopicChat returns the chat topic for a resource key.
func TopicChat(key string) string { return "chat:" + key }

// subsOpen gauges currently open hub subscriptions, labeled without the
// resource key to keep cardinality bounded.
var subsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "store_subscriptions_open",
	Help: "Current number of open change-hub subscriptions.",
})

func init() {
	prometheus.MustRegister(subsOpen)
}

// Subscription is one subscriber's handle on a topic. C receives one value
// per (coalesced) change. Close is idempotent.
type Subscription struct {
	// C signals that the topic changed; the subscriber should re-query.
	C <-chan struct{}

	hub   *Hub
	topic string
	id    uint64
	once  sync.Once
}

// Close releases the subscription. Safe to call multiple times.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.drop(s.topic, s.id)
	})
}

// Hub fans write notifications out to per-topic subscribers. It is safe for
// concurrent use.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[uint64]chan struct{}
	nextID uint64
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[uint64]chan struct{})}
}

// Subscribe registers a new subscriber on topic and returns its handle.
func (h *Hub) Subscribe(topic string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	ch := make(chan struct{}, 1)
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[uint64]chan struct{})
	}
	h.topics[topic][id] = ch
	subsOpen.Inc()

	return &Subscription{C: ch, hub: h, topic: topic, id: id}
}

// Publish wakes every subscriber of topic. Never blocks: a subscriber that
// already has a pending tick is skipped (the pending tick covers this write).
func (h *Hub) Publish(topic string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.topics[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// SubscriberCount returns the number of open subscriptions on topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) drop(topic string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.topics[topic]
	if subs == nil {
		return
	}
	if _, ok := subs[id]; !ok {
		return
	}
	delete(subs, id)
	subsOpen.Dec()
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}
