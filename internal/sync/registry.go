package sync

import (
	gosync "sync"

	"github.com/collabpad/collab-backend/internal/store"
)

// Registry deduplicates live hub subscriptions by topic. Acquiring a topic
// that is already open shares the single underlying store subscription
// instead of opening a duplicate stream; the underlying stream is released
// only when the last handle is released. This bounds the number of live
// store subscriptions to the number of distinct topics in use and makes
// teardown ordering deterministic: release every handle of a scope, and the
// registry is provably back to zero streams for it.
//
// Snapshot queries, not the registry, decide what a subscriber may see; a
// permission failure on re-query degrades to an empty snapshot at the
// reader, never to an error out of the registry.
type Registry struct {
	hub *store.Hub

	mu        gosync.Mutex
	listeners map[string]*listener
}

// listener is one refcounted store subscription fanned out to handles.
type listener struct {
	sub     *store.Subscription
	done    chan struct{}
	mu      gosync.Mutex
	handles map[uint64]chan struct{}
	nextID  uint64
	refs    int
}

// Handle is one consumer's grip on a shared topic subscription. C ticks when
// the topic changes (coalesced). Release is safe to call multiple times.
type Handle struct {
	// C signals that the topic changed; re-query for a fresh snapshot.
	C <-chan struct{}

	reg   *Registry
	topic string
	id    uint64
	once  gosync.Once
}

// Topic returns the topic this handle is subscribed to.
func (h *Handle) Topic() string { return h.topic }

// Release drops this handle. When it is the last handle on its topic the
// underlying store subscription is closed. Idempotent.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.reg.release(h.topic, h.id)
	})
}

// NewRegistry returns an empty registry over the given hub.
func NewRegistry(hub *store.Hub) *Registry {
	return &Registry{hub: hub, listeners: make(map[string]*listener)}
}

// Acquire opens (or joins) the live subscription for topic and returns a
// handle on it. Acquire is idempotent at the stream level: N concurrent
// handles on one topic share one store subscription.
func (r *Registry) Acquire(topic string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.listeners[topic]
	if l == nil {
		l = &listener{
			sub:     r.hub.Subscribe(topic),
			done:    make(chan struct{}),
			handles: make(map[uint64]chan struct{}),
		}
		r.listeners[topic] = l
		go l.fanout()
	}

	l.mu.Lock()
	l.nextID++
	id := l.nextID
	ch := make(chan struct{}, 1)
	l.handles[id] = ch
	l.refs++
	l.mu.Unlock()

	return &Handle{C: ch, reg: r, topic: topic, id: id}
}

// OpenTopics returns the number of distinct topics with live subscriptions.
func (r *Registry) OpenTopics() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

// Refs returns the number of handles currently open on topic.
func (r *Registry) Refs(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.listeners[topic]
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refs
}

func (r *Registry) release(topic string, id uint64) {
	r.mu.Lock()
	l := r.listeners[topic]
	if l == nil {
		r.mu.Unlock()
		return
	}

	l.mu.Lock()
	if _, ok := l.handles[id]; !ok {
		l.mu.Unlock()
		r.mu.Unlock()
		return
	}
	delete(l.handles, id)
	l.refs--
	last := l.refs == 0
	l.mu.Unlock()

	if last {
		delete(r.listeners, topic)
	}
	r.mu.Unlock()

	if last {
		close(l.done)
		l.sub.Close()
	}
}

// fanout copies ticks from the shared store subscription to every handle,
// coalescing per handle (a handle with a pending tick is skipped).
func (l *listener) fanout() {
	for {
		select {
		case <-l.done:
			return
		case <-l.sub.C:
			l.mu.Lock()
			for _, ch := range l.handles {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
			l.mu.Unlock()
		}
	}
}
