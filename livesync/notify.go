// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package livesync

import "sync"

// notifier delivers events to subscribers one at a time, in the order
// they were enqueued. Owners enqueue while holding their own lock (so
// queue order is state order) and call flush after releasing it.
// Whichever goroutine finds the queue idle drains it; a flush that
// finds delivery already underway returns immediately, which makes
// re-entrant calls from subscribers safe.
type notifier[E any] struct {
	mu          sync.Mutex
	subscribers []subscription[E]
	nextID      int
	queue       []E
	delivering  bool
}

type subscription[E any] struct {
	id       int
	callback func(E)
}

func (n *notifier[E]) subscribe(callback func(E)) (cancel func()) {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subscribers = append(n.subscribers, subscription[E]{id: id, callback: callback})
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, existing := range n.subscribers {
			if existing.id == id {
				n.subscribers = append(n.subscribers[:i:i], n.subscribers[i+1:]...)
				return
			}
		}
	}
}

func (n *notifier[E]) enqueue(event E) {
	n.mu.Lock()
	n.queue = append(n.queue, event)
	n.mu.Unlock()
}

func (n *notifier[E]) flush() {
	n.mu.Lock()
	if n.delivering {
		n.mu.Unlock()
		return
	}
	n.delivering = true
	for len(n.queue) > 0 {
		event := n.queue[0]
		n.queue = n.queue[1:]
		subscribers := append([]subscription[E](nil), n.subscribers...)
		n.mu.Unlock()

		for _, subscriber := range subscribers {
			subscriber.callback(event)
		}

		n.mu.Lock()
	}
	n.delivering = false
	n.mu.Unlock()
}

// publish enqueues and flushes, for owners with no lock of their own
// to order against.
func (n *notifier[E]) publish(event E) {
	n.enqueue(event)
	n.flush()
}
