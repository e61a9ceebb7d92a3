// Package events provides a small typed publish/subscribe primitive.
package events

import "sync"

// Topic fans a value out to zero or more listeners. Listeners run on the
// publisher's goroutine and must not block.
type Topic[T any] struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]func(T)
}

// Subscribe registers fn and returns a function that removes it.
func (t *Topic[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listeners == nil {
		t.listeners = make(map[int]func(T))
	}
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.listeners, id)
	}
}

// Publish delivers v to every listener registered at the time of the call.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	fns := make([]func(T), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of registered listeners.
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.listeners)
}
