// Package events is a small in-process publish/subscribe channel.
package events

import (
	"sort"
	"sync"
)

// Bus delivers published values to every subscriber. The zero value is ready to use.
type Bus[T any] struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(T)
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[int]func(T))
	}
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish calls every subscriber in subscription order on the caller's goroutine.
// Subscribers run outside the bus lock and may subscribe or unsubscribe.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(T), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of subscribers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
