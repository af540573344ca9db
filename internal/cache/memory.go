package cache

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/events"
)

// MemoryArea is an in-process storage area with a byte quota over keys and values.
// Every Tab opened on it shares the same data.
type MemoryArea struct {
	mu    sync.Mutex
	data  map[string]string
	used  int
	quota int
	tabs  map[string]*Tab
}

// NewMemoryArea returns an empty area. A quota <= 0 means unlimited.
func NewMemoryArea(quotaBytes int) *MemoryArea {
	return &MemoryArea{
		data:  make(map[string]string),
		quota: quotaBytes,
		tabs:  make(map[string]*Tab),
	}
}

// Tab opens a new handle with its own origin.
func (a *MemoryArea) Tab() *Tab {
	t := &Tab{area: a, origin: uuid.NewString()}
	a.mu.Lock()
	a.tabs[t.origin] = t
	a.mu.Unlock()
	return t
}

// Used returns the bytes currently stored.
func (a *MemoryArea) Used() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}

func (a *MemoryArea) peers(origin string) []*Tab {
	out := make([]*Tab, 0, len(a.tabs))
	for o, t := range a.tabs {
		if o != origin {
			out = append(out, t)
		}
	}
	return out
}

// Tab is one handle on a MemoryArea.
type Tab struct {
	area   *MemoryArea
	origin string
	bus    events.Bus[Change]
}

// Origin identifies this tab in change notifications.
func (t *Tab) Origin() string { return t.origin }

func (t *Tab) Get(_ context.Context, key string) (string, bool) {
	t.area.mu.Lock()
	defer t.area.mu.Unlock()
	v, ok := t.area.data[key]
	return v, ok
}

func (t *Tab) Set(_ context.Context, key, value string) error {
	a := t.area
	a.mu.Lock()
	used := a.used + len(key) + len(value)
	if old, ok := a.data[key]; ok {
		used -= len(key) + len(old)
	}
	if a.quota > 0 && used > a.quota {
		a.mu.Unlock()
		return ErrQuotaExceeded
	}
	a.data[key] = value
	a.used = used
	peers := a.peers(t.origin)
	a.mu.Unlock()

	ch := Change{Key: key, Value: value, Origin: t.origin}
	for _, p := range peers {
		p.bus.Publish(ch)
	}
	return nil
}

func (t *Tab) Remove(_ context.Context, key string) error {
	a := t.area
	a.mu.Lock()
	old, ok := a.data[key]
	if !ok {
		a.mu.Unlock()
		return nil
	}
	delete(a.data, key)
	a.used -= len(key) + len(old)
	peers := a.peers(t.origin)
	a.mu.Unlock()

	ch := Change{Key: key, Removed: true, Origin: t.origin}
	for _, p := range peers {
		p.bus.Publish(ch)
	}
	return nil
}

func (t *Tab) Subscribe(fn func(Change)) func() {
	return t.bus.Subscribe(fn)
}

// Close detaches the tab; it stops receiving changes. Its data stays in the area.
func (t *Tab) Close() {
	t.area.mu.Lock()
	delete(t.area.tabs, t.origin)
	t.area.mu.Unlock()
}
