// Package cache is the fast tier: a small key/value store shared by every tab
// of the application, whose writes are observable by the other tabs.
package cache

import (
	"context"
	"errors"
)

// ErrQuotaExceeded is returned by Set when the value does not fit.
var ErrQuotaExceeded = errors.New("cache quota exceeded")

// Change describes a write made by another tab.
type Change struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Removed bool   `json:"removed,omitempty"`
	Origin  string `json:"origin"`
}

// Cache is one tab's handle on the shared storage area. Subscribers only see
// changes made through other handles.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Subscribe(fn func(Change)) (unsubscribe func())
}
