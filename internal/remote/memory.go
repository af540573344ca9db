package remote

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"
)

// MemoryStore keeps documents in process. It backs local runs without a
// remote database and the tests of the sync agent.
type MemoryStore struct {
	mu     sync.Mutex
	docs   map[string]map[string]any
	writes int
	now    func() time.Time
	fail   func(path string) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[string]map[string]any{}, now: time.Now}
}

func (m *MemoryStore) Merge(ctx context.Context, path string, data map[string]any) error {
	return m.MergeBatch(ctx, []Write{{Path: path, Data: data}})
}

func (m *MemoryStore) MergeBatch(ctx context.Context, writes []Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(writes) > MaxBatch {
		return fmt.Errorf("batch of %d writes exceeds %d", len(writes), MaxBatch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range writes {
		if _, _, err := splitPath(w.Path); err != nil {
			return fmt.Errorf("%w: %s", err, w.Path)
		}
		if m.fail != nil {
			if err := m.fail(w.Path); err != nil {
				return err
			}
		}
	}
	for _, w := range writes {
		doc := m.docs[w.Path]
		if doc == nil {
			doc = map[string]any{}
		}
		for k, v := range w.Data {
			if _, ok := v.(serverTimestamp); ok {
				v = m.now().UTC()
			}
			doc[k] = v
		}
		m.docs[w.Path] = doc
		m.writes++
	}
	return nil
}

// FailWith makes every batch touching a path for which fn returns an error
// fail with that error. A nil fn clears it.
func (m *MemoryStore) FailWith(fn func(path string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fn
}

// Doc returns a copy of the document at path.
func (m *MemoryStore) Doc(path string) (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[path]
	return maps.Clone(doc), ok
}

// Writes counts the document writes applied so far.
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Len returns the number of stored documents.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

func (m *MemoryStore) Close() error { return nil }
