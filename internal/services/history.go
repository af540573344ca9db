package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/db"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/logging"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/models"
	"github.com/naeimDz/djazairi-invoice-maker-pro/validation"
	"github.com/sirupsen/logrus"
)

const (
	searchWindow     = 20
	emptyQueryLimit  = 5
	projectionLength = 10
)

// HistoryIndexer remembers products and clients for autocomplete, keyed by
// their normalized name. The most recently recorded entry comes first.
type HistoryIndexer struct {
	store    Repository
	settings SettingsUpdater
	log      *logrus.Entry

	// mu serializes read-modify-write of a record.
	mu sync.Mutex
}

// NewHistoryIndexer returns an indexer over store. settings may be nil, in
// which case RefreshProjections is a no-op.
func NewHistoryIndexer(store Repository, settings SettingsUpdater, log *logrus.Entry) *HistoryIndexer {
	if log == nil {
		log = logging.Discard()
	}
	return &HistoryIndexer{store: store, settings: settings, log: log}
}

// RecordProduct upserts a product with its last used price.
func (h *HistoryIndexer) RecordProduct(ctx context.Context, description string, price float64) error {
	name := models.NormalizeName(description)
	if name == "" {
		return nil
	}
	rec := models.ProductRecord{Name: name, Price: price, UpdatedAt: time.Now().UnixMilli()}
	if err := h.store.Set(ctx, db.CollectionProducts, name, rec); err != nil {
		return fmt.Errorf("record product %q: %w", name, err)
	}
	return nil
}

// RecordClient upserts a client by name. Empty contact fields keep the
// previously known value.
func (h *HistoryIndexer) RecordClient(ctx context.Context, c models.ClientRecord) error {
	name := models.NormalizeName(c.Name)
	if name == "" {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	var prev models.ClientRecord
	if h.store.Get(ctx, db.CollectionClients, name, &prev) {
		c.Address = firstNonEmpty(c.Address, prev.Address)
		c.Phone = firstNonEmpty(c.Phone, prev.Phone)
		c.NIF = firstNonEmpty(c.NIF, prev.NIF)
		c.RC = firstNonEmpty(c.RC, prev.RC)
	}
	c.Name = name
	c.UpdatedAt = time.Now().UnixMilli()
	if err := h.store.Set(ctx, db.CollectionClients, name, c); err != nil {
		return fmt.Errorf("record client %q: %w", name, err)
	}
	return nil
}

// RecordItems records every priced item that has a description.
func (h *HistoryIndexer) RecordItems(ctx context.Context, items []models.LineItem) error {
	for _, it := range items {
		v := validation.Violations{}
		validation.Required("description", it.Description, v)
		validation.PositiveFloat("price", it.Price, v)
		if !v.Empty() {
			continue
		}
		if err := h.RecordProduct(ctx, it.Description, it.Price); err != nil {
			return err
		}
	}
	return nil
}

func (h *HistoryIndexer) RecentProducts(ctx context.Context, limit int) []models.ProductRecord {
	return capped(db.Decode[models.ProductRecord](h.store.GetAll(ctx, db.CollectionProducts)), limit)
}

func (h *HistoryIndexer) RecentClients(ctx context.Context, limit int) []models.ClientRecord {
	return capped(db.Decode[models.ClientRecord](h.store.GetAll(ctx, db.CollectionClients)), limit)
}

// SearchProducts matches query case-insensitively against the recent window.
// An empty query returns the few most recent products.
func (h *HistoryIndexer) SearchProducts(ctx context.Context, query string, limit int) []models.ProductRecord {
	return search(h.RecentProducts(ctx, searchWindow), query, limit, func(p models.ProductRecord) string { return p.Name })
}

func (h *HistoryIndexer) SearchClients(ctx context.Context, query string, limit int) []models.ClientRecord {
	return search(h.RecentClients(ctx, searchWindow), query, limit, func(c models.ClientRecord) string { return c.Name })
}

// SuggestPrice returns the last price recorded for description.
func (h *HistoryIndexer) SuggestPrice(ctx context.Context, description string) (float64, bool) {
	name := models.NormalizeName(description)
	if name == "" {
		return 0, false
	}
	var rec models.ProductRecord
	if h.store.Get(ctx, db.CollectionProducts, name, &rec) {
		return rec.Price, true
	}
	for _, p := range h.RecentProducts(ctx, 0) {
		if strings.EqualFold(p.Name, name) {
			return p.Price, true
		}
	}
	return 0, false
}

// RefreshProjections copies the most recent products and clients into the
// settings recency lists.
func (h *HistoryIndexer) RefreshProjections(ctx context.Context) error {
	if h.settings == nil {
		return nil
	}
	products := h.RecentProducts(ctx, projectionLength)
	clients := h.RecentClients(ctx, projectionLength)

	rp := make([]models.RecentProduct, 0, len(products))
	for _, p := range products {
		rp = append(rp, models.RecentProduct{Name: p.Name, Price: p.Price})
	}
	rc := make([]models.RecentClient, 0, len(clients))
	for _, c := range clients {
		rc = append(rc, models.RecentClient{Name: c.Name, Address: c.Address, Phone: c.Phone, NIF: c.NIF, RC: c.RC})
	}
	_, err := h.settings.Update(ctx, models.SettingsPatch{RecentProductServices: &rp, RecentClients: &rc})
	if err != nil {
		logging.LogError(h.log, "RefreshProjections", "update settings", nil, err)
		return fmt.Errorf("refresh projections: %w", err)
	}
	return nil
}

func search[T any](window []T, query string, limit int, name func(T) string) []T {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return capped(window, emptyQueryLimit)
	}
	out := make([]T, 0, len(window))
	for _, rec := range window {
		if strings.Contains(strings.ToLower(name(rec)), q) {
			out = append(out, rec)
		}
	}
	return capped(out, limit)
}

// capped returns at most limit elements; limit <= 0 means no cap.
func capped[T any](list []T, limit int) []T {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}
