package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/cache"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/db"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/models"
)

// ArchiveFilter narrows List. A zero Status matches every status.
type ArchiveFilter struct {
	Status models.InvoiceStatus
	Query  string
}

// ArchiveService browses every draft saved to the durable store.
type ArchiveService struct {
	store    Repository
	cache    cache.Cache
	sessions *SessionManager
}

func NewArchiveService(store Repository, c cache.Cache, sessions *SessionManager) *ArchiveService {
	return &ArchiveService{store: store, cache: c, sessions: sessions}
}

// All returns every stored draft in key order.
func (s *ArchiveService) All(ctx context.Context) []models.InvoiceDraft {
	return db.Decode[models.InvoiceDraft](s.store.GetAll(ctx, db.CollectionInvoices))
}

// List returns the drafts matching f, newest invoice date first.
func (s *ArchiveService) List(ctx context.Context, f ArchiveFilter) []models.InvoiceDraft {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	var out []models.InvoiceDraft
	for _, d := range s.All(ctx) {
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(d.CustomerName), q) &&
			!strings.Contains(strings.ToLower(d.InvoiceNumber), q) {
			continue
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return invoiceDate(out[i]).After(invoiceDate(out[j]))
	})
	return out
}

// Delete removes a draft from the durable store and the fast cache.
func (s *ArchiveService) Delete(ctx context.Context, sessionID string) error {
	if err := s.store.Delete(ctx, db.CollectionInvoices, sessionID); err != nil {
		return fmt.Errorf("delete draft %s: %w", sessionID, err)
	}
	if err := s.cache.Remove(ctx, DraftKeyPrefix+sessionID); err != nil {
		return fmt.Errorf("uncache draft %s: %w", sessionID, err)
	}
	return nil
}

// Open makes an archived draft the active session.
func (s *ArchiveService) Open(ctx context.Context, sessionID string) (models.InvoiceDraft, error) {
	return s.sessions.Switch(ctx, sessionID)
}

// Revenue sums the grand totals of paid drafts, each under its own settings snapshot.
func (s *ArchiveService) Revenue(ctx context.Context, fallback models.Settings) float64 {
	var total float64
	for _, d := range s.All(ctx) {
		if !d.IsPaid() {
			continue
		}
		st := fallback
		if d.Settings != nil {
			st = *d.Settings
		}
		total += DraftTotals(d, st).TotalTTC
	}
	return total
}

func invoiceDate(d models.InvoiceDraft) time.Time {
	t, err := time.Parse(models.DateLayout, d.InvoiceDate)
	if err != nil {
		return time.Time{}
	}
	return t
}
