package services

import (
	"context"
	"encoding/json"

	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/models"
)

// Repository is the durable tier as the services use it.
type Repository interface {
	Get(ctx context.Context, collection, key string, dest any) bool
	Set(ctx context.Context, collection, key string, value any) error
	GetAll(ctx context.Context, collection string) []json.RawMessage
	Delete(ctx context.Context, collection, key string) error
}

// SettingsSyncer replicates settings remotely. It must not block.
type SettingsSyncer interface {
	SyncSettings(s models.Settings)
}

// DraftSyncer replicates drafts remotely. It must not block.
type DraftSyncer interface {
	RequestInvoiceSync(d models.InvoiceDraft)
}

// SettingsSource exposes the current settings value.
type SettingsSource interface {
	Settings() models.Settings
}

// SettingsUpdater applies partial settings updates.
type SettingsUpdater interface {
	Update(ctx context.Context, patch models.SettingsPatch) (models.Settings, error)
}

// HistoryRecorder feeds the history indices from committed drafts.
type HistoryRecorder interface {
	RecordItems(ctx context.Context, items []models.LineItem) error
	RecordClient(ctx context.Context, c models.ClientRecord) error
}
