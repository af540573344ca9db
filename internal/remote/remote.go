// Package remote holds the document stores the sync agent replicates into.
// Documents are addressed by slash separated paths and written with merge
// semantics: top-level fields present in the write replace the stored ones,
// other stored fields are kept.
package remote

import (
	"context"
	"errors"
	"strings"
)

// ErrInvalidPath is returned for a path that does not name a document.
var ErrInvalidPath = errors.New("invalid document path")

type serverTimestamp struct{}

// ServerTimestamp is a field value the store replaces with its own clock.
var ServerTimestamp any = serverTimestamp{}

// MaxBatch is the largest number of writes one atomic batch may carry.
const MaxBatch = 500

// Write is one merge-write of a batch.
type Write struct {
	Path string
	Data map[string]any
}

// DocumentStore is a remote document database.
type DocumentStore interface {
	Merge(ctx context.Context, path string, data map[string]any) error
	// MergeBatch applies every write or none of them.
	MergeBatch(ctx context.Context, writes []Write) error
	Close() error
}

// SettingsPath is where a user's settings document lives.
func SettingsPath(uid string) string { return "users/" + uid + "/settings/global" }

// InvoicePath is where a user's draft document lives.
func InvoicePath(uid, sessionID string) string { return "users/" + uid + "/invoices/" + sessionID }

// splitPath returns the owner and collection of a users/{uid}/{collection}/{doc} path.
func splitPath(path string) (owner, collection string, err error) {
	parts := strings.Split(path, "/")
	if len(parts) != 4 || parts[0] != "users" {
		return "", "", ErrInvalidPath
	}
	for _, p := range parts {
		if p == "" {
			return "", "", ErrInvalidPath
		}
	}
	return parts[1], parts[2], nil
}
