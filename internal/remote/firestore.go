package remote

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
)

// FirestoreStore writes documents to Cloud Firestore.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore connects to projectID. Without credentialsJSON the
// application default credentials are used.
func NewFirestoreStore(ctx context.Context, projectID, credentialsJSON string) (*FirestoreStore, error) {
	var opts []option.ClientOption
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

func (s *FirestoreStore) Merge(ctx context.Context, path string, data map[string]any) error {
	ref := s.client.Doc(path)
	if ref == nil {
		return fmt.Errorf("%w: %s", ErrInvalidPath, path)
	}
	if _, err := ref.Set(ctx, firestoreData(data), firestore.MergeAll); err != nil {
		return fmt.Errorf("firestore set %s: %w", path, err)
	}
	return nil
}

func (s *FirestoreStore) MergeBatch(ctx context.Context, writes []Write) error {
	if len(writes) > MaxBatch {
		return fmt.Errorf("batch of %d writes exceeds %d", len(writes), MaxBatch)
	}
	refs := make([]*firestore.DocumentRef, len(writes))
	for i, w := range writes {
		if refs[i] = s.client.Doc(w.Path); refs[i] == nil {
			return fmt.Errorf("%w: %s", ErrInvalidPath, w.Path)
		}
	}
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		for i, w := range writes {
			if err := tx.Set(refs[i], firestoreData(w.Data), firestore.MergeAll); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("firestore batch of %d: %w", len(writes), err)
	}
	return nil
}

func (s *FirestoreStore) Close() error { return s.client.Close() }

func firestoreData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if _, ok := v.(serverTimestamp); ok {
			v = firestore.ServerTimestamp
		}
		out[k] = v
	}
	return out
}
