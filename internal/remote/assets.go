package remote

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ErrInvalidDataURL is returned for a logo that is not a base64 data URL.
var ErrInvalidDataURL = errors.New("invalid data URL")

// AssetStore keeps binary assets out of the synced documents.
type AssetStore interface {
	// PutLogo stores the logo and returns its object reference.
	PutLogo(ctx context.Context, uid, dataURL string) (string, error)
}

// GCSAssets stores assets in a Cloud Storage bucket.
type GCSAssets struct {
	client *storage.Client
	bucket string
}

// NewGCSAssets opens bucket. Without credentialsJSON the application default
// credentials are used.
func NewGCSAssets(ctx context.Context, bucket, credentialsJSON string) (*GCSAssets, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("asset bucket is required")
	}
	var opts []option.ClientOption
	if strings.TrimSpace(credentialsJSON) != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("gcs bucket %q not found or not accessible: %w", bucket, err)
	}
	return &GCSAssets{client: client, bucket: bucket}, nil
}

func (g *GCSAssets) PutLogo(ctx context.Context, uid, dataURL string) (string, error) {
	contentType, data, err := DecodeDataURL(dataURL)
	if err != nil {
		return "", err
	}
	name := LogoObject(uid)
	wc := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return "gs://" + g.bucket + "/" + name, nil
}

func (g *GCSAssets) Close() error { return g.client.Close() }

// LogoObject is the object name of a user's logo.
func LogoObject(uid string) string { return "users/" + uid + "/logo" }

// DecodeDataURL splits a base64 data URL into its media type and bytes.
func DecodeDataURL(s string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "data:")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	mediaType, enc, _ := strings.Cut(meta, ";")
	if enc != "base64" {
		return "", nil, fmt.Errorf("%w: not base64", ErrInvalidDataURL)
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return mediaType, data, nil
}
