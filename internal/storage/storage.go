package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/tpsparking/api/internal/config"
)

// ErrNotConfigured is returned by the no-op uploader.
var ErrNotConfigured = errors.New("storage: no uploader configured")

// UploadInput is a single object PUT.
type UploadInput struct {
	Key          string
	Body         []byte
	ContentType  string
	CacheControl string
}

// UploadResult points at the stored object.
type UploadResult struct {
	Key  string
	URL  string
	ETag string
}

// Uploader stores evidence blobs.
type Uploader interface {
	Upload(ctx context.Context, input UploadInput) (*UploadResult, error)
	Delete(ctx context.Context, key string) error
}

// New picks the uploader for cfg.Provider. "s3" and "r2" share the SigV4 client.
func New(cfg config.StorageConfig) (Uploader, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "noop":
		return NoopUploader{}, nil
	case "s3", "r2":
		return NewS3Uploader(S3Config{
			Endpoint:     cfg.Endpoint,
			Region:       cfg.Region,
			Bucket:       cfg.Bucket,
			AccessKey:    cfg.AccessKey,
			SecretKey:    cfg.SecretKey,
			PublicDomain: cfg.PublicURL,
		})
	default:
		return nil, errors.New("storage: unknown provider " + cfg.Provider)
	}
}
