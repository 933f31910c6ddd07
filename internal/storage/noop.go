package storage

import "context"

// NoopUploader rejects every upload; reports are then saved without evidence.
type NoopUploader struct{}

func (NoopUploader) Upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	return nil, ErrNotConfigured
}

func (NoopUploader) Delete(ctx context.Context, key string) error {
	return ErrNotConfigured
}
