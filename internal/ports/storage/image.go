package storage

import (
	"context"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
)

// IImageStore хранилище загруженных изображений (S3-совместимое)
type IImageStore interface {
	// PutImage сохраняет изображение под ключом key
	PutImage(ctx context.Context, key string, image domain.Image) error
	GetPresignedURL(ctx context.Context, key string, expires time.Duration) (string, error)
}
