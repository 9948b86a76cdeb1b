package s3

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/admin/agro-bots/farm-insights/internal/domain"
	"github.com/admin/agro-bots/farm-insights/internal/ports/storage"
	"github.com/minio/minio-go/v7"
)

const defaultPresignTTL = 5 * time.Minute

// Client хранилище изображений запросов поверх minio.Client
type Client struct {
	client *minio.Client
	bucket string
	log    *slog.Logger
}

func NewClient(client *minio.Client, bucket string, log *slog.Logger) *Client {
	return &Client{
		client: client,
		bucket: bucket,
		log:    log,
	}
}

// PutImage загружает изображение под ключом key
func (c *Client) PutImage(ctx context.Context, key string, image domain.Image) error {
	info, err := c.client.PutObject(ctx, c.bucket, key,
		bytes.NewReader(image.Data), int64(len(image.Data)),
		minio.PutObjectOptions{ContentType: image.MimeType})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	c.log.Debug("image stored", "bucket", c.bucket, "key", key, "size", info.Size)
	return nil
}

// GetPresignedURL временная ссылка на объект
func (c *Client) GetPresignedURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if expires <= 0 {
		expires = defaultPresignTTL
	}
	url, err := c.client.PresignedGetObject(ctx, c.bucket, key, expires, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL for %s: %w", key, err)
	}
	return url.String(), nil
}

var _ storage.IImageStore = (*Client)(nil)
