package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"moonlight/internal/config"
	"moonlight/internal/llm"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Archive keeps copies of generated images and project archives.
type Archive interface {
	ArchiveImage(ctx context.Context, prompt string, img llm.InlineImage) error
	ArchiveProject(ctx context.Context, zipData []byte) (string, error)
}

// NopArchive is used when no object store is configured.
type NopArchive struct{}

func (NopArchive) ArchiveImage(ctx context.Context, prompt string, img llm.InlineImage) error {
	return nil
}

func (NopArchive) ArchiveProject(ctx context.Context, zipData []byte) (string, error) {
	return "", nil
}

// MinioArchive stores objects under images/ and projects/ in one bucket.
type MinioArchive struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// New returns a MinIO archive when enabled in cfg, otherwise NopArchive.
func New(ctx context.Context, cfg config.MinioConfig, logger *zap.Logger) (Archive, error) {
	if !cfg.Enabled {
		return NopArchive{}, nil
	}
	return NewMinioArchive(ctx, cfg, logger)
}

func NewMinioArchive(ctx context.Context, cfg config.MinioConfig, logger *zap.Logger) (*MinioArchive, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("minio endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioArchive{client: client, bucket: cfg.Bucket, logger: logger.Named("artifacts")}, nil
}

func (m *MinioArchive) ArchiveImage(ctx context.Context, prompt string, img llm.InlineImage) error {
	key := imageKey(prompt, img.MIMEType, time.Now().UTC(), uuid.NewString())
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(img.Data), int64(len(img.Data)), minio.PutObjectOptions{
		ContentType:  img.MIMEType,
		UserMetadata: map[string]string{"prompt": url.QueryEscape(truncate(prompt, 512))},
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	m.logger.Debug("image archived", zap.String("key", key), zap.Int("bytes", len(img.Data)))
	return nil
}

func (m *MinioArchive) ArchiveProject(ctx context.Context, zipData []byte) (string, error) {
	key := projectKey(time.Now().UTC(), uuid.NewString())
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(zipData), int64(len(zipData)), minio.PutObjectOptions{
		ContentType: "application/zip",
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	m.logger.Debug("project archived", zap.String("key", key), zap.Int("bytes", len(zipData)))
	return key, nil
}

func imageKey(prompt, mimeType string, now time.Time, id string) string {
	base := strings.TrimSuffix(DownloadName(prompt), ".png")
	return fmt.Sprintf("images/%s/%s-%s%s", now.Format("2006/01/02"), id, base, extensionFor(mimeType))
}

func projectKey(now time.Time, id string) string {
	return fmt.Sprintf("projects/%s/%s.zip", now.Format("2006/01/02"), id)
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
