// Package export delivers a run's artifact to its destination.
package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

type Exporter interface {
	// Export stores data under name and returns where it ended up.
	Export(ctx context.Context, name string, data []byte) (string, error)
}

// FileExporter writes artifacts into a directory. Partial files are never
// visible under the final name.
type FileExporter struct {
	Dir    string
	logger *zap.Logger
}

func NewFileExporter(dir string, logger *zap.Logger) *FileExporter {
	return &FileExporter{Dir: dir, logger: logger}
}

func (e *FileExporter) Export(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(e.Dir, ".export-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close artifact: %w", err)
	}

	dest := filepath.Join(e.Dir, filepath.Base(name))
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("failed to move artifact into place: %w", err)
	}
	if err := os.Chmod(dest, 0o644); err != nil {
		return "", fmt.Errorf("failed to set artifact permissions: %w", err)
	}

	e.logger.Info("Artifact written",
		zap.String("path", dest),
		zap.Int("bytes", len(data)),
	)
	return dest, nil
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Prefix    string
	UseSSL    bool
}

// MinioExporter uploads artifacts to an S3 compatible bucket.
type MinioExporter struct {
	client *minio.Client
	cfg    MinioConfig
	logger *zap.Logger
}

// NewMinioExporter connects and makes sure the bucket exists.
func NewMinioExporter(ctx context.Context, cfg MinioConfig, logger *zap.Logger) (*MinioExporter, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("Created bucket", zap.String("bucket", cfg.Bucket))
	}

	return &MinioExporter{client: client, cfg: cfg, logger: logger}, nil
}

func (e *MinioExporter) Export(ctx context.Context, name string, data []byte) (string, error) {
	key := ObjectKey(e.cfg.Prefix, name)
	info, err := e.client.PutObject(ctx, e.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimetype.Detect(data).String(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	e.logger.Info("Artifact uploaded",
		zap.String("bucket", info.Bucket),
		zap.String("key", info.Key),
		zap.Int64("bytes", info.Size),
	)
	return fmt.Sprintf("s3://%s/%s", info.Bucket, info.Key), nil
}

// ObjectKey joins prefix and the base of name with a single slash.
func ObjectKey(prefix, name string) string {
	name = filepath.Base(name)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
