package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/stepflow-hq/stepflow/internal/config"
	"github.com/stepflow-hq/stepflow/internal/domain"
)

// MinIOStore mirrors run artifacts into S3-compatible object storage so
// evidence outlives the machine the run executed on. Local files stay the
// source of truth; uploads are a copy.
type MinIOStore struct {
	client         *minio.Client
	bucket         string
	screenshotPath string
	reportPath     string
}

// NewMinIOStore connects to the configured endpoint. It does not touch the
// bucket; call EnsureBucket once at startup.
func NewMinIOStore(cfg config.StorageConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	return &MinIOStore{
		client:         client,
		bucket:         cfg.Bucket,
		screenshotPath: cfg.ScreenshotPath,
		reportPath:     cfg.ReportPath,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (m *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket existence: %w", err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}
	}
	return nil
}

// UploadEvidence uploads one evidence file from disk under the run's
// screenshot prefix and returns its object URI.
func (m *MinIOStore) UploadEvidence(ctx context.Context, runID uuid.UUID, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("reading evidence %s: %w", localPath, err)
	}
	key := path.Join(m.screenshotPath, runID.String(), filepath.Base(localPath))
	return m.put(ctx, key, data, contentTypeFor(localPath))
}

// UploadResult uploads the run result JSON under the report prefix and
// returns its object URI.
func (m *MinIOStore) UploadResult(ctx context.Context, result *domain.ExecutionResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling result: %w", err)
	}
	key := path.Join(m.reportPath, result.RunID.String()+".json")
	return m.put(ctx, key, data, "application/json")
}

// UploadReport uploads a rendered HTML run report under the report prefix
// and returns its object URI.
func (m *MinIOStore) UploadReport(ctx context.Context, runID uuid.UUID, html []byte) (string, error) {
	key := path.Join(m.reportPath, runID.String()+".html")
	return m.put(ctx, key, html, "text/html; charset=utf-8")
}

// ArchiveRun uploads the result JSON plus every evidence screenshot the
// result references. Uploads that fail do not stop the rest; all failures
// come back joined so the caller can log them.
func (m *MinIOStore) ArchiveRun(ctx context.Context, result *domain.ExecutionResult) ([]string, error) {
	var uris []string
	var errs []error

	uri, err := m.UploadResult(ctx, result)
	if err != nil {
		errs = append(errs, err)
	} else {
		uris = append(uris, uri)
	}

	seen := map[string]bool{}
	for _, sr := range result.StepResults {
		if sr.Evidence == nil || sr.Evidence.ScreenshotPath == "" || seen[sr.Evidence.ScreenshotPath] {
			continue
		}
		seen[sr.Evidence.ScreenshotPath] = true
		uri, err := m.UploadEvidence(ctx, result.RunID, sr.Evidence.ScreenshotPath)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		uris = append(uris, uri)
	}

	return uris, errors.Join(errs...)
}

// PresignedURL returns a time-limited download URL for a stored object key.
func (m *MinIOStore) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	url, err := m.client.PresignedGetObject(ctx, m.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("generating presigned URL: %w", err)
	}
	return url.String(), nil
}

// ListRunArtifacts lists the stored evidence keys for one run.
func (m *MinIOStore) ListRunArtifacts(ctx context.Context, runID uuid.UUID) ([]string, error) {
	var keys []string
	prefix := path.Join(m.screenshotPath, runID.String()) + "/"
	for object := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, object.Err
		}
		keys = append(keys, object.Key)
	}
	return keys, nil
}

func (m *MinIOStore) put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", m.bucket, key), nil
}

func contentTypeFor(name string) string {
	switch filepath.Ext(name) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
