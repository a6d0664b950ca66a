package s3storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/LeadVault/internal/config"
)

const reportContentType = "text/csv; charset=utf-8"

// Storage wraps MinIO/S3 interactions for raw uploads and error reports.
type Storage struct {
	client       *minio.Client
	rawBucket    string
	reportBucket string
	region       string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:       client,
		rawBucket:    cfg.RawBucket,
		reportBucket: cfg.ReportBucket,
		region:       cfg.S3Region,
	}, nil
}

// EnsureBuckets makes sure the upload and report buckets exist before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.rawBucket, s.reportBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// UploadRaw stores the uploaded spreadsheet as received. A negative size lets
// minio stream with multipart.
func (s *Storage) UploadRaw(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	if size <= 0 {
		size = -1
	}
	opts := minio.PutObjectOptions{ContentType: contentType}
	_, err := s.client.PutObject(ctx, s.rawBucket, objectKey, reader, size, opts)
	if err != nil {
		return fmt.Errorf("upload raw object: %w", err)
	}
	return nil
}

// UploadReport writes a batch error report into the report bucket.
func (s *Storage) UploadReport(ctx context.Context, objectKey string, data []byte) error {
	reader := bytes.NewReader(data)
	opts := minio.PutObjectOptions{ContentType: reportContentType}
	_, err := s.client.PutObject(ctx, s.reportBucket, objectKey, reader, int64(len(data)), opts)
	if err != nil {
		return fmt.Errorf("upload report object: %w", err)
	}
	return nil
}

// DeleteRaw removes an upload that no batch refers to.
func (s *Storage) DeleteRaw(ctx context.Context, objectKey string) error {
	if err := s.client.RemoveObject(ctx, s.rawBucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove raw object: %w", err)
	}
	return nil
}

func (s *Storage) DownloadRaw(ctx context.Context, objectKey string) ([]byte, error) {
	return s.download(ctx, s.rawBucket, objectKey)
}

func (s *Storage) DownloadReport(ctx context.Context, objectKey string) ([]byte, error) {
	return s.download(ctx, s.reportBucket, objectKey)
}

func (s *Storage) download(ctx context.Context, bucket, objectKey string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, objectKey, err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", bucket, objectKey, err)
	}
	return buf, nil
}

// PresignReportURL returns a signed GET URL for an error report.
func (s *Storage) PresignReportURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", path.Base(objectKey)))
	u, err := s.client.PresignedGetObject(ctx, s.reportBucket, objectKey, ttl, params)
	if err != nil {
		return "", fmt.Errorf("presign report object: %w", err)
	}
	return u.String(), nil
}
