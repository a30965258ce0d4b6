// Package archive copies exported PDFs into S3-compatible object storage so
// exports survive outside the API process. Uploads are best effort; a failed
// upload never fails the export that produced it.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Service uploads export artifacts to a single bucket.
type Service struct {
	client *minio.Client
	bucket string
	log    *zap.SugaredLogger
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, cfg Config, log *zap.SugaredLogger) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
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

	return &Service{client: client, bucket: cfg.Bucket, log: log}, nil
}

// StorePDF uploads one exported PDF under exports/<docID>/<timestamp>-<name>
// and returns the object key.
func (s *Service) StorePDF(ctx context.Context, docID, filename string, data []byte) (string, error) {
	key := path.Join("exports", docID, fmt.Sprintf("%d-%s", time.Now().Unix(), filename))

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/pdf"})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}

// StorePDFAsync uploads in the background and logs the outcome.
func (s *Service) StorePDFAsync(docID, filename string, data []byte) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		key, err := s.StorePDF(ctx, docID, filename, data)
		if err != nil {
			s.log.Warnw("archive pdf failed", "doc", docID, "error", err)
			return
		}
		s.log.Infow("archived pdf", "doc", docID, "key", key)
	}()
}
