// Package s3storage keeps mobile uploads in S3-compatible object storage:
// the phone's original bytes in one bucket, the normalized JPEG the widget
// pulls in another.
package s3storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Options locates the object store and names the two buckets.
type Options struct {
	Endpoint         string
	AccessKey        string
	SecretKey        string
	Region           string
	UseSSL           bool
	RawBucket        string
	NormalizedBucket string
}

// Storage wraps the MinIO client.
type Storage struct {
	client  *minio.Client
	region  string
	buckets map[kind]string
}

type kind int

const (
	raw kind = iota
	normalized
)

func (k kind) String() string {
	if k == raw {
		return "raw"
	}
	return "normalized"
}

// New connects to the object store. No request is made until first use.
func New(opts Options) (*Storage, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:  client,
		region:  opts.Region,
		buckets: map[kind]string{raw: opts.RawBucket, normalized: opts.NormalizedBucket},
	}, nil
}

// EnsureBuckets creates missing buckets.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, k := range []kind{raw, normalized} {
		bucket := s.buckets[k]
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check %s bucket %q: %w", k, bucket, err)
		}
		if exists {
			continue
		}
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("create %s bucket %q: %w", k, bucket, err)
		}
	}
	return nil
}

// UploadRaw streams a phone upload of known size.
func (s *Storage) UploadRaw(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	return s.put(ctx, raw, objectKey, reader, size, contentType)
}

// DownloadRaw reads a phone upload back for normalization.
func (s *Storage) DownloadRaw(ctx context.Context, objectKey string) ([]byte, error) {
	return s.get(ctx, raw, objectKey)
}

// UploadNormalized stores the compressed rendition.
func (s *Storage) UploadNormalized(ctx context.Context, objectKey string, data []byte, contentType string) error {
	return s.put(ctx, normalized, objectKey, bytes.NewReader(data), int64(len(data)), contentType)
}

// DownloadNormalized reads a rendition for listings that inline bytes.
func (s *Storage) DownloadNormalized(ctx context.Context, objectKey string) ([]byte, error) {
	return s.get(ctx, normalized, objectKey)
}

// PresignNormalizedURL returns a time-limited GET URL for a rendition.
func (s *Storage) PresignNormalizedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.buckets[normalized], objectKey, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", objectKey, err)
	}
	return u.String(), nil
}

func (s *Storage) put(ctx context.Context, k kind, objectKey string, r io.Reader, size int64, contentType string) error {
	if _, err := s.client.PutObject(ctx, s.buckets[k], objectKey, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("put %s object %s: %w", k, objectKey, err)
	}
	return nil
}

func (s *Storage) get(ctx context.Context, k kind, objectKey string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.buckets[k], objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s object %s: %w", k, objectKey, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read %s object %s: %w", k, objectKey, err)
	}
	return data, nil
}
