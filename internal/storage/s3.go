package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/lokeshdeshmukh/face-swap-ai/internal/domain"
)

// S3Options configures the S3-compatible backend.
type S3Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// S3Store persists assets in an S3-compatible bucket. Workers fetch inputs
// through presigned GET URLs and push outputs through a presigned PUT, so
// large media never streams through this process twice.
type S3Store struct {
	client *minio.Client
	bucket string
}

// NewS3Store connects to the endpoint and ensures the bucket exists.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("storage: s3 endpoint and bucket are required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: connect s3: %w", err)
	}
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("storage: create bucket: %w", err)
		}
	}
	return &S3Store{client: client, bucket: opts.Bucket}, nil
}

// SaveUpload stores one received input file under uploads/<job>/<name>.
func (s *S3Store) SaveUpload(ctx context.Context, jobID, filename string, data []byte, contentType string) (string, error) {
	return s.put(ctx, uploadKey(jobID, filename), data, contentType)
}

// SaveOutput stores a produced artifact under outputs/<job>/<name>.
func (s *S3Store) SaveOutput(ctx context.Context, jobID, filename string, data []byte, contentType string) (string, error) {
	return s.put(ctx, outputKey(jobID, filename), data, contentType)
}

// AssetURL mints a presigned GET for ref valid for ttl.
func (s *S3Store) AssetURL(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, ref, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("storage: presign get: %w", err)
	}
	return u.String(), nil
}

// OutputTarget mints a presigned PUT the worker uploads its result to,
// together with a presigned GET and the key to record on the job.
func (s *S3Store) OutputTarget(ctx context.Context, jobID, filename string, ttl time.Duration) (*UploadTarget, error) {
	key := outputKey(jobID, filename)
	put, err := s.client.PresignedPutObject(ctx, s.bucket, key, ttl)
	if err != nil {
		return nil, fmt.Errorf("storage: presign put: %w", err)
	}
	get, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return nil, fmt.Errorf("storage: presign get: %w", err)
	}
	return &UploadTarget{UploadURL: put.String(), OutputURL: get.String(), OutputRef: key}, nil
}

// Open streams a stored ref. Missing keys map to ErrNotFound.
func (s *S3Store) Open(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	stat, err := s.client.StatObject(ctx, s.bucket, ref, minio.StatObjectOptions{})
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
			return nil, "", domain.ErrNotFound
		}
		return nil, "", fmt.Errorf("storage: stat object: %w", err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("storage: get object: %w", err)
	}
	contentType := stat.ContentType
	if contentType == "" {
		contentType = ContentTypeFor(ref)
	}
	return obj, contentType, nil
}

func (s *S3Store) put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = ContentTypeFor(key)
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("storage: put object: %w", err)
	}
	return key, nil
}
