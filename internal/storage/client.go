package storage

import (
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Client defines the S3-compatible operations the migration needs from the
// target object store
type Client interface {
	// Object operations
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts PutOptions) error
	HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error)

	// Multipart operations
	NewMultipartUpload(ctx context.Context, bucket, key string, opts PutOptions) (string, error)
	UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, reader io.Reader, size int64) (string, error)
	CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) error
	AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error

	// Bucket operations
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket, region string) error
}

// ObjectInfo contains object metadata
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
	Metadata     map[string]string
}

// PutOptions contains options for put operations
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// CompletedPart represents a completed multipart upload part
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// Config contains client configuration. Creds takes precedence over the
// static key pair when set.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Region    string
	Creds     *credentials.Credentials
}
