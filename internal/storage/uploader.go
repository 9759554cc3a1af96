package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Uploader copies a single local file to the target object store
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) error
}

// UploaderConfig controls where and how files are written
type UploaderConfig struct {
	Bucket             string
	Prefix             string
	MultipartThreshold int64
	PartSize           int64
}

// S3Uploader uploads files through a Client, switching to multipart uploads
// for large files. Every upload runs through a circuit breaker so that a dead
// endpoint fails fast instead of tying up every worker in timeouts.
type S3Uploader struct {
	client  Client
	config  UploaderConfig
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewS3Uploader creates an uploader for the configured bucket
func NewS3Uploader(client Client, cfg UploaderConfig, breaker *gobreaker.CircuitBreaker, logger *zap.Logger) *S3Uploader {
	if cfg.PartSize <= 0 {
		cfg.PartSize = 64 * 1024 * 1024
	}
	if cfg.MultipartThreshold <= 0 {
		cfg.MultipartThreshold = cfg.PartSize
	}
	if breaker == nil {
		breaker = NewCircuitBreaker("s3-upload")
	}
	return &S3Uploader{
		client:  client,
		config:  cfg,
		breaker: breaker,
		logger:  logger,
	}
}

// NewCircuitBreaker returns a breaker that trips after 5 consecutive failures
// and probes again after 30 seconds in the open state.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return NewCircuitBreakerWithTimeout(name, 30*time.Second)
}

// NewCircuitBreakerWithTimeout is NewCircuitBreaker with a custom open-state
// duration. Only errors that say something about the endpoint count as
// failures; see countsAgainstEndpoint.
func NewCircuitBreakerWithTimeout(name string, timeout time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !countsAgainstEndpoint(err)
		},
	})
}

// LocalFileError is a failure reading the source file; it says nothing about
// the target store.
type LocalFileError struct {
	Path string
	Err  error
}

func (e *LocalFileError) Error() string {
	return fmt.Sprintf("failed to read %s: %v", e.Path, e.Err)
}

func (e *LocalFileError) Unwrap() error { return e.Err }

// countsAgainstEndpoint reports whether err points at an unhealthy target.
// Local read errors, cancellations and 4xx rejections of a single object do
// not, except for request timeouts and throttling.
func countsAgainstEndpoint(err error) bool {
	var local *LocalFileError
	if errors.As(err, &local) || errors.Is(err, context.Canceled) {
		return false
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) && resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return resp.StatusCode == http.StatusRequestTimeout ||
			resp.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// ErrCircuitOpen is returned while the target store is considered unavailable
var ErrCircuitOpen = errors.New("target storage circuit open")

// ObjectKey maps a relative file key to its key in the bucket
func (u *S3Uploader) ObjectKey(key string) string {
	key = filepath.ToSlash(key)
	if u.config.Prefix == "" {
		return key
	}
	return path.Join(u.config.Prefix, key)
}

// Upload copies localPath to key under the configured prefix
func (u *S3Uploader) Upload(ctx context.Context, localPath, key string) error {
	_, err := u.breaker.Execute(func() (interface{}, error) {
		return nil, u.upload(ctx, localPath, u.ObjectKey(key))
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}

func (u *S3Uploader) upload(ctx context.Context, localPath, objectKey string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return &LocalFileError{Path: localPath, Err: err}
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return &LocalFileError{Path: localPath, Err: err}
	}

	opts := PutOptions{ContentType: contentType(localPath)}

	if info.Size() < u.config.MultipartThreshold {
		return u.client.PutObject(ctx, u.config.Bucket, objectKey, file, info.Size(), opts)
	}
	return u.uploadMultipart(ctx, objectKey, file, info.Size(), opts)
}

func (u *S3Uploader) uploadMultipart(ctx context.Context, objectKey string, file *os.File, size int64, opts PutOptions) error {
	bucket := u.config.Bucket

	uploadID, err := u.client.NewMultipartUpload(ctx, bucket, objectKey, opts)
	if err != nil {
		return fmt.Errorf("failed to initiate multipart upload: %w", err)
	}

	partSize := u.config.PartSize
	partCount := int(math.Ceil(float64(size) / float64(partSize)))
	parts := make([]CompletedPart, 0, partCount)

	abort := func() {
		// ctx may already be cancelled; the abort must still reach the store
		abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := u.client.AbortMultipartUpload(abortCtx, bucket, objectKey, uploadID); err != nil {
			u.logger.Warn("Failed to abort multipart upload",
				zap.String("key", objectKey),
				zap.String("upload_id", uploadID),
				zap.Error(err),
			)
		}
	}

	buf := make([]byte, partSize)
	for partNum := 1; partNum <= partCount; partNum++ {
		n, err := io.ReadFull(file, buf)
		if err != nil && err != io.ErrUnexpectedEOF {
			abort()
			return fmt.Errorf("part %d: %w", partNum, &LocalFileError{Path: file.Name(), Err: err})
		}

		etag, err := u.client.UploadPart(ctx, bucket, objectKey, uploadID, partNum,
			bytes.NewReader(buf[:n]), int64(n))
		if err != nil {
			abort()
			return fmt.Errorf("failed to upload part %d: %w", partNum, err)
		}

		parts = append(parts, CompletedPart{
			PartNumber: partNum,
			ETag:       etag,
		})
	}

	if err := u.client.CompleteMultipartUpload(ctx, bucket, objectKey, uploadID, parts); err != nil {
		abort()
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return nil
}

func contentType(localPath string) string {
	if ct := mime.TypeByExtension(filepath.Ext(localPath)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
