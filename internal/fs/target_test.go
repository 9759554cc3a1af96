package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"dcmigrate/internal/metrics"
	"dcmigrate/internal/progress"
	"dcmigrate/internal/storage"
	"dcmigrate/internal/store"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// targetClient is an in-memory storage.Client. Keys containing "denied" are
// rejected with AccessDenied; the first outages calls fail with a 503.
type targetClient struct {
	mu      sync.Mutex
	objects map[string]int64
	outages int
	calls   int
}

func newTargetClient() *targetClient {
	return &targetClient{objects: make(map[string]int64)}
}

func (c *targetClient) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64, _ storage.PutOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.outages {
		return minio.ErrorResponse{StatusCode: 503, Code: "ServiceUnavailable", Message: "Service Unavailable"}
	}
	if strings.Contains(key, "denied") {
		return minio.ErrorResponse{StatusCode: 403, Code: "AccessDenied", Message: "Access Denied."}
	}
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return err
	}
	c.objects[bucket+"/"+key] = n
	return nil
}

func (c *targetClient) HeadObject(context.Context, string, string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, fmt.Errorf("not implemented")
}

func (c *targetClient) NewMultipartUpload(context.Context, string, string, storage.PutOptions) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (c *targetClient) UploadPart(context.Context, string, string, string, int, io.Reader, int64) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (c *targetClient) CompleteMultipartUpload(context.Context, string, string, string, []storage.CompletedPart) error {
	return fmt.Errorf("not implemented")
}

func (c *targetClient) AbortMultipartUpload(context.Context, string, string, string) error {
	return nil
}

func (c *targetClient) BucketExists(context.Context, string) (bool, error) { return true, nil }

func (c *targetClient) MakeBucket(context.Context, string, string) error { return nil }

func (c *targetClient) stored() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.objects)
}

func writeFiles(t *testing.T, root, prefix string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, fmt.Sprintf("%s-%d", prefix, i)), []byte("content"), 0o644))
	}
}

func newTargetPipeline(client storage.Client, target storage.UploaderConfig, report *progress.Report, cfg Config, timeout time.Duration) *Pipeline {
	uploader := storage.NewS3Uploader(client, target,
		storage.NewCircuitBreakerWithTimeout("test", timeout), zap.NewNop())
	return NewPipeline(cfg, uploader, store.NewMemoryStore(), report, metrics.New(), zap.NewNop())
}

func TestRejectedObjectsDoNotStopRemainingFiles(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a-denied", 5)
	writeFiles(t, root, "b-ok", 10)

	client := newTargetClient()
	report := progress.NewReport()
	report.Start()
	p := newTargetPipeline(client, storage.UploaderConfig{Bucket: "migration"}, report,
		Config{Workers: 1, QueueSize: 2, Retries: 3, RetryBackoffMs: 1}, 30*time.Second)

	require.NoError(t, p.Run(context.Background(), root))

	s := report.Snapshot()
	assert.Equal(t, int64(15), s.FilesFound)
	assert.Equal(t, int64(10), s.FilesMigrated)
	require.Equal(t, int64(5), s.ErrorCount)
	for _, failed := range s.Errors {
		assert.Contains(t, failed.Path, "a-denied")
		assert.NotContains(t, failed.Reason, "circuit")
	}
	assert.Equal(t, 10, client.stored())
}

func TestOpenCircuitIsWaitedOut(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "file", 3)

	client := newTargetClient()
	client.outages = 5
	report := progress.NewReport()
	report.Start()
	p := newTargetPipeline(client, storage.UploaderConfig{Bucket: "migration"}, report,
		Config{Workers: 1, QueueSize: 1, Retries: 5, RetryBackoffMs: 1, CircuitWait: 5 * time.Millisecond},
		20*time.Millisecond)

	require.NoError(t, p.Run(context.Background(), root))

	// the first file spends its attempts tripping the breaker; the rest
	// wait for it to close instead of failing
	s := report.Snapshot()
	assert.Equal(t, int64(2), s.FilesMigrated)
	require.Equal(t, int64(1), s.ErrorCount)
	assert.NotContains(t, s.Errors[0].Reason, "circuit")
	assert.Equal(t, 2, client.stored())
}
