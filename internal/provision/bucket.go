package provision

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// BucketAPI is the part of the storage client the bucket deployer needs
type BucketAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket, region string) error
}

// BucketParam names the template parameter holding the bucket name
const BucketParam = "MigrationBucketName"

// BucketDeployer provisions the migration stack as an object storage
// bucket. The template only labels the deployment.
type BucketDeployer struct {
	client BucketAPI
	region string
	logger *zap.Logger

	mu          sync.Mutex
	deployments map[string]DeploymentStatus
}

// NewBucketDeployer creates a deployer creating buckets in region
func NewBucketDeployer(client BucketAPI, region string, logger *zap.Logger) *BucketDeployer {
	return &BucketDeployer{
		client:      client,
		region:      region,
		logger:      logger,
		deployments: make(map[string]DeploymentStatus),
	}
}

// Deploy ensures the bucket named by params[BucketParam], or id when unset,
// exists
func (d *BucketDeployer) Deploy(ctx context.Context, template, id string, params map[string]string) error {
	bucket := params[BucketParam]
	if bucket == "" {
		bucket = id
	}

	d.setStatus(id, DeploymentStatus{State: StateCreateInProgress})
	d.logger.Info("Deploying migration bucket",
		zap.String("template", template),
		zap.String("id", id),
		zap.String("bucket", bucket),
		zap.Strings("params", sortedKeys(params)),
	)

	exists, err := d.client.BucketExists(ctx, bucket)
	if err != nil {
		d.setStatus(id, DeploymentStatus{State: StateCreateFailed, Reason: err.Error()})
		return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := d.client.MakeBucket(ctx, bucket, d.region); err != nil {
			d.setStatus(id, DeploymentStatus{State: StateCreateFailed, Reason: err.Error()})
			return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}

	d.setStatus(id, DeploymentStatus{State: StateCreateComplete})
	return nil
}

// Status reports the state of a deployment
func (d *BucketDeployer) Status(_ context.Context, id string) (DeploymentStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.deployments[id]
	if !ok {
		return DeploymentStatus{}, fmt.Errorf("unknown deployment %q", id)
	}
	return s, nil
}

func (d *BucketDeployer) setStatus(id string, s DeploymentStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deployments[id] = s
}
