package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dcmigrate/internal/migration"
	"dcmigrate/internal/stage"

	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultTimeout      = time.Hour
)

// ErrDeploymentTimeout is recorded when a deployment does not settle in time
var ErrDeploymentTimeout = errors.New("migration stack deployment timed out")

// Config controls migration stack provisioning
type Config struct {
	Template     string
	StackName    string
	Params       map[string]any
	PollInterval time.Duration
	Timeout      time.Duration
}

// Service provisions the migration stack and moves the migration from
// PROVISION_MIGRATION_STACK to FS_MIGRATION_COPY
type Service struct {
	config   Config
	deployer Deployer
	stages   migration.StageStore
	logger   *zap.Logger
}

// NewService creates the provisioning service
func NewService(config Config, deployer Deployer, stages migration.StageStore, logger *zap.Logger) *Service {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &Service{
		config:   config,
		deployer: deployer,
		stages:   stages,
		logger:   logger,
	}
}

// ProvisionMigrationStack deploys the stack and waits for it to settle. It
// fails with a *stage.InvalidStageError unless the migration is in
// PROVISION_MIGRATION_STACK.
func (s *Service) ProvisionMigrationStack(ctx context.Context) error {
	if err := s.stages.Transition(stage.ProvisionMigrationStack, stage.ProvisionMigrationStackWait); err != nil {
		return err
	}

	params := FlattenParams(s.config.Params)
	if err := s.deployer.Deploy(ctx, s.config.Template, s.config.StackName, params); err != nil {
		return s.fail(fmt.Errorf("failed to deploy migration stack: %w", err))
	}

	status, err := s.await(ctx)
	if err != nil {
		return s.fail(err)
	}
	if status.State == StateCreateFailed {
		return s.fail(fmt.Errorf("migration stack deployment failed: %s", status.Reason))
	}

	s.logger.Info("Migration stack deployed", zap.String("stack", s.config.StackName))
	return s.stages.Transition(stage.ProvisionMigrationStackWait, stage.FsMigrationCopy)
}

// await polls the deployment until it leaves CREATE_IN_PROGRESS
func (s *Service) await(ctx context.Context) (DeploymentStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		status, err := s.deployer.Status(ctx, s.config.StackName)
		if err != nil {
			return DeploymentStatus{}, fmt.Errorf("failed to read deployment status: %w", err)
		}
		if status.State != StateCreateInProgress {
			return status, nil
		}
		s.logger.Debug("Waiting for migration stack", zap.String("stack", s.config.StackName))

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return DeploymentStatus{}, ErrDeploymentTimeout
			}
			return DeploymentStatus{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) fail(err error) error {
	if stageErr := s.stages.Error(err); stageErr != nil {
		s.logger.Error("Failed to move migration to error stage", zap.Error(stageErr))
	}
	return err
}
