package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"sync"
	"time"

	"dcmigrate/internal/api"
	"dcmigrate/internal/config"
	"dcmigrate/internal/credentials"
	"dcmigrate/internal/crypto"
	"dcmigrate/internal/db"
	"dcmigrate/internal/fs"
	"dcmigrate/internal/job"
	"dcmigrate/internal/metrics"
	"dcmigrate/internal/migration"
	"dcmigrate/internal/modal"
	"dcmigrate/internal/progress"
	"dcmigrate/internal/provision"
	"dcmigrate/internal/stage"
	"dcmigrate/internal/storage"
	"dcmigrate/internal/store"

	minioCredentials "github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Dependencies are the external collaborators of a Migrator
type Dependencies struct {
	Store       store.Store
	Credentials *credentials.Storage
	Uploader    storage.Uploader
	DBUploader  storage.Uploader
	Extractor   db.Extractor
	Deployer    provision.Deployer
}

// Migrator represents the main migration application
type Migrator struct {
	cfg         *config.Config
	logger      *zap.Logger
	store       store.Store
	credentials *credentials.Storage
	stages      *migration.Service
	metrics     *metrics.Collector
	modal       *modal.Worker
	fs          *fs.Service
	db          *db.Service
	provision   *provision.Service
	scheduler   *job.Scheduler

	closeOnce sync.Once
}

// New creates a migrator backed by the state database, the target object
// store and pg_dump
func New(cfg *config.Config, logger *zap.Logger) (*Migrator, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	// Create state store
	stateStore, err := store.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to create state store: %w", err)
	}

	credStorage, client, err := openTarget(cfg, stateStore)
	if err != nil {
		stateStore.Close()
		return nil, err
	}

	fsUploaderConfig := uploaderConfig(cfg)
	dbUploaderConfig := fsUploaderConfig
	dbUploaderConfig.Prefix = path.Join(cfg.Target.Prefix, cfg.Database.Prefix)

	m, err := NewWithDependencies(cfg, logger, Dependencies{
		Store:       stateStore,
		Credentials: credStorage,
		Uploader:    storage.NewS3Uploader(client, fsUploaderConfig, storage.NewCircuitBreaker("fs-upload"), logger.Named("upload")),
		DBUploader:  storage.NewS3Uploader(client, dbUploaderConfig, storage.NewCircuitBreaker("db-upload"), logger.Named("db-upload")),
		Extractor: db.NewPgDumpExtractor(cfg.Database.PgDump, cfg.Database.Args, cfg.Database.Jobs, db.Connection{
			Name:     cfg.Database.Name,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Username: cfg.Database.Username,
			Password: cfg.Database.Password,
		}, logger.Named("pg_dump")),
		Deployer: provision.NewBucketDeployer(client, cfg.Target.Region, logger.Named("deployer")),
	})
	if err != nil {
		stateStore.Close()
		return nil, err
	}
	return m, nil
}

// openTarget builds the target client. Configured keys win over stored and
// ambient credentials.
func openTarget(cfg *config.Config, settings store.Settings) (*credentials.Storage, *storage.MinIOClient, error) {
	encrypter, err := crypto.NewEncryptionManager(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise encryption: %w", err)
	}
	credStorage := credentials.NewStorage(settings, encrypter)

	var creds *minioCredentials.Credentials
	if cfg.Target.AccessKey != "" {
		creds = minioCredentials.NewStaticV4(cfg.Target.AccessKey, cfg.Target.SecretKey, "")
	} else {
		creds = credentials.Provider(credStorage)
	}

	client, err := storage.NewMinIOClient(storage.Config{
		Endpoint: cfg.Target.Endpoint,
		Secure:   cfg.Target.Secure,
		Region:   cfg.Target.Region,
		Creds:    creds,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create target client: %w", err)
	}
	return credStorage, client, nil
}

func uploaderConfig(cfg *config.Config) storage.UploaderConfig {
	return storage.UploaderConfig{
		Bucket:             cfg.Target.Bucket,
		Prefix:             cfg.Target.Prefix,
		MultipartThreshold: cfg.Transfer.MultipartThreshold,
		PartSize:           cfg.Transfer.PartSize,
	}
}

func transferConfig(cfg *config.Config) fs.Config {
	return fs.Config{
		Workers:        cfg.Transfer.Workers,
		QueueSize:      cfg.Transfer.QueueSize,
		Retries:        cfg.Transfer.Retries,
		RetryBackoffMs: cfg.Transfer.RetryBackoffMs,
		SkipUnchanged:  cfg.Transfer.SkipUnchanged,
	}
}

// NewWithDependencies wires a migrator around the given collaborators
func NewWithDependencies(cfg *config.Config, logger *zap.Logger, deps Dependencies) (*Migrator, error) {
	metricsCollector := metrics.New()

	stages := migration.NewService(deps.Store, logger.Named("stage"))
	stages.OnTransition(func(from, to stage.Stage) {
		metricsCollector.SetStage(to.String())
	})
	if current, err := stages.CurrentStage(); err == nil {
		metricsCollector.SetStage(current.String())
	}

	worker := modal.NewWorker(deps.Store, stages, logger.Named("modal"))
	if cfg.Mode != "" {
		mode, err := modal.ParseMode(cfg.Mode)
		if err != nil {
			return nil, err
		}
		if err := worker.SetMode(mode); err != nil {
			return nil, err
		}
	}

	transfer := transferConfig(cfg)

	params := make(map[string]any, len(cfg.Provision.Params)+1)
	for k, v := range cfg.Provision.Params {
		params[k] = v
	}
	if _, ok := params[provision.BucketParam]; !ok {
		params[provision.BucketParam] = cfg.Target.Bucket
	}

	m := &Migrator{
		cfg:         cfg,
		logger:      logger,
		store:       deps.Store,
		credentials: deps.Credentials,
		stages:      stages,
		metrics:     metricsCollector,
		modal:       worker,
		fs: fs.NewService(cfg.Source.Home, transfer, stages, deps.Uploader, deps.Store,
			metricsCollector, logger.Named("fs")),
		db: db.NewService(cfg.Database.DumpDir, deps.Extractor, stages, deps.DBUploader, deps.Store,
			transfer, metricsCollector, logger.Named("db")),
		provision: provision.NewService(provision.Config{
			Template:     cfg.Provision.Template,
			StackName:    cfg.Provision.StackName,
			Params:       params,
			PollInterval: cfg.Provision.PollInterval,
			Timeout:      cfg.Provision.Timeout,
		}, deps.Deployer, stages, logger.Named("provision")),
		scheduler: job.NewScheduler(logger.Named("scheduler")),
	}

	for _, r := range m.runners() {
		m.scheduler.Register(r, cfg.Scheduler.Interval)
	}
	return m, nil
}

// runners builds one single-flight job per phase. The mode decision happens
// inside the job so a bypass never races real work of the same kind.
func (m *Migrator) runners() []*job.Runner {
	phase := func(kind job.Kind, work modal.Work, expected, passThrough stage.Stage) *job.Runner {
		body := func(ctx context.Context) error {
			return m.modal.RunAccordingToMode(ctx, work, expected, passThrough)
		}
		return job.NewRunner(kind, body, m.metrics, m.logger.Named(string(kind)))
	}
	return []*job.Runner{
		phase(job.KindProvisionStack, m.provision.ProvisionMigrationStack,
			stage.ProvisionMigrationStack, stage.FsMigrationCopy),
		phase(job.KindFsMigration, m.fs.StartMigration,
			stage.FsMigrationCopy, stage.OfflineWarning),
		phase(job.KindDbMigration, m.db.PerformMigration,
			stage.DbMigrationExport, stage.DataMigrationImport),
	}
}

// StartMigration creates a migration. It returns false if one already exists.
func (m *Migrator) StartMigration() (bool, error) {
	return m.stages.CreateMigration()
}

// CurrentStage returns the stage of the migration
func (m *Migrator) CurrentStage() (stage.Stage, error) {
	return m.stages.CurrentStage()
}

// CurrentMigration returns the migration record
func (m *Migrator) CurrentMigration() (migration.Migration, error) {
	return m.stages.CurrentMigration()
}

// RequestTransition moves the migration from one stage to another and nudges
// the job owning the new stage
func (m *Migrator) RequestTransition(from, to stage.Stage) error {
	if err := m.stages.Transition(from, to); err != nil {
		return err
	}
	switch to {
	case stage.ProvisionMigrationStack:
		m.scheduler.Trigger(job.KindProvisionStack)
	case stage.FsMigrationCopy:
		m.scheduler.Trigger(job.KindFsMigration)
	case stage.DbMigrationExport:
		m.scheduler.Trigger(job.KindDbMigration)
	}
	return nil
}

// ProgressReport returns the filesystem migration progress
func (m *Migrator) ProgressReport() progress.Snapshot {
	return m.fs.Report().Snapshot()
}

// DatabaseStatus returns the database phase status
func (m *Migrator) DatabaseStatus() db.Status {
	return m.db.Status()
}

// AbortMigration aborts a running filesystem migration
func (m *Migrator) AbortMigration() error {
	return m.fs.AbortMigration()
}

// Mode returns the operating mode
func (m *Migrator) Mode() (modal.Mode, error) {
	return m.modal.Mode()
}

// SetMode changes the operating mode
func (m *Migrator) SetMode(mode modal.Mode) error {
	return m.modal.SetMode(mode)
}

// StoreCredentials saves target credentials encrypted in the state store
func (m *Migrator) StoreCredentials(accessKeyID, secretAccessKey string) error {
	if m.credentials == nil {
		return errors.New("credential storage is not configured")
	}
	return m.credentials.Store(accessKeyID, secretAccessKey)
}

// Reset deletes the migration record and all file checkpoints
func (m *Migrator) Reset() error {
	if m.fs.IsRunning() {
		return &stage.InvalidStageError{
			Expected: stage.NotStarted,
			Actual:   stage.FsMigrationCopyWait,
			Prefix:   "cannot reset while the filesystem migration is running",
		}
	}
	if err := m.stages.Reset(); err != nil {
		return err
	}
	if err := m.store.ResetFiles(); err != nil {
		return fmt.Errorf("failed to reset file checkpoints: %w", err)
	}
	m.metrics.SetStage(stage.NotStarted.String())
	return nil
}

// Metrics exposes the collector
func (m *Migrator) Metrics() *metrics.Collector {
	return m.metrics
}

// Run serves the API and runs the phase jobs until ctx is done
func (m *Migrator) Run(ctx context.Context) error {
	current, err := m.stages.CurrentStage()
	if err != nil {
		return err
	}
	m.logger.Info("Starting migration service",
		zap.String("stage", current.String()),
		zap.String("home", m.cfg.Source.Home),
		zap.String("bucket", m.cfg.Target.Bucket),
		zap.Int("workers", m.cfg.Transfer.Workers),
	)

	if m.cfg.Server.MetricsAddr != "" {
		// Start metrics server in a goroutine with error handling
		go func() {
			if err := m.metrics.StartServer(m.cfg.Server.MetricsAddr); err != nil {
				m.logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	var server *http.Server
	if m.cfg.Server.APIAddr != "" {
		router := api.NewRouter(m, m.metrics.Handler(), m.logger.Named("api"))
		server = &http.Server{
			Addr:              m.cfg.Server.APIAddr,
			Handler:           router.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			m.logger.Info("API listening", zap.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				m.logger.Error("API server failed", zap.Error(err))
			}
		}()
	}

	m.scheduler.Run(ctx)

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			m.logger.Warn("API shutdown failed", zap.Error(err))
		}
	}

	m.logger.Info("Migration service stopped")
	return nil
}

// Close cleans up resources
func (m *Migrator) Close() error {
	var err error
	m.closeOnce.Do(func() {
		if m.store != nil {
			err = m.store.Close()
		}
	})
	return err
}
