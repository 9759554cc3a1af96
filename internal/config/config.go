package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dcmigrate/internal/modal"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Source       Source    `yaml:"source"`
	Target       Target    `yaml:"target"`
	Transfer     Transfer  `yaml:"transfer"`
	Database     Database  `yaml:"database"`
	Provision    Provision `yaml:"provision"`
	Scheduler    Scheduler `yaml:"scheduler"`
	Server       Server    `yaml:"server"`
	DataDir      string    `yaml:"data_dir"`
	Mode         string    `yaml:"mode"` // empty keeps the stored mode
	LogLevel     string    `yaml:"log_level"`
	ShowProgress bool      `yaml:"show_progress"`
}

// Source is the installation being migrated
type Source struct {
	Home string `yaml:"home"`
}

// Target represents the S3-compatible destination. Keys are optional; when
// unset the stored credentials or the default chain are used.
type Target struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
}

// Transfer controls the upload pipeline
type Transfer struct {
	Workers            int   `yaml:"workers"`
	QueueSize          int   `yaml:"queue_size"`
	MultipartThreshold int64 `yaml:"multipart_threshold"`
	PartSize           int64 `yaml:"part_size"`
	Retries            int   `yaml:"retries"`
	RetryBackoffMs     int   `yaml:"retry_backoff_ms"`
	SkipUnchanged      bool  `yaml:"skip_unchanged"`
}

// Database describes the source database and its export
type Database struct {
	PgDump   string   `yaml:"pg_dump"`
	Args     []string `yaml:"args"`
	Jobs     int      `yaml:"jobs"`
	Name     string   `yaml:"name"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	DumpDir  string   `yaml:"dump_dir"`
	Prefix   string   `yaml:"prefix"`
}

// Provision controls migration stack provisioning
type Provision struct {
	Template     string         `yaml:"template"`
	StackName    string         `yaml:"stack_name"`
	Params       map[string]any `yaml:"params"`
	PollInterval time.Duration  `yaml:"poll_interval"`
	Timeout      time.Duration  `yaml:"timeout"`
}

// Scheduler controls how often phase jobs are attempted
type Scheduler struct {
	Interval time.Duration `yaml:"interval"`
}

// Server holds listen addresses; an empty address disables the listener
type Server struct {
	APIAddr     string `yaml:"api_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Defaults returns the configuration used before any file or flag is applied
func Defaults() *Config {
	return &Config{
		LogLevel:     "info",
		DataDir:      "./data",
		ShowProgress: true,
		Transfer: Transfer{
			Workers:            16,
			QueueSize:          50,
			MultipartThreshold: 104857600, // 100MB
			PartSize:           67108864,  // 64MB
			Retries:            5,
			RetryBackoffMs:     500,
			SkipUnchanged:      true,
		},
		Database: Database{
			Jobs:   1,
			Port:   5432,
			Prefix: "database",
		},
		Provision: Provision{
			Template:     "migration-stack",
			StackName:    "dc-migration",
			PollInterval: 30 * time.Second,
			Timeout:      time.Hour,
		},
		Scheduler: Scheduler{Interval: time.Minute},
		Server: Server{
			APIAddr:     ":8081",
			MetricsAddr: "",
		},
	}
}

// RegisterFlags adds the flags Load understands to flags
func RegisterFlags(flags *pflag.FlagSet) {
	d := Defaults()

	flags.String("home", "", "Application home directory to migrate")

	flags.String("endpoint", "", "Target object store endpoint")
	flags.String("access-key", "", "Target access key")
	flags.String("secret-key", "", "Target secret key")
	flags.Bool("secure", false, "Use HTTPS for the target")
	flags.String("region", "", "Target region")
	flags.String("bucket", "", "Target bucket")
	flags.String("prefix", "", "Object key prefix for home files")

	flags.Int("workers", d.Transfer.Workers, "Number of concurrent upload workers")
	flags.Int("queue-size", d.Transfer.QueueSize, "Upload queue capacity")
	flags.Int64("multipart-threshold", d.Transfer.MultipartThreshold, "Multipart upload threshold in bytes")
	flags.Int64("part-size", d.Transfer.PartSize, "Multipart part size in bytes")
	flags.Int("retries", d.Transfer.Retries, "Maximum upload attempts per file")
	flags.Int("retry-backoff-ms", d.Transfer.RetryBackoffMs, "Initial retry backoff in milliseconds")
	flags.Bool("skip-unchanged", d.Transfer.SkipUnchanged, "Skip files already uploaded with the same size and mtime")

	flags.String("pg-dump", "", "pg_dump executable")
	flags.String("dump-dir", "", "Directory for the database export")

	flags.Duration("interval", d.Scheduler.Interval, "Interval between phase job attempts")
	flags.String("api-addr", d.Server.APIAddr, "REST API listen address")
	flags.String("metrics-addr", d.Server.MetricsAddr, "Standalone metrics listen address")

	flags.String("data-dir", d.DataDir, "Directory for the state database and key files")
	flags.String("mode", "", "Operating mode to apply at startup (default/passthrough/no-verify); empty keeps the stored mode")
	flags.String("log-level", d.LogLevel, "Log level (debug/info/warn/error)")
	flags.Bool("show-progress", d.ShowProgress, "Show progress display")
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Defaults()

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with command line flags
	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	if cfg.Database.DumpDir == "" {
		cfg.Database.DumpDir = filepath.Join(cfg.DataDir, "export")
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DatabasePath is the location of the state database
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "dcmigrate.db")
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	var err error
	str := func(name string, dst *string) {
		if err == nil && flags.Changed(name) {
			*dst, err = flags.GetString(name)
		}
	}
	boolean := func(name string, dst *bool) {
		if err == nil && flags.Changed(name) {
			*dst, err = flags.GetBool(name)
		}
	}
	integer := func(name string, dst *int) {
		if err == nil && flags.Changed(name) {
			*dst, err = flags.GetInt(name)
		}
	}
	integer64 := func(name string, dst *int64) {
		if err == nil && flags.Changed(name) {
			*dst, err = flags.GetInt64(name)
		}
	}

	str("home", &cfg.Source.Home)

	str("endpoint", &cfg.Target.Endpoint)
	str("access-key", &cfg.Target.AccessKey)
	str("secret-key", &cfg.Target.SecretKey)
	boolean("secure", &cfg.Target.Secure)
	str("region", &cfg.Target.Region)
	str("bucket", &cfg.Target.Bucket)
	str("prefix", &cfg.Target.Prefix)

	integer("workers", &cfg.Transfer.Workers)
	integer("queue-size", &cfg.Transfer.QueueSize)
	integer64("multipart-threshold", &cfg.Transfer.MultipartThreshold)
	integer64("part-size", &cfg.Transfer.PartSize)
	integer("retries", &cfg.Transfer.Retries)
	integer("retry-backoff-ms", &cfg.Transfer.RetryBackoffMs)
	boolean("skip-unchanged", &cfg.Transfer.SkipUnchanged)

	str("pg-dump", &cfg.Database.PgDump)
	str("dump-dir", &cfg.Database.DumpDir)

	if err == nil && flags.Changed("interval") {
		cfg.Scheduler.Interval, err = flags.GetDuration("interval")
	}
	str("api-addr", &cfg.Server.APIAddr)
	str("metrics-addr", &cfg.Server.MetricsAddr)

	str("data-dir", &cfg.DataDir)
	str("mode", &cfg.Mode)
	str("log-level", &cfg.LogLevel)
	boolean("show-progress", &cfg.ShowProgress)

	return err
}

func (c *Config) validate() error {
	if c.Source.Home == "" {
		return fmt.Errorf("source home is required")
	}

	if c.Target.Endpoint == "" {
		return fmt.Errorf("target endpoint is required")
	}
	if c.Target.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if (c.Target.AccessKey == "") != (c.Target.SecretKey == "") {
		return fmt.Errorf("target access key and secret key must be set together")
	}

	if c.Transfer.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.Transfer.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive")
	}
	if c.Transfer.PartSize < 5*1024*1024 { // 5MB minimum for S3
		return fmt.Errorf("part size must be at least 5MB")
	}
	if c.Transfer.Retries < 1 {
		return fmt.Errorf("retries must be at least 1")
	}

	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}
	if c.Mode != "" {
		if _, err := modal.ParseMode(c.Mode); err != nil {
			return err
		}
	}

	return nil
}
