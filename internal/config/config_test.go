package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
source:
  home: /var/atlassian/application-data/jira
target:
  endpoint: https://s3.example.com
  bucket: migration
  region: eu-west-1
transfer:
  workers: 4
database:
  host: db.internal
  name: jira
provision:
  poll_interval: 5s
  params:
    Subnets: [a, b]
mode: no-verify
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	return flags
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig), newFlags())
	require.NoError(t, err)

	assert.Equal(t, "/var/atlassian/application-data/jira", cfg.Source.Home)
	assert.Equal(t, "eu-west-1", cfg.Target.Region)
	assert.Equal(t, 4, cfg.Transfer.Workers)
	assert.Equal(t, 50, cfg.Transfer.QueueSize)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 5*time.Second, cfg.Provision.PollInterval)
	assert.Equal(t, time.Hour, cfg.Provision.Timeout)
	assert.Equal(t, []any{"a", "b"}, cfg.Provision.Params["Subnets"])
	assert.Equal(t, "no-verify", cfg.Mode)
	assert.Equal(t, filepath.Join("data", "export"), cfg.Database.DumpDir)
}

func TestFlagsOverrideFile(t *testing.T) {
	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--workers=8", "--bucket=other", "--interval=10s", "--data-dir=/srv/dcm"}))

	cfg, err := Load(writeConfig(t, sampleConfig), flags)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Transfer.Workers)
	assert.Equal(t, "other", cfg.Target.Bucket)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, "/srv/dcm/export", cfg.Database.DumpDir)
	assert.Equal(t, "/srv/dcm/dcmigrate.db", cfg.DatabasePath())
}

func TestUnchangedFlagsKeepFileValues(t *testing.T) {
	flags := newFlags()
	require.NoError(t, flags.Parse(nil))

	cfg, err := Load(writeConfig(t, sampleConfig), flags)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Transfer.Workers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing home", []string{"--endpoint=e", "--bucket=b"}, "source home is required"},
		{"missing endpoint", []string{"--home=/h", "--bucket=b"}, "target endpoint is required"},
		{"missing bucket", []string{"--home=/h", "--endpoint=e"}, "bucket is required"},
		{"half credentials", []string{"--home=/h", "--endpoint=e", "--bucket=b", "--access-key=a"}, "must be set together"},
		{"no workers", []string{"--home=/h", "--endpoint=e", "--bucket=b", "--workers=0"}, "workers must be positive"},
		{"small parts", []string{"--home=/h", "--endpoint=e", "--bucket=b", "--part-size=1024"}, "at least 5MB"},
		{"bad mode", []string{"--home=/h", "--endpoint=e", "--bucket=b", "--mode=yolo"}, "yolo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := newFlags()
			require.NoError(t, flags.Parse(tt.args))
			_, err := Load("", flags)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}
