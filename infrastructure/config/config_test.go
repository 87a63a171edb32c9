package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("POLICY_SOURCE", "")
	t.Setenv("POLICY_CACHE_TTL", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, cfg.StorageBackend)
	assert.Equal(t, PolicySourceMemory, cfg.Policy.Source)
	assert.Equal(t, 60*time.Second, cfg.Policy.CacheTTL)
	assert.Equal(t, 2*time.Second, cfg.Policy.SourceTimeout)
	assert.False(t, cfg.UsesDynamoDB())
	assert.Empty(t, cfg.LoadedFrom)
}

func TestLoadConfig_FileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage_backend: badger
badger_path: /var/lib/designgraph
policy:
  source: file
  file: /etc/designgraph/policies.yaml
  cache_ttl: 30s
enable_events: true
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("POLICY_SOURCE", "")
	t.Setenv("POLICY_CACHE_TTL", "")
	t.Setenv("BADGER_PATH", "/tmp/override")
	t.Setenv("POLICY_SOURCE_TIMEOUT", "5")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, path, cfg.LoadedFrom)
	assert.Equal(t, StorageBadger, cfg.StorageBackend)
	assert.Equal(t, "/tmp/override", cfg.BadgerPath)
	assert.Equal(t, PolicySourceFile, cfg.Policy.Source)
	assert.Equal(t, 30*time.Second, cfg.Policy.CacheTTL)
	assert.Equal(t, 5*time.Second, cfg.Policy.SourceTimeout)
	assert.True(t, cfg.EnableEvents)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown backend", func(c *Config) { c.StorageBackend = "postgres" }, `unknown STORAGE_BACKEND "postgres"`},
		{"badger without path", func(c *Config) {
			c.StorageBackend = StorageBadger
			c.BadgerPath = ""
		}, "BADGER_PATH is required for the badger backend"},
		{"file source without file", func(c *Config) { c.Policy.Source = PolicySourceFile }, "POLICY_FILE is required when POLICY_SOURCE=file"},
		{"badger source without badger storage", func(c *Config) { c.Policy.Source = PolicySourceBadger }, "POLICY_SOURCE=badger requires STORAGE_BACKEND=badger"},
		{"unknown shared tier", func(c *Config) { c.Policy.SharedTier = "redis" }, `unknown POLICY_SHARED_TIER "redis"`},
		{"zero ttl", func(c *Config) { c.Policy.CacheTTL = 0 }, "POLICY_CACHE_TTL must be positive"},
		{"memory in production", func(c *Config) { c.Environment = "production" }, "the memory backend is not allowed in production"},
		{"dynamodb in production", func(c *Config) {
			c.Environment = "production"
			c.StorageBackend = StorageDynamoDB
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestUsesDynamoDB(t *testing.T) {
	cfg := defaultConfig()
	cfg.Policy.SharedTier = SharedTierDynamoDB
	assert.True(t, cfg.UsesDynamoDB())
}
