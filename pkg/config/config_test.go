package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"MONGO_URL", "MONGO_DATABASE", "SOURCE_EXPORT_DIR",
	"NEO4J_URL", "NEO4J_USER", "NEO4J_TOKEN", "NEO4J_DATABASE", "DRY_RUN_OUTPUT",
	"SYNC_BATCH_SIZE", "SYNC_VERIFY", "SYNC_ENSURE_CONSTRAINTS",
	"PUSHGATEWAY_URL", "PUSHGATEWAY_JOB", "LOG_LEVEL",
}

// clearEnv blanks every key Load reads; t.Setenv restores them afterwards
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sansa", cfg.Source.Database)
	assert.Equal(t, "neo4j", cfg.Target.User)
	assert.Equal(t, "graph_snapshot.json", cfg.Target.OutputPath)
	assert.Equal(t, 100, cfg.Sync.BatchSize)
	assert.True(t, cfg.Sync.Verify)
	assert.False(t, cfg.Sync.EnsureConstraints)
	assert.Equal(t, "graph_sync", cfg.Metrics.Job)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("MONGO_URL", "mongodb://localhost:27017")
	t.Setenv("NEO4J_URL", " bolt://localhost:7687 ")
	t.Setenv("NEO4J_TOKEN", "secret")
	t.Setenv("SYNC_BATCH_SIZE", "25")
	t.Setenv("SYNC_VERIFY", "false")
	t.Setenv("SYNC_ENSURE_CONSTRAINTS", "1")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "bolt://localhost:7687", cfg.Target.Neo4jURL)
	assert.Equal(t, 25, cfg.Sync.BatchSize)
	assert.False(t, cfg.Sync.Verify)
	assert.True(t, cfg.Sync.EnsureConstraints)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv does not override variables that are already set, so drop
	// the blanks for the keys the file provides.
	require.NoError(t, os.Unsetenv("SOURCE_EXPORT_DIR"))
	require.NoError(t, os.Unsetenv("SYNC_BATCH_SIZE"))
	t.Cleanup(func() {
		os.Unsetenv("SOURCE_EXPORT_DIR")
		os.Unsetenv("SYNC_BATCH_SIZE")
	})

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SOURCE_EXPORT_DIR=/tmp/export\nSYNC_BATCH_SIZE=10\n"), 0600))

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/export", cfg.Source.ExportDir)
	assert.Equal(t, 10, cfg.Sync.BatchSize)

	t.Run("missing file is ignored", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
		assert.NoError(t, err)
	})
}

func TestLoad_InvalidBatchSize(t *testing.T) {
	clearEnv(t)
	t.Setenv("SYNC_BATCH_SIZE", "lots")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SYNC_BATCH_SIZE")
}

func TestLoad_InvalidBool(t *testing.T) {
	for _, key := range []string{"SYNC_VERIFY", "SYNC_ENSURE_CONSTRAINTS"} {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, "nope")

			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Source: SourceConfig{MongoURL: "mongodb://localhost", Database: "sansa"},
			Target: TargetConfig{Neo4jURL: "bolt://localhost", Password: "pw"},
			Sync:   SyncConfig{BatchSize: 100},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "complete", mutate: func(c *Config) {}},
		{name: "no source", mutate: func(c *Config) { c.Source.MongoURL = "" }, wantErr: "MONGO_URL"},
		{name: "no database", mutate: func(c *Config) { c.Source.Database = "" }, wantErr: "MONGO_DATABASE"},
		{name: "export dir needs no mongo", mutate: func(c *Config) { c.Source = SourceConfig{ExportDir: "dump"} }},
		{name: "no neo4j url", mutate: func(c *Config) { c.Target.Neo4jURL = "" }, wantErr: "NEO4J_URL"},
		{name: "no neo4j token", mutate: func(c *Config) { c.Target.Password = "" }, wantErr: "NEO4J_TOKEN"},
		{name: "dry run needs no target", mutate: func(c *Config) { c.Target = TargetConfig{DryRun: true} }},
		{name: "zero batch size", mutate: func(c *Config) { c.Sync.BatchSize = 0 }, wantErr: "batch size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
