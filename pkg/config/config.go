package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/athapong/graph-sync/pkg/graph"
)

// Config holds connection settings and run parameters for a sync
type Config struct {
	Source  SourceConfig
	Target  TargetConfig
	Sync    SyncConfig
	Metrics MetricsConfig
	Log     LogConfig
}

type SourceConfig struct {
	MongoURL string
	Database string
	// ExportDir, when set, reads mongoexport files instead of MongoDB
	ExportDir string
}

type TargetConfig struct {
	Neo4jURL   string
	User       string
	Password   string
	Database   string
	DryRun     bool
	OutputPath string
}

type SyncConfig struct {
	BatchSize         int
	Verify            bool
	EnsureConstraints bool
}

type MetricsConfig struct {
	PushgatewayURL string
	Job            string
}

type LogConfig struct {
	Level string
}

// Load reads envFile if present, then the environment
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		// A missing file is fine; the environment may carry everything.
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "load %s", envFile)
		}
	}

	batchSize, err := getEnvAsInt("SYNC_BATCH_SIZE", graph.DefaultBatchSize)
	if err != nil {
		return nil, err
	}
	verify, err := getEnvAsBool("SYNC_VERIFY", true)
	if err != nil {
		return nil, err
	}
	ensureConstraints, err := getEnvAsBool("SYNC_ENSURE_CONSTRAINTS", false)
	if err != nil {
		return nil, err
	}

	return &Config{
		Source: SourceConfig{
			MongoURL:  getEnv("MONGO_URL", ""),
			Database:  getEnv("MONGO_DATABASE", "sansa"),
			ExportDir: getEnv("SOURCE_EXPORT_DIR", ""),
		},
		Target: TargetConfig{
			Neo4jURL:   getEnv("NEO4J_URL", ""),
			User:       getEnv("NEO4J_USER", "neo4j"),
			Password:   getEnv("NEO4J_TOKEN", ""),
			Database:   getEnv("NEO4J_DATABASE", ""),
			OutputPath: getEnv("DRY_RUN_OUTPUT", "graph_snapshot.json"),
		},
		Sync: SyncConfig{
			BatchSize:         batchSize,
			Verify:            verify,
			EnsureConstraints: ensureConstraints,
		},
		Metrics: MetricsConfig{
			PushgatewayURL: getEnv("PUSHGATEWAY_URL", ""),
			Job:            getEnv("PUSHGATEWAY_JOB", "graph_sync"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}, nil
}

// Validate checks that a source and a target are configured
func (c *Config) Validate() error {
	if c.Source.ExportDir == "" && c.Source.MongoURL == "" {
		return errors.New("MONGO_URL or SOURCE_EXPORT_DIR is required")
	}
	if c.Source.ExportDir == "" && c.Source.Database == "" {
		return errors.New("MONGO_DATABASE is required")
	}
	if !c.Target.DryRun {
		if c.Target.Neo4jURL == "" {
			return errors.New("NEO4J_URL is required unless running dry")
		}
		if c.Target.Password == "" {
			return errors.New("NEO4J_TOKEN is required unless running dry")
		}
	}
	if c.Sync.BatchSize < 1 {
		return errors.Errorf("batch size must be at least 1, got %d", c.Sync.BatchSize)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "%s", key)
	}
	return n, nil
}

func getEnvAsBool(key string, fallback bool) (bool, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.Wrapf(err, "%s", key)
	}
	return b, nil
}
