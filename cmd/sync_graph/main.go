package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/athapong/graph-sync/pkg/config"
	"github.com/athapong/graph-sync/pkg/graph"
	"github.com/athapong/graph-sync/pkg/graph/algorithms"
	"github.com/athapong/graph-sync/pkg/graph/metrics"
	"github.com/athapong/graph-sync/pkg/graph/source"
	"github.com/athapong/graph-sync/pkg/graph/storage"
)

var (
	envFile           = flag.String("env", ".env", "Path to environment file")
	batchSize         = flag.Int("batch-size", 0, "Records or edges per transaction (overrides SYNC_BATCH_SIZE)")
	sourceDir         = flag.String("source-dir", "", "Read mongoexport files from this directory instead of MongoDB")
	dryRun            = flag.Bool("dry-run", false, "Build the graph in memory and write a JSON snapshot instead of Neo4j")
	outputFile        = flag.String("output", "", "Snapshot path for -dry-run (overrides DRY_RUN_OUTPUT)")
	logLevel          = flag.String("log-level", "", "Logging level (debug, info, warn, error)")
	verify            = flag.Bool("verify", true, "Count nodes and edges in the target after writing")
	ensureConstraints = flag.Bool("ensure-constraints", false, "Create _id uniqueness constraints before writing")
)

func main() {
	flag.Parse()

	// Configure logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.Load(*envFile)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	applyFlags(cfg, parsedFlags())

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Fatalf("Invalid log level: %v", err)
	}
	logger.SetLevel(level)

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	report, err := run(ctx, cfg, logger)
	stop()

	if report != nil {
		metrics.RunDuration.Set(report.Duration.Seconds())
	}
	if err != nil {
		metrics.RunSuccess.Set(0)
	} else {
		metrics.RunSuccess.Set(1)
	}
	pushMetrics(cfg, report, logger)

	if err != nil {
		fields := logrus.Fields{}
		if report != nil {
			fields["run_id"] = report.RunID
			fields["reached"] = report.State.String()
			fields["nodes"] = report.Nodes
			fields["edges"] = report.Edges
		}
		logger.WithError(err).WithFields(fields).Error("Sync failed")
		os.Exit(1)
	}

	logger.WithFields(logrus.Fields{
		"run_id":      report.RunID,
		"nodes":       report.Nodes,
		"edges":       report.Edges,
		"skipped":     report.Skipped,
		"node_counts": report.NodeCounts,
		"edge_counts": report.EdgeCounts,
	}).Info("Graph sync finished")
}

// cliFlags holds the command-line values layered over the loaded config
type cliFlags struct {
	batchSize         int
	sourceDir         string
	outputFile        string
	logLevel          string
	dryRun            bool
	verify            bool
	ensureConstraints bool
}

func parsedFlags() cliFlags {
	return cliFlags{
		batchSize:         *batchSize,
		sourceDir:         *sourceDir,
		outputFile:        *outputFile,
		logLevel:          *logLevel,
		dryRun:            *dryRun,
		verify:            *verify,
		ensureConstraints: *ensureConstraints,
	}
}

// applyFlags overrides cfg with explicitly set flags. Verification runs only
// if both the environment and -verify allow it; constraints are created if
// either asks for them.
func applyFlags(cfg *config.Config, f cliFlags) {
	if f.batchSize > 0 {
		cfg.Sync.BatchSize = f.batchSize
	}
	if f.sourceDir != "" {
		cfg.Source.ExportDir = f.sourceDir
	}
	if f.outputFile != "" {
		cfg.Target.OutputPath = f.outputFile
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	cfg.Target.DryRun = cfg.Target.DryRun || f.dryRun
	cfg.Sync.Verify = cfg.Sync.Verify && f.verify
	cfg.Sync.EnsureConstraints = cfg.Sync.EnsureConstraints || f.ensureConstraints
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*graph.Report, error) {
	src, closeSource, err := openSource(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer closeSource()

	opts := []graph.SyncOption{
		graph.WithBatchSize(cfg.Sync.BatchSize),
		graph.WithLogger(logger),
		graph.WithVerification(cfg.Sync.Verify),
		graph.WithConstraints(cfg.Sync.EnsureConstraints),
	}

	if cfg.Target.DryRun {
		mem := graph.NewMemoryKnowledgeGraph()
		syncer, err := graph.NewSyncer(src, mem, opts...)
		if err != nil {
			return nil, err
		}
		report, err := syncer.Run(ctx)
		if err != nil {
			return report, err
		}
		data := mem.GetData()
		if err := storage.NewJSONGraphStore(cfg.Target.OutputPath).StoreGraph(ctx, data); err != nil {
			return report, err
		}
		summary := algorithms.Summarize(data)
		logger.WithFields(logrus.Fields{
			"nodes":      summary.Nodes,
			"edges":      summary.Edges,
			"components": summary.Components,
			"isolated":   summary.Isolated,
		}).Infof("Dry-run snapshot saved to %s", cfg.Target.OutputPath)
		return report, nil
	}

	store, err := storage.NewNeo4jStorage(cfg.Target.Neo4jURL, cfg.Target.User, cfg.Target.Password, cfg.Target.Database, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close Neo4j driver")
		}
	}()
	if err := store.VerifyConnectivity(); err != nil {
		return nil, err
	}

	var report *graph.Report
	err = store.WithSession(func(w *storage.SessionWriter) error {
		syncer, err := graph.NewSyncer(src, w, opts...)
		if err != nil {
			return err
		}
		report, err = syncer.Run(ctx)
		return err
	})
	return report, err
}

func openSource(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (graph.Source, func(), error) {
	if cfg.Source.ExportDir != "" {
		logger.Infof("Reading collections from %s", cfg.Source.ExportDir)
		return source.NewFileSource(cfg.Source.ExportDir, logger), func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	mongoSource, err := source.Connect(connectCtx, cfg.Source.MongoURL, cfg.Source.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mongoSource.Close(disconnectCtx); err != nil {
			logger.WithError(err).Warn("Failed to disconnect from MongoDB")
		}
	}
	return mongoSource, closeFn, nil
}

func pushMetrics(cfg *config.Config, report *graph.Report, logger *logrus.Logger) {
	if cfg.Metrics.PushgatewayURL == "" {
		return
	}
	runID := "unknown"
	if report != nil {
		runID = report.RunID
	}
	if err := metrics.Push(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, runID); err != nil {
		logger.WithError(err).Warn("Failed to push metrics")
	}
}
