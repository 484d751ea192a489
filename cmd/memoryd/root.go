package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mycelic/cogmem/internal/api"
	"github.com/mycelic/cogmem/internal/consolidation"
	"github.com/mycelic/cogmem/internal/embedder"
	"github.com/mycelic/cogmem/internal/frozen"
	"github.com/mycelic/cogmem/internal/insight"
	"github.com/mycelic/cogmem/internal/logging"
	"github.com/mycelic/cogmem/internal/ratelimit"
	"github.com/mycelic/cogmem/internal/retriever"
	"github.com/mycelic/cogmem/internal/scheduler"
	"github.com/mycelic/cogmem/internal/store"
	"github.com/mycelic/cogmem/internal/workingset"
	"github.com/mycelic/cogmem/pkg/config"
)

// Version is set during build.
var Version = "0.1.0"

var (
	configFile string
	noAPI      bool
)

var rootCmd = &cobra.Command{
	Use:     "memoryd",
	Short:   "Tiered cognitive memory store for AI agents",
	Version: Version,
	Long: `memoryd runs the tiered memory store described in spec: a
working/warm/cold/frozen lifecycle with forgetting-curve consolidation,
hybrid retrieval, and an insight-linking boundary. It loads config.yaml
(or defaults), opens the Postgres+pgvector store, and runs the
consolidation/frozen-sweep/progress-cleanup cadences in the background
until signalled to stop. With the REST API enabled it also exposes the
operations documented in spec §6 over HTTP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&noAPI, "no-api", false, "disable the REST API even if rest_api.enabled is true")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runServer wires every collaborator together and blocks until a
// shutdown signal arrives, mirroring the teacher's runMCPServer
// context-cancellation-on-signal shape.
func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: "stderr"})
	log := logging.GetLogger("memoryd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, store.Options{
		DSN:               cfg.Database.DSN,
		MaxConnections:    cfg.Database.MaxConnections,
		Dimension:         cfg.Embedding.Dimension,
		PoolAlertFraction: cfg.Database.PoolAlertFraction,
	})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	if err := st.InitSchema(ctx); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	log.Info("schema ready", "dsn", cfg.Database.DSN)

	limiter := ratelimit.NewLimiter(ratelimit.DefaultConfig())
	emb := embedder.NewMockEmbedder(cfg.Embedding.Dimension, cfg.Embedding.MaxBatchSize, limiter.GetToolBucket("embed"))

	ws := workingset.New(st, cfg.WorkingSet.Bound)

	job := consolidation.New(st, consolidation.Config{
		BatchSize:                cfg.Consolidation.BatchSize,
		MaxBatchesPerRun:         cfg.Consolidation.MaxBatchesPerRun,
		MinProcessingInterval:    cfg.Consolidation.MinProcessingInterval,
		MigrationThreshold:       cfg.Consolidation.MigrationThreshold,
		MaxConsolidationStrength: cfg.Consolidation.MaxConsolidationStrength,
		TimeScaleFactor:          cfg.Consolidation.TimeScaleFactor,
		BaseRecallStrength:       cfg.Consolidation.BaseRecallStrength,
		AutoMigrationEnabled:     cfg.Consolidation.AutoMigrationEnabled,
		FanOut:                   8,
	})

	frozenTier := frozen.New(st, frozen.Config{
		FreezeThreshold:     cfg.Frozen.FreezeThreshold,
		MinRestoreDelay:     cfg.Frozen.MinRestoreDelay,
		MaxRestoreDelay:     cfg.Frozen.MaxRestoreDelay,
		Codec:               cfg.Frozen.Codec,
		UnfreezeConcurrency: 4,
	})
	job.SetFreezer(frozenTier)

	retr := retriever.New(st, retriever.Config{
		Weights: retriever.Weights{
			Vector:     cfg.Retriever.WeightVector,
			Text:       cfg.Retriever.WeightText,
			Recency:    cfg.Retriever.WeightRecency,
			Importance: cfg.Retriever.WeightImportance,
		},
		RecencyLambda:                cfg.Retriever.RecencyLambda,
		RecentConsolidationWindow:    cfg.Retriever.RecentConsolidationWindow,
		ConsolidationBoostMultiplier: cfg.Retriever.ConsolidationBoostMultiplier,
		InsightImportanceWeight:      cfg.Retriever.InsightImportanceWeight,
		InsightConfidenceThreshold:   cfg.Retriever.InsightConfidenceThreshold,
		LineageDepth:                 cfg.Retriever.LineageDepth,
		CacheTTL:                     cfg.Retriever.CacheTTL,
		CacheMaxEntries:              cfg.Retriever.CacheMaxEntries,
	})

	insightLinker := insight.New(st, insight.DefaultConfig())

	sched := scheduler.New(job, frozenTier, st, scheduler.Config{
		ConsolidationInterval:   cfg.Consolidation.RunInterval,
		FrozenSweepInterval:     cfg.Scheduler.FrozenSweepInterval,
		FrozenSweepLimit:        cfg.Scheduler.FrozenSweepLimit,
		ProgressCleanupInterval: cfg.Scheduler.ProgressCleanupInterval,
		ProgressRetention:       cfg.Scheduler.ProgressRetention,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	if !cfg.RestAPI.Enabled || noAPI {
		<-ctx.Done()
		log.Info("shutdown complete")
		return nil
	}

	server := api.NewServer(cfg, api.Deps{
		Store:         st,
		WorkingSet:    ws,
		Retriever:     retr,
		FrozenTier:    frozenTier,
		InsightLinker: insightLinker,
		Embedder:      emb,
		Limiter:       limiter,
	})
	if err := server.StartWithContext(ctx, 10*time.Second); err != nil {
		return fmt.Errorf("rest api: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}

func loadConfig() (*config.Config, error) {
	if configFile == "" {
		return config.Load()
	}
	// A caller-specified path takes precedence; config.Load only
	// searches the conventional locations.
	v, err := config.LoadFrom(configFile)
	if err != nil {
		return nil, err
	}
	return v, nil
}
