package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration for the
// tiered memory store.
type Config struct {
	Profile       string              `mapstructure:"profile"`
	Database      DatabaseConfig      `mapstructure:"database"`
	WorkingSet    WorkingSetConfig    `mapstructure:"working_set"`
	Consolidation ConsolidationConfig `mapstructure:"consolidation"`
	Frozen        FrozenConfig        `mapstructure:"frozen"`
	Retriever     RetrieverConfig     `mapstructure:"retriever"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	RestAPI       RestAPIConfig       `mapstructure:"rest_api"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// DatabaseConfig holds relational store configuration.
type DatabaseConfig struct {
	DSN               string        `mapstructure:"dsn"`
	MaxConnections    int           `mapstructure:"max_connections"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	PoolAlertFraction float64       `mapstructure:"pool_alert_fraction"`
}

// WorkingSetConfig holds the Miller's-bound working-tier configuration.
type WorkingSetConfig struct {
	Bound int `mapstructure:"bound"` // 5..9
}

// ConsolidationConfig holds ConsolidationJob cadence and thresholds.
type ConsolidationConfig struct {
	RunInterval              time.Duration `mapstructure:"run_interval"`
	BatchSize                int           `mapstructure:"batch_size"`
	MaxBatchesPerRun         int           `mapstructure:"max_batches_per_run"`
	MinProcessingInterval    time.Duration `mapstructure:"min_processing_interval"`
	MigrationThreshold       float64       `mapstructure:"migration_threshold"`
	MaxConsolidationStrength float64       `mapstructure:"max_consolidation_strength"`
	TimeScaleFactor          float64       `mapstructure:"time_scale_factor"`
	BaseRecallStrength       float64       `mapstructure:"base_recall_strength"`
	AutoMigrationEnabled     bool          `mapstructure:"auto_migration_enabled"`
}

// FrozenConfig holds FrozenTier thresholds and restore-delay bounds.
type FrozenConfig struct {
	FreezeThreshold float64       `mapstructure:"freeze_threshold"`
	MinRestoreDelay time.Duration `mapstructure:"min_restore_delay"`
	MaxRestoreDelay time.Duration `mapstructure:"max_restore_delay"`
	Codec           string        `mapstructure:"codec"` // "zstd" (gzip-class default)
}

// RetrieverConfig holds hybrid-search ranking and cache configuration.
type RetrieverConfig struct {
	WeightVector                 float64       `mapstructure:"weight_vector"`
	WeightText                   float64       `mapstructure:"weight_text"`
	WeightRecency                float64       `mapstructure:"weight_recency"`
	WeightImportance             float64       `mapstructure:"weight_importance"`
	RecencyLambda                float64       `mapstructure:"recency_lambda"`
	RecentConsolidationWindow    time.Duration `mapstructure:"recent_consolidation_window"`
	ConsolidationBoostMultiplier float64       `mapstructure:"consolidation_boost_multiplier"`
	InsightImportanceWeight      float64       `mapstructure:"insight_importance_weight"`
	InsightConfidenceThreshold   float64       `mapstructure:"insight_confidence_threshold"`
	LineageDepth                 int           `mapstructure:"lineage_depth"`
	CacheTTL                     time.Duration `mapstructure:"cache_ttl"`
	CacheMaxEntries              int           `mapstructure:"cache_max_entries"`
}

// EmbeddingConfig holds Embedder contract parameters.
type EmbeddingConfig struct {
	Dimension    int           `mapstructure:"dimension"`
	MaxBatchSize int           `mapstructure:"max_batch_size"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// SchedulerConfig holds two of the Scheduler/Glue cadences: the frozen
// sweep (interval plus a per-sweep row limit) and progress-queue
// cleanup (interval plus retention). The consolidation cycle's cadence
// is Consolidation.RunInterval.
type SchedulerConfig struct {
	FrozenSweepInterval     time.Duration `mapstructure:"frozen_sweep_interval"`
	FrozenSweepLimit        int           `mapstructure:"frozen_sweep_limit"`
	ProgressCleanupInterval time.Duration `mapstructure:"progress_cleanup_interval"`
	ProgressRetention       time.Duration `mapstructure:"progress_retention"`
}

// RestAPIConfig holds the optional demo transport's server configuration.
type RestAPIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	CORS    bool   `mapstructure:"cors"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console, json
}

// DefaultConfig returns configuration with the system's default values.
func DefaultConfig() *Config {
	return &Config{
		Profile: "default",
		Database: DatabaseConfig{
			DSN:               "postgres://localhost:5432/cogmem",
			MaxConnections:    20,
			RequestTimeout:    30 * time.Second,
			PoolAlertFraction: 0.70,
		},
		WorkingSet: WorkingSetConfig{
			Bound: 9,
		},
		Consolidation: ConsolidationConfig{
			RunInterval:              5 * time.Minute,
			BatchSize:                1000,
			MaxBatchesPerRun:         10,
			MinProcessingInterval:    time.Hour,
			MigrationThreshold:       0.5,
			MaxConsolidationStrength: 10.0,
			TimeScaleFactor:          0.1,
			BaseRecallStrength:       0.95,
			AutoMigrationEnabled:     true,
		},
		Frozen: FrozenConfig{
			FreezeThreshold: 0.2,
			MinRestoreDelay: 2 * time.Second,
			MaxRestoreDelay: 5 * time.Second,
			Codec:           "zstd",
		},
		Retriever: RetrieverConfig{
			WeightVector:                 0.4,
			WeightText:                   0.4,
			WeightRecency:                0.1,
			WeightImportance:             0.1,
			RecencyLambda:                0.05,
			RecentConsolidationWindow:    24 * time.Hour,
			ConsolidationBoostMultiplier: 2.0,
			InsightImportanceWeight:      1.5,
			InsightConfidenceThreshold:   0.5,
			LineageDepth:                 3,
			CacheTTL:                     5 * time.Minute,
			CacheMaxEntries:              100,
		},
		Embedding: EmbeddingConfig{
			Dimension:    768,
			MaxBatchSize: 64,
			Timeout:      30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			FrozenSweepInterval:     time.Hour,
			FrozenSweepLimit:        1000,
			ProgressCleanupInterval: 5 * time.Minute,
			ProgressRetention:       time.Hour,
		},
		RestAPI: RestAPIConfig{
			Enabled: true,
			Host:    "localhost",
			Port:    8088,
			CORS:    true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file with fallback to defaults.
// Searches in multiple locations:
// 1. ./config.yaml (current directory)
// 2. ~/.cogmem/config.yaml (user home)
// 3. /etc/cogmem/config.yaml (system-wide)
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	homeDir, _ := os.UserHomeDir()
	v.AddConfigPath(filepath.Join(homeDir, ".cogmem"))
	v.AddConfigPath("/etc/cogmem")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFrom loads configuration from an explicit file path, bypassing
// the conventional search locations Load uses. Used when a caller
// passes --config explicitly.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %q: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values in Viper
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("profile", d.Profile)

	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.max_connections", d.Database.MaxConnections)
	v.SetDefault("database.request_timeout", d.Database.RequestTimeout)
	v.SetDefault("database.pool_alert_fraction", d.Database.PoolAlertFraction)

	v.SetDefault("working_set.bound", d.WorkingSet.Bound)

	v.SetDefault("consolidation.run_interval", d.Consolidation.RunInterval)
	v.SetDefault("consolidation.batch_size", d.Consolidation.BatchSize)
	v.SetDefault("consolidation.max_batches_per_run", d.Consolidation.MaxBatchesPerRun)
	v.SetDefault("consolidation.min_processing_interval", d.Consolidation.MinProcessingInterval)
	v.SetDefault("consolidation.migration_threshold", d.Consolidation.MigrationThreshold)
	v.SetDefault("consolidation.max_consolidation_strength", d.Consolidation.MaxConsolidationStrength)
	v.SetDefault("consolidation.time_scale_factor", d.Consolidation.TimeScaleFactor)
	v.SetDefault("consolidation.base_recall_strength", d.Consolidation.BaseRecallStrength)
	v.SetDefault("consolidation.auto_migration_enabled", d.Consolidation.AutoMigrationEnabled)

	v.SetDefault("frozen.freeze_threshold", d.Frozen.FreezeThreshold)
	v.SetDefault("frozen.min_restore_delay", d.Frozen.MinRestoreDelay)
	v.SetDefault("frozen.max_restore_delay", d.Frozen.MaxRestoreDelay)
	v.SetDefault("frozen.codec", d.Frozen.Codec)

	v.SetDefault("retriever.weight_vector", d.Retriever.WeightVector)
	v.SetDefault("retriever.weight_text", d.Retriever.WeightText)
	v.SetDefault("retriever.weight_recency", d.Retriever.WeightRecency)
	v.SetDefault("retriever.weight_importance", d.Retriever.WeightImportance)
	v.SetDefault("retriever.recency_lambda", d.Retriever.RecencyLambda)
	v.SetDefault("retriever.recent_consolidation_window", d.Retriever.RecentConsolidationWindow)
	v.SetDefault("retriever.consolidation_boost_multiplier", d.Retriever.ConsolidationBoostMultiplier)
	v.SetDefault("retriever.insight_importance_weight", d.Retriever.InsightImportanceWeight)
	v.SetDefault("retriever.insight_confidence_threshold", d.Retriever.InsightConfidenceThreshold)
	v.SetDefault("retriever.lineage_depth", d.Retriever.LineageDepth)
	v.SetDefault("retriever.cache_ttl", d.Retriever.CacheTTL)
	v.SetDefault("retriever.cache_max_entries", d.Retriever.CacheMaxEntries)

	v.SetDefault("embedding.dimension", d.Embedding.Dimension)
	v.SetDefault("embedding.max_batch_size", d.Embedding.MaxBatchSize)
	v.SetDefault("embedding.timeout", d.Embedding.Timeout)

	v.SetDefault("scheduler.frozen_sweep_interval", d.Scheduler.FrozenSweepInterval)
	v.SetDefault("scheduler.frozen_sweep_limit", d.Scheduler.FrozenSweepLimit)
	v.SetDefault("scheduler.progress_cleanup_interval", d.Scheduler.ProgressCleanupInterval)
	v.SetDefault("scheduler.progress_retention", d.Scheduler.ProgressRetention)

	v.SetDefault("rest_api.enabled", d.RestAPI.Enabled)
	v.SetDefault("rest_api.host", d.RestAPI.Host)
	v.SetDefault("rest_api.port", d.RestAPI.Port)
	v.SetDefault("rest_api.cors", d.RestAPI.CORS)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate validates the configuration. An out-of-range working-set bound
// is a fatal startup error: the bound governs eviction pressure for every
// later consolidation cycle, so it can't be allowed to drift silently.
func (c *Config) Validate() error {
	if c.WorkingSet.Bound < 5 || c.WorkingSet.Bound > 9 {
		return fmt.Errorf("working_set.bound must be in [5, 9], got %d", c.WorkingSet.Bound)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database.max_connections must be >= 1")
	}
	if c.Database.PoolAlertFraction <= 0 || c.Database.PoolAlertFraction > 1 {
		return fmt.Errorf("database.pool_alert_fraction must be in (0, 1]")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive")
	}
	if c.Embedding.MaxBatchSize <= 0 {
		return fmt.Errorf("embedding.max_batch_size must be positive")
	}
	if c.Frozen.MinRestoreDelay > c.Frozen.MaxRestoreDelay {
		return fmt.Errorf("frozen.min_restore_delay must be <= frozen.max_restore_delay")
	}
	if c.Consolidation.MigrationThreshold < 0 || c.Consolidation.MigrationThreshold > 1 {
		return fmt.Errorf("consolidation.migration_threshold must be in [0, 1]")
	}
	if c.Consolidation.BatchSize <= 0 {
		return fmt.Errorf("consolidation.batch_size must be positive")
	}
	if c.Frozen.FreezeThreshold < 0 || c.Frozen.FreezeThreshold > 1 {
		return fmt.Errorf("frozen.freeze_threshold must be in [0, 1]")
	}
	if c.Retriever.LineageDepth < 0 {
		return fmt.Errorf("retriever.lineage_depth must be >= 0")
	}
	if c.Retriever.CacheMaxEntries < 0 {
		return fmt.Errorf("retriever.cache_max_entries must be >= 0")
	}
	if c.Scheduler.FrozenSweepLimit <= 0 {
		return fmt.Errorf("scheduler.frozen_sweep_limit must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: console, json")
	}

	if c.RestAPI.Enabled {
		if c.RestAPI.Port < 1 || c.RestAPI.Port > 65535 {
			return fmt.Errorf("rest_api.port must be between 1 and 65535")
		}
		if c.RestAPI.Host == "" {
			return fmt.Errorf("rest_api.host is required when REST API is enabled")
		}
	}

	return nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist.
func (c *Config) EnsureConfigDir() error {
	if err := os.MkdirAll(ConfigPath(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return nil
}

// ConfigPath returns the path to the configuration directory.
func ConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".cogmem")
}
