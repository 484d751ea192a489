package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.WorkingSet.Bound != 9 {
		t.Errorf("Expected WorkingSet.Bound=9, got %d", cfg.WorkingSet.Bound)
	}

	if cfg.Database.MaxConnections != 20 {
		t.Errorf("Expected MaxConnections=20, got %d", cfg.Database.MaxConnections)
	}
	if cfg.Database.RequestTimeout != 30*time.Second {
		t.Errorf("Expected RequestTimeout=30s, got %v", cfg.Database.RequestTimeout)
	}

	if cfg.Consolidation.BatchSize != 1000 {
		t.Errorf("Expected Consolidation.BatchSize=1000, got %d", cfg.Consolidation.BatchSize)
	}
	if cfg.Consolidation.MigrationThreshold != 0.5 {
		t.Errorf("Expected MigrationThreshold=0.5, got %v", cfg.Consolidation.MigrationThreshold)
	}

	if cfg.Frozen.Codec != "zstd" {
		t.Errorf("Expected Frozen.Codec=zstd, got %s", cfg.Frozen.Codec)
	}
	if cfg.Frozen.MinRestoreDelay != 2*time.Second || cfg.Frozen.MaxRestoreDelay != 5*time.Second {
		t.Errorf("Expected restore delay bounds [2s, 5s], got [%v, %v]", cfg.Frozen.MinRestoreDelay, cfg.Frozen.MaxRestoreDelay)
	}

	if cfg.Retriever.ConsolidationBoostMultiplier != 2.0 {
		t.Errorf("Expected ConsolidationBoostMultiplier=2.0, got %v", cfg.Retriever.ConsolidationBoostMultiplier)
	}
	if cfg.Retriever.InsightImportanceWeight != 1.5 {
		t.Errorf("Expected InsightImportanceWeight=1.5, got %v", cfg.Retriever.InsightImportanceWeight)
	}

	if cfg.Embedding.Dimension != 768 {
		t.Errorf("Expected Embedding.Dimension=768, got %d", cfg.Embedding.Dimension)
	}

	if !cfg.RestAPI.Enabled {
		t.Error("Expected RestAPI.Enabled=true")
	}
	if cfg.RestAPI.Host != "localhost" {
		t.Errorf("Expected Host=localhost, got %s", cfg.RestAPI.Host)
	}

	if cfg.Scheduler.FrozenSweepInterval != time.Hour {
		t.Errorf("Expected Scheduler.FrozenSweepInterval=1h, got %v", cfg.Scheduler.FrozenSweepInterval)
	}
	if cfg.Scheduler.FrozenSweepLimit != 1000 {
		t.Errorf("Expected Scheduler.FrozenSweepLimit=1000, got %d", cfg.Scheduler.FrozenSweepLimit)
	}
	if cfg.Scheduler.ProgressCleanupInterval != 5*time.Minute {
		t.Errorf("Expected Scheduler.ProgressCleanupInterval=5m, got %v", cfg.Scheduler.ProgressCleanupInterval)
	}
	if cfg.Scheduler.ProgressRetention != time.Hour {
		t.Errorf("Expected Scheduler.ProgressRetention=1h, got %v", cfg.Scheduler.ProgressRetention)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		expectErr bool
	}{
		{
			name:      "valid config",
			modify:    func(c *Config) {},
			expectErr: false,
		},
		{
			name: "working set bound below range",
			modify: func(c *Config) {
				c.WorkingSet.Bound = 4
			},
			expectErr: true,
		},
		{
			name: "working set bound above range",
			modify: func(c *Config) {
				c.WorkingSet.Bound = 10
			},
			expectErr: true,
		},
		{
			name: "empty database dsn",
			modify: func(c *Config) {
				c.Database.DSN = ""
			},
			expectErr: true,
		},
		{
			name: "zero max connections",
			modify: func(c *Config) {
				c.Database.MaxConnections = 0
			},
			expectErr: true,
		},
		{
			name: "invalid port",
			modify: func(c *Config) {
				c.RestAPI.Port = 99999
			},
			expectErr: true,
		},
		{
			name: "invalid logging level",
			modify: func(c *Config) {
				c.Logging.Level = "invalid"
			},
			expectErr: true,
		},
		{
			name: "migration threshold out of range",
			modify: func(c *Config) {
				c.Consolidation.MigrationThreshold = 1.5
			},
			expectErr: true,
		},
		{
			name: "frozen restore delay inverted",
			modify: func(c *Config) {
				c.Frozen.MinRestoreDelay = 10 * time.Second
				c.Frozen.MaxRestoreDelay = 5 * time.Second
			},
			expectErr: true,
		},
		{
			name: "embedding dimension zero",
			modify: func(c *Config) {
				c.Embedding.Dimension = 0
			},
			expectErr: true,
		},
		{
			name: "scheduler frozen sweep limit non-positive",
			modify: func(c *Config) {
				c.Scheduler.FrozenSweepLimit = 0
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.expectErr && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
		})
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd) //nolint:errcheck
	_ = os.Chdir(tmpDir)

	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", oldHome)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error with missing config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected config, got nil")
	}
	if cfg.WorkingSet.Bound != 9 {
		t.Errorf("Expected default working set bound 9, got %d", cfg.WorkingSet.Bound)
	}
}

func TestLoadConfig_WithFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
profile: test
database:
  dsn: postgres://localhost:5432/cogmem_test
  max_connections: 5
working_set:
  bound: 7
consolidation:
  batch_size: 500
  migration_threshold: 0.6
frozen:
  codec: zstd
retriever:
  lineage_depth: 2
logging:
  level: debug
  format: json
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd) //nolint:errcheck
	_ = os.Chdir(tmpDir)

	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", oldHome)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Profile != "test" {
		t.Errorf("Expected profile=test, got %s", cfg.Profile)
	}
	if cfg.Database.DSN != "postgres://localhost:5432/cogmem_test" {
		t.Errorf("Expected dsn override, got %s", cfg.Database.DSN)
	}
	if cfg.WorkingSet.Bound != 7 {
		t.Errorf("Expected working_set.bound=7, got %d", cfg.WorkingSet.Bound)
	}
	if cfg.Consolidation.BatchSize != 500 {
		t.Errorf("Expected batch_size=500, got %d", cfg.Consolidation.BatchSize)
	}
	if cfg.Consolidation.MigrationThreshold != 0.6 {
		t.Errorf("Expected migration_threshold=0.6, got %v", cfg.Consolidation.MigrationThreshold)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected level=debug, got %s", cfg.Logging.Level)
	}
}

func TestEnsureConfigDir(t *testing.T) {
	tmpDir := t.TempDir()
	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", oldHome)

	cfg := DefaultConfig()
	if err := cfg.EnsureConfigDir(); err != nil {
		t.Fatalf("EnsureConfigDir failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(tmpDir, ".cogmem")); os.IsNotExist(err) {
		t.Error("Config directory was not created")
	}
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	if path == "" {
		t.Error("ConfigPath returned empty string")
	}

	homeDir, _ := os.UserHomeDir()
	expected := filepath.Join(homeDir, ".cogmem")
	if path != expected {
		t.Errorf("Expected %s, got %s", expected, path)
	}
}
