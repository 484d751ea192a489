package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mycelic/cogmem/internal/logging"
	"github.com/mycelic/cogmem/internal/storeerr"
)

var log = logging.GetLogger("store")

// Store is the transactional persistence layer over Postgres+pgvector.
// Unlike the mutex-guarded *sql.DB wrapper this package's teacher
// lineage uses (a single SQLite writer needs external serialization),
// pgxpool.Pool is itself safe for concurrent use, so Store holds no
// lock of its own — concurrent callers each borrow a connection from
// the pool independently.
type Store struct {
	pool      *pgxpool.Pool
	dimension int

	poolSize          int
	poolAlertFraction float64
	poolSaturation    prometheus.Gauge
}

// Options configures Open.
type Options struct {
	DSN               string
	MaxConnections    int
	Dimension         int
	PoolAlertFraction float64 // fraction of MaxConnections that triggers a health alert, default 0.70
}

// Open connects to Postgres and returns a ready Store. It does not run
// InitSchema; callers that need a fresh schema call it explicitly.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Dimension <= 0 {
		return nil, storeerr.New(storeerr.Fatal, fmt.Errorf("store: dimension must be positive"))
	}
	alertFraction := opts.PoolAlertFraction
	if alertFraction <= 0 {
		alertFraction = 0.70
	}

	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, storeerr.New(storeerr.Fatal, fmt.Errorf("store: parse dsn: %w", err))
	}
	if opts.MaxConnections > 0 {
		cfg.MaxConns = int32(opts.MaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("store: connect: %w", err))
	}

	s := &Store{
		pool:              pool,
		dimension:         opts.Dimension,
		poolSize:          int(cfg.MaxConns),
		poolAlertFraction: alertFraction,
		poolSaturation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cogmem",
			Subsystem: "store",
			Name:      "pool_saturation",
			Help:      "Fraction of the connection pool currently checked out.",
		}),
	}
	return s, nil
}

// InitSchema applies the core schema, the HNSW vector index, and the
// full-text index if they are not already present. It is idempotent:
// safe to call on every startup.
func (s *Store) InitSchema(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeerr.NewTransient("store", 0, fmt.Errorf("store: begin init schema: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	coreDDL := fmt.Sprintf(coreSchemaTemplate, s.dimension, s.dimension)
	if _, err := tx.Exec(ctx, coreDDL); err != nil {
		return storeerr.New(storeerr.Fatal, fmt.Errorf("store: apply core schema: %w", err))
	}
	// A failed statement aborts the whole transaction, so each optional
	// index step runs under its own savepoint.
	for _, step := range []struct{ name, ddl string }{{"hnsw", VectorIndexSchema}, {"full text", FullTextSchema}} {
		sp, err := tx.Begin(ctx)
		if err != nil {
			return storeerr.NewTransient("store", 0, fmt.Errorf("store: savepoint: %w", err))
		}
		if _, err := sp.Exec(ctx, step.ddl); err != nil {
			log.Warn(step.name+" index creation failed, continuing without it", "error", err)
			_ = sp.Rollback(ctx)
		} else if err := sp.Commit(ctx); err != nil {
			return storeerr.NewTransient("store", 0, fmt.Errorf("store: release savepoint: %w", err))
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_version (version) VALUES ($1) ON CONFLICT DO NOTHING`, SchemaVersion); err != nil {
		return storeerr.New(storeerr.Fatal, fmt.Errorf("store: record schema version: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return storeerr.New(storeerr.Fatal, fmt.Errorf("store: commit init schema: %w", err))
	}
	committed = true
	return nil
}

// Dimension returns the embedding dimension this Store was opened with.
func (s *Store) Dimension() int { return s.dimension }

// Pool exposes the underlying pgxpool.Pool for components (WorkingSet,
// ConsolidationJob, FrozenTier, Retriever, InsightLinker) that need
// direct query access beyond the CRUD surface in operations.go.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// PoolSaturationGauge exposes the pool-saturation metric for
// registration with a Prometheus registry.
func (s *Store) PoolSaturationGauge() prometheus.Gauge { return s.poolSaturation }

// CheckPoolSaturation samples the current connection-pool usage,
// updates the gauge, and returns a Transient error if usage is at or
// above the configured alert fraction — this is how pool exhaustion
// surfaces to callers as backpressure per spec §4.3.
func (s *Store) CheckPoolSaturation() error {
	stat := s.pool.Stat()
	total := stat.TotalConns()
	if total == 0 {
		s.poolSaturation.Set(0)
		return nil
	}
	used := float64(stat.AcquiredConns()) / float64(total)
	s.poolSaturation.Set(used)
	if used >= s.poolAlertFraction {
		return storeerr.NewTransient("store", 0, fmt.Errorf("connection pool saturation %.0f%% at or above alert threshold %.0f%%", used*100, s.poolAlertFraction*100))
	}
	return nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}
