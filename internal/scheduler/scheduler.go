// Package scheduler coordinates the cadenced background work spec §4.9
// calls the "Scheduler/Glue": the ConsolidationJob cycle, the FrozenTier
// sweep, and processing-queue cleanup. It is grounded on
// fyrsmithlabs-contextd's internal/reasoningbank.ConsolidationScheduler —
// the same ticker-driven goroutine shape (mutex-guarded running flag,
// a stop channel recreated on every Start, panic-recovered tick
// handlers) narrowed to run three independent cadences instead of one,
// and adapted from that package's zap logger to this repo's
// internal/logging wrapper.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mycelic/cogmem/internal/consolidation"
	"github.com/mycelic/cogmem/internal/frozen"
	"github.com/mycelic/cogmem/internal/logging"
	"github.com/mycelic/cogmem/internal/store"
)

var log = logging.GetLogger("scheduler")

// Config holds the three cadences spec §4.9 names. Defaults mirror
// spec §4.9 and §6 ("Scheduler" configuration options).
type Config struct {
	ConsolidationInterval  time.Duration
	FrozenSweepInterval    time.Duration
	FrozenSweepLimit       int
	ProgressCleanupInterval time.Duration
	ProgressRetention      time.Duration
}

// DefaultConfig returns spec's stated defaults: consolidation every 5
// minutes, frozen sweep every hour, progress-cleanup every 5 minutes
// removing completed rows older than an hour.
func DefaultConfig() Config {
	return Config{
		ConsolidationInterval:   5 * time.Minute,
		FrozenSweepInterval:     time.Hour,
		FrozenSweepLimit:        1000,
		ProgressCleanupInterval: 5 * time.Minute,
		ProgressRetention:       time.Hour,
	}
}

// cadence is one independently-ticking background loop.
type cadence struct {
	name     string
	interval time.Duration
	tick     func(ctx context.Context)
	stopCh   chan struct{}
	done     chan struct{}
}

// Scheduler starts and stops the cadenced background loops. All public
// methods are thread-safe; Start/Stop are idempotent, matching the
// teacher scheduler's contract.
type Scheduler struct {
	mu        sync.Mutex
	running   bool
	cadences  []*cadence
	wg        sync.WaitGroup

	job     *consolidation.Job
	frozenT *frozen.Tier
	st      *store.Store
	cfg     Config
}

// New constructs a Scheduler wiring job, frozenT, and st under cfg. No
// cadence starts until Start is called.
func New(job *consolidation.Job, frozenT *frozen.Tier, st *store.Store, cfg Config) *Scheduler {
	return &Scheduler{job: job, frozenT: frozenT, st: st, cfg: cfg}
}

// Start begins all three cadences as independent goroutines. Calling
// Start on an already-running Scheduler is a no-op (idempotent, per
// spec §4.9 "start/stop are idempotent").
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.cadences = []*cadence{
		{
			name:     "consolidation",
			interval: s.cfg.ConsolidationInterval,
			tick:     s.runConsolidationCycle,
		},
		{
			name:     "frozen_sweep",
			interval: s.cfg.FrozenSweepInterval,
			tick:     s.runFrozenSweep,
		},
		{
			name:     "progress_cleanup",
			interval: s.cfg.ProgressCleanupInterval,
			tick:     s.runProgressCleanup,
		},
	}

	for _, c := range s.cadences {
		if c.interval <= 0 {
			return fmt.Errorf("scheduler: cadence %q has non-positive interval", c.name)
		}
		c.stopCh = make(chan struct{})
		c.done = make(chan struct{})
		s.wg.Add(1)
		go s.run(ctx, c)
	}

	s.running = true
	log.Info("scheduler started",
		"consolidation_interval", s.cfg.ConsolidationInterval,
		"frozen_sweep_interval", s.cfg.FrozenSweepInterval,
		"progress_cleanup_interval", s.cfg.ProgressCleanupInterval,
	)
	return nil
}

// Stop signals every cadence to stop and waits for them to exit. Stop
// on an already-stopped Scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cadences := s.cadences
	s.mu.Unlock()

	for _, c := range cadences {
		close(c.stopCh)
	}
	s.wg.Wait()
	log.Info("scheduler stopped")
}

// run is the per-cadence ticker loop. Each tick is panic-recovered so a
// single failing tick never brings down the scheduler, matching the
// teacher's safeRunConsolidation wrapper.
func (s *Scheduler) run(ctx context.Context, c *cadence) {
	defer s.wg.Done()
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeTick(ctx, c)
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context, c *cadence) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("cadence panicked, recovering", "cadence", c.name, "panic", r)
		}
	}()
	c.tick(ctx)
}

// runConsolidationCycle invokes one ConsolidationJob cycle. At most one
// cycle runs at a time; the Job self-guards (§4.5), so overlapping
// ticks under a slow cycle simply no-op rather than pile up.
func (s *Scheduler) runConsolidationCycle(ctx context.Context) {
	metrics, err := s.job.RunCycle(ctx)
	if err != nil {
		log.Error("consolidation cycle failed", "error", err)
		return
	}
	log.Info("consolidation cycle complete",
		"processed", metrics.MemoriesProcessed,
		"migrated", metrics.Migrated,
		"batches", metrics.Batches,
		"throughput_per_sec", metrics.ThroughputPerSec,
	)
}

// runFrozenSweep freezes memories whose recall probability has fallen
// below the freeze threshold, bounded by FrozenSweepLimit so the sweep
// never becomes a full table scan (spec §4.9 "no periodic full table
// scans; all sweeps are bounded by limit").
func (s *Scheduler) runFrozenSweep(ctx context.Context) {
	limit := s.cfg.FrozenSweepLimit
	if limit <= 0 {
		limit = 1000
	}
	summary, err := s.frozenT.BatchFreezeByRecall(ctx, limit)
	if err != nil {
		log.Error("frozen sweep failed", "error", err)
		return
	}
	log.Info("frozen sweep complete",
		"frozen", summary.Frozen,
		"bytes_saved", summary.BytesSaved,
		"avg_ratio", summary.AverageRatio,
		"wall_clock_ms", summary.WallClock.Milliseconds(),
		"failures", summary.Failures,
	)
}

// runProgressCleanup removes completed processing_queue rows older
// than ProgressRetention (spec §4.9 "removes completed
// migration-progress rows older than 1 h").
func (s *Scheduler) runProgressCleanup(ctx context.Context) {
	retention := s.cfg.ProgressRetention
	if retention <= 0 {
		retention = time.Hour
	}
	n, err := s.st.CleanupCompletedProcessingRows(ctx, retention)
	if err != nil {
		log.Error("progress cleanup failed", "error", err)
		return
	}
	if n > 0 {
		log.Info("progress cleanup complete", "rows_removed", n)
	}
}
