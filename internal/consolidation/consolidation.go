// Package consolidation implements the periodic batch job that
// recomputes every active memory's consolidation strength and recall
// probability, nominating tier migrations when recall falls below
// threshold. It is grounded on the teacher's cadenced background-loop
// shape (a ticker-driven daemon) narrowed to a single cancellable
// "tick" method, with per-batch candidate scoring fanned out across a
// bounded worker pool via golang.org/x/sync/errgroup.
package consolidation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mycelic/cogmem/internal/logging"
	"github.com/mycelic/cogmem/internal/mathkernel"
	"github.com/mycelic/cogmem/internal/store"
)

var log = logging.GetLogger("consolidation")

// tiers is the sequence ConsolidationJob processes each cycle. Frozen
// is excluded: frozen memories are only touched by FrozenTier.
var tiers = []store.Tier{store.TierWorking, store.TierWarm, store.TierCold}

// nextTier maps a tier to the one automatic migration nominates it
// into when recall probability falls below threshold.
var nextTier = map[store.Tier]store.Tier{
	store.TierWorking: store.TierWarm,
	store.TierWarm:     store.TierCold,
	store.TierCold:     store.TierFrozen,
}

// Freezer compresses and archives the given memory ids, used for the
// cold→frozen migration edge specifically: unlike working→warm and
// warm→cold, a frozen row must carry a compressed payload (spec §3's
// Frozen payload invariant), so that edge cannot be applied as a bare
// Store.Migrate tier flip. internal/frozen.Tier satisfies this via
// FreezeIDs. The return value is the count actually frozen (ids that
// vanished or failed to compress are simply not counted).
type Freezer interface {
	FreezeIDs(ctx context.Context, ids []uuid.UUID) (int, error)
}

// Config holds ConsolidationJob's tunables. Defaults mirror spec §4.5.
type Config struct {
	BatchSize              int
	MaxBatchesPerRun       int
	MinProcessingInterval  time.Duration
	MigrationThreshold     float64
	MaxConsolidationStrength float64
	TimeScaleFactor        float64
	BaseRecallStrength     float64
	AutoMigrationEnabled   bool
	// FanOut bounds concurrent per-candidate scoring within a batch.
	FanOut int
}

// DefaultConfig returns spec §4.5's stated defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:                1000,
		MaxBatchesPerRun:         10,
		MinProcessingInterval:    time.Hour,
		MigrationThreshold:       0.5,
		MaxConsolidationStrength: mathkernel.MaxConsolidationStrength,
		TimeScaleFactor:          mathkernel.DefaultTimeScaleFactor,
		BaseRecallStrength:       mathkernel.DefaultBaseRecall,
		AutoMigrationEnabled:     true,
		FanOut:                  8,
	}
}

// CycleMetrics summarizes one RunCycle invocation, per spec §4.5's
// "record per-cycle metrics" requirement.
type CycleMetrics struct {
	MemoriesProcessed int
	Migrated          int
	Batches           int
	TotalDuration     time.Duration
	AvgBatchTime      time.Duration
	ThroughputPerSec  float64
	TierFailures      map[store.Tier]int
}

// Job is the ConsolidationJob. At most one cycle is active at a time
// (self-guarded via running); start/stop are idempotent by virtue of
// RunCycle being safe to call repeatedly.
type Job struct {
	store   *store.Store
	cfg     Config
	freezer Freezer
	running atomic.Bool
}

// New constructs a Job over store with cfg.
func New(s *store.Store, cfg Config) *Job {
	if cfg.FanOut <= 0 {
		cfg.FanOut = 8
	}
	return &Job{store: s, cfg: cfg}
}

// SetFreezer wires in the collaborator that handles the cold→frozen
// migration edge. Until set, candidates nominated for freezing are
// left in the cold tier (logged), since flipping their tier without a
// compressed payload would violate spec §3's frozen-payload invariant;
// the next scheduled frozen sweep (internal/frozen's own
// threshold-based BatchFreezeByRecall) picks them up independently of
// whether a Freezer was ever wired here.
func (j *Job) SetFreezer(f Freezer) { j.freezer = f }

// RunCycle executes one consolidation cycle: for each tier, repeatedly
// select and process batches until max_batches is reached or two
// consecutive batches come back empty. Per-batch failures are logged
// and counted, not propagated — the cycle always continues to the next
// tier. Honors cooperative cancellation between batches, never
// mid-batch.
func (j *Job) RunCycle(ctx context.Context) (CycleMetrics, error) {
	if !j.running.CompareAndSwap(false, true) {
		return CycleMetrics{}, nil // a cycle is already in flight; no-op
	}
	defer j.running.Store(false)

	start := time.Now()
	metrics := CycleMetrics{TierFailures: make(map[store.Tier]int)}
	var batchDurations []time.Duration

	for _, tier := range tiers {
		consecutiveEmpty := 0
		for batch := 0; batch < j.cfg.MaxBatchesPerRun; batch++ {
			if ctx.Err() != nil {
				metrics.TotalDuration = time.Since(start)
				return metrics, ctx.Err()
			}

			batchStart := time.Now()
			processed, migrated, err := j.processBatch(ctx, tier)
			batchDurations = append(batchDurations, time.Since(batchStart))

			if err != nil {
				metrics.TierFailures[tier]++
				log.Error("consolidation batch failed", "tier", tier, "error", err)
				continue
			}

			metrics.Batches++
			metrics.MemoriesProcessed += processed
			metrics.Migrated += migrated

			if processed == 0 {
				consecutiveEmpty++
				if consecutiveEmpty >= 2 {
					break
				}
			} else {
				consecutiveEmpty = 0
			}
		}
	}

	metrics.TotalDuration = time.Since(start)
	if len(batchDurations) > 0 {
		var total time.Duration
		for _, d := range batchDurations {
			total += d
		}
		metrics.AvgBatchTime = total / time.Duration(len(batchDurations))
	}
	if metrics.TotalDuration > 0 {
		metrics.ThroughputPerSec = float64(metrics.MemoriesProcessed) / metrics.TotalDuration.Seconds()
	}
	return metrics, nil
}

type scored struct {
	id    store.ConsolidationCandidate
	newG  float64
	newP  float64
}

// processBatch selects up to BatchSize candidates in tier, scores them
// concurrently (bounded fan-out), applies the bulk update, and — if
// automatic migration is enabled and recall dropped below threshold —
// enqueues and applies a bulk migration to the next tier. Returns the
// number of memories processed and the number migrated.
func (j *Job) processBatch(ctx context.Context, tier store.Tier) (int, int, error) {
	candidates, err := j.store.ConsolidationCandidates(ctx, tier, j.cfg.MinProcessingInterval, j.cfg.BatchSize)
	if err != nil {
		return 0, 0, err
	}
	if len(candidates) == 0 {
		return 0, 0, nil
	}

	scoredResults := make([]scored, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.cfg.FanOut)

	var mu sync.Mutex
	now := time.Now().UTC()
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			elapsedHours := now.Sub(c.CreatedAt).Hours()
			neverAccessed := c.LastAccessedAt == nil
			if !neverAccessed {
				elapsedHours = now.Sub(*c.LastAccessedAt).Hours()
			}

			tau := mathkernel.NormalizedElapsed(elapsedHours, j.cfg.TimeScaleFactor)
			newG := mathkernel.UpdateStrength(c.G, tau)
			newP := mathkernel.RecallProbability(mathkernel.RecallParams{
				Strength:             newG,
				Importance:           c.Importance,
				AccessCount:          c.AccessCount,
				ElapsedHours:         elapsedHours,
				TimeScaleFactor:      j.cfg.TimeScaleFactor,
				BaseRecall:           j.cfg.BaseRecallStrength,
				SimilarityMultiplier: 1.0,
				NeverAccessed:        neverAccessed,
			})

			mu.Lock()
			scoredResults[i] = scored{id: c, newG: newG, newP: newP}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	updates := make([]store.ConsolidationUpdate, len(scoredResults))
	logEntries := make([]store.ConsolidationLogEntry, len(scoredResults))
	var toMigrate []store.ConsolidationCandidate
	for i, r := range scoredResults {
		updates[i] = store.ConsolidationUpdate{MemoryID: r.id.ID, G: r.newG, P: r.newP}
		logEntries[i] = store.ConsolidationLogEntry{
			MemoryID:   r.id.ID,
			OldG:       r.id.G,
			NewG:       r.newG,
			OldP:       0,
			NewP:       r.newP,
			EventKind:  "consolidation_cycle",
			OccurredAt: now,
		}
		if j.cfg.AutoMigrationEnabled && r.newP < j.cfg.MigrationThreshold {
			if _, ok := nextTier[r.id.Tier]; ok {
				toMigrate = append(toMigrate, r.id)
			}
		}
	}

	if _, err := j.store.BatchUpdateConsolidation(ctx, updates); err != nil {
		return 0, 0, err
	}
	if err := j.store.AppendConsolidationLog(ctx, logEntries); err != nil {
		log.Warn("consolidation log append failed", "tier", tier, "error", err)
	}

	migrated := 0
	if len(toMigrate) > 0 {
		byTarget := make(map[store.Tier][]store.ConsolidationCandidate)
		for _, c := range toMigrate {
			byTarget[nextTier[c.Tier]] = append(byTarget[nextTier[c.Tier]], c)
		}
		for target, group := range byTarget {
			if target == store.TierFrozen {
				if j.freezer == nil {
					log.Warn("cold tier recall dropped below threshold but no freezer wired; deferring to frozen sweep",
						"tier", tier, "candidates", len(group))
					continue
				}
				n, err := j.freezer.FreezeIDs(ctx, candidateIDs(group))
				if err != nil {
					log.Warn("consolidation freeze failed", "tier", tier, "error", err)
					continue
				}
				migrated += n
				continue
			}
			n, err := j.store.Migrate(ctx, candidateIDs(group), group[0].Tier, target, "consolidation_threshold")
			if err != nil {
				log.Warn("consolidation migration failed", "tier", tier, "target", target, "error", err)
				continue
			}
			migrated += n
		}
	}

	return len(candidates), migrated, nil
}

func candidateIDs(cs []store.ConsolidationCandidate) []uuid.UUID {
	ids := make([]uuid.UUID, len(cs))
	for i, c := range cs {
		ids[i] = c.ID
	}
	return ids
}
