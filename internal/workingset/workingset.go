// Package workingset enforces the Miller's-bound capacity limit on the
// working tier: invariant I3 from the data model (count of active
// working memories ≤ W). It is the one in-process component the
// teacher has no analogue for — the teacher never bounds its working
// set — so its shape is grounded instead on the teacher's
// ratelimit.Bucket: a small mutex-guarded counter with a derived
// pressure gauge, the same "self-contained stateful primitive" idiom.
package workingset

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mycelic/cogmem/internal/logging"
	"github.com/mycelic/cogmem/internal/store"
	"github.com/mycelic/cogmem/internal/storeerr"
)

var log = logging.GetLogger("workingset")

// AgeNormalization is τ₀, the age-hours normalization constant used by
// the victim-scoring formula.
const AgeNormalization = 24 * time.Hour

// WorkingSet serializes admission to the working tier behind a single
// mutex, matching both the spec's "one writer" language and the
// teacher's own single-writer rationale for its database mutex.
type WorkingSet struct {
	store *store.Store
	bound int

	mu       sync.Mutex
	pressure prometheus.Gauge
}

// New constructs a WorkingSet enforcing bound W over store.
func New(s *store.Store, bound int) *WorkingSet {
	return &WorkingSet{
		store: s,
		bound: bound,
		pressure: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cogmem",
			Subsystem: "workingset",
			Name:      "pressure",
			Help:      "active_working_count / W",
		}),
	}
}

// Bound returns W.
func (w *WorkingSet) Bound() int { return w.bound }

// PressureGauge exposes the pressure metric for registration with a
// Prometheus registry.
func (w *WorkingSet) PressureGauge() prometheus.Gauge { return w.pressure }

// victimScore computes v = (1/(access_count+1)) · (age_hours/τ₀) · (1−importance).
// Largest v wins eviction; ties are broken by oldest last-accessed in
// selectVictim.
func victimScore(c store.EvictionCandidate, now time.Time) float64 {
	var ageHours float64
	if c.LastAccessedAt != nil {
		ageHours = now.Sub(*c.LastAccessedAt).Hours()
	} else {
		ageHours = now.Sub(c.CreatedAt).Hours()
	}
	tau0Hours := AgeNormalization.Hours()
	return (1.0 / float64(c.AccessCount+1)) * (ageHours / tau0Hours) * (1.0 - c.Importance)
}

// selectVictim picks the candidate with the largest victimScore, ties
// broken by oldest last-accessed (nil/never-accessed sorts oldest).
func selectVictim(candidates []store.EvictionCandidate, now time.Time) (store.EvictionCandidate, bool) {
	if len(candidates) == 0 {
		return store.EvictionCandidate{}, false
	}

	best := candidates[0]
	bestScore := victimScore(best, now)
	for _, c := range candidates[1:] {
		score := victimScore(c, now)
		if score > bestScore || (score == bestScore && olderLastAccessed(c, best)) {
			best = c
			bestScore = score
		}
	}
	return best, true
}

func olderLastAccessed(a, b store.EvictionCandidate) bool {
	at := a.CreatedAt
	if a.LastAccessedAt != nil {
		at = *a.LastAccessedAt
	}
	bt := b.CreatedAt
	if b.LastAccessedAt != nil {
		bt = *b.LastAccessedAt
	}
	return at.Before(bt)
}

// Admit persists a new memory into the working tier, evicting a victim
// (working→warm) first if the bound would otherwise be exceeded. The
// duplicate check, eviction, and insert happen inside one transaction,
// so observers never see an admit that briefly violates I3. If no
// victim can be evicted (e.g. all candidates vanished between the
// count check and the evict), the admit is rejected with
// StorageExhausted.
func (w *WorkingSet) Admit(ctx context.Context, req store.CreateRequest) (*store.Memory, error) {
	req.Tier = store.TierWorking

	w.mu.Lock()
	defer w.mu.Unlock()

	tx, err := w.store.Pool().Begin(ctx)
	if err != nil {
		return nil, storeerr.NewTransient("workingset", 0, fmt.Errorf("admit: begin: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	contentHash := store.ContentHash(req.Content)
	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM memories WHERE content_hash = $1 AND tier = 'working' AND status = 'active')`,
		contentHash[:],
	).Scan(&exists); err != nil {
		return nil, storeerr.NewTransient("workingset", 0, fmt.Errorf("admit: duplicate check: %w", err))
	}
	if exists {
		return nil, storeerr.NewDuplicateContent(string(store.TierWorking))
	}

	var count int
	if err := tx.QueryRow(ctx,
		`SELECT count(*) FROM (SELECT id FROM memories WHERE tier = 'working' AND status = 'active' FOR UPDATE) AS locked`,
	).Scan(&count); err != nil {
		return nil, storeerr.NewTransient("workingset", 0, fmt.Errorf("admit: count: %w", err))
	}

	if count >= w.bound {
		evicted, err := w.evictOneLocked(ctx, tx)
		if err != nil {
			return nil, err
		}
		if !evicted {
			return nil, storeerr.NewStorageExhausted(string(store.TierWorking), w.bound)
		}
	}

	m := store.NewMemory(req.Content)
	m.ContentHash = contentHash
	m.Embedding = req.Embedding
	m.Tags = req.Tags
	m.ParentID = req.ParentID
	m.ExpiresAt = req.ExpiresAt
	if req.Metadata != nil {
		m.Metadata = req.Metadata
	} else {
		m.Metadata = []byte(`{}`)
	}
	if req.Importance != nil {
		m.Importance = *req.Importance
	}

	var embeddingLiteral any
	if m.Embedding != nil {
		embeddingLiteral = store.FormatVector(m.Embedding)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO memories (
			id, content, content_hash, embedding, tier, status, importance,
			access_count, consolidation_strength, decay_rate, recall_probability,
			ease_factor, interval_days, metadata, tags, parent_id, expires_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4::vector, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14::jsonb, $15, $16, $17,
			$18, $19
		)`,
		m.ID, m.Content, m.ContentHash[:], embeddingLiteral, string(m.Tier), string(m.Status), m.Importance,
		m.AccessCount, m.ConsolidationStrength, m.DecayRate, m.RecallProbability,
		m.EaseFactor, m.IntervalDays, []byte(m.Metadata), m.Tags, m.ParentID, m.ExpiresAt,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return nil, storeerr.NewTransient("workingset", 0, fmt.Errorf("admit: insert: %w", err))
	}

	if m.ParentID != nil {
		if err := store.LinkAncestry(ctx, tx, *m.ParentID, m.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeerr.NewTransient("workingset", 0, fmt.Errorf("admit: commit: %w", err))
	}
	committed = true

	w.refreshPressure(ctx)
	return m, nil
}

// evictOneLocked selects and migrates one victim working→warm using tx,
// the caller's already-open transaction. It must be called with w.mu
// held.
func (w *WorkingSet) evictOneLocked(ctx context.Context, tx pgx.Tx) (bool, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, access_count, last_accessed_at, created_at, importance
		FROM memories WHERE tier = 'working' AND status = 'active'`)
	if err != nil {
		return false, storeerr.NewTransient("workingset", 0, fmt.Errorf("evict: candidates: %w", err))
	}

	var candidates []store.EvictionCandidate
	for rows.Next() {
		var c store.EvictionCandidate
		if err := rows.Scan(&c.ID, &c.AccessCount, &c.LastAccessedAt, &c.CreatedAt, &c.Importance); err != nil {
			rows.Close()
			return false, storeerr.NewTransient("workingset", 0, fmt.Errorf("evict: scan: %w", err))
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, storeerr.NewTransient("workingset", 0, fmt.Errorf("evict: iterate: %w", err))
	}

	victim, ok := selectVictim(candidates, time.Now().UTC())
	if !ok {
		return false, nil
	}

	started := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE memories SET tier = 'warm', updated_at = now() WHERE id = $1 AND tier = 'working' AND status = 'active'`,
		victim.ID,
	); err != nil {
		return false, storeerr.NewTransient("workingset", 0, fmt.Errorf("evict: migrate: %w", err))
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO migration_history (id, memory_id, from_tier, to_tier, reason, started_at, duration_ms, success)
		VALUES ($1, $2, 'working', 'warm', 'working_set_eviction', $3, $4, true)`,
		uuid.New(), victim.ID, started, time.Since(started).Milliseconds(),
	); err != nil {
		return false, storeerr.NewTransient("workingset", 0, fmt.Errorf("evict: log: %w", err))
	}

	log.Info("evicted working-tier memory", "memory_id", victim.ID, "reason", "bound_exceeded")
	return true, nil
}

// refreshPressure samples active_working_count and updates the gauge.
// Failures are logged, not propagated — pressure is an observability
// signal, not a correctness gate.
func (w *WorkingSet) refreshPressure(ctx context.Context) {
	count, err := w.store.ActiveWorkingCount(ctx)
	if err != nil {
		log.Warn("failed to refresh working set pressure", "error", err)
		return
	}
	w.pressure.Set(float64(count) / float64(w.bound))
}
