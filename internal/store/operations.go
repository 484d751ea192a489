package store

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mycelic/cogmem/internal/storeerr"
)

// ContentHash computes the SHA-256 hash of content, per spec §3.
func ContentHash(content string) [32]byte {
	return sha256.Sum256([]byte(content))
}

// CreateRequest carries the fields an ingest caller may supply.
type CreateRequest struct {
	Content     string
	Metadata    json.RawMessage
	Tags        []string
	Tier        Tier // zero value defaults to TierWorking
	Importance  *float64
	ParentID    *uuid.UUID
	ExpiresAt   *time.Time
	Embedding   []float32
}

// Create persists a new Memory. It rejects with DuplicateContent if an
// active row with the same (content_hash, tier) already exists. Create
// only enforces uniqueness and persistence; it does not enforce the
// working-set bound (§4.4). Bounded working-tier admission goes through
// workingset.WorkingSet.Admit, which runs its own duplicate check,
// eviction and insert in one transaction.
func (s *Store) Create(ctx context.Context, req CreateRequest) (*Memory, error) {
	if req.Content == "" {
		return nil, storeerr.New(storeerr.InvalidInput, fmt.Errorf("content must not be empty"))
	}

	tier := req.Tier
	if tier == "" {
		tier = TierWorking
	}

	m := NewMemory(req.Content)
	m.Tier = tier
	m.ContentHash = ContentHash(req.Content)
	m.Embedding = req.Embedding
	m.Tags = req.Tags
	m.ParentID = req.ParentID
	m.ExpiresAt = req.ExpiresAt
	if req.Metadata != nil {
		m.Metadata = req.Metadata
	} else {
		m.Metadata = json.RawMessage(`{}`)
	}
	if req.Importance != nil {
		m.Importance = *req.Importance
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("create: begin: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM memories WHERE content_hash = $1 AND tier = $2 AND status = 'active')`,
		m.ContentHash[:], string(m.Tier),
	).Scan(&exists)
	if err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("create: duplicate check: %w", err))
	}
	if exists {
		return nil, storeerr.NewDuplicateContent(string(m.Tier))
	}

	var embeddingLiteral any
	if m.Embedding != nil {
		embeddingLiteral = FormatVector(m.Embedding)
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
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("create: insert: %w", err))
	}

	if m.ParentID != nil {
		if err := LinkAncestry(ctx, tx, *m.ParentID, m.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("create: commit: %w", err))
	}
	committed = true
	return m, nil
}

// maxLineageMaterializedDepth bounds how many ancestor hops Create
// materializes into memory_links per spec §9's "explicit BFS with
// depth bound" design note. Deeper chains are simply not linked past
// this point rather than walked unbounded at write time.
const maxLineageMaterializedDepth = 10

// LinkAncestry records the direct parent_id -> child edge plus, for
// every ancestor already reachable from parentID, a transitive edge to
// child at ancestorDepth+1. This keeps lineage resolution a single
// batched read (internal/store.LineageEdges) instead of a read-time
// graph walk, per the design note that ownership lives in the Store
// and references are by id only. Exported so callers that bypass
// Create's own transaction (WorkingSet.Admit) can still materialize
// lineage within their own transaction.
func LinkAncestry(ctx context.Context, tx pgx.Tx, parentID, childID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO memory_links (memory_id, linked_id, relation_kind, depth_hint)
		VALUES ($1, $2, 'parent_child', 1)
		ON CONFLICT DO NOTHING`, parentID, childID); err != nil {
		return storeerr.NewTransient("store", 0, fmt.Errorf("create: link parent: %w", err))
	}

	rows, err := tx.Query(ctx, `
		SELECT memory_id, depth_hint FROM memory_links
		WHERE linked_id = $1 AND relation_kind = 'parent_child' AND depth_hint < $2`,
		parentID, maxLineageMaterializedDepth)
	if err != nil {
		return storeerr.NewTransient("store", 0, fmt.Errorf("create: link ancestors: %w", err))
	}
	type ancestor struct {
		id    uuid.UUID
		depth int
	}
	var ancestors []ancestor
	for rows.Next() {
		var a ancestor
		if err := rows.Scan(&a.id, &a.depth); err != nil {
			rows.Close()
			return storeerr.NewTransient("store", 0, fmt.Errorf("create: link ancestors: scan: %w", err))
		}
		ancestors = append(ancestors, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return storeerr.NewTransient("store", 0, fmt.Errorf("create: link ancestors: iterate: %w", err))
	}
	rows.Close()

	for _, a := range ancestors {
		if _, err := tx.Exec(ctx, `
			INSERT INTO memory_links (memory_id, linked_id, relation_kind, depth_hint)
			VALUES ($1, $2, 'parent_child', $3)
			ON CONFLICT DO NOTHING`, a.id, childID, a.depth+1); err != nil {
			return storeerr.NewTransient("store", 0, fmt.Errorf("create: link transitive ancestor: %w", err))
		}
	}
	return nil
}

// memoryColumns is the column list shared by every SELECT that scans a
// full Memory row, kept in one place so Get/Update/etc. stay in sync
// with scanMemoryRow.
const memoryColumns = `
	id, content, content_hash, embedding, tier, status, importance,
	access_count, last_accessed_at, consolidation_strength, decay_rate,
	recall_probability, successful_retrievals, failed_retrievals, total_retrievals,
	ease_factor, interval_days, next_review_at, metadata, tags, parent_id,
	expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemoryRow(row rowScanner) (*Memory, error) {
	var m Memory
	var contentHash []byte
	var embeddingText *string
	var tier, status string

	err := row.Scan(
		&m.ID, &m.Content, &contentHash, &embeddingText, &tier, &status, &m.Importance,
		&m.AccessCount, &m.LastAccessedAt, &m.ConsolidationStrength, &m.DecayRate,
		&m.RecallProbability, &m.SuccessfulRetrievals, &m.FailedRetrievals, &m.TotalRetrievals,
		&m.EaseFactor, &m.IntervalDays, &m.NextReviewAt, &m.Metadata, &m.Tags, &m.ParentID,
		&m.ExpiresAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	copy(m.ContentHash[:], contentHash)
	m.Tier = Tier(tier)
	m.Status = Status(status)
	if embeddingText != nil {
		vec, perr := ParseVector(*embeddingText)
		if perr != nil {
			return nil, fmt.Errorf("scan memory: %w", perr)
		}
		m.Embedding = vec
	}
	return &m, nil
}

// Get fetches an active memory by id, incrementing its access count and
// updating last-accessed atomically with the read, in a single
// transaction. Returns NotFound if no active row matches.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Memory, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("get: begin: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, fmt.Sprintf(`
		UPDATE memories SET access_count = access_count + 1, last_accessed_at = now()
		WHERE id = $1 AND status = 'active'
		RETURNING %s`, memoryColumns), id)

	m, err := scanMemoryRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storeerr.New(storeerr.NotFound, fmt.Errorf("memory %s not found", id))
	}
	if err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("get: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("get: commit: %w", err))
	}
	committed = true
	return m, nil
}

// UpdatePatch carries the optional fields Update may change.
type UpdatePatch struct {
	Content    *string
	Embedding  []float32
	Importance *float64
	Metadata   json.RawMessage
	Tags       []string
	Tier       *Tier
	Reason     string
}

// Update locks the row, applies the patch, recomputes content-hash if
// content changed, and records a migration-log entry if tier changed.
// Tier changes are validated against the allowed-edge table and fail
// with InvalidTierTransition otherwise.
func (s *Store) Update(ctx context.Context, id uuid.UUID, patch UpdatePatch) (*Memory, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("update: begin: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM memories WHERE id = $1 AND status = 'active' FOR UPDATE`, memoryColumns), id)
	current, err := scanMemoryRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storeerr.New(storeerr.NotFound, fmt.Errorf("memory %s not found", id))
	}
	if err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("update: lock row: %w", err))
	}

	if patch.Tier != nil && *patch.Tier != current.Tier {
		if !IsAllowedTierTransition(current.Tier, *patch.Tier) {
			return nil, storeerr.NewInvalidTierTransition(string(current.Tier), string(*patch.Tier))
		}
	}

	if patch.Content != nil {
		current.Content = *patch.Content
		current.ContentHash = ContentHash(*patch.Content)
	}
	if patch.Embedding != nil {
		current.Embedding = patch.Embedding
	}
	if patch.Importance != nil {
		current.Importance = *patch.Importance
	}
	if patch.Metadata != nil {
		current.Metadata = patch.Metadata
	}
	if patch.Tags != nil {
		current.Tags = patch.Tags
	}

	fromTier := current.Tier
	tierChanged := false
	if patch.Tier != nil && *patch.Tier != current.Tier {
		tierChanged = true
		current.Tier = *patch.Tier
	}
	current.UpdatedAt = time.Now().UTC()

	var embeddingLiteral any
	if current.Embedding != nil {
		embeddingLiteral = FormatVector(current.Embedding)
	}

	_, err = tx.Exec(ctx, `
		UPDATE memories SET
			content = $2, content_hash = $3, embedding = $4::vector, importance = $5,
			metadata = $6::jsonb, tags = $7, tier = $8, updated_at = $9
		WHERE id = $1`,
		current.ID, current.Content, current.ContentHash[:], embeddingLiteral, current.Importance,
		[]byte(current.Metadata), current.Tags, string(current.Tier), current.UpdatedAt,
	)
	if err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("update: exec: %w", err))
	}

	if tierChanged {
		started := time.Now().UTC()
		if _, err := tx.Exec(ctx, `
			INSERT INTO migration_history (id, memory_id, from_tier, to_tier, reason, started_at, duration_ms, success)
			VALUES ($1, $2, $3, $4, $5, $6, $7, true)`,
			uuid.New(), current.ID, string(fromTier), string(current.Tier), patch.Reason, started, 0,
		); err != nil {
			return nil, storeerr.NewTransient("store", 0, fmt.Errorf("update: log migration: %w", err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("update: commit: %w", err))
	}
	committed = true
	return current, nil
}

// SoftDelete marks a memory archived. It is a no-op (not an error) if
// the row is already archived.
func (s *Store) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE memories SET status = 'archived', updated_at = now()
		WHERE id = $1 AND status != 'archived'`, id)
	if err != nil {
		return storeerr.NewTransient("store", 0, fmt.Errorf("soft_delete: %w", err))
	}
	return nil
}

// ConsolidationUpdate is one row of a batch_update_consolidation call.
type ConsolidationUpdate struct {
	MemoryID uuid.UUID
	G        float64
	P        float64
}

// BatchUpdateConsolidation applies every (g, p) pair in a single
// round-trip using array-unpacking, per spec §4.3's "no per-row round
// trips" requirement. Returns the number of rows updated. An empty
// slice returns 0 and still commits cleanly (law L2).
func (s *Store) BatchUpdateConsolidation(ctx context.Context, updates []ConsolidationUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	ids := make([]uuid.UUID, len(updates))
	gs := make([]float64, len(updates))
	ps := make([]float64, len(updates))
	for i, u := range updates {
		ids[i] = u.MemoryID
		gs[i] = u.G
		ps[i] = u.P
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE memories AS m SET
			consolidation_strength = u.g,
			recall_probability = u.p,
			updated_at = now()
		FROM (SELECT unnest($1::uuid[]) AS id, unnest($2::float8[]) AS g, unnest($3::float8[]) AS p) AS u
		WHERE m.id = u.id AND m.status = 'active'`,
		ids, gs, ps,
	)
	if err != nil {
		return 0, storeerr.NewTransient("store", 0, fmt.Errorf("batch_update_consolidation: %w", err))
	}
	return int(tag.RowsAffected()), nil
}

// AppendConsolidationLog records one consolidation-log entry. Callers
// that also call BatchUpdateConsolidation for the same memories should
// do so in the same logical cycle; the log and the bulk update are
// separate calls (a bulk update step followed by log bookkeeping). The
// entries are written in a transaction of their own, separate from the
// bulk update, so a log failure does not undo the update.
func (s *Store) AppendConsolidationLog(ctx context.Context, entries []ConsolidationLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeerr.NewTransient("store", 0, fmt.Errorf("append_consolidation_log: begin: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO memory_consolidation_log (id, memory_id, old_g, new_g, old_p, new_p, event_kind, reason, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			uuid.New(), e.MemoryID, e.OldG, e.NewG, e.OldP, e.NewP, e.EventKind, e.Reason, e.OccurredAt)
	}
	br := tx.SendBatch(ctx, batch)
	for range entries {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return storeerr.NewTransient("store", 0, fmt.Errorf("append_consolidation_log: %w", err))
		}
	}
	if err := br.Close(); err != nil {
		return storeerr.NewTransient("store", 0, fmt.Errorf("append_consolidation_log: close batch: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return storeerr.NewTransient("store", 0, fmt.Errorf("append_consolidation_log: commit: %w", err))
	}
	committed = true
	return nil
}

// Migrate applies a validated tier transition to a set of memory ids in
// bulk, recording one migration-history entry per id, all within one
// transaction. Disallowed edges fail the whole call with
// InvalidTierTransition before any row is touched.
func (s *Store) Migrate(ctx context.Context, ids []uuid.UUID, from, to Tier, reason string) (int, error) {
	if !IsAllowedTierTransition(from, to) {
		return 0, storeerr.NewInvalidTierTransition(string(from), string(to))
	}
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, storeerr.NewTransient("store", 0, fmt.Errorf("migrate: begin: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	started := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE memories SET tier = $1, updated_at = now()
		WHERE id = ANY($2) AND tier = $3 AND status = 'active'`,
		string(to), ids, string(from))
	if err != nil {
		return 0, storeerr.NewTransient("store", 0, fmt.Errorf("migrate: exec: %w", err))
	}

	batch := &pgx.Batch{}
	for _, id := range ids {
		batch.Queue(`
			INSERT INTO migration_history (id, memory_id, from_tier, to_tier, reason, started_at, duration_ms, success)
			VALUES ($1, $2, $3, $4, $5, $6, $7, true)`,
			uuid.New(), id, string(from), string(to), reason, started, time.Since(started).Milliseconds())
	}
	br := tx.SendBatch(ctx, batch)
	for range ids {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return 0, storeerr.NewTransient("store", 0, fmt.Errorf("migrate: log: %w", err))
		}
	}
	if err := br.Close(); err != nil {
		return 0, storeerr.NewTransient("store", 0, fmt.Errorf("migrate: close batch: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, storeerr.NewTransient("store", 0, fmt.Errorf("migrate: commit: %w", err))
	}
	committed = true
	return int(tag.RowsAffected()), nil
}

// ActiveWorkingCount returns the number of active memories currently in
// the working tier, the quantity WorkingSet enforces against W.
func (s *Store) ActiveWorkingCount(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM memories WHERE tier = 'working' AND status = 'active'`).Scan(&count)
	if err != nil {
		return 0, storeerr.NewTransient("store", 0, fmt.Errorf("active_working_count: %w", err))
	}
	return count, nil
}

// EvictionCandidate is a minimal projection of a working-tier memory
// used by WorkingSet's victim-scoring policy.
type EvictionCandidate struct {
	ID             uuid.UUID
	AccessCount    int
	LastAccessedAt *time.Time
	CreatedAt      time.Time
	Importance     float64
}

// WorkingTierCandidates returns every active working-tier memory's
// eviction-relevant fields, for WorkingSet to score in-process.
func (s *Store) WorkingTierCandidates(ctx context.Context) ([]EvictionCandidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, access_count, last_accessed_at, created_at, importance
		FROM memories WHERE tier = 'working' AND status = 'active'`)
	if err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("working_tier_candidates: %w", err))
	}
	defer rows.Close()

	var out []EvictionCandidate
	for rows.Next() {
		var c EvictionCandidate
		if err := rows.Scan(&c.ID, &c.AccessCount, &c.LastAccessedAt, &c.CreatedAt, &c.Importance); err != nil {
			return nil, storeerr.NewTransient("store", 0, fmt.Errorf("working_tier_candidates: scan: %w", err))
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("working_tier_candidates: iterate: %w", err))
	}
	return out, nil
}

// ConsolidationCandidate is a minimal projection of an active memory
// used by ConsolidationJob.
type ConsolidationCandidate struct {
	ID             uuid.UUID
	Tier           Tier
	Importance     float64
	AccessCount    int
	LastAccessedAt *time.Time
	CreatedAt      time.Time
	G              float64
}

// ConsolidationCandidates selects up to limit active memories in tier
// whose last-accessed is older than minAge (or never accessed),
// ordered by last-accessed NULLS FIRST, per spec §4.5's batch-selection
// rule.
func (s *Store) ConsolidationCandidates(ctx context.Context, tier Tier, minAge time.Duration, limit int) ([]ConsolidationCandidate, error) {
	cutoff := time.Now().UTC().Add(-minAge)
	rows, err := s.pool.Query(ctx, `
		SELECT id, tier, importance, access_count, last_accessed_at, created_at, consolidation_strength
		FROM memories
		WHERE tier = $1 AND status = 'active' AND (last_accessed_at IS NULL OR last_accessed_at < $2)
		ORDER BY last_accessed_at NULLS FIRST
		LIMIT $3`, string(tier), cutoff, limit)
	if err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("consolidation_candidates: %w", err))
	}
	defer rows.Close()

	var out []ConsolidationCandidate
	for rows.Next() {
		var c ConsolidationCandidate
		var tierStr string
		if err := rows.Scan(&c.ID, &tierStr, &c.Importance, &c.AccessCount, &c.LastAccessedAt, &c.CreatedAt, &c.G); err != nil {
			return nil, storeerr.NewTransient("store", 0, fmt.Errorf("consolidation_candidates: scan: %w", err))
		}
		c.Tier = Tier(tierStr)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("consolidation_candidates: iterate: %w", err))
	}
	return out, nil
}
