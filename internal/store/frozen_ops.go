package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mycelic/cogmem/internal/storeerr"
)

// FreezeCandidate is a minimal projection of a non-frozen memory whose
// recall probability has fallen below the freeze threshold.
type FreezeCandidate struct {
	ID                uuid.UUID
	Content           string
	Metadata          []byte
	Embedding         []float32
	Tier              Tier
	RecallProbability float64
}

// FreezeCandidates selects up to limit active, non-frozen memories with
// recall_probability below threshold, ordered by recall_probability
// ascending (worst recall first).
func (s *Store) FreezeCandidates(ctx context.Context, threshold float64, limit int) ([]FreezeCandidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, content, metadata, embedding, tier, recall_probability
		FROM memories
		WHERE status = 'active' AND tier != 'frozen' AND recall_probability < $1
		ORDER BY recall_probability ASC
		LIMIT $2`, threshold, limit)
	if err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("freeze_candidates: %w", err))
	}
	defer rows.Close()

	var out []FreezeCandidate
	for rows.Next() {
		var c FreezeCandidate
		var tierStr string
		var embeddingText *string
		if err := rows.Scan(&c.ID, &c.Content, &c.Metadata, &embeddingText, &tierStr, &c.RecallProbability); err != nil {
			return nil, storeerr.NewTransient("store", 0, fmt.Errorf("freeze_candidates: scan: %w", err))
		}
		c.Tier = Tier(tierStr)
		if embeddingText != nil {
			vec, err := ParseVector(*embeddingText)
			if err != nil {
				return nil, storeerr.NewTransient("store", 0, fmt.Errorf("freeze_candidates: parse embedding: %w", err))
			}
			c.Embedding = vec
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("freeze_candidates: iterate: %w", err))
	}
	return out, nil
}

// FreezeCandidatesByID loads the freeze-relevant projection for exactly
// ids (order not preserved), for callers (ConsolidationJob's
// cold→frozen nomination) that already know which memories to freeze
// rather than selecting by threshold.
func (s *Store) FreezeCandidatesByID(ctx context.Context, ids []uuid.UUID) ([]FreezeCandidate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, content, metadata, embedding, tier, recall_probability
		FROM memories
		WHERE status = 'active' AND tier != 'frozen' AND id = ANY($1)`, ids)
	if err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("freeze_candidates_by_id: %w", err))
	}
	defer rows.Close()

	var out []FreezeCandidate
	for rows.Next() {
		var c FreezeCandidate
		var tierStr string
		var embeddingText *string
		if err := rows.Scan(&c.ID, &c.Content, &c.Metadata, &embeddingText, &tierStr, &c.RecallProbability); err != nil {
			return nil, storeerr.NewTransient("store", 0, fmt.Errorf("freeze_candidates_by_id: scan: %w", err))
		}
		c.Tier = Tier(tierStr)
		if embeddingText != nil {
			vec, err := ParseVector(*embeddingText)
			if err != nil {
				return nil, storeerr.NewTransient("store", 0, fmt.Errorf("freeze_candidates_by_id: parse embedding: %w", err))
			}
			c.Embedding = vec
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("freeze_candidates_by_id: iterate: %w", err))
	}
	return out, nil
}

// WriteFrozenPayload stores the compressed payload and flips the
// memory's tier to frozen, all within one transaction. The memory's
// live content/metadata/embedding columns are left untouched; FrozenTier
// decides whether to null them out, but per spec §4.6 the original row
// is "retained but marked frozen", so this only changes tier/status
// bookkeeping plus the payload side-table.
func (s *Store) WriteFrozenPayload(ctx context.Context, fromTier Tier, payload FrozenPayload) error {
	if !IsAllowedTierTransition(fromTier, TierFrozen) {
		return storeerr.NewInvalidTierTransition(string(fromTier), string(TierFrozen))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeerr.NewTransient("store", 0, fmt.Errorf("write_frozen_payload: begin: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx, `
		INSERT INTO frozen_payloads (memory_id, codec, original_bytes, compressed_bytes, payload_blob)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (memory_id) DO UPDATE SET
			codec = EXCLUDED.codec,
			original_bytes = EXCLUDED.original_bytes,
			compressed_bytes = EXCLUDED.compressed_bytes,
			payload_blob = EXCLUDED.payload_blob`,
		payload.MemoryID, payload.Codec, payload.OriginalBytes, payload.CompressedBytes, payload.PayloadBlob,
	); err != nil {
		return storeerr.NewTransient("store", 0, fmt.Errorf("write_frozen_payload: insert: %w", err))
	}

	if _, err := tx.Exec(ctx,
		`UPDATE memories SET tier = 'frozen', updated_at = now() WHERE id = $1 AND tier = $2 AND status = 'active'`,
		payload.MemoryID, string(fromTier),
	); err != nil {
		return storeerr.NewTransient("store", 0, fmt.Errorf("write_frozen_payload: update tier: %w", err))
	}

	started := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		INSERT INTO migration_history (id, memory_id, from_tier, to_tier, reason, started_at, duration_ms, success)
		VALUES ($1, $2, $3, 'frozen', 'freeze', $4, $5, true)`,
		uuid.New(), payload.MemoryID, string(fromTier), started, time.Since(started).Milliseconds(),
	); err != nil {
		return storeerr.NewTransient("store", 0, fmt.Errorf("write_frozen_payload: log: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return storeerr.NewTransient("store", 0, fmt.Errorf("write_frozen_payload: commit: %w", err))
	}
	committed = true
	return nil
}

// ReadFrozenPayload fetches the compressed payload for id.
func (s *Store) ReadFrozenPayload(ctx context.Context, id uuid.UUID) (*FrozenPayload, error) {
	var p FrozenPayload
	p.MemoryID = id
	err := s.pool.QueryRow(ctx, `
		SELECT codec, original_bytes, compressed_bytes, payload_blob
		FROM frozen_payloads WHERE memory_id = $1`, id,
	).Scan(&p.Codec, &p.OriginalBytes, &p.CompressedBytes, &p.PayloadBlob)
	if err != nil {
		return nil, storeerr.New(storeerr.NotFound, fmt.Errorf("read_frozen_payload: %w", err))
	}
	return &p, nil
}

// RestoreFromFrozen writes the decompressed content/metadata/embedding
// back onto the memory row, moves it to targetTier, deletes the frozen
// payload, and records a migration-history entry, all in one
// transaction.
func (s *Store) RestoreFromFrozen(ctx context.Context, id uuid.UUID, content string, metadata []byte, embedding []float32, targetTier Tier) (*Memory, error) {
	if !IsAllowedTierTransition(TierFrozen, targetTier) {
		return nil, storeerr.NewInvalidTierTransition(string(TierFrozen), string(targetTier))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("restore_from_frozen: begin: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	contentHash := ContentHash(content)
	var embeddingLiteral any
	if embedding != nil {
		embeddingLiteral = FormatVector(embedding)
	}

	row := tx.QueryRow(ctx, `
		UPDATE memories SET
			content = $1, content_hash = $2, metadata = $3::jsonb, embedding = $4::vector,
			tier = $5, updated_at = now()
		WHERE id = $6 AND tier = 'frozen' AND status = 'active'
		RETURNING `+memoryColumns,
		content, contentHash[:], metadata, embeddingLiteral, string(targetTier), id,
	)
	m, err := scanMemoryRow(row)
	if err != nil {
		return nil, storeerr.New(storeerr.NotFound, fmt.Errorf("restore_from_frozen: %w", err))
	}

	if _, err := tx.Exec(ctx, `DELETE FROM frozen_payloads WHERE memory_id = $1`, id); err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("restore_from_frozen: delete payload: %w", err))
	}

	started := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		INSERT INTO migration_history (id, memory_id, from_tier, to_tier, reason, started_at, duration_ms, success)
		VALUES ($1, $2, 'frozen', $3, 'unfreeze', $4, $5, true)`,
		uuid.New(), id, string(targetTier), started, time.Since(started).Milliseconds(),
	); err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("restore_from_frozen: log: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("restore_from_frozen: commit: %w", err))
	}
	committed = true
	return m, nil
}
