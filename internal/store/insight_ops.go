package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mycelic/cogmem/internal/storeerr"
)

// ActiveMemoriesExist reports whether every id in ids refers to an
// active memory. Used by InsightLinker to validate proposed source ids
// in a single round trip instead of one existence check per id.
func (s *Store) ActiveMemoriesExist(ctx context.Context, ids []uuid.UUID) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM memories WHERE id = ANY($1) AND status = 'active'`, ids,
	).Scan(&count)
	if err != nil {
		return false, storeerr.NewTransient("store", 0, fmt.Errorf("active_memories_exist: %w", err))
	}
	return count == len(ids), nil
}

// RecentInsights returns the most recent limit insights (by created_at
// descending) along with their embeddings, for InsightLinker's
// cosine-similarity dedup check.
func (s *Store) RecentInsights(ctx context.Context, limit int) ([]Insight, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.id, i.content, i.type, i.confidence, i.tier, i.aggregate_feedback,
			i.version, i.previous_version_id, i.created_at, i.updated_at, iv.embedding
		FROM insights i
		LEFT JOIN insight_vectors iv ON iv.insight_id = i.id
		ORDER BY i.created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("recent_insights: %w", err))
	}
	defer rows.Close()

	var out []Insight
	for rows.Next() {
		var ins Insight
		var typeStr string
		var embeddingText *string
		if err := rows.Scan(&ins.ID, &ins.Content, &typeStr, &ins.Confidence, &ins.Tier, &ins.AggregateFeedback,
			&ins.Version, &ins.PreviousVersionID, &ins.CreatedAt, &ins.UpdatedAt, &embeddingText); err != nil {
			return nil, storeerr.NewTransient("store", 0, fmt.Errorf("recent_insights: scan: %w", err))
		}
		ins.Type = InsightType(typeStr)
		if embeddingText != nil {
			vec, perr := ParseVector(*embeddingText)
			if perr != nil {
				return nil, storeerr.NewTransient("store", 0, fmt.Errorf("recent_insights: parse embedding: %w", perr))
			}
			ins.Embedding = vec
		}
		out = append(out, ins)
	}
	return out, rows.Err()
}

// InsertInsight persists a new insight row, its embedding, and its
// source links, all within one transaction.
func (s *Store) InsertInsight(ctx context.Context, ins Insight, sourceIDs []uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeerr.NewTransient("store", 0, fmt.Errorf("insert_insight: begin: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx, `
		INSERT INTO insights (id, content, type, confidence, tier, aggregate_feedback, version, previous_version_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ins.ID, ins.Content, string(ins.Type), ins.Confidence, string(ins.Tier), ins.AggregateFeedback,
		ins.Version, ins.PreviousVersionID, ins.CreatedAt, ins.UpdatedAt,
	); err != nil {
		return storeerr.NewTransient("store", 0, fmt.Errorf("insert_insight: insight: %w", err))
	}

	if ins.Embedding != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO insight_vectors (insight_id, embedding) VALUES ($1, $2::vector)`,
			ins.ID, FormatVector(ins.Embedding),
		); err != nil {
			return storeerr.NewTransient("store", 0, fmt.Errorf("insert_insight: vector: %w", err))
		}
	}

	for _, src := range sourceIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO insight_sources (insight_id, memory_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			ins.ID, src,
		); err != nil {
			return storeerr.NewTransient("store", 0, fmt.Errorf("insert_insight: source: %w", err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storeerr.NewTransient("store", 0, fmt.Errorf("insert_insight: commit: %w", err))
	}
	committed = true
	return nil
}

// MergeInsightSources appends newSourceIDs to an existing insight and,
// if confidence exceeds the stored value, raises it, per spec §4.8's
// "keep higher confidence, append new sources" merge rule.
func (s *Store) MergeInsightSources(ctx context.Context, insightID uuid.UUID, newSourceIDs []uuid.UUID, confidence float64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeerr.NewTransient("store", 0, fmt.Errorf("merge_insight_sources: begin: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, src := range newSourceIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO insight_sources (insight_id, memory_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			insightID, src,
		); err != nil {
			return storeerr.NewTransient("store", 0, fmt.Errorf("merge_insight_sources: source: %w", err))
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE insights SET confidence = GREATEST(confidence, $1), updated_at = now() WHERE id = $2`,
		confidence, insightID,
	); err != nil {
		return storeerr.NewTransient("store", 0, fmt.Errorf("merge_insight_sources: confidence: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return storeerr.NewTransient("store", 0, fmt.Errorf("merge_insight_sources: commit: %w", err))
	}
	committed = true
	return nil
}

// RecordInsightFeedback appends a feedback row and applies the
// smoothed aggregate update, within one transaction.
func (s *Store) RecordInsightFeedback(ctx context.Context, insightID uuid.UUID, rating int, newAggregate float64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeerr.NewTransient("store", 0, fmt.Errorf("record_insight_feedback: begin: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx,
		`INSERT INTO insight_feedback (id, insight_id, rating, recorded_at) VALUES ($1, $2, $3, $4)`,
		uuid.New(), insightID, rating, time.Now().UTC(),
	); err != nil {
		return storeerr.NewTransient("store", 0, fmt.Errorf("record_insight_feedback: insert: %w", err))
	}

	if _, err := tx.Exec(ctx,
		`UPDATE insights SET aggregate_feedback = $1, updated_at = now() WHERE id = $2`,
		newAggregate, insightID,
	); err != nil {
		return storeerr.NewTransient("store", 0, fmt.Errorf("record_insight_feedback: update: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return storeerr.NewTransient("store", 0, fmt.Errorf("record_insight_feedback: commit: %w", err))
	}
	committed = true
	return nil
}

// InsightVectorCandidates returns up to limit insights ranked by cosine
// similarity to embedding, the insight-entity analogue of
// Store.VectorCandidates. Spec §4.7's "insight inclusion" requires
// insight memories to be independently searchable and merged into the
// hybrid candidate set — not just surfaced as a link off a memory's own
// result — so an insight can itself be ranked and boosted (scenario
// S5's insight i appearing in the response alongside its source c).
func (s *Store) InsightVectorCandidates(ctx context.Context, embedding []float32, limit int) ([]SearchCandidate, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT i.id, i.content, i.tier, i.confidence, i.created_at,
			1 - (iv.embedding <=> $1::vector) AS similarity
		FROM insights i
		JOIN insight_vectors iv ON iv.insight_id = i.id
		ORDER BY iv.embedding <=> $1::vector ASC
		LIMIT $2`, FormatVector(embedding), limit)
	if err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("insight_vector_candidates: %w", err))
	}
	return scanInsightCandidates(rows)
}

// InsightTextCandidates is InsightVectorCandidates' full-text analogue,
// matching Store.TextCandidates' ts_rank normalization over the
// insights table's own generated tsvector column.
func (s *Store) InsightTextCandidates(ctx context.Context, queryText string, limit int) ([]SearchCandidate, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, content, tier, confidence, created_at,
			ts_rank(content_tsv, plainto_tsquery('english', $1), 32) AS rank
		FROM insights
		WHERE content_tsv @@ plainto_tsquery('english', $1)
		ORDER BY rank DESC
		LIMIT $2`, queryText, limit)
	if err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("insight_text_candidates: %w", err))
	}
	return scanInsightCandidates(rows)
}

func scanInsightCandidates(rows pgx.Rows) ([]SearchCandidate, error) {
	defer rows.Close()
	var out []SearchCandidate
	for rows.Next() {
		var c SearchCandidate
		var tierStr string
		if err := rows.Scan(&c.ID, &c.Content, &tierStr, &c.Importance, &c.CreatedAt, &c.Score); err != nil {
			return nil, storeerr.NewTransient("store", 0, fmt.Errorf("insight_candidates: scan: %w", err))
		}
		c.Tier = Tier(tierStr)
		c.IsInsight = true
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetInsight fetches a single insight by id, including its embedding
// and current aggregate feedback.
func (s *Store) GetInsight(ctx context.Context, id uuid.UUID) (*Insight, error) {
	var ins Insight
	var typeStr string
	var embeddingText *string
	err := s.pool.QueryRow(ctx, `
		SELECT i.id, i.content, i.type, i.confidence, i.tier, i.aggregate_feedback,
			i.version, i.previous_version_id, i.created_at, i.updated_at, iv.embedding
		FROM insights i
		LEFT JOIN insight_vectors iv ON iv.insight_id = i.id
		WHERE i.id = $1`, id,
	).Scan(&ins.ID, &ins.Content, &typeStr, &ins.Confidence, &ins.Tier, &ins.AggregateFeedback,
		&ins.Version, &ins.PreviousVersionID, &ins.CreatedAt, &ins.UpdatedAt, &embeddingText)
	if err != nil {
		return nil, storeerr.New(storeerr.NotFound, fmt.Errorf("get_insight: %w", err))
	}
	ins.Type = InsightType(typeStr)
	if embeddingText != nil {
		vec, perr := ParseVector(*embeddingText)
		if perr != nil {
			return nil, storeerr.NewTransient("store", 0, fmt.Errorf("get_insight: parse embedding: %w", perr))
		}
		ins.Embedding = vec
	}
	return &ins, nil
}
