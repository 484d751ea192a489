package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mycelic/cogmem/internal/storeerr"
)

// SearchFilter narrows any of the search primitives below. A zero value
// matches every active, non-frozen memory.
type SearchFilter struct {
	Tiers         []Tier
	MinImportance *float64
	MaxImportance *float64
	After         *time.Time
	Before        *time.Time
	Tags          []string
}

// whereClause renders f as a SQL fragment starting at bind position
// startArg, returning the fragment (always beginning with "AND"), its
// bind arguments, and the next free bind position.
func (f SearchFilter) whereClause(startArg int) (string, []any, int) {
	var clauses []string
	var args []any
	arg := startArg

	clauses = append(clauses, "status = 'active'")
	if len(f.Tiers) > 0 {
		tierStrs := make([]string, len(f.Tiers))
		for i, t := range f.Tiers {
			tierStrs[i] = string(t)
		}
		clauses = append(clauses, fmt.Sprintf("tier = ANY($%d)", arg))
		args = append(args, tierStrs)
		arg++
	} else {
		clauses = append(clauses, "tier != 'frozen'")
	}
	if f.MinImportance != nil {
		clauses = append(clauses, fmt.Sprintf("importance >= $%d", arg))
		args = append(args, *f.MinImportance)
		arg++
	}
	if f.MaxImportance != nil {
		clauses = append(clauses, fmt.Sprintf("importance <= $%d", arg))
		args = append(args, *f.MaxImportance)
		arg++
	}
	if f.After != nil {
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", arg))
		args = append(args, *f.After)
		arg++
	}
	if f.Before != nil {
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", arg))
		args = append(args, *f.Before)
		arg++
	}
	if len(f.Tags) > 0 {
		clauses = append(clauses, fmt.Sprintf("tags && $%d", arg))
		args = append(args, f.Tags)
		arg++
	}

	return " AND " + strings.Join(clauses, " AND "), args, arg
}

// SearchCandidate is a minimal projection of a memory plus one
// modality's raw score, returned by the search primitives below. An
// insight entity merged into the candidate set via
// Store.InsightVectorCandidates/InsightTextCandidates (spec §4.7's
// "insight memories, flagged via metadata, ... included in candidates")
// is represented the same way, with IsInsight set and Importance
// repurposed to carry the insight's confidence.
type SearchCandidate struct {
	ID                    uuid.UUID
	Content               string
	Tier                  Tier
	Importance            float64
	ConsolidationStrength float64
	LastAccessedAt        *time.Time
	CreatedAt             time.Time
	Score                 float64
	IsInsight             bool
}

// VectorCandidates returns up to limit active memories ranked by cosine
// similarity to embedding, nearest first. Similarity is derived from
// pgvector's cosine-distance operator (<=>), which returns 1 - cosine
// similarity.
func (s *Store) VectorCandidates(ctx context.Context, embedding []float32, filter SearchFilter, limit int) ([]SearchCandidate, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	where, args, next := filter.whereClause(2)
	query := fmt.Sprintf(`
		SELECT id, content, tier, importance, consolidation_strength, last_accessed_at, created_at,
			1 - (embedding <=> $1::vector) AS similarity
		FROM memories
		WHERE embedding IS NOT NULL %s
		ORDER BY embedding <=> $1::vector ASC
		LIMIT $%d`, where, next)

	allArgs := append([]any{FormatVector(embedding)}, args...)
	allArgs = append(allArgs, limit)

	return s.scanSearchCandidates(ctx, query, allArgs...)
}

// TextCandidates returns up to limit active memories matching query
// via the generated tsvector column, ranked by ts_rank normalized to
// [0,1] (normalization flag 32: rank/(rank+1)), the engine-native
// analogue of a bm25 score.
func (s *Store) TextCandidates(ctx context.Context, queryText string, filter SearchFilter, limit int) ([]SearchCandidate, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, nil
	}
	where, args, next := filter.whereClause(2)
	query := fmt.Sprintf(`
		SELECT id, content, tier, importance, consolidation_strength, last_accessed_at, created_at,
			ts_rank(content_tsv, plainto_tsquery('english', $1), 32) AS rank
		FROM memories
		WHERE content_tsv @@ plainto_tsquery('english', $1) %s
		ORDER BY rank DESC
		LIMIT $%d`, where, next)

	allArgs := append([]any{queryText}, args...)
	allArgs = append(allArgs, limit)

	return s.scanSearchCandidates(ctx, query, allArgs...)
}

// RecencyCandidates returns up to limit active memories ordered by
// last-accessed descending, for the `temporal` search kind.
func (s *Store) RecencyCandidates(ctx context.Context, filter SearchFilter, limit int) ([]SearchCandidate, error) {
	where, args, next := filter.whereClause(1)
	query := fmt.Sprintf(`
		SELECT id, content, tier, importance, consolidation_strength, last_accessed_at, created_at, 0
		FROM memories
		WHERE true %s
		ORDER BY last_accessed_at DESC NULLS LAST
		LIMIT $%d`, where, next)

	args = append(args, limit)
	return s.scanSearchCandidates(ctx, query, args...)
}

func (s *Store) scanSearchCandidates(ctx context.Context, query string, args ...any) ([]SearchCandidate, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("search_candidates: %w", err))
	}
	defer rows.Close()

	var out []SearchCandidate
	for rows.Next() {
		var c SearchCandidate
		var tierStr string
		if err := rows.Scan(&c.ID, &c.Content, &tierStr, &c.Importance, &c.ConsolidationStrength,
			&c.LastAccessedAt, &c.CreatedAt, &c.Score); err != nil {
			return nil, storeerr.NewTransient("store", 0, fmt.Errorf("search_candidates: scan: %w", err))
		}
		c.Tier = Tier(tierStr)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("search_candidates: iterate: %w", err))
	}
	return out, nil
}

// RecentConsolidationIDs returns the subset of ids whose most recent
// memory_consolidation_log entry falls within window, in a single
// batched query, for Retriever's consolidation-boost enrichment.
func (s *Store) RecentConsolidationIDs(ctx context.Context, ids []uuid.UUID, window time.Duration) (map[uuid.UUID]bool, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cutoff := time.Now().UTC().Add(-window)
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT memory_id FROM memory_consolidation_log
		WHERE memory_id = ANY($1) AND occurred_at >= $2`, ids, cutoff)
	if err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("recent_consolidation_ids: %w", err))
	}
	defer rows.Close()

	out := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, storeerr.NewTransient("store", 0, fmt.Errorf("recent_consolidation_ids: scan: %w", err))
		}
		out[id] = true
	}
	return out, rows.Err()
}

// LineageEdge is one parent/child/insight link discovered while
// resolving lineage for a set of memory ids.
type LineageEdge struct {
	MemoryID    uuid.UUID
	LinkedID    uuid.UUID
	RelationKind string
	Depth       int
}

// LineageEdges returns every memory_links row touching any of ids (in
// either direction) whose depth_hint is within maxDepth, in a single
// batched query. Depth is precomputed at link-write time into
// depth_hint rather than walked breadth-first at read time, so lineage
// resolution for any result set costs exactly one query regardless of
// requested depth (O(1) beats the spec's O(depth) floor).
func (s *Store) LineageEdges(ctx context.Context, ids []uuid.UUID, maxDepth int) ([]LineageEdge, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT memory_id, linked_id, relation_kind, depth_hint
		FROM memory_links
		WHERE (memory_id = ANY($1) OR linked_id = ANY($1)) AND depth_hint <= $2`, ids, maxDepth)
	if err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("lineage_edges: %w", err))
	}
	defer rows.Close()

	var out []LineageEdge
	for rows.Next() {
		var e LineageEdge
		if err := rows.Scan(&e.MemoryID, &e.LinkedID, &e.RelationKind, &e.Depth); err != nil {
			return nil, storeerr.NewTransient("store", 0, fmt.Errorf("lineage_edges: scan: %w", err))
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// InsightsForMemories returns every insight linked to any of ids via
// insight_sources, keyed by the source memory id, in one batched query.
func (s *Store) InsightsForMemories(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]Insight, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT s.memory_id, i.id, i.content, i.type, i.confidence, i.created_at
		FROM insight_sources s
		JOIN insights i ON i.id = s.insight_id
		WHERE s.memory_id = ANY($1)`, ids)
	if err != nil {
		return nil, storeerr.NewTransient("store", 0, fmt.Errorf("insights_for_memories: %w", err))
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]Insight)
	for rows.Next() {
		var memoryID uuid.UUID
		var ins Insight
		var typeStr string
		if err := rows.Scan(&memoryID, &ins.ID, &ins.Content, &typeStr, &ins.Confidence, &ins.CreatedAt); err != nil {
			return nil, storeerr.NewTransient("store", 0, fmt.Errorf("insights_for_memories: scan: %w", err))
		}
		ins.Type = InsightType(typeStr)
		out[memoryID] = append(out[memoryID], ins)
	}
	return out, rows.Err()
}
