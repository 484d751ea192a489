// Package retriever implements the single hybrid search entry point:
// fusing vector similarity, full-text match, recency and importance
// into one ranked result list, enriched with batched lineage and
// insight lookups and a consolidation-recency boost, behind a
// query-fingerprint cache. It is this spec's analogue of the teacher's
// search/ranking boundary, generalized from single-modality lookups to
// a weighted multi-modality fusion.
package retriever

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/mycelic/cogmem/internal/logging"
	"github.com/mycelic/cogmem/internal/store"
)

var log = logging.GetLogger("retriever")

// Kind enumerates the search modalities.
type Kind string

const (
	KindVector     Kind = "vector"
	KindFullText   Kind = "full-text"
	KindHybrid     Kind = "hybrid"
	KindTemporal   Kind = "temporal"
)

// Weights holds the hybrid ranking formula's coefficients.
type Weights struct {
	Vector     float64
	Text       float64
	Recency    float64
	Importance float64
}

// DefaultWeights favors vector and full-text match per spec §4.7.
func DefaultWeights() Weights {
	return Weights{Vector: 0.4, Text: 0.35, Recency: 0.15, Importance: 0.1}
}

// Request is one search invocation's full input surface.
type Request struct {
	QueryText           string
	QueryEmbedding      []float32
	Kind                Kind
	Limit               int
	Offset              int
	SimilarityThreshold float64
	Filter              store.SearchFilter
	Weights             Weights
	RecencyLambda       float64

	Explain                   bool
	IncludeLineage            bool
	IncludeInsights           bool
	IncludeConsolidationBoost bool
	LineageDepth              int
	UseCache                  bool
}

// LineageInfo carries the ancestors/descendants/insight links resolved
// for one result.
type LineageInfo struct {
	Ancestors   []LineageNode
	Descendants []LineageNode
	InsightIDs  []uuid.UUID
}

// LineageNode is one related memory at a given BFS depth.
type LineageNode struct {
	MemoryID uuid.UUID
	Depth    int
}

// Result is one ranked hit.
type Result struct {
	Memory           store.SearchCandidate
	Score            float64
	SubScores        map[string]float64
	Lineage          *LineageInfo
	BoostExplanation []string
}

// Response is Search's full output.
type Response struct {
	Results             []Result
	DBTimeMs            int64
	LineageTimeMs       int64
	ConsolidationTimeMs int64
	CacheHit            bool
	LineageUnavailable  bool
	ConsolidationUnavailable bool
}

// Config holds Retriever's tunables.
type Config struct {
	Weights                      Weights
	RecencyLambda                float64
	RecentConsolidationWindow    time.Duration
	ConsolidationBoostMultiplier float64
	InsightImportanceWeight     float64
	InsightConfidenceThreshold  float64
	LineageDepth                int
	CacheTTL                    time.Duration
	CacheMaxEntries             int
}

// DefaultConfig returns spec §4.7's stated defaults.
func DefaultConfig() Config {
	return Config{
		Weights:                      DefaultWeights(),
		RecencyLambda:                0.05,
		RecentConsolidationWindow:    24 * time.Hour,
		ConsolidationBoostMultiplier: 2.0,
		InsightImportanceWeight:      1.5,
		InsightConfidenceThreshold:   0.6,
		LineageDepth:                 3,
		CacheTTL:                     5 * time.Minute,
		CacheMaxEntries:              100,
	}
}

// Retriever answers Search requests.
type Retriever struct {
	store *store.Store
	cfg   Config
	cache *fingerprintCache
	group singleflight.Group
}

// New constructs a Retriever over store with cfg.
func New(s *store.Store, cfg Config) *Retriever {
	return &Retriever{
		store: s,
		cfg:   cfg,
		cache: newFingerprintCache(cfg.CacheMaxEntries, cfg.CacheTTL),
	}
}

// InvalidateCache bumps the cache's version counter, discarding every
// entry on next touch. Call after any write (create/update/soft-delete/
// migration) per spec §4.7's cache-invalidation rule.
func (r *Retriever) InvalidateCache() { r.cache.bump() }

// Search answers req. Identical concurrent requests for an uncached
// fingerprint are collapsed into a single Store round-trip via
// singleflight.
func (r *Retriever) Search(ctx context.Context, req Request) (Response, error) {
	r.normalize(&req)

	key := fingerprint(req)
	if req.UseCache {
		if resp, ok := r.cache.get(key); ok {
			resp.CacheHit = true
			return resp, nil
		}
	}

	groupKey := strconv.FormatUint(key, 36)
	v, err, _ := r.group.Do(groupKey, func() (interface{}, error) {
		resp, err := r.search(ctx, req)
		return resp, err
	})
	if err != nil {
		return Response{}, err
	}
	resp := v.(Response)
	resp.CacheHit = false

	if req.UseCache {
		r.cache.set(key, resp)
	}
	return resp, nil
}

func (r *Retriever) normalize(req *Request) {
	if req.Limit <= 0 {
		req.Limit = 10
	}
	if req.Weights == (Weights{}) {
		req.Weights = r.cfg.Weights
	}
	if req.RecencyLambda == 0 {
		req.RecencyLambda = r.cfg.RecencyLambda
	}
	if req.LineageDepth == 0 {
		req.LineageDepth = r.cfg.LineageDepth
	}
	if req.Kind == "" {
		req.Kind = KindHybrid
	}
}

func (r *Retriever) search(ctx context.Context, req Request) (Response, error) {
	dbStart := time.Now()

	candidatesByID, err := r.fetchCandidates(ctx, req)
	if err != nil {
		return Response{}, err
	}

	results := r.rank(candidatesByID, req)

	if req.Offset > 0 && req.Offset < len(results) {
		results = results[req.Offset:]
	} else if req.Offset >= len(results) {
		results = nil
	}
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}

	resp := Response{Results: results, DBTimeMs: time.Since(dbStart).Milliseconds()}

	if req.IncludeConsolidationBoost {
		r.applyConsolidationBoost(ctx, &resp, req)
	}
	if req.IncludeLineage || req.IncludeInsights {
		r.enrich(ctx, &resp, req)
	}

	return resp, nil
}

// fetchCandidates runs the modality-appropriate Store primitives and
// returns a deduplicated map of candidate id -> per-modality raw
// scores. For hybrid, the candidate set is the union of the top-K of
// each modality, K = max(limit*4, 50). When IncludeInsights is set,
// insight entities are searched the same way against the same query and
// merged into the same candidate map (keyed by their own id, flagged
// via SearchCandidate.IsInsight) so an insight can itself surface and
// rank as a result, not merely appear as a link off a memory's result
// (spec §4.7's "insight inclusion").
func (r *Retriever) fetchCandidates(ctx context.Context, req Request) (map[uuid.UUID]*scoredCandidate, error) {
	k := req.Limit * 4
	if k < 50 {
		k = 50
	}

	out := make(map[uuid.UUID]*scoredCandidate)
	addVector := func(cands []store.SearchCandidate) {
		for _, c := range cands {
			sc := out[c.ID]
			if sc == nil {
				sc = &scoredCandidate{candidate: c}
				out[c.ID] = sc
			}
			sc.vectorScore = c.Score
			sc.hasVector = true
		}
	}
	addText := func(cands []store.SearchCandidate) {
		for _, c := range cands {
			sc := out[c.ID]
			if sc == nil {
				sc = &scoredCandidate{candidate: c}
				out[c.ID] = sc
			}
			sc.textScore = normalizeRank(c.Score)
			sc.hasText = true
		}
	}

	switch req.Kind {
	case KindVector:
		cands, err := r.store.VectorCandidates(ctx, req.QueryEmbedding, req.Filter, k)
		if err != nil {
			return nil, err
		}
		addVector(cands)
		if req.IncludeInsights {
			insightCands, err := r.store.InsightVectorCandidates(ctx, req.QueryEmbedding, k)
			if err != nil {
				return nil, err
			}
			addVector(insightCands)
		}
	case KindFullText:
		cands, err := r.store.TextCandidates(ctx, req.QueryText, req.Filter, k)
		if err != nil {
			return nil, err
		}
		addText(cands)
		if req.IncludeInsights {
			insightCands, err := r.store.InsightTextCandidates(ctx, req.QueryText, k)
			if err != nil {
				return nil, err
			}
			addText(insightCands)
		}
	case KindTemporal:
		cands, err := r.store.RecencyCandidates(ctx, req.Filter, k)
		if err != nil {
			return nil, err
		}
		for _, c := range cands {
			out[c.ID] = &scoredCandidate{candidate: c}
		}
	default: // hybrid
		if len(req.QueryEmbedding) > 0 {
			cands, err := r.store.VectorCandidates(ctx, req.QueryEmbedding, req.Filter, k)
			if err != nil {
				return nil, err
			}
			addVector(cands)
			if req.IncludeInsights {
				insightCands, err := r.store.InsightVectorCandidates(ctx, req.QueryEmbedding, k)
				if err != nil {
					return nil, err
				}
				addVector(insightCands)
			}
		}
		if req.QueryText != "" {
			cands, err := r.store.TextCandidates(ctx, req.QueryText, req.Filter, k)
			if err != nil {
				return nil, err
			}
			addText(cands)
			if req.IncludeInsights {
				insightCands, err := r.store.InsightTextCandidates(ctx, req.QueryText, k)
				if err != nil {
					return nil, err
				}
				addText(insightCands)
			}
		}
	}

	if req.SimilarityThreshold > 0 {
		for id, sc := range out {
			if sc.hasVector && sc.vectorScore < req.SimilarityThreshold {
				delete(out, id)
			}
		}
	}

	return out, nil
}

type scoredCandidate struct {
	candidate   store.SearchCandidate
	vectorScore float64
	textScore   float64
	hasVector   bool
	hasText     bool
}

// normalizeRank maps ts_rank's already-normalized-by-32 output (which
// remains in (0, ~1] but unbounded above for pathological inputs) into
// a clean [0,1] band.
func normalizeRank(rank float64) float64 {
	if rank < 0 {
		return 0
	}
	if rank > 1 {
		return 1
	}
	return rank
}

func (r *Retriever) rank(candidates map[uuid.UUID]*scoredCandidate, req Request) []Result {
	now := time.Now().UTC()
	results := make([]Result, 0, len(candidates))

	for _, sc := range candidates {
		c := sc.candidate
		recency := recencyScore(c.LastAccessedAt, c.CreatedAt, now, req.RecencyLambda)

		sub := map[string]float64{
			"vector":     sc.vectorScore,
			"text":       sc.textScore,
			"recency":    recency,
			"importance": c.Importance,
		}

		score := req.Weights.Vector*sc.vectorScore +
			req.Weights.Text*sc.textScore +
			req.Weights.Recency*recency +
			req.Weights.Importance*c.Importance

		if req.Kind == KindTemporal {
			score = recency
		}

		var boostExplanation []string
		if c.IsInsight && c.Importance >= r.cfg.InsightConfidenceThreshold {
			score *= r.cfg.InsightImportanceWeight
			boostExplanation = append(boostExplanation,
				fmt.Sprintf("insight_boost x%.2f (self)", r.cfg.InsightImportanceWeight))
		}

		results = append(results, Result{Memory: c, Score: score, SubScores: sub, BoostExplanation: boostExplanation})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

func recencyScore(lastAccessed *time.Time, created time.Time, now time.Time, lambda float64) float64 {
	ref := created
	if lastAccessed != nil {
		ref = *lastAccessed
	}
	deltaHours := now.Sub(ref).Hours()
	if deltaHours < 0 {
		deltaHours = 0
	}
	return math.Exp(-deltaHours * lambda)
}

// applyConsolidationBoost multiplies the score of every result whose
// memory was consolidated within RecentConsolidationWindow, using a
// single batched Store query rather than one lookup per result.
func (r *Retriever) applyConsolidationBoost(ctx context.Context, resp *Response, req Request) {
	start := time.Now()
	ids := make([]uuid.UUID, len(resp.Results))
	for i, res := range resp.Results {
		ids[i] = res.Memory.ID
	}

	recent, err := r.store.RecentConsolidationIDs(ctx, ids, r.cfg.RecentConsolidationWindow)
	if err != nil {
		log.Warn("consolidation boost lookup failed", "error", err)
		resp.ConsolidationUnavailable = true
		resp.ConsolidationTimeMs = time.Since(start).Milliseconds()
		return
	}

	for i := range resp.Results {
		if recent[resp.Results[i].Memory.ID] {
			resp.Results[i].Score *= r.cfg.ConsolidationBoostMultiplier
			resp.Results[i].BoostExplanation = append(resp.Results[i].BoostExplanation,
				fmt.Sprintf("consolidation_boost x%.2f", r.cfg.ConsolidationBoostMultiplier))
		}
	}
	sort.Slice(resp.Results, func(i, j int) bool { return resp.Results[i].Score > resp.Results[j].Score })
	resp.ConsolidationTimeMs = time.Since(start).Milliseconds()
}

// enrich resolves lineage (ancestors/descendants up to LineageDepth)
// and linked insights for every result, in O(depth) batched queries.
// Per spec §4.7, failures here never drop the base ranked results: a
// lineage failure sets LineageUnavailable, and an insight lookup
// failure is logged and leaves the results without insight links.
func (r *Retriever) enrich(ctx context.Context, resp *Response, req Request) {
	start := time.Now()
	ids := make([]uuid.UUID, len(resp.Results))
	for i, res := range resp.Results {
		ids[i] = res.Memory.ID
	}

	if req.IncludeLineage {
		lineageByID, err := r.resolveLineage(ctx, ids, req.LineageDepth)
		if err != nil {
			log.Warn("lineage resolution failed", "error", err)
			resp.LineageUnavailable = true
		} else {
			for i := range resp.Results {
				if info, ok := lineageByID[resp.Results[i].Memory.ID]; ok {
					resp.Results[i].Lineage = info
				}
			}
		}
	}

	if req.IncludeInsights {
		insightsByID, err := r.store.InsightsForMemories(ctx, ids)
		if err != nil {
			log.Warn("insight lookup failed", "error", err)
		} else {
			for i := range resp.Results {
				ins := insightsByID[resp.Results[i].Memory.ID]
				if len(ins) == 0 {
					continue
				}
				if resp.Results[i].Lineage == nil {
					resp.Results[i].Lineage = &LineageInfo{}
				}
				for _, in := range ins {
					resp.Results[i].Lineage.InsightIDs = append(resp.Results[i].Lineage.InsightIDs, in.ID)
					if in.Confidence >= r.cfg.InsightConfidenceThreshold {
						resp.Results[i].Score *= r.cfg.InsightImportanceWeight
						resp.Results[i].BoostExplanation = append(resp.Results[i].BoostExplanation,
							fmt.Sprintf("insight_boost x%.2f (insight=%s)", r.cfg.InsightImportanceWeight, in.ID))
					}
				}
			}
			sort.Slice(resp.Results, func(i, j int) bool { return resp.Results[i].Score > resp.Results[j].Score })
		}
	}

	resp.LineageTimeMs = time.Since(start).Milliseconds()
}

// resolveLineage fetches every link within depth of roots in a single
// batched store.LineageEdges call and attributes each edge back to
// whichever root(s) it touches. memory_links.depth_hint is written at
// link-creation time (see store.LinkAncestry), so no BFS walk is needed
// at read time: one query covers every requested depth.
func (r *Retriever) resolveLineage(ctx context.Context, roots []uuid.UUID, depth int) (map[uuid.UUID]*LineageInfo, error) {
	info := make(map[uuid.UUID]*LineageInfo, len(roots))
	rootSet := make(map[uuid.UUID]bool, len(roots))
	for _, id := range roots {
		info[id] = &LineageInfo{}
		rootSet[id] = true
	}

	edges, err := r.store.LineageEdges(ctx, roots, depth)
	if err != nil {
		return nil, err
	}

	for _, e := range edges {
		if rootSet[e.MemoryID] {
			info[e.MemoryID].Descendants = append(info[e.MemoryID].Descendants, LineageNode{MemoryID: e.LinkedID, Depth: e.Depth})
		}
		if rootSet[e.LinkedID] {
			info[e.LinkedID].Ancestors = append(info[e.LinkedID].Ancestors, LineageNode{MemoryID: e.MemoryID, Depth: e.Depth})
		}
	}

	return info, nil
}
