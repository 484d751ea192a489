package retriever

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/mycelic/cogmem/internal/store"
)

func TestFingerprint_StableForIdenticalRequest(t *testing.T) {
	req := Request{
		QueryText:      "three-component scoring",
		QueryEmbedding: []float32{0.1, 0.2, 0.3},
		Kind:           KindHybrid,
		Limit:          10,
		Filter:         store.SearchFilter{Tiers: []store.Tier{store.TierWorking, store.TierWarm}},
		Weights:        DefaultWeights(),
	}
	a := fingerprint(req)
	b := fingerprint(req)
	assert.Equal(t, a, b)
}

func TestFingerprint_DiffersOnQueryText(t *testing.T) {
	base := Request{QueryText: "alpha", Kind: KindHybrid, Weights: DefaultWeights()}
	other := base
	other.QueryText = "beta"
	assert.NotEqual(t, fingerprint(base), fingerprint(other))
}

func TestFingerprint_TierOrderDoesNotMatter(t *testing.T) {
	a := Request{Filter: store.SearchFilter{Tiers: []store.Tier{store.TierWorking, store.TierWarm}}, Weights: DefaultWeights()}
	b := Request{Filter: store.SearchFilter{Tiers: []store.Tier{store.TierWarm, store.TierWorking}}, Weights: DefaultWeights()}
	assert.Equal(t, fingerprint(a), fingerprint(b))
}

func TestFingerprintCache_SetGetRoundTrip(t *testing.T) {
	c := newFingerprintCache(10, time.Minute)
	c.set(42, Response{DBTimeMs: 7})

	got, ok := c.get(42)
	assert.True(t, ok)
	assert.Equal(t, int64(7), got.DBTimeMs)
}

func TestFingerprintCache_EvictsOldestOverCapacity(t *testing.T) {
	c := newFingerprintCache(2, time.Minute)
	c.set(1, Response{})
	c.set(2, Response{})
	c.set(3, Response{})

	_, ok := c.get(1)
	assert.False(t, ok)
	_, ok = c.get(2)
	assert.True(t, ok)
	_, ok = c.get(3)
	assert.True(t, ok)
}

func TestFingerprintCache_ExpiresAfterTTL(t *testing.T) {
	c := newFingerprintCache(10, time.Millisecond)
	c.set(1, Response{})
	time.Sleep(5 * time.Millisecond)

	_, ok := c.get(1)
	assert.False(t, ok)
}

func TestFingerprintCache_BumpInvalidatesAllEntries(t *testing.T) {
	c := newFingerprintCache(10, time.Minute)
	c.set(1, Response{})
	c.bump()

	_, ok := c.get(1)
	assert.False(t, ok)
}

func TestFingerprintCache_ZeroCapacityNeverStores(t *testing.T) {
	c := newFingerprintCache(0, time.Minute)
	c.set(1, Response{})
	_, ok := c.get(1)
	assert.False(t, ok)
}

func TestRecencyScore_DecaysWithElapsedTime(t *testing.T) {
	now := time.Now().UTC()
	recent := now.Add(-1 * time.Hour)
	old := now.Add(-1000 * time.Hour)

	assert.Greater(t, recencyScore(&recent, now, now, 0.05), recencyScore(&old, now, now, 0.05))
}

func TestRecencyScore_FallsBackToCreatedAtWhenNeverAccessed(t *testing.T) {
	now := time.Now().UTC()
	created := now.Add(-10 * time.Hour)
	score := recencyScore(nil, created, now, 0.05)
	assert.Greater(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestNormalizeRank_ClampsToUnitInterval(t *testing.T) {
	assert.Equal(t, 0.0, normalizeRank(-0.5))
	assert.Equal(t, 1.0, normalizeRank(1.5))
	assert.Equal(t, 0.5, normalizeRank(0.5))
}

func TestRank_OrdersByWeightedScoreDescending(t *testing.T) {
	r := &Retriever{}
	now := time.Now().UTC()

	lowID, highID := uuid.New(), uuid.New()
	candidates := map[uuid.UUID]*scoredCandidate{
		lowID:  {candidate: store.SearchCandidate{ID: lowID, CreatedAt: now}, vectorScore: 0.1, hasVector: true},
		highID: {candidate: store.SearchCandidate{ID: highID, CreatedAt: now}, vectorScore: 0.9, hasVector: true},
	}

	results := r.rank(candidates, Request{Weights: Weights{Vector: 1.0}, RecencyLambda: 0.05})
	assert.Len(t, results, 2)
	assert.Equal(t, highID, results[0].Memory.ID)
}

func TestRank_TemporalKindUsesRecencyAsScore(t *testing.T) {
	r := &Retriever{}
	now := time.Now().UTC()
	recentT := now.Add(-1 * time.Hour)
	staleT := now.Add(-500 * time.Hour)

	recentID, staleID := uuid.New(), uuid.New()
	candidates := map[uuid.UUID]*scoredCandidate{
		recentID: {candidate: store.SearchCandidate{ID: recentID, LastAccessedAt: &recentT, CreatedAt: now}},
		staleID:  {candidate: store.SearchCandidate{ID: staleID, LastAccessedAt: &staleT, CreatedAt: now}},
	}

	results := r.rank(candidates, Request{Kind: KindTemporal, RecencyLambda: 0.05})
	assert.Equal(t, recentID, results[0].Memory.ID)
}

func TestRank_BoostsInsightCandidateAboveConfidenceThreshold(t *testing.T) {
	r := New(nil, DefaultConfig())
	now := time.Now().UTC()

	memID, insightID := uuid.New(), uuid.New()
	candidates := map[uuid.UUID]*scoredCandidate{
		memID: {candidate: store.SearchCandidate{ID: memID, CreatedAt: now, Importance: 0.5},
			vectorScore: 0.5, hasVector: true},
		insightID: {candidate: store.SearchCandidate{ID: insightID, CreatedAt: now, IsInsight: true, Importance: 0.91},
			vectorScore: 0.5, hasVector: true},
	}

	results := r.rank(candidates, Request{Kind: KindHybrid, Weights: Weights{Vector: 1.0}, RecencyLambda: 0.05})

	var insightResult, memResult Result
	for _, res := range results {
		if res.Memory.ID == insightID {
			insightResult = res
		} else {
			memResult = res
		}
	}
	assert.Greater(t, insightResult.Score, memResult.Score)
	assert.Contains(t, insightResult.BoostExplanation[0], "insight_boost")
}

func TestRank_NoBoostForInsightCandidateBelowConfidenceThreshold(t *testing.T) {
	r := New(nil, DefaultConfig())
	now := time.Now().UTC()

	insightID := uuid.New()
	candidates := map[uuid.UUID]*scoredCandidate{
		insightID: {candidate: store.SearchCandidate{ID: insightID, CreatedAt: now, IsInsight: true, Importance: 0.1},
			vectorScore: 0.5, hasVector: true},
	}

	results := r.rank(candidates, Request{Kind: KindHybrid, Weights: Weights{Vector: 1.0}, RecencyLambda: 0.05})
	assert.Len(t, results[0].BoostExplanation, 0)
}

func TestNormalize_FillsDefaults(t *testing.T) {
	r := New(nil, DefaultConfig())
	req := Request{}
	r.normalize(&req)

	assert.Equal(t, 10, req.Limit)
	assert.Equal(t, KindHybrid, req.Kind)
	assert.Equal(t, r.cfg.Weights, req.Weights)
	assert.Equal(t, r.cfg.LineageDepth, req.LineageDepth)
}

func TestDefaultConfig_MatchesStatedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 2.0, cfg.ConsolidationBoostMultiplier)
	assert.Equal(t, 1.5, cfg.InsightImportanceWeight)
	assert.Equal(t, 3, cfg.LineageDepth)
	assert.Equal(t, 100, cfg.CacheMaxEntries)
}
