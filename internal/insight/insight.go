// Package insight implements InsightLinker: the boundary that accepts
// externally-produced insights (this system never generates insight
// content itself — that is an external collaborator's job, the
// InsightSource capability), validates and persists them, links them
// to their source memories, and applies versioning, feedback
// smoothing, and embedding-similarity deduplication.
package insight

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mycelic/cogmem/internal/logging"
	"github.com/mycelic/cogmem/internal/mathkernel"
	"github.com/mycelic/cogmem/internal/store"
	"github.com/mycelic/cogmem/internal/storeerr"
)

var log = logging.GetLogger("insight")

const minContentLength = 10

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Config holds InsightLinker's tunables.
type Config struct {
	DedupSimilarityThreshold float64
	DedupLookback            int
	FeedbackSmoothing        float64 // alpha in the EMA update, (0,1]
}

// DefaultConfig returns spec §4.8's stated defaults.
func DefaultConfig() Config {
	return Config{
		DedupSimilarityThreshold: 0.85,
		DedupLookback:            50,
		FeedbackSmoothing:        0.2,
	}
}

// Proposal is an externally-produced insight awaiting validation and
// persistence.
type Proposal struct {
	Content       string
	Type          store.InsightType
	Confidence    float64
	SourceIDs     []uuid.UUID
	Embedding     []float32
	PreviousVersionID *uuid.UUID
}

// Linker is the InsightLinker boundary.
type Linker struct {
	store *store.Store
	cfg   Config
}

// New constructs a Linker over store with cfg.
func New(s *store.Store, cfg Config) *Linker {
	return &Linker{store: s, cfg: cfg}
}

func (p Proposal) validate() error {
	if len(p.Content) < minContentLength {
		return storeerr.New(storeerr.InvalidInput, fmt.Errorf("insight content must be at least %d characters", minContentLength))
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return storeerr.New(storeerr.InvalidInput, fmt.Errorf("insight confidence must be in [0,1], got %f", p.Confidence))
	}
	if len(p.SourceIDs) == 0 {
		return storeerr.New(storeerr.InvalidInput, fmt.Errorf("insight must reference at least one source memory"))
	}
	return nil
}

// Outcome reports what Submit did with a proposal.
type Outcome struct {
	Insight *store.Insight
	Merged  bool // true if deduplicated into an existing insight
}

// Submit validates p, checks source memories exist and are active,
// deduplicates against recent insights by embedding cosine similarity,
// and either merges into an existing insight or persists a new one.
func (l *Linker) Submit(ctx context.Context, p Proposal) (Outcome, error) {
	if err := p.validate(); err != nil {
		return Outcome{}, err
	}

	exist, err := l.store.ActiveMemoriesExist(ctx, p.SourceIDs)
	if err != nil {
		return Outcome{}, err
	}
	if !exist {
		return Outcome{}, storeerr.New(storeerr.InvalidInput, fmt.Errorf("one or more source memories do not exist or are not active"))
	}

	if len(p.Embedding) > 0 {
		if merged, err := l.tryMerge(ctx, p); err != nil {
			return Outcome{}, err
		} else if merged != nil {
			return Outcome{Insight: merged, Merged: true}, nil
		}
	}

	now := time.Now().UTC()
	ins := &store.Insight{
		ID:                uuid.New(),
		Content:           p.Content,
		Type:              p.Type,
		Confidence:        p.Confidence,
		SourceMemoryIDs:   p.SourceIDs,
		Tier:              store.TierWorking,
		Version:           1,
		PreviousVersionID: p.PreviousVersionID,
		Embedding:         p.Embedding,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if p.PreviousVersionID != nil {
		prev, err := l.store.GetInsight(ctx, *p.PreviousVersionID)
		if err == nil {
			ins.Version = prev.Version + 1
		}
	}

	if err := l.store.InsertInsight(ctx, *ins, p.SourceIDs); err != nil {
		return Outcome{}, err
	}
	return Outcome{Insight: ins}, nil
}

// tryMerge checks p's embedding against the DedupLookback most recent
// insights; if any clears the similarity threshold, it merges p into
// that insight (keeping the higher confidence and appending p's
// sources) and returns the merged insight. Returns (nil, nil) when no
// match is found.
func (l *Linker) tryMerge(ctx context.Context, p Proposal) (*store.Insight, error) {
	recent, err := l.store.RecentInsights(ctx, l.cfg.DedupLookback)
	if err != nil {
		return nil, err
	}

	var best *store.Insight
	var bestSim float64
	for i := range recent {
		cand := recent[i]
		if len(cand.Embedding) == 0 {
			continue
		}
		sim := mathkernel.CosineSimilarity(p.Embedding, cand.Embedding)
		if sim >= l.cfg.DedupSimilarityThreshold && sim > bestSim {
			best = &cand
			bestSim = sim
		}
	}
	if best == nil {
		return nil, nil
	}

	confidence := best.Confidence
	if p.Confidence > confidence {
		confidence = p.Confidence
	}
	if err := l.store.MergeInsightSources(ctx, best.ID, p.SourceIDs, confidence); err != nil {
		return nil, err
	}

	log.Info("merged insight via dedup", "insight_id", best.ID, "similarity", bestSim)
	best.Confidence = confidence
	return best, nil
}

// Feedback applies rating (one of -2, -1, 1) to insightID's aggregate
// feedback score using an exponential-moving-average smoothing rule:
// agg' = agg + alpha*(signal - agg), where signal maps the discrete
// rating onto [-1,1].
func (l *Linker) Feedback(ctx context.Context, insightID uuid.UUID, rating int) (float64, error) {
	if rating != -2 && rating != -1 && rating != 1 {
		return 0, storeerr.New(storeerr.InvalidInput, fmt.Errorf("rating must be one of -2, -1, 1, got %d", rating))
	}

	ins, err := l.store.GetInsight(ctx, insightID)
	if err != nil {
		return 0, err
	}

	signal := float64(rating) / 2.0
	alpha := l.cfg.FeedbackSmoothing
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultConfig().FeedbackSmoothing
	}
	newAggregate := ins.AggregateFeedback + alpha*(signal-ins.AggregateFeedback)
	newAggregate = clamp(newAggregate, -1, 1)

	if err := l.store.RecordInsightFeedback(ctx, insightID, rating, newAggregate); err != nil {
		return 0, err
	}
	return newAggregate, nil
}
