package insight

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/mycelic/cogmem/internal/store"
	"github.com/mycelic/cogmem/internal/storeerr"
)

func validProposal() Proposal {
	return Proposal{
		Content:    "a sufficiently long insight description",
		Type:       store.InsightLearning,
		Confidence: 0.8,
		SourceIDs:  []uuid.UUID{uuid.New()},
	}
}

func TestProposal_ValidateAcceptsWellFormed(t *testing.T) {
	assert.NoError(t, validProposal().validate())
}

func TestProposal_ValidateRejectsShortContent(t *testing.T) {
	p := validProposal()
	p.Content = "too short"
	err := p.validate()
	assert.Error(t, err)
	kind, ok := storeerr.KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, storeerr.InvalidInput, kind)
}

func TestProposal_ValidateRejectsOutOfRangeConfidence(t *testing.T) {
	p := validProposal()
	p.Confidence = 1.5
	assert.Error(t, p.validate())

	p.Confidence = -0.1
	assert.Error(t, p.validate())
}

func TestProposal_ValidateRejectsNoSources(t *testing.T) {
	p := validProposal()
	p.SourceIDs = nil
	assert.Error(t, p.validate())
}

func TestClamp_Bounds(t *testing.T) {
	assert.Equal(t, -1.0, clamp(-5, -1, 1))
	assert.Equal(t, 1.0, clamp(5, -1, 1))
	assert.Equal(t, 0.3, clamp(0.3, -1, 1))
}

func TestDefaultConfig_MatchesStatedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 0.85, cfg.DedupSimilarityThreshold)
	assert.Equal(t, 0.2, cfg.FeedbackSmoothing)
}

func TestFeedback_RejectsInvalidRatingBeforeTouchingStore(t *testing.T) {
	l := New(nil, DefaultConfig())
	_, err := l.Feedback(nil, uuid.New(), 2)
	assert.Error(t, err)
	kind, ok := storeerr.KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, storeerr.InvalidInput, kind)
}
