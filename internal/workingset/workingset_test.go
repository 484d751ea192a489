package workingset

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelic/cogmem/internal/store"
)

func at(hoursAgo float64, now time.Time) *time.Time {
	t := now.Add(-time.Duration(hoursAgo * float64(time.Hour)))
	return &t
}

func TestVictimScore_HigherAgeIncreasesScore(t *testing.T) {
	now := time.Now().UTC()
	fresh := store.EvictionCandidate{AccessCount: 1, LastAccessedAt: at(1, now), Importance: 0.5}
	stale := store.EvictionCandidate{AccessCount: 1, LastAccessedAt: at(100, now), Importance: 0.5}

	assert.Greater(t, victimScore(stale, now), victimScore(fresh, now))
}

func TestVictimScore_HigherAccessCountDecreasesScore(t *testing.T) {
	now := time.Now().UTC()
	rare := store.EvictionCandidate{AccessCount: 0, LastAccessedAt: at(10, now), Importance: 0.5}
	frequent := store.EvictionCandidate{AccessCount: 50, LastAccessedAt: at(10, now), Importance: 0.5}

	assert.Greater(t, victimScore(rare, now), victimScore(frequent, now))
}

func TestVictimScore_HigherImportanceDecreasesScore(t *testing.T) {
	now := time.Now().UTC()
	unimportant := store.EvictionCandidate{AccessCount: 1, LastAccessedAt: at(10, now), Importance: 0.1}
	important := store.EvictionCandidate{AccessCount: 1, LastAccessedAt: at(10, now), Importance: 0.9}

	assert.Greater(t, victimScore(unimportant, now), victimScore(important, now))
}

func TestVictimScore_NeverAccessedUsesCreatedAt(t *testing.T) {
	now := time.Now().UTC()
	c := store.EvictionCandidate{
		AccessCount: 0,
		CreatedAt:   now.Add(-48 * time.Hour),
		Importance:  0.5,
	}
	score := victimScore(c, now)
	assert.Greater(t, score, 0.0)
}

func TestSelectVictim_PicksHighestScore(t *testing.T) {
	now := time.Now().UTC()
	low := store.EvictionCandidate{ID: uuid.New(), AccessCount: 50, LastAccessedAt: at(1, now), Importance: 0.9}
	high := store.EvictionCandidate{ID: uuid.New(), AccessCount: 0, LastAccessedAt: at(200, now), Importance: 0.1}

	victim, ok := selectVictim([]store.EvictionCandidate{low, high}, now)
	require.True(t, ok)
	assert.Equal(t, high.ID, victim.ID)
}

func TestSelectVictim_TieBrokenByOldestLastAccessed(t *testing.T) {
	now := time.Now().UTC()
	// importance 1.0 makes both scores exactly 0 whatever their age, so
	// only the last-accessed tie-break can pick b, the older one
	a := store.EvictionCandidate{ID: uuid.New(), AccessCount: 1, LastAccessedAt: at(10, now), Importance: 1.0}
	b := store.EvictionCandidate{ID: uuid.New(), AccessCount: 1, LastAccessedAt: at(20, now), Importance: 1.0}

	victim, ok := selectVictim([]store.EvictionCandidate{a, b}, now)
	require.True(t, ok)
	assert.Equal(t, b.ID, victim.ID)
}

func TestSelectVictim_EmptyCandidatesReturnsFalse(t *testing.T) {
	_, ok := selectVictim(nil, time.Now())
	assert.False(t, ok)
}

func TestNew_ExposesBoundAndGauge(t *testing.T) {
	ws := New(nil, 7)
	assert.Equal(t, 7, ws.Bound())
	assert.NotNil(t, ws.PressureGauge())
}
