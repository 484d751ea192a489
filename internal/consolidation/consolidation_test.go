package consolidation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/mycelic/cogmem/internal/store"
)

type stubFreezer struct {
	ids []uuid.UUID
}

func (s *stubFreezer) FreezeIDs(_ context.Context, ids []uuid.UUID) (int, error) {
	s.ids = append(s.ids, ids...)
	return len(ids), nil
}

func TestDefaultConfig_MatchesStatedDefaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 1000, cfg.BatchSize)
	assert.Equal(t, 10, cfg.MaxBatchesPerRun)
	assert.Equal(t, 0.5, cfg.MigrationThreshold)
	assert.True(t, cfg.AutoMigrationEnabled)
	assert.Equal(t, 8, cfg.FanOut)
}

func TestNew_DefaultsFanOutWhenNonPositive(t *testing.T) {
	j := New(nil, Config{})
	assert.Equal(t, 8, j.cfg.FanOut)
}

func TestNextTier_CoversNonFrozenTiers(t *testing.T) {
	assert.Equal(t, store.TierWarm, nextTier[store.TierWorking])
	assert.Equal(t, store.TierCold, nextTier[store.TierWarm])
	assert.Equal(t, store.TierFrozen, nextTier[store.TierCold])
	_, ok := nextTier[store.TierFrozen]
	assert.False(t, ok)
}

func TestCandidateIDs_PreservesOrder(t *testing.T) {
	a := store.ConsolidationCandidate{ID: uuid.New()}
	b := store.ConsolidationCandidate{ID: uuid.New()}

	ids := candidateIDs([]store.ConsolidationCandidate{a, b})
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, ids)
}

func TestCandidateIDs_EmptyInput(t *testing.T) {
	ids := candidateIDs(nil)
	assert.Len(t, ids, 0)
}

func TestTiers_ExcludesFrozen(t *testing.T) {
	for _, tr := range tiers {
		assert.NotEqual(t, store.TierFrozen, tr)
	}
	assert.Len(t, tiers, 3)
}

func TestSetFreezer_WiresCollaborator(t *testing.T) {
	j := New(nil, DefaultConfig())
	assert.Nil(t, j.freezer)

	f := &stubFreezer{}
	j.SetFreezer(f)
	assert.Equal(t, f, j.freezer)
}

// RunCycle's batch loop (max-batches cap, the two-consecutive-empty-
// batches rule) needs a live store and is not exercised here. This test
// covers only the self-guard against overlapping cycles, which depends
// on the atomic running flag alone, not on store access.
func TestRunCycle_SelfGuardSkipsOverlappingCycle(t *testing.T) {
	j := New(nil, DefaultConfig())
	j.running.Store(true)

	start := time.Now()
	metrics, err := j.RunCycle(nil) //nolint:staticcheck // nil ctx never dereferenced: guarded before any ctx use
	assert.NoError(t, err)
	assert.Equal(t, CycleMetrics{}, metrics)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	j.running.Store(false)
}
