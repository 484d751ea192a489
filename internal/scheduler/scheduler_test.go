package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_MatchesStatedDefaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5*time.Minute, cfg.ConsolidationInterval)
	assert.Equal(t, time.Hour, cfg.FrozenSweepInterval)
	assert.Equal(t, 5*time.Minute, cfg.ProgressCleanupInterval)
	assert.Equal(t, time.Hour, cfg.ProgressRetention)
}

// Cadence intervals are kept well above the test's own lifetime so no
// tick fires (and dereferences the nil job/frozenT/st collaborators)
// before Stop tears the goroutines down.
func longCadenceConfig() Config {
	return Config{
		ConsolidationInterval:   time.Hour,
		FrozenSweepInterval:     time.Hour,
		FrozenSweepLimit:        1000,
		ProgressCleanupInterval: time.Hour,
		ProgressRetention:       time.Hour,
	}
}

func TestStart_IdempotentOnAlreadyRunning(t *testing.T) {
	s := New(nil, nil, nil, longCadenceConfig())
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx)) // no-op, not an error, no second goroutine set

	assert.True(t, s.running)
	assert.Len(t, s.cadences, 3)

	s.Stop()
}

func TestStop_IdempotentOnAlreadyStopped(t *testing.T) {
	s := New(nil, nil, nil, longCadenceConfig())
	s.Stop() // never started; must be a no-op, not a panic on nil channels

	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	s.Stop() // already stopped; no-op
}

func TestStart_RejectsNonPositiveInterval(t *testing.T) {
	cfg := longCadenceConfig()
	cfg.FrozenSweepInterval = 0
	s := New(nil, nil, nil, cfg)

	err := s.Start(context.Background())
	assert.Error(t, err)
	assert.False(t, s.running)
}

func TestStop_WaitsForCadenceGoroutinesToExit(t *testing.T) {
	s := New(nil, nil, nil, longCadenceConfig())
	require.NoError(t, s.Start(context.Background()))

	s.Stop()

	for _, c := range s.cadences {
		select {
		case <-c.done:
		default:
			t.Fatalf("cadence %q goroutine did not exit after Stop", c.name)
		}
	}
}

func TestSafeTick_RecoversPanicAndContinues(t *testing.T) {
	s := New(nil, nil, nil, longCadenceConfig())
	c := &cadence{name: "panicky", tick: func(ctx context.Context) { panic("boom") }}

	assert.NotPanics(t, func() {
		s.safeTick(context.Background(), c)
	})
}
