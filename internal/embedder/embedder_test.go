package embedder

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelic/cogmem/internal/ratelimit"
	"github.com/mycelic/cogmem/internal/storeerr"
)

func TestMockEmbedder_DeterministicAcrossCalls(t *testing.T) {
	e := NewMockEmbedder(16, 8, nil)
	ctx := context.Background()

	v1, err := e.Embed(ctx, "hello world")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "hello world")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 16)
}

func TestMockEmbedder_DifferentTextDifferentVector(t *testing.T) {
	e := NewMockEmbedder(16, 8, nil)
	ctx := context.Background()

	v1, err := e.Embed(ctx, "alpha")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "beta")
	require.NoError(t, err)

	assert.NotEqual(t, v1, v2)
}

func TestMockEmbedder_EmptyTextIsInvalidInput(t *testing.T) {
	e := NewMockEmbedder(16, 8, nil)
	_, err := e.Embed(context.Background(), "")
	require.Error(t, err)
	assert.True(t, storeerr.Is(err, storeerr.InvalidInput))
}

func TestMockEmbedder_OversizedTextIsInvalidInput(t *testing.T) {
	e := NewMockEmbedder(16, 8, nil)
	huge := strings.Repeat("x", MaxContentBytes+1)
	_, err := e.Embed(context.Background(), huge)
	require.Error(t, err)
	assert.True(t, storeerr.Is(err, storeerr.InvalidInput))
}

func TestMockEmbedder_EmbedBatchPreservesOrder(t *testing.T) {
	e := NewMockEmbedder(8, 4, nil)
	texts := []string{"one", "two", "three"}

	vecs, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	for i, text := range texts {
		single, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, single, vecs[i])
	}
}

func TestMockEmbedder_BatchExceedsMaxIsInvalidInput(t *testing.T) {
	e := NewMockEmbedder(8, 2, nil)
	_, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.Error(t, err)
	assert.True(t, storeerr.Is(err, storeerr.InvalidInput))
}

func TestMockEmbedder_AdmissionBackpressureIsTransient(t *testing.T) {
	bucket := ratelimit.NewBucket(1, 0) // one token, no refill
	e := NewMockEmbedder(8, 4, bucket)
	ctx := context.Background()

	_, err := e.Embed(ctx, "first")
	require.NoError(t, err)

	_, err = e.Embed(ctx, "second")
	require.Error(t, err)
	assert.True(t, storeerr.Is(err, storeerr.Transient))
}

func TestMockEmbedder_DimensionAndMaxBatchSize(t *testing.T) {
	e := NewMockEmbedder(768, 64, nil)
	assert.Equal(t, 768, e.Dimension())
	assert.Equal(t, 64, e.MaxBatchSize())
}

func TestMockEmbedder_DefaultsMaxBatchSizeWhenNonPositive(t *testing.T) {
	e := NewMockEmbedder(768, 0, nil)
	assert.Equal(t, 64, e.MaxBatchSize())
}
