package frozen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompress_RoundTripByteIdentical(t *testing.T) {
	p := payload{
		Content:   "the quick brown fox jumps over the lazy dog, repeatedly, for compressibility",
		Metadata:  []byte(`{"source":"test","tags":["a","b"]}`),
		Embedding: []float32{0.1, -0.25, 3.5, 0, -1.0},
	}

	blob, original, err := compress(p, "zstd")
	require.NoError(t, err)
	assert.Greater(t, original, 0)

	out, err := decompress(blob, "zstd")
	require.NoError(t, err)

	assert.Equal(t, p.Content, out.Content)
	assert.Equal(t, p.Metadata, out.Metadata)
	assert.Equal(t, p.Embedding, out.Embedding)
}

func TestCompress_EmptyEmbedding(t *testing.T) {
	p := payload{Content: "x", Metadata: []byte(`{}`)}

	blob, _, err := compress(p, "zstd")
	require.NoError(t, err)

	out, err := decompress(blob, "zstd")
	require.NoError(t, err)
	assert.Equal(t, "x", out.Content)
	assert.Nil(t, out.Embedding)
}

func TestCompress_UnsupportedCodec(t *testing.T) {
	_, _, err := compress(payload{Content: "x"}, "lz4")
	assert.Error(t, err)
}

func TestCompress_AchievesTargetRatioOnRepetitiveText(t *testing.T) {
	repeated := ""
	for i := 0; i < 500; i++ {
		repeated += "the quick brown fox jumps over the lazy dog. "
	}
	p := payload{Content: repeated, Metadata: []byte(`{}`)}

	blob, original, err := compress(p, "zstd")
	require.NoError(t, err)

	ratio := float64(original) / float64(len(blob))
	assert.GreaterOrEqual(t, ratio, 5.0)
}

func TestDefaultConfig_MatchesStatedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 0.2, cfg.FreezeThreshold)
	assert.Equal(t, "zstd", cfg.Codec)
	assert.Equal(t, 1, cfg.UnfreezeConcurrency)
}

func TestNew_DefaultsUnfreezeConcurrencyWhenNonPositive(t *testing.T) {
	tr := New(nil, Config{})
	assert.Equal(t, 1, tr.cfg.UnfreezeConcurrency)
}

func TestJitteredDelay_WithinBounds(t *testing.T) {
	tr := New(nil, DefaultConfig())
	for i := 0; i < 100; i++ {
		d := tr.jitteredDelay()
		assert.GreaterOrEqual(t, d, tr.cfg.MinRestoreDelay)
		assert.Less(t, d, tr.cfg.MaxRestoreDelay)
	}
}

func TestJitteredDelay_DegenerateRangeReturnsMin(t *testing.T) {
	tr := New(nil, Config{MinRestoreDelay: 3, MaxRestoreDelay: 3})
	assert.Equal(t, tr.cfg.MinRestoreDelay, tr.jitteredDelay())
}
