// Package embedder defines the narrow capability contract the rest of
// the memory store depends on to turn text into vectors, plus the
// deterministic mock implementation used in-core and in tests. A real
// HTTP-backed embedding provider is an external collaborator and is
// deliberately not implemented here.
package embedder

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/mycelic/cogmem/internal/ratelimit"
	"github.com/mycelic/cogmem/internal/storeerr"
)

// Embedder maps text to fixed-dimension vectors.
type Embedder interface {
	// Embed produces a vector for a single text, whose length equals
	// Dimension(). Returns a *storeerr.Error with Kind InvalidInput,
	// Transient, or Fatal on failure.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch produces vectors for each text, in the same order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the fixed vector length this embedder produces.
	Dimension() int

	// MaxBatchSize returns the largest batch EmbedBatch will accept.
	MaxBatchSize() int
}

const (
	// MaxContentBytes bounds a single text's size before InvalidInput.
	MaxContentBytes = 32 * 1024
)

// MockEmbedder is a deterministic, hash-based Embedder used in-core and
// in tests. It never performs I/O and never returns Transient errors on
// its own — but it honors an admission bucket so callers can exercise
// the ingest-side backpressure path (spec: "if the embedding queue
// length exceeds a high-water mark, ingest returns Transient").
type MockEmbedder struct {
	dimension    int
	maxBatch     int
	admission    *ratelimit.Bucket
}

// NewMockEmbedder constructs a MockEmbedder producing vectors of the
// given dimension. admission, if non-nil, is consulted on every Embed
// call as a proxy for embedding-queue depth; when it has no tokens
// available the call fails with a Transient error instead of blocking.
func NewMockEmbedder(dimension, maxBatchSize int, admission *ratelimit.Bucket) *MockEmbedder {
	if maxBatchSize <= 0 {
		maxBatchSize = 64
	}
	return &MockEmbedder{
		dimension: dimension,
		maxBatch:  maxBatchSize,
		admission: admission,
	}
}

func (m *MockEmbedder) Dimension() int    { return m.dimension }
func (m *MockEmbedder) MaxBatchSize() int { return m.maxBatch }

// Embed produces a deterministic vector derived from an FNV-1a hash of
// the text, so identical text always yields identical embeddings
// across calls and process restarts.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeerr.NewTransient("embedder", 0, err)
	}
	if text == "" {
		return nil, storeerr.New(storeerr.InvalidInput, fmt.Errorf("embed: text must not be empty"))
	}
	if len(text) > MaxContentBytes {
		return nil, storeerr.New(storeerr.InvalidInput, fmt.Errorf("embed: text exceeds %d bytes", MaxContentBytes))
	}
	if m.admission != nil && !m.admission.TryConsume(1) {
		return nil, storeerr.NewTransient("embedder", m.admission.TimeToWait(1), fmt.Errorf("embedding queue high-water mark exceeded"))
	}

	return deterministicVector(text, m.dimension), nil
}

// EmbedBatch embeds each text in order, failing the whole batch with
// InvalidInput if it exceeds MaxBatchSize.
func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) > m.maxBatch {
		return nil, storeerr.New(storeerr.InvalidInput, fmt.Errorf("embed_batch: %d texts exceeds max batch size %d", len(texts), m.maxBatch))
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// deterministicVector hashes text with FNV-1a to seed a small xorshift
// generator, producing a reproducible vector with components in [-1, 1) of
// the requested dimension without pulling in a random-number package
// whose output would vary across runs.
func deterministicVector(text string, dimension int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dimension)
	state := seed
	for i := 0; i < dimension; i++ {
		// xorshift64 — fast, deterministic, good-enough spread for a
		// mock embedding, not a cryptographic or statistical primitive.
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		// Map to [-1, 1].
		vec[i] = float32(state%2000)/1000.0 - 1.0
	}
	return vec
}
