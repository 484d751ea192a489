// Package frozen implements the frozen tier: zstd-compressed archival
// storage for memories whose recall probability has dropped below a
// threshold, with a mandated jittered restoration delay on unfreeze.
// Compression is grounded on klauspost/compress/zstd, the higher-ratio
// streaming codec the wider example pack reaches for over stdlib
// gzip. The restore-delay jitter is drawn from math/rand/v2 and needs
// no lock.
package frozen

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/mycelic/cogmem/internal/logging"
	"github.com/mycelic/cogmem/internal/store"
	"github.com/mycelic/cogmem/internal/storeerr"
)

var log = logging.GetLogger("frozen")

// payload is the wire shape written into the compressed blob: the three
// fields the round-trip property (P4) requires to survive
// byte-identical.
type payload struct {
	Content   string   `json:"content"`
	Metadata  []byte   `json:"metadata"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Config holds FrozenTier's tunables.
type Config struct {
	FreezeThreshold float64
	MinRestoreDelay time.Duration
	MaxRestoreDelay time.Duration
	Codec           string
	// UnfreezeConcurrency bounds batch_unfreeze's fan-out; 1 means
	// strictly sequential.
	UnfreezeConcurrency int
}

// DefaultConfig returns spec §4.6's stated defaults.
func DefaultConfig() Config {
	return Config{
		FreezeThreshold:     0.2,
		MinRestoreDelay:     2 * time.Second,
		MaxRestoreDelay:     5 * time.Second,
		Codec:               "zstd",
		UnfreezeConcurrency: 1,
	}
}

// Tier compresses memories into archival storage and restores them on
// demand.
type Tier struct {
	store *store.Store
	cfg   Config
}

// New constructs a Tier over store with cfg.
func New(s *store.Store, cfg Config) *Tier {
	if cfg.UnfreezeConcurrency <= 0 {
		cfg.UnfreezeConcurrency = 1
	}
	return &Tier{store: s, cfg: cfg}
}

// FreezeResult reports one freeze's compression outcome.
type FreezeResult struct {
	MemoryID        uuid.UUID
	OriginalBytes   int64
	CompressedBytes int64
	Ratio           float64
}

// Freeze compresses c's content+metadata+embedding and writes the
// frozen payload, moving the memory to the frozen tier. c must come
// from FreezeCandidates (or an equivalent read) so its current tier is
// known for the transition check.
func (t *Tier) Freeze(ctx context.Context, c store.FreezeCandidate) (FreezeResult, error) {
	blob, original, err := compress(payload{Content: c.Content, Metadata: c.Metadata, Embedding: c.Embedding}, t.cfg.Codec)
	if err != nil {
		return FreezeResult{}, storeerr.New(storeerr.Fatal, fmt.Errorf("freeze: compress: %w", err))
	}

	fp := store.FrozenPayload{
		MemoryID:        c.ID,
		Codec:           t.cfg.Codec,
		OriginalBytes:   int64(original),
		CompressedBytes: int64(len(blob)),
		PayloadBlob:     blob,
	}
	if err := t.store.WriteFrozenPayload(ctx, c.Tier, fp); err != nil {
		return FreezeResult{}, err
	}

	ratio := 1.0
	if len(blob) > 0 {
		ratio = float64(original) / float64(len(blob))
	}
	return FreezeResult{MemoryID: c.ID, OriginalBytes: int64(original), CompressedBytes: int64(len(blob)), Ratio: ratio}, nil
}

// BatchSummary aggregates a batch_freeze_by_recall call.
type BatchSummary struct {
	Frozen      int
	BytesSaved  int64
	AverageRatio float64
	WallClock   time.Duration
	Failures    int
}

// FreezeIDs compresses and freezes exactly the given memory ids (those
// already selected elsewhere, e.g. ConsolidationJob's cold→frozen
// nomination), rather than selecting by threshold. Ids that no longer
// resolve to an active, non-frozen row are silently skipped. Per-item
// failures are logged and counted, never abort the batch — this gives
// ConsolidationJob a way to honor spec §4.5's cold→frozen migration
// edge without ever flipping a row's tier to frozen without a
// compressed payload behind it. Returns the count actually frozen,
// satisfying internal/consolidation.Freezer.
func (t *Tier) FreezeIDs(ctx context.Context, ids []uuid.UUID) (int, error) {
	candidates, err := t.store.FreezeCandidatesByID(ctx, ids)
	if err != nil {
		return 0, err
	}

	frozenCount := 0
	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		if _, err := t.Freeze(ctx, c); err != nil {
			log.Warn("freeze candidate failed", "memory_id", c.ID, "error", err)
			continue
		}
		frozenCount++
	}
	return frozenCount, nil
}

// BatchFreezeByRecall selects up to limit candidates below the freeze
// threshold and freezes each in turn. Per-candidate failures are
// logged and counted, never abort the batch.
func (t *Tier) BatchFreezeByRecall(ctx context.Context, limit int) (BatchSummary, error) {
	start := time.Now()
	candidates, err := t.store.FreezeCandidates(ctx, t.cfg.FreezeThreshold, limit)
	if err != nil {
		return BatchSummary{}, err
	}

	var summary BatchSummary
	var ratioSum float64
	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		res, err := t.Freeze(ctx, c)
		if err != nil {
			summary.Failures++
			log.Warn("freeze candidate failed", "memory_id", c.ID, "error", err)
			continue
		}
		summary.Frozen++
		summary.BytesSaved += res.OriginalBytes - res.CompressedBytes
		ratioSum += res.Ratio
	}
	if summary.Frozen > 0 {
		summary.AverageRatio = ratioSum / float64(summary.Frozen)
	}
	summary.WallClock = time.Since(start)
	return summary, nil
}

// Unfreeze decompresses id's payload, restores it to targetTier, and
// returns the updated Memory after a mandatory jittered delay in
// [MinRestoreDelay, MaxRestoreDelay]. The delay is not cancellable once
// started, per spec §5's suspension-point rules: it models cold-storage
// retrieval latency, not a cancellable wait.
func (t *Tier) Unfreeze(ctx context.Context, id uuid.UUID, targetTier store.Tier) (*store.Memory, time.Duration, error) {
	fp, err := t.store.ReadFrozenPayload(ctx, id)
	if err != nil {
		return nil, 0, err
	}

	p, err := decompress(fp.PayloadBlob, fp.Codec)
	if err != nil {
		return nil, 0, storeerr.New(storeerr.Fatal, fmt.Errorf("unfreeze: decompress: %w", err))
	}

	delay := t.jitteredDelay()
	time.Sleep(delay)

	m, err := t.store.RestoreFromFrozen(ctx, id, p.Content, p.Metadata, p.Embedding, targetTier)
	if err != nil {
		return nil, delay, err
	}
	return m, delay, nil
}

// BatchUnfreeze applies Unfreeze to every id, with up to
// UnfreezeConcurrency in flight at once. Returns the restored memories
// in the same relative order as ids (failed items are omitted) and the
// mean observed delay across the batch, which must remain within
// [MinRestoreDelay, MaxRestoreDelay] per spec property B4.
func (t *Tier) BatchUnfreeze(ctx context.Context, ids []uuid.UUID, targetTier store.Tier) ([]*store.Memory, time.Duration, error) {
	type result struct {
		idx   int
		m     *store.Memory
		delay time.Duration
		err   error
	}

	results := make([]result, len(ids))
	sem := make(chan struct{}, t.cfg.UnfreezeConcurrency)
	done := make(chan result, len(ids))

	for i, id := range ids {
		i, id := i, id
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			m, delay, err := t.Unfreeze(ctx, id, targetTier)
			done <- result{idx: i, m: m, delay: delay, err: err}
		}()
	}

	var totalDelay time.Duration
	var observed int
	for range ids {
		r := <-done
		results[r.idx] = r
		if r.err == nil {
			totalDelay += r.delay
			observed++
		} else {
			log.Warn("batch unfreeze item failed", "memory_id", ids[r.idx], "error", r.err)
		}
	}

	restored := make([]*store.Memory, 0, len(ids))
	for _, r := range results {
		if r.m != nil {
			restored = append(restored, r.m)
		}
	}

	var mean time.Duration
	if observed > 0 {
		mean = totalDelay / time.Duration(observed)
	}
	return restored, mean, nil
}

// jitteredDelay returns a uniform random duration in
// [MinRestoreDelay, MaxRestoreDelay), or MinRestoreDelay when the range
// is empty.
func (t *Tier) jitteredDelay() time.Duration {
	lo, hi := t.cfg.MinRestoreDelay, t.cfg.MaxRestoreDelay
	if hi <= lo {
		return lo
	}
	span := hi - lo
	return lo + time.Duration(rand.Int64N(int64(span)))
}

func compress(p payload, codec string) ([]byte, int, error) {
	raw, err := marshalPayload(p)
	if err != nil {
		return nil, 0, err
	}

	switch codec {
	case "zstd", "":
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, 0, err
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), len(raw), nil
	default:
		return nil, 0, fmt.Errorf("unsupported codec %q", codec)
	}
}

func decompress(blob []byte, codec string) (payload, error) {
	switch codec {
	case "zstd", "":
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return payload{}, err
		}
		defer dec.Close()
		raw, err := dec.DecodeAll(blob, nil)
		if err != nil {
			return payload{}, err
		}
		return unmarshalPayload(raw)
	default:
		return payload{}, fmt.Errorf("unsupported codec %q", codec)
	}
}

// marshalPayload/unmarshalPayload use a tiny length-prefixed binary
// encoding rather than encoding/json: the embedding is a float32 slice
// and round-tripping it through JSON risks precision drift that would
// violate the byte-identical guarantee (P4).
func marshalPayload(p payload) ([]byte, error) {
	var buf bytes.Buffer
	writeChunk(&buf, []byte(p.Content))
	writeChunk(&buf, p.Metadata)
	embedBytes := make([]byte, len(p.Embedding)*4)
	for i, f := range p.Embedding {
		putFloat32(embedBytes[i*4:], f)
	}
	writeChunk(&buf, embedBytes)
	return buf.Bytes(), nil
}

func unmarshalPayload(raw []byte) (payload, error) {
	r := bytes.NewReader(raw)
	content, err := readChunk(r)
	if err != nil {
		return payload{}, err
	}
	metadata, err := readChunk(r)
	if err != nil {
		return payload{}, err
	}
	embedBytes, err := readChunk(r)
	if err != nil {
		return payload{}, err
	}

	var embedding []float32
	if len(embedBytes) > 0 {
		embedding = make([]float32, len(embedBytes)/4)
		for i := range embedding {
			embedding[i] = getFloat32(embedBytes[i*4:])
		}
	}
	return payload{Content: string(content), Metadata: metadata, Embedding: embedding}, nil
}
