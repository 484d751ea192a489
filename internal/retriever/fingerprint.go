package retriever

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// fingerprint computes a stable hash of the normalized request, used
// as the query-fingerprint cache key. cespare/xxhash is chosen for
// speed on a non-adversarial cache key; SHA-256 is reserved for
// content-addressing (store.ContentHash), not cache keys.
func fingerprint(req Request) uint64 {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.QueryText))
	b.WriteByte(0)
	for _, f := range req.QueryEmbedding {
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
		b.WriteByte(',')
	}
	b.WriteByte(0)
	b.WriteString(string(req.Kind))
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(req.Limit))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(req.Offset))
	b.WriteByte(0)
	b.WriteString(strconv.FormatFloat(req.SimilarityThreshold, 'g', -1, 64))
	b.WriteByte(0)

	tiers := make([]string, len(req.Filter.Tiers))
	for i, t := range req.Filter.Tiers {
		tiers[i] = string(t)
	}
	sort.Strings(tiers)
	b.WriteString(strings.Join(tiers, ","))
	b.WriteByte(0)

	tags := append([]string(nil), req.Filter.Tags...)
	sort.Strings(tags)
	b.WriteString(strings.Join(tags, ","))
	b.WriteByte(0)

	writeFloatPtr(&b, req.Filter.MinImportance)
	writeFloatPtr(&b, req.Filter.MaxImportance)
	writeTimePtr(&b, req.Filter.After)
	writeTimePtr(&b, req.Filter.Before)

	b.WriteString(strconv.FormatBool(req.IncludeLineage))
	b.WriteString(strconv.FormatBool(req.IncludeInsights))
	b.WriteString(strconv.FormatBool(req.IncludeConsolidationBoost))
	b.WriteString(strconv.Itoa(req.LineageDepth))

	b.WriteString(strconv.FormatFloat(req.Weights.Vector, 'g', -1, 64))
	b.WriteString(strconv.FormatFloat(req.Weights.Text, 'g', -1, 64))
	b.WriteString(strconv.FormatFloat(req.Weights.Recency, 'g', -1, 64))
	b.WriteString(strconv.FormatFloat(req.Weights.Importance, 'g', -1, 64))

	return xxhash.Sum64String(b.String())
}

func writeFloatPtr(b *strings.Builder, f *float64) {
	if f == nil {
		b.WriteString("nil,")
		return
	}
	b.WriteString(strconv.FormatFloat(*f, 'g', -1, 64))
	b.WriteByte(',')
}

func writeTimePtr(b *strings.Builder, t *time.Time) {
	if t == nil {
		b.WriteString("nil,")
		return
	}
	b.WriteString(strconv.FormatInt(t.UnixNano(), 10))
	b.WriteByte(',')
}
