package store

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatVector renders a typed float32 slice as a pgvector literal,
// e.g. "[0.1,-2,3.5]". Only typed float arrays are accepted as input —
// never a caller-supplied string — so the output alphabet is always a
// subset of "[-0-9.,e]" (property P8).
func FormatVector(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		// 'g' writes large exponents as "e+06"; drop the '+' so the
		// literal stays within the stated alphabet.
		b.WriteString(strings.Replace(strconv.FormatFloat(float64(x), 'g', -1, 32), "e+", "e", 1))
	}
	b.WriteByte(']')
	return b.String()
}

// ParseVector parses a pgvector text representation ("[0.1,-2,3.5]")
// back into a float32 slice, as read back from a query result column.
func ParseVector(text string) ([]float32, error) {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "[")
	trimmed = strings.TrimSuffix(trimmed, "]")
	if trimmed == "" {
		return []float32{}, nil
	}

	parts := strings.Split(trimmed, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector component %q: %w", p, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}
