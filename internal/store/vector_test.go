package store

import (
	"math/rand"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vectorAlphabet = regexp.MustCompile(`^[-0-9.,e\[\]]*$`)

func TestFormatVector_Basic(t *testing.T) {
	v := []float32{0.1, -2, 3.5}
	assert.Equal(t, "[0.1,-2,3.5]", FormatVector(v))
}

func TestFormatVector_Empty(t *testing.T) {
	assert.Equal(t, "[]", FormatVector(nil))
}

// TestFormatVector_AlphabetBound exercises property P8: the formatter
// never emits a byte outside [-0-9.,e] (brackets are the literal's
// delimiters, checked separately below).
func TestFormatVector_AlphabetBound(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		n := r.Intn(32)
		v := make([]float32, n)
		for j := range v {
			v[j] = (r.Float32() - 0.5) * 1e6
		}
		literal := FormatVector(v)
		assert.True(t, vectorAlphabet.MatchString(literal), "literal %q contains unexpected byte", literal)
	}
}

func TestParseVector_RoundTrip(t *testing.T) {
	original := []float32{1.5, -0.25, 0, 42}
	literal := FormatVector(original)

	parsed, err := ParseVector(literal)
	require.NoError(t, err)
	require.Len(t, parsed, len(original))
	for i := range original {
		assert.InDelta(t, original[i], parsed[i], 1e-4)
	}
}

func TestParseVector_Empty(t *testing.T) {
	parsed, err := ParseVector("[]")
	require.NoError(t, err)
	assert.Empty(t, parsed)
}

func TestParseVector_InvalidComponent(t *testing.T) {
	_, err := ParseVector("[1,notanumber,3]")
	assert.Error(t, err)
}
