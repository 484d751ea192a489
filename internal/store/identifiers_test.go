package store

import (
	"math/rand"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateIdentifier_AcceptsWellFormed(t *testing.T) {
	valid := []string{"memories", "tier", "a", "x1", "last_accessed_at", "memory_id"}
	for _, name := range valid {
		assert.NoError(t, ValidateIdentifier(name), "expected %q to be valid", name)
	}
}

func TestValidateIdentifier_RejectsMalformed(t *testing.T) {
	invalid := []string{"", "Memories", "1tier", "tier-name", "tier name", "tier;drop", "_tier", "tier$", "select"}
	for _, name := range invalid {
		assert.Error(t, ValidateIdentifier(name), "expected %q to be invalid", name)
	}
}

func TestValidateIdentifier_RejectsOverlong(t *testing.T) {
	long := ""
	for i := 0; i < 64; i++ {
		long += "a"
	}
	assert.Error(t, ValidateIdentifier(long))
}

func TestValidateIdentifier_RejectsReservedKeywords(t *testing.T) {
	for kw := range reservedKeywords {
		assert.Error(t, ValidateIdentifier(kw), "expected reserved keyword %q to be rejected", kw)
	}
}

// TestValidateIdentifier_PropertyFuzz exercises property P7 with >= 10^4
// generated cases split between well-formed and adversarial inputs, all
// checked against the canonical regex directly rather than trusting the
// validator's own logic.
func TestValidateIdentifier_PropertyFuzz(t *testing.T) {
	canonical := regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	r := rand.New(rand.NewSource(42))
	alphabet := "abcdefghijklmnopqrstuvwxyz0123456789_-; $ABCXYZ"

	const cases = 10000
	for i := 0; i < cases; i++ {
		n := r.Intn(70)
		buf := make([]byte, n)
		for j := range buf {
			buf[j] = alphabet[r.Intn(len(alphabet))]
		}
		candidate := string(buf)

		wantValid := canonical.MatchString(candidate) && len(candidate) <= maxIdentifierLength && len(candidate) > 0 && !reservedKeywords[candidate]
		gotErr := ValidateIdentifier(candidate)

		if wantValid {
			assert.NoError(t, gotErr, "case %d: %q should be valid", i, candidate)
		} else {
			assert.Error(t, gotErr, "case %d: %q should be invalid", i, candidate)
		}
	}
}

func TestIsValidIdentifier(t *testing.T) {
	assert.True(t, IsValidIdentifier("tier"))
	assert.False(t, IsValidIdentifier("Tier"))
	assert.False(t, IsValidIdentifier("drop"))
}
