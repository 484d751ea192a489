// Package storeerr defines the typed error taxonomy shared by every
// component of the memory store: Embedder, Store, WorkingSet,
// ConsolidationJob, FrozenTier, Retriever, and InsightLinker all
// normalize failures into these kinds at their boundary so callers can
// branch on discriminant rather than parsing error strings.
package storeerr

import (
	"errors"
	"fmt"
	"time"
)

// Kind discriminates the error taxonomy.
type Kind string

const (
	// InvalidInput covers malformed or out-of-range caller input.
	InvalidInput Kind = "invalid_input"
	// NotFound covers lookups against an id that does not resolve to an
	// active record.
	NotFound Kind = "not_found"
	// DuplicateContent covers an ingest whose (content-hash, tier) pair
	// already has an active record.
	DuplicateContent Kind = "duplicate_content"
	// InvalidTierTransition covers a tier move along a disallowed edge.
	InvalidTierTransition Kind = "invalid_tier_transition"
	// StorageExhausted covers a tier at capacity after eviction attempts
	// failed.
	StorageExhausted Kind = "storage_exhausted"
	// Transient covers retryable failures: timeouts, deadlocks,
	// connection-pool saturation, backpressure.
	Transient Kind = "transient"
	// Fatal covers unrecoverable failures: schema mismatch, invalid
	// startup configuration.
	Fatal Kind = "fatal"
)

// Error is the concrete error type every component returns. It carries
// a Kind discriminant plus the wrapped underlying cause.
type Error struct {
	Kind Kind
	Err  error

	// Tier and Limit are populated for StorageExhausted.
	Tier  string
	Limit int

	// Source names the external collaborator whose failure produced a
	// Transient error (e.g. "store", "embedder").
	Source string

	// RetryAfter is a backoff hint for Transient errors.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	switch e.Kind {
	case StorageExhausted:
		return fmt.Sprintf("%s: tier=%s limit=%d", e.Kind, e.Tier, e.Limit)
	case Transient:
		if e.Source != "" {
			return fmt.Sprintf("%s: source=%s: %v", e.Kind, e.Source, e.Err)
		}
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Kind, enabling
// errors.Is(err, storeerr.New(storeerr.NotFound, nil)) style checks as
// well as the sentinel-kind helpers below.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New constructs a plain *Error of the given kind wrapping err.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf constructs a plain *Error of the given kind from a formatted
// message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// NewStorageExhausted constructs a StorageExhausted error for the given
// tier and capacity limit.
func NewStorageExhausted(tier string, limit int) *Error {
	return &Error{
		Kind:  StorageExhausted,
		Err:   fmt.Errorf("tier %q is at capacity (limit %d)", tier, limit),
		Tier:  tier,
		Limit: limit,
	}
}

// NewTransient constructs a Transient error attributed to source, with
// a suggested retry-after hint.
func NewTransient(source string, retryAfter time.Duration, err error) *Error {
	return &Error{
		Kind:       Transient,
		Err:        err,
		Source:     source,
		RetryAfter: retryAfter,
	}
}

// NewInvalidTierTransition constructs an InvalidTierTransition error
// describing the rejected edge.
func NewInvalidTierTransition(from, to string) *Error {
	return &Error{
		Kind: InvalidTierTransition,
		Err:  fmt.Errorf("transition %s -> %s is not allowed", from, to),
	}
}

// NewDuplicateContent constructs a DuplicateContent error naming the
// tier in which the active duplicate was found.
func NewDuplicateContent(tier string) *Error {
	return &Error{
		Kind: DuplicateContent,
		Err:  fmt.Errorf("active memory with identical content already exists in tier %q", tier),
		Tier: tier,
	}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, and
// reports whether one was found.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
