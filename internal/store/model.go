package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Tier is one of the four storage classes a Memory can occupy.
type Tier string

const (
	TierWorking Tier = "working"
	TierWarm    Tier = "warm"
	TierCold    Tier = "cold"
	TierFrozen  Tier = "frozen"
)

// Status is the lifecycle state of a Memory row.
type Status string

const (
	StatusActive    Status = "active"
	StatusMigrating Status = "migrating"
	StatusArchived  Status = "archived"
	StatusDeleted   Status = "deleted"
)

// allowedTierEdges enumerates the valid tier-transition edges: working↔warm,
// warm↔cold, cold→frozen, frozen→warm (on unfreeze).
var allowedTierEdges = map[Tier]map[Tier]bool{
	TierWorking: {TierWarm: true},
	TierWarm:    {TierWorking: true, TierCold: true},
	TierCold:    {TierWarm: true, TierFrozen: true},
	TierFrozen:  {TierWarm: true},
}

// IsAllowedTierTransition reports whether the (from, to) edge is one of
// the allowed transitions.
func IsAllowedTierTransition(from, to Tier) bool {
	if from == to {
		return false
	}
	edges, ok := allowedTierEdges[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Memory is the primary entity: a single ingested text item plus its
// derived scoring state. Field layout follows spec §3.
type Memory struct {
	ID uuid.UUID

	Content     string
	ContentHash [32]byte // SHA-256 of Content, scoped unique with Tier among active rows
	Embedding   []float32

	Tier   Tier
	Status Status

	Importance float64 // [0,1]

	AccessCount    int
	LastAccessedAt *time.Time

	// Consolidation state (mathkernel.*)
	ConsolidationStrength float64 // g ∈ [0.1, 10.0]
	DecayRate             float64 // r, default 1.0
	RecallProbability     float64 // p ∈ [0,1]
	SuccessfulRetrievals  int
	FailedRetrievals      int
	TotalRetrievals       int
	EaseFactor            float64 // [1.3, 3.0], default 2.5
	IntervalDays          float64 // current spacing interval, default 1.0
	NextReviewAt          *time.Time

	Metadata json.RawMessage
	Tags     []string

	ParentID  *uuid.UUID
	ExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewMemory constructs a Memory in its initial lifecycle state: working
// tier, active status, g=2.0, p=1.0, as specified in spec §3's Lifecycle
// section.
func NewMemory(content string) *Memory {
	now := time.Now().UTC()
	return &Memory{
		ID:                    uuid.New(),
		Content:               content,
		Tier:                  TierWorking,
		Status:                StatusActive,
		Importance:            0.5,
		ConsolidationStrength: 2.0,
		DecayRate:             1.0,
		RecallProbability:     1.0,
		EaseFactor:            2.5,
		IntervalDays:          1.0,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// ConsolidationLogEntry is an append-only record of a single
// consolidation update applied to a memory.
type ConsolidationLogEntry struct {
	ID         uuid.UUID
	MemoryID   uuid.UUID
	OldG       float64
	NewG       float64
	OldP       float64
	NewP       float64
	EventKind  string
	Reason     string
	OccurredAt time.Time
}

// MigrationLogEntry is an append-only record of a tier transition.
type MigrationLogEntry struct {
	ID         uuid.UUID
	MemoryID   uuid.UUID
	FromTier   Tier
	ToTier     Tier
	Reason     string
	StartedAt  time.Time
	DurationMs int64
	Success    bool
	Error      string
}

// FrozenPayload holds the compressed archival form of a frozen memory.
type FrozenPayload struct {
	MemoryID        uuid.UUID
	Codec           string
	OriginalBytes   int64
	CompressedBytes int64
	PayloadBlob     []byte
}

// InsightType enumerates the kinds of externally-produced insight.
type InsightType string

const (
	InsightLearning     InsightType = "learning"
	InsightConnection   InsightType = "connection"
	InsightRelationship InsightType = "relationship"
	InsightAssertion    InsightType = "assertion"
	InsightMentalModel  InsightType = "mental-model"
	InsightPattern      InsightType = "pattern"
)

// Insight is a higher-order record produced by an external generator
// from a cluster of source memories.
type Insight struct {
	ID                uuid.UUID
	Content           string
	Type              InsightType
	Confidence        float64 // [0,1]
	SourceMemoryIDs   []uuid.UUID
	Tier              Tier
	AggregateFeedback float64 // [-1,1]
	Version           int
	PreviousVersionID *uuid.UUID
	Embedding         []float32

	CreatedAt time.Time
	UpdatedAt time.Time
}
