package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mycelic/cogmem/internal/insight"
	"github.com/mycelic/cogmem/internal/retriever"
	"github.com/mycelic/cogmem/internal/store"
)

// healthHandler reports liveness plus the configured working-set bound,
// grounded on the teacher's healthHandler.
func (s *Server) healthHandler(c *gin.Context) {
	SuccessResponse(c, "ok", gin.H{
		"status":            "ok",
		"working_set_bound": s.workingSet.Bound(),
	})
}

// createMemoryRequest is the ingest API's JSON body (spec §6 "Ingest
// API").
type createMemoryRequest struct {
	Content    string          `json:"content" binding:"required"`
	Metadata   json.RawMessage `json:"metadata"`
	Tags       []string        `json:"tags"`
	Importance *float64        `json:"importance"`
	ParentID   *uuid.UUID      `json:"parent_id"`
	ExpiresAt  *time.Time      `json:"expires_at"`
}

// createMemory embeds the content and admits it to the working tier,
// evicting under pressure per §4.4.
func (s *Server) createMemory(c *gin.Context) {
	var req createMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.CheckPoolSaturation(); err != nil {
		RespondError(c, err)
		return
	}

	vec, err := s.embedder.Embed(c.Request.Context(), req.Content)
	if err != nil {
		RespondError(c, err)
		return
	}

	mem, err := s.workingSet.Admit(c.Request.Context(), store.CreateRequest{
		Content:    req.Content,
		Metadata:   req.Metadata,
		Tags:       req.Tags,
		Importance: req.Importance,
		ParentID:   req.ParentID,
		ExpiresAt:  req.ExpiresAt,
		Embedding:  vec,
	})
	if err != nil {
		RespondError(c, err)
		return
	}

	s.retriever.InvalidateCache()
	CreatedResponse(c, "memory created", mem)
}

// getMemory fetches a memory by id, incrementing its access count per
// §4.3's atomic read-then-update contract.
func (s *Server) getMemory(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid id")
		return
	}

	mem, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	SuccessResponse(c, "ok", mem)
}

// deleteMemory soft-deletes a memory and invalidates any cached query
// that might reference it.
func (s *Server) deleteMemory(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.store.SoftDelete(c.Request.Context(), id); err != nil {
		RespondError(c, err)
		return
	}
	s.retriever.InvalidateCache()
	SuccessResponse(c, "memory deleted", nil)
}

// searchRequest is the retrieval API's JSON body (spec §6 "Retrieval
// API" / §4.7 Request fields).
type searchRequest struct {
	QueryText                 string   `json:"query_text"`
	QueryEmbedding            []float32 `json:"query_embedding"`
	Kind                      string   `json:"search_kind"`
	Limit                     int      `json:"limit"`
	Offset                    int      `json:"offset"`
	SimilarityThreshold       float64  `json:"similarity_threshold"`
	Tiers                     []string `json:"tiers"`
	Explain                   bool     `json:"explain"`
	IncludeLineage            bool     `json:"include_lineage"`
	IncludeInsights           bool     `json:"include_insights"`
	IncludeConsolidationBoost bool     `json:"include_consolidation_boost"`
	LineageDepth              int      `json:"lineage_depth"`
	UseCache                  bool     `json:"use_cache"`
}

// search answers a single hybrid/vector/full-text/temporal query,
// spec §4.7/§6's single retrieval entry point.
func (s *Server) search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	tiers := make([]store.Tier, len(req.Tiers))
	for i, t := range req.Tiers {
		tiers[i] = store.Tier(t)
	}

	resp, err := s.retriever.Search(c.Request.Context(), retriever.Request{
		QueryText:                 req.QueryText,
		QueryEmbedding:            req.QueryEmbedding,
		Kind:                      retriever.Kind(req.Kind),
		Limit:                     req.Limit,
		Offset:                    req.Offset,
		SimilarityThreshold:       req.SimilarityThreshold,
		Filter:                    store.SearchFilter{Tiers: tiers},
		Explain:                   req.Explain,
		IncludeLineage:            req.IncludeLineage,
		IncludeInsights:           req.IncludeInsights,
		IncludeConsolidationBoost: req.IncludeConsolidationBoost,
		LineageDepth:              req.LineageDepth,
		UseCache:                  req.UseCache,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	SuccessResponse(c, "ok", resp)
}

// migrateRequest moves a memory along an allowed tier edge (spec §6
// "Tier operations").
type migrateRequest struct {
	ToTier string `json:"to_tier" binding:"required"`
	Reason string `json:"reason"`
}

func (s *Server) migrateMemory(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid id")
		return
	}
	var req migrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	target := store.Tier(req.ToTier)
	_, err = s.store.Update(c.Request.Context(), id, store.UpdatePatch{Tier: &target, Reason: req.Reason})
	if err != nil {
		RespondError(c, err)
		return
	}
	s.retriever.InvalidateCache()
	mem, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	SuccessResponse(c, "migrated", mem)
}

// freezeMemory triggers an explicit single-memory freeze.
func (s *Server) freezeMemory(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid id")
		return
	}
	candidates, err := s.store.FreezeCandidates(c.Request.Context(), 1.0, 10000)
	if err != nil {
		RespondError(c, err)
		return
	}
	for _, cand := range candidates {
		if cand.ID != id {
			continue
		}
		result, err := s.frozenTier.Freeze(c.Request.Context(), cand)
		if err != nil {
			RespondError(c, err)
			return
		}
		s.retriever.InvalidateCache()
		SuccessResponse(c, "frozen", result)
		return
	}
	ErrorResponse(c, http.StatusNotFound, "memory not eligible for freezing")
}

// unfreezeRequest restores a frozen memory to target_tier, subject to
// the mandated 2-5s restore delay.
type unfreezeRequest struct {
	TargetTier string `json:"target_tier" binding:"required"`
}

func (s *Server) unfreezeMemory(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid id")
		return
	}
	var req unfreezeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	mem, delay, err := s.frozenTier.Unfreeze(c.Request.Context(), id, store.Tier(req.TargetTier))
	if err != nil {
		RespondError(c, err)
		return
	}
	s.retriever.InvalidateCache()
	SuccessResponse(c, "unfrozen", gin.H{
		"memory":                mem,
		"restore_delay_seconds": delay.Seconds(),
		"restoration_tier":      mem.Tier,
	})
}

// submitInsightRequest is the InsightLinker boundary's ingest shape
// (spec §4.8), accepted from an external insight-generation
// collaborator.
type submitInsightRequest struct {
	Content           string      `json:"content" binding:"required"`
	Type              string      `json:"type" binding:"required"`
	Confidence        float64     `json:"confidence"`
	SourceIDs         []uuid.UUID `json:"source_ids" binding:"required"`
	Embedding         []float32   `json:"embedding"`
	PreviousVersionID *uuid.UUID  `json:"previous_version_id"`
}

func (s *Server) submitInsight(c *gin.Context) {
	var req submitInsightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := s.insightLinker.Submit(c.Request.Context(), insight.Proposal{
		Content:           req.Content,
		Type:              store.InsightType(req.Type),
		Confidence:        req.Confidence,
		SourceIDs:         req.SourceIDs,
		Embedding:         req.Embedding,
		PreviousVersionID: req.PreviousVersionID,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	s.retriever.InvalidateCache()
	CreatedResponse(c, "insight submitted", outcome)
}

// insightFeedbackRequest records a feedback rating on an insight (spec
// §4.8's aggregate feedback smoothing).
type insightFeedbackRequest struct {
	Rating int `json:"rating" binding:"required"`
}

func (s *Server) insightFeedback(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid id")
		return
	}
	var req insightFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	aggregate, err := s.insightLinker.Feedback(c.Request.Context(), id, req.Rating)
	if err != nil {
		RespondError(c, err)
		return
	}
	SuccessResponse(c, "feedback recorded", gin.H{"aggregate_feedback": aggregate})
}
