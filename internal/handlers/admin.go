package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/mbti-rec/server/internal/scoring"
	"github.com/mbti-rec/server/internal/store"
	"github.com/mbti-rec/server/internal/vectormath"
)

const maxBatchEvaluateSize = 50

type AdminHandler struct {
	scoring  *scoring.Engine
	store    *store.Store
	validate *validator.Validate
	logger   *logrus.Logger
}

type evaluateContentRequest struct {
	Content string `json:"content"`
	Title   string `json:"title"`
}

// Evaluate answers `POST /api/v1/admin/content/{content_id}/evaluate`,
// scoring a single content item under the engine's current mode regardless
// of whether it's already scored (an explicit re-score, unlike EnsureScored).
func (h *AdminHandler) Evaluate(c *gin.Context) {
	contentID, err := strconv.ParseInt(c.Param("content_id"), 10, 64)
	if err != nil {
		respondErr(c, http.StatusBadRequest, "INVALID_CONTENT_ID", "content_id must be an integer", nil)
		return
	}

	var req evaluateContentRequest
	_ = c.ShouldBindJSON(&req)

	vector, method, failed, err := h.scoring.ScoreContent(c.Request.Context(), scoring.ContentInput{
		ContentID: contentID, Title: req.Title, Text: req.Content,
	})
	if err != nil {
		h.logger.WithError(err).WithField("content_id", contentID).Error("evaluate content failed")
		respondErr(c, http.StatusInternalServerError, "INTERNAL_ERROR", "evaluate content failed", nil)
		return
	}

	respondOK(c, http.StatusOK, gin.H{
		"content_id":     contentID,
		"mbti_type":      vectormath.TypeLabel(vector),
		"vector":         vector,
		"scoring_method": method,
		"scoring_failed": failed,
		"mode":           string(h.scoring.GetMode()),
	}, "")
}

type batchEvaluateRequest struct {
	ContentIDs []int64 `json:"content_ids" validate:"required,min=1"`
}

// BatchEvaluate answers `POST /api/v1/admin/content/batch_evaluate`, capped
// at maxBatchEvaluateSize ids per call to bound the sub-batch pacing work
// the scoring engine does underneath (§4.4).
func (h *AdminHandler) BatchEvaluate(c *gin.Context) {
	var req batchEvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body", err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondErr(c, http.StatusBadRequest, "VALIDATION_FAILED", "request validation failed", err.Error())
		return
	}
	if len(req.ContentIDs) > maxBatchEvaluateSize {
		respondErr(c, http.StatusBadRequest, "BATCH_TOO_LARGE", "content_ids must not exceed 50 entries", nil)
		return
	}

	inputs := make([]scoring.ContentInput, len(req.ContentIDs))
	for i, id := range req.ContentIDs {
		inputs[i] = scoring.ContentInput{ContentID: id}
	}

	results, err := h.scoring.ScoreBatch(c.Request.Context(), inputs)
	if err != nil {
		h.logger.WithError(err).Error("batch evaluate failed")
		respondErr(c, http.StatusInternalServerError, "INTERNAL_ERROR", "batch evaluate failed", nil)
		return
	}

	respondOK(c, http.StatusOK, gin.H{
		"requested": len(req.ContentIDs),
		"scored":    len(results),
		"results":   results,
	}, "")
}
