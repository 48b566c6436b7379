package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mbti-rec/server/internal/profile"
	"github.com/mbti-rec/server/internal/recommend"
	"github.com/mbti-rec/server/internal/store"
	"github.com/mbti-rec/server/internal/workerpool"
)

type MBTIHandler struct {
	store     *store.Store
	profile   *profile.Updater
	recommend *recommend.Engine
	pool      *workerpool.Pool
	logger    *logrus.Logger
}

// Profile answers `GET /api/v1/mbti/profile/{user_id}`, creating a default
// (unlabeled, neutral-vector) profile on first sight (§3 UserProfile).
func (h *MBTIHandler) Profile(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		respondErr(c, http.StatusBadRequest, "INVALID_USER_ID", "user_id must be an integer", nil)
		return
	}

	p, err := h.store.GetOrCreateProfile(c.Request.Context(), userID)
	if err != nil {
		respondStoreErr(c, h.logger, err, "load mbti profile")
		return
	}
	respondOK(c, http.StatusOK, p, "")
}

type updateMBTIRequest struct {
	ForceUpdate           bool `json:"force_update"`
	AnalyzeLastNBehaviors int  `json:"analyze_last_n_behaviors"`
}

// Update answers `POST /api/v1/mbti/update/{user_id}`, running the same
// re-derivation the threshold hook schedules in the background, but
// synchronously and reporting the outcome (§4.5).
func (h *MBTIHandler) Update(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		respondErr(c, http.StatusBadRequest, "INVALID_USER_ID", "user_id must be an integer", nil)
		return
	}

	var req updateMBTIRequest
	_ = c.ShouldBindJSON(&req)

	result, err := h.profile.UpdateUserFromBehaviors(c.Request.Context(), userID, req.ForceUpdate, req.AnalyzeLastNBehaviors)
	if err != nil {
		respondStoreErr(c, h.logger, err, "update mbti profile")
		return
	}
	h.recommend.InvalidateUser(c.Request.Context(), userID)

	respondOK(c, http.StatusOK, gin.H{
		"outcome":            result.Outcome,
		"type_label":         result.TypeLabel,
		"old_vector":         result.OldVector,
		"new_vector":         result.NewVector,
		"changes":            result.Changes,
		"behaviors_analyzed": result.BehaviorsAnalyzed,
	}, "")
}

// Diagnostics answers the supplemented `GET
// /api/v1/mbti/profile/{user_id}/diagnostics`, a read-only view of the
// stored profile's type label, confidence, behavior counters and
// last_updated time, useful for debugging why a profile hasn't updated in a
// while. It neither runs nor previews a re-derivation.
func (h *MBTIHandler) Diagnostics(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		respondErr(c, http.StatusBadRequest, "INVALID_USER_ID", "user_id must be an integer", nil)
		return
	}

	p, err := h.store.GetOrCreateProfile(c.Request.Context(), userID)
	if err != nil {
		respondStoreErr(c, h.logger, err, "load mbti diagnostics")
		return
	}

	respondOK(c, http.StatusOK, gin.H{
		"user_id":                     p.UserID,
		"type_label":                  p.TypeLabel,
		"confidence":                  p.Confidence,
		"total_behaviors_analyzed":    p.TotalBehaviorsAnalyzed,
		"behaviors_since_last_update": p.BehaviorsSinceLastUpdate,
		"last_updated":                p.LastUpdated,
		"has_type_label":              p.HasTypeLabel(),
	}, "")
}
