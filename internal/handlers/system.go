package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mbti-rec/server/internal/scoring"
	"github.com/mbti-rec/server/internal/store"
)

type SystemHandler struct {
	store   *store.Store
	scoring *scoring.Engine
	logger  *logrus.Logger
}

// Info answers `GET /api/v1/system/info`: DB row counts plus the current
// scoring mode.
func (h *SystemHandler) Info(c *gin.Context) {
	counts, err := h.store.GetSystemCounts(c.Request.Context())
	if err != nil {
		respondStoreErr(c, h.logger, err, "load system info")
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"user_profiles":   counts.UserProfiles,
		"content_vectors": counts.ContentVectors,
		"behavior_events": counts.BehaviorEvents,
		"scoring_mode":    string(h.scoring.GetMode()),
	}, "")
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

// ScoringMode answers both `GET` (current mode) and `POST` (set mode, via
// body or query `mode`) for `/api/v1/system/mbti-scoring-mode`.
func (h *SystemHandler) ScoringMode(c *gin.Context) {
	if c.Request.Method == http.MethodGet {
		respondOK(c, http.StatusOK, gin.H{"mode": string(h.scoring.GetMode())}, "")
		return
	}

	mode := c.Query("mode")
	if mode == "" {
		var body setModeRequest
		_ = c.ShouldBindJSON(&body)
		mode = body.Mode
	}

	switch scoring.Mode(mode) {
	case scoring.ModeAI, scoring.ModeRandom, scoring.ModeMixed:
		h.scoring.SetMode(scoring.Mode(mode))
		respondOK(c, http.StatusOK, gin.H{"mode": mode}, "scoring mode updated")
	default:
		respondErr(c, http.StatusBadRequest, "INVALID_MODE", "mode must be one of ai, random, mixed", nil)
	}
}
