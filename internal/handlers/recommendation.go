package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mbti-rec/server/internal/recommend"
	"github.com/mbti-rec/server/pkg/models"
)

type RecommendationHandler struct {
	recommend *recommend.Engine
	logger    *logrus.Logger
}

// List answers `GET /api/v1/recommendations/{user_id}` (§4.6, §6). Defaults:
// limit=20, similarity_threshold=0.5, fresh_days=30, exclude_viewed=true.
// page omitted means "auto-advance from the profile's stored cursor" (§4.6).
func (h *RecommendationHandler) List(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		respondErr(c, http.StatusBadRequest, "INVALID_USER_ID", "user_id must be an integer", nil)
		return
	}

	req := models.RecommendationRequest{
		UserID:                userID,
		Limit:                 parseIntDefault(c.Query("limit"), 20),
		ContentType:           c.Query("content_type"),
		SimilarityThreshold:   parseFloatDefault(c.Query("similarity_threshold"), 0.5),
		ExcludeViewed:         parseBoolDefault(c.Query("exclude_viewed"), true),
		FreshDays:             parseIntDefault(c.Query("fresh_days"), 30),
		IncludeContentDetails: parseBoolDefault(c.Query("include_content_details"), false),
	}

	if p := c.Query("page"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			req.Page = &n
		}
	} else {
		req.AutoPage = true
	}

	resp, err := h.recommend.Recommend(c.Request.Context(), req)
	if err != nil {
		respondStoreErr(c, h.logger, err, "build recommendations")
		return
	}
	respondOK(c, http.StatusOK, resp, "")
}

// Similar answers `GET /api/v1/recommendations/similar/{content_id}` (§4.6),
// a cosine-floor lookup against one content item rather than a user profile.
func (h *RecommendationHandler) Similar(c *gin.Context) {
	contentID, err := strconv.ParseInt(c.Param("content_id"), 10, 64)
	if err != nil {
		respondErr(c, http.StatusBadRequest, "INVALID_CONTENT_ID", "content_id must be an integer", nil)
		return
	}

	limit := parseIntDefault(c.Query("limit"), 10)
	contentType := c.Query("content_type")

	resp, err := h.recommend.Similar(c.Request.Context(), contentID, contentType, limit)
	if err != nil {
		respondStoreErr(c, h.logger, err, "find similar content")
		return
	}
	respondOK(c, http.StatusOK, resp, "")
}

func parseFloatDefault(s string, def float64) float64 {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

func parseBoolDefault(s string, def bool) bool {
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}
