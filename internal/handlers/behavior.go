package handlers

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/mbti-rec/server/internal/config"
	"github.com/mbti-rec/server/internal/graphstore"
	"github.com/mbti-rec/server/internal/messaging"
	"github.com/mbti-rec/server/internal/recommend"
	"github.com/mbti-rec/server/internal/store"
	"github.com/mbti-rec/server/internal/workerpool"
	"github.com/mbti-rec/server/pkg/models"
)

type BehaviorHandler struct {
	store      *store.Store
	pool       *workerpool.Pool
	bus        *messaging.MessageBus // optional; nil disables the kafka fan-out
	graph      *graphstore.Store     // optional; nil disables the Neo4j touch graph
	recommend  *recommend.Engine
	thresholds config.ThresholdConfig
	validate   *validator.Validate
	logger     *logrus.Logger
}

var actionPattern = regexp.MustCompile(`^(view|like|collect|comment|share|follow)$`)

// Record answers `POST /api/v1/behavior/record` (§4.7 inputs, §6). It
// inserts the raw event, bumps the counter, and schedules the three pieces
// of background work the threshold hook calls for: a forced user
// re-derivation whenever the counter reaches a multiple of T_user, and a best-effort
// content scoring + content re-derivation pass for whatever was touched.
func (h *BehaviorHandler) Record(c *gin.Context) {
	var req models.RecordBehaviorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body", err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondErr(c, http.StatusBadRequest, "VALIDATION_FAILED", "request validation failed", err.Error())
		return
	}
	if !actionPattern.MatchString(string(req.Action)) {
		respondErr(c, http.StatusBadRequest, "INVALID_ACTION", "action must be one of view, like, collect, comment, share, follow", nil)
		return
	}

	weight := models.DefaultWeights[req.Action]
	if req.Weight != nil {
		weight = *req.Weight
	}
	timestamp := time.Now()
	if req.Timestamp != nil {
		timestamp = *req.Timestamp
	}

	ctx := c.Request.Context()
	if _, err := h.store.GetOrCreateProfile(ctx, req.UserID); err != nil {
		respondStoreErr(c, h.logger, err, "ensure user profile")
		return
	}

	event := &models.BehaviorEvent{
		UserID: req.UserID, ContentID: req.ContentID, Action: req.Action,
		Weight: weight, Source: req.Source, SessionID: req.SessionID,
		Extra: req.Extra, Timestamp: timestamp,
	}
	id, err := h.store.RecordBehavior(ctx, event)
	if err != nil {
		respondStoreErr(c, h.logger, err, "record behavior")
		return
	}

	count, err := h.store.IncrementBehaviorCounter(ctx, req.UserID)
	if err != nil {
		respondStoreErr(c, h.logger, err, "increment behavior counter")
		return
	}

	if h.thresholds.UserBehaviors > 0 && count%h.thresholds.UserBehaviors == 0 {
		if !h.pool.SubmitUpdateUser(req.UserID, true) {
			h.logger.WithField("user_id", req.UserID).Warn("dropped threshold-triggered user update job")
		}
	}
	h.pool.SubmitScoreContent(req.ContentID)
	h.pool.SubmitUpdateContent(req.ContentID, false)

	if h.graph != nil {
		h.graph.RecordTouch(graphstore.Touch{
			UserID: req.UserID, ContentID: req.ContentID, Action: req.Action, Timestamp: timestamp,
		})
	}

	if h.bus != nil {
		go func(evt models.BehaviorEvent) {
			if err := h.bus.PublishBehaviorEvent(context.Background(), evt); err != nil {
				h.logger.WithError(err).WithField("user_id", evt.UserID).Warn("failed to publish behavior event")
			}
		}(*event)
	}

	h.recommend.InvalidateUser(ctx, req.UserID)

	respondOK(c, http.StatusCreated, gin.H{
		"id":                          id,
		"behaviors_since_last_update": count,
		"next_threshold":              h.thresholds.UserBehaviors,
	}, "behavior recorded")
}

// History answers `GET /api/v1/behavior/history/{user_id}` (paginated,
// filtered by action/start_date/end_date, §6).
func (h *BehaviorHandler) History(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		respondErr(c, http.StatusBadRequest, "INVALID_USER_ID", "user_id must be an integer", nil)
		return
	}

	page := parseIntDefault(c.Query("page"), 1)
	limit := parseIntDefault(c.Query("limit"), 20)
	action := c.Query("action")

	var start, end *time.Time
	if s := c.Query("start_date"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			start = &t
		}
	}
	if e := c.Query("end_date"); e != "" {
		if t, err := time.Parse(time.RFC3339, e); err == nil {
			end = &t
		}
	}

	events, total, err := h.store.GetBehaviorHistory(c.Request.Context(), userID, page, limit, action, start, end)
	if err != nil {
		respondStoreErr(c, h.logger, err, "load behavior history")
		return
	}

	respondOK(c, http.StatusOK, gin.H{
		"events": events,
		"page":   page,
		"limit":  limit,
		"total":  total,
	}, "")
}

// Stats answers `GET /api/v1/behavior/stats/{user_id}?days=N`, N in [1,365].
func (h *BehaviorHandler) Stats(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		respondErr(c, http.StatusBadRequest, "INVALID_USER_ID", "user_id must be an integer", nil)
		return
	}

	days := parseIntDefault(c.Query("days"), 30)
	if days < 1 || days > 365 {
		respondErr(c, http.StatusBadRequest, "INVALID_DAYS", "days must be between 1 and 365", nil)
		return
	}

	stats, err := h.store.GetBehaviorStats(c.Request.Context(), userID, days)
	if err != nil {
		respondStoreErr(c, h.logger, err, "load behavior stats")
		return
	}
	respondOK(c, http.StatusOK, stats, "")
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
