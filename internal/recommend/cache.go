package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mbti-rec/server/pkg/models"
)

// defaultCacheTTL matches the teacher's fixed 15-minute recommendation cache
// window (internal/services/recommendation_orchestrator.go's cacheRecommendations).
const defaultCacheTTL = 15 * time.Minute

// WithCache attaches the Warm-tier Redis client recommendation pages are
// cached under. Caching stays disabled (every call is a cache miss) until
// this is called, so existing callers/tests that build an Engine without it
// are unaffected.
func (e *Engine) WithCache(client *redis.Client, ttl time.Duration) *Engine {
	e.cache = client
	if ttl > 0 {
		e.cacheTTL = ttl
	} else {
		e.cacheTTL = defaultCacheTTL
	}
	return e
}

// cacheKey mirrors buildCacheKey's namespaced, parameter-qualified shape so
// two requests that differ by content type, threshold, or page never collide
// (internal/services/recommendation_orchestrator.go's buildCacheKey).
func cacheKey(req models.RecommendationRequest, page int) string {
	return fmt.Sprintf("reco:%d:%s:%d:%d:%.2f:%v",
		req.UserID, req.ContentType, page, req.Limit, req.SimilarityThreshold, req.ExcludeViewed)
}

func (e *Engine) cacheGet(ctx context.Context, key string) (*models.RecommendationResponse, bool) {
	if e.cache == nil {
		return nil, false
	}
	raw, err := e.cache.Get(ctx, key).Result()
	if err != nil {
		return nil, false
	}
	var resp models.RecommendationResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

func (e *Engine) cacheSet(ctx context.Context, key string, resp *models.RecommendationResponse) {
	if e.cache == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, data, e.cacheTTL).Err(); err != nil {
		e.logger.WithError(err).Debug("failed to cache recommendation page")
	}
}

// invalidateUser drops every cached page for a user, grounded on
// invalidateUserCaches's pattern-scan-then-delete shape, called whenever a
// new behavior might change what that user should see next.
func (e *Engine) invalidateUser(ctx context.Context, userID int64) {
	if e.cache == nil {
		return
	}
	pattern := fmt.Sprintf("reco:%d:*", userID)
	keys, err := e.cache.Keys(ctx, pattern).Result()
	if err != nil || len(keys) == 0 {
		return
	}
	if err := e.cache.Del(ctx, keys...).Err(); err != nil {
		e.logger.WithError(err).Debug("failed to invalidate cached recommendation pages")
	}
}

// InvalidateUser is the exported hook the behavior-record handler calls
// after inserting a new event, so a served page never outlives the activity
// that should have changed it beyond the TTL window.
func (e *Engine) InvalidateUser(ctx context.Context, userID int64) {
	e.invalidateUser(ctx, userID)
}
