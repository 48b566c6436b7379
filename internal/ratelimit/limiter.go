// Package ratelimit bounds per-client request volume with a Redis sorted-set
// sliding window, grounded on internal/services/ratelimit.go's
// ZRemRangeByScore/ZCard/ZAdd pipeline, simplified from the teacher's
// per-tier limits (this domain has no subscription tiers) down to a single
// configured ceiling.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mbti-rec/server/internal/config"
)

// Info is returned to callers that want to surface X-RateLimit-* headers.
type Info struct {
	Limit     int
	Remaining int
	ResetUnix int64
}

type Limiter struct {
	client *redis.Client
	cfg    config.RateLimitConfig
	logger *logrus.Logger
}

func New(client *redis.Client, cfg config.RateLimitConfig, logger *logrus.Logger) *Limiter {
	return &Limiter{client: client, cfg: cfg, logger: logger}
}

// Allow checks and records one request from key (typically client IP or
// user id). On Redis failure it fails open: a flaky cache tier should never
// block traffic.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, Info, error) {
	if l.cfg.RequestsPerWindow <= 0 {
		return true, Info{}, nil
	}

	redisKey := fmt.Sprintf("ratelimit:%s", key)
	now := time.Now()
	windowStart := now.Add(-l.cfg.Window)

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	pipe.Expire(ctx, redisKey, l.cfg.Window)

	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.WithError(err).Warn("rate limit pipeline failed, allowing request")
		return true, Info{Limit: l.cfg.RequestsPerWindow, Remaining: l.cfg.RequestsPerWindow - 1, ResetUnix: now.Add(l.cfg.Window).Unix()}, nil
	}

	current := int(countCmd.Val())
	remaining := l.cfg.RequestsPerWindow - current
	if remaining < 0 {
		remaining = 0
	}
	info := Info{Limit: l.cfg.RequestsPerWindow, Remaining: remaining, ResetUnix: now.Add(l.cfg.Window).Unix()}
	return current < l.cfg.RequestsPerWindow, info, nil
}
