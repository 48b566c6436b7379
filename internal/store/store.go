// Package store implements the Postgres persistence layer: user profiles,
// content vectors, raw behavior events and recommendation logs. Query style
// (raw SQL strings, incremental WHERE-clause building, pgx.ErrNoRows
// get-or-create) is grounded on the teacher's
// internal/services/user_interaction.go, generalized from the teacher's
// UUID/embedding schema to the int64-keyed MBTI schema.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/mbti-rec/server/internal/vectormath"
	"github.com/mbti-rec/server/pkg/models"
)

// Querier is the pgxpool.Pool subset the store depends on, narrow enough for
// pgxmock to stand in during tests.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgx.CommandTag, error)
}

type Store struct {
	pool   Querier
	logger *logrus.Logger
}

func New(pool Querier, logger *logrus.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// GetOrCreateProfile loads a user's profile, inserting a fresh neutral-vector
// row on first sight (§3 UserProfile, §4.2 cold start).
func (s *Store) GetOrCreateProfile(ctx context.Context, userID int64) (*models.UserProfile, error) {
	profile, err := s.getProfile(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if KindOf(err) != KindNotFound {
		return nil, err
	}

	neutral := models.NeutralVector()
	profile = &models.UserProfile{
		UserID:    userID,
		Vector:    neutral,
		TypeLabel: "",
		CreatedAt: time.Now(),
	}

	const query = `
		INSERT INTO user_profiles (user_id, vec_e, vec_i, vec_s, vec_n, vec_t, vec_f, vec_j, vec_p, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query, userID,
		neutral.E, neutral.I, neutral.S, neutral.N, neutral.T, neutral.F, neutral.J, neutral.P,
		profile.CreatedAt)
	if err != nil {
		return nil, storageErr("failed to create user profile", err)
	}

	// Another request may have raced us to the insert; re-read either way.
	return s.getProfile(ctx, userID)
}

func (s *Store) getProfile(ctx context.Context, userID int64) (*models.UserProfile, error) {
	const query = `
		SELECT user_id, vec_e, vec_i, vec_s, vec_n, vec_t, vec_f, vec_j, vec_p, type_label,
			   total_behaviors_analyzed, behaviors_since_last_update, current_recommendation_page,
			   last_recommendation_time, last_updated, created_at
		FROM user_profiles WHERE user_id = $1`

	var p models.UserProfile
	var typeLabel *string
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&p.UserID, &p.Vector.E, &p.Vector.I, &p.Vector.S, &p.Vector.N,
		&p.Vector.T, &p.Vector.F, &p.Vector.J, &p.Vector.P, &typeLabel,
		&p.TotalBehaviorsAnalyzed, &p.BehaviorsSinceLastUpdate, &p.CurrentRecommendationPage,
		&p.LastRecommendationTime, &p.LastUpdated, &p.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, notFound("user profile not found", err)
		}
		return nil, storageErr("failed to query user profile", err)
	}
	if typeLabel != nil {
		p.TypeLabel = *typeLabel
	}
	p.Confidence = vectormath.ConfidenceOf(p.Vector)
	return &p, nil
}

// UpdateProfileVector persists a freshly-derived vector and resets the
// behaviors-since-last-update counter (§4.5 step "blend, persist, reset").
func (s *Store) UpdateProfileVector(ctx context.Context, userID int64, v models.MBTIVector, typeLabel string, totalAnalyzed int64) error {
	const query = `
		UPDATE user_profiles
		SET vec_e = $2, vec_i = $3, vec_s = $4, vec_n = $5, vec_t = $6, vec_f = $7, vec_j = $8, vec_p = $9,
			type_label = $10, total_behaviors_analyzed = $11, behaviors_since_last_update = 0, last_updated = $12
		WHERE user_id = $1`

	_, err := s.pool.Exec(ctx, query, userID,
		v.E, v.I, v.S, v.N, v.T, v.F, v.J, v.P, typeLabel, totalAnalyzed, time.Now())
	if err != nil {
		return storageErr("failed to update user profile vector", err)
	}
	return nil
}

// IncrementBehaviorCounter atomically bumps behaviors_since_last_update and
// returns the new value, so the caller can compare it against T_user without
// a separate read-modify-write race.
func (s *Store) IncrementBehaviorCounter(ctx context.Context, userID int64) (int64, error) {
	const query = `
		UPDATE user_profiles
		SET behaviors_since_last_update = behaviors_since_last_update + 1
		WHERE user_id = $1
		RETURNING behaviors_since_last_update`

	var count int64
	if err := s.pool.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		if err == pgx.ErrNoRows {
			return 0, notFound("user profile not found", err)
		}
		return 0, storageErr("failed to increment behavior counter", err)
	}
	return count, nil
}

// AdvanceRecommendationCursor persists the per-user pagination cursor
// (§4.6 pagination) and the timestamp of the serve.
func (s *Store) AdvanceRecommendationCursor(ctx context.Context, userID int64, page int) error {
	const query = `
		UPDATE user_profiles
		SET current_recommendation_page = $2, last_recommendation_time = $3
		WHERE user_id = $1`

	_, err := s.pool.Exec(ctx, query, userID, page, time.Now())
	if err != nil {
		return storageErr("failed to advance recommendation cursor", err)
	}
	return nil
}

// RecordBehavior inserts one raw behavior row (§4.1 BehaviorEvent).
func (s *Store) RecordBehavior(ctx context.Context, e *models.BehaviorEvent) (int64, error) {
	extraJSON, _ := json.Marshal(e.Extra)

	const query = `
		INSERT INTO behavior_events (user_id, content_id, action, weight, source, session_id, extra, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		e.UserID, e.ContentID, e.Action, e.Weight, e.Source, e.SessionID, extraJSON, e.Timestamp,
	).Scan(&id)
	if err != nil {
		return 0, storageErr("failed to record behavior", err)
	}
	return id, nil
}

// GetRecentBehaviors returns up to limit most-recent behavior rows for a
// user, newest first — the window §4.5 step 1 draws L=200 from.
func (s *Store) GetRecentBehaviors(ctx context.Context, userID int64, limit int) ([]models.BehaviorEvent, error) {
	const query = `
		SELECT id, user_id, content_id, action, weight, source, session_id, extra, created_at
		FROM behavior_events
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, storageErr("failed to query recent behaviors", err)
	}
	defer rows.Close()

	var out []models.BehaviorEvent
	for rows.Next() {
		var e models.BehaviorEvent
		var extraJSON []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.ContentID, &e.Action, &e.Weight, &e.Source, &e.SessionID, &extraJSON, &e.Timestamp); err != nil {
			return nil, storageErr("failed to scan behavior row", err)
		}
		if len(extraJSON) > 0 {
			if err := json.Unmarshal(extraJSON, &e.Extra); err != nil {
				s.logger.WithError(err).Warn("failed to unmarshal behavior extra")
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// GetBehaviorHistory returns one page of a user's raw behavior events, most
// recent first, optionally filtered by action and a [start, end) timestamp
// window (§6 `GET /api/v1/behavior/history/{user_id}`). total is the
// unfiltered-by-page count matching the same filters, for pagination.
func (s *Store) GetBehaviorHistory(ctx context.Context, userID int64, page, limit int, action string, start, end *time.Time) ([]models.BehaviorEvent, int, error) {
	args := []interface{}{userID}
	conds := []string{"user_id = $1"}
	if action != "" {
		args = append(args, action)
		conds = append(conds, fmt.Sprintf("action = $%d", len(args)))
	}
	if start != nil {
		args = append(args, *start)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if end != nil {
		args = append(args, *end)
		conds = append(conds, fmt.Sprintf("created_at < $%d", len(args)))
	}
	where := ""
	for i, c := range conds {
		if i == 0 {
			where = "WHERE " + c
		} else {
			where += " AND " + c
		}
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM behavior_events " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, storageErr("failed to count behavior history", err)
	}

	pageArgs := append(append([]interface{}{}, args...), limit, (page-1)*limit)
	query := fmt.Sprintf(`
		SELECT id, user_id, content_id, action, weight, source, session_id, extra, created_at
		FROM behavior_events %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)

	rows, err := s.pool.Query(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, storageErr("failed to query behavior history", err)
	}
	defer rows.Close()

	var out []models.BehaviorEvent
	for rows.Next() {
		var e models.BehaviorEvent
		var extraJSON []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.ContentID, &e.Action, &e.Weight, &e.Source, &e.SessionID, &extraJSON, &e.Timestamp); err != nil {
			return nil, 0, storageErr("failed to scan behavior history row", err)
		}
		if len(extraJSON) > 0 {
			if err := json.Unmarshal(extraJSON, &e.Extra); err != nil {
				s.logger.WithError(err).Warn("failed to unmarshal behavior extra")
			}
		}
		out = append(out, e)
	}
	return out, total, nil
}

// GetBehaviorStats aggregates a user's behavior_events from the last `days`
// days into an action distribution and activity-level bucket (§4.7 stats,
// §6 `GET /api/v1/behavior/stats/{user_id}?days=N`).
func (s *Store) GetBehaviorStats(ctx context.Context, userID int64, days int) (*models.BehaviorStats, error) {
	const query = `
		SELECT action, COUNT(*) FROM behavior_events
		WHERE user_id = $1 AND created_at >= NOW() - ($2 || ' days')::interval
		GROUP BY action`

	rows, err := s.pool.Query(ctx, query, userID, days)
	if err != nil {
		return nil, storageErr("failed to query behavior stats", err)
	}
	defer rows.Close()

	dist := make(map[models.Action]int)
	total := 0
	for rows.Next() {
		var action models.Action
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return nil, storageErr("failed to scan behavior stats row", err)
		}
		dist[action] = count
		total += count
	}

	perDay := float64(total) / float64(days)
	return &models.BehaviorStats{
		UserID:             userID,
		Days:               days,
		TotalBehaviors:     total,
		ActionDistribution: dist,
		ActivityLevel:      activityLevelOf(perDay),
		BehaviorsPerDay:    perDay,
	}, nil
}

func activityLevelOf(perDay float64) models.ActivityLevel {
	switch {
	case perDay >= 5:
		return models.ActivityHigh
	case perDay >= 2:
		return models.ActivityMedium
	case perDay >= 0.5:
		return models.ActivityLow
	default:
		return models.ActivityInactive
	}
}

// SystemCounts is the §6 `GET /api/v1/system/info` DB-counts payload.
type SystemCounts struct {
	UserProfiles  int64 `json:"user_profiles"`
	ContentVectors int64 `json:"content_vectors"`
	BehaviorEvents int64 `json:"behavior_events"`
}

// GetSystemCounts reads the three core tables' row counts for the system
// info endpoint.
func (s *Store) GetSystemCounts(ctx context.Context) (*SystemCounts, error) {
	var c SystemCounts
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_profiles`).Scan(&c.UserProfiles); err != nil {
		return nil, storageErr("failed to count user profiles", err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM content_vectors`).Scan(&c.ContentVectors); err != nil {
		return nil, storageErr("failed to count content vectors", err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM behavior_events`).Scan(&c.BehaviorEvents); err != nil {
		return nil, storageErr("failed to count behavior events", err)
	}
	return &c, nil
}

// GetContentVector loads a content item's persisted vector. found is false
// (no error) when the content has never been scored yet.
func (s *Store) GetContentVector(ctx context.Context, contentID int64) (*models.ContentVector, bool, error) {
	const query = `
		SELECT content_id, vec_e, vec_i, vec_s, vec_n, vec_t, vec_f, vec_j, vec_p, type_label,
			   title, cover_image, author, publish_time, content_type, scoring_method, scoring_failed,
			   toucher_count, created_at, updated_at
		FROM content_vectors WHERE content_id = $1`

	var cv models.ContentVector
	var typeLabel, title, cover, author, contentType *string
	var publishTime *time.Time
	err := s.pool.QueryRow(ctx, query, contentID).Scan(
		&cv.ContentID, &cv.Vector.E, &cv.Vector.I, &cv.Vector.S, &cv.Vector.N,
		&cv.Vector.T, &cv.Vector.F, &cv.Vector.J, &cv.Vector.P, &typeLabel,
		&title, &cover, &author, &publishTime, &contentType, &cv.ScoringMode, &cv.ScoringFailed,
		&cv.ToucherCount, &cv.CreatedAt, &cv.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, storageErr("failed to query content vector", err)
	}
	if typeLabel != nil {
		cv.TypeLabel = *typeLabel
	}
	if title != nil {
		cv.Meta.Title = *title
	}
	if cover != nil {
		cv.Meta.CoverImage = *cover
	}
	if author != nil {
		cv.Meta.Author = *author
	}
	if contentType != nil {
		cv.Meta.ContentType = *contentType
	}
	if publishTime != nil {
		cv.Meta.PublishTime = *publishTime
	}
	return &cv, true, nil
}

// UpsertContentVector writes a content item's vector and metadata, inserting
// on first score and overwriting on every re-derivation (§4.5 step 2).
func (s *Store) UpsertContentVector(ctx context.Context, cv *models.ContentVector) error {
	const query = `
		INSERT INTO content_vectors (content_id, vec_e, vec_i, vec_s, vec_n, vec_t, vec_f, vec_j, vec_p,
			type_label, title, cover_image, author, publish_time, content_type, scoring_method, scoring_failed,
			toucher_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $19)
		ON CONFLICT (content_id) DO UPDATE SET
			vec_e = EXCLUDED.vec_e, vec_i = EXCLUDED.vec_i, vec_s = EXCLUDED.vec_s, vec_n = EXCLUDED.vec_n,
			vec_t = EXCLUDED.vec_t, vec_f = EXCLUDED.vec_f, vec_j = EXCLUDED.vec_j, vec_p = EXCLUDED.vec_p,
			type_label = EXCLUDED.type_label, title = EXCLUDED.title, cover_image = EXCLUDED.cover_image,
			author = EXCLUDED.author, publish_time = EXCLUDED.publish_time, content_type = EXCLUDED.content_type,
			scoring_method = EXCLUDED.scoring_method, scoring_failed = EXCLUDED.scoring_failed,
			toucher_count = EXCLUDED.toucher_count, updated_at = EXCLUDED.updated_at`

	now := time.Now()
	_, err := s.pool.Exec(ctx, query, cv.ContentID,
		cv.Vector.E, cv.Vector.I, cv.Vector.S, cv.Vector.N, cv.Vector.T, cv.Vector.F, cv.Vector.J, cv.Vector.P,
		cv.TypeLabel, cv.Meta.Title, cv.Meta.CoverImage, cv.Meta.Author, cv.Meta.PublishTime, cv.Meta.ContentType,
		cv.ScoringMode, cv.ScoringFailed, cv.ToucherCount, now,
	)
	if err != nil {
		return storageErr("failed to upsert content vector", err)
	}
	return nil
}

// IsContentScored reports whether a content item already has a persisted
// vector, without paying for the full row. The recommender's
// enqueue-unscored check uses GetContentVector instead.
func (s *Store) IsContentScored(ctx context.Context, contentID int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM content_vectors WHERE content_id = $1)`
	var exists bool
	if err := s.pool.QueryRow(ctx, query, contentID).Scan(&exists); err != nil {
		return false, storageErr("failed to check content scored state", err)
	}
	return exists, nil
}

// maxExcludeIDs bounds the exclude_ids IN-list the spec allows chunking or
// skipping beyond (§4.2 CandidateContentIds).
const maxExcludeIDs = 10000

// CandidateContentIds returns up to limit of the most recently scored
// content ids, optionally filtered by content type and excluding ids already
// seen by the caller (§4.2, §4.6 "acquire up to 1000 newest candidates").
// excludeIDs beyond maxExcludeIDs is skipped with a warning rather than
// chunked, since a single query that large would cost more than the
// candidate pool it's filtering.
func (s *Store) CandidateContentIds(ctx context.Context, contentType string, excludeIDs []int64, limit int) ([]int64, error) {
	if len(excludeIDs) > maxExcludeIDs {
		s.logger.WithField("exclude_count", len(excludeIDs)).Warn("exclude_ids too large, skipping exclusion filter")
		excludeIDs = nil
	}

	query := `SELECT content_id FROM content_vectors`
	args := []interface{}{}
	conds := []string{}
	if contentType != "" {
		args = append(args, contentType)
		conds = append(conds, fmt.Sprintf("content_type = $%d", len(args)))
	}
	if len(excludeIDs) > 0 {
		args = append(args, excludeIDs)
		conds = append(conds, fmt.Sprintf("NOT (content_id = ANY($%d))", len(args)))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += fmt.Sprintf(" ORDER BY updated_at DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("failed to query candidate content ids", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("failed to scan candidate content id", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetViewedContentIds returns the distinct content ids a user has already
// acted on, with any action. The exclude_viewed recommendation filter uses
// GetLikedContentIds instead.
func (s *Store) GetViewedContentIds(ctx context.Context, userID int64) (map[int64]bool, error) {
	const query = `SELECT DISTINCT content_id FROM behavior_events WHERE user_id = $1`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, storageErr("failed to query viewed content ids", err)
	}
	defer rows.Close()

	out := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("failed to scan viewed content id", err)
		}
		out[id] = true
	}
	return out, nil
}

// GetLikedContentIds returns content ids a user liked or collected within
// the last since_days (§4.2 GetLikedContentIds).
func (s *Store) GetLikedContentIds(ctx context.Context, userID int64, sinceDays int) ([]int64, error) {
	const query = `
		SELECT DISTINCT content_id FROM behavior_events
		WHERE user_id = $1 AND action IN ('like', 'collect') AND created_at >= $2`

	cutoff := time.Now().AddDate(0, 0, -sinceDays)
	rows, err := s.pool.Query(ctx, query, userID, cutoff)
	if err != nil {
		return nil, storageErr("failed to query liked content ids", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("failed to scan liked content id", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetDistinctToucherUsers is the Postgres fallback for §4.2's
// GetDistinctToucherUsers(content_id), answered from the raw behavior log
// when internal/graphstore's Neo4j count isn't wanted (e.g. exact user ids
// rather than a count).
func (s *Store) GetDistinctToucherUsers(ctx context.Context, contentID int64) ([]int64, error) {
	const query = `SELECT DISTINCT user_id FROM behavior_events WHERE content_id = $1`
	rows, err := s.pool.Query(ctx, query, contentID)
	if err != nil {
		return nil, storageErr("failed to query distinct touchers", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("failed to scan toucher user id", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetDistinctOperatedContentIds is the Postgres fallback for §4.2's
// GetDistinctOperatedContentIds(user_id).
func (s *Store) GetDistinctOperatedContentIds(ctx context.Context, userID int64) ([]int64, error) {
	const query = `SELECT DISTINCT content_id FROM behavior_events WHERE user_id = $1`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, storageErr("failed to query distinct operated content", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("failed to scan operated content id", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// InsertRecommendationLog appends an audit row for a serve (§3
// RecommendationLog).
func (s *Store) InsertRecommendationLog(ctx context.Context, log *models.RecommendationLog) error {
	snapshot, _ := json.Marshal(log.UserVectorSnapshot)

	const query = `
		INSERT INTO recommendation_logs
			(user_id, content_ids, similarities, param_limit, param_threshold,
			 content_type_filter, total_candidates, average_similarity, user_vector_snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	now := time.Now()
	err := s.pool.QueryRow(ctx, query,
		log.UserID, log.ContentIDs, log.Similarities, log.Limit, log.Threshold,
		log.ContentTypeFilter, log.TotalCandidates, log.AverageSimilarity, snapshot, now,
	).Scan(&log.ID)
	if err != nil {
		return storageErr("failed to insert recommendation log", err)
	}
	log.CreatedAt = now
	return nil
}

// DistinctTouchersSince counts distinct behavior_events.user_id rows for a
// content item created since the last re-derivation watermark — a Postgres
// fallback path for deployments running without the graph store, mirroring
// what internal/graphstore otherwise answers from Neo4j.
func (s *Store) DistinctTouchersSince(ctx context.Context, contentID int64, since time.Time) (int64, error) {
	const query = `
		SELECT COUNT(DISTINCT user_id) FROM behavior_events
		WHERE content_id = $1 AND created_at >= $2`
	var count int64
	if err := s.pool.QueryRow(ctx, query, contentID, since).Scan(&count); err != nil {
		return 0, storageErr("failed to count distinct touchers", err)
	}
	return count, nil
}
