// Package recommend implements the candidate-acquisition and ranking logic
// of the recommendation endpoint: cold-start serving, 4-axis cosine ranking
// over content the store has already scored, non-blocking scoring enqueue
// for unscored candidates, threshold relaxation when too few survive, and
// upstream supplementation when the store has nothing at all. Grounded on
// internal/services/recommendation_algorithms.go's candidate-then-rank shape,
// generalized from the teacher's embedding cosine to the MBTI 4-axis
// projection cosine (internal/vectormath.Projected4/Cosine).
package recommend

import (
	"context"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mbti-rec/server/internal/store"
	"github.com/mbti-rec/server/internal/upstream"
	"github.com/mbti-rec/server/internal/vectormath"
	"github.com/mbti-rec/server/pkg/models"
)

// candidateCap bounds how many newest-scored candidate ids are pulled from
// the store before ranking (§4.6 step 2, "capped at 1,000 newest").
const candidateCap = 1000

// similarItemThreshold is the minimum cosine similarity the similar-to-item
// query requires (§4.6 "Similar-to-item query").
const similarItemThreshold = 0.3

// ScoreEnqueuer is the non-blocking scoring submission the recommender uses
// for candidates it finds unscored mid-ranking — satisfied by
// internal/workerpool.Pool, kept as a narrow interface here so this package
// doesn't need to import the pool's job types.
type ScoreEnqueuer interface {
	SubmitScoreContent(contentID int64) bool
}

type Engine struct {
	store    *store.Store
	upstream *upstream.Client
	enqueuer ScoreEnqueuer
	logger   *logrus.Logger

	cache    *redis.Client // optional Warm-tier page cache, set via WithCache
	cacheTTL time.Duration
}

func New(st *store.Store, up *upstream.Client, enqueuer ScoreEnqueuer, logger *logrus.Logger) *Engine {
	return &Engine{store: st, upstream: up, enqueuer: enqueuer, logger: logger}
}

// candidate is an internal working item carrying whatever the store knew
// about it at ranking time, before pagination/detail-join trims it down to
// a models.RecommendedItem.
type candidate struct {
	contentID  int64
	similarity float64
	source     string
	createdAt  int64 // unix nanos, for the descending tie-break
}

// Recommend serves one page of recommendations for req.UserID (§4.6).
func (e *Engine) Recommend(ctx context.Context, req models.RecommendationRequest) (*models.RecommendationResponse, error) {
	profile, err := e.store.GetOrCreateProfile(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	if !profile.HasTypeLabel() {
		return e.coldStart(ctx, req, limit)
	}

	page := resolvePage(req, profile)

	key := cacheKey(req, page)
	if cached, hit := e.cacheGet(ctx, key); hit {
		return cached, nil
	}

	var excludeIDs []int64
	if req.ExcludeViewed {
		excludeIDs, err = e.store.GetLikedContentIds(ctx, req.UserID, req.FreshDays)
		if err != nil {
			return nil, err
		}
	}

	candidateIDs, err := e.store.CandidateContentIds(ctx, req.ContentType, excludeIDs, candidateCap)
	if err != nil {
		return nil, err
	}

	if len(candidateIDs) == 0 {
		return e.upstreamSupplement(ctx, req, limit)
	}

	userVec := vectormath.Projected4(profile.Vector)
	candidates := make([]candidate, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		cv, found, err := e.store.GetContentVector(ctx, id)
		if err != nil {
			e.logger.WithError(err).WithField("content_id", id).Warn("failed to load candidate content vector, skipping")
			continue
		}
		if !found {
			if e.enqueuer != nil && !e.enqueuer.SubmitScoreContent(id) {
				e.logger.WithField("content_id", id).Warn("scoring queue full, dropping enqueue for candidate")
			}
			candidates = append(candidates, candidate{contentID: id, similarity: 0.5, source: "pending_score"})
			continue
		}
		sim := vectormath.Cosine(userVec, vectormath.Projected4(cv.Vector))
		candidates = append(candidates, candidate{contentID: id, similarity: sim, createdAt: cv.CreatedAt.UnixNano()})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].similarity != candidates[j].similarity {
			return candidates[i].similarity > candidates[j].similarity
		}
		return candidates[i].createdAt > candidates[j].createdAt
	})

	threshold := req.SimilarityThreshold
	survivors := filterByThreshold(candidates, threshold)
	relaxed := false
	if len(survivors) < limit {
		relaxed = true
		survivors = candidates
	}

	offset := (page - 1) * limit
	served := sliceWindow(survivors, offset, limit)

	items := toRecommendedItems(served)
	detailsAttached := false
	if req.IncludeContentDetails && len(items) > 0 {
		detailsAttached = e.attachDetails(ctx, items)
	}

	if len(items) > 0 {
		if err := e.store.AdvanceRecommendationCursor(ctx, req.UserID, page); err != nil {
			return nil, err
		}
		e.logServe(ctx, req, profile.Vector, items, len(candidates), req.ContentType, threshold)
	}

	typeLabel := profile.TypeLabel
	resp := &models.RecommendationResponse{
		UserID:               req.UserID,
		UserMBTI:             &typeLabel,
		Recommendations:      items,
		RecommendationsCount: len(items),
		Metadata: models.RecommendationMetadata{
			Page:                    page,
			Limit:                   limit,
			TotalCandidatesExamined: len(candidates),
			AverageSimilarity:       averageSimilarity(items),
			ThresholdRelaxed:        relaxed,
			ContentDetailsAttached:  detailsAttached,
			ColdStart:               false,
		},
	}
	if len(items) > 0 {
		e.cacheSet(ctx, key, resp)
	}
	return resp, nil
}

func resolvePage(req models.RecommendationRequest, profile *models.UserProfile) int {
	if req.Page != nil {
		return *req.Page
	}
	if req.AutoPage {
		return profile.CurrentRecommendationPage + 1
	}
	return 1
}

func filterByThreshold(candidates []candidate, threshold float64) []candidate {
	out := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.similarity >= threshold {
			out = append(out, c)
		}
	}
	return out
}

func sliceWindow(items []candidate, offset, limit int) []candidate {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func toRecommendedItems(cands []candidate) []models.RecommendedItem {
	items := make([]models.RecommendedItem, 0, len(cands))
	for _, c := range cands {
		items = append(items, models.RecommendedItem{
			ContentID:  c.contentID,
			Similarity: c.similarity,
			Source:     c.source,
		})
	}
	return items
}

func averageSimilarity(items []models.RecommendedItem) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, i := range items {
		sum += i.Similarity
	}
	return sum / float64(len(items))
}

// coldStart serves the "random recommendations" path for a profile with no
// type label: the newest scored content, flat similarity 0.5, no cursor
// advance (§4.6 "Cold start").
func (e *Engine) coldStart(ctx context.Context, req models.RecommendationRequest, limit int) (*models.RecommendationResponse, error) {
	ids, err := e.store.CandidateContentIds(ctx, req.ContentType, nil, limit)
	if err != nil {
		return nil, err
	}

	items := make([]models.RecommendedItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, models.RecommendedItem{ContentID: id, Similarity: 0.5})
	}

	detailsAttached := false
	if req.IncludeContentDetails && len(items) > 0 {
		detailsAttached = e.attachDetails(ctx, items)
	}

	return &models.RecommendationResponse{
		UserID:               req.UserID,
		UserMBTI:             nil,
		Recommendations:      items,
		RecommendationsCount: len(items),
		Metadata: models.RecommendationMetadata{
			Page:                   1,
			Limit:                  limit,
			TotalCandidatesExamined: len(items),
			AverageSimilarity:      0.5,
			ContentDetailsAttached: detailsAttached,
			ColdStart:              true,
		},
	}, nil
}

// upstreamSupplement handles the "store returns zero candidates" branch by
// requesting a page straight from the upstream platform, unranked (§4.6
// "Upstream supplementation").
func (e *Engine) upstreamSupplement(ctx context.Context, req models.RecommendationRequest, limit int) (*models.RecommendationResponse, error) {
	page := 1
	if req.Page != nil {
		page = *req.Page
	}

	if e.upstream == nil {
		return &models.RecommendationResponse{
			UserID:   req.UserID,
			UserMBTI: nil,
			Metadata: models.RecommendationMetadata{Page: page, Limit: limit},
		}, nil
	}

	articles, _, err := e.upstream.ListArticles(ctx, page, limit, models.ArticleFilters{})
	if err != nil {
		return nil, err
	}

	items := make([]models.RecommendedItem, 0, len(articles))
	for _, a := range articles {
		if !upstream.Recommendable(a) {
			continue
		}
		items = append(items, models.RecommendedItem{
			ContentID:  a.ID,
			Similarity: 0.5,
			Source:     "upstream_direct",
			Content:    a,
		})
	}

	return &models.RecommendationResponse{
		UserID:               req.UserID,
		Recommendations:      items,
		RecommendationsCount: len(items),
		Metadata: models.RecommendationMetadata{
			Page:                    page,
			Limit:                   limit,
			TotalCandidatesExamined: len(items),
			AverageSimilarity:       0.5,
			ContentDetailsAttached:  true,
		},
	}, nil
}

// Similar answers the "similar to this content" query: same cosine ranking
// approach, query vector is the item's own vector, self excluded, similarity
// floor 0.3 instead of the caller-chosen threshold (§4.6).
func (e *Engine) Similar(ctx context.Context, contentID int64, contentType string, limit int) (*models.RecommendationResponse, error) {
	query, found, err := e.store.GetContentVector(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if !found {
		return &models.RecommendationResponse{Metadata: models.RecommendationMetadata{Limit: limit}}, nil
	}

	queryVec := vectormath.Projected4(query.Vector)
	ids, err := e.store.CandidateContentIds(ctx, contentType, nil, candidateCap)
	if err != nil {
		return nil, err
	}

	candidates := make([]candidate, 0, len(ids))
	for _, id := range ids {
		if id == contentID {
			continue
		}
		cv, found, err := e.store.GetContentVector(ctx, id)
		if err != nil || !found {
			continue
		}
		sim := vectormath.Cosine(queryVec, vectormath.Projected4(cv.Vector))
		if sim < similarItemThreshold {
			continue
		}
		candidates = append(candidates, candidate{contentID: id, similarity: sim, createdAt: cv.CreatedAt.UnixNano()})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].similarity != candidates[j].similarity {
			return candidates[i].similarity > candidates[j].similarity
		}
		return candidates[i].createdAt > candidates[j].createdAt
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	items := toRecommendedItems(candidates)
	return &models.RecommendationResponse{
		Recommendations:      items,
		RecommendationsCount: len(items),
		Metadata: models.RecommendationMetadata{
			Limit:                   limit,
			TotalCandidatesExamined: len(ids),
			AverageSimilarity:       averageSimilarity(items),
		},
	}, nil
}

// attachDetails reports whether it actually attached upstream content
// details, not merely whether it was asked to — a nil upstream client or a
// failed batch fetch must not be reported as attached.
func (e *Engine) attachDetails(ctx context.Context, items []models.RecommendedItem) bool {
	if e.upstream == nil {
		return false
	}
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ContentID
	}
	found, _, err := e.upstream.GetArticlesBatch(ctx, ids)
	if err != nil {
		e.logger.WithError(err).Warn("failed to batch-fetch content details for recommendations")
		return false
	}
	byID := make(map[int64]*models.ArticleDetail, len(found))
	for _, a := range found {
		byID[a.ID] = a
	}
	for i := range items {
		if a, ok := byID[items[i].ContentID]; ok {
			items[i].Content = a
		}
	}
	return true
}

func (e *Engine) logServe(ctx context.Context, req models.RecommendationRequest, userVec models.MBTIVector, items []models.RecommendedItem, totalCandidates int, contentType string, threshold float64) {
	ids := make([]int64, len(items))
	sims := make([]float64, len(items))
	for i, it := range items {
		ids[i] = it.ContentID
		sims[i] = it.Similarity
	}
	log := &models.RecommendationLog{
		UserID:             req.UserID,
		ContentIDs:         ids,
		Similarities:       sims,
		Limit:              req.Limit,
		Threshold:          threshold,
		ContentTypeFilter:  contentType,
		TotalCandidates:    totalCandidates,
		AverageSimilarity:  averageSimilarity(items),
		UserVectorSnapshot: userVec,
	}
	if err := e.store.InsertRecommendationLog(ctx, log); err != nil {
		e.logger.WithError(err).WithField("user_id", req.UserID).Warn("failed to write recommendation log")
	}
}
