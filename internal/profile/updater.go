// Package profile implements the threshold-driven co-evolution between user
// and content MBTI vectors: every T_user behaviors a user's profile is
// re-derived from the content they touched, and every T_content distinct
// touchers a content item's vector is re-derived from the users who touched
// it. Grounded on original_source/mbti_service.py's
// update_user_mbti_when_posts_reach_50_multiple and
// update_content_mbti_when_users_reach_50, adapted from that file's
// synchronous per-request style to a lock-guarded method pair callable from
// both the HTTP layer and the background worker pool.
package profile

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/mbti-rec/server/internal/config"
	"github.com/mbti-rec/server/internal/scoring"
	"github.com/mbti-rec/server/internal/store"
	"github.com/mbti-rec/server/internal/upstream"
	"github.com/mbti-rec/server/internal/vectormath"
	"github.com/mbti-rec/server/pkg/models"
)

// Updater ties the store, scoring engine, and upstream client together to
// run the two re-derivation procedures, using the §4.5 thresholds from
// config.ThresholdConfig (T_user/T_content/L/M_min). Upstream is optional
// (nil is fine); without it, content lacking a cached title/text is scored
// on empty text.
type Updater struct {
	store    *store.Store
	scoring  *scoring.Engine
	upstream *upstream.Client
	logger   *logrus.Logger
	cfg      config.ThresholdConfig

	userLocks    rowLocks
	contentLocks rowLocks
}

func New(st *store.Store, eng *scoring.Engine, up *upstream.Client, cfg config.ThresholdConfig, logger *logrus.Logger) *Updater {
	return &Updater{store: st, scoring: eng, upstream: up, cfg: cfg, logger: logger}
}

// UpdateUserFromBehaviors re-derives userID's MBTI vector from the content
// they've recently interacted with (§4.5 step list). force bypasses the
// T_user threshold check (used by the explicit POST mbti/update endpoint
// and by the threshold hook once the counter actually reaches T_user).
// analyzeLastN overrides the §4.5 L window of recent behaviors to analyze;
// 0 (or negative) falls back to the configured default.
func (u *Updater) UpdateUserFromBehaviors(ctx context.Context, userID int64, force bool, analyzeLastN int) (*UserUpdateResult, error) {
	unlock, ok := u.userLocks.acquire(userID)
	if !ok {
		return &UserUpdateResult{Outcome: OutcomeConflict, UserID: userID}, nil
	}
	defer unlock()

	profile, err := u.store.GetOrCreateProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !force && profile.BehaviorsSinceLastUpdate < u.cfg.UserBehaviors {
		return &UserUpdateResult{Outcome: OutcomeNotDue, UserID: userID}, nil
	}
	if !profile.HasTypeLabel() && profile.BehaviorsSinceLastUpdate >= u.cfg.UserBehaviors {
		force = true
	}

	window := u.cfg.RecentBehaviors
	if analyzeLastN > 0 {
		window = analyzeLastN
	}
	behaviors, err := u.store.GetRecentBehaviors(ctx, userID, window)
	if err != nil {
		return nil, err
	}
	if len(behaviors) < u.cfg.MinBehaviors {
		return &UserUpdateResult{Outcome: OutcomeInsufficient, UserID: userID}, nil
	}

	contentWeight := make(map[int64]float64)
	for _, b := range behaviors {
		contentWeight[b.ContentID] += b.Weight
	}

	ids := make([]int64, 0, len(contentWeight))
	for id := range contentWeight {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	vectors := make([]models.MBTIVector, 0, len(ids))
	weights := make([]float64, 0, len(ids))
	for _, id := range ids {
		cv, err := u.ensureContentScored(ctx, id)
		if err != nil {
			u.logger.WithError(err).WithField("content_id", id).
				Warn("failed to ensure content scored while updating user, skipping content")
			continue
		}
		vectors = append(vectors, cv.Vector)
		weights = append(weights, contentWeight[id])
	}

	blended := vectormath.Blend(vectors, weights)

	final := blended
	if profile.HasTypeLabel() {
		final = vectormath.Blend([]models.MBTIVector{profile.Vector, blended}, []float64{1, 1})
	}
	final = vectormath.Normalize(final)
	label := vectormath.TypeLabel(final)

	if err := u.store.UpdateProfileVector(ctx, userID, final, label, int64(len(behaviors))); err != nil {
		return nil, err
	}

	return &UserUpdateResult{
		Outcome:           OutcomeUpdated,
		UserID:            userID,
		OldVector:         profile.Vector,
		NewVector:         final,
		TypeLabel:         label,
		Changes:           calculateProbabilityChanges(profile.Vector, final),
		BehaviorsAnalyzed: len(behaviors),
	}, nil
}

// ensureContentScored returns a content item's vector, fetching its
// title/text from upstream to score it on first sight if the store has
// nothing for it yet (EnsureScored itself is the at-most-once-per-id gate).
func (u *Updater) ensureContentScored(ctx context.Context, contentID int64) (*models.ContentVector, error) {
	if cv, ok, err := u.store.GetContentVector(ctx, contentID); err != nil {
		return nil, err
	} else if ok {
		return cv, nil
	}

	in := scoring.ContentInput{ContentID: contentID}
	if u.upstream != nil {
		article, err := u.upstream.GetArticle(ctx, contentID)
		if err != nil {
			u.logger.WithError(err).WithField("content_id", contentID).
				Warn("failed to fetch content details from upstream, scoring on empty text")
		} else if article != nil {
			in.Title = article.Title
			in.Text = article.ContentText
			in.ContentType = article.ContentType
		}
	}
	return u.scoring.EnsureScored(ctx, in)
}

// UpdateContentFromUsers re-derives contentID's vector from the labeled
// profiles of everyone who has touched it (§4.5 step list).
func (u *Updater) UpdateContentFromUsers(ctx context.Context, contentID int64, force bool) (*ContentUpdateResult, error) {
	unlock, ok := u.contentLocks.acquire(contentID)
	if !ok {
		return &ContentUpdateResult{Outcome: OutcomeConflict, ContentID: contentID}, nil
	}
	defer unlock()

	touchers, err := u.store.GetDistinctToucherUsers(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if !force && int64(len(touchers)) < u.cfg.ContentTouchers {
		return &ContentUpdateResult{Outcome: OutcomeNotDue, ContentID: contentID}, nil
	}

	var labeled []models.MBTIVector
	for _, userID := range touchers {
		p, err := u.store.GetOrCreateProfile(ctx, userID)
		if err != nil {
			u.logger.WithError(err).WithField("user_id", userID).
				Warn("failed to load toucher profile while updating content, skipping user")
			continue
		}
		if !p.HasTypeLabel() {
			continue
		}
		labeled = append(labeled, p.Vector)
	}
	if len(labeled) == 0 {
		return &ContentUpdateResult{Outcome: OutcomeNoLabeledUsers, ContentID: contentID}, nil
	}

	usersAvg := vectormath.Blend(labeled, onesOf(len(labeled)))

	cv, found, err := u.store.GetContentVector(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if !found {
		cv = &models.ContentVector{ContentID: contentID, Vector: models.NeutralVector()}
	}
	oldVector := cv.Vector

	newVector := vectormath.Normalize(vectormath.Blend([]models.MBTIVector{oldVector, usersAvg}, []float64{1, 1}))
	label := vectormath.TypeLabel(newVector)

	cv.Vector = newVector
	cv.TypeLabel = label
	cv.ToucherCount = int64(len(touchers))
	if err := u.store.UpsertContentVector(ctx, cv); err != nil {
		return nil, err
	}

	return &ContentUpdateResult{
		Outcome:          OutcomeUpdated,
		ContentID:        contentID,
		OldVector:        oldVector,
		NewVector:        newVector,
		TypeLabel:        label,
		Changes:          calculateProbabilityChanges(oldVector, newVector),
		ToucherCount:     len(touchers),
		LabeledUserCount: len(labeled),
	}, nil
}

func onesOf(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return w
}
