package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbti-rec/server/pkg/models"
)

func newTestStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return New(mockDB, logger), mockDB
}

func TestGetOrCreateProfile_ExistingRow(t *testing.T) {
	s, mockDB := newTestStore(t)
	defer mockDB.Close()

	rows := pgxmock.NewRows([]string{
		"user_id", "vec_e", "vec_i", "vec_s", "vec_n", "vec_t", "vec_f", "vec_j", "vec_p", "type_label",
		"total_behaviors_analyzed", "behaviors_since_last_update", "current_recommendation_page",
		"last_recommendation_time", "last_updated", "created_at",
	}).AddRow(int64(42), 0.9, 0.1, 0.2, 0.8, 0.6, 0.4, 0.7, 0.3, "ESNJ", int64(55), int64(3), 2,
		(*time.Time)(nil), (*time.Time)(nil), time.Now())

	mockDB.ExpectQuery("SELECT user_id").WithArgs(int64(42)).WillReturnRows(rows)

	profile, err := s.GetOrCreateProfile(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), profile.UserID)
	assert.Equal(t, "ESNJ", profile.TypeLabel)
	assert.InDelta(t, 0.9, profile.Vector.E, 1e-9)
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestGetOrCreateProfile_CreatesOnMiss(t *testing.T) {
	s, mockDB := newTestStore(t)
	defer mockDB.Close()

	emptyRows := pgxmock.NewRows([]string{
		"user_id", "vec_e", "vec_i", "vec_s", "vec_n", "vec_t", "vec_f", "vec_j", "vec_p", "type_label",
		"total_behaviors_analyzed", "behaviors_since_last_update", "current_recommendation_page",
		"last_recommendation_time", "last_updated", "created_at",
	})
	mockDB.ExpectQuery("SELECT user_id").WithArgs(int64(7)).WillReturnRows(emptyRows)
	mockDB.ExpectExec("INSERT INTO user_profiles").WillReturnResult(pgxmock.NewResult("INSERT", 1))

	createdRows := pgxmock.NewRows([]string{
		"user_id", "vec_e", "vec_i", "vec_s", "vec_n", "vec_t", "vec_f", "vec_j", "vec_p", "type_label",
		"total_behaviors_analyzed", "behaviors_since_last_update", "current_recommendation_page",
		"last_recommendation_time", "last_updated", "created_at",
	}).AddRow(int64(7), 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, (*string)(nil), int64(0), int64(0), 0,
		(*time.Time)(nil), (*time.Time)(nil), time.Now())
	mockDB.ExpectQuery("SELECT user_id").WithArgs(int64(7)).WillReturnRows(createdRows)

	profile, err := s.GetOrCreateProfile(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, models.NeutralVector(), profile.Vector)
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestIncrementBehaviorCounter(t *testing.T) {
	s, mockDB := newTestStore(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("UPDATE user_profiles").
		WithArgs(int64(9)).
		WillReturnRows(pgxmock.NewRows([]string{"behaviors_since_last_update"}).AddRow(int64(51)))

	count, err := s.IncrementBehaviorCounter(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, int64(51), count)
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestGetContentVector_NotScoredReturnsFoundFalse(t *testing.T) {
	s, mockDB := newTestStore(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("SELECT content_id").
		WithArgs(int64(100)).
		WillReturnRows(pgxmock.NewRows([]string{
			"content_id", "vec_e", "vec_i", "vec_s", "vec_n", "vec_t", "vec_f", "vec_j", "vec_p", "type_label",
			"title", "cover_image", "author", "publish_time", "content_type", "scoring_method", "scoring_failed",
			"toucher_count", "created_at", "updated_at",
		}))

	cv, found, err := s.GetContentVector(context.Background(), 100)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, cv)
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestRecordBehavior(t *testing.T) {
	s, mockDB := newTestStore(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("INSERT INTO behavior_events").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1001)))

	id, err := s.RecordBehavior(context.Background(), &models.BehaviorEvent{
		UserID:    1,
		ContentID: 2,
		Action:    models.ActionLike,
		Weight:    0.8,
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1001), id)
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestGetBehaviorHistory_PaginatesAndCounts(t *testing.T) {
	s, mockDB := newTestStore(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("SELECT COUNT\\(\\*\\) FROM behavior_events").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))
	mockDB.ExpectQuery("FROM behavior_events").
		WithArgs(int64(7), 10, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "content_id", "action", "weight", "source", "session_id", "extra", "created_at",
		}).
			AddRow(int64(1), int64(7), int64(100), models.ActionLike, 0.8, "web", "sess-1", []byte(nil), time.Now()).
			AddRow(int64(2), int64(7), int64(101), models.ActionView, 0.2, "web", "sess-1", []byte(nil), time.Now()))

	events, total, err := s.GetBehaviorHistory(context.Background(), 7, 1, 10, "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, events, 2)
	assert.Equal(t, int64(100), events[0].ContentID)
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestGetBehaviorHistory_FiltersByAction(t *testing.T) {
	s, mockDB := newTestStore(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("SELECT COUNT\\(\\*\\) FROM behavior_events").
		WithArgs(int64(7), string(models.ActionLike)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mockDB.ExpectQuery("FROM behavior_events").
		WithArgs(int64(7), string(models.ActionLike), 10, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "content_id", "action", "weight", "source", "session_id", "extra", "created_at",
		}))

	events, total, err := s.GetBehaviorHistory(context.Background(), 7, 1, 10, string(models.ActionLike), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, events)
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestGetBehaviorStats_AggregatesActionDistribution(t *testing.T) {
	s, mockDB := newTestStore(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("SELECT action, COUNT").
		WithArgs(int64(7), 7).
		WillReturnRows(pgxmock.NewRows([]string{"action", "count"}).
			AddRow(models.ActionLike, 10).
			AddRow(models.ActionView, 4))

	stats, err := s.GetBehaviorStats(context.Background(), 7, 7)
	require.NoError(t, err)
	assert.Equal(t, 14, stats.TotalBehaviors)
	assert.Equal(t, 10, stats.ActionDistribution[models.ActionLike])
	assert.Equal(t, models.ActivityMedium, stats.ActivityLevel)
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestGetSystemCounts_ReadsAllThreeTables(t *testing.T) {
	s, mockDB := newTestStore(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("SELECT COUNT\\(\\*\\) FROM user_profiles").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mockDB.ExpectQuery("SELECT COUNT\\(\\*\\) FROM content_vectors").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(9)))
	mockDB.ExpectQuery("SELECT COUNT\\(\\*\\) FROM behavior_events").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(42)))

	counts, err := s.GetSystemCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts.UserProfiles)
	assert.Equal(t, int64(9), counts.ContentVectors)
	assert.Equal(t, int64(42), counts.BehaviorEvents)
	require.NoError(t, mockDB.ExpectationsWereMet())
}
