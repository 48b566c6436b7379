package recommend

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbti-rec/server/internal/store"
	"github.com/mbti-rec/server/pkg/models"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = discardWriter{}
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

type stubEnqueuer struct {
	submitted []int64
	accept    bool
}

func (s *stubEnqueuer) SubmitScoreContent(contentID int64) bool {
	s.submitted = append(s.submitted, contentID)
	return s.accept
}

func newTestEngine(t *testing.T, enqueuer ScoreEnqueuer) (*Engine, pgxmock.PgxPoolIface) {
	t.Helper()
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	logger := testLogger()
	st := store.New(mockDB, logger)
	return New(st, nil, enqueuer, logger), mockDB
}

func profileColumns() []string {
	return []string{
		"user_id", "vec_e", "vec_i", "vec_s", "vec_n", "vec_t", "vec_f", "vec_j", "vec_p", "type_label",
		"total_behaviors_analyzed", "behaviors_since_last_update", "current_recommendation_page",
		"last_recommendation_time", "last_updated", "created_at",
	}
}

func contentColumns() []string {
	return []string{
		"content_id", "vec_e", "vec_i", "vec_s", "vec_n", "vec_t", "vec_f", "vec_j", "vec_p", "type_label",
		"title", "cover_image", "author", "publish_time", "content_type", "scoring_method", "scoring_failed",
		"toucher_count", "created_at", "updated_at",
	}
}

func TestRecommend_ColdStartWhenNoTypeLabel(t *testing.T) {
	e, mockDB := newTestEngine(t, nil)
	defer mockDB.Close()

	mockDB.ExpectQuery("SELECT user_id").WithArgs(int64(1)).WillReturnRows(
		pgxmock.NewRows(profileColumns()).AddRow(int64(1), 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, (*string)(nil),
			int64(0), int64(0), 0, (*time.Time)(nil), (*time.Time)(nil), time.Now()))
	mockDB.ExpectQuery("SELECT content_id FROM content_vectors").WillReturnRows(
		pgxmock.NewRows([]string{"content_id"}).AddRow(int64(10)).AddRow(int64(11)))

	resp, err := e.Recommend(context.Background(), modelsReq(1, 10))
	require.NoError(t, err)
	assert.True(t, resp.Metadata.ColdStart)
	assert.Nil(t, resp.UserMBTI)
	assert.Len(t, resp.Recommendations, 2)
	for _, item := range resp.Recommendations {
		assert.Equal(t, 0.5, item.Similarity)
	}
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestRecommend_RanksByProjectedCosineAndEnqueuesUnscored(t *testing.T) {
	enq := &stubEnqueuer{accept: true}
	e, mockDB := newTestEngine(t, enq)
	defer mockDB.Close()

	typeLabel := "ESTJ"
	mockDB.ExpectQuery("SELECT user_id").WithArgs(int64(2)).WillReturnRows(
		pgxmock.NewRows(profileColumns()).AddRow(int64(2), 0.9, 0.1, 0.9, 0.1, 0.9, 0.1, 0.9, 0.1, &typeLabel,
			int64(60), int64(0), 0, (*time.Time)(nil), (*time.Time)(nil), time.Now()))
	mockDB.ExpectQuery("SELECT content_id FROM content_vectors").WillReturnRows(
		pgxmock.NewRows([]string{"content_id"}).AddRow(int64(20)).AddRow(int64(21)))

	scoredLabel := "ESTJ"
	mockDB.ExpectQuery("SELECT content_id").WithArgs(int64(20)).WillReturnRows(
		pgxmock.NewRows(contentColumns()).AddRow(int64(20), 0.9, 0.1, 0.9, 0.1, 0.9, 0.1, 0.9, 0.1, &scoredLabel,
			(*string)(nil), (*string)(nil), (*string)(nil), (*time.Time)(nil), (*string)(nil), "ai", false,
			int64(0), time.Now(), time.Now()))
	mockDB.ExpectQuery("SELECT content_id").WithArgs(int64(21)).WillReturnRows(pgxmock.NewRows(contentColumns()))

	mockDB.ExpectExec("UPDATE user_profiles").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mockDB.ExpectQuery("INSERT INTO recommendation_logs").WillReturnRows(
		pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))

	req := modelsReq(2, 10)
	resp, err := e.Recommend(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, mockDB.ExpectationsWereMet())

	assert.False(t, resp.Metadata.ColdStart)
	require.Len(t, resp.Recommendations, 2)
	assert.Equal(t, int64(20), resp.Recommendations[0].ContentID)
	assert.Equal(t, int64(21), resp.Recommendations[1].ContentID)
	assert.Equal(t, "pending_score", resp.Recommendations[1].Source)
	assert.Equal(t, []int64{21}, enq.submitted)
}

func TestRecommend_UpstreamSupplementWhenNoCandidates(t *testing.T) {
	e, mockDB := newTestEngine(t, nil)
	defer mockDB.Close()

	typeLabel := "ESTJ"
	mockDB.ExpectQuery("SELECT user_id").WithArgs(int64(3)).WillReturnRows(
		pgxmock.NewRows(profileColumns()).AddRow(int64(3), 0.9, 0.1, 0.9, 0.1, 0.9, 0.1, 0.9, 0.1, &typeLabel,
			int64(60), int64(0), 0, (*time.Time)(nil), (*time.Time)(nil), time.Now()))
	mockDB.ExpectQuery("SELECT content_id FROM content_vectors").WillReturnRows(pgxmock.NewRows([]string{"content_id"}))

	resp, err := e.Recommend(context.Background(), modelsReq(3, 10))
	require.NoError(t, err)
	require.NoError(t, mockDB.ExpectationsWereMet())
	assert.Empty(t, resp.Recommendations)
}

func TestSimilar_ExcludesSelfAndFloorsAtThreshold(t *testing.T) {
	e, mockDB := newTestEngine(t, nil)
	defer mockDB.Close()

	queryLabel := "ESTJ"
	mockDB.ExpectQuery("SELECT content_id").WithArgs(int64(50)).WillReturnRows(
		pgxmock.NewRows(contentColumns()).AddRow(int64(50), 0.9, 0.1, 0.9, 0.1, 0.9, 0.1, 0.9, 0.1, &queryLabel,
			(*string)(nil), (*string)(nil), (*string)(nil), (*time.Time)(nil), (*string)(nil), "ai", false,
			int64(0), time.Now(), time.Now()))
	mockDB.ExpectQuery("SELECT content_id FROM content_vectors").WillReturnRows(
		pgxmock.NewRows([]string{"content_id"}).AddRow(int64(50)).AddRow(int64(51)).AddRow(int64(52)))

	closeLabel := "ESTJ"
	mockDB.ExpectQuery("SELECT content_id").WithArgs(int64(51)).WillReturnRows(
		pgxmock.NewRows(contentColumns()).AddRow(int64(51), 0.9, 0.1, 0.9, 0.1, 0.9, 0.1, 0.9, 0.1, &closeLabel,
			(*string)(nil), (*string)(nil), (*string)(nil), (*time.Time)(nil), (*string)(nil), "ai", false,
			int64(0), time.Now(), time.Now()))
	farLabel := "INFP"
	mockDB.ExpectQuery("SELECT content_id").WithArgs(int64(52)).WillReturnRows(
		pgxmock.NewRows(contentColumns()).AddRow(int64(52), 0.1, 0.9, 0.1, 0.9, 0.1, 0.9, 0.1, 0.9, &farLabel,
			(*string)(nil), (*string)(nil), (*string)(nil), (*time.Time)(nil), (*string)(nil), "ai", false,
			int64(0), time.Now(), time.Now()))

	resp, err := e.Similar(context.Background(), 50, "", 10)
	require.NoError(t, err)
	require.NoError(t, mockDB.ExpectationsWereMet())

	require.Len(t, resp.Recommendations, 1)
	assert.Equal(t, int64(51), resp.Recommendations[0].ContentID)
}

func modelsReq(userID int64, limit int) models.RecommendationRequest {
	return models.RecommendationRequest{UserID: userID, Limit: limit, SimilarityThreshold: 0}
}
