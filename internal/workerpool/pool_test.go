package workerpool

import (
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbti-rec/server/internal/config"
	"github.com/mbti-rec/server/internal/profile"
	"github.com/mbti-rec/server/internal/scoring"
	"github.com/mbti-rec/server/internal/store"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = discardWriter{}
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestPool(t *testing.T, size, capacity int) (*Pool, pgxmock.PgxPoolIface) {
	t.Helper()
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	logger := testLogger()
	st := store.New(mockDB, logger)
	eng := scoring.NewEngine(
		config.ScoringConfig{DefaultMode: "random", SubBatchSize: 2, MaxConcurrency: 2, InterBatchPause: time.Millisecond, MaxRetries: 1},
		config.LLMConfig{Timeout: time.Second},
		st, logger,
	)
	upd := profile.New(st, eng, nil, config.ThresholdConfig{UserBehaviors: 50, ContentTouchers: 50, RecentBehaviors: 200, MinBehaviors: 10}, logger)
	return New(size, capacity, 2*time.Second, eng, upd, logger), mockDB
}

func contentColumns() []string {
	return []string{
		"content_id", "vec_e", "vec_i", "vec_s", "vec_n", "vec_t", "vec_f", "vec_j", "vec_p", "type_label",
		"title", "cover_image", "author", "publish_time", "content_type", "scoring_method", "scoring_failed",
		"toucher_count", "created_at", "updated_at",
	}
}

func TestSubmitScoreContent_RunsAgainstRandomMode(t *testing.T) {
	p, mockDB := newTestPool(t, 2, 4)
	defer mockDB.Close()

	mockDB.ExpectQuery("SELECT content_id").WithArgs(int64(77)).WillReturnRows(pgxmock.NewRows(contentColumns()))
	mockDB.ExpectExec("INSERT INTO content_vectors").WillReturnResult(pgxmock.NewResult("INSERT", 1))

	p.Start()
	defer p.Stop()

	require.True(t, p.SubmitScoreContent(77))

	require.Eventually(t, func() bool {
		return mockDB.ExpectationsWereMet() == nil
	}, time.Second, 10*time.Millisecond)
}

func TestSubmit_DropsJobWhenQueueFull(t *testing.T) {
	p, mockDB := newTestPool(t, 0, 1)
	defer mockDB.Close()

	// size 0 is coerced up to 1 worker by New, but never Start()ed here, so
	// nothing drains the queue and the second submit must be dropped.
	assert.True(t, p.submit(Job{Kind: JobScoreContent, ContentID: 1}))
	assert.False(t, p.submit(Job{Kind: JobScoreContent, ContentID: 2}))
}

func TestStop_WaitsForInFlightJobThenReturns(t *testing.T) {
	p, mockDB := newTestPool(t, 1, 1)
	defer mockDB.Close()

	mockDB.ExpectQuery("SELECT content_id").WithArgs(int64(88)).WillReturnRows(pgxmock.NewRows(contentColumns()))
	mockDB.ExpectExec("INSERT INTO content_vectors").WillReturnResult(pgxmock.NewResult("INSERT", 1))

	p.Start()
	require.True(t, p.SubmitScoreContent(88))

	start := time.Now()
	p.Stop()
	assert.Less(t, time.Since(start), 2*time.Second)
	require.NoError(t, mockDB.ExpectationsWereMet())
}
