package scoring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbti-rec/server/internal/store"
)

func newScoredStore(t *testing.T) (*store.Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	return store.New(mockDB, logrus.New()), mockDB
}

func contentVectorRowColumns() []string {
	return []string{
		"content_id", "vec_e", "vec_i", "vec_s", "vec_n", "vec_t", "vec_f", "vec_j", "vec_p", "type_label",
		"title", "cover_image", "author", "publish_time", "content_type", "scoring_method", "scoring_failed",
		"toucher_count", "created_at", "updated_at",
	}
}

func TestEnsureScored_ScoresAndUpsertsOnMiss(t *testing.T) {
	st, mockDB := newScoredStore(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("SELECT content_id").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows(contentVectorRowColumns()))
	mockDB.ExpectExec("INSERT INTO content_vectors").WillReturnResult(pgxmock.NewResult("INSERT", 1))

	e := newTestEngine(t, ModeRandom, "")
	e.store = st

	cv, err := e.EnsureScored(context.Background(), ContentInput{ContentID: 1, Title: "t"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), cv.ContentID)
	assert.Equal(t, "random", cv.ScoringMode)
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestEnsureScored_ReturnsExistingWithoutRescoring(t *testing.T) {
	st, mockDB := newScoredStore(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("SELECT content_id").
		WithArgs(int64(2)).
		WillReturnRows(pgxmock.NewRows(contentVectorRowColumns()).
			AddRow(int64(2), 0.9, 0.1, 0.2, 0.8, 0.6, 0.4, 0.7, 0.3, "ESNJ",
				"existing title", "", "", (*time.Time)(nil), "", "ai", false, int64(0), time.Now(), time.Now()))

	e := newTestEngine(t, ModeRandom, "")
	e.store = st

	cv, err := e.EnsureScored(context.Background(), ContentInput{ContentID: 2, Title: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "existing title", cv.Meta.Title)
	assert.Equal(t, "ai", cv.ScoringMode)
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestEnsureScored_ConcurrentCallsCoalesce(t *testing.T) {
	st, mockDB := newScoredStore(t)
	defer mockDB.Close()
	mockDB.MatchExpectationsInOrder(false)

	// EnsureScored checks the store once before coalescing onto singleflight
	// and once more inside it, so two concurrent callers for the same id
	// produce three SELECTs (two outer, one inner) but only one INSERT.
	for i := 0; i < 3; i++ {
		mockDB.ExpectQuery("SELECT content_id").
			WithArgs(int64(9)).
			WillReturnRows(pgxmock.NewRows(contentVectorRowColumns()))
	}
	mockDB.ExpectExec("INSERT INTO content_vectors").WillReturnResult(pgxmock.NewResult("INSERT", 1))

	e := newTestEngine(t, ModeRandom, "")
	e.store = st

	var wg sync.WaitGroup
	results := make([]int64, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cv, err := e.EnsureScored(context.Background(), ContentInput{ContentID: 9})
			require.NoError(t, err)
			results[i] = cv.ContentID
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(9), results[0])
	assert.Equal(t, int64(9), results[1])
}
