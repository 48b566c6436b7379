package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbti-rec/server/internal/config"
	"github.com/mbti-rec/server/internal/recommend"
	"github.com/mbti-rec/server/internal/store"
	"github.com/mbti-rec/server/internal/workerpool"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newBehaviorTestHandler(t *testing.T) (*BehaviorHandler, pgxmock.PgxPoolIface) {
	t.Helper()
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	logger := testLogger()
	st := store.New(mockDB, logger)
	pool := workerpool.New(1, 10, time.Second, nil, nil, logger)
	rec := recommend.New(st, nil, nil, logger)
	return &BehaviorHandler{
		store:      st,
		pool:       pool,
		recommend:  rec,
		thresholds: config.ThresholdConfig{UserBehaviors: 50},
		validate:   validator.New(),
		logger:     logger,
	}, mockDB
}

func profileColumns() []string {
	return []string{
		"user_id", "vec_e", "vec_i", "vec_s", "vec_n", "vec_t", "vec_f", "vec_j", "vec_p", "type_label",
		"total_behaviors_analyzed", "behaviors_since_last_update", "current_recommendation_page",
		"last_recommendation_time", "last_updated", "created_at",
	}
}

func TestBehaviorHandler_Record_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, mockDB := newBehaviorTestHandler(t)
	defer mockDB.Close()

	mockDB.ExpectQuery("SELECT user_id").WithArgs(int64(1)).WillReturnRows(
		pgxmock.NewRows(profileColumns()).AddRow(int64(1), 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, (*string)(nil),
			int64(0), int64(0), 0, (*time.Time)(nil), (*time.Time)(nil), time.Now()))
	mockDB.ExpectQuery("INSERT INTO behavior_events").WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(100)))
	mockDB.ExpectQuery("UPDATE user_profiles").WithArgs(int64(1)).WillReturnRows(pgxmock.NewRows([]string{"behaviors_since_last_update"}).AddRow(int64(5)))

	body, _ := json.Marshal(map[string]interface{}{
		"user_id": 1, "content_id": 10, "action": "like",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/behavior/record", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	h.Record(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestBehaviorHandler_Record_RejectsUnknownAction(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, mockDB := newBehaviorTestHandler(t)
	defer mockDB.Close()

	body, _ := json.Marshal(map[string]interface{}{
		"user_id": 1, "content_id": 10, "action": "explode",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/behavior/record", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	h.Record(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBehaviorHandler_Record_RejectsMissingFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, mockDB := newBehaviorTestHandler(t)
	defer mockDB.Close()

	body, _ := json.Marshal(map[string]interface{}{"action": "view"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/behavior/record", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	h.Record(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBehaviorHandler_History_InvalidUserID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, mockDB := newBehaviorTestHandler(t)
	defer mockDB.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/behavior/history/not-a-number", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = gin.Params{{Key: "user_id", Value: "not-a-number"}}

	h.History(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBehaviorHandler_Stats_RejectsOutOfRangeDays(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, mockDB := newBehaviorTestHandler(t)
	defer mockDB.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/behavior/stats/1?days=900", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = gin.Params{{Key: "user_id", Value: "1"}}

	h.Stats(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
