package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbti-rec/server/internal/recommend"
	"github.com/mbti-rec/server/internal/store"
)

func newMBTITestHandler(t *testing.T) (*MBTIHandler, pgxmock.PgxPoolIface) {
	t.Helper()
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	logger := testLogger()
	st := store.New(mockDB, logger)
	rec := recommend.New(st, nil, nil, logger)
	return &MBTIHandler{store: st, recommend: rec, logger: logger}, mockDB
}

func TestMBTIHandler_Profile_CreatesDefaultOnFirstSight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, mockDB := newMBTITestHandler(t)
	defer mockDB.Close()

	cols := profileColumns()
	mockDB.ExpectQuery("SELECT user_id").WithArgs(int64(9)).WillReturnRows(pgxmock.NewRows(cols))
	mockDB.ExpectExec("INSERT INTO user_profiles").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockDB.ExpectQuery("SELECT user_id").WithArgs(int64(9)).WillReturnRows(
		pgxmock.NewRows(cols).AddRow(int64(9), 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, (*string)(nil),
			int64(0), int64(0), 0, (*time.Time)(nil), (*time.Time)(nil), time.Now()))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/mbti/profile/9", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = gin.Params{{Key: "user_id", Value: "9"}}

	h.Profile(c)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, mockDB.ExpectationsWereMet())
}

func TestMBTIHandler_Profile_InvalidUserID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, mockDB := newMBTITestHandler(t)
	defer mockDB.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/mbti/profile/abc", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = gin.Params{{Key: "user_id", Value: "abc"}}

	h.Profile(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMBTIHandler_Diagnostics_ReadOnlyPreview(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, mockDB := newMBTITestHandler(t)
	defer mockDB.Close()

	typeLabel := "INTJ"
	mockDB.ExpectQuery("SELECT user_id").WithArgs(int64(3)).WillReturnRows(
		pgxmock.NewRows(profileColumns()).AddRow(int64(3), 0.9, 0.1, 0.2, 0.8, 0.7, 0.3, 0.6, 0.4, &typeLabel,
			int64(55), int64(5), 1, (*time.Time)(nil), (*time.Time)(nil), time.Now()))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/mbti/profile/3/diagnostics", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = gin.Params{{Key: "user_id", Value: "3"}}

	h.Diagnostics(c)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, mockDB.ExpectationsWereMet())
}
