package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbti-rec/server/internal/config"
	"github.com/mbti-rec/server/internal/scoring"
	"github.com/mbti-rec/server/internal/store"
)

func newAdminTestHandler(t *testing.T) *AdminHandler {
	t.Helper()
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	logger := testLogger()
	st := store.New(mockDB, logger)
	eng := scoring.NewEngine(config.ScoringConfig{DefaultMode: "random"}, config.LLMConfig{}, st, logger)
	return &AdminHandler{scoring: eng, store: st, validate: validator.New(), logger: logger}
}

func TestAdminHandler_Evaluate_RandomModeSucceeds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newAdminTestHandler(t)

	body, _ := json.Marshal(map[string]interface{}{"content": "some article body", "title": "a title"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/content/5/evaluate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = gin.Params{{Key: "content_id", Value: "5"}}

	h.Evaluate(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminHandler_Evaluate_InvalidContentID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newAdminTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/content/nope/evaluate", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = gin.Params{{Key: "content_id", Value: "nope"}}

	h.Evaluate(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandler_BatchEvaluate_RejectsEmptyList(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newAdminTestHandler(t)

	body, _ := json.Marshal(map[string]interface{}{"content_ids": []int64{}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/content/batch_evaluate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	h.BatchEvaluate(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandler_BatchEvaluate_RejectsOversizedBatch(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newAdminTestHandler(t)

	ids := make([]int64, maxBatchEvaluateSize+1)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	body, _ := json.Marshal(map[string]interface{}{"content_ids": ids})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/content/batch_evaluate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	h.BatchEvaluate(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "BATCH_TOO_LARGE", resp["error_code"])
}
