// Package handlers implements the §6 HTTP surface on top of gin, translating
// query params/JSON bodies into calls against the scoring/profile/recommend
// engines and the store, and wrapping every response in the shared envelope.
// Grounded on internal/handlers/handlers.go's per-concern handler struct
// aggregation and internal/handlers/interaction.go's bind-validate-call-
// respond shape, generalized from the teacher's gin.H ad hoc responses to
// the fixed {success, data, message} / {success, error_code, message}
// envelope pair §6 specifies.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/mbti-rec/server/internal/config"
	"github.com/mbti-rec/server/internal/graphstore"
	"github.com/mbti-rec/server/internal/messaging"
	"github.com/mbti-rec/server/internal/profile"
	"github.com/mbti-rec/server/internal/recommend"
	"github.com/mbti-rec/server/internal/scoring"
	"github.com/mbti-rec/server/internal/store"
	"github.com/mbti-rec/server/internal/workerpool"
	"github.com/mbti-rec/server/pkg/models"
)

// version is reported by GET /health; it has no build-info source in this
// module, so it's a fixed string rather than an invented VCS-hash lookup.
const version = "1.0.0"

type Handlers struct {
	Health         *HealthHandler
	System         *SystemHandler
	Behavior       *BehaviorHandler
	MBTI           *MBTIHandler
	Recommendation *RecommendationHandler
	Admin          *AdminHandler
}

func New(st *store.Store, eng *scoring.Engine, upd *profile.Updater, rec *recommend.Engine, pool *workerpool.Pool, bus *messaging.MessageBus, graph *graphstore.Store, thresholds config.ThresholdConfig, logger *logrus.Logger) *Handlers {
	v := validator.New()
	return &Handlers{
		Health:         &HealthHandler{logger: logger},
		System:         &SystemHandler{store: st, scoring: eng, logger: logger},
		Behavior:       &BehaviorHandler{store: st, pool: pool, bus: bus, graph: graph, recommend: rec, thresholds: thresholds, validate: v, logger: logger},
		MBTI:           &MBTIHandler{store: st, profile: upd, recommend: rec, pool: pool, logger: logger},
		Recommendation: &RecommendationHandler{recommend: rec, logger: logger},
		Admin:          &AdminHandler{scoring: eng, store: st, validate: v, logger: logger},
	}
}

func respondOK(c *gin.Context, status int, data interface{}, message string) {
	c.JSON(status, models.OK(data, message))
}

func respondErr(c *gin.Context, status int, code, message string, details interface{}) {
	c.JSON(status, models.Err(code, message, details))
}

// respondStoreErr maps a *store.Error onto the right HTTP status (§6: 404
// missing, 409 left to callers who care about Conflict, 500 otherwise).
func respondStoreErr(c *gin.Context, logger *logrus.Logger, err error, action string) {
	switch store.KindOf(err) {
	case store.KindNotFound:
		respondErr(c, http.StatusNotFound, "NOT_FOUND", action+": not found", nil)
	case store.KindConflict:
		respondErr(c, http.StatusConflict, "CONFLICT", action+": conflicting update, retry", nil)
	default:
		logger.WithError(err).Error(action + " failed")
		respondErr(c, http.StatusInternalServerError, "INTERNAL_ERROR", action+" failed", nil)
	}
}
