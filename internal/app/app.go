package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mbti-rec/server/internal/authz"
	"github.com/mbti-rec/server/internal/config"
	"github.com/mbti-rec/server/internal/database"
	"github.com/mbti-rec/server/internal/graphstore"
	"github.com/mbti-rec/server/internal/handlers"
	"github.com/mbti-rec/server/internal/messaging"
	"github.com/mbti-rec/server/internal/middleware"
	"github.com/mbti-rec/server/internal/profile"
	"github.com/mbti-rec/server/internal/ratelimit"
	"github.com/mbti-rec/server/internal/recommend"
	"github.com/mbti-rec/server/internal/scoring"
	"github.com/mbti-rec/server/internal/store"
	"github.com/mbti-rec/server/internal/upstream"
	"github.com/mbti-rec/server/internal/workerpool"
)

// App wires the full process together: the store, the scoring/profile/
// recommend engines, the background worker pool, the optional Kafka and
// Neo4j side-channels, and the gin router built on top of it all. Grounded
// on internal/app/app.go's New/setupRouter split.
type App struct {
	config *config.Config
	logger *logrus.Logger

	db        *database.Database
	store     *store.Store
	upstream  *upstream.Client
	scoring   *scoring.Engine
	profile   *profile.Updater
	recommend *recommend.Engine
	pool      *workerpool.Pool
	bus       *messaging.MessageBus
	graph     *graphstore.Store
	guard     *authz.Guard
	limiter   *ratelimit.Limiter

	handlers *handlers.Handlers
	router   *gin.Engine
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: setupLogger(cfg),
	}

	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	app.store = store.New(db.PG, app.logger)
	app.upstream = upstream.New(cfg.Upstream, app.logger)
	app.scoring = scoring.NewEngine(cfg.Scoring, cfg.LLM, app.store, app.logger)
	app.profile = profile.New(app.store, app.scoring, app.upstream, cfg.Thresholds, app.logger)

	app.pool = workerpool.New(cfg.Worker.PoolSize, cfg.Worker.QueueCapacity, cfg.Worker.DrainGrace, app.scoring, app.profile, app.logger)
	app.pool.Start()

	app.recommend = recommend.New(app.store, app.upstream, app.pool, app.logger).WithCache(db.Redis.Warm, cfg.Recommend.CacheTTL)

	if len(cfg.Kafka.Brokers) > 0 {
		bus, err := messaging.NewMessageBus(cfg, app.logger)
		if err != nil {
			app.logger.WithError(err).Warn("failed to initialize kafka message bus, behavior events will not be published")
		} else {
			app.bus = bus
		}
	}

	if db.Neo4j != nil {
		app.graph = graphstore.New(db.Neo4j, app.logger)
	}

	app.guard = authz.New(cfg.Auth)
	app.limiter = ratelimit.New(db.Redis.Hot, cfg.Auth.RateLimit, app.logger)

	app.handlers = handlers.New(app.store, app.scoring, app.profile, app.recommend, app.pool, app.bus, app.graph, cfg.Thresholds, app.logger)

	app.setupRouter()

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down application")

	a.pool.Stop()

	if a.graph != nil {
		a.graph.Close()
	}
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.logger.WithError(err).Warn("error closing kafka message bus")
		}
	}

	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("error closing database connections")
		return err
	}

	return nil
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config))
	router.Use(middleware.Security())
	router.Use(middleware.CompressionMiddleware())

	router.GET("/health", a.handlers.Health.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.GET("/system/info", a.handlers.System.Info)
		api.GET("/system/mbti-scoring-mode", a.handlers.System.ScoringMode)
		api.POST("/system/mbti-scoring-mode", middleware.Auth(a.guard, a.logger), a.handlers.System.ScoringMode)

		behavior := api.Group("/behavior")
		{
			behavior.POST("/record", middleware.RateLimit(a.limiter, a.logger), a.handlers.Behavior.Record)
			behavior.GET("/history/:user_id", a.handlers.Behavior.History)
			behavior.GET("/stats/:user_id", a.handlers.Behavior.Stats)
		}

		recommendations := api.Group("/recommendations")
		{
			recommendations.GET("/:user_id", middleware.RateLimit(a.limiter, a.logger), a.handlers.Recommendation.List)
			recommendations.GET("/similar/:content_id", a.handlers.Recommendation.Similar)
		}

		mbti := api.Group("/mbti")
		{
			mbti.GET("/profile/:user_id", a.handlers.MBTI.Profile)
			mbti.GET("/profile/:user_id/diagnostics", a.handlers.MBTI.Diagnostics)
			mbti.POST("/update/:user_id", a.handlers.MBTI.Update)
		}

		admin := api.Group("/admin")
		admin.Use(middleware.Auth(a.guard, a.logger))
		{
			admin.POST("/content/:content_id/evaluate", a.handlers.Admin.Evaluate)
			admin.POST("/content/batch_evaluate", a.handlers.Admin.BatchEvaluate)
		}
	}

	a.router = router
}
