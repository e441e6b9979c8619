package api

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/credence-ai/credence/internal/api/handlers"
	mw "github.com/credence-ai/credence/internal/api/middleware"
	"github.com/credence-ai/credence/internal/buildconfig"
	"github.com/credence-ai/credence/internal/config"
	"github.com/credence-ai/credence/internal/domain"
	"github.com/credence-ai/credence/internal/guardrail"
	"github.com/credence-ai/credence/internal/service"
	"github.com/credence-ai/credence/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// App holds the router and background services for lifecycle management.
type App struct {
	Router      *chi.Mux
	Checkpoints *service.CheckpointService

	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// NewApp wires stores, services and handlers. The ping function backs the
// health endpoint; nil means no external dependency to probe.
func NewApp(backends *store.Backends, guard *guardrail.Registry, ping func(context.Context) error, logger *zap.Logger) *App {
	var busy atomic.Bool

	// Core services
	knowledge := service.NewKnowledgeService(guard, logger)
	knowledge.TrustEta = config.TrustLearningRate()
	knowledge.DecayLambda = config.DecayLambda()
	knowledge.PromotionThreshold = config.PromotionThreshold()

	tracker := service.NewTracker(config.ReplayCapacity(), logger)
	metrics := service.NewMetrics()

	weights := service.ContributionWeights{
		Alpha: config.ContributionAlpha(),
		Beta:  config.ContributionBeta(),
		Gamma: config.ContributionGamma(),
		Delta: config.ContributionDelta(),
	}

	ingestSvc := service.NewIngestService(knowledge, tracker, metrics, backends.Journal, &busy, logger)
	ingestSvc.CheckpointEvery = config.CheckpointEvery()

	predictSvc := service.NewPredictService(knowledge, tracker, metrics, backends.Journal, &busy, logger)
	predictSvc.InternalGate = config.InternalGate()
	predictSvc.ExternalGate = config.ExternalGate()

	evaluator := service.NewReplayEvaluator(guard, backends.Contributions, logger)
	evaluator.Timeout = config.ShadowTimeout()
	evaluator.Weights = weights
	evaluator.WarnRatio = config.DisagreementWarn()

	reflectSvc := service.NewReflectService(knowledge, tracker, metrics, backends.Contributions, evaluator, logger)
	reflectSvc.ReflectEvery = config.ReflectEvery()
	reflectSvc.ShadowEvery = config.ShadowEvery()
	reflectSvc.ShadowTimeout = config.ShadowTimeout()
	reflectSvc.WarnRatio = config.DisagreementWarn()
	reflectSvc.Weights = weights

	checkpointSvc := service.NewCheckpointService(knowledge, tracker, metrics, backends.Journal, backends.Checkpoints, guard, &busy, logger)
	checkpointSvc.Interval = config.SnapshotInterval()

	guardrailMgr := service.NewGuardrailManager(guard, backends.Journal, logger)

	// Cadence hooks
	ingestSvc.SetReflector(reflectSvc)
	ingestSvc.SetSnapshotter(checkpointSvc)

	// Handlers
	claimsHandler := handlers.NewClaimsHandler(ingestSvc)
	subjectsHandler := handlers.NewSubjectsHandler(knowledge, tracker)
	predictionHandler := handlers.NewPredictionHandler(predictSvc)
	reflectHandler := handlers.NewReflectHandler(reflectSvc)
	checkpointsHandler := handlers.NewCheckpointsHandler(checkpointSvc)
	shadowHandler := handlers.NewShadowHandler(reflectSvc, backends.Contributions)
	guardrailsHandler := handlers.NewGuardrailsHandler(guardrailMgr)
	sourcesHandler := handlers.NewSourcesHandler(knowledge, ingestSvc)

	r := chi.NewRouter()

	app := &App{
		Router:      r,
		Checkpoints: checkpointSvc,
		startTime:   time.Now(),
	}

	// Metrics collector for middleware
	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metricsCollector.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	r.Get("/health", healthHandler(ping))
	r.Get("/stats", app.statsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/claims", claimsHandler.Create)
		r.Post("/resolutions", predictionHandler.Resolve)

		r.Route("/subjects/{subject}", func(r chi.Router) {
			r.Get("/", subjectsHandler.Get)
			r.Get("/report", subjectsHandler.Report)
			r.Get("/prediction", predictionHandler.Predict)
			r.Post("/imagine", predictionHandler.Imagine)
			r.Post("/promote", claimsHandler.Promote)
		})

		r.Post("/reflect", reflectHandler.Trigger)
		r.Get("/metrics/latest", reflectHandler.Latest)

		r.Route("/checkpoints", func(r chi.Router) {
			r.Post("/", checkpointsHandler.Create)
			r.Get("/", checkpointsHandler.List)
			r.Post("/{id}/restore", checkpointsHandler.Restore)
		})

		r.Post("/shadow/evaluate", shadowHandler.Evaluate)
		r.Get("/contributions", shadowHandler.Contributions)

		r.Route("/guardrails", func(r chi.Router) {
			r.Get("/", guardrailsHandler.Get)
			r.Put("/", guardrailsHandler.Replace)
		})

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", sourcesHandler.List)
			r.Post("/", sourcesHandler.Create)
		})
	})

	return app
}

func healthHandler(ping func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			if err := ping(r.Context()); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func (app *App) statsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
			"version":    buildconfig.Version(),
			"commit":     buildconfig.Commit(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure stores satisfy the domain interfaces at compile time.
var (
	_ domain.JournalStore      = (*store.JournalStore)(nil)
	_ domain.JournalStore      = (*store.FileJournalStore)(nil)
	_ domain.CheckpointStore   = (*store.CheckpointStore)(nil)
	_ domain.CheckpointStore   = (*store.FileCheckpointStore)(nil)
	_ domain.ContributionStore = (*store.ContributionStore)(nil)
	_ domain.ContributionStore = (*store.FileContributionStore)(nil)
	_ service.ShadowEvaluator  = (*service.ReplayEvaluator)(nil)
	_ service.ShadowEvaluator  = service.NullEvaluator{}
)
