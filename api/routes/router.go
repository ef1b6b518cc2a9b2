package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/catermatch-backend/api/controllers"
	"github.com/angelmondragon/catermatch-backend/api/middleware"
	"github.com/angelmondragon/catermatch-backend/pkg/config"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
	"github.com/angelmondragon/catermatch-backend/pkg/redis"
)

// MatchService reads matches and moves them through the workflow.
type MatchService interface {
	controllers.MatchWorkflow
	controllers.MatchReader
}

// Services are the domain services behind the HTTP surface.
type Services struct {
	Matching   controllers.MatchingService
	Matches    MatchService
	RoundRobin controllers.RotationPreviewer
	Locations  controllers.LocationService
	Evals      controllers.EvalService
}

// Probes are the dependencies checked by /health/ready.
type Probes map[string]controllers.Pinger

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	redisClient *redis.Client,
	gatherer prometheus.Gatherer,
	probes Probes,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	// A nil *redis.Client must reach the middleware as a nil interface.
	var (
		idempotencyStore middleware.IdempotencyStore
		rateStore        middleware.RateLimitStore
	)
	if redisClient != nil {
		idempotencyStore = redisClient
		rateStore = redisClient
	}
	idempotent := middleware.Idempotency(idempotencyStore, middleware.OptionalKey, logg)
	idempotentRequired := middleware.Idempotency(idempotencyStore, middleware.RequiredKey, logg)
	resolvePolicy := middleware.NewRateLimitPolicy("locations_resolve", time.Minute, cfg.Locations.ResolvePerMinute)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, probes))
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/event-requests/{requestId}", func(r chi.Router) {
			r.With(idempotent).Post("/match", controllers.MatchEventRequest(svc.Matching, logg))
			r.With(idempotentRequired).Post("/distribute", controllers.DistributeEventRequest(svc.Matching, cfg.RoundRobin.MaxLimit, logg))
			r.Get("/matches", controllers.EventRequestMatches(svc.Matches, logg))
			r.Get("/scores", controllers.EventRequestScores(svc.Matching, logg))
		})

		r.Route("/matches/{matchId}", func(r chi.Router) {
			r.Get("/", controllers.GetMatch(svc.Matches, logg))
			r.With(idempotentRequired).Post("/accept", controllers.MatchTransition(svc.Matches, controllers.MatchActionAccept, logg))
			r.With(idempotent).Post("/decline", controllers.MatchTransition(svc.Matches, controllers.MatchActionDecline, logg))
			r.With(idempotent).Post("/viewed", controllers.MatchTransition(svc.Matches, controllers.MatchActionViewed, logg))
			r.With(idempotent).Post("/contacted", controllers.MatchTransition(svc.Matches, controllers.MatchActionContacted, logg))
			r.With(idempotent).Post("/quoted", controllers.MatchTransition(svc.Matches, controllers.MatchActionQuoted, logg))
		})

		r.Post("/round-robin/preview", controllers.RoundRobinPreview(svc.RoundRobin, cfg.RoundRobin.DefaultLimit, cfg.RoundRobin.MaxLimit, logg))
		r.With(middleware.RateLimit(resolvePolicy, rateStore, logg)).
			Post("/locations/resolve", controllers.ResolveLocation(svc.Locations, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Get("/locations", controllers.AdminListLocations(svc.Locations, logg))
		r.With(idempotent).Put("/locations", controllers.AdminUpsertLocation(svc.Locations, logg))
		r.Delete("/locations/{locationId}", controllers.AdminDeleteLocation(svc.Locations, logg))

		r.Get("/evals/stats", controllers.AdminEvalStats(svc.Evals, logg))
		r.Post("/evals/locations/{evalId}/verify", controllers.AdminVerifyLocationEval(svc.Evals, logg))
	})

	return r
}
