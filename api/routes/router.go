package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/bidroom-backend/api/controllers"
	bidcontrollers "github.com/angelmondragon/bidroom-backend/api/controllers/bids"
	budgetcontrollers "github.com/angelmondragon/bidroom-backend/api/controllers/budget"
	negotiationcontrollers "github.com/angelmondragon/bidroom-backend/api/controllers/negotiation"
	"github.com/angelmondragon/bidroom-backend/api/middleware"
	"github.com/angelmondragon/bidroom-backend/internal/bids"
	"github.com/angelmondragon/bidroom-backend/internal/budget"
	"github.com/angelmondragon/bidroom-backend/internal/negotiation"
	"github.com/angelmondragon/bidroom-backend/pkg/config"
	"github.com/angelmondragon/bidroom-backend/pkg/db"
	"github.com/angelmondragon/bidroom-backend/pkg/logger"
	"github.com/angelmondragon/bidroom-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	bidService bids.Service,
	negotiationService negotiation.Service,
	budgetService budget.Service,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	readiness := map[string]controllers.Pinger{}
	var idempotencyStore redis.IdempotencyStore
	var writeLimiter *redis.Client
	if dbP != nil {
		readiness["db"] = dbP
	}
	if redisClient != nil {
		readiness["redis"] = redisClient
		idempotencyStore = redisClient
		writeLimiter = redisClient
	}
	writePolicy := middleware.NewRateLimitPolicy(
		"writes",
		cfg.RateLimit.Window,
		cfg.RateLimit.WritesPerUser,
		cfg.RateLimit.WritesPerIP,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		if writeLimiter != nil {
			r.Use(middleware.RateLimit(writePolicy, writeLimiter, logg))
		}
		replayable := middleware.Idempotent(idempotencyStore, middleware.ReplayTTL, logg)
		transitionReplayable := middleware.Idempotent(idempotencyStore, middleware.TransitionReplayTTL, logg)

		r.Get("/v1/session", controllers.Session(logg))

		r.Route("/v1/bids", func(r chi.Router) {
			r.With(replayable).Post("/", bidcontrollers.Place(bidService, logg))
			r.Get("/", bidcontrollers.List(bidService, logg))
			r.Get("/{bidId}", bidcontrollers.Detail(bidService, logg))
			r.With(transitionReplayable).Post("/{bidId}/transition", bidcontrollers.Transition(bidService, logg))
			r.With(transitionReplayable).Patch("/{bidId}/transition", bidcontrollers.Transition(bidService, logg))
		})

		r.Route("/v1/negotiation", func(r chi.Router) {
			r.With(replayable).Post("/", negotiationcontrollers.AppendMessage(negotiationService, logg))
			r.Get("/bid/{bidId}", negotiationcontrollers.History(negotiationService, logg))
		})

		r.Route("/v1/budget", func(r chi.Router) {
			r.Get("/{projectId}", budgetcontrollers.Summary(budgetService, logg))
			r.With(replayable).Post("/{projectId}/expenses", budgetcontrollers.RecordExpense(budgetService, logg))
		})
	})

	return r
}
