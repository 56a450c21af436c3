package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"token-broker/internal/common/logging"
	"token-broker/internal/handlers"
	"token-broker/internal/middleware"
	"token-broker/internal/ratelimit"
	"token-broker/internal/server"
)

// Router builds the HTTP handler with all routes and middleware.
func (app *App) Router() (http.Handler, error) {
	h := handlers.New(app.Manager, app.Storage, app.Config, app.Auth, app.Identity.Breaker())

	router := mux.NewRouter()
	router.Use(middleware.RequestID, middleware.LoggingMiddleware)

	if app.Config.RateLimit > 0 {
		limiter, err := ratelimit.NewLimiter(app.RedisClient, ratelimit.Config{
			Limit:  app.Config.RateLimit,
			Window: app.Config.RateLimitWindow,
		})
		if err != nil {
			return nil, err
		}
		key := ratelimit.ClientIPKey
		if app.Config.RateLimitTrustProxy {
			key = ratelimit.ProxyClientIPKey
		}
		router.Use(limiter.HTTPMiddleware(key))
		app.Logger.Info("Rate Limiting: Enabled",
			logging.Int("limit", app.Config.RateLimit),
			logging.Duration("window", app.Config.RateLimitWindow),
			logging.Bool("trust_proxy", app.Config.RateLimitTrustProxy),
		)
	}

	h.RegisterRoutes(router)
	return router, nil
}

// NewServer wraps Router in a server bound to the configured port.
func (app *App) NewServer() (*server.Server, error) {
	router, err := app.Router()
	if err != nil {
		return nil, err
	}
	return server.New(router, app.Config.Port), nil
}
