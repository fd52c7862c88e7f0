package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tvlink/server/internal/auth"
	"github.com/tvlink/server/internal/http/handlers"
	"github.com/tvlink/server/internal/middleware"
)

// RouterDeps is everything NewRouter wires together
type RouterDeps struct {
	Devices       *handlers.DeviceHandler
	Users         *handlers.UserHandler
	Health        *handlers.HealthHandler
	DeviceAuth    middleware.DeviceAuthenticator
	UserVerifier  auth.UserVerifier
	RegisterLimit *middleware.RateLimiter
	PairLimit     *middleware.RateLimiter
	Logger        *zap.Logger
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(d RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", d.Health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/tv", func(r chi.Router) {
		r.With(middleware.RateLimitMiddleware(d.RegisterLimit, middleware.GetIPKey, d.Logger)).
			Post("/register", d.Devices.HandleRegister)

		// Device routes (X-Device-Id / X-Device-Key)
		r.Group(func(r chi.Router) {
			r.Use(middleware.DeviceAuthMiddleware(d.DeviceAuth, d.Logger))
			r.Post("/code", d.Devices.HandleRefreshCode)
			r.Post("/push-address", d.Devices.HandlePushAddress)
			r.Post("/ack", d.Devices.HandleAck)
			r.Get("/users", d.Devices.HandleListUsers)
			r.Delete("/users/{userID}", d.Devices.HandleUnlinkUser)
		})

		// User routes (X-Auth-Uid / X-Auth-Sig)
		r.Group(func(r chi.Router) {
			r.Use(middleware.UserAuthMiddleware(d.UserVerifier))
			r.With(middleware.RateLimitMiddleware(d.PairLimit, middleware.GetIPKey, d.Logger)).
				Post("/pair", d.Users.HandlePair)
			r.Post("/send", d.Users.HandleSend)
			r.Get("/status", d.Users.HandleStatus)
			r.Post("/unlink", d.Users.HandleUnlink)
		})
	})

	return r
}
