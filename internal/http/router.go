package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/tpsparking/api/internal/config"
	httpmiddleware "github.com/tpsparking/api/internal/http/middleware"
	"github.com/tpsparking/api/internal/http/respond"
	"github.com/tpsparking/api/internal/metrics"
	"github.com/tpsparking/api/internal/service"
)

// Routes is implemented by every domain handler mounted under /api.
type Routes interface {
	RegisterRoutes(r chi.Router)
}

// Checker reports whether a dependency is reachable.
type Checker func(ctx context.Context) error

type Handler struct {
	cfg         *config.Config
	auth        AuthProvider
	ceremonies  CeremonyStore
	webauthn    *webauthn.WebAuthn
	checks      map[string]Checker
	loginLimit  *httpmiddleware.RateLimiter
	publicLimit *httpmiddleware.RateLimiter
	userLimit   *httpmiddleware.RateLimiter
}

// Deps groups what the router needs besides the domain handlers.
type Deps struct {
	Config *config.Config
	Auth   AuthProvider
	Redis  CeremonyStore
	Checks map[string]Checker
}

// NewRouter returns the configured router.
func NewRouter(deps Deps, modules ...Routes) (http.Handler, error) {
	cfg := deps.Config

	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.WebAuthnRPName,
		RPID:          cfg.WebAuthnRPID,
		RPOrigins:     []string{cfg.WebAuthnRPOrigin},
	})
	if err != nil {
		return nil, fmt.Errorf("webauthn: %w", err)
	}

	h := &Handler{
		cfg:         cfg,
		auth:        deps.Auth,
		ceremonies:  deps.Redis,
		webauthn:    wa,
		checks:      deps.Checks,
		loginLimit:  httpmiddleware.NewRateLimiter("login", cfg.RateLimitLogin.RequestsPerSecond, cfg.RateLimitLogin.Burst),
		publicLimit: httpmiddleware.NewRateLimiter("public", cfg.RateLimitPublic.RequestsPerSecond, cfg.RateLimitPublic.Burst),
		userLimit:   httpmiddleware.NewRateLimiter("user", cfg.RateLimitAuth.RequestsPerSecond, cfg.RateLimitAuth.Burst),
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(httpmiddleware.Logging)
	r.Use(httpmiddleware.Recover)
	if cfg.MetricsEnabled {
		r.Use(metrics.Middleware)
	}
	r.Use(httpmiddleware.CORS(cfg.AllowOrigins))

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	if cfg.MetricsEnabled {
		r.Handle("/metrics", metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.Use(httpmiddleware.IPRateLimit(h.publicLimit))

			public.Group(func(login chi.Router) {
				login.Use(httpmiddleware.IPRateLimit(h.loginLimit))
				login.Post("/users/token/", h.login(service.EntryGeneric))
				login.Post("/users/token/user/", h.login(service.EntryUser))
				login.Post("/users/token/controller/", h.login(service.EntryController))
				login.Post("/users/token/manager/", h.login(service.EntryManager))
				login.Post("/users/passkey/login/start/", h.PasskeyLoginStart)
				login.Post("/users/passkey/login/finish/", h.PasskeyLoginFinish)
				login.Post("/users/password-reset-request/", h.PasswordResetRequest)
				login.Post("/users/password-reset-confirm/", h.PasswordResetConfirm)
			})

			public.Post("/users/token/refresh/", h.Refresh)
			public.Post("/users/logout/", h.Logout)
			public.Post("/users/register/", h.Register)
		})

		api.Group(func(private chi.Router) {
			private.Use(httpmiddleware.Auth(h.auth.JWT()))
			private.Use(httpmiddleware.UserRateLimit(h.userLimit))

			private.Get("/users/profile/", h.Profile)
			private.Patch("/users/profile/", h.UpdateProfile)
			private.Put("/users/change-password/", h.ChangePassword)
			private.Delete("/users/delete/", h.DeleteAccount)
			private.Post("/users/passkey/register/start/", h.PasskeyRegisterStart)
			private.Post("/users/passkey/register/finish/", h.PasskeyRegisterFinish)

			for _, m := range modules {
				m.RegisterRoutes(private)
			}
		})
	})

	return r, nil
}

// Health answers liveness probes.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready runs every dependency check.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		respond.Error(w, http.StatusServiceUnavailable, respond.CodeInternal, "Dependencies unavailable.", failed)
		return
	}

	respond.JSON(w, http.StatusOK, map[string]bool{"ready": true})
}
