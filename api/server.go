/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/songs/*              Song catalogue (public reads, artist writes)
  /api/investments/*        Investor portfolio and checkout
  /api/webhooks/payment     Payment-provider confirmations (signed, no JWT)
  /api/admin/*              Distribution operations (admin token)
  /healthz                  Liveness probe

AUTH:
  Write endpoints require a bearer JWT (see auth.go). The webhook route
  authenticates by signature instead - the provider does not hold a
  user token. Admin routes additionally check a shared admin token.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the auth material and CORS policy for the router.
type RouterConfig struct {
	JWTSecret      []byte
	AdminToken     string
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Song routes
		r.Route("/songs", func(r chi.Router) {
			r.Get("/", h.ListSongs)
			r.Get("/{songID}", h.GetSong)
			r.Get("/{songID}/preview", h.Preview)
			r.Get("/{songID}/payouts", h.ListSongPayouts)

			r.Group(func(r chi.Router) {
				r.Use(JWTAuth(cfg.JWTSecret))
				r.Get("/mine", h.MySongs)
				r.Post("/", h.CreateSong)
				r.Patch("/{songID}", h.UpdateSong)
				r.Delete("/{songID}", h.DeleteSong)
			})
		})

		// Investment routes
		r.Route("/investments", func(r chi.Router) {
			r.Use(JWTAuth(cfg.JWTSecret))
			r.Get("/", h.ListMyInvestments)
			r.Post("/", h.CreateInvestment)
		})

		// Webhook routes: signature-authenticated, never behind JWT.
		r.Post("/webhooks/payment", h.PaymentWebhook)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(adminAuth(cfg.AdminToken))
			r.Post("/distributions", h.Distribute)
		})
	})

	return r
}

// adminAuth gates admin routes on a shared token in the Admin-Token
// header. An empty configured token disables the routes entirely.
func adminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeError(w, http.StatusForbidden, "admin operations disabled", nil)
				return
			}
			got := r.Header.Get("Admin-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid admin token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
