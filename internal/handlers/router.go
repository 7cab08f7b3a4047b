package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	mW "github.com/smartdigilab/backend/internal/middleware"
	"github.com/smartdigilab/backend/internal/models"
	"github.com/smartdigilab/backend/internal/services"
	httpSwagger "github.com/swaggo/http-swagger"
)

type RouterConfig struct {
	Auth           *services.AuthService
	Borrowings     *BorrowingHandler
	Equipment      *EquipmentHandler
	SwaggerDocURL  string
	AllowedOrigins []string
	// TrustProxyHeaders rewrites RemoteAddr from X-Real-IP/X-Forwarded-For.
	// Only enable it behind a proxy that overwrites those headers.
	TrustProxyHeaders bool
}

// NewRouter wires every HTTP route under /api/v1
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Timeout(60 * time.Second))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	if cfg.SwaggerDocURL != "" {
		r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL(cfg.SwaggerDocURL)))
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Public
		r.Post("/auth/login", cfg.Auth.Login)
		r.Post("/auth/logout", cfg.Auth.Logout)
		r.Get("/equipment/{id}", cfg.Equipment.Get)
		r.Get("/equipment/{id}/qrcode", cfg.Equipment.QRCode)

		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/me", cfg.Auth.Me)
			r.Get("/equipment/available", cfg.Equipment.Available)

			r.Post("/borrowings", cfg.Borrowings.Create)
			r.Get("/borrowings", cfg.Borrowings.ListAll)
			r.Get("/my/borrowings", cfg.Borrowings.ListMine)
			r.Get("/borrowings/{id}", cfg.Borrowings.Get)
			r.Get("/borrowings/{id}/letter", cfg.Borrowings.Letter)

			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole(models.RoleAdmin))

				r.Get("/equipment", cfg.Equipment.List)
				r.Post("/equipment", cfg.Equipment.Create)
				r.Put("/equipment/{id}", cfg.Equipment.Update)
				r.Delete("/equipment/{id}", cfg.Equipment.Delete)

				r.Put("/borrowings/{id}", cfg.Borrowings.Update)
				r.Delete("/borrowings/{id}", cfg.Borrowings.Delete)
				r.Post("/borrowings/{id}/return", cfg.Borrowings.Return)
			})
		})
	})

	return r
}
