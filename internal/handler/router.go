package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gethome/companion/backend/internal/handler/chat"
	middlewarePkg "github.com/gethome/companion/backend/internal/middleware"
	"github.com/gethome/companion/backend/internal/observability"
	chatService "github.com/gethome/companion/backend/internal/service/chat"
	"github.com/gethome/companion/backend/pkg/utils"
)

// serviceName is reported by the health endpoint.
const serviceName = "ai-service"

// NewRouter wires HTTP routes to core services.
func NewRouter(gateway *chatService.Gateway, metrics *observability.Metrics, allowedOrigins []string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.QueryCredential(chat.QueryCredentialParam))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(allowedOrigins))

	chatHandler := chat.New(gateway, logger, allowedOrigins)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "GetHome AI Service is running"})
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": serviceName})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		// Register chat routes
		chatHandler.RegisterRoutes(api)
	})

	return r
}
