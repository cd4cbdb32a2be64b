// Package router wires the widget API onto a chi router.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clinvoy/clinic-ai-platform/internal/http/handlers"
	httpmiddleware "github.com/clinvoy/clinic-ai-platform/internal/http/middleware"
	"github.com/clinvoy/clinic-ai-platform/internal/webchat"
	"github.com/clinvoy/clinic-ai-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	ChatHandlers       *handlers.Handlers
	WebchatHandler     *webchat.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Per-IP rate limiting for the chat endpoints. Zero disables it.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New creates a new chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (health, metrics, widget script)
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.WebchatHandler != nil {
			public.Get("/widget.js", cfg.WebchatHandler.HandleWidgetJS)
		}
	})

	// Widget API. Signature checks live in the handlers because the sig
	// rides in the request body, not a header.
	r.Group(func(api chi.Router) {
		if cfg.RateLimitPerSecond > 0 {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
		}
		if cfg.ChatHandlers != nil {
			api.Post("/api/chat", cfg.ChatHandlers.Chat)
			api.Post("/api/chat/guided", cfg.ChatHandlers.GuidedChat)
			api.Post("/api/slots", cfg.ChatHandlers.Slots)
		}
		if cfg.WebchatHandler != nil {
			api.Post("/api/webchat/message", cfg.WebchatHandler.HandleMessage)
			api.Get("/ws/chat", cfg.WebchatHandler.HandleWebSocket)
		}
	})

	return r
}
