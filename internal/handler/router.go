package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BookMeBot/book-me-bot/internal/bot"
	"github.com/BookMeBot/book-me-bot/internal/handler/chat"
	"github.com/BookMeBot/book-me-bot/internal/handler/events"
	middlewarePkg "github.com/BookMeBot/book-me-bot/internal/middleware"
	eventService "github.com/BookMeBot/book-me-bot/internal/service/events"
	"github.com/BookMeBot/book-me-bot/pkg/utils"
)

// Deps 是路由依赖的核心服务。
type Deps struct {
	Sessions chat.Sessions
	Sender   bot.Sender
	Hub      *eventService.Hub
	Gatherer prometheus.Gatherer
	// JWTSecret 为空时不挂载 /api。
	JWTSecret []byte
	StartedAt time.Time
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	started := deps.StartedAt
	if started.IsZero() {
		started = time.Now()
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("Bot is running"))
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"uptime": time.Since(started).Round(time.Second).String(),
		})
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	if len(deps.JWTSecret) == 0 || deps.Sessions == nil {
		return r
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(middlewarePkg.RequireAdmin(deps.JWTSecret))

		chat.New(deps.Sessions, deps.Sender, deps.Hub).RegisterRoutes(api)

		if deps.Hub != nil {
			events.NewWebSocketHandler(deps.Hub).RegisterRoutes(api)
		}
	})

	return r
}
