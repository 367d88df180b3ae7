package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/meshsync/internal/config"
	"github.com/meshsync/internal/engine"
	"github.com/meshsync/internal/metrics"
	"github.com/meshsync/internal/middleware"
	"github.com/meshsync/internal/push"
	"github.com/meshsync/internal/ws"
)

// NewRouter wires the HTTP surface over eng. base is the context the gateway
// link runs on when it is started through /api/connect. notifier may be nil.
func NewRouter(base context.Context, cfg *config.Config, eng *engine.Engine, hub *ws.Hub, notifier *push.Notifier) http.Handler {
	statusH := NewStatusHandler(base, eng, hub)
	nodeH := NewNodeHandler(eng)
	chatH := NewChatHandler(eng)
	wsH := NewWSHandler(base, hub, cfg.CORSAllowedOrigins)
	pushH := NewPushHandler(notifier)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Compressing the websocket upgrade breaks http.Hijacker.
	r.Use(func(next http.Handler) http.Handler {
		compress := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compress.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", statusH.Health)
	r.Get("/ws", wsH.ServeWS)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.APIRatePerSec))

		r.Get("/status", statusH.Status)
		r.Group(func(r chi.Router) {
			r.Use(middleware.LocalOnly)
			r.Post("/connect", statusH.Connect)
			r.Post("/disconnect", statusH.Disconnect)
		})

		r.Get("/nodes", nodeH.List)
		r.Get("/nodes/{id}", nodeH.Get)
		r.Put("/nodes/{id}/favorite", nodeH.SetFavorite)

		r.Get("/channels", chatH.Channels)
		r.Get("/unread", chatH.Unread)
		r.Get("/chats/{kind}/{key}/messages", chatH.Messages)
		r.Post("/chats/{kind}/{key}/messages", chatH.Send)
		r.Post("/chats/{kind}/{key}/read", chatH.MarkRead)

		r.Get("/push/vapid-public", pushH.VAPIDPublic)
		r.Post("/push/subscribe", pushH.Subscribe)
		r.Delete("/push/subscribe", pushH.Unsubscribe)
	})
	return r
}
