package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jgirmay/slidegenie-realtime/pkg/auth"
	"github.com/jgirmay/slidegenie-realtime/pkg/realtime"
	"github.com/jgirmay/slidegenie-realtime/pkg/websocket"
)

// RegisterRealtimeRoutes registers the websocket, SSE, stats and probe routes.
// gatherer backs /metrics; nil means the default registry.
func RegisterRealtimeRoutes(
	router *chi.Mux,
	svc *realtime.Service,
	ws *websocket.Handler,
	identity auth.Provider,
	gatherer prometheus.Gatherer,
	conf HandlerConf,
) {
	handlers := NewRealtimeHandlers(svc, conf)

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.Get("/health", handlers.GetHealth)
	router.Get("/ready", handlers.GetReady)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	router.Route("/api/v1/realtime", func(r chi.Router) {
		// Websocket handlers authenticate before upgrading.
		r.Get("/ws/generation/{jobID}", func(w http.ResponseWriter, req *http.Request) {
			ws.ServeGeneration(w, req, chi.URLParam(req, "jobID"))
		})
		r.Get("/ws/collaboration/{presentationID}", func(w http.ResponseWriter, req *http.Request) {
			ws.ServeCollaboration(w, req, chi.URLParam(req, "presentationID"))
		})
		r.Get("/ws/notifications", ws.ServeNotifications)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(identity))

			r.Get("/stats", handlers.GetStats)
			r.Post("/notify", handlers.SendNotification)
			r.Get("/sse/generation/{jobID}", handlers.StreamGeneration)
			r.Get("/sse/notifications", handlers.StreamNotifications)
		})
	})
}
