// Package api exposes the call bridge over HTTP: the REST lifecycle
// operations, the /ws signaling socket, health and metrics.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hivechat/callbridge/pkg/call"
	"github.com/hivechat/callbridge/pkg/logger"
	"github.com/hivechat/callbridge/pkg/relay"
)

// Pinger reports store reachability for the health endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds API configuration
type Config struct {
	// AllowedOrigins restricts WebSocket upgrades; empty allows any
	AllowedOrigins []string

	// MetricsEnabled exposes /metrics
	MetricsEnabled bool
}

// Handler serves the call bridge HTTP surface
type Handler struct {
	config     Config
	controller *call.Controller
	relay      *relay.Relay
	pinger     Pinger
	log        *logger.Logger
}

// NewHandler creates the HTTP handler
func NewHandler(config Config, controller *call.Controller, r *relay.Relay, pinger Pinger, log *logger.Logger) *Handler {
	return &Handler{
		config:     config,
		controller: controller,
		relay:      r,
		pinger:     pinger,
		log:        log.WithComponent("api"),
	}
}

// Router builds the route tree
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/calls", func(r chi.Router) {
		r.Post("/initiate", h.handleInitiate)
		r.Get("/active", h.handleActive)
		r.Get("/history", h.handleHistory)
		r.Route("/{callID}", func(r chi.Router) {
			r.Post("/answer", h.handleAnswer)
			r.Post("/reject", h.handleReject)
			r.Post("/end", h.handleEnd)
			r.Post("/toggle-audio", h.handleToggleAudio)
			r.Post("/toggle-video", h.handleToggleVideo)
			r.Get("/status", h.handleStatus)
		})
	})

	r.Get("/ws", h.handleWS)
	r.Get("/healthz", h.handleHealth)

	if h.config.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// handleHealth reports store reachability and a relay snapshot
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.pinger.Ping(r.Context()); err != nil {
		status = "store unreachable"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status": status,
		"relay":  h.relay.Stats(),
	})
}
