package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ls1intum/Hephaestus-sub003/common/middleware"
	"github.com/ls1intum/Hephaestus-sub003/ingest/internal/handlers"
)

// Probe and metrics paths. Their access log lines are demoted to debug.
const (
	PathHealth  = "/healthz"
	PathReady   = "/readyz"
	PathMetrics = "/metrics"
)

// NewRouter constructs a ServeMux with the webhook endpoint mounted at
// webhookPath.
func NewRouter(h *handlers.WebhookHandler, webhookPath string, logger *slog.Logger) http.Handler {
	if webhookPath == "" {
		webhookPath = "/github"
	}

	mux := http.NewServeMux()

	// GitHub webhook endpoint; the handler answers 405 for other methods.
	mux.HandleFunc(webhookPath, h.HandleWebhook)

	// Health endpoints
	mux.HandleFunc("GET "+PathHealth, h.Health)
	mux.HandleFunc("GET "+PathReady, h.Ready)

	// Prometheus metrics
	mux.Handle("GET "+PathMetrics, promhttp.Handler())

	return middleware.RequestID(middleware.AccessLog(logger, PathHealth, PathReady, PathMetrics)(mux))
}
