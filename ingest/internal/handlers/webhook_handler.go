package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/ls1intum/Hephaestus-sub003/common/httputil"
	"github.com/ls1intum/Hephaestus-sub003/common/logging"
	"github.com/ls1intum/Hephaestus-sub003/common/messaging"
	"github.com/ls1intum/Hephaestus-sub003/common/middleware"
	"github.com/ls1intum/Hephaestus-sub003/ingest/internal/metrics"
	"github.com/ls1intum/Hephaestus-sub003/ingest/internal/ratelimit"
	"github.com/ls1intum/Hephaestus-sub003/ingest/internal/signature"
)

const (
	HeaderEvent    = "X-GitHub-Event"
	HeaderDelivery = "X-GitHub-Delivery"

	// DefaultMaxBodyBytes matches GitHub's own payload cap.
	DefaultMaxBodyBytes = 25 << 20

	pingEvent = "ping"
)

// Fixed client-facing messages; details only go to the log.
const (
	msgMethodNotAllowed = "Method not allowed"
	msgRateLimited      = "Rate limit exceeded"
	msgUnsupportedType  = "Unsupported content type"
	msgMissingEvent     = "Missing X-GitHub-Event header"
	msgPayloadTooLarge  = "Payload too large"
	msgUnreadableBody   = "Failed to read request body"
	msgInvalidSignature = "Invalid signature"
	msgInvalidJSON      = "Invalid JSON payload"
	msgPublishFailed    = "Failed to publish webhook"
)

// Publisher stores an accepted webhook in the stream.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, headers map[string]string) (*messaging.PubAck, error)
}

// WebhookHandler receives GitHub webhook deliveries.
type WebhookHandler struct {
	publisher    Publisher
	verifier     *signature.Verifier
	limiter      ratelimit.RateLimiter
	health       messaging.HealthChecker
	maxBodyBytes int64
	trustProxy   bool
	logger       *logging.Logger
}

// Option configures a WebhookHandler.
type Option func(*WebhookHandler)

// WithRateLimiter rejects clients over their limit with 429.
func WithRateLimiter(l ratelimit.RateLimiter) Option {
	return func(h *WebhookHandler) { h.limiter = l }
}

// WithHealthChecker makes Ready report the broker connection state.
func WithHealthChecker(c messaging.HealthChecker) Option {
	return func(h *WebhookHandler) { h.health = c }
}

// WithMaxBodyBytes limits the accepted payload size.
func WithMaxBodyBytes(n int64) Option {
	return func(h *WebhookHandler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// WithTrustedProxyHeaders keys rate limiting on X-Forwarded-For and
// X-Real-IP instead of the connection address. Only enable it behind a
// reverse proxy that overwrites those headers.
func WithTrustedProxyHeaders(trust bool) Option {
	return func(h *WebhookHandler) { h.trustProxy = trust }
}

// WithLogger sets the handler's logger.
func WithLogger(l *logging.Logger) Option {
	return func(h *WebhookHandler) { h.logger = l }
}

func NewWebhookHandler(publisher Publisher, verifier *signature.Verifier, opts ...Option) *WebhookHandler {
	h := &WebhookHandler{
		publisher:    publisher,
		verifier:     verifier,
		limiter:      &ratelimit.NoOpRateLimiter{},
		maxBodyBytes: DefaultMaxBodyBytes,
		logger:       logging.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type webhookResponse struct {
	Status    string `json:"status"`
	Subject   string `json:"subject"`
	Stream    string `json:"stream"`
	Seq       uint64 `json:"seq"`
	Duplicate bool   `json:"duplicate"`
}

// HandleWebhook validates, authenticates and publishes one delivery.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	event := r.Header.Get(HeaderEvent)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.reject(w, r, metrics.EventUnverified, http.StatusMethodNotAllowed, msgMethodNotAllowed, metrics.OutcomeMethodNotAllowed)
		return
	}

	clientIP := clientIP(r, h.trustProxy)
	allowed, err := h.limiter.Allow(ctx, clientIP)
	if err != nil {
		// Fail open: a limiter outage must not drop deliveries.
		h.logger.WarnContext(ctx, "Rate limiter unavailable", logging.IP(clientIP), logging.Error(err))
	} else if !allowed {
		h.reject(w, r, metrics.EventUnverified, http.StatusTooManyRequests, msgRateLimited, metrics.OutcomeRateLimited)
		return
	}

	if !httputil.IsJSONContentType(r) {
		h.reject(w, r, metrics.EventUnverified, http.StatusUnsupportedMediaType, msgUnsupportedType, metrics.OutcomeUnsupported)
		return
	}

	if event == "" {
		h.reject(w, r, metrics.EventUnverified, http.StatusBadRequest, msgMissingEvent, metrics.OutcomeBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(w, r, metrics.EventUnverified, http.StatusRequestEntityTooLarge, msgPayloadTooLarge, metrics.OutcomeTooLarge)
			return
		}
		h.logger.WarnContext(ctx, "Failed to read webhook body", logging.Event(event), logging.Error(err))
		h.reject(w, r, metrics.EventUnverified, http.StatusBadRequest, msgUnreadableBody, metrics.OutcomeBadRequest)
		return
	}

	if !h.verifier.Verify(body, r.Header) {
		metrics.SignatureFailures.Inc()
		h.reject(w, r, metrics.EventUnverified, http.StatusUnauthorized, msgInvalidSignature, metrics.OutcomeUnauthorized)
		return
	}

	label := metrics.EventLabel(event)
	if event == pingEvent {
		h.logger.InfoContext(ctx, "Received ping", logging.DeliveryID(r.Header.Get(HeaderDelivery)))
		metrics.WebhooksTotal.WithLabelValues(label, metrics.OutcomePing).Inc()
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "pong"})
		return
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.WarnContext(ctx, "Rejecting webhook with invalid JSON", logging.Event(event), logging.Error(err))
		h.reject(w, r, label, http.StatusBadRequest, msgInvalidJSON, metrics.OutcomeBadRequest)
		return
	}

	subject := messaging.SubjectFromPayload(payload, event).String()
	headers := map[string]string{HeaderEvent: event}
	if delivery := r.Header.Get(HeaderDelivery); delivery != "" {
		headers[HeaderDelivery] = delivery
	}
	if reqID := middleware.GetRequestID(ctx); reqID != "" {
		headers[middleware.HeaderRequestID] = reqID
	}

	ack, err := h.publisher.Publish(ctx, subject, body, headers)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to publish webhook",
			logging.Subject(subject),
			logging.DeliveryID(r.Header.Get(HeaderDelivery)),
			logging.Error(err),
		)
		h.reject(w, r, label, http.StatusServiceUnavailable, msgPublishFailed, metrics.OutcomePublishFailed)
		return
	}

	metrics.WebhooksTotal.WithLabelValues(label, metrics.OutcomePublished).Inc()
	metrics.WebhookBytesTotal.Add(float64(len(body)))
	h.logger.InfoContext(ctx, "Published webhook",
		logging.Subject(subject),
		logging.Action(payloadAction(payload)),
		logging.DeliveryID(r.Header.Get(HeaderDelivery)),
		logging.Stream(ack.Stream),
		logging.Sequence(ack.Sequence),
		slog.Bool("duplicate", ack.Duplicate),
	)

	httputil.WriteJSON(w, http.StatusOK, webhookResponse{
		Status:    "ok",
		Subject:   subject,
		Stream:    ack.Stream,
		Seq:       ack.Sequence,
		Duplicate: ack.Duplicate,
	})
}

// Health reports liveness.
func (h *WebhookHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready reports whether the broker connection can take traffic.
func (h *WebhookHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	status := messaging.CheckClientHealth(h.health)
	if !status.Healthy() {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"nats":   status,
		})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"nats":   status,
	})
}

// reject answers with status and counts the outcome under label. Before the
// signature is verified label must be metrics.EventUnverified.
func (h *WebhookHandler) reject(w http.ResponseWriter, r *http.Request, label string, status int, message, outcome string) {
	metrics.WebhooksTotal.WithLabelValues(label, outcome).Inc()
	h.logger.DebugContext(r.Context(), "Rejected webhook",
		logging.Event(r.Header.Get(HeaderEvent)),
		logging.Status(status),
		slog.String("reason", message),
	)
	httputil.WriteError(w, status, message)
}

// clientIP returns the caller's address without the port.
func clientIP(r *http.Request, trustProxy bool) string {
	ip := httputil.GetClientIP(r, trustProxy)
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}

func payloadAction(payload any) string {
	obj, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	action, _ := obj["action"].(string)
	return action
}
