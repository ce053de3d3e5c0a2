package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Webhook intake metrics
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_ingest_requests_total",
			Help: "Total number of webhook requests by event and outcome",
		},
		[]string{"event", "outcome"},
	)

	WebhookBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhooks_ingest_payload_bytes_total",
			Help: "Total bytes of accepted webhook payloads",
		},
	)

	SignatureFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhooks_ingest_signature_failures_total",
			Help: "Total number of requests with a missing or invalid signature",
		},
	)

	// Publish metrics
	PublishAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_ingest_publish_attempts_total",
			Help: "Total number of publish attempts by outcome",
		},
		[]string{"outcome"},
	)

	PublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhooks_ingest_publish_duration_seconds",
			Help:    "Duration of a publish call including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhooks_ingest_rate_limit_hits_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)

// Outcome labels for WebhooksTotal.
const (
	OutcomePublished        = "published"
	OutcomePing             = "ping"
	OutcomeBadRequest       = "bad_request"
	OutcomeUnauthorized     = "unauthorized"
	OutcomeTooLarge         = "too_large"
	OutcomeUnsupported      = "unsupported_media_type"
	OutcomeRateLimited      = "rate_limited"
	OutcomePublishFailed    = "publish_failed"
	OutcomeMethodNotAllowed = "method_not_allowed"
)

// Outcome labels for PublishAttempts.
const (
	AttemptSuccess   = "success"
	AttemptRetryable = "retryable_error"
	AttemptPermanent = "permanent_error"
)
