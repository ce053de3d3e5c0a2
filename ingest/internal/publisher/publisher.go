// Package publisher stores webhook payloads in the stream, retrying
// transient broker failures with exponential backoff.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ls1intum/Hephaestus-sub003/common/logging"
	"github.com/ls1intum/Hephaestus-sub003/common/messaging"
	"github.com/ls1intum/Hephaestus-sub003/ingest/internal/metrics"
)

// ErrPublishFailed matches every error returned by Publisher.Publish.
var ErrPublishFailed = errors.New("publish failed")

// PublishError is the single failure reported for a publish call after all
// attempts are used up or a permanent error is hit.
type PublishError struct {
	Subject  string
	Attempts int
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s failed after %d attempt(s): %v", e.Subject, e.Attempts, e.Err)
}

func (e *PublishError) Unwrap() []error {
	return []error{ErrPublishFailed, e.Err}
}

// Attempt describes one try of a publish call. Number restarts at 1 for
// every call.
type Attempt struct {
	Subject     string
	Payload     []byte
	Headers     map[string]string
	Number      int
	MaxAttempts int
	BaseDelay   time.Duration
}

// Message builds the envelope sent for this attempt. Empty header values
// are dropped.
func (a Attempt) Message() *messaging.Message {
	opts := make([]messaging.PublishOption, 0, len(a.Headers))
	for k, v := range a.Headers {
		opts = append(opts, messaging.WithHeader(k, v))
	}
	return messaging.NewMessage(a.Subject, a.Payload, opts...)
}

// LogValue implements slog.LogValuer.
func (a Attempt) LogValue() slog.Value {
	return slog.GroupValue(
		logging.Subject(a.Subject),
		slog.Int("bytes", len(a.Payload)),
		slog.Any("headers", a.Headers),
		logging.Attempt(a.Number),
		slog.Int("max_attempts", a.MaxAttempts),
		slog.Duration("base_delay", a.BaseDelay),
	)
}

// Publisher publishes with retries on top of a messaging.Publisher.
type Publisher struct {
	client  messaging.Publisher
	policy  Policy
	sleeper Sleeper
	logger  *logging.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithSleeper replaces the timer-based sleeper, e.g. with a fake clock.
func WithSleeper(s Sleeper) Option {
	return func(p *Publisher) { p.sleeper = s }
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *logging.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

// New creates a Publisher. A policy with fewer than one attempt is treated as
// a single attempt.
func New(client messaging.Publisher, policy Policy, opts ...Option) *Publisher {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	p := &Publisher{
		client:  client,
		policy:  policy,
		sleeper: timerSleeper{},
		logger:  logging.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish stores payload under subject with the given headers. On failure the
// returned error is a *PublishError wrapping the last attempt's cause.
func (p *Publisher) Publish(ctx context.Context, subject string, payload []byte, headers map[string]string) (*messaging.PubAck, error) {
	start := time.Now()

	if p.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.policy.Timeout)
		defer cancel()
	}

	attempt := Attempt{
		Subject:     subject,
		Payload:     payload,
		Headers:     headers,
		MaxAttempts: p.policy.MaxAttempts,
		BaseDelay:   p.policy.BaseDelay,
	}
	msg := attempt.Message()

	var lastErr error
	for attempt.Number = 1; attempt.Number <= attempt.MaxAttempts; attempt.Number++ {
		ack, err := p.client.PublishMsg(ctx, msg)
		if err == nil {
			metrics.PublishAttempts.WithLabelValues(metrics.AttemptSuccess).Inc()
			metrics.PublishDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
			return ack, nil
		}
		lastErr = err

		if !p.policy.retryable(err) {
			metrics.PublishAttempts.WithLabelValues(metrics.AttemptPermanent).Inc()
			break
		}
		metrics.PublishAttempts.WithLabelValues(metrics.AttemptRetryable).Inc()
		if attempt.Number == attempt.MaxAttempts {
			break
		}

		delay := p.policy.Delay(attempt.Number)
		p.logger.WarnContext(ctx, "Publish attempt failed, retrying",
			slog.Any("publish", attempt),
			logging.Delay(delay),
			logging.Error(err),
		)
		if sleepErr := p.sleeper.Sleep(ctx, delay); sleepErr != nil {
			lastErr = fmt.Errorf("%w (gave up waiting: %w)", lastErr, sleepErr)
			break
		}
	}

	attempts := min(attempt.Number, attempt.MaxAttempts)
	metrics.PublishDuration.WithLabelValues("failure").Observe(time.Since(start).Seconds())
	p.logger.ErrorContext(ctx, "Publish failed",
		logging.Subject(subject),
		slog.Int("attempts", attempts),
		logging.Error(lastErr),
	)
	return nil, &PublishError{Subject: subject, Attempts: attempts, Err: lastErr}
}
