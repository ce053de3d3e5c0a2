package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ls1intum/Hephaestus-sub003/common/logging"
	"github.com/ls1intum/Hephaestus-sub003/common/messaging"
	"github.com/ls1intum/Hephaestus-sub003/common/middleware"
	"github.com/ls1intum/Hephaestus-sub003/ingest/internal/metrics"
	"github.com/ls1intum/Hephaestus-sub003/ingest/internal/signature"
)

const testSecret = "It's a Secret to Everybody"

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, subject string, payload []byte, headers map[string]string) (*messaging.PubAck, error) {
	args := m.Called(ctx, subject, payload, headers)
	ack, _ := args.Get(0).(*messaging.PubAck)
	return ack, args.Error(1)
}

type stubLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (s *stubLimiter) Allow(ctx context.Context, key string) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allowed, s.err
}

func (s *stubLimiter) Close() error { return nil }

type stubHealth struct {
	connected bool
	rtt       time.Duration
	err       error
}

func (s stubHealth) IsConnected() bool { return s.connected }

func (s stubHealth) RTT() (time.Duration, error) { return s.rtt, s.err }

func newTestHandler(pub Publisher, opts ...Option) *WebhookHandler {
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return NewWebhookHandler(pub, signature.NewVerifier(testSecret), opts...)
}

func signedRequest(t *testing.T, event string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/github", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if event != "" {
		req.Header.Set(HeaderEvent, event)
	}
	req.Header.Set(HeaderDelivery, "72d3162e-cc78-11e3-81ab-4c9367dc0958")
	req.Header.Set(signature.HeaderSHA256, signature.Sign(body, []byte(testSecret)))
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func TestHandleWebhook_Published(t *testing.T) {
	pub := &mockPublisher{}
	body := []byte(`{"action":"opened","repository":{"name":"Hephaestus","owner":{"login":"ls1intum"}}}`)

	pub.On("Publish", mock.Anything, "github.ls1intum.Hephaestus.pull_request", body, mock.MatchedBy(func(h map[string]string) bool {
		return h[HeaderEvent] == "pull_request" &&
			h[HeaderDelivery] == "72d3162e-cc78-11e3-81ab-4c9367dc0958" &&
			h[middleware.HeaderRequestID] == "72d3162e-cc78-11e3-81ab-4c9367dc0958"
	})).Return(&messaging.PubAck{Stream: "GITHUB", Sequence: 42}, nil).Once()

	handler := middleware.RequestID(http.HandlerFunc(newTestHandler(pub).HandleWebhook))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, "pull_request", body))

	assert.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody(t, rec)
	assert.Equal(t, "ok", got["status"])
	assert.Equal(t, "github.ls1intum.Hephaestus.pull_request", got["subject"])
	assert.Equal(t, "GITHUB", got["stream"])
	assert.EqualValues(t, 42, got["seq"])
	assert.Equal(t, false, got["duplicate"])
	pub.AssertExpectations(t)
}

func TestHandleWebhook_OrganizationEvent(t *testing.T) {
	pub := &mockPublisher{}
	body := []byte(`{"action":"member_added","organization":{"login":"ls1intum"}}`)
	pub.On("Publish", mock.Anything, "github.ls1intum.?.organization", body, mock.Anything).
		Return(&messaging.PubAck{Stream: "GITHUB", Sequence: 1}, nil).Once()

	rec := httptest.NewRecorder()
	newTestHandler(pub).HandleWebhook(rec, signedRequest(t, "organization", body))

	assert.Equal(t, http.StatusOK, rec.Code)
	pub.AssertExpectations(t)
}

func TestHandleWebhook_Duplicate(t *testing.T) {
	pub := &mockPublisher{}
	body := []byte(`{"repository":{"name":"r","owner":{"login":"o"}}}`)
	pub.On("Publish", mock.Anything, "github.o.r.push", body, mock.Anything).
		Return(&messaging.PubAck{Stream: "GITHUB", Sequence: 7, Duplicate: true}, nil).Once()

	rec := httptest.NewRecorder()
	newTestHandler(pub).HandleWebhook(rec, signedRequest(t, "push", body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["duplicate"])
}

func TestHandleWebhook_Ping(t *testing.T) {
	pub := &mockPublisher{}
	body := []byte(`{"zen":"Keep it logically awesome.","hook_id":1}`)

	rec := httptest.NewRecorder()
	newTestHandler(pub).HandleWebhook(rec, signedRequest(t, "ping", body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", decodeBody(t, rec)["status"])
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleWebhook_Rejections(t *testing.T) {
	valid := []byte(`{"repository":{"name":"r","owner":{"login":"o"}}}`)

	tests := []struct {
		name     string
		request  func(t *testing.T) *http.Request
		wantCode int
		wantMsg  string
	}{
		{
			name: "wrong method",
			request: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodGet, "/github", nil)
			},
			wantCode: http.StatusMethodNotAllowed,
			wantMsg:  msgMethodNotAllowed,
		},
		{
			name: "form content type",
			request: func(t *testing.T) *http.Request {
				req := signedRequest(t, "push", valid)
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return req
			},
			wantCode: http.StatusUnsupportedMediaType,
			wantMsg:  msgUnsupportedType,
		},
		{
			name: "missing content type",
			request: func(t *testing.T) *http.Request {
				req := signedRequest(t, "push", valid)
				req.Header.Del("Content-Type")
				return req
			},
			wantCode: http.StatusUnsupportedMediaType,
			wantMsg:  msgUnsupportedType,
		},
		{
			name: "missing event header",
			request: func(t *testing.T) *http.Request {
				return signedRequest(t, "", valid)
			},
			wantCode: http.StatusBadRequest,
			wantMsg:  msgMissingEvent,
		},
		{
			name: "missing signature",
			request: func(t *testing.T) *http.Request {
				req := signedRequest(t, "push", valid)
				req.Header.Del(signature.HeaderSHA256)
				return req
			},
			wantCode: http.StatusUnauthorized,
			wantMsg:  msgInvalidSignature,
		},
		{
			name: "tampered body",
			request: func(t *testing.T) *http.Request {
				req := signedRequest(t, "push", valid)
				tampered := bytes.Replace(valid, []byte(`"r"`), []byte(`"x"`), 1)
				req.Body = io.NopCloser(bytes.NewReader(tampered))
				return req
			},
			wantCode: http.StatusUnauthorized,
			wantMsg:  msgInvalidSignature,
		},
		{
			name: "signed but not json",
			request: func(t *testing.T) *http.Request {
				return signedRequest(t, "push", []byte(`not json`))
			},
			wantCode: http.StatusBadRequest,
			wantMsg:  msgInvalidJSON,
		},
		{
			name: "empty body",
			request: func(t *testing.T) *http.Request {
				return signedRequest(t, "push", nil)
			},
			wantCode: http.StatusUnauthorized,
			wantMsg:  msgInvalidSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &mockPublisher{}
			rec := httptest.NewRecorder()
			newTestHandler(pub).HandleWebhook(rec, tt.request(t))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantMsg, decodeBody(t, rec)["error"])
			pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestHandleWebhook_MethodNotAllowedSetsAllow(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestHandler(&mockPublisher{}).HandleWebhook(rec, httptest.NewRequest(http.MethodPut, "/github", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func TestHandleWebhook_PayloadTooLarge(t *testing.T) {
	pub := &mockPublisher{}
	body := []byte(`{"repository":{"name":"` + strings.Repeat("a", 256) + `","owner":{"login":"o"}}}`)

	rec := httptest.NewRecorder()
	newTestHandler(pub, WithMaxBodyBytes(64)).HandleWebhook(rec, signedRequest(t, "push", body))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, msgPayloadTooLarge, decodeBody(t, rec)["error"])
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleWebhook_PublishFailure(t *testing.T) {
	pub := &mockPublisher{}
	body := []byte(`{"repository":{"name":"r","owner":{"login":"o"}}}`)
	pub.On("Publish", mock.Anything, "github.o.r.push", body, mock.Anything).
		Return(nil, errors.New("broker unavailable")).Once()

	rec := httptest.NewRecorder()
	newTestHandler(pub).HandleWebhook(rec, signedRequest(t, "push", body))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, msgPublishFailed, decodeBody(t, rec)["error"])
	assert.NotContains(t, rec.Body.String(), "broker unavailable")
}

func TestHandleWebhook_RateLimited(t *testing.T) {
	pub := &mockPublisher{}
	limiter := &stubLimiter{allowed: false}
	body := []byte(`{}`)

	req := signedRequest(t, "push", body)
	req.RemoteAddr = "203.0.113.7:52114"

	rec := httptest.NewRecorder()
	newTestHandler(pub, WithRateLimiter(limiter)).HandleWebhook(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, []string{"203.0.113.7"}, limiter.keys)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleWebhook_RateLimiterErrorFailsOpen(t *testing.T) {
	pub := &mockPublisher{}
	body := []byte(`{"repository":{"name":"r","owner":{"login":"o"}}}`)
	pub.On("Publish", mock.Anything, "github.o.r.push", body, mock.Anything).
		Return(&messaging.PubAck{Stream: "GITHUB", Sequence: 1}, nil).Once()

	limiter := &stubLimiter{err: errors.New("redis down")}
	rec := httptest.NewRecorder()
	newTestHandler(pub, WithRateLimiter(limiter)).HandleWebhook(rec, signedRequest(t, "push", body))

	assert.Equal(t, http.StatusOK, rec.Code)
	pub.AssertExpectations(t)
}

func TestHandleWebhook_SecretRotation(t *testing.T) {
	pub := &mockPublisher{}
	body := []byte(`{"repository":{"name":"r","owner":{"login":"o"}}}`)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&messaging.PubAck{Stream: "GITHUB", Sequence: 1}, nil)

	verifier := signature.NewVerifier(testSecret)
	handler := NewWebhookHandler(pub, verifier, WithLogger(logging.Discard()))

	rec := httptest.NewRecorder()
	handler.HandleWebhook(rec, signedRequest(t, "push", body))
	require.Equal(t, http.StatusOK, rec.Code)

	verifier.SetSecret("rotated")

	rec = httptest.NewRecorder()
	handler.HandleWebhook(rec, signedRequest(t, "push", body))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestHandler(&mockPublisher{}).Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		health     messaging.HealthChecker
		wantCode   int
		wantStatus string
	}{
		{"no checker", nil, http.StatusOK, "ready"},
		{"connected", stubHealth{connected: true, rtt: 3 * time.Millisecond}, http.StatusOK, "ready"},
		{"disconnected", stubHealth{connected: false}, http.StatusServiceUnavailable, "not_ready"},
		{"rtt failure", stubHealth{connected: true, err: errors.New("timeout")}, http.StatusServiceUnavailable, "not_ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.health != nil {
				opts = append(opts, WithHealthChecker(tt.health))
			}
			rec := httptest.NewRecorder()
			newTestHandler(&mockPublisher{}, opts...).Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantStatus, decodeBody(t, rec)["status"])
		})
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/github", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", clientIP(req, false))

	req.Header.Set("X-Forwarded-For", "198.51.100.9, 10.0.0.1")
	assert.Equal(t, "192.0.2.1", clientIP(req, false), "forwarded header ignored without a trusted proxy")
	assert.Equal(t, "198.51.100.9", clientIP(req, true))
}

func TestHandleWebhook_UnverifiedEventsShareOneSeries(t *testing.T) {
	handler := newTestHandler(&mockPublisher{})
	before := testutil.CollectAndCount(metrics.WebhooksTotal)

	for i := range 200 {
		req := signedRequest(t, fmt.Sprintf("junk-%d", i), []byte(`{}`))
		req.Header.Set(signature.HeaderSHA256, "sha256=deadbeef")
		rec := httptest.NewRecorder()
		handler.HandleWebhook(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	assert.LessOrEqual(t, testutil.CollectAndCount(metrics.WebhooksTotal)-before, 1)
	assert.GreaterOrEqual(t,
		testutil.ToFloat64(metrics.WebhooksTotal.WithLabelValues(metrics.EventUnverified, metrics.OutcomeUnauthorized)),
		float64(200))
}

func TestHandleWebhook_UnknownVerifiedEventLabeledOther(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&messaging.PubAck{Stream: "GITHUB", Sequence: 1}, nil)
	handler := newTestHandler(pub)

	other := metrics.WebhooksTotal.WithLabelValues(metrics.EventOther, metrics.OutcomePublished)
	before := testutil.ToFloat64(other)
	series := testutil.CollectAndCount(metrics.WebhooksTotal)

	for i := range 20 {
		rec := httptest.NewRecorder()
		handler.HandleWebhook(rec, signedRequest(t, fmt.Sprintf("custom_%d", i), []byte(`{}`)))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, before+20, testutil.ToFloat64(other))
	assert.Equal(t, series, testutil.CollectAndCount(metrics.WebhooksTotal))
}
