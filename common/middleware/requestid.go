package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDKey is the context key for request IDs
type contextKey string

const RequestIDKey = contextKey("request-id")

const (
	// HeaderRequestID carries the request ID on requests and responses.
	HeaderRequestID = "X-Request-ID"

	// HeaderGitHubDelivery is GitHub's unique ID for a webhook delivery.
	HeaderGitHubDelivery = "X-GitHub-Delivery"
)

// RequestID is a middleware that generates or propagates request IDs for distributed tracing.
// A GitHub delivery ID wins over an X-Request-ID header so that logs for a webhook
// can be correlated with GitHub's delivery log; a new UUID is generated if neither is present.
// The request ID is added to the response header and stored in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderGitHubDelivery)
		if requestID == "" {
			requestID = r.Header.Get(HeaderRequestID)
		}
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set(HeaderRequestID, requestID)

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request ID from the context.
// Returns empty string if not found.
func GetRequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		return reqID
	}
	return ""
}
