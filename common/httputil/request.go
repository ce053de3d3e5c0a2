package httputil

import (
	"errors"
	"mime"
	"net/http"
	"strings"
)

// GetClientIP extracts the client IP address of a request. Proxy headers are
// caller-supplied, so they are only consulted when trustProxyHeaders is set,
// i.e. when every request passes through a reverse proxy that overwrites them.
// In that case headers are checked in this order:
//  1. X-Forwarded-For (extracts first/client IP from comma-separated list)
//  2. X-Real-IP (single IP from reverse proxy)
//  3. RemoteAddr (direct connection)
//
// Example X-Forwarded-For: "203.0.113.195, 70.41.3.18, 150.172.238.178"
// Returns: "203.0.113.195" (the first hop)
func GetClientIP(r *http.Request, trustProxyHeaders bool) string {
	if !trustProxyHeaders {
		return r.RemoteAddr
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For can contain multiple IPs: "client, proxy1, proxy2"
		// We want the first (client) IP
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// IsJSONContentType reports whether the request declares a JSON body.
// application/json and any "+json" structured suffix are accepted; media type
// parameters such as charset are ignored.
func IsJSONContentType(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil && !errors.Is(err, mime.ErrInvalidMediaParameter) {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
