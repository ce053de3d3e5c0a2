package messaging

import (
	"time"
)

// HealthChecker is implemented by broker clients that can report connectivity.
type HealthChecker interface {
	IsConnected() bool

	// RTT measures the round trip to the broker.
	RTT() (time.Duration, error)
}

// HealthStatus represents the health state of a messaging connection.
type HealthStatus struct {
	// Connected indicates if the client is connected.
	Connected bool `json:"connected"`

	// LatencyMS is the round-trip time for a health ping in milliseconds.
	LatencyMS int64 `json:"latency_ms"`

	// Error contains any error message if unhealthy.
	Error string `json:"error,omitempty"`
}

// Healthy reports whether the connection can be used.
func (s HealthStatus) Healthy() bool {
	return s.Connected && s.Error == ""
}

// CheckClientHealth checks if a client is healthy by verifying the connection
// and measuring a round trip.
func CheckClientHealth(client HealthChecker) HealthStatus {
	status := HealthStatus{}

	if client == nil {
		status.Error = "client is nil"
		return status
	}

	status.Connected = client.IsConnected()
	if !status.Connected {
		status.Error = "not connected to message broker"
		return status
	}

	rtt, err := client.RTT()
	if err != nil {
		status.Error = "health check failed: " + err.Error()
		return status
	}
	status.LatencyMS = rtt.Milliseconds()

	return status
}
