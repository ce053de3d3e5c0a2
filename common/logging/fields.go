package logging

import (
	"log/slog"
	"time"
)

// Common field names for consistent logging across services.
const (
	FieldService    = "service"
	FieldRequestID  = "request_id"
	FieldIP         = "ip"
	FieldStatus     = "status"
	FieldError      = "error"
	FieldSubject    = "subject"
	FieldEvent      = "event"
	FieldAction     = "action"
	FieldDeliveryID = "delivery_id"
	FieldStream     = "stream"
	FieldSequence   = "seq"
	FieldConsumer   = "consumer"
	FieldAttempt    = "attempt"
	FieldDelay      = "delay"
	FieldFile       = "file"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// IP returns a slog attribute for the IP address.
func IP(ip string) slog.Attr {
	return slog.String(FieldIP, ip)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// Subject returns a slog attribute for a message subject.
func Subject(subject string) slog.Attr {
	return slog.String(FieldSubject, subject)
}

// Event returns a slog attribute for the webhook event type.
func Event(event string) slog.Attr {
	return slog.String(FieldEvent, event)
}

// Action returns a slog attribute for the webhook payload action.
func Action(action string) slog.Attr {
	return slog.String(FieldAction, action)
}

// DeliveryID returns a slog attribute for the webhook delivery ID.
func DeliveryID(id string) slog.Attr {
	return slog.String(FieldDeliveryID, id)
}

// Stream returns a slog attribute for a stream name.
func Stream(name string) slog.Attr {
	return slog.String(FieldStream, name)
}

// Sequence returns a slog attribute for a stream sequence number.
func Sequence(seq uint64) slog.Attr {
	return slog.Uint64(FieldSequence, seq)
}

// Consumer returns a slog attribute for a consumer name.
func Consumer(name string) slog.Attr {
	return slog.String(FieldConsumer, name)
}

// Attempt returns a slog attribute for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// Delay returns a slog attribute for a backoff delay.
func Delay(d time.Duration) slog.Attr {
	return slog.Duration(FieldDelay, d)
}

// File returns a slog attribute for a file path.
func File(path string) slog.Attr {
	return slog.String(FieldFile, path)
}
