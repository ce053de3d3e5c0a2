// Package messaging provides abstractions for message broker communication.
// It defines the interfaces the webhook ingest service publishes through and the
// extraction tool replays from, without coupling either to a specific broker.
package messaging

import (
	"context"
	"iter"
	"time"
)

// Message represents a message sent to a durable stream.
type Message struct {
	// Subject is the hierarchical routing key the message is published to.
	Subject string

	// Data is the raw message payload.
	Data []byte

	// Metadata contains optional key-value pairs for message headers.
	Metadata map[string]string

	// Timestamp is when the message was stored, if known.
	Timestamp time.Time
}

// PubAck is the broker's acknowledgement for a stored message.
type PubAck struct {
	Stream    string `json:"stream"`
	Sequence  uint64 `json:"seq"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// Publisher publishes messages to a durable stream.
type Publisher interface {
	// PublishMsg stores a message and waits for the stream acknowledgement.
	// A message is either fully accepted or an error is returned.
	PublishMsg(ctx context.Context, msg *Message) (*PubAck, error)

	// Close releases any resources held by the publisher.
	Close() error
}

// DeliverPolicy determines where a new consumer starts reading.
type DeliverPolicy int

const (
	// DeliverAll replays the full stream history.
	DeliverAll DeliverPolicy = iota
	// DeliverNew only delivers messages stored after the consumer was created.
	DeliverNew
	// DeliverByStartTime replays from the first message at or after a start time.
	DeliverByStartTime
)

func (p DeliverPolicy) String() string {
	switch p {
	case DeliverAll:
		return "all"
	case DeliverNew:
		return "new"
	case DeliverByStartTime:
		return "by_start_time"
	default:
		return "unknown"
	}
}

// ReplayConfig configures an ephemeral pull consumer.
type ReplayConfig struct {
	// FilterSubject limits the consumer to matching subjects (wildcards allowed).
	FilterSubject string

	DeliverPolicy DeliverPolicy

	// StartTime is required for DeliverByStartTime and ignored otherwise.
	StartTime time.Time

	// InactiveThreshold lets the server reap the consumer if the client vanishes
	// without deleting it.
	InactiveThreshold time.Duration
}

// StreamInfo is a point-in-time description of a stream.
type StreamInfo struct {
	Name      string    `json:"name"`
	Subjects  []string  `json:"subjects"`
	Messages  uint64    `json:"messages"`
	Bytes     uint64    `json:"bytes"`
	FirstSeq  uint64    `json:"first_seq"`
	LastSeq   uint64    `json:"last_seq"`
	FirstTime time.Time `json:"first_time"`
	LastTime  time.Time `json:"last_time"`
	Consumers int       `json:"consumers"`
}

// Delivery is a single message received from a pull consumer.
type Delivery interface {
	Subject() string
	Data() []byte
	Headers() map[string]string

	// Timestamp returns when the broker stored the message. ok is false when
	// the broker metadata is missing or unusable.
	Timestamp() (ts time.Time, ok bool)

	// Ack marks the message as processed for this consumer only; it never
	// removes the message from the stream.
	Ack() error
}

// Batch is the result of one fetch. All yields messages lazily in the order
// they were received and can be consumed only once.
type Batch interface {
	All() iter.Seq[Delivery]

	// Err reports an error that interrupted the batch. It is only meaningful
	// after All has been fully consumed.
	Err() error
}

// PullConsumer requests messages in explicit batches.
type PullConsumer interface {
	Name() string
	Fetch(ctx context.Context, batch int, maxWait time.Duration) (Batch, error)
}

// Replayer creates short-lived consumers over a stream.
type Replayer interface {
	DescribeStream(ctx context.Context, stream string) (*StreamInfo, error)
	CreateEphemeralConsumer(ctx context.Context, stream string, cfg ReplayConfig) (PullConsumer, error)
	DeleteConsumer(ctx context.Context, stream, consumer string) error
	Close() error
}

// PublishOption configures message publishing behavior.
type PublishOption func(*Message)

// WithHeader adds a header to the published message. Empty values are skipped.
func WithHeader(key, value string) PublishOption {
	return func(m *Message) {
		if value == "" {
			return
		}
		if m.Metadata == nil {
			m.Metadata = make(map[string]string)
		}
		m.Metadata[key] = value
	}
}

// NewMessage builds a Message and applies opts.
func NewMessage(subject string, data []byte, opts ...PublishOption) *Message {
	msg := &Message{Subject: subject, Data: data}
	for _, opt := range opts {
		opt(msg)
	}
	return msg
}
