package nats

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/ls1intum/Hephaestus-sub003/common/messaging"
)

// JetStreamClient extends Client with JetStream persistence capabilities.
// It implements messaging.Publisher and messaging.Replayer.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

var (
	_ messaging.Publisher     = (*JetStreamClient)(nil)
	_ messaging.Replayer      = (*JetStreamClient)(nil)
	_ messaging.HealthChecker = (*JetStreamClient)(nil)
)

// StreamConfig defines a JetStream stream configuration.
type StreamConfig struct {
	// Name is the stream name.
	Name string

	// Subjects are the subjects this stream captures.
	Subjects []string

	// MaxAge is the maximum age of messages in the stream. Zero keeps them forever.
	MaxAge time.Duration

	// MaxBytes is the maximum total size of the stream. -1 means unlimited.
	MaxBytes int64

	// MaxMsgs is the maximum number of messages in the stream. -1 means unlimited.
	MaxMsgs int64

	// MaxMsgSize is the largest single message accepted. -1 means the server limit.
	MaxMsgSize int32

	// Retention policy (LimitsPolicy, InterestPolicy, WorkQueuePolicy).
	Retention jetstream.RetentionPolicy

	// Storage type (FileStorage, MemoryStorage).
	Storage jetstream.StorageType
}

// DefaultStreamConfig returns defaults for a replayable webhook stream.
// Limits retention keeps messages after they are consumed so they can be
// replayed by any number of consumers.
func DefaultStreamConfig(name string, subjects []string) StreamConfig {
	return StreamConfig{
		Name:       name,
		Subjects:   subjects,
		MaxAge:     90 * 24 * time.Hour,
		MaxBytes:   -1,
		MaxMsgs:    -1,
		MaxMsgSize: -1,
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
	}
}

// NewJetStreamClient creates a JetStream-enabled client.
func NewJetStreamClient(cfg Config) (*JetStreamClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(client.conn)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &JetStreamClient{
		Client: client,
		js:     js,
	}, nil
}

// EnsureStream creates the stream or updates it to match cfg.
func (c *JetStreamClient) EnsureStream(ctx context.Context, cfg StreamConfig) (*messaging.StreamInfo, error) {
	streamCfg := jetstream.StreamConfig{
		Name:       cfg.Name,
		Subjects:   cfg.Subjects,
		MaxAge:     cfg.MaxAge,
		MaxBytes:   cfg.MaxBytes,
		MaxMsgs:    cfg.MaxMsgs,
		MaxMsgSize: cfg.MaxMsgSize,
		Retention:  cfg.Retention,
		Storage:    cfg.Storage,
	}

	stream, err := c.js.CreateOrUpdateStream(ctx, streamCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}

	return toStreamInfo(stream.CachedInfo()), nil
}

// PublishMsg publishes a message and waits for the stream acknowledgement.
// Errors are classified with the messaging error sentinels.
func (c *JetStreamClient) PublishMsg(ctx context.Context, msg *messaging.Message) (*messaging.PubAck, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	natsMsg := &nats.Msg{
		Subject: msg.Subject,
		Data:    msg.Data,
	}

	// Add headers if present
	if len(msg.Metadata) > 0 {
		natsMsg.Header = make(nats.Header)
		for k, v := range msg.Metadata {
			natsMsg.Header.Set(k, v)
		}
	}

	ack, err := c.js.PublishMsg(ctx, natsMsg)
	if err != nil {
		return nil, classifyPublishError(err)
	}

	return &messaging.PubAck{
		Stream:    ack.Stream,
		Sequence:  ack.Sequence,
		Duplicate: ack.Duplicate,
	}, nil
}

// DescribeStream returns the current state of a stream.
func (c *JetStreamClient) DescribeStream(ctx context.Context, name string) (*messaging.StreamInfo, error) {
	stream, err := c.js.Stream(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", name, err)
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream info %s: %w", name, err)
	}

	return toStreamInfo(info), nil
}

// CreateEphemeralConsumer creates an unnamed, non-durable pull consumer. The
// caller is expected to delete it with DeleteConsumer; InactiveThreshold is
// the server-side safety net if that never happens.
func (c *JetStreamClient) CreateEphemeralConsumer(ctx context.Context, streamName string, cfg messaging.ReplayConfig) (messaging.PullConsumer, error) {
	consumerCfg := jetstream.ConsumerConfig{
		FilterSubject:     cfg.FilterSubject,
		AckPolicy:         jetstream.AckExplicitPolicy,
		InactiveThreshold: cfg.InactiveThreshold,
	}

	switch cfg.DeliverPolicy {
	case messaging.DeliverNew:
		consumerCfg.DeliverPolicy = jetstream.DeliverNewPolicy
	case messaging.DeliverByStartTime:
		start := cfg.StartTime
		consumerCfg.DeliverPolicy = jetstream.DeliverByStartTimePolicy
		consumerCfg.OptStartTime = &start
	default:
		consumerCfg.DeliverPolicy = jetstream.DeliverAllPolicy
	}

	consumer, err := c.js.CreateConsumer(ctx, streamName, consumerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer on %s: %w", streamName, err)
	}

	return &pullConsumer{
		consumer: consumer,
		name:     consumer.CachedInfo().Name,
	}, nil
}

// DeleteConsumer removes a consumer from a stream.
func (c *JetStreamClient) DeleteConsumer(ctx context.Context, streamName, consumerName string) error {
	if err := c.js.DeleteConsumer(ctx, streamName, consumerName); err != nil {
		return fmt.Errorf("failed to delete consumer %s on %s: %w", consumerName, streamName, err)
	}
	return nil
}

// classifyPublishError wraps a client error with the matching messaging sentinel.
func classifyPublishError(err error) error {
	var jsErr jetstream.JetStreamError

	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, nats.ErrMaxPayload):
		return fmt.Errorf("%w: %w", messaging.ErrPayloadTooLarge, err)
	case errors.Is(err, nats.ErrBadSubject):
		return fmt.Errorf("%w: %w", messaging.ErrInvalidSubject, err)
	case errors.As(err, &jsErr) && jsErr.APIError() != nil:
		code := jsErr.APIError().Code
		switch {
		case code == http.StatusServiceUnavailable:
			return fmt.Errorf("%w: %w", messaging.ErrBrokerBusy, err)
		case code == http.StatusRequestEntityTooLarge:
			return fmt.Errorf("%w: %w", messaging.ErrPayloadTooLarge, err)
		case code >= 400 && code < 500:
			return fmt.Errorf("%w: %w", messaging.ErrRejected, err)
		default:
			return fmt.Errorf("%w: %w", messaging.ErrUnavailable, err)
		}
	case errors.Is(err, nats.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, nats.ErrNoResponders),
		errors.Is(err, jetstream.ErrNoStreamResponse),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrInvalidConnection):
		return fmt.Errorf("%w: %w", messaging.ErrUnavailable, err)
	default:
		return err
	}
}

func toStreamInfo(info *jetstream.StreamInfo) *messaging.StreamInfo {
	if info == nil {
		return nil
	}
	return &messaging.StreamInfo{
		Name:      info.Config.Name,
		Subjects:  info.Config.Subjects,
		Messages:  info.State.Msgs,
		Bytes:     info.State.Bytes,
		FirstSeq:  info.State.FirstSeq,
		LastSeq:   info.State.LastSeq,
		FirstTime: info.State.FirstTime,
		LastTime:  info.State.LastTime,
		Consumers: info.State.Consumers,
	}
}
