package nats

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/ls1intum/Hephaestus-sub003/common/messaging"
)

// pullConsumer adapts a jetstream.Consumer to messaging.PullConsumer.
type pullConsumer struct {
	consumer jetstream.Consumer
	name     string
}

func (p *pullConsumer) Name() string {
	return p.name
}

// Fetch requests up to batch messages, waiting at most maxWait for the batch
// to fill. An exhausted stream yields an empty batch, not an error.
func (p *pullConsumer) Fetch(ctx context.Context, batch int, maxWait time.Duration) (messaging.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msgs, err := p.consumer.Fetch(batch, jetstream.FetchMaxWait(maxWait))
	if err != nil {
		if isEmptyFetch(err) {
			return emptyBatch{}, nil
		}
		return nil, fmt.Errorf("fetch from consumer %s: %w", p.name, err)
	}

	return &fetchBatch{msgs: msgs}, nil
}

// fetchBatch streams the messages of one jetstream.MessageBatch.
type fetchBatch struct {
	msgs jetstream.MessageBatch
}

func (b *fetchBatch) All() iter.Seq[messaging.Delivery] {
	return func(yield func(messaging.Delivery) bool) {
		for msg := range b.msgs.Messages() {
			if !yield(delivery{msg: msg}) {
				return
			}
		}
	}
}

func (b *fetchBatch) Err() error {
	err := b.msgs.Error()
	if err == nil || isEmptyFetch(err) {
		return nil
	}
	return err
}

type emptyBatch struct{}

func (emptyBatch) All() iter.Seq[messaging.Delivery] {
	return func(func(messaging.Delivery) bool) {}
}

func (emptyBatch) Err() error { return nil }

// delivery adapts a jetstream.Msg to messaging.Delivery.
type delivery struct {
	msg jetstream.Msg
}

func (d delivery) Subject() string { return d.msg.Subject() }

func (d delivery) Data() []byte { return d.msg.Data() }

func (d delivery) Headers() map[string]string {
	return flattenHeaders(d.msg.Headers())
}

func (d delivery) Timestamp() (time.Time, bool) {
	md, err := d.msg.Metadata()
	if err != nil || md == nil || md.Timestamp.IsZero() {
		return time.Time{}, false
	}
	return md.Timestamp, true
}

func (d delivery) Ack() error {
	return d.msg.Ack()
}

// flattenHeaders keeps the first value of each header.
func flattenHeaders(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// isEmptyFetch reports whether err only means no messages arrived in time.
func isEmptyFetch(err error) bool {
	return errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, jetstream.ErrNoMessages) ||
		errors.Is(err, context.DeadlineExceeded)
}
