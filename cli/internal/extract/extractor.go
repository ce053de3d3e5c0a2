// Package extract replays stored webhook deliveries from the stream and
// turns them into JSON fixture files.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ls1intum/Hephaestus-sub003/common/logging"
	"github.com/ls1intum/Hephaestus-sub003/common/messaging"
)

const (
	fixtureExt     = ".json"
	cleanupTimeout = 10 * time.Second
)

// Store is the destination for extracted examples.
type Store interface {
	// Names lists the fixture files that already exist.
	Names() (map[string]struct{}, error)
	// Write stores a new fixture and never overwrites an existing one.
	Write(name string, payload []byte) error
}

// Dialer opens a broker session for one run. The extractor closes it.
type Dialer func(ctx context.Context) (messaging.Replayer, error)

// Summary reports the counters of one run.
type Summary struct {
	Stream        string   `json:"stream" yaml:"stream"`
	DeliverPolicy string   `json:"deliver_policy" yaml:"deliver_policy"`
	StreamTotal   uint64   `json:"stream_messages" yaml:"stream_messages"`
	Processed     int      `json:"processed" yaml:"processed"`
	Matched       int      `json:"matched" yaml:"matched"`
	SkippedFilter int      `json:"skipped_filter" yaml:"skipped_filter"`
	SkippedTime   int      `json:"skipped_time" yaml:"skipped_time"`
	Duplicates    int      `json:"duplicates" yaml:"duplicates"`
	Invalid       int      `json:"invalid" yaml:"invalid"`
	Extracted     int      `json:"extracted" yaml:"extracted"`
	WriteFailures int      `json:"write_failures,omitempty" yaml:"write_failures,omitempty"`
	TotalOnDisk   int      `json:"total_on_disk" yaml:"total_on_disk"`
	Files         []string `json:"files" yaml:"files"`
	DryRun        bool     `json:"dry_run" yaml:"dry_run"`

	// Partial is set when the replay stopped early because a fetch failed.
	Partial bool `json:"partial" yaml:"partial"`
}

// Example is one payload selected for extraction.
type Example struct {
	Name    string
	Payload []byte
}

// Extractor runs one replay against a stream.
type Extractor struct {
	opts   Options
	dial   Dialer
	store  Store
	logger *logging.Logger
}

// New returns an Extractor. A nil logger discards log output.
func New(opts Options, dial Dialer, store Store, logger *logging.Logger) *Extractor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Extractor{opts: opts, dial: dial, store: store, logger: logger}
}

// Run validates the options, replays the stream and writes the selected
// examples. Only configuration and connection failures are returned as
// errors; problems later in the run end up in the summary and the log.
func (e *Extractor) Run(ctx context.Context) (*Summary, error) {
	if err := e.opts.Validate(); err != nil {
		return nil, err
	}

	existing, err := e.store.Names()
	if err != nil {
		return nil, fmt.Errorf("failed to read destination: %w", err)
	}

	r := &run{
		opts:    &e.opts,
		logger:  e.logger,
		seen:    make(map[string]struct{}, len(existing)),
		summary: &Summary{Stream: e.opts.Stream, DeliverPolicy: e.opts.DeliverPolicy().String(), DryRun: e.opts.DryRun, Files: []string{}},
	}
	for name := range existing {
		r.seen[name] = struct{}{}
	}

	if err := e.replay(ctx, r); err != nil {
		return nil, err
	}

	r.summary.Extracted = len(r.examples)
	r.summary.TotalOnDisk = len(existing)
	for _, ex := range r.examples {
		r.summary.Files = append(r.summary.Files, ex.Name)
		if e.opts.DryRun {
			continue
		}
		if err := e.store.Write(ex.Name, ex.Payload); err != nil {
			r.summary.WriteFailures++
			e.logger.ErrorContext(ctx, "Failed to write example", logging.File(ex.Name), logging.Error(err))
			continue
		}
		r.summary.TotalOnDisk++
	}

	return r.summary, nil
}

// replay owns the broker session: the consumer is deleted and the session
// closed before it returns, whatever happened in between.
func (e *Extractor) replay(ctx context.Context, r *run) error {
	replayer, err := e.dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	defer func() {
		if err := replayer.Close(); err != nil {
			e.logger.WarnContext(ctx, "Failed to close broker connection", logging.Error(err))
		}
	}()

	stream := e.opts.Stream
	if info, err := replayer.DescribeStream(ctx, stream); err != nil {
		e.logger.WarnContext(ctx, "Could not describe stream", logging.Stream(stream), logging.Error(err))
	} else {
		r.summary.StreamTotal = info.Messages
		e.logger.InfoContext(ctx, "Replaying stream",
			logging.Stream(info.Name),
			slog.Uint64("messages", info.Messages),
			slog.Uint64("first_seq", info.FirstSeq),
			slog.Uint64("last_seq", info.LastSeq),
		)
	}

	cfg := e.opts.ReplayConfig()
	consumer, err := replayer.CreateEphemeralConsumer(ctx, stream, cfg)
	if err != nil {
		return fmt.Errorf("%w: create consumer on %s: %w", ErrConnect, stream, err)
	}
	defer e.deleteConsumer(ctx, replayer, consumer.Name())

	e.logger.InfoContext(ctx, "Created replay consumer",
		logging.Consumer(consumer.Name()),
		logging.Subject(cfg.FilterSubject),
		slog.String("deliver_policy", cfg.DeliverPolicy.String()),
		slog.String("filter", e.opts.Filter.String()),
	)

	r.fetchLoop(ctx, consumer)
	return nil
}

func (e *Extractor) deleteConsumer(ctx context.Context, replayer messaging.Replayer, name string) {
	// Clean up even when the run was cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := replayer.DeleteConsumer(ctx, e.opts.Stream, name); err != nil {
		e.logger.WarnContext(ctx, "Failed to delete replay consumer", logging.Consumer(name), logging.Error(err))
		return
	}
	e.logger.DebugContext(ctx, "Deleted replay consumer", logging.Consumer(name))
}

// run holds the state of one replay. It is used from a single goroutine.
type run struct {
	opts     *Options
	logger   *logging.Logger
	seen     map[string]struct{}
	examples []Example
	summary  *Summary
}

func (r *run) fetchLoop(ctx context.Context, consumer messaging.PullConsumer) {
	for {
		if err := ctx.Err(); err != nil {
			r.logger.WarnContext(ctx, "Replay interrupted", logging.Error(err))
			r.summary.Partial = true
			return
		}

		batch, err := consumer.Fetch(ctx, r.opts.BatchSize, r.opts.FetchTimeout)
		if err != nil {
			r.logger.WarnContext(ctx, "Fetch failed, ending replay early", logging.Error(err))
			r.summary.Partial = true
			return
		}

		received := 0
		for d := range batch.All() {
			received++
			r.processMessage(ctx, d)
		}
		if err := batch.Err(); err != nil {
			r.logger.WarnContext(ctx, "Batch interrupted, ending replay early", logging.Error(err))
			r.summary.Partial = true
			return
		}
		if received == 0 {
			return
		}

		r.logger.DebugContext(ctx, "Processed batch",
			slog.Int("messages", received),
			slog.Int("extracted", len(r.examples)),
		)
	}
}

// processMessage applies the extraction steps to one delivery and acks it.
// Every delivery is acked, selected or not.
func (r *run) processMessage(ctx context.Context, d messaging.Delivery) {
	r.summary.Processed++
	r.classify(ctx, d)

	if err := d.Ack(); err != nil {
		r.logger.DebugContext(ctx, "Failed to ack message", logging.Subject(d.Subject()), logging.Error(err))
	}
}

func (r *run) classify(ctx context.Context, d messaging.Delivery) {
	var payload any
	if err := json.Unmarshal(d.Data(), &payload); err != nil {
		r.summary.Invalid++
		r.logger.WarnContext(ctx, "Skipping message with invalid JSON", logging.Subject(d.Subject()), logging.Error(err))
		return
	}

	subject, err := messaging.ParseSubject(d.Subject())
	if err != nil {
		r.summary.Invalid++
		r.logger.WarnContext(ctx, "Skipping message with malformed subject", logging.Error(err))
		return
	}
	event := subject.EventType
	action := payloadAction(payload)

	if !r.opts.Filter.Allows(event, action) {
		r.summary.SkippedFilter++
		return
	}

	// Messages without a usable timestamp are never excluded by time.
	if ts, ok := d.Timestamp(); ok && !r.opts.inWindow(ts) {
		r.summary.SkippedTime++
		return
	}
	r.summary.Matched++

	name, ok := r.filename(event, action)
	if !ok {
		r.summary.Duplicates++
		return
	}

	r.seen[name] = struct{}{}
	r.examples = append(r.examples, Example{Name: name, Payload: bytes.Clone(d.Data())})
	r.logger.DebugContext(ctx, "Selected example", logging.File(name), logging.Subject(d.Subject()))
}

// filename picks the fixture name for event and action. Without duplicates
// a name already seen is rejected; with duplicates the first free numeric
// suffix is used.
func (r *run) filename(event, action string) (string, bool) {
	base := fileToken(event)
	if action != "" {
		base += "." + fileToken(action)
	}

	name := base + fixtureExt
	if _, taken := r.seen[name]; !taken {
		return name, true
	}
	if !r.opts.AllowDuplicates {
		return "", false
	}

	for n := 1; ; n++ {
		name = base + "." + strconv.Itoa(n) + fixtureExt
		if _, taken := r.seen[name]; !taken {
			return name, true
		}
	}
}

var fileTokenReplacer = strings.NewReplacer("/", "_", `\`, "_")

func fileToken(s string) string {
	return fileTokenReplacer.Replace(strings.ToLower(s))
}

func payloadAction(payload any) string {
	obj, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	action, _ := obj["action"].(string)
	return action
}
