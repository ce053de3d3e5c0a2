package extract

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ls1intum/Hephaestus-sub003/common/messaging"
)

var (
	// ErrConflictingPolicy is returned when new-only replay is combined with
	// a time window.
	ErrConflictingPolicy = errors.New("--new-only cannot be combined with --since or --until")

	// ErrConnect is returned when the broker connection or the replay
	// consumer cannot be established.
	ErrConnect = errors.New("failed to connect to message broker")
)

// Defaults for a replay run.
const (
	DefaultBatchSize         = 100
	DefaultFetchTimeout      = 5 * time.Second
	DefaultInactiveThreshold = 5 * time.Minute
)

// Options configures one extraction run.
type Options struct {
	Stream  string
	Subject string

	Filter Filter

	// Since is inclusive and Until exclusive. Zero values leave that side open.
	Since time.Time
	Until time.Time

	NewOnly         bool
	AllowDuplicates bool
	DryRun          bool

	BatchSize    int
	FetchTimeout time.Duration

	// InactiveThreshold lets the server reap the consumer if this process
	// dies before deleting it.
	InactiveThreshold time.Duration
}

// Validate reports configuration errors before any network call is made.
func (o *Options) Validate() error {
	if o.NewOnly && (!o.Since.IsZero() || !o.Until.IsZero()) {
		return ErrConflictingPolicy
	}

	var errs []error
	if o.Stream == "" {
		errs = append(errs, errors.New("stream is required"))
	}
	if o.Subject == "" {
		errs = append(errs, errors.New("subject is required"))
	}
	if o.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be positive, got %d", o.BatchSize))
	}
	if o.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("fetch timeout must be positive, got %s", o.FetchTimeout))
	}
	if !o.Since.IsZero() && !o.Until.IsZero() && !o.Until.After(o.Since) {
		errs = append(errs, fmt.Errorf("until (%s) must be after since (%s)",
			o.Until.Format(time.RFC3339), o.Since.Format(time.RFC3339)))
	}
	return errors.Join(errs...)
}

// DeliverPolicy picks where the replay consumer starts.
func (o *Options) DeliverPolicy() messaging.DeliverPolicy {
	switch {
	case o.NewOnly:
		return messaging.DeliverNew
	case !o.Since.IsZero():
		return messaging.DeliverByStartTime
	default:
		return messaging.DeliverAll
	}
}

// ReplayConfig returns the consumer configuration for these options.
func (o *Options) ReplayConfig() messaging.ReplayConfig {
	threshold := o.InactiveThreshold
	if threshold <= 0 {
		threshold = DefaultInactiveThreshold
	}
	return messaging.ReplayConfig{
		FilterSubject:     o.Subject,
		DeliverPolicy:     o.DeliverPolicy(),
		StartTime:         o.Since,
		InactiveThreshold: threshold,
	}
}

// inWindow reports whether ts lies in [Since, Until).
func (o *Options) inWindow(ts time.Time) bool {
	if !o.Since.IsZero() && ts.Before(o.Since) {
		return false
	}
	if !o.Until.IsZero() && !ts.Before(o.Until) {
		return false
	}
	return true
}

// ParseTime parses a time bound given as RFC3339, a YYYY-MM-DD date (UTC
// midnight) or a duration meaning that long before now. An empty string
// yields the zero time.
func ParseTime(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("invalid time %q: duration must not be negative", value)
		}
		return now.Add(-d), nil
	}

	return time.Time{}, fmt.Errorf("invalid time %q: want RFC3339, YYYY-MM-DD or a duration like 24h", value)
}
