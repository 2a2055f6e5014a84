// Package eventstore persists the error events reported by the interrupt
// servicing core, one table ("bucket") per switch device.
package eventstore

import (
	"context"
	"errors"
	"time"

	"github.com/leptonai/nvswitchd/pkg/nvswitch"
)

var (
	ErrKindsToSelectAndExclude = errors.New("cannot use both kinds to select/exclude")
)

// Event is a stored error event.
type Event struct {
	// ID is assigned on insert when empty.
	ID string `json:"id"`

	nvswitch.ErrorEvent
}

type Events []Event

// ErrorEvents strips the store identifiers.
func (evs Events) ErrorEvents() []nvswitch.ErrorEvent {
	out := make([]nvswitch.ErrorEvent, len(evs))
	for i, ev := range evs {
		out[i] = ev.ErrorEvent
	}
	return out
}

const DefaultRetention = 3 * 24 * time.Hour // 3 days

type Store interface {
	Bucket(name string, opts ...OpOption) (Bucket, error)
}

type Bucket interface {
	Name() string
	Insert(ctx context.Context, ev Event) error
	// Find returns nil if no event with the same time, kind, link and
	// instance exists.
	Find(ctx context.Context, ev nvswitch.ErrorEvent) (*Event, error)
	// Get queries the events in the descending order of timestamp (latest event first).
	Get(ctx context.Context, since time.Time, opts ...OpOption) (Events, error)
	// Latest queries the latest event, returns nil if no event found.
	Latest(ctx context.Context) (*Event, error)
	Purge(ctx context.Context, before time.Time) (int, error)
	Close()
}

type Op struct {
	disablePurge   bool
	kindsToSelect  map[int]any
	kindsToExclude map[int]any
	limit          int
}

type OpOption func(*Op)

func (op *Op) applyOpts(opts []OpOption) error {
	for _, opt := range opts {
		opt(op)
	}
	if len(op.kindsToSelect) > 0 && len(op.kindsToExclude) > 0 {
		return ErrKindsToSelectAndExclude
	}
	if op.limit < 0 {
		op.limit = 0
	}

	return nil
}

// WithDisablePurge disables the retention purge of the bucket.
// Used when the bucket is loaded for read-only operations.
func WithDisablePurge() OpOption {
	return func(op *Op) {
		op.disablePurge = true
	}
}

// WithKindsToSelect limits a query to the given SXids.
func WithKindsToSelect(kinds ...int) OpOption {
	return func(op *Op) {
		if op.kindsToSelect == nil {
			op.kindsToSelect = make(map[int]any)
		}
		for _, k := range kinds {
			op.kindsToSelect[k] = true
		}
	}
}

// WithKindsToExclude drops the given SXids from a query.
// e.g., exclude the unhandled-interrupt lines from an event listing.
func WithKindsToExclude(kinds ...int) OpOption {
	return func(op *Op) {
		if op.kindsToExclude == nil {
			op.kindsToExclude = make(map[int]any)
		}
		for _, k := range kinds {
			op.kindsToExclude[k] = true
		}
	}
}

// WithLimit caps the number of events a query returns; 0 means no cap.
func WithLimit(n int) OpOption {
	return func(op *Op) {
		op.limit = n
	}
}
