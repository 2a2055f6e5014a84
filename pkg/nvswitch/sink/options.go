package sink

import (
	"errors"
	"time"

	"github.com/leptonai/nvswitchd/pkg/eventstore"
)

const (
	DefaultQueueSize   = 1024
	DefaultDedupWindow = time.Minute
	DefaultDeviceID    = "PCI:0000:00:00.0"
)

var (
	ErrInvalidQueueSize = errors.New("sink queue size must be positive")
	ErrNotRunning       = errors.New("sink writer is not running")
)

type Op struct {
	deviceID    string
	bucket      eventstore.Bucket
	queueSize   int
	dedupWindow time.Duration
}

type OpOption func(*Op)

func (op *Op) applyOpts(opts []OpOption) error {
	op.queueSize = DefaultQueueSize
	op.dedupWindow = DefaultDedupWindow
	for _, opt := range opts {
		opt(op)
	}

	if op.deviceID == "" {
		op.deviceID = DefaultDeviceID
	}
	if op.queueSize <= 0 {
		return ErrInvalidQueueSize
	}
	return nil
}

// WithDeviceID sets the device printed in SXid lines, e.g. "PCI:0000:05:00.0".
func WithDeviceID(id string) OpOption {
	return func(op *Op) {
		op.deviceID = id
	}
}

// WithBucket persists every error event into b.
func WithBucket(b eventstore.Bucket) OpOption {
	return func(op *Op) {
		op.bucket = b
	}
}

func WithQueueSize(n int) OpOption {
	return func(op *Op) {
		op.queueSize = n
	}
}

// WithDedupWindow sets how long an identical SXid line is suppressed
// after it was logged; 0 disables the suppression.
func WithDedupWindow(d time.Duration) OpOption {
	return func(op *Op) {
		op.dedupWindow = d
	}
}
