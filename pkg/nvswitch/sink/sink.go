// Package sink implements the diagnostic log sink of the interrupt
// servicing core. Calls never block the caller: records are queued and
// written by a single goroutine to the log, the event store and the
// metrics.
package sink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leptonai/nvswitchd/pkg/eventstore"
	"github.com/leptonai/nvswitchd/pkg/log"
	"github.com/leptonai/nvswitchd/pkg/metrics"
	"github.com/leptonai/nvswitchd/pkg/nvswitch"
	"github.com/leptonai/nvswitchd/pkg/sxid"
)

const insertTimeout = 10 * time.Second

var _ nvswitch.Sink = &Sink{}

type record struct {
	event *nvswitch.ErrorEvent

	id        int
	msg       string
	fatal     bool
	contained bool

	flushed chan struct{}
}

type Sink struct {
	deviceID string
	bucket   eventstore.Bucket
	dedup    *deduper

	queue chan record

	closed   atomic.Bool
	dropped  atomic.Uint64
	startMu  sync.Mutex
	started  bool
	stopc    chan struct{}
	donec    chan struct{}
	stopOnce sync.Once
}

func New(opts ...OpOption) (*Sink, error) {
	op := &Op{}
	if err := op.applyOpts(opts); err != nil {
		return nil, err
	}

	s := &Sink{
		deviceID: op.deviceID,
		bucket:   op.bucket,
		queue:    make(chan record, op.queueSize),
		stopc:    make(chan struct{}),
		donec:    make(chan struct{}),
	}
	if op.dedupWindow > 0 {
		s.dedup = newDeduper(op.dedupWindow, 2*op.dedupWindow)
	}
	return s, nil
}

// Start starts the writer goroutine. Calling it twice is a no-op.
func (s *Sink) Start() {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.run()
}

// Close stops accepting records, writes what is queued and waits for the
// writer to exit.
func (s *Sink) Close() {
	s.stopOnce.Do(func() {
		s.closed.Store(true)
		close(s.stopc)
	})

	s.startMu.Lock()
	started := s.started
	s.startMu.Unlock()
	if started {
		<-s.donec
	}
}

// Dropped returns the number of records dropped on a full queue.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

// Flush waits until every record queued before the call is written. It
// returns ErrNotRunning before Start and after Close.
func (s *Sink) Flush(ctx context.Context) error {
	s.startMu.Lock()
	started := s.started
	s.startMu.Unlock()
	if !started || s.closed.Load() {
		return ErrNotRunning
	}

	done := make(chan struct{})
	select {
	case s.queue <- record{flushed: done}:
	case <-s.donec:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-s.donec:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) LogErrorEvent(ev nvswitch.ErrorEvent) {
	s.enqueue(record{event: &ev})
}

func (s *Sink) LogFatal(id int, message string, contained bool) {
	s.enqueue(record{id: id, msg: message, fatal: true, contained: contained})
}

func (s *Sink) LogNonFatal(id int, message string) {
	s.enqueue(record{id: id, msg: message})
}

func (s *Sink) enqueue(r record) {
	if s.closed.Load() {
		s.drop(r)
		return
	}
	select {
	case s.queue <- r:
	default:
		s.drop(r)
	}
}

func (s *Sink) drop(r record) {
	s.dropped.Add(1)
	metrics.RecordSinkDropped()
	log.Logger.Debugw("sink record dropped", "sxid", r.id, "event", r.event != nil)
}

func (s *Sink) run() {
	defer close(s.donec)
	for {
		select {
		case r := <-s.queue:
			s.write(r)
		case <-s.stopc:
			for {
				select {
				case r := <-s.queue:
					s.write(r)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) write(r record) {
	switch {
	case r.flushed != nil:
		close(r.flushed)
	case r.event != nil:
		s.writeEvent(*r.event)
	default:
		s.writeLine(r)
	}
}

func (s *Sink) writeLine(r record) {
	if s.dedup != nil {
		if n := s.dedup.add(r.id, r.msg); n > 1 {
			log.Logger.Debugw("suppressed repeated sxid line", "sxid", r.id, "count", n)
			return
		}
	}

	line := sxid.FormatLine(s.deviceID, r.id, r.fatal, r.msg)
	if r.fatal {
		log.Logger.Errorw(line, "sxid", r.id, "contained", r.contained)
		return
	}
	log.Logger.Warnw(line, "sxid", r.id)
}

func (s *Sink) writeEvent(ev nvswitch.ErrorEvent) {
	metrics.RecordEvent(ev.Block.String(), ev.Severity.String())

	if s.bucket == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	err := s.bucket.Insert(ctx, eventstore.Event{ErrorEvent: ev})
	cancel()
	if err != nil {
		log.Logger.Errorw("failed to persist error event", "sxid", ev.Kind, "link", ev.LinkID, "error", err)
	}
}
