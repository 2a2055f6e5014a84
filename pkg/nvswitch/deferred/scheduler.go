// Package deferred implements the deferred link error scheduler: link layer
// faults that a retrain produces as a side effect are accumulated per link
// and reported only once the link failed to recover.
package deferred

import (
	"container/heap"
	"context"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/leptonai/nvswitchd/pkg/log"
	"github.com/leptonai/nvswitchd/pkg/metrics"
	"github.com/leptonai/nvswitchd/pkg/nvswitch"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/fault"
)

const (
	DefaultDebounce        = 100 * time.Millisecond
	DefaultStateCheckDelay = 100 * time.Millisecond
	DefaultGraceWindow     = 10 * time.Second
)

// Config holds the scheduler timing.
type Config struct {
	// Debounce is the delay between the first deferred error of a link and
	// its error check.
	Debounce time.Duration
	// StateCheckDelay is the delay of the link state check queued by
	// MINION faults.
	StateCheckDelay time.Duration
	// GraceWindow bounds how long a retraining link may keep re-arming its
	// error check, measured from the retrain and from the first error.
	GraceWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.StateCheckDelay <= 0 {
		c.StateCheckDelay = DefaultStateCheckDelay
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = DefaultGraceWindow
	}
	return c
}

// TaskKind selects what a queued task does.
type TaskKind uint8

const (
	// LinkStateCheck discards the accumulated errors if the link already
	// trained to high speed, else turns into a LinkErrorCheck.
	LinkStateCheck TaskKind = iota
	// LinkErrorCheck decides between discard, re-arm and emit.
	LinkErrorCheck
)

func (k TaskKind) String() string {
	switch k {
	case LinkStateCheck:
		return "link-state-check"
	case LinkErrorCheck:
		return "link-error-check"
	default:
		return fmt.Sprintf("task(%d)", uint8(k))
	}
}

// Task is one queued unit of work.
type Task struct {
	Kind   TaskKind
	Link   int
	NVLIPT int
}

type item struct {
	due  time.Time
	seq  uint64
	gen  uint64
	task Task
}

type taskQueue []*item

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if !q[i].due.Equal(q[j].due) {
		return q[i].due.Before(q[j].due)
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x any) { *q = append(*q, x.(*item)) }

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}

// Scheduler is a single consumer, time ordered task queue over the per link
// accumulators.
//
// Enqueue methods are called with the device lock held. Tasks run with the
// device lock taken first, then the scheduler's own mutex.
type Scheduler struct {
	cfg     Config
	device  sync.Locker
	clk     clock.Clock
	sink    nvswitch.Sink
	trainer nvswitch.LinkTrainer

	// markFatal runs under the device lock when a fatal error is emitted.
	markFatal func(link int)

	mu    sync.Mutex
	links map[int]*LinkError
	queue taskQueue
	seq   uint64
	wake  chan struct{}
}

// New creates a scheduler. device is the per-device lock shared with the
// interrupt path. markFatal, if set, is called with that lock held for
// every link whose emitted errors include a fatal one.
func New(cfg Config, device sync.Locker, clk clock.Clock, sink nvswitch.Sink, trainer nvswitch.LinkTrainer, markFatal func(link int)) *Scheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if trainer == nil {
		trainer = nvswitch.NopTrainer{}
	}
	return &Scheduler{
		cfg:       cfg.withDefaults(),
		device:    device,
		clk:       clk,
		sink:      sink,
		trainer:   trainer,
		markFatal: markFatal,
		links:     make(map[int]*LinkError),
		wake:      make(chan struct{}, 1),
	}
}

func (s *Scheduler) linkLocked(link int, nvlipt int) *LinkError {
	le, ok := s.links[link]
	if !ok {
		le = &LinkError{Link: link, NVLIPT: nvlipt}
		s.links[link] = le
	}
	if nvlipt >= 0 {
		le.NVLIPT = nvlipt
	}
	return le
}

// Defer accumulates bits of a tree. The first error of an idle link queues
// a LinkErrorCheck after the debounce window.
func (s *Scheduler) Defer(link int, nvlipt int, t *fault.Tree, bits uint32) {
	if bits == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	le := s.linkLocked(link, nvlipt)
	if le.Empty() {
		le.FirstErrorTime = s.clk.Now()
	}
	le.add(t, bits)
	if !le.Scheduled {
		s.scheduleLocked(le, LinkErrorCheck, s.cfg.Debounce)
	}
	log.Logger.Debugw("deferred link error", "link", link, "tree", t.ID(), "bits", fmt.Sprintf("0x%08x", bits))
}

// DeferMinion records a MINION link fault. An idle link first gets a
// LinkStateCheck.
func (s *Scheduler) DeferMinion(link int, nvlipt int, m MinionIntr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	le := s.linkLocked(link, nvlipt)
	if le.Empty() {
		le.FirstErrorTime = s.clk.Now()
	}
	le.Minion = &m
	if !le.Scheduled {
		s.scheduleLocked(le, LinkStateCheck, s.cfg.StateCheckDelay)
	}
	log.Logger.Debugw("deferred minion link interrupt", "link", link, "sxid", m.ID, "name", m.Name)
}

// LinkUp records that the link reached high speed: the accumulator is
// cleared and any queued task is cancelled.
func (s *Scheduler) LinkUp(link int, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	le := s.linkLocked(link, -1)
	le.LastLinkUpTime = at
	le.clear()
	if le.Scheduled {
		le.Scheduled = false
		le.gen++
		metrics.RecordDeferred(metrics.OutcomeCancelled)
		log.Logger.Debugw("link up, cancelled deferred error check", "link", link)
	}
}

// MarkRetrain stamps the time a retrain of the link started.
func (s *Scheduler) MarkRetrain(link int, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linkLocked(link, -1).LastRetrainTime = at
}

// Snapshot returns a copy of the link's accumulator.
func (s *Scheduler) Snapshot(link int) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	le, ok := s.links[link]
	if !ok {
		return Snapshot{}, false
	}
	return le.snapshot(), true
}

// Len returns the number of live queued tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.queue {
		if s.liveLocked(it) {
			n++
		}
	}
	return n
}

func (s *Scheduler) scheduleLocked(le *LinkError, kind TaskKind, after time.Duration) {
	le.Scheduled = true
	s.seq++
	heap.Push(&s.queue, &item{
		due:  s.clk.Now().Add(after),
		seq:  s.seq,
		gen:  le.gen,
		task: Task{Kind: kind, Link: le.Link, NVLIPT: le.NVLIPT},
	})
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) liveLocked(it *item) bool {
	le, ok := s.links[it.task.Link]
	return ok && le.Scheduled && le.gen == it.gen
}

// popDue removes the next due task; stale tasks are dropped on the way.
func (s *Scheduler) popDueLocked(now time.Time) (*item, bool) {
	for len(s.queue) > 0 {
		it := s.queue[0]
		if !s.liveLocked(it) {
			heap.Pop(&s.queue)
			continue
		}
		if it.due.After(now) {
			return nil, false
		}
		heap.Pop(&s.queue)
		return it, true
	}
	return nil, false
}

// RunDue runs every task due at the current clock time and returns how
// many ran.
func (s *Scheduler) RunDue() int {
	n := 0
	for s.runOne() {
		n++
	}
	return n
}

func (s *Scheduler) runOne() bool {
	s.device.Lock()
	defer s.device.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	it, ok := s.popDueLocked(now)
	if !ok {
		return false
	}
	le := s.links[it.task.Link]
	le.Scheduled = false

	switch it.task.Kind {
	case LinkStateCheck:
		s.stateCheckLocked(le)
	case LinkErrorCheck:
		s.errorCheckLocked(le, now)
	}
	return true
}

func (s *Scheduler) stateCheckLocked(le *LinkError) {
	if st := s.trainer.LinkState(le.Link); st == nvswitch.LinkStateHighSpeed {
		log.Logger.Infow("link trained to high speed, discarding deferred errors", "link", le.Link)
		le.clear()
		metrics.RecordDeferred(metrics.OutcomeDiscarded)
		return
	}
	s.scheduleLocked(le, LinkErrorCheck, s.cfg.Debounce)
}

func (s *Scheduler) errorCheckLocked(le *LinkError, now time.Time) {
	retrained := !le.LastRetrainTime.IsZero()
	switch {
	case retrained && !le.LastLinkUpTime.Before(le.LastRetrainTime):
		log.Logger.Infow("link came up after retrain, discarding deferred errors", "link", le.Link)
		le.clear()
		metrics.RecordDeferred(metrics.OutcomeDiscarded)

	case retrained &&
		now.Sub(le.LastRetrainTime) < s.cfg.GraceWindow &&
		now.Before(le.FirstErrorTime.Add(s.cfg.GraceWindow)):
		log.Logger.Debugw("link still retraining, re-arming deferred error check", "link", le.Link)
		s.scheduleLocked(le, LinkErrorCheck, s.cfg.Debounce)
		metrics.RecordDeferred(metrics.OutcomeRearmed)

	default:
		s.emitLocked(le, now)
		le.clear()
		metrics.RecordDeferred(metrics.OutcomeEmitted)
	}
}

func (s *Scheduler) emitLocked(le *LinkError, now time.Time) {
	fatal := false
	for _, tb := range le.trees {
		pending := tb.bits
		for pending != 0 {
			bit := uint(bits.TrailingZeros32(pending))
			pending &^= 1 << bit

			e, ok := tb.tree.Lookup(bit)
			if !ok {
				continue
			}
			fatal = fatal || tb.tree.Severity == nvswitch.Fatal
			s.report(nvswitch.ErrorEvent{
				Kind:     e.ID,
				Name:     e.Name,
				Block:    tb.tree.Block,
				Severity: tb.tree.Severity,
				LinkID:   le.Link,
				Instance: le.Link,
				Count:    1,
				Time:     now,
			})
		}
	}
	if m := le.Minion; m != nil {
		fatal = fatal || m.Severity == nvswitch.Fatal
		s.report(nvswitch.ErrorEvent{
			Kind:     m.ID,
			Name:     m.Name,
			Block:    nvswitch.BlockMINION,
			Severity: m.Severity,
			LinkID:   le.Link,
			Instance: le.NVLIPT,
			Count:    1,
			Data:     []uint32{m.Raw},
			Time:     now,
		})
	}
	if fatal && s.markFatal != nil {
		s.markFatal(le.Link)
	}
}

func (s *Scheduler) report(ev nvswitch.ErrorEvent) {
	msg := fmt.Sprintf("Link %d %s %s", ev.LinkID, ev.Block, ev.Name)
	if ev.Severity == nvswitch.Fatal {
		s.sink.LogFatal(ev.Kind, msg, false)
	} else {
		s.sink.LogNonFatal(ev.Kind, msg)
	}
	s.sink.LogErrorEvent(ev)
}

// Run consumes the queue until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		s.RunDue()

		var timerC <-chan time.Time
		var timer clock.Timer
		if d, ok := s.nextDelay(); ok {
			timer = s.clk.NewTimer(d)
			timerC = timer.C()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (s *Scheduler) nextDelay() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) > 0 && !s.liveLocked(s.queue[0]) {
		heap.Pop(&s.queue)
	}
	if len(s.queue) == 0 {
		return 0, false
	}
	d := s.queue[0].due.Sub(s.clk.Now())
	if d < 0 {
		d = 0
	}
	return d, true
}
