package intr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/leptonai/nvswitchd/pkg/nvswitch"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/deferred"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/regbank"
)

var (
	t0 = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

	testTopology = Topology{
		Links:         8,
		LinksPerGroup: 4,
		Tiles:         2,
		PRIHubs:       1,
	}

	testDeferred = deferred.Config{
		Debounce:        100 * time.Millisecond,
		StateCheckDelay: 50 * time.Millisecond,
		GraceWindow:     time.Second,
	}
)

type line struct {
	id        int
	msg       string
	contained bool
}

type recordingSink struct {
	mu       sync.Mutex
	events   []nvswitch.ErrorEvent
	fatal    []line
	nonfatal []line
}

func (s *recordingSink) LogErrorEvent(ev nvswitch.ErrorEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) LogFatal(id int, msg string, contained bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fatal = append(s.fatal, line{id: id, msg: msg, contained: contained})
}

func (s *recordingSink) LogNonFatal(id int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonfatal = append(s.nonfatal, line{id: id, msg: msg})
}

func (s *recordingSink) kinds() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (s *recordingSink) nonFatalIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for _, l := range s.nonfatal {
		out = append(out, l.id)
	}
	return out
}

type notification struct {
	kind nvswitch.NotifyKind
	link int
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Notify(kind nvswitch.NotifyKind, link int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{kind: kind, link: link})
}

type fakeTrainer struct {
	mu       sync.Mutex
	state    nvswitch.LinkState
	external bool
	resetErr error
	resets   []uint64
}

func (t *fakeTrainer) ResetAndDrain(mask uint64, _ bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resets = append(t.resets, mask)
	return t.resetErr
}

func (t *fakeTrainer) IsLinkManagedExternally(int) bool { return t.external }

func (t *fakeTrainer) LinkState(int) nvswitch.LinkState { return t.state }

var errOffloadBusy = errors.New("offload busy")

type failingOffload struct{}

func (failingOffload) ClearCounter(nvswitch.Block, int) error { return errOffloadBusy }

func (failingOffload) NarrowReportEnable(nvswitch.Block, nvswitch.Severity, int, uint32) error {
	return errOffloadBusy
}

type testEnv struct {
	dev      *Device
	sim      *regbank.Sim
	sink     *recordingSink
	notifier *recordingNotifier
	trainer  *fakeTrainer
	clk      *testingclock.FakeClock
}

func newTestEnv(t *testing.T, opts ...OpOption) *testEnv {
	t.Helper()

	env := &testEnv{
		sim:      NewSimBank(testTopology),
		sink:     &recordingSink{},
		notifier: &recordingNotifier{},
		trainer:  &fakeTrainer{state: nvswitch.LinkStateHighSpeed},
		clk:      testingclock.NewFakeClock(t0),
	}
	all := append([]OpOption{
		WithTopology(testTopology),
		WithSink(env.sink),
		WithNotifier(env.notifier),
		WithTrainer(env.trainer),
		WithClock(env.clk),
		WithDeferredConfig(testDeferred),
	}, opts...)

	dev, err := New(env.sim, all...)
	require.NoError(t, err)
	require.NoError(t, dev.Init(context.Background()))
	env.dev = dev
	env.sim.ResetJournal()
	return env
}
