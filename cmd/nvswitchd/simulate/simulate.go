// Package simulate implements the "simulate" command: faults are raised
// on a simulated register bank and serviced by the interrupt engine.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leptonai/nvswitchd/pkg/config"
	"github.com/leptonai/nvswitchd/pkg/eventstore"
	faultinjector "github.com/leptonai/nvswitchd/pkg/fault-injector"
	"github.com/leptonai/nvswitchd/pkg/log"
	"github.com/leptonai/nvswitchd/pkg/metrics"
	"github.com/leptonai/nvswitchd/pkg/nvswitch"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/intr"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/sink"
	"github.com/leptonai/nvswitchd/pkg/sqlite"
)

// DefaultSettle covers one debounce and one link state check at the
// default delays.
const DefaultSettle = 500 * time.Millisecond

var ErrNoFault = errors.New("no fault to inject (set --fault)")

// Params are the inputs of one simulation.
type Params struct {
	Faults []string
	Settle time.Duration

	DownLinks     []int
	ExternalLinks []int

	// Registry, when set, is scraped into the report after the run.
	// State database queries are reported when it also carries the
	// sqlite counters.
	Registry *prometheus.Registry
}

// Notification is a client notification raised during the simulation.
type Notification struct {
	Kind string `json:"kind"`
	Link int    `json:"link"`
}

// Reset is a link reset requested from the trainer.
type Reset struct {
	LinkMask  string `json:"link_mask"`
	Immediate bool   `json:"immediate"`
}

// Report is the outcome of a simulation.
type Report struct {
	Result        string                `json:"result"`
	Events        []nvswitch.ErrorEvent `json:"events"`
	Notifications []Notification        `json:"notifications,omitempty"`
	Resets        []Reset               `json:"resets,omitempty"`
	FatalLinks    []int                 `json:"fatal_links,omitempty"`
	Pending       int                   `json:"pending"`
	Dropped       uint64                `json:"dropped"`
	Metrics       metrics.Metrics       `json:"metrics,omitempty"`
	StateDB       *StateDBReport        `json:"state_db,omitempty"`
}

// StateDBReport is the state database load of one simulation.
type StateDBReport struct {
	Queries sqlite.Stats `json:"queries"`
	Rates   sqlite.Rates `json:"rates"`
}

// Run injects the faults, services one interrupt pass and runs the
// deferred scheduler for the settle time. The events are read back
// from the bucket so the report reflects what was persisted.
func Run(ctx context.Context, cfg *config.Config, bucket eventstore.Bucket, p Params) (*Report, error) {
	if len(p.Faults) == 0 {
		return nil, ErrNoFault
	}
	reqs := make([]*faultinjector.Request, 0, len(p.Faults))
	for _, spec := range p.Faults {
		req, err := faultinjector.ParseSpec(spec)
		if err != nil {
			return nil, err
		}
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("fault %q: %w", spec, err)
		}
		reqs = append(reqs, req)
	}

	var dbBefore sqlite.Stats
	if p.Registry != nil {
		var err error
		if dbBefore, err = sqlite.ReadStats(p.Registry); err != nil {
			return nil, err
		}
	}

	topo := cfg.IntrTopology()
	sim := intr.NewSimBank(topo)

	s, err := sink.New(
		sink.WithDeviceID(cfg.Device),
		sink.WithBucket(bucket),
		sink.WithQueueSize(cfg.SinkQueueSize),
	)
	if err != nil {
		return nil, err
	}
	s.Start()
	defer s.Close()

	trainer := newSimTrainer(p.DownLinks, p.ExternalLinks)
	notifier := &recordingNotifier{}

	opts := []intr.OpOption{
		intr.WithTopology(topo),
		intr.WithSink(s),
		intr.WithNotifier(notifier),
		intr.WithTrainer(trainer),
		intr.WithDeferredConfig(cfg.DeferredConfig()),
	}
	if cfg.Offload {
		opts = append(opts, intr.WithOffload(intr.NewBankOffload(sim, topo)))
	}
	for id, bits := range cfg.ExtraMasks {
		opts = append(opts, intr.WithExtraMask(id, bits))
	}

	dev, err := intr.New(sim, opts...)
	if err != nil {
		return nil, err
	}
	if err := dev.Init(ctx); err != nil {
		return nil, err
	}

	since := time.Now().Add(-time.Second)
	for i, req := range reqs {
		if err := req.Inject(sim, topo); err != nil {
			return nil, fmt.Errorf("fault %q: %w", p.Faults[i], err)
		}
	}

	res, err := dev.Service(ctx)
	if err != nil {
		return nil, err
	}
	log.Logger.Infow("serviced interrupt pass", "result", res, "pending", dev.Scheduler().Len())

	if p.Settle > 0 && dev.Scheduler().Len() > 0 {
		settleCtx, cancel := context.WithTimeout(ctx, p.Settle)
		dev.Scheduler().Run(settleCtx)
		cancel()
	}

	flushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = s.Flush(flushCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to flush sink: %w", err)
	}

	evs, err := bucket.Get(ctx, since)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		Result:        res.String(),
		Events:        evs.ErrorEvents(),
		Notifications: notifier.list(),
		Resets:        trainer.list(),
		Pending:       dev.Scheduler().Len(),
		Dropped:       s.Dropped(),
	}
	if p.Registry != nil {
		rep.Metrics, err = metrics.Scrape(p.Registry)
		if err != nil {
			return nil, err
		}
		dbAfter, err := sqlite.ReadStats(p.Registry)
		if err != nil {
			return nil, err
		}
		if q := dbAfter.Sub(dbBefore); !q.IsZero() {
			rep.StateDB = &StateDBReport{Queries: q, Rates: dbAfter.RatesSince(dbBefore)}
		}
	}
	for id := 0; id < topo.Links; id++ {
		if l, ok := dev.Link(id); ok && l.FatalErrorOccurred {
			rep.FatalLinks = append(rep.FatalLinks, id)
		}
	}
	return rep, nil
}

// simTrainer reports the configured links in safe mode and all others
// in high speed.
type simTrainer struct {
	mu       sync.Mutex
	down     map[int]bool
	external map[int]bool
	resets   []Reset
}

func newSimTrainer(down, external []int) *simTrainer {
	t := &simTrainer{down: make(map[int]bool), external: make(map[int]bool)}
	for _, l := range down {
		t.down[l] = true
	}
	for _, l := range external {
		t.external[l] = true
	}
	return t
}

func (t *simTrainer) ResetAndDrain(mask uint64, immediate bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resets = append(t.resets, Reset{LinkMask: fmt.Sprintf("%#x", mask), Immediate: immediate})
	log.Logger.Infow("reset and drain", "mask", fmt.Sprintf("%#x", mask), "immediate", immediate)
	return nil
}

func (t *simTrainer) IsLinkManagedExternally(link int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.external[link]
}

func (t *simTrainer) LinkState(link int) nvswitch.LinkState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.down[link] {
		return nvswitch.LinkStateSafe
	}
	return nvswitch.LinkStateHighSpeed
}

func (t *simTrainer) list() []Reset {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Reset(nil), t.resets...)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Notify(kind nvswitch.NotifyKind, link int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Notification{Kind: kind.String(), Link: link})
	log.Logger.Infow("client notification", "kind", kind.String(), "link", link)
}

func (n *recordingNotifier) list() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}
