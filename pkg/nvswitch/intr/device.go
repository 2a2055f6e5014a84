// Package intr is the interrupt dispatcher of one switch device: it walks
// the top level summary, the per category leaf registers and every block's
// severity trees in a fixed order, and runs the fault engine on each.
package intr

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/utils/clock"

	"github.com/leptonai/nvswitchd/pkg/log"
	"github.com/leptonai/nvswitchd/pkg/nvswitch"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/deferred"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/fault"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/regbank"
)

// Device owns the interrupt state of one switch. All servicing, link state
// changes and deferred tasks run under its lock.
type Device struct {
	mu sync.Mutex

	topo     Topology
	bank     regbank.Bank
	sink     nvswitch.Sink
	notifier nvswitch.Notifier
	offload  nvswitch.Offload
	trainer  nvswitch.LinkTrainer
	clk      clock.Clock

	links []*nvswitch.Link
	masks maskTable
	sched *deferred.Scheduler

	// topEnable is the top enable written by Init and restored by every
	// retrigger.
	topEnable uint32
}

// maskTable is computed once at construction and never written again.
type maskTable map[*fault.Tree]uint32

func (m maskTable) Mask(t *fault.Tree) uint32 { return m[t] }

// New creates a device on bank. Links start valid with all clocks running.
func New(bank regbank.Bank, opts ...OpOption) (*Device, error) {
	op := &Op{}
	if err := op.applyOpts(opts); err != nil {
		return nil, err
	}

	d := &Device{
		topo:     op.topology,
		bank:     bank,
		sink:     op.sink,
		notifier: op.notifier,
		offload:  op.offload,
		trainer:  op.trainer,
		clk:      op.clk,
		masks:    make(maskTable),
	}
	for _, t := range AllTrees() {
		d.masks[t] = t.Bits() | op.extraMasks[t.ID()]
	}
	for i := 0; i < d.topo.Links; i++ {
		d.links = append(d.links, &nvswitch.Link{ID: i, Valid: true, ClocksOn: nvswitch.AllClocks})
	}
	d.sched = deferred.New(op.deferred, &d.mu, d.clk, d.sink, d.trainer, d.markFatalLocked)
	return d, nil
}

// markFatalLocked sets the sticky fatal flag of a link. Called with d.mu
// held, from the interrupt pass and from deferred emission.
func (d *Device) markFatalLocked(link int) {
	if link < 0 || link >= len(d.links) {
		return
	}
	l := d.links[link]
	if l.FatalErrorOccurred {
		return
	}
	l.FatalErrorOccurred = true
	log.Logger.Warnw("link marked fatally errored, report enables narrow from now on", "link", link)
}

// Topology returns the device shape.
func (d *Device) Topology() Topology { return d.topo }

// Scheduler returns the deferred error scheduler of the device.
func (d *Device) Scheduler() *deferred.Scheduler { return d.sched }

// Mask returns the interrupt mask of a tree.
func (d *Device) Mask(t *fault.Tree) uint32 { return d.masks.Mask(t) }

// Link returns a copy of the link state.
func (d *Device) Link(id int) (nvswitch.Link, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id < 0 || id >= len(d.links) {
		return nvswitch.Link{}, false
	}
	return *d.links[id], true
}

// UpdateLink mutates a link under the device lock, e.g. to mark it invalid
// or to gate a clock domain.
func (d *Device) UpdateLink(id int, fn func(l *nvswitch.Link)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id < 0 || id >= len(d.links) {
		return fmt.Errorf("link %d out of range [0, %d)", id, len(d.links))
	}
	fn(d.links[id])
	return nil
}

type enableKey struct {
	engine    regbank.Engine
	partition int
	offset    uint32
}

// Init programs the report enables of every tree, then the leaf and top
// enables. Trees sharing one enable register get the union of their masks.
func (d *Device) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	enables := make(map[enableKey]uint32)
	var order []enableKey
	for _, t := range AllTrees() {
		if t.Regs.Enable == fault.NoReg {
			continue
		}
		k := enableKey{engine: t.Regs.Engine, partition: t.Regs.Partition, offset: t.Regs.Enable}
		if _, ok := enables[k]; !ok {
			order = append(order, k)
		}
		enables[k] |= d.masks[t]
	}
	enables[enableKey{engine: regbank.EngineMINION, offset: regMinionIntrEn}] |= minionLinkBits(d.topo.LinksPerGroup)

	for _, k := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.bank.Broadcast32(k.engine, k.partition, k.offset, enables[k]); err != nil {
			return fmt.Errorf("failed to broadcast %s enable 0x%04x: %w", k.engine, k.offset, err)
		}
	}

	var top uint32
	for _, c := range Categories() {
		leaf := d.leafEnable(c)
		if err := d.bank.Write32(topAddr(leafEnableReg(c)), leaf); err != nil {
			return fmt.Errorf("failed to write %s leaf enable: %w", c, err)
		}
		if leaf != 0 {
			top |= 1 << c
		}
	}
	if err := d.bank.Write32(topAddr(regTopEnable), top); err != nil {
		return fmt.Errorf("failed to write top enable: %w", err)
	}
	d.topEnable = top

	log.Logger.Infow("interrupts initialized",
		"links", d.topo.Links,
		"groups", d.topo.Groups(),
		"tiles", d.topo.Tiles,
		"pri_partitions", d.topo.PRIPartitions(),
		"top_enable", fmt.Sprintf("0x%08x", top),
	)
	return nil
}

// leafEnable is the instance set of a category. No correctable trees are
// shipped, so the correctable leaves stay disabled.
func (d *Device) leafEnable(c Category) uint32 {
	switch c {
	case CategoryNPGFatal, CategoryNPGNonFatal, CategoryNVLWFatal, CategoryNVLWNonFatal:
		return lowBits(d.topo.Groups())
	case CategoryNXBARFatal:
		return lowBits(d.topo.Tiles)
	case CategoryUnits:
		return unitsPRI
	default:
		return 0
	}
}

func lowBits(n int) uint32 {
	if n >= 32 {
		return ^uint32(0)
	}
	return 1<<uint(n) - 1
}

func minionLinkBits(linksPerGroup int) uint32 {
	return lowBits(linksPerGroup) << minionLinkShift
}

// leafOf returns the leaf category and bit that gate a tree's instance.
func (topo Topology) leafOf(t *fault.Tree, instance int) (Category, uint32, bool) {
	switch t.Regs.Engine {
	case regbank.EngineNPORT:
		g, _ := topo.GroupOf(instance)
		return byLeafSeverity(CategoryNPGFatal, t.Severity), 1 << uint(g), true
	case regbank.EngineNVLDL, regbank.EngineNVLTLC, regbank.EngineNVLIPT:
		g, _ := topo.GroupOf(instance)
		return byLeafSeverity(CategoryNVLWFatal, t.Severity), 1 << uint(g), true
	case regbank.EngineMINION:
		return byLeafSeverity(CategoryNVLWFatal, t.Severity), 1 << uint(instance), true
	case regbank.EngineNXBAR:
		return CategoryNXBARFatal, 1 << uint(instance), true
	case regbank.EnginePRI:
		return CategoryUnits, unitsPRI, true
	}
	return 0, 0, false
}

// byLeafSeverity picks the fatal, nonfatal or correctable category of a
// category triple starting at fatal.
func byLeafSeverity(fatal Category, sev nvswitch.Severity) Category {
	return fatal + Category(sev)
}

// disableLeaf is the coarse containment used when the offload engine
// rejects a report enable narrowing: the whole instance is masked at its
// leaf until the link is reset.
func (d *Device) disableLeaf(t *fault.Tree, instance int) {
	c, bit, ok := d.topo.leafOf(t, instance)
	if !ok {
		return
	}
	a := topAddr(leafEnableReg(c))
	v, err := d.bank.Read32(a)
	if err != nil {
		log.Logger.Warnw("failed to read leaf enable", "category", c, "error", err)
		return
	}
	if err := d.bank.Write32(a, v&^bit); err != nil {
		log.Logger.Warnw("failed to disable leaf", "category", c, "tree", t.ID(), "instance", instance, "error", err)
		return
	}
	log.Logger.Warnw("disabled interrupt leaf", "category", c, "tree", t.ID(), "instance", instance)
}

// LinkStateChanged is called by the link state machine. Reaching high speed
// ends a retrain: deferred errors of the link are dropped and the link is
// serviced again. Any other state stamps a retrain.
func (d *Device) LinkStateChanged(link int, state nvswitch.LinkState) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if link < 0 || link >= len(d.links) {
		return fmt.Errorf("link %d out of range [0, %d)", link, len(d.links))
	}
	now := d.clk.Now()
	if state == nvswitch.LinkStateHighSpeed {
		d.sched.LinkUp(link, now)
		d.links[link].InReset = false
		d.notifier.Notify(nvswitch.NotifyPortUp, link)
		log.Logger.Infow("link up", "link", link)
		return nil
	}
	d.sched.MarkRetrain(link, now)
	log.Logger.Debugw("link state changed", "link", link, "state", state)
	return nil
}

// ResetLink clears the sticky fatal mark of a link and restores the report
// enables of its trees. It is the only path that widens a narrowed enable.
func (d *Device) ResetLink(link int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if link < 0 || link >= len(d.links) {
		return fmt.Errorf("link %d out of range [0, %d)", link, len(d.links))
	}
	l := d.links[link]
	l.FatalErrorOccurred = false
	l.InReset = false

	enables := make(map[regbank.Addr]uint32)
	var order []regbank.Addr
	for _, t := range AllTrees() {
		if !t.LinkScoped || t.Regs.Enable == fault.NoReg {
			continue
		}
		a := t.Addr(link, t.Regs.Enable)
		if _, ok := enables[a]; !ok {
			order = append(order, a)
		}
		enables[a] |= d.masks[t]
	}
	for _, a := range order {
		if err := d.bank.Write32(a, enables[a]); err != nil {
			return fmt.Errorf("failed to restore report enable %s: %w", a, err)
		}
	}

	for _, c := range []Category{CategoryNPGFatal, CategoryNPGNonFatal, CategoryNVLWFatal, CategoryNVLWNonFatal} {
		g, _ := d.topo.GroupOf(link)
		a := topAddr(leafEnableReg(c))
		v, err := d.bank.Read32(a)
		if err != nil {
			return fmt.Errorf("failed to read %s leaf enable: %w", c, err)
		}
		if err := d.bank.Write32(a, v|1<<uint(g)); err != nil {
			return fmt.Errorf("failed to restore %s leaf enable: %w", c, err)
		}
	}

	log.Logger.Infow("link reset", "link", link)
	return nil
}

// ServiceLoop services one pass per interrupt assertion and runs the
// deferred scheduler until ctx is done.
func (d *Device) ServiceLoop(ctx context.Context, irq <-chan struct{}) {
	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.sched.Run(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-irq:
			if !ok {
				return
			}
			res, err := d.Service(ctx)
			if err != nil {
				log.Logger.Warnw("interrupt pass failed", "result", res, "error", err)
			}
		}
	}
}
