package fault

import (
	"fmt"
	"math/bits"
	"time"

	"github.com/leptonai/nvswitchd/pkg/log"
	"github.com/leptonai/nvswitchd/pkg/metrics"
	"github.com/leptonai/nvswitchd/pkg/nvswitch"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/regbank"
)

// MaskTable returns the cached severity mask of a tree.
type MaskTable interface {
	Mask(t *Tree) uint32
}

// Deferrer accepts bits whose reporting waits for link retraining to settle.
type Deferrer interface {
	Defer(link int, t *Tree, bits uint32)
}

// Recoverer takes over a link after a link training fault was serviced.
type Recoverer interface {
	Recover(link *nvswitch.Link, t *Tree, instance int, e Entry)
}

// Report is the outcome of servicing one tree.
type Report struct {
	Result nvswitch.Result

	Effective uint32
	Unhandled uint32
	// Suppressed counts limit bits dropped in favor of their paired DBE.
	Suppressed int
	Deferred   int
	Events     int

	// Fatal is set when at least one fatal event was reported.
	Fatal bool

	// Narrowed is the report enable written back under containment.
	Narrowed *uint32

	Err error
}

// Pass carries the collaborators of one servicing pass. It borrows the
// device for the duration of the pass only.
type Pass struct {
	Bank  regbank.Bank
	Masks MaskTable
	Sink  nvswitch.Sink

	// Offload is optional; nil means direct register writes.
	Offload nvswitch.Offload
	// Deferrer and Recoverer are optional; without a deferrer deferred
	// entries are reported immediately.
	Deferrer  Deferrer
	Recoverer Recoverer

	// DisableLeaf is the coarse containment used when the offload engine
	// rejects a narrowing request.
	DisableLeaf func(t *Tree, instance int)

	Now func() time.Time

	// seen accumulates the raw pending bits of every status register read
	// during this pass, so a limit bit is dropped even when its DBE was
	// serviced by an earlier tree sharing the register.
	seen map[regbank.Addr]uint32
}

func (p *Pass) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

// Service runs the block handler algorithm on one tree of one instance.
// link is nil for trees that are not link scoped.
//
// No register is written when nothing is pending.
func (p *Pass) Service(t *Tree, instance int, link *nvswitch.Link) Report {
	linkID := nvswitch.NoLink
	if link != nil {
		linkID = link.ID
	}
	if t.LinkScoped && !link.Serviceable(t.Clock) {
		return Report{Result: nvswitch.NotFound}
	}

	rec, err := readStatus(p.Bank, t, instance, p.Masks.Mask(t))
	if err != nil {
		log.Logger.Warnw("failed to read interrupt status", "tree", t.ID(), "instance", instance, "error", err)
		return Report{Result: nvswitch.NotFound, Err: err}
	}
	p.remember(t, instance, rec.RawPending)
	if rec.Effective == 0 {
		return Report{Result: nvswitch.NotFound}
	}
	pendingInPass := p.seen[t.Addr(instance, t.Regs.Status)]

	if err := readContext(p.Bank, t, instance, &rec); err != nil {
		log.Logger.Warnw("failed to capture interrupt context", "tree", t.ID(), "instance", instance, "error", err)
		return Report{Result: nvswitch.NotFound, Effective: rec.Effective, Err: err}
	}

	rep := Report{Effective: rec.Effective}
	unhandled := rec.Effective
	var counters []Entry
	var recovery []Entry

	for _, e := range t.Entries {
		if rec.Effective&e.mask() == 0 {
			continue
		}
		unhandled &^= e.mask()
		if e.Counter != NoReg {
			counters = append(counters, e)
		}

		if dbe, ok := e.PairedDBE(); ok && pendingInPass&(1<<dbe) != 0 {
			rep.Suppressed++
			log.Logger.Debugw("limit error superseded by DBE", "tree", t.ID(), "bit", e.Name, "link", linkID)
			continue
		}

		switch e.Action {
		case ActionDefer:
			if p.Deferrer != nil {
				p.Deferrer.Defer(linkID, t, e.mask())
				rep.Deferred++
				continue
			}
		case ActionRecover:
			recovery = append(recovery, e)
			continue
		}
		p.report(t, e, &rec, instance, linkID, &rep)
	}

	// link training faults go last, register state is wiped by the reset
	for _, e := range recovery {
		p.report(t, e, &rec, instance, linkID, &rep)
	}

	if (t.AlwaysContain && t.Severity == nvswitch.Fatal) || link.StormSuppressed() {
		p.contain(t, instance, linkID, &rec, &rep)
	}

	p.acknowledge(t, instance, linkID, &rec, counters, &rep)

	if p.Recoverer != nil {
		for _, e := range recovery {
			p.Recoverer.Recover(link, t, instance, e)
		}
	}

	rep.Unhandled = unhandled
	if unhandled != 0 {
		log.Logger.Errorw("unhandled interrupt bits",
			"tree", t.ID(),
			"instance", instance,
			"link", linkID,
			"unhandled", fmt.Sprintf("0x%08x", unhandled),
			"bits", bits.OnesCount32(unhandled),
		)
		rep.Result = nvswitch.UnhandledBitsRemain
	} else {
		rep.Result = nvswitch.Handled
	}
	return rep
}

func (p *Pass) remember(t *Tree, instance int, pending uint32) {
	if p.seen == nil {
		p.seen = make(map[regbank.Addr]uint32)
	}
	p.seen[t.Addr(instance, t.Regs.Status)] |= pending
}

func (p *Pass) report(t *Tree, e Entry, rec *Record, instance int, linkID int, rep *Report) {
	ev := nvswitch.ErrorEvent{
		Kind:          e.ID,
		Name:          e.Name,
		Block:         t.Block,
		Severity:      t.Severity,
		LinkID:        linkID,
		Instance:      instance,
		Uncorrectable: e.Uncorrectable,
		Count:         1,
		Data:          rec.data(e.Snapshot),
		Time:          p.now(),
	}
	if e.Snapshot&DiagAddress != 0 && rec.AddressValid {
		addr := rec.Address
		ev.Address = &addr
	}

	msg := fmt.Sprintf("%s %s", t.Block, e.Name)
	if linkID != nvswitch.NoLink {
		msg = fmt.Sprintf("Link %d %s", linkID, msg)
	}
	if rec.RawFirst&e.mask() != 0 {
		msg += " (First)"
	}

	if t.Severity == nvswitch.Fatal {
		p.Sink.LogFatal(e.ID, msg, rec.RawContain&e.mask() != 0)
		rep.Fatal = true
	} else {
		p.Sink.LogNonFatal(e.ID, msg)
	}
	p.Sink.LogErrorEvent(ev)
	rep.Events++
}

// contain narrows the report enable to drop exactly the bits just seen.
// The written mask is never wider than the one read.
func (p *Pass) contain(t *Tree, instance int, linkID int, rec *Record, rep *Report) {
	if t.Regs.Enable == NoReg {
		return
	}
	narrowed := rec.RawEnable &^ rec.Effective
	if narrowed == rec.RawEnable {
		return
	}
	rep.Narrowed = &narrowed

	if p.Offload != nil && t.LinkScoped {
		err := p.Offload.NarrowReportEnable(t.Block, t.Severity, linkID, narrowed)
		if err == nil {
			metrics.RecordContainment(t.Block.String(), metrics.PathOffload)
			return
		}
		log.Logger.Warnw("offload failed to narrow report enable, disabling leaf", "tree", t.ID(), "link", linkID, "error", err)
		if p.DisableLeaf != nil {
			p.DisableLeaf(t, instance)
			metrics.RecordContainment(t.Block.String(), metrics.PathLeaf)
		}
		return
	}
	p.write(t, instance, t.Regs.Enable, narrowed, rep)
	metrics.RecordContainment(t.Block.String(), metrics.PathDirect)
}

// acknowledge clears the first latch before the status register, then
// resets correctable counters of the serviced limit bits.
func (p *Pass) acknowledge(t *Tree, instance int, linkID int, rec *Record, counters []Entry, rep *Report) {
	if t.Regs.First != NoReg {
		p.write(t, instance, t.Regs.First, rec.RawFirst&rec.SeverityMask, rep)
	}
	if t.Regs.AckCmd != NoReg {
		p.write(t, instance, t.Regs.AckCmd, t.Regs.AckValue, rep)
	} else {
		p.write(t, instance, t.Regs.Status, rec.Effective, rep)
	}

	if len(counters) > 0 && p.Offload != nil && t.LinkScoped {
		err := p.Offload.ClearCounter(t.Block, linkID)
		if err == nil {
			counters = nil
		} else {
			log.Logger.Warnw("offload failed to clear counters, writing directly", "tree", t.ID(), "link", linkID, "error", err)
		}
	}
	for _, e := range counters {
		p.write(t, instance, e.Counter, 0, rep)
	}

	if t.QuirkBroadClear {
		p.write(t, instance, t.Regs.Status, ^uint32(0), rep)
	}
}

func (p *Pass) write(t *Tree, instance int, offset uint32, v uint32, rep *Report) {
	a := t.Addr(instance, offset)
	if err := p.Bank.Write32(a, v); err != nil {
		log.Logger.Warnw("failed to write interrupt register", "tree", t.ID(), "addr", a.String(), "error", err)
		if rep.Err == nil {
			rep.Err = err
		}
	}
}
