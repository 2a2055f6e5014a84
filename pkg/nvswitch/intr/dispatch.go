package intr

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/google/uuid"

	"github.com/leptonai/nvswitchd/pkg/log"
	"github.com/leptonai/nvswitchd/pkg/metrics"
	"github.com/leptonai/nvswitchd/pkg/nvswitch"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/fault"
)

// unitsPRI is the UNITS leaf bit of the PRI ring.
const unitsPRI = 1 << 0

// Service runs one interrupt pass: the top summary, then each asserted
// category in order. The interrupt is re-armed whatever the outcome.
// A pass that leaves unhandled bits returns MoreProcessingRequired.
func (d *Device) Service(ctx context.Context) (nvswitch.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	passID := uuid.New().String()
	res, err := d.serviceTop(ctx, d.newPass(), passID)
	d.retrigger(passID)

	if res == nvswitch.UnhandledBitsRemain {
		res = nvswitch.MoreProcessingRequired
	}
	if res == nvswitch.MoreProcessingRequired {
		log.Logger.Errorw("interrupt pass left unhandled bits", "pass", passID)
		d.sink.LogNonFatal(unhandledInterruptID, "Host unhandled interrupt")
	}
	metrics.RecordPass(res.String())
	log.Logger.Debugw("interrupt pass done", "pass", passID, "result", res)
	return res, err
}

func (d *Device) newPass() *fault.Pass {
	return &fault.Pass{
		Bank:        d.bank,
		Masks:       d.masks,
		Sink:        d.sink,
		Offload:     d.offload,
		Deferrer:    deferrer{d: d},
		Recoverer:   recoverer{d: d},
		DisableLeaf: d.disableLeaf,
		Now:         d.clk.Now,
	}
}

func (d *Device) serviceTop(ctx context.Context, p *fault.Pass, passID string) (nvswitch.Result, error) {
	status, err := d.bank.Read32(topAddr(regTopStatus))
	if err != nil {
		return nvswitch.NotFound, fmt.Errorf("failed to read top status: %w", err)
	}
	enable, err := d.bank.Read32(topAddr(regTopEnable))
	if err != nil {
		return nvswitch.NotFound, fmt.Errorf("failed to read top enable: %w", err)
	}
	top := status & enable
	if top == 0 {
		return nvswitch.NotFound, nil
	}

	res := nvswitch.NotFound
	for _, c := range Categories() {
		if top&(1<<c) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res = res.Merge(d.serviceCategory(p, c, passID))
	}

	if unknown := top &^ lowBits(int(numCategories)); unknown != 0 {
		log.Logger.Errorw("unknown top level interrupt", "pass", passID, "bits", fmt.Sprintf("0x%08x", unknown))
		metrics.RecordUnhandled("top", bits.OnesCount32(unknown))
		res = res.Merge(nvswitch.UnhandledBitsRemain)
	}
	return res, nil
}

// serviceCategory reads and immediately clears a leaf, then services each
// asserted instance.
func (d *Device) serviceCategory(p *fault.Pass, c Category, passID string) nvswitch.Result {
	sa := topAddr(leafStatusReg(c))
	status, err := d.bank.Read32(sa)
	if err != nil {
		log.Logger.Warnw("failed to read leaf status", "pass", passID, "category", c, "error", err)
		return nvswitch.NotFound
	}
	enable, err := d.bank.Read32(topAddr(leafEnableReg(c)))
	if err != nil {
		log.Logger.Warnw("failed to read leaf enable", "pass", passID, "category", c, "error", err)
		return nvswitch.NotFound
	}
	leaf := status & enable
	if leaf == 0 {
		return nvswitch.NotFound
	}
	if err := d.bank.Write32(sa, leaf); err != nil {
		log.Logger.Warnw("failed to clear leaf status", "pass", passID, "category", c, "error", err)
	}

	res := nvswitch.NotFound
	for rest := leaf; rest != 0; {
		i := bits.TrailingZeros32(rest)
		rest &^= 1 << uint(i)

		r := d.serviceInstance(p, c, i)
		if r == nvswitch.UnhandledBitsRemain {
			log.Logger.Warnw("instance left unhandled bits", "pass", passID, "category", c, "instance", i)
		}
		res = res.Merge(r)
	}
	return res
}

func (d *Device) serviceInstance(p *fault.Pass, c Category, i int) nvswitch.Result {
	sev := c.severity()

	switch c {
	case CategoryNPGFatal, CategoryNPGNonFatal, CategoryNPGCorrectable:
		if i >= d.topo.Groups() {
			return d.unknownInstance(c, i)
		}
		return d.serviceLinks(p, i, npgTrees, sev)

	case CategoryNVLWFatal, CategoryNVLWNonFatal, CategoryNVLWCorrectable:
		if i >= d.topo.Groups() {
			return d.unknownInstance(c, i)
		}
		res := d.serviceLinks(p, i, nvlwLinkTrees, sev)
		return res.Merge(d.serviceMinion(p, i, sev))

	case CategoryNXBARFatal:
		if i >= d.topo.Tiles {
			return d.unknownInstance(c, i)
		}
		res := nvswitch.NotFound
		for _, t := range crossbarTrees {
			res = res.Merge(d.serviceTree(p, t, i, nil))
		}
		return res

	case CategoryUnits:
		if i != 0 {
			return d.unknownInstance(c, i)
		}
		res := nvswitch.NotFound
		for part := 0; part < d.topo.PRIPartitions(); part++ {
			for _, t := range priTrees {
				res = res.Merge(d.serviceTree(p, t, part, nil))
			}
		}
		return res
	}
	return d.unknownInstance(c, i)
}

func (d *Device) unknownInstance(c Category, i int) nvswitch.Result {
	log.Logger.Errorw("interrupt for unknown instance", "category", c, "instance", i)
	metrics.RecordUnhandled(c.String(), 1)
	return nvswitch.UnhandledBitsRemain
}

// serviceLinks services the trees of one severity on every link of a group.
// A link whose fatal trees reported is marked fatally errored once all its
// trees are done.
func (d *Device) serviceLinks(p *fault.Pass, group int, trees []*fault.Tree, sev nvswitch.Severity) nvswitch.Result {
	res := nvswitch.NotFound
	for _, id := range d.topo.GroupLinks(group) {
		l := d.links[id]
		fatal := false
		for _, t := range trees {
			if t.Severity != sev {
				continue
			}
			rep := p.Service(t, id, l)
			if rep.Unhandled != 0 {
				metrics.RecordUnhandled(t.ID(), bits.OnesCount32(rep.Unhandled))
			}
			fatal = fatal || rep.Fatal
			res = res.Merge(rep.Result)
		}
		if fatal {
			d.markFatalLocked(id)
		}
	}
	return res
}

func (d *Device) serviceTree(p *fault.Pass, t *fault.Tree, instance int, link *nvswitch.Link) nvswitch.Result {
	rep := p.Service(t, instance, link)
	if rep.Unhandled != 0 {
		metrics.RecordUnhandled(t.ID(), bits.OnesCount32(rep.Unhandled))
	}
	return rep.Result
}

// retrigger pulses every engine class so interrupts raised during the pass
// are not lost, then toggles the top enable to re-arm the line.
func (d *Device) retrigger(passID string) {
	for c := engineClass(0); c < numEngineClasses; c++ {
		if err := d.bank.Write32(topAddr(retriggerReg(c)), retriggerPulse); err != nil {
			log.Logger.Warnw("failed to retrigger", "pass", passID, "class", c, "error", err)
		}
	}
	if err := d.bank.Write32(topAddr(regTopEnable), 0); err != nil {
		log.Logger.Warnw("failed to disable top enable", "pass", passID, "error", err)
	}
	if err := d.bank.Write32(topAddr(regTopEnable), d.topEnable); err != nil {
		log.Logger.Warnw("failed to restore top enable", "pass", passID, "error", err)
	}
}
