package intr

import (
	"github.com/leptonai/nvswitchd/pkg/log"
	"github.com/leptonai/nvswitchd/pkg/metrics"
	"github.com/leptonai/nvswitchd/pkg/nvswitch"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/fault"
)

// deferrer hands deferred bits to the scheduler, keyed by the link's group.
type deferrer struct {
	d *Device
}

func (f deferrer) Defer(link int, t *fault.Tree, bits uint32) {
	if link < 0 {
		log.Logger.Errorw("deferred bits on a tree without a link", "tree", t.ID())
		return
	}
	g, _ := f.d.topo.GroupOf(link)
	f.d.sched.Defer(link, g, t, bits)
}

// recoverer is the link recovery controller. It runs with the device lock
// held, after the fault was acknowledged.
type recoverer struct {
	d *Device
}

func (r recoverer) Recover(link *nvswitch.Link, t *fault.Tree, instance int, e fault.Entry) {
	if link == nil {
		return
	}
	d := r.d

	d.notifier.Notify(nvswitch.NotifyPortDown, link.ID)
	log.Logger.Warnw("port down", "link", link.ID, "fault", e.Name, "sxid", e.ID)

	d.disableBit(t, instance, link.ID, 1<<e.Bit)
	d.sched.MarkRetrain(link.ID, d.clk.Now())
	link.InReset = true

	if d.trainer.IsLinkManagedExternally(link.ID) {
		metrics.RecordRecovery(metrics.RecoveryExternal)
		log.Logger.Infow("link retrain managed externally", "link", link.ID)
		return
	}

	err := d.trainer.ResetAndDrain(1<<uint(link.ID), false)
	link.InReset = false
	if err != nil {
		metrics.RecordRecovery(metrics.RecoveryFailed)
		log.Logger.Errorw("failed to reset and drain link", "link", link.ID, "error", err)
		return
	}
	metrics.RecordRecovery(metrics.RecoveryReset)
	log.Logger.Infow("link reset and drained", "link", link.ID)
}

// disableBit clears one bit of a tree's report enable, through the offload
// engine when one is configured.
func (d *Device) disableBit(t *fault.Tree, instance int, link int, bit uint32) {
	if t.Regs.Enable == fault.NoReg {
		return
	}
	a := t.Addr(instance, t.Regs.Enable)
	v, err := d.bank.Read32(a)
	if err != nil {
		log.Logger.Warnw("failed to read report enable", "tree", t.ID(), "link", link, "error", err)
		return
	}
	narrowed := v &^ bit
	if narrowed == v {
		return
	}

	if d.offload != nil && t.LinkScoped {
		err := d.offload.NarrowReportEnable(t.Block, t.Severity, link, narrowed)
		if err == nil {
			return
		}
		log.Logger.Warnw("offload failed to disable report bit, writing directly", "tree", t.ID(), "link", link, "error", err)
	}
	if err := d.bank.Write32(a, narrowed); err != nil {
		log.Logger.Warnw("failed to disable report bit", "tree", t.ID(), "link", link, "error", err)
	}
}
