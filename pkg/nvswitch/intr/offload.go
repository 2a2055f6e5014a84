package intr

import (
	"fmt"
	"sync"

	"github.com/leptonai/nvswitchd/pkg/nvswitch"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/fault"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/regbank"
)

var _ nvswitch.Offload = &BankOffload{}

// BankOffload answers offload requests with register writes on a bank,
// standing in for the offload firmware on simulated devices. A block with
// more than one tree of a severity cannot be narrowed from the request
// alone; those requests are rejected and the caller falls back. Counter
// clears cover the whole block but skip counters whose limit bit is
// still pending.
type BankOffload struct {
	bank regbank.Bank
	topo Topology

	mu       sync.Mutex
	requests int
}

func NewBankOffload(bank regbank.Bank, topo Topology) *BankOffload {
	return &BankOffload{bank: bank, topo: topo}
}

// Requests returns the number of requests served.
func (o *BankOffload) Requests() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.requests
}

func (o *BankOffload) ClearCounter(block nvswitch.Block, link int) error {
	if link < 0 || link >= o.topo.Links {
		return fmt.Errorf("%w: link %d", nvswitch.ErrOffloadUnavailable, link)
	}
	for _, t := range treesOf(block, nil) {
		status, err := o.bank.Read32(t.Addr(link, t.Regs.Status))
		if err != nil {
			return err
		}
		for _, e := range t.Entries {
			// a still pending limit bit belongs to a tree not yet acknowledged
			if e.Counter == fault.NoReg || status&(1<<e.Bit) != 0 {
				continue
			}
			if err := o.bank.Write32(t.Addr(link, e.Counter), 0); err != nil {
				return err
			}
		}
	}
	o.served()
	return nil
}

func (o *BankOffload) NarrowReportEnable(block nvswitch.Block, sev nvswitch.Severity, link int, newMask uint32) error {
	if link < 0 || link >= o.topo.Links {
		return fmt.Errorf("%w: link %d", nvswitch.ErrOffloadUnavailable, link)
	}
	ts := treesOf(block, &sev)
	if len(ts) != 1 || ts[0].Regs.Enable == fault.NoReg {
		return fmt.Errorf("%w: %d %s %s trees", nvswitch.ErrOffloadUnavailable, len(ts), block, sev)
	}
	if err := o.bank.Write32(ts[0].Addr(link, ts[0].Regs.Enable), newMask); err != nil {
		return err
	}
	o.served()
	return nil
}

func (o *BankOffload) served() {
	o.mu.Lock()
	o.requests++
	o.mu.Unlock()
}

func treesOf(block nvswitch.Block, sev *nvswitch.Severity) []*fault.Tree {
	var out []*fault.Tree
	for _, t := range AllTrees() {
		if t.Block != block || !t.LinkScoped {
			continue
		}
		if sev != nil && t.Severity != *sev {
			continue
		}
		out = append(out, t)
	}
	return out
}
