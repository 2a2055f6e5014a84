package intr

import (
	"fmt"

	"github.com/leptonai/nvswitchd/pkg/nvswitch/fault"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/regbank"
)

// Raise asserts bits of a tree on a simulated bank the way hardware does:
// the tree status plus the leaf and top summary bits routing to it.
func Raise(s *regbank.Sim, topo Topology, t *fault.Tree, instance int, bits uint32) error {
	c, leafBit, ok := topo.leafOf(t, instance)
	if !ok {
		return fmt.Errorf("tree %s has no interrupt leaf", t.ID())
	}
	s.Assert(t.Addr(instance, t.Regs.Status), bits)
	raiseSummary(s, c, leafBit)
	return nil
}

// RaiseMinionLink latches a MINION link interrupt code on link.
func RaiseMinionLink(s *regbank.Sim, topo Topology, link int, code uint32) error {
	if link < 0 || link >= topo.Links {
		return fmt.Errorf("link %d out of range [0, %d)", link, topo.Links)
	}
	group, local := topo.GroupOf(link)
	s.Set(minionAddr(group, minionLinkReg(local)), minionLinkState|code&minionCodeMask)
	s.Assert(minionAddr(group, regMinionIntr), 1<<uint(minionLinkShift+local))
	raiseSummary(s, CategoryNVLWFatal, 1<<uint(group))
	return nil
}

func raiseSummary(s *regbank.Sim, c Category, leafBit uint32) {
	s.Assert(topAddr(leafStatusReg(c)), leafBit)
	s.Assert(topAddr(regTopStatus), 1<<c)
}
