package intr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leptonai/nvswitchd/pkg/nvswitch"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/regbank"
)

func TestBankOffloadNarrowsSingleTree(t *testing.T) {
	off := &BankOffload{topo: testTopology}
	env := newTestEnv(t, WithOffload(off))
	off.bank = env.sim

	require.NoError(t, env.dev.UpdateLink(5, func(l *nvswitch.Link) { l.FatalErrorOccurred = true }))
	require.NoError(t, Raise(env.sim, testTopology, routeNonFatal, 5, 1<<1))
	service(t, env)

	assert.Equal(t, []int{15002}, env.sink.kinds())
	assert.Equal(t, routeNonFatal.Bits()&^(1<<1), env.sim.Get(routeNonFatal.Addr(5, routeNonFatal.Regs.Enable)))
	assert.Equal(t, uint32(0x3), env.sim.Get(topAddr(leafEnableReg(CategoryNPGNonFatal))))
	assert.Equal(t, 1, off.Requests())
}

func TestBankOffloadRejectsAmbiguousBlock(t *testing.T) {
	sim := NewSimBank(testTopology)
	off := NewBankOffload(sim, testTopology)

	err := off.NarrowReportEnable(nvswitch.BlockEgress, nvswitch.NonFatal, 1, 0)
	assert.True(t, errors.Is(err, nvswitch.ErrOffloadUnavailable), err)

	err = off.NarrowReportEnable(nvswitch.BlockRoute, nvswitch.NonFatal, testTopology.Links, 0)
	assert.ErrorIs(t, err, nvswitch.ErrOffloadUnavailable)
	assert.ErrorIs(t, off.ClearCounter(nvswitch.BlockRoute, -1), nvswitch.ErrOffloadUnavailable)
	assert.Zero(t, off.Requests())
}

func TestBankOffloadClearsCounters(t *testing.T) {
	sim := NewSimBank(testTopology)
	off := NewBankOffload(sim, testTopology)

	c := ingressNonFatal.Addr(2, counterReg(baseIngress, 0))
	sim.Set(c, 17)
	require.NoError(t, off.ClearCounter(nvswitch.BlockIngress, 2))
	assert.Zero(t, sim.Get(c))
	assert.Equal(t, 1, off.Requests())
}

func TestBankOffloadKeepsCountersOfPendingLimits(t *testing.T) {
	sim := NewSimBank(testTopology)
	off := NewBankOffload(sim, testTopology)

	e0 := egress0NonFatal.Addr(2, counterReg(baseEgress0, 0))
	e1Pending := egress1NonFatal.Addr(2, counterReg(baseEgress1, 0))
	e1Idle := egress1NonFatal.Addr(2, counterReg(baseEgress1, 1))
	for _, a := range []regbank.Addr{e0, e1Pending, e1Idle} {
		sim.Set(a, 9)
	}
	status1 := egress1NonFatal.Addr(2, egress1NonFatal.Regs.Status)
	sim.Set(status1, 1<<0)

	// egress0 was just acknowledged, egress1 is still waiting for service
	require.NoError(t, off.ClearCounter(nvswitch.BlockEgress, 2))
	assert.Zero(t, sim.Get(e0))
	assert.Equal(t, uint32(9), sim.Get(e1Pending))
	assert.Zero(t, sim.Get(e1Idle))

	sim.Set(status1, 0)
	require.NoError(t, off.ClearCounter(nvswitch.BlockEgress, 2))
	assert.Zero(t, sim.Get(e1Pending))
	assert.Equal(t, 2, off.Requests())
}
