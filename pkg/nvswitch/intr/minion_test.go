package intr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leptonai/nvswitchd/pkg/nvswitch"
)

func TestMinionBadInitHealedByLinkUp(t *testing.T) {
	env := newTestEnv(t)
	env.trainer.state = nvswitch.LinkStateTraining
	require.NoError(t, RaiseMinionLink(env.sim, testTopology, 5, MinionCodeBADINIT))

	assert.Equal(t, nvswitch.Handled, service(t, env))
	assert.Empty(t, env.sink.events, "minion link faults are never reported inline")
	assert.Equal(t, 1, env.dev.Scheduler().Len())

	// state qualifier and summary bit are cleared
	assert.Zero(t, env.sim.Get(minionAddr(1, minionLinkReg(1)))&minionLinkState)
	assert.Zero(t, env.sim.Get(minionAddr(1, regMinionIntr)))

	env.clk.Step(testDeferred.StateCheckDelay / 2)
	require.NoError(t, env.dev.LinkStateChanged(5, nvswitch.LinkStateHighSpeed))

	env.clk.Step(testDeferred.GraceWindow)
	env.dev.Scheduler().RunDue()
	assert.Empty(t, env.sink.events)
	assert.Zero(t, env.dev.Scheduler().Len())
}

func TestMinionBadInitEmittedWhenLinkStaysDown(t *testing.T) {
	env := newTestEnv(t)
	env.trainer.state = nvswitch.LinkStateSafe
	require.NoError(t, RaiseMinionLink(env.sim, testTopology, 5, MinionCodeBADINIT))
	service(t, env)

	env.clk.Step(testDeferred.StateCheckDelay)
	assert.Equal(t, 1, env.dev.Scheduler().RunDue())
	assert.Empty(t, env.sink.events)

	env.clk.Step(testDeferred.Debounce)
	assert.Equal(t, 1, env.dev.Scheduler().RunDue())
	require.Len(t, env.sink.events, 1)
	ev := env.sink.events[0]
	assert.Equal(t, 22020, ev.Kind)
	assert.Equal(t, nvswitch.Fatal, ev.Severity)
	assert.Equal(t, 5, ev.LinkID)
	assert.Equal(t, 1, ev.Instance)
	assert.Equal(t, []uint32{minionLinkState | MinionCodeBADINIT}, ev.Data)

	l, ok := env.dev.Link(5)
	require.True(t, ok)
	assert.True(t, l.FatalErrorOccurred, "a deferred fatal error marks the link")

	// storm suppression is in effect for the link from now on
	enable := routeNonFatal.Addr(5, routeNonFatal.Regs.Enable)
	require.NoError(t, Raise(env.sim, testTopology, routeNonFatal, 5, 1<<1))
	service(t, env)
	assert.Equal(t, routeNonFatal.Bits()&^(1<<1), env.sim.Get(enable))
}

func TestMinionNonFatalCodeLeavesLinkUnmarked(t *testing.T) {
	env := newTestEnv(t)
	env.trainer.state = nvswitch.LinkStateSafe
	require.NoError(t, RaiseMinionLink(env.sim, testTopology, 3, MinionCodeDLREQ))
	service(t, env)

	env.clk.Step(testDeferred.StateCheckDelay)
	env.dev.Scheduler().RunDue()
	env.clk.Step(testDeferred.Debounce)
	env.dev.Scheduler().RunDue()
	require.Len(t, env.sink.events, 1)
	assert.Equal(t, nvswitch.NonFatal, env.sink.events[0].Severity)

	l, ok := env.dev.Link(3)
	require.True(t, ok)
	assert.False(t, l.FatalErrorOccurred)
}

func TestMinionHighSpeedAtStateCheckDiscards(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, RaiseMinionLink(env.sim, testTopology, 0, MinionCodeDLREQ))
	service(t, env)

	env.clk.Step(testDeferred.StateCheckDelay)
	assert.Equal(t, 1, env.dev.Scheduler().RunDue())
	assert.Zero(t, env.dev.Scheduler().Len())
	assert.Empty(t, env.sink.events)
}

func TestMinionInformationalCodes(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, RaiseMinionLink(env.sim, testTopology, 4, MinionCodeInbandBufferAvail))
	require.NoError(t, RaiseMinionLink(env.sim, testTopology, 7, MinionCodeNOTIFY))

	assert.Equal(t, nvswitch.Handled, service(t, env))
	assert.Equal(t, []notification{{kind: nvswitch.NotifyInbandData, link: 4}}, env.notifier.sent)
	assert.Zero(t, env.dev.Scheduler().Len())
	assert.Empty(t, env.sink.events)
}

func TestMinionUnknownCode(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, RaiseMinionLink(env.sim, testTopology, 2, 0x7f))

	assert.Equal(t, nvswitch.MoreProcessingRequired, service(t, env))
	assert.Contains(t, env.sink.nonFatalIDs(), unhandledInterruptID)
	assert.Zero(t, env.sim.Get(minionAddr(0, minionLinkReg(2)))&minionLinkState)
}

func TestMinionWithoutStateQualifierIgnored(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, RaiseMinionLink(env.sim, testTopology, 1, MinionCodeBADINIT))
	env.sim.Set(minionAddr(0, minionLinkReg(1)), MinionCodeBADINIT)

	assert.Equal(t, nvswitch.NotFound, service(t, env))
	assert.Zero(t, env.dev.Scheduler().Len())
	assert.Zero(t, env.sim.Get(minionAddr(0, regMinionIntr)))
}

func TestMinionLinkInResetSkipped(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.dev.UpdateLink(6, func(l *nvswitch.Link) { l.InReset = true }))
	require.NoError(t, RaiseMinionLink(env.sim, testTopology, 6, MinionCodeBADINIT))

	service(t, env)
	assert.Zero(t, env.dev.Scheduler().Len())
	assert.Empty(t, env.sim.WritesTo(minionAddr(1, minionLinkReg(2))), "link register is not touched")
	assert.Equal(t, uint32(minionLinkState|MinionCodeBADINIT), env.sim.Get(minionAddr(1, minionLinkReg(2))))
}

func TestMinionFalconError(t *testing.T) {
	env := newTestEnv(t)
	env.sim.Set(minionAddr(1, regMinionExtStat), 1)
	env.sim.Set(minionAddr(1, regMinionExtAddr), 0x1234)
	require.NoError(t, Raise(env.sim, testTopology, minionFatal, 1, 1<<1))

	assert.Equal(t, nvswitch.Handled, service(t, env))
	require.Len(t, env.sink.events, 1)
	ev := env.sink.events[0]
	assert.Equal(t, 22011, ev.Kind)
	assert.Equal(t, nvswitch.NoLink, ev.LinkID)
	require.NotNil(t, ev.Address)
	assert.Equal(t, uint32(0x1234), *ev.Address)
	assert.Equal(t, []uint32{1 << 1}, env.sim.WritesTo(minionAddr(1, regMinionIntr)))
}

func TestParseMinionCode(t *testing.T) {
	code, ok := ParseMinionCode("BADINIT")
	require.True(t, ok)
	assert.Equal(t, uint32(MinionCodeBADINIT), code)

	_, ok = ParseMinionCode("UNKNOWN(0x7f)")
	assert.False(t, ok)
}
