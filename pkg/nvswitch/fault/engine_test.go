package fault

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leptonai/nvswitchd/pkg/nvswitch"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/regbank"
)

func newPass(s *regbank.Sim, sink *recordingSink) *Pass {
	return &Pass{Bank: s, Masks: tableMasks{}, Sink: sink}
}

func TestServiceNothingPendingWritesNothing(t *testing.T) {
	s := newTestSim()
	enableAll(s, 0)
	sink := &recordingSink{}
	p := newPass(s, sink)

	rep := p.Service(testFatal, 0, newLink(0))
	assert.Equal(t, nvswitch.NotFound, rep.Result)

	// pending but not enabled in this tree
	s.Assert(addr(0, offStatus), 1<<bitCmdDecode)
	rep = p.Service(testFatal, 0, newLink(0))
	assert.Equal(t, nvswitch.NotFound, rep.Result)

	assert.Empty(t, s.Writes())
	assert.Empty(t, sink.events)
}

func TestServiceSingleFatalBit(t *testing.T) {
	s := newTestSim()
	enableAll(s, 2)
	s.Assert(addr(2, offStatus), 1<<bitInvalidVC)
	s.Assert(addr(2, offFirst), 1<<bitInvalidVC)
	s.Set(addr(2, offContain), 1<<bitInvalidVC)
	s.Set(addr(2, offTimestamp), 0x1234)
	s.Set(addr(2, offMisc), 0x55)

	sink := &recordingSink{}
	p := newPass(s, sink)
	rep := p.Service(testFatal, 2, newLink(2))

	assert.Equal(t, nvswitch.Handled, rep.Result)
	assert.True(t, rep.Fatal)
	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, 11009, ev.Kind)
	assert.Equal(t, nvswitch.Fatal, ev.Severity)
	assert.Equal(t, 2, ev.LinkID)
	assert.Equal(t, []uint32{0x1234, 0x55}, ev.Data)
	assert.Nil(t, ev.Address)

	require.Len(t, sink.fatal, 1)
	assert.True(t, sink.fatal[0].contained)
	assert.Contains(t, sink.fatal[0].msg, "Link 2")
	assert.Contains(t, sink.fatal[0].msg, "(First)")

	// first latch is cleared before status, status gets exactly the serviced bit
	ws := s.Writes()
	require.Len(t, ws, 2)
	assert.Equal(t, addr(2, offFirst), ws[0].Addr)
	assert.Equal(t, uint32(1<<bitInvalidVC), ws[0].Value)
	assert.Equal(t, addr(2, offStatus), ws[1].Addr)
	assert.Equal(t, uint32(1<<bitInvalidVC), ws[1].Value)
	assert.Zero(t, s.Get(addr(2, offStatus)))
}

func TestServiceIsIdempotent(t *testing.T) {
	s := newTestSim()
	enableAll(s, 0)
	s.Assert(addr(0, offStatus), 1<<bitInvalidVC|1<<bitHdrDBE)

	sink := &recordingSink{}
	p := newPass(s, sink)
	require.Equal(t, nvswitch.Handled, p.Service(testFatal, 0, newLink(0)).Result)
	require.Len(t, sink.events, 2)

	s.ResetJournal()
	assert.Equal(t, nvswitch.NotFound, p.Service(testFatal, 0, newLink(0)).Result)
	assert.Empty(t, s.Writes())
	assert.Len(t, sink.events, 2)
}

func TestServiceAscendingOrderAndAddress(t *testing.T) {
	s := newTestSim()
	enableAll(s, 0)
	s.Assert(addr(0, offStatus), 1<<bitInvalidVC|1<<bitHdrDBE)
	s.Set(addr(0, offAddrValid), 1)
	s.Set(addr(0, offAddr), 0xbeef)
	s.Set(addr(0, offHeaderValid), 1)
	s.Set(addr(0, offHeader0), 0xa)
	s.Set(addr(0, offHeader1), 0xb)

	sink := &recordingSink{}
	newPass(s, sink).Service(testFatal, 0, newLink(0))

	assert.Equal(t, []int{11009, 11013}, sink.kinds())
	dbe := sink.events[1]
	require.NotNil(t, dbe.Address)
	assert.Equal(t, uint32(0xbeef), *dbe.Address)
	assert.True(t, dbe.Uncorrectable)
	assert.Equal(t, []uint32{0xa, 0xb}, dbe.Data)
}

func TestServiceHeaderInvalidDropsHeaderWords(t *testing.T) {
	s := newTestSim()
	enableAll(s, 0)
	s.Assert(addr(0, offStatus), 1<<bitHdrDBE)
	s.Set(addr(0, offHeader0), 0xa)

	sink := &recordingSink{}
	newPass(s, sink).Service(testFatal, 0, newLink(0))
	require.Len(t, sink.events, 1)
	assert.Empty(t, sink.events[0].Data)
	assert.Nil(t, sink.events[0].Address)
}

func TestServiceEffectiveIsSubsetOfPending(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		s := newTestSim()
		pending, enable, mask := r.Uint32(), r.Uint32(), r.Uint32()
		s.Set(addr(0, offStatus), pending)
		s.Set(addr(0, offFatalEn), enable)

		rec, err := readStatus(s, testFatal, 0, mask)
		require.NoError(t, err)
		assert.Equal(t, pending&enable&mask, rec.Effective)
		assert.Zero(t, rec.Effective&^rec.RawPending)
	}
}

func TestServiceLimitSuppressedByDBEInSameRead(t *testing.T) {
	s := newTestSim()
	enableAll(s, 0)
	s.Assert(addr(0, offStatus), 1<<bitHdrLimit|1<<bitHdrDBE)
	s.Set(addr(0, offCounter), 17)

	sink := &recordingSink{}
	rep := newPass(s, sink).Service(testNonFatal, 0, newLink(0))

	assert.Equal(t, nvswitch.Handled, rep.Result)
	assert.Equal(t, 1, rep.Suppressed)
	assert.Empty(t, sink.events)

	// limit bit still cleared, counter reset after status
	ws := s.Writes()
	require.Len(t, ws, 3)
	assert.Equal(t, addr(0, offStatus), ws[1].Addr)
	assert.Equal(t, uint32(1<<bitHdrLimit), ws[1].Value)
	assert.Equal(t, addr(0, offCounter), ws[2].Addr)
	assert.Zero(t, s.Get(addr(0, offCounter)))
	assert.Equal(t, uint32(1<<bitHdrDBE), s.Get(addr(0, offStatus)))
}

func TestServiceLimitSuppressedByDBEServicedEarlierInPass(t *testing.T) {
	s := newTestSim()
	enableAll(s, 0)
	s.Assert(addr(0, offStatus), 1<<bitHdrLimit|1<<bitHdrDBE)

	sink := &recordingSink{}
	p := newPass(s, sink)
	p.Service(testFatal, 0, newLink(0))
	require.Equal(t, []int{11013}, sink.kinds())
	require.Equal(t, uint32(1<<bitHdrLimit), s.Get(addr(0, offStatus)))

	rep := p.Service(testNonFatal, 0, newLink(0))
	assert.Equal(t, nvswitch.Handled, rep.Result)
	assert.Equal(t, []int{11013}, sink.kinds(), "exactly one event for the DBE")
	assert.Zero(t, s.Get(addr(0, offStatus)))
}

func TestServiceLimitAloneIsReported(t *testing.T) {
	s := newTestSim()
	enableAll(s, 0)
	s.Assert(addr(0, offStatus), 1<<bitHdrLimit)

	sink := &recordingSink{}
	newPass(s, sink).Service(testNonFatal, 0, newLink(0))
	assert.Equal(t, []int{11012}, sink.kinds())
	require.Len(t, sink.nonfatal, 1)
}

func TestServiceUnhandledBits(t *testing.T) {
	s := newTestSim()
	enableAll(s, 0)
	const unknown = 1 << 30
	s.Set(addr(0, offFatalEn), testFatal.Bits()|unknown)
	s.Assert(addr(0, offStatus), unknown|1<<bitInvalidVC)

	sink := &recordingSink{}
	p := &Pass{Bank: s, Masks: tableMasks{extra: map[*Tree]uint32{testFatal: unknown}}, Sink: sink}
	rep := p.Service(testFatal, 0, newLink(0))

	assert.Equal(t, nvswitch.UnhandledBitsRemain, rep.Result)
	assert.Equal(t, uint32(unknown), rep.Unhandled)
	assert.Equal(t, []int{11009}, sink.kinds())
	// unhandled bits are still acknowledged
	assert.Zero(t, s.Get(addr(0, offStatus)))
}

func TestServiceStormSuppressionIsMonotonic(t *testing.T) {
	s := newTestSim()
	enableAll(s, 0)
	link := newLink(0)
	sink := &recordingSink{}

	// first fatal: link not yet marked, enable untouched
	s.Assert(addr(0, offStatus), 1<<bitInvalidVC)
	rep := newPass(s, sink).Service(testFatal, 0, link)
	assert.Nil(t, rep.Narrowed)
	assert.Empty(t, s.WritesTo(addr(0, offFatalEn)))
	link.FatalErrorOccurred = true

	prev := s.Get(addr(0, offFatalEn))
	for _, b := range []uint{bitHdrDBE, bitInvalidVC, bitHdrDBE} {
		s.Assert(addr(0, offStatus), 1<<b)
		newPass(s, sink).Service(testFatal, 0, link)
		cur := s.Get(addr(0, offFatalEn))
		assert.Zero(t, cur&^prev, "report enable must never widen")
		prev = cur
	}
	assert.Zero(t, prev&(1<<bitHdrDBE))

	// nonfatal trees narrow too
	s.Assert(addr(0, offStatus), 1<<bitCmdDecode)
	rep = newPass(s, sink).Service(testNonFatal, 0, link)
	require.NotNil(t, rep.Narrowed)
	assert.Zero(t, s.Get(addr(0, offNonFatalEn))&(1<<bitCmdDecode))
}

func TestServiceContainmentViaOffload(t *testing.T) {
	t.Run("offload accepts", func(t *testing.T) {
		s := newTestSim()
		enableAll(s, 0)
		link := newLink(0)
		link.FatalErrorOccurred = true
		s.Assert(addr(0, offStatus), 1<<bitInvalidVC)

		off := &fakeOffload{}
		disabled := 0
		p := &Pass{Bank: s, Masks: tableMasks{}, Sink: &recordingSink{}, Offload: off,
			DisableLeaf: func(*Tree, int) { disabled++ }}
		p.Service(testFatal, 0, link)

		require.Len(t, off.narrowed, 1)
		assert.Equal(t, testFatal.Bits()&^(1<<bitInvalidVC), off.narrowed[0])
		assert.Empty(t, s.WritesTo(addr(0, offFatalEn)))
		assert.Zero(t, disabled)
	})

	t.Run("offload fails, leaf disabled", func(t *testing.T) {
		s := newTestSim()
		enableAll(s, 0)
		link := newLink(0)
		link.FatalErrorOccurred = true
		s.Assert(addr(0, offStatus), 1<<bitInvalidVC)

		off := &fakeOffload{narrowErr: errOffloadBusy}
		disabled := 0
		p := &Pass{Bank: s, Masks: tableMasks{}, Sink: &recordingSink{}, Offload: off,
			DisableLeaf: func(*Tree, int) { disabled++ }}
		rep := p.Service(testFatal, 0, link)

		assert.Equal(t, nvswitch.Handled, rep.Result)
		assert.Equal(t, 1, disabled)
		assert.Empty(t, s.WritesTo(addr(0, offFatalEn)))
	})
}

func TestServiceCounterClearViaOffload(t *testing.T) {
	s := newTestSim()
	enableAll(s, 0)
	s.Assert(addr(0, offStatus), 1<<bitHdrLimit)
	s.Set(addr(0, offCounter), 9)

	off := &fakeOffload{counterErr: errOffloadBusy}
	p := &Pass{Bank: s, Masks: tableMasks{}, Sink: &recordingSink{}, Offload: off}
	p.Service(testNonFatal, 0, newLink(0))

	assert.Equal(t, 1, off.cleared)
	assert.Equal(t, []uint32{0}, s.WritesTo(addr(0, offCounter)), "falls back to a direct write")
}

func TestServiceDeferredBits(t *testing.T) {
	s := newTestSim()
	enableAll(s, 1)
	s.Assert(addr(1, offStatus), 1<<bitShortError|1<<bitCmdDecode)

	sink := &recordingSink{}
	d := &recordingDeferrer{}
	p := &Pass{Bank: s, Masks: tableMasks{}, Sink: sink, Deferrer: d}
	rep := p.Service(testNonFatal, 1, newLink(1))

	assert.Equal(t, nvswitch.Handled, rep.Result)
	assert.Equal(t, 1, rep.Deferred)
	assert.Equal(t, []int{11001}, sink.kinds())
	require.Len(t, d.calls, 1)
	assert.Equal(t, deferCall{link: 1, tree: "ingress.nonfatal.0", bits: 1 << bitShortError}, d.calls[0])
	assert.Zero(t, s.Get(addr(1, offStatus)))

	// without a deferrer the bit is reported right away
	s.Assert(addr(1, offStatus), 1<<bitShortError)
	sink2 := &recordingSink{}
	newPass(s, sink2).Service(testNonFatal, 1, newLink(1))
	assert.Equal(t, []int{20008}, sink2.kinds())
}

func TestServiceRecoveryBitsGoLast(t *testing.T) {
	s := newTestSim()
	enableAll(s, 0)
	s.Assert(addr(0, offStatus), 1<<bitLTSSMUp|1<<bitInvalidVC|1<<bitHdrDBE)

	sink := &recordingSink{}
	rec := &recordingRecoverer{sim: s}
	p := &Pass{Bank: s, Masks: tableMasks{}, Sink: sink, Recoverer: rec}
	rep := p.Service(testFatal, 0, newLink(0))

	assert.Equal(t, nvswitch.Handled, rep.Result)
	assert.Equal(t, []int{11009, 11013, 20034}, sink.kinds())
	require.Len(t, rec.calls, 1)
	assert.Equal(t, "LTSSM_FAULT_UP", rec.calls[0].entry)
	// recovery starts only after the status acknowledgement
	assert.Equal(t, 2, rec.calls[0].writesBefore)
}

func TestServiceSkipsGatedLinks(t *testing.T) {
	s := newTestSim()
	enableAll(s, 0)
	s.Assert(addr(0, offStatus), 1<<bitInvalidVC)
	sink := &recordingSink{}

	link := newLink(0)
	link.ClocksOn = link.ClocksOn.Without(nvswitch.ClockNPORT)
	assert.Equal(t, nvswitch.NotFound, newPass(s, sink).Service(testFatal, 0, link).Result)

	link = newLink(0)
	link.InReset = true
	assert.Equal(t, nvswitch.NotFound, newPass(s, sink).Service(testFatal, 0, link).Result)

	assert.Empty(t, s.Writes())
	assert.Empty(t, sink.events)
}

func TestServiceRegisterUnavailable(t *testing.T) {
	s := newTestSim()
	enableAll(s, 0)
	s.Assert(addr(0, offStatus), 1<<bitInvalidVC)
	s.SetAvailable(regbank.EngineNPORT, 0, false)

	rep := newPass(s, &recordingSink{}).Service(testFatal, 0, newLink(0))
	assert.Equal(t, nvswitch.NotFound, rep.Result)
	assert.Error(t, rep.Err)
}

func TestServiceQuirkBroadClear(t *testing.T) {
	tree := MustTree(Tree{
		Block:           nvswitch.BlockEgress,
		Severity:        nvswitch.NonFatal,
		Index:           1,
		Regs:            testRegs(offNonFatalEn),
		LinkScoped:      false,
		QuirkBroadClear: true,
		Entries:         []Entry{E(0, 12044, "MCRSPCTRLSTORE_ECC_LIMIT_ERR")},
	})
	s := newTestSim()
	s.Set(addr(0, offNonFatalEn), 1)
	s.Assert(addr(0, offStatus), 1|1<<5)

	newPass(s, &recordingSink{}).Service(tree, 0, nil)
	assert.Equal(t, []uint32{1, ^uint32(0)}, s.WritesTo(addr(0, offStatus)))
	assert.Zero(t, s.Get(addr(0, offStatus)))
}

func TestServiceAckCommandAndAlwaysContain(t *testing.T) {
	regs := testRegs(offFatalEn)
	regs.First = NoReg
	regs.AckCmd = 0x40
	regs.AckValue = 0x2
	tree := MustTree(Tree{
		Block:         nvswitch.BlockCrossbar,
		Severity:      nvswitch.Fatal,
		Regs:          regs,
		AlwaysContain: true,
		Entries:       []Entry{E(3, 23004, "EGRESS_CREDIT_UNDERFLOW")},
	})
	s := newTestSim()
	s.MarkAckCommand(regbank.EngineNPORT, 0x40, offStatus, 0x2)
	s.Set(addr(1, offFatalEn), 0xf)
	s.Assert(addr(1, offStatus), 1<<3)

	sink := &recordingSink{}
	rep := newPass(s, sink).Service(tree, 1, nil)
	assert.Equal(t, nvswitch.Handled, rep.Result)
	require.Len(t, sink.events, 1)
	assert.Equal(t, nvswitch.NoLink, sink.events[0].LinkID)
	assert.Equal(t, uint32(0x7), s.Get(addr(1, offFatalEn)))
	assert.Equal(t, []uint32{0x2}, s.WritesTo(addr(1, 0x40)))
	assert.Zero(t, s.Get(addr(1, offStatus)))
}

func TestMustTree(t *testing.T) {
	tree := MustTree(Tree{
		Block:    nvswitch.BlockRoute,
		Severity: nvswitch.Fatal,
		Entries:  []Entry{E(5, 2, "b"), E(1, 1, "a")},
	})
	assert.Equal(t, uint(1), tree.Entries[0].Bit)
	assert.Equal(t, uint32(1<<1|1<<5), tree.Bits())
	e, ok := tree.Lookup(5)
	require.True(t, ok)
	assert.Equal(t, nvswitch.Fatal, e.Severity)
	_, ok = tree.Lookup(2)
	assert.False(t, ok)
	assert.Equal(t, "route.fatal.0", tree.ID())

	assert.Panics(t, func() {
		MustTree(Tree{Entries: []Entry{E(1, 1, "a"), E(1, 2, "b")}})
	})
	assert.Panics(t, func() {
		MustTree(Tree{Entries: []Entry{E(32, 1, "a")}})
	})
}

func TestFixedBuffer(t *testing.T) {
	var b FixedBuffer
	assert.Nil(t, b.Words())
	for i := uint32(0); i < 3; i++ {
		b.Push(DiagMisc, i)
	}
	assert.Equal(t, []uint32{0, 1, 2}, b.Words())

	for i := uint32(3); i < DiagCapacity+3; i++ {
		b.Push(DiagHeader, i)
	}
	assert.Equal(t, DiagCapacity, b.Len())
	words := b.Words()
	assert.Equal(t, uint32(3), words[0])
	assert.Equal(t, uint32(DiagCapacity+2), words[len(words)-1])
	// the misc words were the oldest and fell out of the ring
	assert.Nil(t, b.Select(DiagMisc))
}

func TestRecordDataCutFromDiagnostic(t *testing.T) {
	var rec Record
	assert.Nil(t, rec.data(DiagTimestamp|DiagMisc|DiagHeader))

	rec.Diagnostic.Push(DiagTimestamp, 0x7)
	rec.Diagnostic.Push(DiagMisc, 0x9)
	rec.Diagnostic.Push(DiagHeader, 0xa)
	assert.Equal(t, []uint32{0x7, 0xa}, rec.data(DiagTimestamp|DiagHeader))
	assert.Equal(t, []uint32{0x9}, rec.data(DiagMisc|DiagAddress))
	assert.Nil(t, rec.data(DiagAddress))

	for i := uint32(0); i < DiagCapacity; i++ {
		rec.Diagnostic.Push(DiagHeader, 0x100+i)
	}
	words := rec.data(DiagTimestamp | DiagMisc | DiagHeader)
	require.Len(t, words, DiagCapacity)
	assert.Equal(t, uint32(0x100), words[0])
	assert.Equal(t, uint32(0x100+DiagCapacity-1), words[DiagCapacity-1])
}
