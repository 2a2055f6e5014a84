package fault

import (
	"errors"
	"sync"

	"github.com/leptonai/nvswitchd/pkg/nvswitch"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/regbank"
)

const (
	offStatus      = 0x00
	offFatalEn     = 0x04
	offNonFatalEn  = 0x08
	offFirst       = 0x0c
	offContain     = 0x10
	offTimestamp   = 0x14
	offMisc        = 0x18
	offHeader0     = 0x1c
	offHeader1     = 0x20
	offHeaderValid = 0x24
	offAddr        = 0x28
	offAddrValid   = 0x2c
	offCounter     = 0x30
)

const (
	bitCmdDecode  = 0
	bitHdrLimit   = 7
	bitHdrDBE     = 8
	bitInvalidVC  = 6
	bitLTSSMDown  = 27
	bitLTSSMUp    = 28
	bitShortError = 21
)

func testRegs(enable uint32) Regs {
	return Regs{
		Engine:       regbank.EngineNPORT,
		Status:       offStatus,
		Enable:       enable,
		First:        offFirst,
		Contain:      offContain,
		AckCmd:       NoReg,
		Timestamp:    offTimestamp,
		Misc:         offMisc,
		Header:       []uint32{offHeader0, offHeader1},
		HeaderValid:  offHeaderValid,
		Address:      offAddr,
		AddressValid: offAddrValid,
	}
}

var (
	testFatal = MustTree(Tree{
		Block:      nvswitch.BlockIngress,
		Severity:   nvswitch.Fatal,
		Regs:       testRegs(offFatalEn),
		Clock:      nvswitch.ClockNPORT,
		LinkScoped: true,
		Entries: []Entry{
			E(bitHdrDBE, 11013, "NCISOC_HDR_ECC_DBE_ERR").DBE().Snap(DiagHeader),
			E(bitInvalidVC, 11009, "INVALIDVCSET").Snap(DiagTimestamp | DiagMisc),
			E(bitLTSSMUp, 20034, "LTSSM_FAULT_UP").Recovery(),
			E(bitLTSSMDown, 20033, "LTSSM_FAULT_DOWN").Recovery(),
		},
	})

	testNonFatal = MustTree(Tree{
		Block:      nvswitch.BlockIngress,
		Severity:   nvswitch.NonFatal,
		Regs:       testRegs(offNonFatalEn),
		Clock:      nvswitch.ClockNPORT,
		LinkScoped: true,
		Entries: []Entry{
			E(bitCmdDecode, 11001, "CMDDECODEERR"),
			E(bitHdrLimit, 11012, "NCISOC_HDR_ECC_LIMIT_ERR").Limit(bitHdrDBE, offCounter),
			E(bitShortError, 20008, "RX_SHORT_ERROR_RATE").Deferred(),
		},
	})
)

func newTestSim() *regbank.Sim {
	s := regbank.NewSim(map[regbank.Engine]int{regbank.EngineNPORT: 4})
	s.MarkW1C(regbank.EngineNPORT, offStatus, offFirst)
	return s
}

func enableAll(s *regbank.Sim, instance int) {
	s.Set(regbank.Addr{Engine: regbank.EngineNPORT, Instance: instance, Offset: offFatalEn}, testFatal.Bits())
	s.Set(regbank.Addr{Engine: regbank.EngineNPORT, Instance: instance, Offset: offNonFatalEn}, testNonFatal.Bits())
}

func addr(instance int, off uint32) regbank.Addr {
	return regbank.Addr{Engine: regbank.EngineNPORT, Instance: instance, Offset: off}
}

type logLine struct {
	id        int
	msg       string
	contained bool
}

type recordingSink struct {
	mu       sync.Mutex
	events   []nvswitch.ErrorEvent
	fatal    []logLine
	nonfatal []logLine
}

func (s *recordingSink) LogErrorEvent(ev nvswitch.ErrorEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) LogFatal(id int, msg string, contained bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fatal = append(s.fatal, logLine{id: id, msg: msg, contained: contained})
}

func (s *recordingSink) LogNonFatal(id int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonfatal = append(s.nonfatal, logLine{id: id, msg: msg})
}

func (s *recordingSink) kinds() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

type tableMasks struct {
	extra map[*Tree]uint32
}

func (m tableMasks) Mask(t *Tree) uint32 {
	return t.Bits() | m.extra[t]
}

type deferCall struct {
	link int
	tree string
	bits uint32
}

type recordingDeferrer struct {
	calls []deferCall
}

func (d *recordingDeferrer) Defer(link int, t *Tree, bits uint32) {
	d.calls = append(d.calls, deferCall{link: link, tree: t.ID(), bits: bits})
}

type recoverCall struct {
	link         int
	entry        string
	writesBefore int
}

type recordingRecoverer struct {
	sim   *regbank.Sim
	calls []recoverCall
}

func (r *recordingRecoverer) Recover(link *nvswitch.Link, t *Tree, instance int, e Entry) {
	r.calls = append(r.calls, recoverCall{link: link.ID, entry: e.Name, writesBefore: len(r.sim.Writes())})
}

var errOffloadBusy = errors.New("offload busy")

type fakeOffload struct {
	narrowErr  error
	counterErr error
	narrowed   []uint32
	cleared    int
}

func (o *fakeOffload) ClearCounter(nvswitch.Block, int) error {
	o.cleared++
	return o.counterErr
}

func (o *fakeOffload) NarrowReportEnable(_ nvswitch.Block, _ nvswitch.Severity, _ int, m uint32) error {
	o.narrowed = append(o.narrowed, m)
	return o.narrowErr
}

func newLink(id int) *nvswitch.Link {
	return &nvswitch.Link{ID: id, Valid: true, ClocksOn: nvswitch.AllClocks}
}
