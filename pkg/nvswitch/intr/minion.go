package intr

import (
	"fmt"
	"math/bits"

	"github.com/leptonai/nvswitchd/pkg/log"
	"github.com/leptonai/nvswitchd/pkg/metrics"
	"github.com/leptonai/nvswitchd/pkg/nvswitch"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/deferred"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/fault"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/regbank"
)

// MINION link interrupt codes.
const (
	MinionCodeNA                   = 0x00
	MinionCodeSWREQ                = 0x01
	MinionCodeDLREQ                = 0x02
	MinionCodePMDISABLED           = 0x03
	MinionCodeDLCMDFAULT           = 0x04
	MinionCodeTLREQ                = 0x05
	MinionCodeNOINIT               = 0x10
	MinionCodeNOTIFY               = 0x11
	MinionCodeLocalConfigErr       = 0x12
	MinionCodeNegotiationConfigErr = 0x13
	MinionCodeBADINIT              = 0x14
	MinionCodePMFAIL               = 0x15
	MinionCodeInbandBufferAvail    = 0x16
)

type minionClass uint8

const (
	minionClassUnknown minionClass = iota
	minionClassFatal
	minionClassNonFatal
	minionClassInfo
)

type minionCode struct {
	name  string
	id    int
	class minionClass
}

var minionCodes = map[uint32]minionCode{
	MinionCodeNA:                   {"NA", 22012, minionClassFatal},
	MinionCodeDLCMDFAULT:           {"DLCMDFAULT", 22015, minionClassFatal},
	MinionCodeNOINIT:               {"NOINIT", 22017, minionClassFatal},
	MinionCodeLocalConfigErr:       {"LOCAL_CONFIG_ERR", 22018, minionClassFatal},
	MinionCodeNegotiationConfigErr: {"NEGOTIATION_CONFIG_ERR", 22019, minionClassFatal},
	MinionCodeBADINIT:              {"BADINIT", 22020, minionClassFatal},
	MinionCodePMFAIL:               {"PMFAIL", 22021, minionClassFatal},

	MinionCodeDLREQ:      {"DLREQ", 22013, minionClassNonFatal},
	MinionCodePMDISABLED: {"PMDISABLED", 22014, minionClassNonFatal},
	MinionCodeTLREQ:      {"TLREQ", 22016, minionClassNonFatal},

	MinionCodeSWREQ:             {"SWREQ", 0, minionClassInfo},
	MinionCodeNOTIFY:            {"NOTIFY", 0, minionClassInfo},
	MinionCodeInbandBufferAvail: {"INBAND_BUFFER_AVAILABLE", 0, minionClassInfo},
}

// MinionCodeName names a link interrupt code.
func MinionCodeName(code uint32) string {
	if c, ok := minionCodes[code]; ok {
		return c.name
	}
	return fmt.Sprintf("UNKNOWN(0x%02x)", code)
}

// ParseMinionCode accepts a code name as returned by MinionCodeName.
func ParseMinionCode(name string) (uint32, bool) {
	for code, c := range minionCodes {
		if c.name == name {
			return code, true
		}
	}
	return 0, false
}

// serviceMinion services the global MINION trees of a group, then decodes
// the per link interrupts.
func (d *Device) serviceMinion(p *fault.Pass, group int, sev nvswitch.Severity) nvswitch.Result {
	res := nvswitch.NotFound
	for _, t := range []*fault.Tree{minionFatal, minionNonFatal} {
		if t.Severity == sev {
			res = res.Merge(d.serviceTree(p, t, group, nil))
		}
	}
	if sev == nvswitch.Correctable {
		return res
	}
	return res.Merge(d.serviceMinionLinks(group))
}

func minionAddr(group int, off uint32) regbank.Addr {
	return regbank.Addr{Engine: regbank.EngineMINION, Instance: group, Offset: off}
}

// serviceMinionLinks decodes each pending per link MINION interrupt. Faults
// are deferred until link training settles; informational codes are
// handled inline.
func (d *Device) serviceMinionLinks(group int) nvswitch.Result {
	status, err := d.bank.Read32(minionAddr(group, regMinionIntr))
	if err != nil {
		log.Logger.Warnw("failed to read minion interrupt", "group", group, "error", err)
		return nvswitch.NotFound
	}
	enable, err := d.bank.Read32(minionAddr(group, regMinionIntrEn))
	if err != nil {
		log.Logger.Warnw("failed to read minion interrupt enable", "group", group, "error", err)
		return nvswitch.NotFound
	}
	pending := (status & enable & minionLinkBits(d.topo.LinksPerGroup)) >> minionLinkShift
	if pending == 0 {
		return nvswitch.NotFound
	}

	res := nvswitch.NotFound
	for rest := pending; rest != 0; {
		local := bits.TrailingZeros32(rest)
		rest &^= 1 << uint(local)

		link := group*d.topo.LinksPerGroup + local
		switch {
		case link >= d.topo.Links:
		case !d.links[link].Serviceable(nvswitch.ClockNVLIPT):
			// the link register is left latched; it is decoded once the
			// link is out of reset
			log.Logger.Debugw("skipping minion link interrupt of unserviceable link", "link", link)
		default:
			res = res.Merge(d.decodeMinionLink(group, local, link))
		}
		if err := d.bank.Write32(minionAddr(group, regMinionIntr), 1<<uint(minionLinkShift+local)); err != nil {
			log.Logger.Warnw("failed to clear minion link summary", "link", link, "error", err)
		}
	}
	return res
}

func (d *Device) decodeMinionLink(group int, local int, link int) nvswitch.Result {
	a := minionAddr(group, minionLinkReg(local))
	v, err := d.bank.Read32(a)
	if err != nil {
		log.Logger.Warnw("failed to read minion link interrupt", "link", link, "error", err)
		return nvswitch.NotFound
	}
	if v&minionLinkState == 0 {
		return nvswitch.NotFound
	}
	defer func() {
		if err := d.bank.Write32(a, minionLinkState); err != nil {
			log.Logger.Warnw("failed to clear minion link interrupt", "link", link, "error", err)
		}
	}()

	code := v & minionCodeMask
	c, ok := minionCodes[code]
	if !ok {
		log.Logger.Errorw("unknown minion link interrupt code", "link", link, "code", fmt.Sprintf("0x%02x", code))
		metrics.RecordUnhandled(nvswitch.BlockMINION.String()+".link", 1)
		return nvswitch.UnhandledBitsRemain
	}

	switch c.class {
	case minionClassFatal, minionClassNonFatal:
		sev := nvswitch.Fatal
		if c.class == minionClassNonFatal {
			sev = nvswitch.NonFatal
		}
		d.sched.DeferMinion(link, group, deferred.MinionIntr{ID: c.id, Name: c.name, Severity: sev, Raw: v})

	case minionClassInfo:
		if code == MinionCodeInbandBufferAvail {
			d.notifier.Notify(nvswitch.NotifyInbandData, link)
		}
		log.Logger.Debugw("minion link notification", "link", link, "code", c.name)
	}
	return nvswitch.Handled
}
