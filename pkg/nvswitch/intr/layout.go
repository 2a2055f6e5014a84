package intr

import (
	"fmt"

	"github.com/leptonai/nvswitchd/pkg/nvswitch"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/fault"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/regbank"
)

// Category is one top level interrupt summary bit.
type Category uint8

const (
	CategoryNPGFatal Category = iota
	CategoryNPGNonFatal
	CategoryNPGCorrectable
	CategoryNVLWFatal
	CategoryNVLWNonFatal
	CategoryNVLWCorrectable
	CategoryNXBARFatal
	CategoryUnits

	numCategories
)

var categoryNames = [numCategories]string{
	CategoryNPGFatal:        "npg_fatal",
	CategoryNPGNonFatal:     "npg_nonfatal",
	CategoryNPGCorrectable:  "npg_correctable",
	CategoryNVLWFatal:       "nvlw_fatal",
	CategoryNVLWNonFatal:    "nvlw_nonfatal",
	CategoryNVLWCorrectable: "nvlw_correctable",
	CategoryNXBARFatal:      "nxbar_fatal",
	CategoryUnits:           "units",
}

func (c Category) String() string {
	if c < numCategories {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// ParseCategory accepts the String form of a category.
func ParseCategory(s string) (Category, error) {
	for i, name := range categoryNames {
		if name == s {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown interrupt category %q", s)
}

// Categories returns the categories in servicing order.
func Categories() []Category {
	cs := make([]Category, 0, numCategories)
	for c := Category(0); c < numCategories; c++ {
		cs = append(cs, c)
	}
	return cs
}

func (c Category) severity() nvswitch.Severity {
	switch c {
	case CategoryNPGNonFatal, CategoryNVLWNonFatal:
		return nvswitch.NonFatal
	case CategoryNPGCorrectable, CategoryNVLWCorrectable:
		return nvswitch.Correctable
	default:
		return nvswitch.Fatal
	}
}

// engineClass groups the engines sharing one retrigger register.
type engineClass uint8

const (
	classNPG engineClass = iota
	classNVLW
	classNXBAR
	classPRI

	numEngineClasses
)

// Top engine registers.
const (
	regTopStatus = 0x000
	regTopEnable = 0x004

	leafBase   = 0x100
	leafStride = 0x10
	leafStatus = 0x0
	leafEnable = 0x4

	regRetriggerBase = 0x200
	retriggerPulse   = 0x1
)

func leafStatusReg(c Category) uint32 { return leafBase + uint32(c)*leafStride + leafStatus }

func leafEnableReg(c Category) uint32 { return leafBase + uint32(c)*leafStride + leafEnable }

func retriggerReg(c engineClass) uint32 { return regRetriggerBase + 4*uint32(c) }

func topAddr(off uint32) regbank.Addr {
	return regbank.Addr{Engine: regbank.EngineTop, Offset: off}
}

// Every error window uses the same register layout relative to its base.
const (
	winStatus      = 0x00
	winFatalEn     = 0x04
	winNonFatalEn  = 0x08
	winCorrEn      = 0x0c
	winFirst       = 0x10
	winContain     = 0x14
	winTimestamp   = 0x18
	winMisc        = 0x1c
	winHeader      = 0x20
	winHeaderWords = 4
	winHeaderValid = 0x30
	winAddr        = 0x34
	winAddrValid   = 0x38
	winCounter     = 0x40
)

func counterReg(base uint32, i int) uint32 { return base + winCounter + 4*uint32(i) }

// NPORT block windows.
const (
	baseRoute       = 0x000
	baseIngress     = 0x100
	baseEgress0     = 0x200
	baseEgress1     = 0x280
	baseTState      = 0x300
	baseSourceTrack = 0x400
	baseMulticast   = 0x500
	baseReduction   = 0x600
)

// NVLTLC windows.
const (
	baseTLCTx0 = 0x000
	baseTLCRx0 = 0x100
	baseTLCRx1 = 0x200
)

// MINION registers.
const (
	regMinionIntr     = 0x000
	regMinionIntrEn   = 0x004
	regMinionExtAddr  = 0x008
	regMinionExtStat  = 0x00c
	regMinionLinkBase = 0x100

	minionLinkShift = 16
	minionLinkState = 1 << 31
	minionCodeMask  = 0xff
)

func minionLinkReg(local int) uint32 { return regMinionLinkBase + 4*uint32(local) }

// PRI registers.
const (
	regPRIRingStatus  = 0x000
	regPRIRingCommand = 0x050
	priRingAck        = 0x2
	basePRIStation    = 0x100
)

// PRI partitions; hub partitions follow system-B.
const (
	PRIPartitionSys  = 0
	PRIPartitionSysB = 1
	PRIPartitionHub0 = 2
)

// NXBAR partitions.
const (
	NXBARTile    = 0
	NXBARTileOut = 1
)

type winFlags uint8

const (
	wFirst winFlags = 1 << iota
	wContain
	wDiag
	wAddr
)

// window builds the registers of one severity tree of an error window.
func window(e regbank.Engine, partition int, base uint32, sev nvswitch.Severity, f winFlags) fault.Regs {
	r := fault.Regs{
		Engine:       e,
		Partition:    partition,
		Status:       base + winStatus,
		First:        fault.NoReg,
		Contain:      fault.NoReg,
		AckCmd:       fault.NoReg,
		Timestamp:    fault.NoReg,
		Misc:         fault.NoReg,
		HeaderValid:  fault.NoReg,
		Address:      fault.NoReg,
		AddressValid: fault.NoReg,
	}
	switch sev {
	case nvswitch.Fatal:
		r.Enable = base + winFatalEn
	case nvswitch.NonFatal:
		r.Enable = base + winNonFatalEn
	default:
		r.Enable = base + winCorrEn
	}
	if f&wFirst != 0 {
		r.First = base + winFirst
	}
	if f&wContain != 0 && sev == nvswitch.Fatal {
		r.Contain = base + winContain
	}
	if f&wDiag != 0 {
		r.Timestamp = base + winTimestamp
		r.Misc = base + winMisc
		for i := 0; i < winHeaderWords; i++ {
			r.Header = append(r.Header, base+winHeader+4*uint32(i))
		}
		r.HeaderValid = base + winHeaderValid
	}
	if f&wAddr != 0 {
		r.Address = base + winAddr
		r.AddressValid = base + winAddrValid
	}
	return r
}

// Topology is the shape of one switch.
type Topology struct {
	Links         int
	LinksPerGroup int
	Tiles         int
	PRIHubs       int
}

// DefaultTopology is a 64 link switch with 16 link groups of 4.
var DefaultTopology = Topology{
	Links:         64,
	LinksPerGroup: 4,
	Tiles:         12,
	PRIHubs:       2,
}

// Validate checks the topology fits the 32 bit leaf registers.
func (t Topology) Validate() error {
	if t.Links <= 0 || t.LinksPerGroup <= 0 {
		return fmt.Errorf("invalid topology: %d links, %d links per group", t.Links, t.LinksPerGroup)
	}
	if t.LinksPerGroup > 16 {
		return fmt.Errorf("invalid topology: %d links per group exceeds 16", t.LinksPerGroup)
	}
	if t.Groups() > 32 || t.Tiles > 32 || t.Tiles < 0 || t.PRIHubs < 0 {
		return fmt.Errorf("invalid topology: %d groups, %d tiles, %d hubs", t.Groups(), t.Tiles, t.PRIHubs)
	}
	if t.Links > 64 {
		return fmt.Errorf("invalid topology: %d links exceeds 64", t.Links)
	}
	return nil
}

// Groups is the number of NPG (and NVLW) instances.
func (t Topology) Groups() int {
	return (t.Links + t.LinksPerGroup - 1) / t.LinksPerGroup
}

// GroupOf returns the group owning link and the link's index within it.
func (t Topology) GroupOf(link int) (group int, local int) {
	return link / t.LinksPerGroup, link % t.LinksPerGroup
}

// GroupLinks returns the links owned by a group.
func (t Topology) GroupLinks(group int) []int {
	var links []int
	for l := group * t.LinksPerGroup; l < (group+1)*t.LinksPerGroup && l < t.Links; l++ {
		links = append(links, l)
	}
	return links
}

// PRIPartitions is the number of PRI partitions: system, system-B, hubs.
func (t Topology) PRIPartitions() int {
	return PRIPartitionHub0 + t.PRIHubs
}

// Instances returns the engine instance counts of the topology.
func (t Topology) Instances() map[regbank.Engine]int {
	return map[regbank.Engine]int{
		regbank.EngineTop:    1,
		regbank.EngineNPORT:  t.Links,
		regbank.EngineNVLDL:  t.Links,
		regbank.EngineNVLTLC: t.Links,
		regbank.EngineNVLIPT: t.Links,
		regbank.EngineMINION: t.Groups(),
		regbank.EngineNXBAR:  t.Tiles,
		regbank.EnginePRI:    t.PRIPartitions(),
	}
}

// NewSimBank returns a simulated bank with this layout's register classes.
func NewSimBank(t Topology) *regbank.Sim {
	s := regbank.NewSim(t.Instances())

	for c := Category(0); c < numCategories; c++ {
		s.MarkW1C(regbank.EngineTop, leafStatusReg(c))
	}
	for _, base := range []uint32{baseRoute, baseIngress, baseEgress0, baseEgress1, baseTState, baseSourceTrack, baseMulticast, baseReduction} {
		s.MarkW1C(regbank.EngineNPORT, base+winStatus, base+winFirst)
	}
	s.MarkW1C(regbank.EngineNVLDL, winStatus)
	for _, base := range []uint32{baseTLCTx0, baseTLCRx0, baseTLCRx1} {
		s.MarkW1C(regbank.EngineNVLTLC, base+winStatus, base+winFirst)
	}
	s.MarkW1C(regbank.EngineNVLIPT, winStatus, winFirst)
	s.MarkW1C(regbank.EngineNXBAR, winStatus, winFirst)

	s.MarkW1C(regbank.EngineMINION, regMinionIntr)
	for i := 0; i < t.LinksPerGroup; i++ {
		s.MarkW1C(regbank.EngineMINION, minionLinkReg(i))
	}

	s.MarkW1C(regbank.EnginePRI, basePRIStation+winStatus)
	s.MarkAckCommand(regbank.EnginePRI, regPRIRingCommand, regPRIRingStatus, priRingAck)
	return s
}
