package intr

import (
	"github.com/leptonai/nvswitchd/pkg/nvswitch"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/fault"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/regbank"
)

func crossbarTree(partition int, entries ...fault.Entry) *fault.Tree {
	return fault.MustTree(fault.Tree{
		Block:         nvswitch.BlockCrossbar,
		Severity:      nvswitch.Fatal,
		Index:         partition,
		Regs:          window(regbank.EngineNXBAR, partition, 0, nvswitch.Fatal, wFirst),
		Entries:       entries,
		AlwaysContain: true,
	})
}

var (
	crossbarTile = crossbarTree(NXBARTile,
		fault.E(0, 23001, "INGRESS_BUFFER_OVERFLOW"),
		fault.E(1, 23002, "INGRESS_BUFFER_UNDERFLOW"),
		fault.E(2, 23003, "EGRESS_CREDIT_OVERFLOW"),
		fault.E(3, 23004, "EGRESS_CREDIT_UNDERFLOW"),
		fault.E(4, 23005, "INGRESS_NON_BURSTY_PKT"),
		fault.E(5, 23006, "INGRESS_NON_STICKY_PKT"),
		fault.E(6, 23007, "INGRESS_BURST_GT_9_DATA_VC"),
		fault.E(7, 23008, "INGRESS_PKT_INVALID_DST"),
		fault.E(8, 23009, "INGRESS_PKT_PARITY_ERROR"),
	)
	crossbarTileOut = crossbarTree(NXBARTileOut,
		fault.E(0, 23010, "INGRESS_BUFFER_OVERFLOW"),
		fault.E(1, 23011, "INGRESS_BUFFER_UNDERFLOW"),
		fault.E(2, 23012, "EGRESS_CREDIT_OVERFLOW"),
		fault.E(3, 23013, "EGRESS_CREDIT_UNDERFLOW"),
		fault.E(4, 23014, "INGRESS_NON_BURSTY_PKT"),
		fault.E(5, 23015, "INGRESS_NON_STICKY_PKT"),
		fault.E(6, 23016, "INGRESS_BURST_GT_9_DATA_VC"),
		fault.E(7, 23017, "EGRESS_CDT_PARITY_ERROR"),
	)
)

var crossbarTrees = []*fault.Tree{crossbarTile, crossbarTileOut}

// The PRI ring master status is read-only and acknowledged through the
// ring command register; the station error latches are write-1-to-clear.
var (
	priRing = fault.MustTree(fault.Tree{
		Block:    nvswitch.BlockPRIRing,
		Severity: nvswitch.Fatal,
		Regs: fault.Regs{
			Engine:       regbank.EnginePRI,
			Status:       regPRIRingStatus,
			Enable:       fault.NoReg,
			First:        fault.NoReg,
			Contain:      fault.NoReg,
			AckCmd:       regPRIRingCommand,
			AckValue:     priRingAck,
			Timestamp:    fault.NoReg,
			Misc:         fault.NoReg,
			HeaderValid:  fault.NoReg,
			Address:      fault.NoReg,
			AddressValid: fault.NoReg,
		},
		Entries: []fault.Entry{
			fault.E(0, 10006, "CONNECTIVITY_FAULT"),
			fault.E(1, 10007, "DISCONNECT_FAULT"),
			fault.E(2, 10008, "OVERFLOW_FAULT"),
		},
	})

	priStation = fault.MustTree(fault.Tree{
		Block:    nvswitch.BlockPRIRing,
		Severity: nvswitch.NonFatal,
		Index:    1,
		Regs: fault.Regs{
			Engine:       regbank.EnginePRI,
			Status:       basePRIStation + winStatus,
			Enable:       fault.NoReg,
			First:        fault.NoReg,
			Contain:      fault.NoReg,
			AckCmd:       fault.NoReg,
			Timestamp:    fault.NoReg,
			Misc:         basePRIStation + winMisc,
			Header:       []uint32{basePRIStation + winHeader, basePRIStation + winHeader + 4},
			HeaderValid:  fault.NoReg,
			Address:      basePRIStation + winAddr,
			AddressValid: fault.NoReg,
		},
		Entries: []fault.Entry{
			fault.E(0, 10001, "WRITE_ERROR").Snap(fault.DiagAddress | fault.DiagMisc | fault.DiagHeader),
			fault.E(1, 10002, "TIMEOUT").Snap(fault.DiagAddress | fault.DiagMisc),
		},
	})
)

var priTrees = []*fault.Tree{priRing, priStation}

// unhandledInterruptID is reported when a pass leaves bits no table knows.
const unhandledInterruptID = 10003

// AllTrees returns every static fault tree.
func AllTrees() []*fault.Tree {
	var out []*fault.Tree
	out = append(out, npgTrees...)
	out = append(out, nvlwLinkTrees...)
	out = append(out, minionFatal, minionNonFatal)
	out = append(out, crossbarTrees...)
	out = append(out, priTrees...)
	return out
}

// FindTree looks a tree up by ID, e.g. "ingress.fatal.0".
func FindTree(id string) (*fault.Tree, bool) {
	for _, t := range AllTrees() {
		if t.ID() == id {
			return t, true
		}
	}
	return nil, false
}

// FindSXid returns the first tree entry reporting the SXid.
func FindSXid(id int) (*fault.Tree, fault.Entry, bool) {
	for _, t := range AllTrees() {
		for _, e := range t.Entries {
			if e.ID == id {
				return t, e, true
			}
		}
	}
	return nil, fault.Entry{}, false
}
