package intr

import (
	"github.com/leptonai/nvswitchd/pkg/nvswitch"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/fault"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/regbank"
)

func linkTree(b nvswitch.Block, sev nvswitch.Severity, index int, e regbank.Engine, base uint32, f winFlags, clk nvswitch.ClockDomain, entries ...fault.Entry) *fault.Tree {
	return fault.MustTree(fault.Tree{
		Block:      b,
		Severity:   sev,
		Index:      index,
		Regs:       window(e, 0, base, sev, f),
		Entries:    entries,
		Clock:      clk,
		LinkScoped: true,
	})
}

// NVLDL bits referenced outside the table.
const (
	bitLTSSMFaultDown = 27
	bitLTSSMFaultUp   = 28
)

var (
	nvldlFatal = linkTree(nvswitch.BlockNVLDL, nvswitch.Fatal, 0, regbank.EngineNVLDL, 0, 0, nvswitch.ClockNVLDL,
		fault.E(4, 20003, "TX_FAULT_RAM"),
		fault.E(5, 20004, "TX_FAULT_INTERFACE"),
		fault.E(8, 20005, "TX_FAULT_SUBLINK_CHANGE"),
		fault.E(16, 20006, "RX_FAULT_SUBLINK_CHANGE"),
		fault.E(20, 20007, "RX_FAULT_DL_PROTOCOL"),
		fault.E(bitLTSSMFaultDown, 20033, "LTSSM_FAULT_DOWN").Recovery(),
		fault.E(bitLTSSMFaultUp, 20034, "LTSSM_FAULT_UP").Recovery(),
		fault.E(29, 20035, "LTSSM_PROTOCOL"),
	)
	nvldlNonFatal = linkTree(nvswitch.BlockNVLDL, nvswitch.NonFatal, 0, regbank.EngineNVLDL, 0, 0, nvswitch.ClockNVLDL,
		fault.E(0, 20001, "TX_REPLAY"),
		fault.E(1, 20002, "TX_RECOVERY_SHORT"),
		fault.E(21, 20008, "RX_SHORT_ERROR_RATE").Deferred(),
		fault.E(22, 20009, "RX_LONG_ERROR_RATE"),
		fault.E(23, 20010, "RX_ILA_TRIGGER"),
		fault.E(24, 20011, "RX_CRC_COUNTER").Deferred(),
		fault.E(30, 20036, "MINION_REQUEST"),
	)

	tlcTxFatal = linkTree(nvswitch.BlockNVLTLCTx, nvswitch.Fatal, 0, regbank.EngineNVLTLC, baseTLCTx0, wFirst|wAddr, nvswitch.ClockNVLTLC,
		fault.E(0, 19047, "NCISOC_HDR_ECC_DBE_ERR").DBE(),
		fault.E(1, 19048, "NCISOC_DAT_ECC_DBE_ERR").DBE(),
		fault.E(2, 19050, "NCISOC_PARITY_ERR"),
		fault.E(3, 19060, "CREQ_RAM_HDR_ECC_DBE_ERR").DBE(),
		fault.E(4, 19061, "CREQ_RAM_DAT_ECC_DBE_ERR").DBE(),
		fault.E(5, 19063, "RSP_RAM_HDR_ECC_DBE_ERR").DBE(),
		fault.E(6, 19064, "RSP_RAM_DAT_ECC_DBE_ERR").DBE(),
		fault.E(7, 19066, "COM_RAM_HDR_ECC_DBE_ERR").DBE(),
		fault.E(8, 19067, "COM_RAM_DAT_ECC_DBE_ERR").DBE(),
		fault.E(9, 19069, "RSP1_RAM_HDR_ECC_DBE_ERR").DBE(),
		fault.E(10, 19070, "RSP1_RAM_DAT_ECC_DBE_ERR").DBE(),
	)
	tlcTxNonFatal = linkTree(nvswitch.BlockNVLTLCTx, nvswitch.NonFatal, 0, regbank.EngineNVLTLC, baseTLCTx0, wFirst|wAddr, nvswitch.ClockNVLTLC,
		fault.E(16, 19049, "NCISOC_ECC_LIMIT_ERR").Limit(0, counterReg(baseTLCTx0, 0)),
		fault.E(17, 19062, "CREQ_RAM_ECC_LIMIT_ERR").Limit(3, counterReg(baseTLCTx0, 1)),
		fault.E(18, 19065, "RSP_RAM_ECC_LIMIT_ERR").Limit(5, counterReg(baseTLCTx0, 2)),
		fault.E(19, 19068, "COM_RAM_ECC_LIMIT_ERR").Limit(7, counterReg(baseTLCTx0, 3)),
		fault.E(20, 19071, "RSP1_RAM_ECC_LIMIT_ERR").Limit(9, counterReg(baseTLCTx0, 4)),
	)

	tlcRx0Fatal = linkTree(nvswitch.BlockNVLTLCRx, nvswitch.Fatal, 0, regbank.EngineNVLTLC, baseTLCRx0, wFirst|wAddr|wDiag, nvswitch.ClockNVLTLC,
		fault.E(0, 19054, "HDR_RAM_ECC_DBE_ERR").DBE(),
		fault.E(1, 19056, "DAT0_RAM_ECC_DBE_ERR").DBE(),
		fault.E(2, 19058, "DAT1_RAM_ECC_DBE_ERR").DBE(),
		fault.E(3, 19040, "RXDLHDRPARITYERR").Snap(fault.DiagHeader),
		fault.E(4, 19041, "RXDLDATAPARITYERR").Snap(fault.DiagHeader),
		fault.E(5, 19042, "RXDLCTRLPARITYERR").Snap(fault.DiagHeader),
		fault.E(6, 19043, "RXINVALIDAEERR").Snap(fault.DiagHeader),
		fault.E(7, 19044, "RXINVALIDBEERR").Snap(fault.DiagHeader),
		fault.E(8, 19045, "RXINVALIDADDRALIGNERR").Snap(fault.DiagHeader),
		fault.E(9, 19046, "RXPKTLENERR").Snap(fault.DiagHeader),
	)
	tlcRx0NonFatal = linkTree(nvswitch.BlockNVLTLCRx, nvswitch.NonFatal, 0, regbank.EngineNVLTLC, baseTLCRx0, wFirst|wAddr|wDiag, nvswitch.ClockNVLTLC,
		fault.E(16, 19055, "HDR_RAM_ECC_LIMIT_ERR").Limit(0, counterReg(baseTLCRx0, 0)),
		fault.E(17, 19057, "DAT0_RAM_ECC_LIMIT_ERR").Limit(1, counterReg(baseTLCRx0, 1)),
		fault.E(18, 19059, "DAT1_RAM_ECC_LIMIT_ERR").Limit(2, counterReg(baseTLCRx0, 2)),
	)

	tlcRx1Fatal = linkTree(nvswitch.BlockNVLTLCRx, nvswitch.Fatal, 1, regbank.EngineNVLTLC, baseTLCRx1, wFirst|wDiag, nvswitch.ClockNVLTLC,
		fault.E(0, 19072, "RXHDROVFERR").Snap(fault.DiagMisc),
		fault.E(1, 19073, "RXDATAOVFERR").Snap(fault.DiagMisc),
		fault.E(2, 19074, "STOMPDETERR").Snap(fault.DiagHeader),
		fault.E(3, 19075, "RXPOISONERR").Snap(fault.DiagHeader),
	)
	tlcRx1NonFatal = linkTree(nvswitch.BlockNVLTLCRx, nvswitch.NonFatal, 1, regbank.EngineNVLTLC, baseTLCRx1, wFirst|wDiag, nvswitch.ClockNVLTLC,
		fault.E(8, 19084, "HEARTBEAT_TIMEOUT_ERR").Deferred(),
	)

	nvliptLinkFatal = linkTree(nvswitch.BlockNVLIPT, nvswitch.Fatal, 0, regbank.EngineNVLIPT, 0, wFirst, nvswitch.ClockNVLIPT,
		fault.E(0, 21001, "SLEEPWHILEACTIVELINK"),
		fault.E(1, 21002, "RSTSEQ_PHYCTL_TIMEOUT"),
		fault.E(2, 21003, "RSTSEQ_CLKCTL_TIMEOUT"),
	)
	nvliptLinkNonFatal = linkTree(nvswitch.BlockNVLIPT, nvswitch.NonFatal, 0, regbank.EngineNVLIPT, 0, wFirst, nvswitch.ClockNVLIPT,
		fault.E(8, 21004, "ILLEGALLINKSTATEREQUEST"),
		fault.E(9, 21005, "FAILEDMINIONREQUEST"),
		fault.E(10, 21006, "RESERVEDREQUESTVALUE"),
		fault.E(11, 21007, "LINKSTATEWRITEWHILEBUSY"),
		fault.E(12, 21008, "LINK_STATE_REQUEST_TIMEOUT"),
		fault.E(13, 21009, "WRITE_TO_LOCKED_SYSTEM_REG_ERR"),
	)
)

// nvlwLinkTrees lists the trees of one link in servicing order.
var nvlwLinkTrees = []*fault.Tree{
	nvldlFatal, nvldlNonFatal,
	tlcTxFatal, tlcTxNonFatal,
	tlcRx0Fatal, tlcRx0NonFatal,
	tlcRx1Fatal, tlcRx1NonFatal,
	nvliptLinkFatal, nvliptLinkNonFatal,
}

// MINION global interrupt. The per link bits sit at minionLinkShift and
// above and are serviced by the link decode, not by these trees.
var (
	minionFatal = fault.MustTree(fault.Tree{
		Block:    nvswitch.BlockMINION,
		Severity: nvswitch.Fatal,
		Regs:     minionRegs(),
		Entries: []fault.Entry{
			fault.E(0, 22003, "FALCON_HALT"),
			fault.E(1, 22011, "FALCON_EXTERR").Snap(fault.DiagAddress),
			fault.E(2, 22001, "MINION_FATAL"),
		},
	})
	minionNonFatal = fault.MustTree(fault.Tree{
		Block:    nvswitch.BlockMINION,
		Severity: nvswitch.NonFatal,
		Regs:     minionRegs(),
		Entries: []fault.Entry{
			fault.E(3, 22002, "MINION_NONFATAL"),
		},
	})
)

func minionRegs() fault.Regs {
	return fault.Regs{
		Engine:       regbank.EngineMINION,
		Status:       regMinionIntr,
		Enable:       regMinionIntrEn,
		First:        fault.NoReg,
		Contain:      fault.NoReg,
		AckCmd:       fault.NoReg,
		Timestamp:    fault.NoReg,
		Misc:         fault.NoReg,
		HeaderValid:  fault.NoReg,
		Address:      regMinionExtAddr,
		AddressValid: regMinionExtStat,
	}
}
