package intr

import (
	"github.com/leptonai/nvswitchd/pkg/nvswitch"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/fault"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/regbank"
)

func nport(b nvswitch.Block, sev nvswitch.Severity, index int, base uint32, f winFlags, entries ...fault.Entry) *fault.Tree {
	return fault.MustTree(fault.Tree{
		Block:      b,
		Severity:   sev,
		Index:      index,
		Regs:       window(regbank.EngineNPORT, 0, base, sev, f),
		Entries:    entries,
		Clock:      nvswitch.ClockNPORT,
		LinkScoped: true,
	})
}

const nportFlags = wFirst | wContain | wDiag | wAddr

var (
	routeFatal = nport(nvswitch.BlockRoute, nvswitch.Fatal, 0, baseRoute, nportFlags,
		fault.E(0, 15001, "ROUTEBUFERR").Snap(fault.DiagTimestamp),
		fault.E(4, 15009, "GLT_ECC_DBE_ERR").DBE(),
		fault.E(5, 15006, "TRANSDONERESVERR").Snap(fault.DiagTimestamp),
		fault.E(6, 15010, "PDCTRLPARERR").Snap(fault.DiagTimestamp|fault.DiagHeader),
		fault.E(8, 15012, "NVS_ECC_DBE_ERR").DBE().Snap(fault.DiagHeader),
		fault.E(9, 15013, "CDTPARERR").Snap(fault.DiagTimestamp),
		fault.E(11, 15015, "MCRID_ECC_DBE_ERR").DBE(),
		fault.E(13, 15017, "EXTMCRID_ECC_DBE_ERR").DBE(),
		fault.E(15, 15019, "RAM_ECC_DBE_ERR").DBE(),
	)
	routeNonFatal = nport(nvswitch.BlockRoute, nvswitch.NonFatal, 0, baseRoute, nportFlags,
		fault.E(1, 15002, "NOPORTDEFINEDERR").Snap(fault.DiagTimestamp|fault.DiagHeader),
		fault.E(2, 15003, "INVALIDROUTEPOLICYERR").Snap(fault.DiagTimestamp|fault.DiagHeader),
		fault.E(3, 15008, "GLT_ECC_LIMIT_ERR").Limit(4, counterReg(baseRoute, 0)),
		fault.E(7, 15011, "NVS_ECC_LIMIT_ERR").Limit(8, counterReg(baseRoute, 1)),
		fault.E(10, 15014, "MCRID_ECC_LIMIT_ERR").Limit(11, counterReg(baseRoute, 2)),
		fault.E(12, 15016, "EXTMCRID_ECC_LIMIT_ERR").Limit(13, counterReg(baseRoute, 3)),
		fault.E(14, 15018, "RAM_ECC_LIMIT_ERR").Limit(15, counterReg(baseRoute, 4)),
		fault.E(16, 15020, "INVALID_MCRID_ERR"),
	)

	ingressFatal = nport(nvswitch.BlockIngress, nvswitch.Fatal, 0, baseIngress, nportFlags,
		fault.E(6, 11009, "INVALIDVCSET").Snap(fault.DiagTimestamp|fault.DiagHeader),
		fault.E(8, 11013, "NCISOC_HDR_ECC_DBE_ERR").DBE().Snap(fault.DiagHeader),
		fault.E(12, 11018, "RIDTAB_ECC_DBE_ERR").DBE(),
		fault.E(13, 11019, "RLANTAB_ECC_DBE_ERR").DBE(),
		fault.E(14, 11020, "NCISOC_PARITY_ERR").Snap(fault.DiagTimestamp),
		fault.E(16, 11014, "REMAPTAB_ECC_DBE_ERR").DBE(),
	)
	ingressNonFatal = nport(nvswitch.BlockIngress, nvswitch.NonFatal, 0, baseIngress, nportFlags,
		fault.E(0, 11001, "CMDDECODEERR").Snap(fault.DiagTimestamp|fault.DiagHeader),
		fault.E(1, 11002, "BDFMISMATCHERR").Snap(fault.DiagTimestamp|fault.DiagHeader),
		fault.E(2, 11003, "BUBBLEDETECT").Snap(fault.DiagTimestamp),
		fault.E(3, 11004, "ACLFAIL").Snap(fault.DiagTimestamp|fault.DiagHeader),
		fault.E(4, 11005, "PKTPOISONSET").Snap(fault.DiagTimestamp|fault.DiagHeader),
		fault.E(5, 11006, "ECCSOFTLIMITERR"),
		fault.E(7, 11012, "NCISOC_HDR_ECC_LIMIT_ERR").Limit(8, counterReg(baseIngress, 0)),
		fault.E(9, 11007, "ADDRBOUNDSERR").Snap(fault.DiagTimestamp|fault.DiagHeader),
		fault.E(10, 11008, "RIDTABCFGERR").Snap(fault.DiagTimestamp|fault.DiagHeader),
		fault.E(11, 11010, "RLANTABCFGERR").Snap(fault.DiagTimestamp|fault.DiagHeader),
		fault.E(15, 11021, "REMAPTAB_ECC_LIMIT_ERR").Limit(16, counterReg(baseIngress, 1)),
		fault.E(17, 11022, "RIDTAB_ECC_LIMIT_ERR").Limit(12, counterReg(baseIngress, 2)),
		fault.E(18, 11023, "RLANTAB_ECC_LIMIT_ERR").Limit(13, counterReg(baseIngress, 3)),
		fault.E(19, 11015, "ADDRTYPEERR").Snap(fault.DiagTimestamp|fault.DiagHeader),
	)

	egress0Fatal = nport(nvswitch.BlockEgress, nvswitch.Fatal, 0, baseEgress0, nportFlags,
		fault.E(0, 12001, "EGRESSBUFERR").Snap(fault.DiagTimestamp),
		fault.E(1, 12002, "PKTROUTEERR").Snap(fault.DiagTimestamp|fault.DiagHeader),
		fault.E(2, 12020, "SEQIDERR").Snap(fault.DiagTimestamp),
		fault.E(4, 12022, "NXBAR_HDR_ECC_DBE_ERR").DBE(),
		fault.E(6, 12024, "RAM_OUT_HDR_ECC_DBE_ERR").DBE(),
		fault.E(7, 12025, "NCISOCCREDITOVFL"),
		fault.E(8, 12026, "REQTGTIDMISMATCHERR").Snap(fault.DiagTimestamp|fault.DiagHeader),
		fault.E(9, 12027, "RSPREQIDMISMATCHERR").Snap(fault.DiagTimestamp|fault.DiagHeader),
		fault.E(12, 12030, "NXBAR_HDR_PARITY_ERR").Snap(fault.DiagTimestamp),
		fault.E(13, 12031, "NCISOC_CREDIT_PARITY_ERR").Snap(fault.DiagTimestamp),
		fault.E(14, 12032, "NXBAR_FLITTYPE_MISMATCH_ERR").Snap(fault.DiagTimestamp),
		fault.E(15, 12033, "CREDIT_TIME_OUT_ERR").Snap(fault.DiagTimestamp),
		fault.E(16, 12034, "INVALIDVCSET_ERR").Snap(fault.DiagTimestamp|fault.DiagHeader),
	)
	egress0NonFatal = nport(nvswitch.BlockEgress, nvswitch.NonFatal, 0, baseEgress0, nportFlags,
		fault.E(3, 12021, "NXBAR_HDR_ECC_LIMIT_ERR").Limit(4, counterReg(baseEgress0, 0)),
		fault.E(5, 12023, "RAM_OUT_HDR_ECC_LIMIT_ERR").Limit(6, counterReg(baseEgress0, 1)),
		fault.E(10, 12028, "PRIVRSPERR").Snap(fault.DiagTimestamp|fault.DiagHeader),
		fault.E(11, 12029, "HWRSPERR").Snap(fault.DiagTimestamp|fault.DiagHeader),
	)

	egress1Fatal = nport(nvswitch.BlockEgress, nvswitch.Fatal, 1, baseEgress1, nportFlags,
		fault.E(1, 12041, "NXBAR_REDUCTION_HDR_ECC_DBE_ERR").DBE(),
		fault.E(2, 12042, "NXBAR_REDUCTION_HDR_PARITY_ERR").Snap(fault.DiagTimestamp),
		fault.E(3, 12043, "NXBAR_REDUCTION_FLITTYPE_MISMATCH_ERR").Snap(fault.DiagTimestamp),
		fault.E(5, 12045, "MCRSPCTRLSTORE_ECC_DBE_ERR").DBE(),
		fault.E(7, 12047, "MCRSP_RAM_HDR_ECC_DBE_ERR").DBE(),
	)
	egress1NonFatal = func() *fault.Tree {
		t := fault.Tree{
			Block:      nvswitch.BlockEgress,
			Severity:   nvswitch.NonFatal,
			Index:      1,
			Regs:       window(regbank.EngineNPORT, 0, baseEgress1, nvswitch.NonFatal, nportFlags),
			Clock:      nvswitch.ClockNPORT,
			LinkScoped: true,
			// stale multicast response bits survive the selective clear
			QuirkBroadClear: true,
			Entries: []fault.Entry{
				fault.E(0, 12040, "NXBAR_REDUCTION_HDR_ECC_LIMIT_ERR").Limit(1, counterReg(baseEgress1, 0)),
				fault.E(4, 12044, "MCRSPCTRLSTORE_ECC_LIMIT_ERR").Limit(5, counterReg(baseEgress1, 1)),
				fault.E(6, 12046, "MCRSP_RAM_HDR_ECC_LIMIT_ERR").Limit(7, counterReg(baseEgress1, 2)),
				fault.E(8, 12048, "RBCTRLSTORE_ECC_LIMIT_ERR"),
				fault.E(9, 12049, "MCRSP_CNT_ERR").Snap(fault.DiagTimestamp),
				fault.E(10, 12050, "RBRSP_CNT_ERR").Snap(fault.DiagTimestamp),
			},
		}
		return fault.MustTree(t)
	}()

	tstateFatal = nport(nvswitch.BlockTState, nvswitch.Fatal, 0, baseTState, nportFlags,
		fault.E(0, 14001, "TAGPOOLBUFERR").Snap(fault.DiagTimestamp),
		fault.E(2, 14003, "TAGPOOL_ECC_DBE_ERR").DBE(),
		fault.E(3, 14004, "CRUMBSTOREBUFERR").Snap(fault.DiagTimestamp),
		fault.E(5, 14006, "CRUMBSTORE_ECC_DBE_ERR").DBE(),
		fault.E(6, 14017, "ATO_ERR").Snap(fault.DiagTimestamp|fault.DiagMisc),
		fault.E(7, 14018, "CAMRSP_ERR").Snap(fault.DiagTimestamp|fault.DiagHeader),
	)
	tstateNonFatal = nport(nvswitch.BlockTState, nvswitch.NonFatal, 0, baseTState, nportFlags,
		fault.E(1, 14002, "TAGPOOL_ECC_LIMIT_ERR").Limit(2, counterReg(baseTState, 0)),
		fault.E(4, 14005, "CRUMBSTORE_ECC_LIMIT_ERR").Limit(5, counterReg(baseTState, 1)),
	)

	sourceTrackFatal = nport(nvswitch.BlockSourceTrack, nvswitch.Fatal, 0, baseSourceTrack, nportFlags,
		fault.E(3, 24004, "CREQ_TCEN0_CRUMBSTORE_ECC_DBE_ERR").DBE(),
		fault.E(4, 24005, "CREQ_TCEN0_TD_CRUMBSTORE_ECC_DBE_ERR").DBE(),
		fault.E(5, 24006, "CREQ_TCEN1_CRUMBSTORE_ECC_DBE_ERR").DBE(),
		fault.E(6, 24007, "SOURCETRACK_TIME_OUT_ERR").Snap(fault.DiagTimestamp|fault.DiagMisc),
		fault.E(7, 24008, "DUP_CREQ_TCEN0_TAG_ERR").Snap(fault.DiagMisc),
		fault.E(8, 24009, "INVALID_TCEN0_RSP_ERR").Snap(fault.DiagMisc),
		fault.E(9, 24010, "INVALID_TCEN1_RSP_ERR").Snap(fault.DiagMisc),
	)
	sourceTrackNonFatal = nport(nvswitch.BlockSourceTrack, nvswitch.NonFatal, 0, baseSourceTrack, nportFlags,
		fault.E(0, 24001, "CREQ_TCEN0_CRUMBSTORE_ECC_LIMIT_ERR").Limit(3, counterReg(baseSourceTrack, 0)),
		fault.E(1, 24002, "CREQ_TCEN0_TD_CRUMBSTORE_ECC_LIMIT_ERR").Limit(4, counterReg(baseSourceTrack, 1)),
		fault.E(2, 24003, "CREQ_TCEN1_CRUMBSTORE_ECC_LIMIT_ERR").Limit(5, counterReg(baseSourceTrack, 2)),
	)

	multicastFatal, multicastNonFatal = tagStateTrees(nvswitch.BlockMulticastTState, baseMulticast, 26000)
	reductionFatal, reductionNonFatal = tagStateTrees(nvswitch.BlockReductionTState, baseReduction, 27000)
)

// tagStateTrees builds the multicast and reduction tag state trees, which
// share one bit layout.
func tagStateTrees(b nvswitch.Block, base uint32, id int) (*fault.Tree, *fault.Tree) {
	fatal := nport(b, nvswitch.Fatal, 0, base, nportFlags,
		fault.E(1, id+2, "TAGPOOL_ECC_DBE_ERR").DBE(),
		fault.E(2, id+3, "CRUMBSTORE_BUF_OVERWRITE_ERR").Snap(fault.DiagTimestamp),
		fault.E(4, id+5, "CRUMBSTORE_ECC_DBE_ERR").DBE(),
	)
	nonFatal := nport(b, nvswitch.NonFatal, 0, base, nportFlags,
		fault.E(0, id+1, "TAGPOOL_ECC_LIMIT_ERR").Limit(1, counterReg(base, 0)),
		fault.E(3, id+4, "CRUMBSTORE_ECC_LIMIT_ERR").Limit(4, counterReg(base, 1)),
		fault.E(5, id+6, "CRUMBSTORE_MCTO_ERR").Snap(fault.DiagTimestamp|fault.DiagMisc),
	)
	return fatal, nonFatal
}

// npgTrees lists the trees of one link in servicing order.
var npgTrees = []*fault.Tree{
	routeFatal, routeNonFatal,
	ingressFatal, ingressNonFatal,
	egress0Fatal, egress0NonFatal,
	egress1Fatal, egress1NonFatal,
	tstateFatal, tstateNonFatal,
	sourceTrackFatal, sourceTrackNonFatal,
	multicastFatal, multicastNonFatal,
	reductionFatal, reductionNonFatal,
}
