// Package sxid provides the NVSwitch SXid error catalog.
package sxid

import (
	"fmt"
	"sort"
)

// Class is the fabric impact of an SXid error.
// ref. https://docs.nvidia.com/datacenter/tesla/pdf/fabric-manager-user-guide.pdf
type Class uint8

const (
	// ClassNonFatal errors are corrected or contained by hardware.
	ClassNonFatal Class = iota
	// ClassPotentialFatal errors are fatal to the partitions using the port.
	ClassPotentialFatal
	// ClassAlwaysFatal errors are fatal to the entire fabric.
	ClassAlwaysFatal
)

func (c Class) String() string {
	switch c {
	case ClassNonFatal:
		return "non-fatal"
	case ClassPotentialFatal:
		return "potential-fatal"
	case ClassAlwaysFatal:
		return "always-fatal"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// Detail is the static information of one SXid.
type Detail struct {
	SXid  int    `json:"sxid"`
	Name  string `json:"name"`
	Class Class  `json:"class"`

	Description string `json:"description,omitempty"`
	Impact      string `json:"impact"`
	Recovery    string `json:"recovery"`
}

func (d Detail) PotentialFatal() bool { return d.Class >= ClassPotentialFatal }

func (d Detail) AlwaysFatal() bool { return d.Class == ClassAlwaysFatal }

// GetDetail returns the detail of an SXid, false if the id is not known.
func GetDetail(id int) (*Detail, bool) {
	d, ok := details[id]
	return &d, ok
}

// IDs returns all known SXids in ascending order.
func IDs() []int {
	ids := make([]int, 0, len(details))
	for id := range details {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

var classImpact = map[Class][2]string{
	ClassNonFatal: {
		"No guest VM impact because the NVSwitch hardware corrects or contains the error.",
		"Not Applicable.",
	},
	ClassPotentialFatal: {
		"If the error occurred on an NVSwitch access port, the impact is limited to the corresponding guest VM. On a trunk port, partitions crossing the trunk port are affected.",
		"Restart the guest VM to see if the associated NVSwitch comes back up.",
	},
	ClassAlwaysFatal: {
		"Always fatal to the entire fabric/system.",
		"Restart the host to reset the entire fabric/system.",
	},
}

type row struct {
	id    int
	name  string
	class Class
	desc  string
}

const eccLimit = "Single bit ECC errors crossed the correctable threshold; the counter is reset after the error is serviced."

var rows = []row{
	// PRI ring and host
	{10001, "Host_priv_error", ClassPotentialFatal, ""},
	{10002, "Host_priv_timeout", ClassPotentialFatal, ""},
	{10003, "Host_unhandled_interrupt", ClassAlwaysFatal, "This SXid error is never expected to occur."},
	{10006, "PRI ring connectivity fault", ClassAlwaysFatal, ""},
	{10007, "PRI ring disconnect fault", ClassAlwaysFatal, ""},
	{10008, "PRI ring overflow fault", ClassAlwaysFatal, ""},

	// ingress
	{11001, "ingress invalid command", ClassPotentialFatal, ""},
	{11002, "ingress BDF mismatch", ClassNonFatal, ""},
	{11003, "possible bubbles at ingress", ClassNonFatal, ""},
	{11004, "Ingress invalid ACL", ClassNonFatal, "This SXid error can happen only because of an incorrect FM partition configuration."},
	{11005, "ingress packet poisoned", ClassNonFatal, ""},
	{11006, "ingress ECC soft limit", ClassNonFatal, ""},
	{11007, "ingress address bounds", ClassNonFatal, ""},
	{11008, "ingress RID table config", ClassNonFatal, ""},
	{11009, "ingress invalid VCSet", ClassPotentialFatal, ""},
	{11010, "ingress RLAN table config", ClassNonFatal, ""},
	{11012, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{11013, "ingress header DBE", ClassPotentialFatal, ""},
	{11014, "ingress remap table DBE", ClassPotentialFatal, ""},
	{11015, "ingress address type", ClassNonFatal, ""},
	{11018, "ingress RID DBE", ClassPotentialFatal, ""},
	{11019, "ingress RLAN DBE", ClassPotentialFatal, ""},
	{11020, "ingress control parity", ClassPotentialFatal, ""},
	{11021, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{11022, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{11023, "Single bit ECC errors", ClassNonFatal, eccLimit},

	// egress
	{12001, "egress crossbar overflow", ClassPotentialFatal, ""},
	{12002, "egress packet route", ClassPotentialFatal, ""},
	{12020, "egress sequence ID error", ClassAlwaysFatal, ""},
	{12021, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{12022, "egress input ECC DBE error", ClassPotentialFatal, ""},
	{12023, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{12024, "egress output ECC DBE error", ClassPotentialFatal, ""},
	{12025, "egress credit overflow", ClassPotentialFatal, ""},
	{12026, "egress destination request ID error", ClassPotentialFatal, ""},
	{12027, "egress destination response ID error", ClassPotentialFatal, ""},
	{12028, "egress nonposted PRIV error", ClassNonFatal, ""},
	{12029, "egress hardware response error", ClassNonFatal, ""},
	{12030, "egress control parity error", ClassPotentialFatal, ""},
	{12031, "egress credit parity error", ClassPotentialFatal, ""},
	{12032, "egress flit type mismatch", ClassPotentialFatal, ""},
	{12033, "egress credit timeout", ClassPotentialFatal, ""},
	{12034, "egress invalid VCSet", ClassPotentialFatal, ""},
	{12040, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{12041, "egress reduction header DBE", ClassPotentialFatal, ""},
	{12042, "egress reduction header parity", ClassPotentialFatal, ""},
	{12043, "egress reduction flit type mismatch", ClassPotentialFatal, ""},
	{12044, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{12045, "egress multicast response control store DBE", ClassPotentialFatal, ""},
	{12046, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{12047, "egress multicast response RAM DBE", ClassPotentialFatal, ""},
	{12048, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{12049, "egress multicast response count", ClassNonFatal, ""},
	{12050, "egress reduction response count", ClassNonFatal, ""},

	// tstate
	{14001, "TS tag pool buffer", ClassPotentialFatal, ""},
	{14002, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{14003, "TS tag pool DBE", ClassPotentialFatal, ""},
	{14004, "TS crumbstore buffer", ClassPotentialFatal, ""},
	{14005, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{14006, "TS crumbstore DBE", ClassPotentialFatal, ""},
	{14017, "TS ATO timeout", ClassPotentialFatal, ""},
	{14018, "TS CAM response", ClassPotentialFatal, ""},

	// route
	{15001, "route buffer over/underflow", ClassPotentialFatal, ""},
	{15002, "route no port defined", ClassNonFatal, ""},
	{15003, "route invalid policy", ClassNonFatal, ""},
	{15006, "route transdone over/underflow", ClassPotentialFatal, ""},
	{15008, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{15009, "route GLT DBE", ClassPotentialFatal, ""},
	{15010, "route parity", ClassPotentialFatal, ""},
	{15011, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{15012, "route incoming DBE", ClassPotentialFatal, ""},
	{15013, "route credit parity", ClassPotentialFatal, ""},
	{15014, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{15015, "route MC route ID DBE", ClassPotentialFatal, ""},
	{15016, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{15017, "route extended MC route ID DBE", ClassPotentialFatal, ""},
	{15018, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{15019, "route RAM DBE", ClassPotentialFatal, ""},
	{15020, "route invalid MC route ID", ClassNonFatal, ""},

	// NVLTLC
	{19040, "TLC RX DL header parity", ClassPotentialFatal, ""},
	{19041, "TLC RX DL data parity", ClassPotentialFatal, ""},
	{19042, "TLC RX DL control parity", ClassPotentialFatal, ""},
	{19043, "TLC RX invalid AE", ClassPotentialFatal, ""},
	{19044, "TLC RX invalid BE", ClassPotentialFatal, ""},
	{19045, "TLC RX invalid address alignment", ClassPotentialFatal, ""},
	{19046, "TLC RX packet length", ClassPotentialFatal, ""},
	{19047, "NCISOC HDR ECC DBE Error", ClassPotentialFatal, ""},
	{19048, "NCISOC DAT ECC DBE Error", ClassPotentialFatal, ""},
	{19049, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{19050, "TLC TX NCISOC parity", ClassPotentialFatal, ""},
	{19054, "HDR RAM ECC DBE Error", ClassPotentialFatal, ""},
	{19055, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{19056, "DAT0 RAM ECC DBE Error", ClassPotentialFatal, ""},
	{19057, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{19058, "DAT1 RAM ECC DBE Error", ClassPotentialFatal, ""},
	{19059, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{19060, "CREQ RAM HDR ECC DBE Error", ClassPotentialFatal, ""},
	{19061, "CREQ RAM DAT ECC DBE Error", ClassPotentialFatal, ""},
	{19062, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{19063, "Response RAM HDR ECC DBE Error", ClassPotentialFatal, ""},
	{19064, "Response RAM DAT ECC DBE Error", ClassPotentialFatal, ""},
	{19065, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{19066, "COM RAM HDR ECC DBE Error", ClassPotentialFatal, ""},
	{19067, "COM RAM DAT ECC DBE Error", ClassPotentialFatal, ""},
	{19068, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{19069, "RSP1 RAM HDR ECC DBE Error", ClassPotentialFatal, ""},
	{19070, "RSP1 RAM DAT ECC DBE Error", ClassPotentialFatal, ""},
	{19071, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{19072, "TLC RX header overflow", ClassPotentialFatal, ""},
	{19073, "TLC RX data overflow", ClassPotentialFatal, ""},
	{19074, "TLC RX stomp detected", ClassPotentialFatal, ""},
	{19075, "TLC RX poison", ClassPotentialFatal, ""},
	{19084, "AN1 Heartbeat Timeout Error", ClassNonFatal, ""},

	// NVLDL
	{20001, "TX Replay Error", ClassNonFatal, ""},
	{20002, "TX Recovery Short", ClassNonFatal, ""},
	{20003, "TX fault RAM", ClassPotentialFatal, ""},
	{20004, "TX fault interface", ClassPotentialFatal, ""},
	{20005, "TX fault sublink change", ClassPotentialFatal, ""},
	{20006, "RX fault sublink change", ClassPotentialFatal, ""},
	{20007, "RX fault DL protocol", ClassPotentialFatal, ""},
	{20008, "RX short error rate", ClassNonFatal, ""},
	{20009, "RX long error rate", ClassNonFatal, ""},
	{20010, "RX ILA trigger", ClassNonFatal, ""},
	{20011, "RX CRC counter", ClassNonFatal, ""},
	{20033, "LTSSM Fault Down", ClassPotentialFatal, ""},
	{20034, "LTSSM Fault Up", ClassPotentialFatal, ""},
	{20035, "LTSSM protocol", ClassPotentialFatal, ""},
	{20036, "MINION request", ClassNonFatal, ""},

	// NVLIPT
	{21001, "NVLIPT sleep while active link", ClassPotentialFatal, ""},
	{21002, "NVLIPT reset sequence PHY control timeout", ClassPotentialFatal, ""},
	{21003, "NVLIPT reset sequence clock control timeout", ClassPotentialFatal, ""},
	{21004, "NVLIPT illegal link state request", ClassNonFatal, ""},
	{21005, "NVLIPT failed MINION request", ClassNonFatal, ""},
	{21006, "NVLIPT reserved request value", ClassNonFatal, ""},
	{21007, "NVLIPT link state write while busy", ClassNonFatal, ""},
	{21008, "NVLIPT link state request timeout", ClassNonFatal, ""},
	{21009, "NVLIPT write to locked system register", ClassNonFatal, ""},

	// MINION
	{22001, "Minion fatal", ClassAlwaysFatal, ""},
	{22002, "Minion non-fatal", ClassNonFatal, ""},
	{22003, "Minion Halt", ClassAlwaysFatal, ""},
	{22011, "Minion exterror", ClassAlwaysFatal, ""},
	{22012, "Minion Link NA interrupt", ClassPotentialFatal, ""},
	{22013, "Minion Link DLREQ interrupt", ClassNonFatal, ""},
	{22014, "Minion Link PMDISABLED interrupt", ClassNonFatal, ""},
	{22015, "Minion Link DLCMDFAULT interrupt", ClassPotentialFatal, ""},
	{22016, "Minion Link TLREQ interrupt", ClassNonFatal, ""},
	{22017, "Minion Link NOINIT interrupt", ClassPotentialFatal, ""},
	{22018, "Minion Link LOCAL_CONFIG_ERR interrupt", ClassPotentialFatal, ""},
	{22019, "Minion Link NEGOTIATION_CONFIG_ERR interrupt", ClassPotentialFatal, ""},
	{22020, "Minion Link BADINIT interrupt", ClassPotentialFatal, ""},
	{22021, "Minion Link PMFAIL interrupt", ClassPotentialFatal, ""},

	// crossbar
	{23001, "ingress SRC-VC buffer overflow", ClassAlwaysFatal, ""},
	{23002, "ingress SRC-VC buffer underflow", ClassAlwaysFatal, ""},
	{23003, "egress DST-VC credit overflow", ClassAlwaysFatal, ""},
	{23004, "egress DST-VC credit underflow", ClassAlwaysFatal, ""},
	{23005, "ingress packet burst error", ClassAlwaysFatal, ""},
	{23006, "ingress packet sticky error", ClassAlwaysFatal, ""},
	{23007, "possible bubbles at ingress", ClassAlwaysFatal, ""},
	{23008, "ingress packet invalid dst error", ClassAlwaysFatal, ""},
	{23009, "ingress packet parity error", ClassAlwaysFatal, ""},
	{23010, "ingress SRC-VC buffer overflow", ClassAlwaysFatal, ""},
	{23011, "ingress SRC-VC buffer underflow", ClassAlwaysFatal, ""},
	{23012, "egress DST-VC credit overflow", ClassAlwaysFatal, ""},
	{23013, "egress DST-VC credit underflow", ClassAlwaysFatal, ""},
	{23014, "ingress packet burst error", ClassAlwaysFatal, ""},
	{23015, "ingress packet sticky error", ClassAlwaysFatal, ""},
	{23016, "possible bubbles at ingress", ClassAlwaysFatal, ""},
	{23017, "ingress credit parity error", ClassAlwaysFatal, ""},

	// sourcetrack
	{24001, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{24002, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{24003, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{24004, "sourcetrack TCEN0 crubmstore DBE", ClassPotentialFatal, ""},
	{24005, "sourcetrack TCEN0 TD crubmstore DBE", ClassPotentialFatal, ""},
	{24006, "sourcetrack TCEN1 crubmstore DBE", ClassPotentialFatal, ""},
	{24007, "sourcetrack timeout error", ClassPotentialFatal, ""},
	{24008, "sourcetrack duplicate CREQ tag", ClassPotentialFatal, ""},
	{24009, "sourcetrack invalid TCEN0 response", ClassPotentialFatal, ""},
	{24010, "sourcetrack invalid TCEN1 response", ClassPotentialFatal, ""},

	// multicast tstate
	{26001, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{26002, "multicast tag pool DBE", ClassPotentialFatal, ""},
	{26003, "multicast crumbstore buffer overwrite", ClassPotentialFatal, ""},
	{26004, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{26005, "multicast crumbstore DBE", ClassPotentialFatal, ""},
	{26006, "multicast crumbstore timeout", ClassNonFatal, ""},

	// reduction tstate
	{27001, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{27002, "reduction tag pool DBE", ClassPotentialFatal, ""},
	{27003, "reduction crumbstore buffer overwrite", ClassPotentialFatal, ""},
	{27004, "Single bit ECC errors", ClassNonFatal, eccLimit},
	{27005, "reduction crumbstore DBE", ClassPotentialFatal, ""},
	{27006, "reduction crumbstore timeout", ClassNonFatal, ""},
}

var details = func() map[int]Detail {
	m := make(map[int]Detail, len(rows))
	for _, r := range rows {
		if _, dup := m[r.id]; dup {
			panic(fmt.Sprintf("duplicate SXid %d", r.id))
		}
		impact := classImpact[r.class]
		m[r.id] = Detail{
			SXid:        r.id,
			Name:        r.name,
			Class:       r.class,
			Description: r.desc,
			Impact:      impact[0],
			Recovery:    impact[1],
		}
	}
	return m
}()
